package quality

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vampirenirmal/serialist/internal/story"
	serrors "github.com/vampirenirmal/serialist/pkg/serial/errors"
)

// Profile carries the scoring knobs for one review: the active threshold,
// engine weights, and per-engine sub-thresholds. DynamicThresholdAgent
// produces adjusted profiles; DefaultProfile is the configured baseline.
type Profile struct {
	Threshold       float64
	AcceptableFloor float64
	Weights         map[string]float64
	SubThresholds   map[string]float64
	MaxAttempts     int
}

func DefaultProfile() Profile {
	return Profile{
		Threshold:       8.0,
		AcceptableFloor: 7.0,
		Weights: map[string]float64{
			EnginePlot:      0.30,
			EngineCharacter: 0.25,
			EngineLiterary:  0.25,
			EngineChemistry: 0.20,
		},
		SubThresholds: map[string]float64{
			EnginePlot:      6.0,
			EngineCharacter: 5.5,
			EngineLiterary:  5.5,
			EngineChemistry: 5.0,
		},
		MaxAttempts: 3,
	}
}

// Review is the gateway's verdict: the (possibly repaired) body, the final
// report, and the full attempt history for the audit log.
type Review struct {
	Body     string
	Report   *story.QualityReport
	Accepted bool
	Degraded bool
	Attempts []*story.QualityReport
}

// Gateway runs the four analyzers concurrently, aggregates under the
// profile's weights, and drives the improve-and-reverify loop.
type Gateway struct {
	engines []Engine
	logger  *slog.Logger
}

func NewGateway(engines []Engine, logger *slog.Logger) *Gateway {
	return &Gateway{
		engines: engines,
		logger:  logger.With("component", "quality_gateway"),
	}
}

// Aggregate computes the composite: the weighted sum of sub-scores under the
// supplied weights, clamped to [0,10]. Pure, so re-running it on the same
// inputs is idempotent.
func Aggregate(scores map[string]float64, weights map[string]float64) float64 {
	composite := 0.0
	for engine, score := range scores {
		composite += score * weights[engine]
	}
	return clampScore(composite)
}

// GradeFor maps a composite onto the grade bands around the active threshold.
func GradeFor(composite, threshold float64) story.GradeBand {
	switch {
	case composite >= 9.5:
		return story.GradePerfect
	case composite >= 8.5:
		return story.GradeExcellent
	case composite >= threshold:
		return story.GradeGood
	case composite >= 5.0:
		return story.GradePoor
	default:
		return story.GradeCritical
	}
}

// Review scores the candidate, repairing and re-scoring up to the profile's
// attempt cap. A candidate that never clears the threshold but clears the
// acceptable floor is returned accepted-but-degraded; below the floor the
// review fails with ErrQualityThreshold.
func (g *Gateway) Review(ctx context.Context, cand *Candidate, profile Profile) (*Review, error) {
	review := &Review{Body: cand.Body}
	var bestComposite float64 = -1

	for attempt := 1; attempt <= profile.MaxAttempts; attempt++ {
		results, err := g.analyzeAll(ctx, cand)
		if err != nil {
			return nil, fmt.Errorf("analyzer fan-out: %w", err)
		}

		report := buildReport(results, profile, attempt)
		review.Attempts = append(review.Attempts, report)

		g.logger.Debug("scored attempt",
			"attempt", attempt,
			"composite", report.Composite,
			"threshold", profile.Threshold,
			"grade", report.Grade)

		if report.Composite > bestComposite {
			bestComposite = report.Composite
			review.Body = cand.Body
			review.Report = report
		}

		if report.Passed {
			review.Accepted = true
			g.logger.Info("quality review passed",
				"attempt", attempt,
				"composite", report.Composite,
				"grade", report.Grade)
			return review, nil
		}

		if attempt == profile.MaxAttempts {
			break
		}

		repaired := g.repair(cand.Body, cand.State, results, profile)
		if repaired == cand.Body {
			// Nothing left to transform; further attempts would re-score
			// the identical text.
			break
		}
		cand = &Candidate{
			Body:      repaired,
			Summary:   cand.Summary,
			KeyEvents: cand.KeyEvents,
			Tone:      cand.Tone,
			State:     cand.State,
		}
	}

	if bestComposite >= profile.AcceptableFloor {
		review.Accepted = true
		review.Degraded = true
		g.logger.Warn("accepting best-effort chapter below threshold",
			"composite", bestComposite,
			"threshold", profile.Threshold,
			"floor", profile.AcceptableFloor,
			"attempts", len(review.Attempts))
		return review, nil
	}

	g.logger.Error("quality threshold failure",
		"best_composite", bestComposite,
		"floor", profile.AcceptableFloor,
		"attempts", len(review.Attempts))
	return review, fmt.Errorf("%w: best composite %.2f below floor %.2f after %d attempts",
		serrors.ErrQualityThreshold, bestComposite, profile.AcceptableFloor, len(review.Attempts))
}

// analyzeAll fans the four engines out concurrently and joins before
// aggregation. This is the pipeline's only internal parallelism.
func (g *Gateway) analyzeAll(ctx context.Context, cand *Candidate) (map[string]EngineResult, error) {
	results := make(map[string]EngineResult, len(g.engines))
	var mu sync.Mutex

	eg, ctx := errgroup.WithContext(ctx)
	for _, engine := range g.engines {
		engine := engine
		eg.Go(func() error {
			result, err := engine.Analyze(ctx, cand)
			if err != nil {
				return fmt.Errorf("engine %s: %w", engine.Name(), err)
			}
			mu.Lock()
			results[engine.Name()] = result
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func buildReport(results map[string]EngineResult, profile Profile, attempt int) *story.QualityReport {
	scores := make(map[string]float64, len(results))
	var issues, fixes []string
	for _, name := range EnginePriority {
		result, ok := results[name]
		if !ok {
			continue
		}
		scores[name] = result.Score
		issues = append(issues, result.Issues...)
		fixes = append(fixes, result.Fixes...)
	}

	composite := Aggregate(scores, profile.Weights)
	return &story.QualityReport{
		Scores:    scores,
		Composite: composite,
		Grade:     GradeFor(composite, profile.Threshold),
		Passed:    composite >= profile.Threshold,
		Threshold: profile.Threshold,
		Issues:    issues,
		Fixes:     fixes,
		Attempt:   attempt,
	}
}

// repair picks the lowest-scoring engines, priority-ordered on ties, and
// applies their transform sets to the body.
func (g *Gateway) repair(body string, state *story.StoryState, results map[string]EngineResult, profile Profile) string {
	type scored struct {
		name   string
		result EngineResult
	}
	var failing []scored
	for _, name := range EnginePriority {
		result, ok := results[name]
		if !ok {
			continue
		}
		if result.Score < profile.SubThresholds[name] || result.Score < profile.Threshold {
			failing = append(failing, scored{name, result})
		}
	}
	if len(failing) == 0 {
		return body
	}

	priorityIndex := make(map[string]int, len(EnginePriority))
	for i, name := range EnginePriority {
		priorityIndex[name] = i
	}
	sort.SliceStable(failing, func(i, j int) bool {
		if failing[i].result.Score != failing[j].result.Score {
			return failing[i].result.Score < failing[j].result.Score
		}
		return priorityIndex[failing[i].name] < priorityIndex[failing[j].name]
	})

	// At most the two worst engines repair per attempt; broader surgery
	// tends to fight itself.
	if len(failing) > 2 {
		failing = failing[:2]
	}

	for _, f := range failing {
		for _, action := range repairsFor(f.result) {
			before := body
			body = Apply(action, body, state)
			if body != before {
				g.logger.Debug("applied repair",
					"action", action.Kind.String(),
					"engine", action.Engine,
					"reason", action.Reason)
			}
		}
	}
	return body
}
