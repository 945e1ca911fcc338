// Package pacing constrains what the next chapter is allowed to do, and
// rejects candidates that resolve plot the current stage has not earned.
package pacing

import (
	"fmt"
	"log/slog"

	"github.com/vampirenirmal/serialist/internal/story"
	"github.com/vampirenirmal/serialist/internal/textsig"
	serrors "github.com/vampirenirmal/serialist/pkg/serial/errors"
)

// Constraints is the bundle handed to the prompt composer before generation.
type Constraints struct {
	Stage              story.Stage
	AllowedTones       []string
	StagnationDenylist []string
	TargetWords        int
	ExpectedBeats      []string
}

// ViolationKind tags why a candidate was rejected.
type ViolationKind string

const (
	ViolationStagnation          ViolationKind = "stagnation"
	ViolationPrematureResolution ViolationKind = "premature_resolution"
)

type Violation struct {
	Kind   ViolationKind
	Detail string
}

// Assessment is the post-generation re-validation result. ToneDrift and
// ProgressDelta are advisory; Violations block the commit.
type Assessment struct {
	StagnationCount int
	ForwardMotion   int
	Tone            string
	ToneAllowed     bool
	ProgressDelta   float64
	Violations      []Violation
}

func (a *Assessment) Violated() bool {
	return len(a.Violations) > 0
}

type Config struct {
	// MaxStagnationMarkers is the denylist hit count that, combined with
	// zero forward motion, rejects a chapter.
	MaxStagnationMarkers int
	// BaseProgressPerChapter anchors the recomputed progress increment.
	BaseProgressPerChapter float64
	// MaxProgressPerChapter caps how much plot a single chapter may burn.
	MaxProgressPerChapter float64
}

func DefaultConfig() Config {
	return Config{
		MaxStagnationMarkers:   3,
		BaseProgressPerChapter: 1.5,
		MaxProgressPerChapter:  8.0,
	}
}

// Controller is the stage/milestone state machine. Stage transitions
// themselves live in the story package (forward-only on progress
// boundaries); the controller owns the per-stage constraint tables and
// candidate validation.
type Controller struct {
	cfg       Config
	extractor textsig.Extractor
	logger    *slog.Logger
}

func NewController(cfg Config, extractor textsig.Extractor, logger *slog.Logger) *Controller {
	return &Controller{
		cfg:       cfg,
		extractor: extractor,
		logger:    logger.With("component", "pacing"),
	}
}

var stageTones = map[story.Stage][]string{
	story.StageIntroduction: {"tender", "joyful", "wistful", "neutral"},
	story.StageDevelopment:  {"tense", "wistful", "tender", "melancholy", "neutral"},
	story.StageClimax:       {"tense", "melancholy", "neutral"},
	story.StageResolution:   {"tender", "joyful", "wistful"},
}

var stageBeats = map[story.Stage][]string{
	story.StageIntroduction: {
		"establish the leads and the world's cost",
		"plant the hook that will pay off later",
	},
	story.StageDevelopment: {
		"escalate the central conflict without resolving it",
		"deepen the relationship one believable step",
	},
	story.StageClimax: {
		"force the confrontation the development promised",
		"make the cost of the choice visible",
	},
	story.StageResolution: {
		"pay off the planted hints",
		"land the emotional resolution",
	},
}

var stageTargetWords = map[story.Stage]int{
	story.StageIntroduction: 1800,
	story.StageDevelopment:  2200,
	story.StageClimax:       2600,
	story.StageResolution:   2000,
}

// ConstraintsFor emits the constraint bundle for the chapter about to be
// generated, based on the work's current stage.
func (c *Controller) ConstraintsFor(state *story.StoryState) *Constraints {
	stage := state.Stage
	return &Constraints{
		Stage:              stage,
		AllowedTones:       stageTones[stage],
		StagnationDenylist: textsig.DefaultSignalSets()[textsig.Stagnation],
		TargetWords:        stageTargetWords[stage],
		ExpectedBeats:      stageBeats[stage],
	}
}

// Validate re-checks a generated candidate body against the stage it was
// generated for. A violation means the candidate must not reach the quality
// gateway, let alone commit.
func (c *Controller) Validate(state *story.StoryState, body string) (*Assessment, error) {
	profile := c.extractor.Extract(body)
	cons := c.ConstraintsFor(state)

	a := &Assessment{
		StagnationCount: profile.Count(textsig.Stagnation),
		ForwardMotion:   profile.Count(textsig.ForwardMotion),
		Tone:            profile.EmotionalTone,
		ToneAllowed:     toneAllowed(profile.EmotionalTone, cons.AllowedTones),
		ProgressDelta:   c.progressDelta(profile),
	}

	if a.StagnationCount >= c.cfg.MaxStagnationMarkers && a.ForwardMotion == 0 {
		a.Violations = append(a.Violations, Violation{
			Kind: ViolationStagnation,
			Detail: fmt.Sprintf("%d stagnation markers and no forward motion",
				a.StagnationCount),
		})
	}

	resolutionMarkers := profile.Count(textsig.Resolution)
	switch state.Stage {
	case story.StageIntroduction, story.StageDevelopment:
		if resolutionMarkers > 0 {
			a.Violations = append(a.Violations, Violation{
				Kind: ViolationPrematureResolution,
				Detail: fmt.Sprintf("%d resolution events during %s stage",
					resolutionMarkers, state.Stage),
			})
		}
	case story.StageClimax:
		// A single resolving beat is legitimate this close to the end;
		// wrapping everything up is not.
		if resolutionMarkers > 1 {
			a.Violations = append(a.Violations, Violation{
				Kind:   ViolationPrematureResolution,
				Detail: fmt.Sprintf("%d resolution events during climax stage", resolutionMarkers),
			})
		}
	}

	if a.Violated() {
		c.logger.Warn("pacing violation",
			"work_id", state.Work.ID,
			"stage", state.Stage,
			"stagnation", a.StagnationCount,
			"forward_motion", a.ForwardMotion,
			"violations", len(a.Violations))
		return a, fmt.Errorf("%w: %s", serrors.ErrPacingViolation, a.Violations[0].Detail)
	}

	c.logger.Debug("pacing check passed",
		"work_id", state.Work.ID,
		"stage", state.Stage,
		"tone", a.Tone,
		"tone_allowed", a.ToneAllowed,
		"progress_delta", a.ProgressDelta)
	return a, nil
}

// progressDelta recomputes the plot-progress increment from detected
// escalation and forward motion rather than trusting the generator.
func (c *Controller) progressDelta(p textsig.Profile) float64 {
	delta := c.cfg.BaseProgressPerChapter +
		0.5*float64(p.Count(textsig.ForwardMotion)) +
		0.8*float64(p.Count(textsig.Escalation))
	if delta > c.cfg.MaxProgressPerChapter {
		delta = c.cfg.MaxProgressPerChapter
	}
	return delta
}

func toneAllowed(tone string, allowed []string) bool {
	if tone == "neutral" {
		return true
	}
	for _, t := range allowed {
		if t == tone {
			return true
		}
	}
	return false
}
