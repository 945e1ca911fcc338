// Package threshold recomputes the quality gate per candidate: a fixed
// global threshold fails terse understatement and passes verbose emptiness,
// so the gate adapts — within a bounded, explainable band.
package threshold

import (
	"log/slog"

	"github.com/vampirenirmal/serialist/internal/quality"
	"github.com/vampirenirmal/serialist/internal/story"
	"github.com/vampirenirmal/serialist/internal/textsig"
)

// Adjustment records one bounded change and the signal that caused it.
// Every deviation from the configured default must be traceable to one of
// these.
type Adjustment struct {
	Signal string  `json:"signal"`
	Target string  `json:"target"`
	Delta  float64 `json:"delta"`
	Reason string  `json:"reason"`
}

type Config struct {
	// Default is the configured composite threshold.
	Default float64
	// Band bounds how far the adjusted threshold may drift from Default.
	Band float64
	// HardFloor is the absolute minimum the threshold may reach.
	HardFloor float64
	// AcceptableFloor is the degraded-accept floor passed through to the
	// gateway profile.
	AcceptableFloor float64
	// MaxAttempts is the gateway's improve-and-reverify cap.
	MaxAttempts int
}

func DefaultConfig() Config {
	return Config{
		Default:         8.0,
		Band:            0.5,
		HardFloor:       7.0,
		AcceptableFloor: 7.0,
		MaxAttempts:     3,
	}
}

// Agent produces an adjusted scoring profile from the candidate's linguistic
// characteristics, the genre arc position, and recent score history.
type Agent struct {
	cfg       Config
	extractor textsig.Extractor
	logger    *slog.Logger
}

func NewAgent(cfg Config, extractor textsig.Extractor, logger *slog.Logger) *Agent {
	return &Agent{
		cfg:       cfg,
		extractor: extractor,
		logger:    logger.With("component", "threshold_agent"),
	}
}

// ProfileFor computes the scoring profile for one candidate body.
func (a *Agent) ProfileFor(body string, state *story.StoryState) (quality.Profile, []Adjustment) {
	p := a.extractor.Extract(body)
	base := quality.DefaultProfile()
	var adjustments []Adjustment

	threshold := a.cfg.Default

	// Terse understatement: short sentences and sparse figurative texture,
	// but real forward motion. The style scores low mechanically while
	// doing its job; ease the gate.
	if p.AvgSentenceLength > 0 && p.AvgSentenceLength < 12 &&
		p.Density(textsig.Figurative) < 1.0 && p.Count(textsig.ForwardMotion) > 0 {
		threshold -= 0.3
		adjustments = append(adjustments, Adjustment{
			Signal: "terse_style",
			Target: "threshold",
			Delta:  -0.3,
			Reason: "short sentences with forward motion; understatement idiom",
		})
	}

	// Verbose emptiness: long sentences, big word count, little motion.
	// These score deceptively well on texture metrics; tighten the gate.
	if p.AvgSentenceLength > 22 && p.Density(textsig.ForwardMotion) < 1.0 {
		threshold += 0.3
		adjustments = append(adjustments, Adjustment{
			Signal: "verbose_low_motion",
			Target: "threshold",
			Delta:  0.3,
			Reason: "long sentences with little forward motion",
		})
	}

	// Score history: a run of near-misses means the gate is miscalibrated
	// for this work's idiom, not that every chapter is bad.
	if avg, ok := historyAverage(state); ok {
		switch {
		case avg < a.cfg.Default-1.0:
			threshold -= 0.2
			adjustments = append(adjustments, Adjustment{
				Signal: "history_low",
				Target: "threshold",
				Delta:  -0.2,
				Reason: "recent composites persistently below default",
			})
		case avg > a.cfg.Default+0.8:
			threshold += 0.2
			adjustments = append(adjustments, Adjustment{
				Signal: "history_high",
				Target: "threshold",
				Delta:  0.2,
				Reason: "recent composites comfortably above default",
			})
		}
	}

	threshold = a.clampThreshold(threshold)

	// Weight shifts follow the genre signal: emotionally dense chapters
	// answer to the chemistry engine, event-dense ones to plot.
	weights := copyWeights(base.Weights)
	if p.Density(textsig.EmotionalDepth)+p.Density(textsig.RomanceMarker) > 4.0 {
		weights[quality.EngineChemistry] += 0.05
		weights[quality.EngineLiterary] -= 0.05
		adjustments = append(adjustments, Adjustment{
			Signal: "emotional_density",
			Target: "weights",
			Delta:  0.05,
			Reason: "emotion-led chapter; chemistry weight raised",
		})
	}
	if p.Density(textsig.Escalation) > 2.0 {
		weights[quality.EnginePlot] += 0.05
		weights[quality.EngineCharacter] -= 0.05
		adjustments = append(adjustments, Adjustment{
			Signal: "escalation_density",
			Target: "weights",
			Delta:  0.05,
			Reason: "event-led chapter; plot weight raised",
		})
	}
	normalizeWeights(weights)

	// Sub-thresholds track the composite gate proportionally.
	subs := make(map[string]float64, len(base.SubThresholds))
	scale := threshold / a.cfg.Default
	for engine, sub := range base.SubThresholds {
		subs[engine] = sub * scale
	}

	profile := quality.Profile{
		Threshold:       threshold,
		AcceptableFloor: a.cfg.AcceptableFloor,
		Weights:         weights,
		SubThresholds:   subs,
		MaxAttempts:     a.cfg.MaxAttempts,
	}

	a.logger.Debug("adjusted scoring profile",
		"threshold", threshold,
		"default", a.cfg.Default,
		"adjustments", len(adjustments))

	return profile, adjustments
}

func (a *Agent) clampThreshold(t float64) float64 {
	if t > a.cfg.Default+a.cfg.Band {
		t = a.cfg.Default + a.cfg.Band
	}
	if t < a.cfg.Default-a.cfg.Band {
		t = a.cfg.Default - a.cfg.Band
	}
	if t < a.cfg.HardFloor {
		t = a.cfg.HardFloor
	}
	return t
}

func historyAverage(state *story.StoryState) (float64, bool) {
	if state == nil || len(state.QualityHistory) < 3 {
		return 0, false
	}
	sum := 0.0
	for _, s := range state.QualityHistory {
		sum += s
	}
	return sum / float64(len(state.QualityHistory)), true
}

func copyWeights(w map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

func normalizeWeights(w map[string]float64) {
	sum := 0.0
	for _, v := range w {
		sum += v
	}
	if sum == 0 {
		return
	}
	for k := range w {
		w[k] /= sum
	}
}
