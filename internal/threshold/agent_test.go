package threshold

import (
	"log/slog"
	"math"
	"os"
	"strings"
	"testing"

	"github.com/vampirenirmal/serialist/internal/quality"
	"github.com/vampirenirmal/serialist/internal/story"
	"github.com/vampirenirmal/serialist/internal/textsig"
)

func newTestAgent() *Agent {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	extractor := textsig.NewKeywordExtractor(textsig.DefaultSignalSets(), textsig.DefaultToneSets())
	return NewAgent(DefaultConfig(), extractor, logger)
}

func terseBody() string {
	return "Mara decided. She left at dawn. The road was empty. " +
		"Ilan followed. Neither spoke. She finally confronted him at the gate."
}

func verboseBody() string {
	s := "The orchard in that season wore its customary veil of pale and shifting light which lay across the rows and rows of patient glass in a manner that suggested nothing so much as the slow accumulation of years upon years of undisturbed quiet. "
	return strings.Repeat(s, 8)
}

func TestTerseStyleLowersThreshold(t *testing.T) {
	a := newTestAgent()
	profile, adjustments := a.ProfileFor(terseBody(), nil)

	if profile.Threshold >= DefaultConfig().Default {
		t.Errorf("threshold = %.2f, want below default for terse prose", profile.Threshold)
	}
	if !hasSignal(adjustments, "terse_style") {
		t.Errorf("adjustments = %+v, want terse_style recorded", adjustments)
	}
}

func TestVerboseEmptinessRaisesThreshold(t *testing.T) {
	a := newTestAgent()
	profile, adjustments := a.ProfileFor(verboseBody(), nil)

	if profile.Threshold <= DefaultConfig().Default {
		t.Errorf("threshold = %.2f, want above default for verbose-empty prose", profile.Threshold)
	}
	if !hasSignal(adjustments, "verbose_low_motion") {
		t.Errorf("adjustments = %+v, want verbose_low_motion recorded", adjustments)
	}
}

func TestThresholdStaysInBand(t *testing.T) {
	a := newTestAgent()
	cfg := DefaultConfig()

	state := &story.StoryState{QualityHistory: []float64{5, 5, 5, 5, 5}}
	profile, _ := a.ProfileFor(terseBody(), state) // terse + low history stack downward

	if profile.Threshold < cfg.Default-cfg.Band {
		t.Errorf("threshold %.2f fell outside band [%.2f, %.2f]",
			profile.Threshold, cfg.Default-cfg.Band, cfg.Default+cfg.Band)
	}
	if profile.Threshold < cfg.HardFloor {
		t.Errorf("threshold %.2f below hard floor %.2f", profile.Threshold, cfg.HardFloor)
	}
}

func TestWeightsRenormalized(t *testing.T) {
	a := newTestAgent()

	bodies := []string{terseBody(), verboseBody(), "She felt the ache of longing, the warmth spread, her heart skipped and she blushed when their hands brushed; grief and joy and regret all at once, tender and hollow."}
	for _, body := range bodies {
		profile, _ := a.ProfileFor(body, nil)
		sum := 0.0
		for _, w := range profile.Weights {
			sum += w
		}
		if math.Abs(sum-1.0) > 1e-9 {
			t.Errorf("weights sum to %v, want 1.0 (weights %+v)", sum, profile.Weights)
		}
		if len(profile.Weights) != 4 {
			t.Errorf("weights = %+v, want all four engines", profile.Weights)
		}
	}
}

func TestEveryAdjustmentExplained(t *testing.T) {
	a := newTestAgent()
	state := &story.StoryState{QualityHistory: []float64{9.2, 9.1, 9.4}}
	_, adjustments := a.ProfileFor(verboseBody(), state)

	if len(adjustments) == 0 {
		t.Fatal("expected adjustments for verbose body with high history")
	}
	for _, adj := range adjustments {
		if adj.Signal == "" || adj.Reason == "" || adj.Target == "" {
			t.Errorf("unexplained adjustment: %+v", adj)
		}
	}
}

func TestSubThresholdsTrackComposite(t *testing.T) {
	a := newTestAgent()
	profile, _ := a.ProfileFor(terseBody(), nil)

	base := quality.DefaultProfile()
	for engine, sub := range profile.SubThresholds {
		if profile.Threshold < DefaultConfig().Default && sub >= base.SubThresholds[engine] {
			t.Errorf("engine %s sub-threshold %.2f did not follow lowered composite gate", engine, sub)
		}
	}
}

func hasSignal(adjustments []Adjustment, signal string) bool {
	for _, a := range adjustments {
		if a.Signal == signal {
			return true
		}
	}
	return false
}
