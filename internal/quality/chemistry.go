package quality

import (
	"context"

	"github.com/vampirenirmal/serialist/internal/story"
	"github.com/vampirenirmal/serialist/internal/textsig"
)

// ChemistryEngine scores relationship tension, emotional depth, and
// progression relative to where the arc ought to be at the current stage.
type ChemistryEngine struct {
	extractor textsig.Extractor
}

func NewChemistryEngine(extractor textsig.Extractor) *ChemistryEngine {
	return &ChemistryEngine{extractor: extractor}
}

func (e *ChemistryEngine) Name() string { return EngineChemistry }

// Expected romance-marker density per stage, per thousand words. Early
// chapters simmer; the climax burns.
var expectedRomanceDensity = map[story.Stage]float64{
	story.StageIntroduction: 1.0,
	story.StageDevelopment:  2.0,
	story.StageClimax:       3.0,
	story.StageResolution:   2.5,
}

func (e *ChemistryEngine) Analyze(ctx context.Context, cand *Candidate) (EngineResult, error) {
	p := e.extractor.Extract(cand.Body)

	tension := p.Density(textsig.Tension)
	depth := p.Density(textsig.EmotionalDepth)
	romance := p.Density(textsig.RomanceMarker)

	stage := story.StageDevelopment
	if cand.State != nil {
		stage = cand.State.Stage
	}
	expected := expectedRomanceDensity[stage]

	// Progression is scored on distance from the stage's expected arc
	// position: too cold and too rushed both lose points.
	progressionScore := 3.0
	gap := romance - expected
	switch {
	case gap < -expected*0.8:
		progressionScore = 0.5
	case gap < -expected*0.4:
		progressionScore = 1.5
	case gap > expected*1.5:
		progressionScore = 1.5
	}

	score := 2.0 + min(3.0, tension*1.2) + min(2.0, depth*0.8) + progressionScore

	result := EngineResult{
		Engine: EngineChemistry,
		Score:  clampScore(score),
		Flags: map[string]bool{
			"tension_present": tension > 0,
			"emotionally_flat": depth == 0,
			"arc_behind":       gap < -expected*0.4,
			"arc_rushed":       gap > expected*1.5,
		},
	}

	if tension == 0 {
		result.Issues = append(result.Issues, "no relationship tension indicators")
		result.Fixes = append(result.Fixes, "heighten tension between the leads")
	}
	if depth == 0 {
		result.Issues = append(result.Issues, "no emotional interiority")
		result.Fixes = append(result.Fixes, "let a lead register what this costs them")
	}
	if gap < -expected*0.4 {
		result.Issues = append(result.Issues, "relationship arc lagging the stage")
	}
	if gap > expected*1.5 {
		result.Issues = append(result.Issues, "relationship arc rushing ahead of the stage")
	}

	return result, nil
}
