// Package quality scores candidate chapters with four independent analyzers,
// aggregates them under supplied weights, and mechanically repairs the worst
// failures before giving up.
package quality

import (
	"context"

	"github.com/vampirenirmal/serialist/internal/story"
	"github.com/vampirenirmal/serialist/internal/textsig"
)

// Engine names, also the keys of every weight and sub-threshold map.
const (
	EnginePlot      = "plot"
	EngineCharacter = "character"
	EngineLiterary  = "literary"
	EngineChemistry = "chemistry"
)

// EnginePriority orders engines for repair selection when several fail at
// once. The interleaving is a policy choice; this order fixes it.
var EnginePriority = []string{EnginePlot, EngineCharacter, EngineLiterary, EngineChemistry}

// Candidate is the unit under review.
type Candidate struct {
	Body      string
	Summary   string
	KeyEvents []string
	Tone      string
	State     *story.StoryState
}

// EngineResult is one analyzer's verdict: a 0-10 score plus indicator flags
// and concrete issues/fixes for the report.
type EngineResult struct {
	Engine string
	Score  float64
	Flags  map[string]bool
	Issues []string
	Fixes  []string
}

// Engine is one independent quality analyzer. Engines must be safe for
// concurrent use; the gateway fans all four out in parallel.
type Engine interface {
	Name() string
	Analyze(ctx context.Context, cand *Candidate) (EngineResult, error)
}

// DefaultEngines builds the four standard analyzers over one extractor.
func DefaultEngines(extractor textsig.Extractor) []Engine {
	return []Engine{
		NewPlotEngine(extractor),
		NewCharacterEngine(extractor),
		NewLiteraryEngine(extractor),
		NewChemistryEngine(extractor),
	}
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 10 {
		return 10
	}
	return s
}
