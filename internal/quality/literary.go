package quality

import (
	"context"

	"github.com/vampirenirmal/serialist/internal/textsig"
)

// LiteraryEngine scores vocabulary diversity, sensory and figurative
// density, and rhythm variation across sentence lengths.
type LiteraryEngine struct {
	extractor textsig.Extractor
}

func NewLiteraryEngine(extractor textsig.Extractor) *LiteraryEngine {
	return &LiteraryEngine{extractor: extractor}
}

func (e *LiteraryEngine) Name() string { return EngineLiterary }

func (e *LiteraryEngine) Analyze(ctx context.Context, cand *Candidate) (EngineResult, error) {
	p := e.extractor.Extract(cand.Body)

	// Vocabulary diversity peaks in the 0.4-0.7 band for prose of this
	// length; both word-salad and word-poverty lose points.
	vocabScore := 0.0
	switch {
	case p.VocabularyDiversity >= 0.4 && p.VocabularyDiversity <= 0.7:
		vocabScore = 3.0
	case p.VocabularyDiversity >= 0.3:
		vocabScore = 2.0
	default:
		vocabScore = 0.5
	}

	sensory := p.Density(textsig.Sensory)
	figurative := p.Density(textsig.Figurative)
	imageryScore := min(3.0, sensory*0.6+figurative*0.5)

	// Rhythm: monotone sentence length reads flat. A standard deviation
	// above ~4 words earns full marks.
	rhythmScore := min(3.0, p.SentenceLengthStdDev*0.75)

	score := 1.0 + vocabScore + imageryScore + rhythmScore

	result := EngineResult{
		Engine: EngineLiterary,
		Score:  clampScore(score),
		Flags: map[string]bool{
			"flat_rhythm":     p.SentenceLengthStdDev < 2.0 && p.SentenceCount > 5,
			"sparse_imagery":  sensory+figurative < 1.0,
			"narrow_lexicon":  p.VocabularyDiversity < 0.3,
		},
	}

	if p.SentenceLengthStdDev < 2.0 && p.SentenceCount > 5 {
		result.Issues = append(result.Issues, "monotone sentence rhythm")
		result.Fixes = append(result.Fixes, "vary sentence length")
	}
	if sensory+figurative < 1.0 {
		result.Issues = append(result.Issues, "little sensory or figurative texture")
		result.Fixes = append(result.Fixes, "ground the scene in concrete detail")
	}
	if p.VocabularyDiversity < 0.3 {
		result.Issues = append(result.Issues, "narrow vocabulary")
	}

	return result, nil
}
