package quality

import (
	"context"
	"strings"

	"github.com/vampirenirmal/serialist/internal/textsig"
)

// PlotEngine scores forward motion, conflict escalation, repetition against
// prior chapters, and the count of genuinely new elements.
type PlotEngine struct {
	extractor textsig.Extractor
}

func NewPlotEngine(extractor textsig.Extractor) *PlotEngine {
	return &PlotEngine{extractor: extractor}
}

func (e *PlotEngine) Name() string { return EnginePlot }

func (e *PlotEngine) Analyze(ctx context.Context, cand *Candidate) (EngineResult, error) {
	p := e.extractor.Extract(cand.Body)

	forward := p.Count(textsig.ForwardMotion)
	escalation := p.Count(textsig.Escalation)
	stagnation := p.Count(textsig.Stagnation)
	repetition := priorRepetitionRate(cand)
	internalRep := duplicateSentenceRate(cand.Body)

	score := 5.0
	score += min(3.0, float64(forward)*0.8)
	score += min(2.0, float64(escalation)*0.7)
	score += min(1.0, float64(len(cand.KeyEvents))*0.5)
	score -= min(3.0, float64(stagnation)*1.0)
	score -= repetition * 4.0
	score -= internalRep * 4.0

	result := EngineResult{
		Engine: EnginePlot,
		Score:  clampScore(score),
		Flags: map[string]bool{
			"has_forward_motion": forward > 0,
			"escalates_conflict": escalation > 0,
			"repetitive":         repetition > 0.3 || internalRep > 0.1,
			"stagnant":           stagnation > 0 && forward == 0,
		},
	}

	if forward == 0 {
		result.Issues = append(result.Issues, "no forward-motion events detected")
		result.Fixes = append(result.Fixes, "inject a decision, discovery or confrontation")
	}
	if repetition > 0.3 {
		result.Issues = append(result.Issues, "heavy overlap with prior chapter content")
		result.Fixes = append(result.Fixes, "replace recapped material with new development")
	}
	if internalRep > 0.1 {
		result.Issues = append(result.Issues, "repeated phrasing within the chapter")
		result.Fixes = append(result.Fixes, "deduplicate repeated sentences")
	}
	if stagnation > 0 {
		result.Issues = append(result.Issues, "stagnation markers present")
	}

	return result, nil
}

// priorRepetitionRate measures how much of the candidate recaps recent
// chapter summaries, as the fraction of summary 4-grams reappearing in the
// body.
func priorRepetitionRate(cand *Candidate) float64 {
	if cand.State == nil || len(cand.State.RecentSummaries) == 0 {
		return 0
	}
	body := strings.ToLower(cand.Body)
	total, hits := 0, 0
	for _, summary := range cand.State.RecentSummaries {
		words := strings.Fields(strings.ToLower(summary))
		for i := 0; i+4 <= len(words); i++ {
			total++
			if strings.Contains(body, strings.Join(words[i:i+4], " ")) {
				hits++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

func duplicateSentenceRate(body string) float64 {
	sentences := strings.FieldsFunc(body, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
	if len(sentences) < 2 {
		return 0
	}
	seen := make(map[string]bool, len(sentences))
	dups := 0
	counted := 0
	for _, s := range sentences {
		norm := strings.ToLower(strings.TrimSpace(s))
		if len(strings.Fields(norm)) < 4 {
			continue
		}
		counted++
		if seen[norm] {
			dups++
		}
		seen[norm] = true
	}
	if counted == 0 {
		return 0
	}
	return float64(dups) / float64(counted)
}
