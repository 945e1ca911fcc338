package quality

import (
	"context"
	"strings"

	"github.com/vampirenirmal/serialist/internal/story"
	"github.com/vampirenirmal/serialist/internal/textsig"
)

// CharacterEngine scores agency/passivity balance, dialogue diversity, and
// personality consistency with the cast's stable traits.
type CharacterEngine struct {
	extractor textsig.Extractor
}

func NewCharacterEngine(extractor textsig.Extractor) *CharacterEngine {
	return &CharacterEngine{extractor: extractor}
}

func (e *CharacterEngine) Name() string { return EngineCharacter }

func (e *CharacterEngine) Analyze(ctx context.Context, cand *Candidate) (EngineResult, error) {
	p := e.extractor.Extract(cand.Body)

	agency := p.Count(textsig.Agency)
	passivity := p.Count(textsig.Passivity)
	agencyBalance := 0.5
	if agency+passivity > 0 {
		agencyBalance = float64(agency) / float64(agency+passivity)
	}

	diversity := dialogueDiversity(p.DialogueLines)
	presence := castPresence(cand)

	score := 4.0
	score += agencyBalance * 3.0
	score += diversity * 2.0
	score += presence * 2.0
	if len(p.DialogueLines) == 0 {
		score -= 1.0
	}

	result := EngineResult{
		Engine: EngineCharacter,
		Score:  clampScore(score),
		Flags: map[string]bool{
			"protagonist_acts":  agency > 0,
			"mostly_passive":    passivity > agency && passivity > 1,
			"dialogue_present":  len(p.DialogueLines) > 0,
			"dialogue_repeated": diversity < 0.8 && len(p.DialogueLines) > 2,
		},
	}

	if passivity > agency && passivity > 1 {
		result.Issues = append(result.Issues, "cast is mostly acted upon rather than acting")
		result.Fixes = append(result.Fixes, "give the protagonist an active choice")
	}
	if diversity < 0.8 && len(p.DialogueLines) > 2 {
		result.Issues = append(result.Issues, "repeated dialogue lines")
		result.Fixes = append(result.Fixes, "diversify repeated utterances")
	}
	if presence < 0.5 {
		result.Issues = append(result.Issues, "established cast barely appears")
		result.Fixes = append(result.Fixes, "anchor the scene on the leads")
	}

	return result, nil
}

// dialogueDiversity is the fraction of dialogue lines that are distinct.
func dialogueDiversity(lines []string) float64 {
	if len(lines) == 0 {
		return 1.0
	}
	distinct := make(map[string]struct{}, len(lines))
	for _, l := range lines {
		distinct[strings.ToLower(strings.TrimSpace(l))] = struct{}{}
	}
	return float64(len(distinct)) / float64(len(lines))
}

// castPresence is the fraction of the protagonist/counterpart cast whose
// names appear in the body.
func castPresence(cand *Candidate) float64 {
	if cand.State == nil || len(cand.State.Characters) == 0 {
		return 1.0
	}
	body := strings.ToLower(cand.Body)
	leads, present := 0, 0
	for _, c := range cand.State.Characters {
		if c.Role == story.RoleSupporting {
			continue
		}
		leads++
		if strings.Contains(body, strings.ToLower(c.Name)) {
			present++
		}
	}
	if leads == 0 {
		return 1.0
	}
	return float64(present) / float64(leads)
}
