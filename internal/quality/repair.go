package quality

import (
	"fmt"
	"strings"

	"github.com/vampirenirmal/serialist/internal/story"
)

// RepairKind is the tagged variant for mechanical improvement transforms.
// The switch in Apply is the single dispatch point, so adding a kind without
// handling it is caught in review rather than at runtime.
type RepairKind int

const (
	RepairInjectEvent RepairKind = iota
	RepairDeduplicate
	RepairDiversifyDialogue
	RepairVarySentences
	RepairHeightenTension
)

func (k RepairKind) String() string {
	switch k {
	case RepairInjectEvent:
		return "inject_event"
	case RepairDeduplicate:
		return "deduplicate"
	case RepairDiversifyDialogue:
		return "diversify_dialogue"
	case RepairVarySentences:
		return "vary_sentences"
	case RepairHeightenTension:
		return "heighten_tension"
	}
	return "unknown"
}

// RepairAction pairs a transform with the engine whose failure requested it.
type RepairAction struct {
	Kind   RepairKind
	Engine string
	Reason string
}

// repairsFor maps a failing engine to its bounded transform set.
func repairsFor(result EngineResult) []RepairAction {
	var actions []RepairAction
	add := func(kind RepairKind, reason string) {
		actions = append(actions, RepairAction{Kind: kind, Engine: result.Engine, Reason: reason})
	}

	switch result.Engine {
	case EnginePlot:
		if !result.Flags["has_forward_motion"] || result.Flags["stagnant"] {
			add(RepairInjectEvent, "no forward motion")
		}
		if result.Flags["repetitive"] {
			add(RepairDeduplicate, "repeated phrasing")
		}
	case EngineCharacter:
		if result.Flags["dialogue_repeated"] {
			add(RepairDiversifyDialogue, "repeated dialogue")
		}
		if result.Flags["mostly_passive"] {
			add(RepairInjectEvent, "passive cast")
		}
	case EngineLiterary:
		if result.Flags["flat_rhythm"] {
			add(RepairVarySentences, "monotone rhythm")
		}
		if result.Flags["sparse_imagery"] {
			add(RepairHeightenTension, "flat texture")
		}
	case EngineChemistry:
		if !result.Flags["tension_present"] || result.Flags["emotionally_flat"] {
			add(RepairHeightenTension, "no relationship tension")
		}
	}
	return actions
}

// Apply runs one mechanical transform over the body. Transforms are
// deterministic text surgery, not generator calls: cheap, bounded, and
// always safe to re-score.
func Apply(action RepairAction, body string, state *story.StoryState) string {
	switch action.Kind {
	case RepairInjectEvent:
		return injectEvent(body, state)
	case RepairDeduplicate:
		return deduplicateSentences(body)
	case RepairDiversifyDialogue:
		return dropRepeatedDialogue(body)
	case RepairVarySentences:
		return varySentences(body)
	case RepairHeightenTension:
		return heightenTension(body, state)
	}
	return body
}

func protagonistName(state *story.StoryState) string {
	if state != nil {
		for _, c := range state.Characters {
			if c.Role == story.RoleProtagonist {
				return c.Name
			}
		}
	}
	return "She"
}

func injectEvent(body string, state *story.StoryState) string {
	name := protagonistName(state)
	event := fmt.Sprintf(
		" Then %s decided to act: for the first time she confronted what she had been avoiding, and the shape of things shifted.",
		name)
	return strings.TrimRight(body, " \n") + event
}

func heightenTension(body string, state *story.StoryState) string {
	name := protagonistName(state)
	beat := fmt.Sprintf(
		" %s's heart pounded; the air between them drew taut, and she felt the warmth spread before she dared not name it.",
		name)
	return strings.TrimRight(body, " \n") + beat
}

func deduplicateSentences(body string) string {
	sentences := splitKeepingDelims(body)
	seen := make(map[string]bool, len(sentences))
	var out []string
	for _, s := range sentences {
		norm := strings.ToLower(strings.TrimSpace(strings.TrimRight(s, ".!?")))
		if len(strings.Fields(norm)) >= 4 && seen[norm] {
			continue
		}
		seen[norm] = true
		out = append(out, s)
	}
	return strings.Join(out, " ")
}

func dropRepeatedDialogue(body string) string {
	var out strings.Builder
	seen := make(map[string]bool)
	inQuote := false
	var quote strings.Builder
	for _, r := range body {
		switch {
		case r == '"' && !inQuote:
			inQuote = true
			quote.Reset()
		case r == '"' && inQuote:
			inQuote = false
			line := strings.TrimSpace(quote.String())
			key := strings.ToLower(line)
			if !seen[key] {
				seen[key] = true
				out.WriteByte('"')
				out.WriteString(line)
				out.WriteByte('"')
			}
		case inQuote:
			quote.WriteRune(r)
		default:
			out.WriteRune(r)
		}
	}
	return out.String()
}

// varySentences breaks run-on sentences near their midpoint comma so the
// length distribution stops reading flat.
func varySentences(body string) string {
	sentences := splitKeepingDelims(body)
	for i, s := range sentences {
		words := strings.Fields(s)
		if len(words) < 28 {
			continue
		}
		mid := len(s) / 2
		comma := -1
		for j := mid; j < len(s); j++ {
			if s[j] == ',' {
				comma = j
				break
			}
		}
		if comma < 0 || comma+2 >= len(s) {
			continue
		}
		head := strings.TrimRight(s[:comma], ",") + "."
		tail := strings.TrimSpace(s[comma+1:])
		if tail != "" {
			tail = strings.ToUpper(tail[:1]) + tail[1:]
		}
		sentences[i] = head + " " + tail
	}
	return strings.Join(sentences, " ")
}

func splitKeepingDelims(body string) []string {
	var out []string
	var b strings.Builder
	for _, r := range body {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(b.String()); s != "" {
				out = append(out, s)
			}
			b.Reset()
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		out = append(out, s)
	}
	return out
}
