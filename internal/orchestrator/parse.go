package orchestrator

import (
	"fmt"
	"strings"

	"github.com/vampirenirmal/serialist/internal/story"
	"github.com/vampirenirmal/serialist/internal/textsig"
	serrors "github.com/vampirenirmal/serialist/pkg/serial/errors"
)

// parsedChapter is the structured form of one generation response.
type parsedChapter struct {
	Title             string
	Summary           string
	KeyEvents         []string
	Body              string
	Tone              string
	NewConflicts      []string
	ResolvedConflicts []string
	PlantedHints      []string
	ResolvedHints     []string
	CharacterStates   map[string]story.CharacterState
}

// Section tags the composer asks for and the parser understands. Matching is
// case-insensitive and tolerant of surrounding whitespace.
const (
	secTitle             = "TITLE"
	secSummary           = "SUMMARY"
	secKeyEvents         = "KEY EVENTS"
	secBody              = "BODY"
	secTone              = "TONE"
	secNewConflicts      = "NEW CONFLICTS"
	secResolvedConflicts = "RESOLVED CONFLICTS"
	secPlantedHints      = "HINTS PLANTED"
	secResolvedHints     = "HINTS RESOLVED"
	secCharacterStates   = "CHARACTER STATES"
)

const minBodyRunes = 100

// parseChapter splits a section-tagged response. Generators drift: a missing
// tone falls back to signal-based inference, and a completely untagged
// response is treated as bare body text. Only a missing or trivially short
// body is fatal.
func parseChapter(raw string, extractor textsig.Extractor) (*parsedChapter, error) {
	sections := splitSections(raw)

	p := &parsedChapter{
		Title:             strings.TrimSpace(sections[secTitle]),
		Summary:           collapseWhitespace(sections[secSummary]),
		KeyEvents:         bulletLines(sections[secKeyEvents]),
		Body:              strings.TrimSpace(sections[secBody]),
		Tone:              strings.ToLower(strings.TrimSpace(sections[secTone])),
		NewConflicts:      bulletLines(sections[secNewConflicts]),
		ResolvedConflicts: bulletLines(sections[secResolvedConflicts]),
		PlantedHints:      bulletLines(sections[secPlantedHints]),
		ResolvedHints:     bulletLines(sections[secResolvedHints]),
		CharacterStates:   characterStates(sections[secCharacterStates]),
	}

	// Untagged output: take the whole response as body. A response that
	// uses the tags but omits [BODY] is rejected instead; the metadata
	// sections would pollute the prose, and the caller's retry re-prompts
	// with format feedback.
	if p.Body == "" && len(sections) == 0 {
		p.Body = strings.TrimSpace(raw)
	}
	if len([]rune(p.Body)) < minBodyRunes {
		return nil, fmt.Errorf("%w: body is %d runes", serrors.ErrUnparsableOutput, len([]rune(p.Body)))
	}

	if p.Summary == "" {
		p.Summary = firstSentences(p.Body, 2)
	}
	if p.Tone == "" {
		p.Tone = extractor.Extract(p.Body).EmotionalTone
	}
	return p, nil
}

// splitSections walks the response line by line collecting text under the
// most recent [SECTION] header. Text before the first header is dropped;
// generators like to preface output with pleasantries.
func splitSections(raw string) map[string]string {
	sections := make(map[string]string)
	var current string
	var buf strings.Builder

	flush := func() {
		if current != "" {
			sections[current] = strings.TrimSpace(buf.String())
		}
		buf.Reset()
	}

	for _, line := range strings.Split(raw, "\n") {
		if name, ok := sectionHeader(line); ok {
			flush()
			current = name
			continue
		}
		if current != "" {
			buf.WriteString(line)
			buf.WriteString("\n")
		}
	}
	flush()
	return sections
}

func sectionHeader(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if len(trimmed) < 3 || trimmed[0] != '[' || trimmed[len(trimmed)-1] != ']' {
		return "", false
	}
	name := strings.ToUpper(strings.TrimSpace(trimmed[1 : len(trimmed)-1]))
	switch name {
	case secTitle, secSummary, secKeyEvents, secBody, secTone,
		secNewConflicts, secResolvedConflicts, secPlantedHints,
		secResolvedHints, secCharacterStates:
		return name, true
	}
	return "", false
}

// bulletLines strips list markers and drops empty entries.
func bulletLines(block string) []string {
	var out []string
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "- ")
		line = strings.TrimPrefix(line, "* ")
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// characterStates parses "Name | location | emotion | relationship" lines.
// Short lines keep whatever fields they carry.
func characterStates(block string) map[string]story.CharacterState {
	states := make(map[string]story.CharacterState)
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "- "))
		if line == "" {
			continue
		}
		parts := strings.Split(line, "|")
		name := strings.TrimSpace(parts[0])
		if name == "" {
			continue
		}
		var st story.CharacterState
		if len(parts) > 1 {
			st.Location = strings.TrimSpace(parts[1])
		}
		if len(parts) > 2 {
			st.Emotion = strings.TrimSpace(parts[2])
		}
		if len(parts) > 3 {
			st.Relationship = strings.TrimSpace(parts[3])
		}
		states[name] = st
	}
	if len(states) == 0 {
		return nil
	}
	return states
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func firstSentences(body string, n int) string {
	var out []string
	var b strings.Builder
	for _, r := range body {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			out = append(out, strings.TrimSpace(b.String()))
			b.Reset()
			if len(out) == n {
				break
			}
		}
	}
	if len(out) == 0 {
		return strings.TrimSpace(body)
	}
	return strings.Join(out, " ")
}
