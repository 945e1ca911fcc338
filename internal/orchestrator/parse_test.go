package orchestrator

import (
	"errors"
	"strings"
	"testing"

	"github.com/vampirenirmal/serialist/internal/textsig"
	serrors "github.com/vampirenirmal/serialist/pkg/serial/errors"
)

func testExtractor() textsig.Extractor {
	return textsig.NewKeywordExtractor(textsig.DefaultSignalSets(), textsig.DefaultToneSets())
}

const taggedResponse = `Here is the chapter you asked for.

[TITLE]
The Gate at Dawn

[SUMMARY]
Mara returns to the orchard and confronts Ilan about the hidden letter.

[KEY EVENTS]
- Mara opens the orchard gate
- Ilan finds the hidden letter

[TONE]
tender

[NEW CONFLICTS]
- The letter names a second heir

[HINTS PLANTED]
- The glass trees hum at dusk

[CHARACTER STATES]
- Mara | orchard gate | resolute | warming toward Ilan
- Ilan | orchard gate | hopeful

[BODY]
Mara decided she would open the orchard gate herself, and the hinges gave way
under her hands for the first time in years. The morning air carried the scent
of rain, and somewhere beyond the glass rows Ilan was already waiting for her.
`

func TestParseTaggedResponse(t *testing.T) {
	p, err := parseChapter(taggedResponse, testExtractor())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if p.Title != "The Gate at Dawn" {
		t.Errorf("title = %q", p.Title)
	}
	if !strings.Contains(p.Summary, "hidden letter") {
		t.Errorf("summary = %q", p.Summary)
	}
	if len(p.KeyEvents) != 2 || p.KeyEvents[0] != "Mara opens the orchard gate" {
		t.Errorf("key events = %v", p.KeyEvents)
	}
	if p.Tone != "tender" {
		t.Errorf("tone = %q", p.Tone)
	}
	if len(p.NewConflicts) != 1 || !strings.Contains(p.NewConflicts[0], "second heir") {
		t.Errorf("new conflicts = %v", p.NewConflicts)
	}
	if len(p.PlantedHints) != 1 {
		t.Errorf("planted hints = %v", p.PlantedHints)
	}
	if !strings.HasPrefix(p.Body, "Mara decided") {
		t.Errorf("body = %q", p.Body)
	}

	mara, ok := p.CharacterStates["Mara"]
	if !ok {
		t.Fatalf("character states = %v, want Mara", p.CharacterStates)
	}
	if mara.Location != "orchard gate" || mara.Emotion != "resolute" || mara.Relationship != "warming toward Ilan" {
		t.Errorf("Mara state = %+v", mara)
	}
	if ilan := p.CharacterStates["Ilan"]; ilan.Relationship != "" || ilan.Emotion != "hopeful" {
		t.Errorf("Ilan state = %+v, want partial fields kept", ilan)
	}
}

func TestParseUntaggedFallsBackToBody(t *testing.T) {
	raw := strings.Repeat("The rain fell on the glass rows and Mara watched it from the gate. ", 4)
	p, err := parseChapter(raw, testExtractor())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !strings.HasPrefix(p.Body, "The rain fell") {
		t.Errorf("body = %q", p.Body)
	}
	if p.Summary == "" {
		t.Error("summary fallback missing")
	}
}

func TestParseShortBodyRejected(t *testing.T) {
	for _, raw := range []string{
		"",
		"[TITLE]\nA Title\n[BODY]\ntoo short",
		"[TITLE]\nA Title With No Body Section At All",
	} {
		if _, err := parseChapter(raw, testExtractor()); !errors.Is(err, serrors.ErrUnparsableOutput) {
			t.Errorf("raw %q: error = %v, want ErrUnparsableOutput", raw, err)
		}
	}
}

func TestParseTaggedWithoutBodyRejected(t *testing.T) {
	// Long metadata sections must not be mistaken for prose; only a fully
	// untagged response falls back to body text.
	raw := "[SUMMARY]\n" +
		strings.Repeat("Mara returns to the orchard and confronts Ilan about the hidden letter. ", 4) +
		"\n[KEY EVENTS]\n- Mara opens the gate\n- Ilan finds the letter"
	if _, err := parseChapter(raw, testExtractor()); !errors.Is(err, serrors.ErrUnparsableOutput) {
		t.Errorf("error = %v, want ErrUnparsableOutput", err)
	}
}

func TestParseInfersToneWhenMissing(t *testing.T) {
	raw := "[BODY]\n" +
		"A gentle warmth settled over the orchard while Mara worked, and the soft light through the glass " +
		"branches turned everything tender and slow. She hummed to herself and let the quiet smile stay."
	p, err := parseChapter(raw, testExtractor())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.Tone != "tender" {
		t.Errorf("tone = %q, want inferred tender", p.Tone)
	}
}

func TestParseSummaryFallback(t *testing.T) {
	raw := "[BODY]\n" +
		"Mara opened the gate. Ilan was waiting. The rest of the morning unfolded slowly across the orchard " +
		"rows while the two of them circled the one subject neither was ready to name out loud just yet."
	p, err := parseChapter(raw, testExtractor())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := "Mara opened the gate. Ilan was waiting."
	if p.Summary != want {
		t.Errorf("summary = %q, want %q", p.Summary, want)
	}
}
