package textsig

import (
	"math"
	"strings"
	"unicode"
)

// Signal names a detectable textual characteristic. Analyzers depend on
// signal names, never on the keyword tables behind them, so per-genre or
// per-locale sets can be swapped without touching scoring logic.
type Signal string

const (
	ForwardMotion  Signal = "forward_motion"
	Stagnation     Signal = "stagnation"
	Tension        Signal = "tension"
	EmotionalDepth Signal = "emotional_depth"
	Sensory        Signal = "sensory"
	Figurative     Signal = "figurative"
	Escalation     Signal = "escalation"
	Resolution     Signal = "resolution"
	RomanceMarker  Signal = "romance_marker"
	Passivity      Signal = "passivity"
	Agency         Signal = "agency"
)

// Profile is the extracted signal bundle for one text.
type Profile struct {
	WordCount            int
	SentenceCount        int
	VocabularyDiversity  float64
	AvgSentenceLength    float64
	SentenceLengthStdDev float64
	DialogueLines        []string
	EmotionalTone        string
	Counts               map[Signal]int
}

// Count returns the raw occurrence count for a signal.
func (p Profile) Count(sig Signal) int {
	return p.Counts[sig]
}

// Density returns occurrences per thousand words.
func (p Profile) Density(sig Signal) float64 {
	if p.WordCount == 0 {
		return 0
	}
	return float64(p.Counts[sig]) / float64(p.WordCount) * 1000
}

// Extractor turns raw chapter text into a signal profile.
type Extractor interface {
	Extract(text string) Profile
}

// KeywordExtractor matches phrase tables per signal. The zero-value tables
// are useless; build with NewKeywordExtractor.
type KeywordExtractor struct {
	sets  map[Signal][]string
	tones map[string][]string
}

// NewKeywordExtractor builds an extractor from explicit signal sets. Pass
// DefaultSignalSets and DefaultToneSets for the stock English romance tables.
func NewKeywordExtractor(sets map[Signal][]string, tones map[string][]string) *KeywordExtractor {
	return &KeywordExtractor{sets: sets, tones: tones}
}

// DefaultSignalSets is the stock English signal table.
func DefaultSignalSets() map[Signal][]string {
	return map[Signal][]string{
		ForwardMotion: {
			"decided", "discovered", "revealed", "confessed", "arrived",
			"left for", "for the first time", "finally", "suddenly",
			"realized", "confronted", "promised", "refused",
		},
		Stagnation: {
			"as always", "like every day", "nothing had changed",
			"the same as before", "once again the same", "as usual",
			"just like yesterday", "nothing happened",
		},
		Tension: {
			"heart pounded", "held her breath", "held his breath", "couldn't look away",
			"dared not", "trembl", "the air between them", "a beat too long",
			"pulse", "breath caught",
		},
		EmotionalDepth: {
			"ached", "longing", "grief", "joy", "shame", "regret",
			"she felt", "he felt", "wanted to cry", "warmth spread",
			"hollow", "tender",
		},
		Sensory: {
			"smell", "scent", "taste", "rough", "smooth", "cold against",
			"warm against", "the sound of", "glimmer", "shadow", "light fell",
		},
		Figurative: {
			"like a", "as if", "as though", "seemed to", "was a storm",
			"reminded her of", "reminded him of",
		},
		Escalation: {
			"worse", "no way back", "everything changed", "threatened",
			"ultimatum", "at stake", "the truth came out", "broke",
		},
		Resolution: {
			"happily ever after", "at peace at last", "the conflict was over",
			"everything was resolved", "nothing left to fear", "their story ended",
			"all was forgiven", "the end of their troubles",
		},
		RomanceMarker: {
			"kissed", "almost kissed", "their hands brushed", "blushed",
			"heart skipped", "stole a glance", "closer than before",
			"confession", "jealous",
		},
		Passivity: {
			"was taken", "was told", "could only watch", "had no choice",
			"waited for", "was led",
		},
		Agency: {
			"she chose", "he chose", "took matters", "stood her ground",
			"stood his ground", "demanded", "set out", "made a plan",
			"refused to wait",
		},
	}
}

// DefaultToneSets maps emotional-tone labels to their marker phrases, used
// as a fallback when the generator omits an explicit tone field.
func DefaultToneSets() map[string][]string {
	return map[string][]string{
		"tender":     {"gentle", "soft", "warmth", "tender", "quiet smile"},
		"tense":      {"pounded", "sharp", "froze", "snapped", "warning"},
		"melancholy": {"rain", "alone", "empty", "faded", "missed"},
		"joyful":     {"laughed", "bright", "danced", "grinned", "light"},
		"wistful":    {"remembered", "used to", "once", "long ago", "almost"},
	}
}

func (e *KeywordExtractor) Extract(text string) Profile {
	lower := strings.ToLower(text)
	words := strings.Fields(lower)
	sentences := splitSentences(text)

	p := Profile{
		WordCount:     len(words),
		SentenceCount: len(sentences),
		Counts:        make(map[Signal]int, len(e.sets)),
	}

	distinct := make(map[string]struct{}, len(words))
	for _, w := range words {
		distinct[strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) })] = struct{}{}
	}
	if len(words) > 0 {
		p.VocabularyDiversity = float64(len(distinct)) / float64(len(words))
	}

	if len(sentences) > 0 {
		var total float64
		lengths := make([]float64, len(sentences))
		for i, s := range sentences {
			lengths[i] = float64(len(strings.Fields(s)))
			total += lengths[i]
		}
		p.AvgSentenceLength = total / float64(len(sentences))
		var variance float64
		for _, l := range lengths {
			variance += (l - p.AvgSentenceLength) * (l - p.AvgSentenceLength)
		}
		p.SentenceLengthStdDev = math.Sqrt(variance / float64(len(sentences)))
	}

	for sig, phrases := range e.sets {
		count := 0
		for _, phrase := range phrases {
			count += strings.Count(lower, phrase)
		}
		p.Counts[sig] = count
	}

	p.DialogueLines = extractDialogue(text)
	p.EmotionalTone = e.dominantTone(lower)

	return p
}

// dominantTone picks the tone label with the highest marker density, or
// "neutral" when nothing matches.
func (e *KeywordExtractor) dominantTone(lower string) string {
	best, bestCount := "neutral", 0
	for tone, markers := range e.tones {
		count := 0
		for _, m := range markers {
			count += strings.Count(lower, m)
		}
		if count > bestCount || (count == bestCount && count > 0 && tone < best) {
			best, bestCount = tone, count
		}
	}
	return best
}

func splitSentences(text string) []string {
	var out []string
	var b strings.Builder
	for _, r := range text {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			s := strings.TrimSpace(b.String())
			if len(strings.Fields(s)) > 0 {
				out = append(out, s)
			}
			b.Reset()
		}
	}
	if s := strings.TrimSpace(b.String()); len(strings.Fields(s)) > 0 {
		out = append(out, s)
	}
	return out
}

// extractDialogue pulls double-quoted spans, one entry per utterance.
func extractDialogue(text string) []string {
	var out []string
	inQuote := false
	var b strings.Builder
	for _, r := range text {
		switch {
		case r == '"' && !inQuote:
			inQuote = true
			b.Reset()
		case r == '"' && inQuote:
			inQuote = false
			if s := strings.TrimSpace(b.String()); s != "" {
				out = append(out, s)
			}
		case inQuote:
			b.WriteRune(r)
		}
	}
	return out
}
