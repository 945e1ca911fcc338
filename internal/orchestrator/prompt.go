package orchestrator

import (
	"fmt"
	"strings"

	"github.com/vampirenirmal/serialist/internal/continuity"
	"github.com/vampirenirmal/serialist/internal/pacing"
	"github.com/vampirenirmal/serialist/internal/story"
)

const narratorSystem = `You are a serial fiction writer producing one chapter at a time for an ongoing romance serial. You write immersive, sensory prose with authentic dialogue and you never contradict established continuity. You keep the plot moving in every chapter: something must change. You follow the stage directives exactly, and you always answer in the requested section format with nothing outside it.`

// composePrompt builds the user prompt for one chapter. retryNotes carries
// the reasons a prior candidate was rejected so the regeneration can steer
// away from them.
func composePrompt(state *story.StoryState, cctx *continuity.Context, cons *pacing.Constraints, final bool, retryNotes []string) string {
	var b strings.Builder

	b.WriteString("Write the next chapter of the serial below.\n\n")
	b.WriteString("== CONTINUITY ==\n")
	b.WriteString(cctx.Render())
	b.WriteString("\n\n== DIRECTIVES ==\n")
	fmt.Fprintf(&b, "Chapter number: %d\n", state.CurrentChapter+1)
	fmt.Fprintf(&b, "Narrative stage: %s\n", cons.Stage)
	fmt.Fprintf(&b, "Target length: about %d words\n", cons.TargetWords)
	fmt.Fprintf(&b, "Allowed emotional tones: %s\n", strings.Join(cons.AllowedTones, ", "))
	for _, beat := range cons.ExpectedBeats {
		fmt.Fprintf(&b, "Beat: %s\n", beat)
	}
	if final {
		b.WriteString("This is the FINAL chapter: resolve the central conflict, pay off every planted hint, and give the leads their ending.\n")
	} else if cons.Stage != story.StageResolution {
		b.WriteString("Do NOT resolve the central conflict; end the chapter with the conflict still open.\n")
	}
	b.WriteString("Avoid static filler. Phrases like ")
	b.WriteString(quoteSample(cons.StagnationDenylist, 4))
	b.WriteString(" are signs of a chapter where nothing happens.\n")

	if len(retryNotes) > 0 {
		b.WriteString("\n== PREVIOUS ATTEMPT REJECTED ==\n")
		for _, note := range retryNotes {
			fmt.Fprintf(&b, "- %s\n", note)
		}
		b.WriteString("Rewrite the chapter correcting these problems.\n")
	}

	b.WriteString(`
== OUTPUT FORMAT ==
Answer using exactly these sections:
[TITLE]
the chapter title
[SUMMARY]
two or three sentences summarizing the chapter
[KEY EVENTS]
- one bullet per concrete event
[TONE]
one of the allowed tones
[NEW CONFLICTS]
- new open conflicts introduced, if any
[RESOLVED CONFLICTS]
- previously open conflicts this chapter closes, if any
[HINTS PLANTED]
- foreshadowing planted this chapter, if any
[HINTS RESOLVED]
- previously planted hints paid off this chapter, if any
[CHARACTER STATES]
- Name | location | emotion | relationship
[BODY]
the full chapter text
`)
	return b.String()
}

func quoteSample(phrases []string, n int) string {
	if len(phrases) < n {
		n = len(phrases)
	}
	quoted := make([]string, 0, n)
	for _, p := range phrases[:n] {
		quoted = append(quoted, fmt.Sprintf("%q", p))
	}
	return strings.Join(quoted, ", ")
}

// defaultSeeds are the stock premises used when the configuration supplies
// none. Each seeds a complete cast with stable traits set at creation.
func defaultSeeds() []story.WorkMetadata {
	return []story.WorkMetadata{
		{
			Title:          "The Glass Orchard",
			TargetChapters: 40,
			Tropes:         []string{"second chance", "small town"},
			WorldRules: []string{
				"The orchard's glass trees only bloom once a decade",
				"Mara inherited the orchard from her estranged grandmother",
			},
			Characters: []story.Character{
				{
					Name:   "Mara",
					Role:   story.RoleProtagonist,
					Traits: story.Traits{Appearance: "ink-stained hands, cropped dark hair", Personality: "guarded, dry-humored, loyal once won"},
				},
				{
					Name:   "Ilan",
					Role:   story.RoleCounterpart,
					Traits: story.Traits{Appearance: "tall, weathered coat, patient eyes", Personality: "steady, quietly stubborn, keeps old promises"},
				},
			},
		},
		{
			Title:          "Lighthouse Frequencies",
			TargetChapters: 36,
			Tropes:         []string{"forced proximity", "mystery"},
			WorldRules: []string{
				"The lighthouse radio picks up broadcasts from thirty years ago",
				"Storm season cuts the island off for weeks at a time",
			},
			Characters: []story.Character{
				{
					Name:   "June",
					Role:   story.RoleProtagonist,
					Traits: story.Traits{Appearance: "salt-bleached braid, wind-chapped cheeks", Personality: "restless, sharp-tongued, afraid of staying"},
				},
				{
					Name:   "Theo",
					Role:   story.RoleCounterpart,
					Traits: story.Traits{Appearance: "mended sweaters, careful hands", Personality: "methodical, gentle, terrible at asking for help"},
				},
				{
					Name:   "Captain Reyes",
					Role:   story.RoleSupporting,
					Traits: story.Traits{Appearance: "gray beard, barometer pocket watch", Personality: "superstitious, protective of the island"},
				},
			},
		},
		{
			Title:          "A Cartography of Small Fires",
			TargetChapters: 44,
			Tropes:         []string{"rivals to lovers", "academia"},
			WorldRules: []string{
				"The archive's oldest maps redraw themselves on the solstice",
				"Only two cartography fellowships are awarded each year",
			},
			Characters: []story.Character{
				{
					Name:   "Noor",
					Role:   story.RoleProtagonist,
					Traits: story.Traits{Appearance: "compass tattoo, paint-flecked glasses", Personality: "ambitious, meticulous, allergic to losing"},
				},
				{
					Name:   "Casimir",
					Role:   story.RoleCounterpart,
					Traits: story.Traits{Appearance: "rumpled blazer, burn scar on one thumb", Personality: "brilliant, careless with everything but maps"},
				},
			},
		},
	}
}
