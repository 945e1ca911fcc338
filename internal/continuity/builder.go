// Package continuity compresses a story's durable state into a bounded
// generation context. Works grow without limit; the context may not.
package continuity

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/vampirenirmal/serialist/internal/story"
)

// Entry is one atomic line of context. Entries are included or dropped
// whole, never truncated mid-entry.
type Entry struct {
	Label string
	Text  string
}

func (e Entry) size() int {
	return len(e.Label) + len(e.Text) + len(": \n")
}

// Context is the packed result handed to the prompt composer.
type Context struct {
	Essential []Entry
	Threads   []Entry
	Recent    []Entry
}

// Render flattens the context into prompt text, essentials first.
func (c *Context) Render() string {
	var b strings.Builder
	for _, group := range [][]Entry{c.Essential, c.Threads, c.Recent} {
		for _, e := range group {
			b.WriteString(e.Label)
			b.WriteString(": ")
			b.WriteString(e.Text)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// Size reports the rendered size in bytes.
func (c *Context) Size() int {
	total := 0
	for _, group := range [][]Entry{c.Essential, c.Threads, c.Recent} {
		for _, e := range group {
			total += e.size()
		}
	}
	return total
}

// Builder packs state into a budget. Essential facts are always included;
// open threads next; recent chapter summaries fill whatever remains, newest
// first, so the oldest detail is what falls off a long-running work.
type Builder struct {
	maxRecent int
	logger    *slog.Logger
}

func NewBuilder(maxRecent int, logger *slog.Logger) *Builder {
	if maxRecent <= 0 {
		maxRecent = story.SummaryWindow
	}
	return &Builder{
		maxRecent: maxRecent,
		logger:    logger.With("component", "context_builder"),
	}
}

// Build packs the state into at most budget bytes. It fails only when the
// essential facts alone do not fit, since those may never be dropped.
func (b *Builder) Build(state *story.StoryState, budget int) (*Context, error) {
	ctx := &Context{}

	ctx.Essential = append(ctx.Essential,
		Entry{"Title", state.Work.Title},
		Entry{"Chapter", fmt.Sprintf("%d of %d planned", state.CurrentChapter+1, state.Work.TargetChapters)},
		Entry{"Stage", fmt.Sprintf("%s (progress %.0f%%)", state.Stage, state.PlotProgress)},
	)
	for _, rule := range state.WorldRules {
		ctx.Essential = append(ctx.Essential, Entry{"World rule", rule})
	}
	for _, c := range state.Characters {
		ctx.Essential = append(ctx.Essential, Entry{
			"Character " + c.Name,
			fmt.Sprintf("%s; %s; %s", c.Role, c.Traits.Personality, c.Traits.Appearance),
		})
		if c.State != (story.CharacterState{}) {
			ctx.Essential = append(ctx.Essential, Entry{
				"Now " + c.Name,
				strings.TrimSuffix(fmt.Sprintf("%s %s %s", c.State.Location, c.State.Emotion, c.State.Relationship), " "),
			})
		}
	}

	used := ctx.Size()
	if used > budget {
		return nil, fmt.Errorf("context budget %d too small for %d bytes of essential facts", budget, used)
	}

	for _, conflict := range state.ActiveConflicts {
		e := Entry{"Open conflict", conflict}
		if used+e.size() > budget {
			break
		}
		ctx.Threads = append(ctx.Threads, e)
		used += e.size()
	}
	for _, f := range state.UnresolvedForeshadowing() {
		e := Entry{"Unresolved hint", fmt.Sprintf("%s (planted ch.%d)", f.Hint, f.Chapter)}
		if used+e.size() > budget {
			break
		}
		ctx.Threads = append(ctx.Threads, e)
		used += e.size()
	}

	// Newest summaries first; prepend so the rendered order stays
	// chronological once the budget decides how far back we reach.
	summaries := state.RecentSummaries
	if len(summaries) > b.maxRecent {
		summaries = summaries[len(summaries)-b.maxRecent:]
	}
	included := 0
	for i := len(summaries) - 1; i >= 0; i-- {
		chapterNum := state.CurrentChapter - (len(summaries) - 1 - i)
		e := Entry{fmt.Sprintf("Chapter %d", chapterNum), summaries[i]}
		if used+e.size() > budget {
			break
		}
		ctx.Recent = append([]Entry{e}, ctx.Recent...)
		used += e.size()
		included++
	}

	b.logger.Debug("built context",
		"work_id", state.Work.ID,
		"budget", budget,
		"used", used,
		"summaries_included", included,
		"summaries_available", len(summaries))

	return ctx, nil
}
