package continuity

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/vampirenirmal/serialist/internal/story"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func longRunningState(chapters int) *story.StoryState {
	state := &story.StoryState{
		Work: story.Work{
			ID:             "w1",
			Title:          "The Glass Orchard",
			Status:         story.StatusSerializing,
			TargetChapters: 100,
		},
		CurrentChapter: chapters,
		PlotProgress:   40,
		Stage:          story.StageDevelopment,
		WorldRules:     []string{"magic drains memory"},
		Characters: []story.Character{
			{
				Name:   "Mara",
				Role:   story.RoleProtagonist,
				Traits: story.Traits{Appearance: "silver-streaked hair", Personality: "guarded"},
				State:  story.CharacterState{Location: "the orchard", Emotion: "wary"},
			},
		},
		ActiveConflicts: []string{"the orchard is dying", "Ilan hides a debt"},
		Foreshadowing: []story.Foreshadow{
			{Hint: "the locked cellar", Chapter: 2},
			{Hint: "a stranger's letter", Chapter: 3, Resolved: true, ResolvedIn: 5},
		},
	}
	n := chapters
	if n > story.SummaryWindow {
		n = story.SummaryWindow
	}
	for i := 0; i < n; i++ {
		state.RecentSummaries = append(state.RecentSummaries,
			fmt.Sprintf("Summary of chapter %d with enough detail to take real space in the window.", chapters-n+i+1))
	}
	return state
}

func TestBuildRespectsBudget(t *testing.T) {
	b := NewBuilder(story.SummaryWindow, quietLogger())
	state := longRunningState(40)

	for _, budget := range []int{600, 1000, 2000, 5000} {
		t.Run(fmt.Sprintf("budget_%d", budget), func(t *testing.T) {
			ctx, err := b.Build(state, budget)
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			if ctx.Size() > budget {
				t.Errorf("context size %d exceeds budget %d", ctx.Size(), budget)
			}
			if len(ctx.Render()) > budget {
				t.Errorf("rendered size %d exceeds budget %d", len(ctx.Render()), budget)
			}
		})
	}
}

func TestEssentialFactsAlwaysPresent(t *testing.T) {
	b := NewBuilder(story.SummaryWindow, quietLogger())
	state := longRunningState(40)

	// Tight budget: summaries must drop, essentials must not.
	ctx, err := b.Build(state, 600)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	rendered := ctx.Render()
	for _, essential := range []string{"The Glass Orchard", "magic drains memory", "silver-streaked hair", "guarded"} {
		if !strings.Contains(rendered, essential) {
			t.Errorf("essential fact %q dropped at tight budget", essential)
		}
	}
	if len(ctx.Recent) >= len(state.RecentSummaries) {
		t.Errorf("expected summaries to drop at tight budget, kept %d of %d",
			len(ctx.Recent), len(state.RecentSummaries))
	}
}

func TestBudgetTooSmallForEssentials(t *testing.T) {
	b := NewBuilder(story.SummaryWindow, quietLogger())
	if _, err := b.Build(longRunningState(10), 50); err == nil {
		t.Fatal("expected error when essentials cannot fit")
	}
}

func TestNewestSummariesSurvive(t *testing.T) {
	b := NewBuilder(story.SummaryWindow, quietLogger())
	state := longRunningState(40)

	ctx, err := b.Build(state, 900)
	if err != nil {
		t.Fatal(err)
	}
	if len(ctx.Recent) == 0 {
		t.Skip("budget admitted no summaries")
	}
	// The most recent chapter's summary must be the last one kept.
	last := ctx.Recent[len(ctx.Recent)-1]
	if !strings.Contains(last.Text, "chapter 40") {
		t.Errorf("newest summary missing, tail = %q", last.Text)
	}
}

func TestResolvedForeshadowingExcluded(t *testing.T) {
	b := NewBuilder(story.SummaryWindow, quietLogger())
	ctx, err := b.Build(longRunningState(5), 5000)
	if err != nil {
		t.Fatal(err)
	}
	rendered := ctx.Render()
	if !strings.Contains(rendered, "the locked cellar") {
		t.Error("unresolved hint missing from context")
	}
	if strings.Contains(rendered, "a stranger's letter") {
		t.Error("resolved hint leaked into context")
	}
}
