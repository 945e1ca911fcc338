package story

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/vampirenirmal/serialist/internal/storage"
	serrors "github.com/vampirenirmal/serialist/pkg/serial/errors"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	dir, err := os.MkdirTemp("", "serialist-store-test")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewFileStore(storage.NewFileSystem(dir), logger)
}

func testMetadata() WorkMetadata {
	return WorkMetadata{
		Title:          "The Glass Orchard",
		TargetChapters: 24,
		Characters: []Character{
			{
				Name:   "Mara",
				Role:   RoleProtagonist,
				Traits: Traits{Appearance: "silver-streaked hair", Personality: "guarded, dryly funny"},
			},
			{
				Name:   "Ilan",
				Role:   RoleCounterpart,
				Traits: Traits{Appearance: "broad-shouldered", Personality: "patient, stubborn"},
			},
		},
		WorldRules: []string{"magic drains memory", "the orchard blooms once a decade"},
	}
}

func testChapter(workID string, number int) *Chapter {
	body := strings.Repeat("Mara walked the rows of glass trees, counting what the magic had cost her. ", 20)
	return &Chapter{
		WorkID:        workID,
		Number:        number,
		Title:         "Counting the Cost",
		Body:          body,
		Summary:       "Mara tallies her losses and meets Ilan at the orchard gate.",
		KeyEvents:     []string{"Mara meets Ilan"},
		EmotionalTone: "wistful",
		WordCount:     len(strings.Fields(body)),
		CreatedAt:     time.Now(),
	}
}

func TestCreateAndLoad(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	state, err := store.Create(ctx, testMetadata())
	if err != nil {
		t.Fatalf("creating work: %v", err)
	}
	if state.Work.ID == "" {
		t.Fatal("expected generated work id")
	}
	if state.Work.Status != StatusDrafting {
		t.Errorf("status = %s, want drafting", state.Work.Status)
	}
	if state.Stage != StageIntroduction {
		t.Errorf("stage = %s, want introduction", state.Stage)
	}

	loaded, err := store.Load(ctx, state.Work.ID)
	if err != nil {
		t.Fatalf("loading work: %v", err)
	}
	if loaded.Work.Title != "The Glass Orchard" {
		t.Errorf("title = %q", loaded.Work.Title)
	}
	if len(loaded.WorldRules) != 2 {
		t.Errorf("world rules = %d, want 2", len(loaded.WorldRules))
	}
}

func TestLoadMissingWork(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Load(context.Background(), "nope")
	if !errors.Is(err, serrors.ErrWorkNotFound) {
		t.Errorf("error = %v, want ErrWorkNotFound", err)
	}
}

func TestCommitOrdinal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	state, err := store.Create(ctx, testMetadata())
	if err != nil {
		t.Fatal(err)
	}
	id := state.Work.ID

	tests := []struct {
		name    string
		number  int
		wantErr bool
	}{
		{"skips ahead", 3, true},
		{"zero ordinal", 0, true},
		{"repeats current", 1, false}, // first commit, ordinal 1 is correct
		{"repeat committed ordinal", 1, true},
		{"next consecutive", 2, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.CommitChapter(ctx, id, testChapter(id, tt.number), StateDelta{ProgressDelta: 3})
			if tt.wantErr && err == nil {
				t.Fatalf("commit of chapter %d succeeded, want failure", tt.number)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("commit of chapter %d failed: %v", tt.number, err)
			}
			if tt.wantErr && !errors.Is(err, serrors.ErrOrdinalMismatch) {
				t.Errorf("error = %v, want ErrOrdinalMismatch", err)
			}
		})
	}
}

func TestCommitIncrementsExactlyOne(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	state, _ := store.Create(ctx, testMetadata())
	id := state.Work.ID

	for i := 1; i <= 5; i++ {
		next, err := store.CommitChapter(ctx, id, testChapter(id, i), StateDelta{ProgressDelta: 4})
		if err != nil {
			t.Fatalf("chapter %d: %v", i, err)
		}
		if next.CurrentChapter != i {
			t.Fatalf("current chapter = %d after commit %d", next.CurrentChapter, i)
		}
	}
}

func TestProgressMonotoneAndClamped(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	state, _ := store.Create(ctx, testMetadata())
	id := state.Work.ID

	deltas := []float64{40, -10, 0, 70}
	prev := 0.0
	for i, d := range deltas {
		next, err := store.CommitChapter(ctx, id, testChapter(id, i+1), StateDelta{ProgressDelta: d})
		if err != nil {
			t.Fatalf("chapter %d: %v", i+1, err)
		}
		if next.PlotProgress < prev {
			t.Fatalf("progress decreased: %f -> %f", prev, next.PlotProgress)
		}
		if next.PlotProgress > 100 {
			t.Fatalf("progress exceeds 100: %f", next.PlotProgress)
		}
		prev = next.PlotProgress
	}
	if prev != 100 {
		t.Errorf("final progress = %f, want clamp at 100", prev)
	}
}

func TestStageAdvancesForwardOnly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	state, _ := store.Create(ctx, testMetadata())
	id := state.Work.ID

	next, err := store.CommitChapter(ctx, id, testChapter(id, 1), StateDelta{ProgressDelta: 55})
	if err != nil {
		t.Fatal(err)
	}
	if next.Stage != StageClimax {
		t.Fatalf("stage = %s, want climax", next.Stage)
	}

	// A zero-progress commit must not move the stage backwards.
	next, err = store.CommitChapter(ctx, id, testChapter(id, 2), StateDelta{})
	if err != nil {
		t.Fatal(err)
	}
	if next.Stage != StageClimax {
		t.Errorf("stage regressed to %s", next.Stage)
	}
}

func TestCharacterStateMutation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	state, _ := store.Create(ctx, testMetadata())
	id := state.Work.ID

	delta := StateDelta{
		ProgressDelta: 5,
		CharacterStates: map[string]CharacterState{
			"Mara": {Location: "orchard gate", Emotion: "wary", Relationship: "curious about Ilan"},
		},
	}
	next, err := store.CommitChapter(ctx, id, testChapter(id, 1), delta)
	if err != nil {
		t.Fatal(err)
	}

	mara := next.Character("Mara")
	if mara == nil {
		t.Fatal("Mara missing after commit")
	}
	if mara.State.Location != "orchard gate" {
		t.Errorf("location = %q", mara.State.Location)
	}
	// Stable traits survive every commit untouched.
	if mara.Traits.Personality != "guarded, dryly funny" {
		t.Errorf("stable trait changed: %q", mara.Traits.Personality)
	}
}

func TestUnknownCharacterStateRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	state, _ := store.Create(ctx, testMetadata())

	delta := StateDelta{CharacterStates: map[string]CharacterState{"Ghost": {Emotion: "lost"}}}
	_, err := store.CommitChapter(ctx, state.Work.ID, testChapter(state.Work.ID, 1), delta)
	if !errors.Is(err, serrors.ErrSchemaViolation) {
		t.Errorf("error = %v, want ErrSchemaViolation", err)
	}
}

func TestDuplicateNewCharacterRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	state, _ := store.Create(ctx, testMetadata())

	delta := StateDelta{NewCharacters: []Character{{
		Name: "Mara", Role: RoleSupporting,
		Traits: Traits{Personality: "entirely different person"},
	}}}
	_, err := store.CommitChapter(ctx, state.Work.ID, testChapter(state.Work.ID, 1), delta)
	if !errors.Is(err, serrors.ErrStableTraitMutation) {
		t.Errorf("error = %v, want ErrStableTraitMutation", err)
	}
}

func TestCommitAfterCompleteRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	state, _ := store.Create(ctx, testMetadata())
	id := state.Work.ID

	if _, err := store.CommitChapter(ctx, id, testChapter(id, 1), StateDelta{ProgressDelta: 96}); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkComplete(ctx, id); err != nil {
		t.Fatal(err)
	}
	_, err := store.CommitChapter(ctx, id, testChapter(id, 2), StateDelta{})
	if !errors.Is(err, serrors.ErrWorkComplete) {
		t.Errorf("error = %v, want ErrWorkComplete", err)
	}
}

func TestFailedCommitLeavesNoTrace(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	state, _ := store.Create(ctx, testMetadata())
	id := state.Work.ID

	before, _ := store.Load(ctx, id)
	bad := testChapter(id, 1)
	bad.WordCount = 7 // schema violation: word count does not match body

	if _, err := store.CommitChapter(ctx, id, bad, StateDelta{ProgressDelta: 5}); err == nil {
		t.Fatal("expected commit failure")
	}
	after, _ := store.Load(ctx, id)
	if after.CurrentChapter != before.CurrentChapter || after.PlotProgress != before.PlotProgress {
		t.Errorf("state mutated by failed commit: %+v", after)
	}
}

func TestQualityHistoryRing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	state, _ := store.Create(ctx, testMetadata())
	id := state.Work.ID

	var last *StoryState
	for i := 1; i <= HistorySize+3; i++ {
		ch := testChapter(id, i)
		ch.Quality = &QualityReport{Composite: float64(i), Passed: true}
		next, err := store.CommitChapter(ctx, id, ch, StateDelta{ProgressDelta: 1})
		if err != nil {
			t.Fatal(err)
		}
		last = next
	}
	if len(last.QualityHistory) != HistorySize {
		t.Fatalf("history size = %d, want %d", len(last.QualityHistory), HistorySize)
	}
	if last.QualityHistory[HistorySize-1] != float64(HistorySize+3) {
		t.Errorf("history tail = %f", last.QualityHistory[HistorySize-1])
	}
}

func TestListWorks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, _ := store.Create(ctx, testMetadata())
	meta := testMetadata()
	meta.Title = "Winter Counterpart"
	second, _ := store.Create(ctx, meta)

	works, err := store.ListWorks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(works) != 2 {
		t.Fatalf("works = %d, want 2", len(works))
	}
	ids := map[string]bool{works[0].ID: true, works[1].ID: true}
	if !ids[first.Work.ID] || !ids[second.Work.ID] {
		t.Errorf("listing missing created works: %v", ids)
	}
}

func TestStageForProgress(t *testing.T) {
	tests := []struct {
		progress float64
		want     Stage
	}{
		{0, StageIntroduction},
		{24.9, StageIntroduction},
		{25, StageDevelopment},
		{49.9, StageDevelopment},
		{50, StageClimax},
		{74.9, StageClimax},
		{75, StageResolution},
		{100, StageResolution},
	}
	for _, tt := range tests {
		if got := StageForProgress(tt.progress); got != tt.want {
			t.Errorf("StageForProgress(%v) = %s, want %s", tt.progress, got, tt.want)
		}
	}
}
