package story

import (
	"fmt"
	"time"

	serrors "github.com/vampirenirmal/serialist/pkg/serial/errors"
)

// HistorySize bounds the quality-score ring buffer kept per work.
const HistorySize = 10

// SummaryWindow bounds the number of recent chapter summaries retained for
// context building.
const SummaryWindow = 12

// Stage boundaries over plot progress. Forward-only.
const (
	developmentBoundary = 25.0
	climaxBoundary      = 50.0
	resolutionBoundary  = 75.0
)

// StageForProgress maps a plot-progress percentage to its narrative stage.
func StageForProgress(progress float64) Stage {
	switch {
	case progress < developmentBoundary:
		return StageIntroduction
	case progress < climaxBoundary:
		return StageDevelopment
	case progress < resolutionBoundary:
		return StageClimax
	default:
		return StageResolution
	}
}

// applyCommit validates the commit invariants and returns a new state with
// the chapter and delta applied. The input state is not mutated, so a failed
// persistence write leaves nothing to roll back in memory.
func applyCommit(prev *StoryState, ch *Chapter, delta StateDelta, now time.Time) (*StoryState, error) {
	if prev.Work.Status == StatusComplete {
		return nil, fmt.Errorf("%w: %s", serrors.ErrWorkComplete, prev.Work.ID)
	}
	if ch.Number != prev.CurrentChapter+1 {
		return nil, fmt.Errorf("%w: got chapter %d, want %d",
			serrors.ErrOrdinalMismatch, ch.Number, prev.CurrentChapter+1)
	}
	if err := ValidateChapterDocument(ch); err != nil {
		return nil, err
	}
	for _, nc := range delta.NewCharacters {
		if prev.Character(nc.Name) != nil {
			return nil, fmt.Errorf("%w: character %q already exists",
				serrors.ErrStableTraitMutation, nc.Name)
		}
	}
	for name := range delta.CharacterStates {
		if prev.Character(name) == nil {
			return nil, fmt.Errorf("%w: state update for unknown character %q",
				serrors.ErrSchemaViolation, name)
		}
	}

	next := cloneState(prev)
	next.CurrentChapter = ch.Number
	next.LastChapterAt = now
	next.Work.UpdatedAt = now
	if next.Work.Status == StatusDrafting {
		next.Work.Status = StatusSerializing
	}

	// Plot progress is monotone non-decreasing and clamps at 100.
	if delta.ProgressDelta > 0 {
		next.PlotProgress += delta.ProgressDelta
	}
	if next.PlotProgress > 100 {
		next.PlotProgress = 100
	}
	next.Stage = forwardStage(next.Stage, StageForProgress(next.PlotProgress))

	for name, st := range delta.CharacterStates {
		next.Character(name).State = st
	}
	next.Characters = append(next.Characters, delta.NewCharacters...)

	next.ActiveConflicts = append(next.ActiveConflicts, delta.NewConflicts...)
	for _, resolved := range delta.ResolvedConflicts {
		next.ActiveConflicts = removeString(next.ActiveConflicts, resolved)
	}

	for _, hint := range delta.PlantedHints {
		next.Foreshadowing = append(next.Foreshadowing, Foreshadow{Hint: hint, Chapter: ch.Number})
	}
	for _, hint := range delta.ResolvedHints {
		for i := range next.Foreshadowing {
			if next.Foreshadowing[i].Hint == hint && !next.Foreshadowing[i].Resolved {
				next.Foreshadowing[i].Resolved = true
				next.Foreshadowing[i].ResolvedIn = ch.Number
				break
			}
		}
	}

	next.RecentSummaries = append(next.RecentSummaries, ch.Summary)
	if len(next.RecentSummaries) > SummaryWindow {
		next.RecentSummaries = next.RecentSummaries[len(next.RecentSummaries)-SummaryWindow:]
	}

	if ch.Quality != nil {
		next.QualityHistory = append(next.QualityHistory, ch.Quality.Composite)
		if len(next.QualityHistory) > HistorySize {
			next.QualityHistory = next.QualityHistory[len(next.QualityHistory)-HistorySize:]
		}
	}

	if err := ValidateState(next); err != nil {
		return nil, err
	}
	return next, nil
}

// forwardStage keeps the stage machine forward-only: a recomputed stage can
// never move the work backwards.
func forwardStage(current, computed Stage) Stage {
	if stageRank(computed) > stageRank(current) {
		return computed
	}
	return current
}

func stageRank(s Stage) int {
	switch s {
	case StageIntroduction:
		return 0
	case StageDevelopment:
		return 1
	case StageClimax:
		return 2
	case StageResolution:
		return 3
	}
	return -1
}

func cloneState(s *StoryState) *StoryState {
	next := *s
	next.Characters = append([]Character(nil), s.Characters...)
	next.WorldRules = append([]string(nil), s.WorldRules...)
	next.ActiveConflicts = append([]string(nil), s.ActiveConflicts...)
	next.Foreshadowing = append([]Foreshadow(nil), s.Foreshadowing...)
	next.RecentSummaries = append([]string(nil), s.RecentSummaries...)
	next.QualityHistory = append([]float64(nil), s.QualityHistory...)
	return &next
}

func removeString(list []string, target string) []string {
	out := list[:0]
	for _, s := range list {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}
