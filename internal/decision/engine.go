// Package decision chooses what the pipeline does with one external
// trigger: start a new work, extend one, or close one out.
package decision

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/vampirenirmal/serialist/internal/story"
	"github.com/vampirenirmal/serialist/internal/strategy"
	serrors "github.com/vampirenirmal/serialist/pkg/serial/errors"
)

type Action string

const (
	ActionCreate   Action = "create"
	ActionContinue Action = "continue"
	ActionComplete Action = "complete"
)

// Decision is the engine's output: one action, a human-readable rationale
// for the audit log, and the cost it is expected to burn.
type Decision struct {
	Action        Action
	WorkID        string
	Rationale     string
	EstimatedCost float64
}

// WorkSnapshot is the per-work view the engine decides over.
type WorkSnapshot struct {
	ID            string
	Title         string
	Status        story.WorkStatus
	PlotProgress  float64
	LastChapterAt time.Time
	UpdatedAt     time.Time
}

type Config struct {
	// CompletionThreshold is the plot progress at which a work enters the
	// completion workflow.
	CompletionThreshold float64
	// StalenessLimit is how long a serializing work may go without a
	// chapter before it jumps the queue.
	StalenessLimit time.Duration
	// MaxActiveWorks caps concurrent serializing titles.
	MaxActiveWorks int
	// Estimated costs per action, in ledger units.
	ContinueCost float64
	CreateCost   float64
	CompleteCost float64
}

func DefaultConfig() Config {
	return Config{
		CompletionThreshold: 95.0,
		StalenessLimit:      48 * time.Hour,
		MaxActiveWorks:      3,
		ContinueCost:        2.0,
		CreateCost:          2.5,
		CompleteCost:        2.2,
	}
}

// Engine is a pure function of system state. Priority order, first match
// wins: complete > continue-stale > create-under-cap > continue-oldest >
// create-when-empty.
type Engine struct {
	cfg    Config
	logger *slog.Logger
}

func NewEngine(cfg Config, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		logger: logger.With("component", "decision_engine"),
	}
}

func (e *Engine) Decide(works []WorkSnapshot, ledger strategy.Ledger, now time.Time) (*Decision, error) {
	return e.afford(e.decide(works, now), ledger)
}

// Forced resolves an operator-requested action against the roster, skipping
// the priority rules. The budget veto still applies.
func (e *Engine) Forced(action Action, works []WorkSnapshot, ledger strategy.Ledger) (*Decision, error) {
	d, err := e.forced(action, works)
	if err != nil {
		return nil, err
	}
	return e.afford(d, ledger)
}

func (e *Engine) afford(d *Decision, ledger strategy.Ledger) (*Decision, error) {
	if d.EstimatedCost > ledger.Remaining() {
		e.logger.Error("decision rejected: unaffordable",
			"action", d.Action,
			"estimated_cost", d.EstimatedCost,
			"remaining", ledger.Remaining(),
			"rationale", d.Rationale)
		return nil, fmt.Errorf("%w: action %s needs %.2f, %.2f remaining",
			serrors.ErrBudgetExhausted, d.Action, d.EstimatedCost, ledger.Remaining())
	}
	e.logger.Info("decision",
		"action", d.Action,
		"work_id", d.WorkID,
		"estimated_cost", d.EstimatedCost,
		"rationale", d.Rationale)
	return d, nil
}

func (e *Engine) forced(action Action, works []WorkSnapshot) (*Decision, error) {
	switch action {
	case ActionCreate:
		return &Decision{
			Action:        ActionCreate,
			Rationale:     "operator forced creation",
			EstimatedCost: e.cfg.CreateCost,
		}, nil

	case ActionContinue:
		serializing := filter(works, func(w WorkSnapshot) bool {
			return w.Status == story.StatusSerializing
		})
		if len(serializing) == 0 {
			return nil, fmt.Errorf("%w: forced continue with no serializing work", serrors.ErrNoAction)
		}
		sort.Slice(serializing, func(i, j int) bool {
			return serializing[i].UpdatedAt.Before(serializing[j].UpdatedAt)
		})
		w := serializing[0]
		return &Decision{
			Action:        ActionContinue,
			WorkID:        w.ID,
			Rationale:     fmt.Sprintf("operator forced continuation of %q", w.Title),
			EstimatedCost: e.cfg.ContinueCost,
		}, nil

	case ActionComplete:
		active := filter(works, func(w WorkSnapshot) bool {
			return w.Status != story.StatusComplete
		})
		if len(active) == 0 {
			return nil, fmt.Errorf("%w: forced complete with no open work", serrors.ErrNoAction)
		}
		sort.Slice(active, func(i, j int) bool {
			return active[i].PlotProgress > active[j].PlotProgress
		})
		w := active[0]
		return &Decision{
			Action: ActionComplete,
			WorkID: w.ID,
			Rationale: fmt.Sprintf("operator forced completion of %q at %.0f%% plot progress",
				w.Title, w.PlotProgress),
			EstimatedCost: e.cfg.CompleteCost,
		}, nil
	}
	return nil, fmt.Errorf("%w: unknown action %q", serrors.ErrNoAction, action)
}

func (e *Engine) decide(works []WorkSnapshot, now time.Time) *Decision {
	serializing := filter(works, func(w WorkSnapshot) bool {
		return w.Status == story.StatusSerializing
	})
	active := filter(works, func(w WorkSnapshot) bool {
		return w.Status != story.StatusComplete
	})

	// 1. Anything past the completion threshold finishes first.
	for _, w := range active {
		if w.PlotProgress >= e.cfg.CompletionThreshold {
			return &Decision{
				Action: ActionComplete,
				WorkID: w.ID,
				Rationale: fmt.Sprintf("%q at %.0f%% plot progress, past completion threshold %.0f%%",
					w.Title, w.PlotProgress, e.cfg.CompletionThreshold),
				EstimatedCost: e.cfg.CompleteCost,
			}
		}
	}

	// 2. Stale serializing work jumps the queue; readers drift fast.
	stale := filter(serializing, func(w WorkSnapshot) bool {
		return !w.LastChapterAt.IsZero() && now.Sub(w.LastChapterAt) > e.cfg.StalenessLimit
	})
	if len(stale) > 0 {
		sort.Slice(stale, func(i, j int) bool {
			return stale[i].LastChapterAt.Before(stale[j].LastChapterAt)
		})
		w := stale[0]
		return &Decision{
			Action: ActionContinue,
			WorkID: w.ID,
			Rationale: fmt.Sprintf("%q stale for %s, past limit %s",
				w.Title, now.Sub(w.LastChapterAt).Round(time.Hour), e.cfg.StalenessLimit),
			EstimatedCost: e.cfg.ContinueCost,
		}
	}

	// 3. Room in the roster: start something new.
	if len(active) < e.cfg.MaxActiveWorks {
		return &Decision{
			Action: ActionCreate,
			Rationale: fmt.Sprintf("%d of %d active slots used",
				len(active), e.cfg.MaxActiveWorks),
			EstimatedCost: e.cfg.CreateCost,
		}
	}

	// 4. Otherwise keep the least-recently-updated serialization moving.
	if len(serializing) > 0 {
		sort.Slice(serializing, func(i, j int) bool {
			return serializing[i].UpdatedAt.Before(serializing[j].UpdatedAt)
		})
		w := serializing[0]
		return &Decision{
			Action: ActionContinue,
			WorkID: w.ID,
			Rationale: fmt.Sprintf("%q least recently updated (%s)",
				w.Title, w.UpdatedAt.Format(time.RFC3339)),
			EstimatedCost: e.cfg.ContinueCost,
		}
	}

	// 5. Roster full of drafts but nothing serializing: start fresh.
	return &Decision{
		Action:        ActionCreate,
		Rationale:     "no serializing work available to continue",
		EstimatedCost: e.cfg.CreateCost,
	}
}

func filter(works []WorkSnapshot, keep func(WorkSnapshot) bool) []WorkSnapshot {
	var out []WorkSnapshot
	for _, w := range works {
		if keep(w) {
			out = append(out, w)
		}
	}
	return out
}
