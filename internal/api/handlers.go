package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vampirenirmal/serialist/internal/decision"
	"github.com/vampirenirmal/serialist/internal/orchestrator"
	"github.com/vampirenirmal/serialist/internal/story"
	"github.com/vampirenirmal/serialist/internal/strategy"
	serrors "github.com/vampirenirmal/serialist/pkg/serial/errors"
)

// Runner is the production-trigger surface the handlers need from the
// orchestrator.
type Runner interface {
	RunOnce(ctx context.Context, req orchestrator.RunRequest) (*orchestrator.RunResult, error)
	Ledger() strategy.Ledger
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type Handlers struct {
	runner Runner
	store  story.Store
	logger *slog.Logger
}

func NewHandlers(runner Runner, store story.Store, logger *slog.Logger) *Handlers {
	return &Handlers{
		runner: runner,
		store:  store,
		logger: logger.With("component", "api"),
	}
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type runPayload struct {
	Force bool `json:"force"`
	// Action forces create, continue, or complete instead of letting the
	// decision engine choose. Empty means decide normally.
	Action string `json:"action"`
	DryRun bool   `json:"dry_run"`
}

// Run triggers one production cycle.
func (h *Handlers) Run(w http.ResponseWriter, r *http.Request) {
	var payload runPayload
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", "bad_request")
			return
		}
	}

	action := decision.Action(payload.Action)
	switch action {
	case "", decision.ActionCreate, decision.ActionContinue, decision.ActionComplete:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown action %q", payload.Action), "bad_request")
		return
	}

	result, err := h.runner.RunOnce(r.Context(), orchestrator.RunRequest{
		Force:       payload.Force,
		ForceAction: action,
		DryRun:      payload.DryRun,
	})
	if err != nil {
		h.logger.Error("run trigger failed", "error", err)
		switch {
		case errors.Is(err, orchestrator.ErrRunInProgress):
			writeError(w, http.StatusConflict, err.Error(), "run_in_progress")
		case errors.Is(err, orchestrator.ErrRanTooRecently):
			writeError(w, http.StatusTooManyRequests, err.Error(), "too_recent")
		case errors.Is(err, serrors.ErrBudgetExhausted):
			writeError(w, http.StatusConflict, err.Error(), "budget_exhausted")
		case errors.Is(err, serrors.ErrNoAction):
			writeError(w, http.StatusUnprocessableEntity, err.Error(), "no_eligible_work")
		case errors.Is(err, serrors.ErrQualityThreshold):
			writeError(w, http.StatusUnprocessableEntity, err.Error(), "quality_threshold")
		default:
			writeError(w, http.StatusInternalServerError, err.Error(), "run_failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Works lists every work with its lifecycle status.
func (h *Handlers) Works(w http.ResponseWriter, r *http.Request) {
	works, err := h.store.ListWorks(r.Context())
	if err != nil {
		h.logger.Error("listing works failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error(), "list_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"works": works})
}

// Work returns the full continuity state for one work.
func (h *Handlers) Work(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	state, err := h.store.Load(r.Context(), id)
	if err != nil {
		if errors.Is(err, serrors.ErrWorkNotFound) {
			writeError(w, http.StatusNotFound, err.Error(), "not_found")
			return
		}
		h.logger.Error("loading work failed", "work_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error(), "load_failed")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// Ledger reports the session budget position.
func (h *Handlers) Ledger(w http.ResponseWriter, r *http.Request) {
	ledger := h.runner.Ledger()
	writeJSON(w, http.StatusOK, map[string]any{
		"budget":      ledger.Budget,
		"spent":       ledger.Spent,
		"remaining":   ledger.Remaining(),
		"utilization": ledger.Utilization(),
		"tier":        ledger.Tier(),
	})
}
