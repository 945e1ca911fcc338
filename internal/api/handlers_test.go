package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/vampirenirmal/serialist/internal/decision"
	"github.com/vampirenirmal/serialist/internal/orchestrator"
	"github.com/vampirenirmal/serialist/internal/storage"
	"github.com/vampirenirmal/serialist/internal/story"
	"github.com/vampirenirmal/serialist/internal/strategy"
	serrors "github.com/vampirenirmal/serialist/pkg/serial/errors"
)

type fakeRunner struct {
	result  *orchestrator.RunResult
	err     error
	lastReq orchestrator.RunRequest
	calls   int
	ledger  strategy.Ledger
}

func (f *fakeRunner) RunOnce(ctx context.Context, req orchestrator.RunRequest) (*orchestrator.RunResult, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeRunner) Ledger() strategy.Ledger { return f.ledger }

func newTestServer(t *testing.T, runner *fakeRunner) (*httptest.Server, story.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	store := story.NewFileStore(storage.NewFileSystem(t.TempDir()), logger)
	srv := httptest.NewServer(NewRouter(NewHandlers(runner, store, logger), logger))
	t.Cleanup(srv.Close)
	return srv, store
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &fakeRunner{})

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestRunEndpoint(t *testing.T) {
	runner := &fakeRunner{
		result: &orchestrator.RunResult{
			Decision: &decision.Decision{Action: decision.ActionCreate, Rationale: "open slot"},
			WorkID:   "w1",
		},
		ledger: strategy.NewLedger(100),
	}
	srv, _ := newTestServer(t, runner)

	resp, err := http.Post(srv.URL+"/api/v1/run", "application/json",
		strings.NewReader(`{"force": true, "action": "create", "dry_run": true}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var result orchestrator.RunResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result.Decision.Action != decision.ActionCreate {
		t.Errorf("action = %s", result.Decision.Action)
	}
	if !runner.lastReq.Force || !runner.lastReq.DryRun {
		t.Errorf("request flags not forwarded: %+v", runner.lastReq)
	}
	if runner.lastReq.ForceAction != decision.ActionCreate {
		t.Errorf("forced action = %q, want create", runner.lastReq.ForceAction)
	}
}

func TestRunEndpointRejectsUnknownAction(t *testing.T) {
	runner := &fakeRunner{}
	srv, _ := newTestServer(t, runner)

	resp, err := http.Post(srv.URL+"/api/v1/run", "application/json",
		strings.NewReader(`{"action": "pause"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if runner.calls != 0 {
		t.Errorf("runner called %d times for invalid action", runner.calls)
	}
}

func TestRunEndpointEmptyBody(t *testing.T) {
	runner := &fakeRunner{
		result: &orchestrator.RunResult{Decision: &decision.Decision{Action: decision.ActionContinue}},
	}
	srv, _ := newTestServer(t, runner)

	resp, err := http.Post(srv.URL+"/api/v1/run", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 for empty body", resp.StatusCode)
	}
	if runner.lastReq.Force || runner.lastReq.DryRun {
		t.Errorf("empty body should default flags to false: %+v", runner.lastReq)
	}
}

func TestRunEndpointErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"already running", orchestrator.ErrRunInProgress, http.StatusConflict, "run_in_progress"},
		{"debounced", orchestrator.ErrRanTooRecently, http.StatusTooManyRequests, "too_recent"},
		{"no eligible work", serrors.ErrNoAction, http.StatusUnprocessableEntity, "no_eligible_work"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, &fakeRunner{err: tt.err})

			resp, err := http.Post(srv.URL+"/api/v1/run", "application/json", nil)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}

			var body ErrorResponse
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
		})
	}
}

func TestWorksEndpoints(t *testing.T) {
	srv, store := newTestServer(t, &fakeRunner{})
	ctx := context.Background()

	state, err := store.Create(ctx, story.WorkMetadata{
		Title:          "The Glass Orchard",
		TargetChapters: 40,
		Characters: []story.Character{
			{Name: "Mara", Role: story.RoleProtagonist},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(srv.URL + "/api/v1/works")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var list struct {
		Works []story.Work `json:"works"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list.Works) != 1 || list.Works[0].Title != "The Glass Orchard" {
		t.Errorf("works = %+v", list.Works)
	}

	resp2, err := http.Get(srv.URL + "/api/v1/works/" + state.Work.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp2.StatusCode)
	}
	var loaded story.StoryState
	if err := json.NewDecoder(resp2.Body).Decode(&loaded); err != nil {
		t.Fatal(err)
	}
	if loaded.Work.ID != state.Work.ID {
		t.Errorf("work id = %q, want %q", loaded.Work.ID, state.Work.ID)
	}

	resp3, err := http.Get(srv.URL + "/api/v1/works/missing")
	if err != nil {
		t.Fatal(err)
	}
	defer resp3.Body.Close()
	if resp3.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp3.StatusCode)
	}
}

func TestLedgerEndpoint(t *testing.T) {
	ledger := strategy.NewLedger(100)
	ledger = ledger.Charge(75)
	srv, _ := newTestServer(t, &fakeRunner{ledger: ledger})

	resp, err := http.Get(srv.URL + "/api/v1/ledger")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body struct {
		Budget      float64 `json:"budget"`
		Spent       float64 `json:"spent"`
		Remaining   float64 `json:"remaining"`
		Utilization float64 `json:"utilization"`
		Tier        string  `json:"tier"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Spent != 75 || body.Remaining != 25 {
		t.Errorf("ledger = %+v", body)
	}
	if body.Tier != string(strategy.TierWarning) {
		t.Errorf("tier = %q, want warning at 75%% utilization", body.Tier)
	}
}
