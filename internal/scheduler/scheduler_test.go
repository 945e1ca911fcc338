package scheduler

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/vampirenirmal/serialist/internal/decision"
	"github.com/vampirenirmal/serialist/internal/orchestrator"
)

type fakeRunner struct {
	calls int
	err   error
}

func (f *fakeRunner) RunOnce(ctx context.Context, req orchestrator.RunRequest) (*orchestrator.RunResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &orchestrator.RunResult{
		Decision: &decision.Decision{Action: decision.ActionContinue},
		WorkID:   "w1",
	}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestScheduledRunInvokesRunner(t *testing.T) {
	runner := &fakeRunner{}
	s, err := New(runner, time.Hour, time.Minute, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	s.runProduction()
	if runner.calls != 1 {
		t.Errorf("runner calls = %d, want 1", runner.calls)
	}
}

func TestSkippedRunsAreNotFatal(t *testing.T) {
	runner := &fakeRunner{err: orchestrator.ErrRanTooRecently}
	s, err := New(runner, time.Hour, time.Minute, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	// Must log and move on rather than panic or wedge the schedule.
	s.runProduction()
	if runner.calls != 1 {
		t.Errorf("runner calls = %d, want 1", runner.calls)
	}
}

func TestStartAndShutdown(t *testing.T) {
	runner := &fakeRunner{}
	s, err := New(runner, time.Hour, time.Minute, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
