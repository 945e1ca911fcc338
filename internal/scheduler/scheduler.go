// Package scheduler drives production runs on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/vampirenirmal/serialist/internal/orchestrator"
	serrors "github.com/vampirenirmal/serialist/pkg/serial/errors"
)

// Runner triggers one production cycle.
type Runner interface {
	RunOnce(ctx context.Context, req orchestrator.RunRequest) (*orchestrator.RunResult, error)
}

type Scheduler struct {
	scheduler  gocron.Scheduler
	runner     Runner
	interval   time.Duration
	runTimeout time.Duration
	logger     *slog.Logger
}

func New(runner Runner, interval, runTimeout time.Duration, logger *slog.Logger) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("creating scheduler: %w", err)
	}
	return &Scheduler{
		scheduler:  s,
		runner:     runner,
		interval:   interval,
		runTimeout: runTimeout,
		logger:     logger.With("component", "scheduler"),
	}, nil
}

// Start registers the production job and begins the schedule. The first run
// fires after one full interval.
func (s *Scheduler) Start() error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(s.runProduction),
		gocron.WithName("production-run"),
	)
	if err != nil {
		return fmt.Errorf("registering production job: %w", err)
	}

	s.scheduler.Start()
	s.logger.Info("scheduler started", "interval", s.interval)
	return nil
}

func (s *Scheduler) runProduction() {
	ctx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
	defer cancel()

	result, err := s.runner.RunOnce(ctx, orchestrator.RunRequest{})
	if err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrRunInProgress),
			errors.Is(err, orchestrator.ErrRanTooRecently):
			s.logger.Info("scheduled run skipped", "reason", err)
		case errors.Is(err, serrors.ErrBudgetExhausted):
			s.logger.Warn("scheduled run skipped, budget exhausted", "error", err)
		default:
			s.logger.Error("scheduled run failed", "error", err)
		}
		return
	}

	s.logger.Info("scheduled run complete",
		"action", result.Decision.Action,
		"work_id", result.WorkID,
		"completed", result.Completed)
}

func (s *Scheduler) Shutdown() error {
	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("shutting down scheduler: %w", err)
	}
	s.logger.Info("scheduler stopped")
	return nil
}
