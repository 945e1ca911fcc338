// Command serialist runs the automated serial-fiction pipeline: one-shot
// production runs from the command line, or a long-lived daemon with an HTTP
// API and scheduled runs.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/vampirenirmal/serialist/internal/agent"
	"github.com/vampirenirmal/serialist/internal/api"
	"github.com/vampirenirmal/serialist/internal/config"
	"github.com/vampirenirmal/serialist/internal/continuity"
	"github.com/vampirenirmal/serialist/internal/decision"
	"github.com/vampirenirmal/serialist/internal/orchestrator"
	"github.com/vampirenirmal/serialist/internal/pacing"
	"github.com/vampirenirmal/serialist/internal/quality"
	"github.com/vampirenirmal/serialist/internal/scheduler"
	"github.com/vampirenirmal/serialist/internal/storage"
	"github.com/vampirenirmal/serialist/internal/story"
	"github.com/vampirenirmal/serialist/internal/strategy"
	"github.com/vampirenirmal/serialist/internal/textsig"
	"github.com/vampirenirmal/serialist/internal/threshold"
)

func main() {
	var (
		configPath = flag.String("config", "", "config file path (default: $SERIALIST_CONFIG or XDG config dir)")
		serve      = flag.Bool("serve", false, "run as a daemon with HTTP API and scheduler")
		force      = flag.Bool("force", false, "bypass the minimum run interval")
		action     = flag.String("action", "", "force a specific action: create, continue, or complete")
		dryRun     = flag.Bool("dry-run", false, "report the decision and prompt without generating")
		verbose    = flag.Bool("verbose", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(*configPath, *serve, *force, *action, *dryRun, logger); err != nil {
		logger.Error("serialist failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, serve, force bool, action string, dryRun bool, logger *slog.Logger) error {
	forced := decision.Action(action)
	switch forced {
	case "", decision.ActionCreate, decision.ActionContinue, decision.ActionComplete:
	default:
		return fmt.Errorf("unknown -action %q: want create, continue, or complete", action)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	store, cleanup, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	gen, err := buildGenerator(cfg, logger)
	if err != nil {
		return err
	}

	orc := buildOrchestrator(cfg, store, gen, logger)

	if serve {
		return serveDaemon(cfg, orc, store, logger)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Limits.RunTimeout)
	defer cancel()

	result, err := orc.RunOnce(ctx, orchestrator.RunRequest{Force: force, ForceAction: forced, DryRun: dryRun})
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func openStore(cfg *config.Config, logger *slog.Logger) (story.Store, func(), error) {
	switch cfg.Store.Backend {
	case "sqlite":
		db, err := story.OpenSQLite(cfg.Store.SQLitePath, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return db, func() {
			if err := db.Close(); err != nil {
				logger.Warn("closing sqlite store", "error", err)
			}
		}, nil
	default:
		if err := os.MkdirAll(cfg.Store.DataDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("creating data dir: %w", err)
		}
		return story.NewFileStore(storage.NewFileSystem(cfg.Store.DataDir), logger), func() {}, nil
	}
}

func buildGenerator(cfg *config.Config, logger *slog.Logger) (agent.Generator, error) {
	if cfg.Generator.Mock {
		logger.Warn("using mock generator, no chapters will be written by a model")
		return agent.NewMockGenerator(), nil
	}
	if cfg.Generator.APIKey == "" {
		return nil, errors.New("no API key: set generator.api_key or SERIALIST_API_KEY")
	}

	var gen agent.Generator = agent.NewClient(cfg.Generator.APIKey,
		agent.WithAPIConfig(cfg.Generator.BaseURL, cfg.Generator.Model),
		agent.WithTimeout(time.Duration(cfg.Generator.Timeout)*time.Second),
		agent.WithRetry(cfg.Limits.MaxRetries),
		agent.WithRateLimit(cfg.Limits.MaxRequestsPerMinute, cfg.Limits.BurstSize),
		agent.WithLogger(logger),
	)

	if cfg.Generator.CacheTTL > 0 {
		cacheDir, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("resolving cache dir: %w", err)
		}
		cache := agent.NewResponseCache(
			storage.NewFileSystem(filepath.Join(cacheDir, "serialist")),
			time.Duration(cfg.Generator.CacheTTL)*time.Second,
			logger)
		gen = agent.NewCachedGenerator(gen, cache)
	}
	return gen, nil
}

func buildOrchestrator(cfg *config.Config, store story.Store, gen agent.Generator, logger *slog.Logger) *orchestrator.Orchestrator {
	extractor := textsig.NewKeywordExtractor(textsig.DefaultSignalSets(), textsig.DefaultToneSets())

	deps := orchestrator.Deps{
		Store:     store,
		Generator: gen,
		Context:   continuity.NewBuilder(12, logger),
		Pacing:    pacing.NewController(pacing.DefaultConfig(), extractor, logger),
		Thresholds: threshold.NewAgent(threshold.Config{
			Default:         cfg.Quality.Threshold,
			Band:            cfg.Quality.Band,
			HardFloor:       cfg.Quality.HardFloor,
			AcceptableFloor: cfg.Quality.AcceptableFloor,
			MaxAttempts:     cfg.Quality.MaxAttempts,
		}, extractor, logger),
		Gateway:  quality.NewGateway(quality.DefaultEngines(extractor), logger),
		Selector: strategy.NewSelector(strategy.DefaultStrategies(), logger),
		Decider: decision.NewEngine(decision.Config{
			CompletionThreshold: cfg.Decision.CompletionThreshold,
			StalenessLimit:      time.Duration(cfg.Decision.StalenessHours) * time.Hour,
			MaxActiveWorks:      cfg.Decision.MaxActiveWorks,
			ContinueCost:        2.0,
			CreateCost:          2.5,
			CompleteCost:        2.2,
		}, logger),
		Extractor: extractor,
	}

	ocfg := orchestrator.Config{
		ContextBudget:    cfg.Pipeline.ContextBudget,
		MaxPacingRetries: cfg.Pipeline.MaxPacingRetries,
		SessionBudget:    cfg.Budget.Session,
		MinRunInterval:   time.Duration(cfg.Pipeline.MinRunIntervalSeconds) * time.Second,
	}
	return orchestrator.New(deps, ocfg, logger)
}

func serveDaemon(cfg *config.Config, orc *orchestrator.Orchestrator, store story.Store, logger *slog.Logger) error {
	handlers := api.NewHandlers(orc, store, logger)
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.NewRouter(handlers, logger),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Limits.RunTimeout + 30*time.Second,
	}

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		var err error
		sched, err = scheduler.New(orc,
			time.Duration(cfg.Scheduler.IntervalMinutes)*time.Minute,
			cfg.Limits.RunTimeout,
			logger)
		if err != nil {
			return err
		}
		if err := sched.Start(); err != nil {
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig)
	}

	if sched != nil {
		if err := sched.Shutdown(); err != nil {
			logger.Warn("scheduler shutdown", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
