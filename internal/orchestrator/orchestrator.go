// Package orchestrator drives one full production cycle: decide what to
// work on, assemble context, generate a candidate, re-validate pacing,
// gate on quality, and commit. Every run is charged against the session
// cost ledger.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vampirenirmal/serialist/internal/agent"
	"github.com/vampirenirmal/serialist/internal/continuity"
	"github.com/vampirenirmal/serialist/internal/decision"
	"github.com/vampirenirmal/serialist/internal/pacing"
	"github.com/vampirenirmal/serialist/internal/quality"
	"github.com/vampirenirmal/serialist/internal/story"
	"github.com/vampirenirmal/serialist/internal/strategy"
	"github.com/vampirenirmal/serialist/internal/textsig"
	"github.com/vampirenirmal/serialist/internal/threshold"
	serrors "github.com/vampirenirmal/serialist/pkg/serial/errors"
)

// ErrRunInProgress rejects overlapping triggers; runs are single-flight.
var ErrRunInProgress = errors.New("production run already in progress")

// ErrRanTooRecently debounces scheduled triggers. Forced runs bypass it.
var ErrRanTooRecently = errors.New("last run too recent")

type Config struct {
	// ContextBudget caps the rendered continuity context, in characters.
	ContextBudget int
	// MaxPacingRetries bounds regeneration after a pacing rejection or an
	// unparsable response.
	MaxPacingRetries int
	// SessionBudget seeds the cost ledger.
	SessionBudget float64
	// MinRunInterval debounces scheduled runs. Zero disables the debounce.
	MinRunInterval time.Duration
	// Seeds are the premises new works draw from, round-robin. Empty uses
	// the stock set.
	Seeds []story.WorkMetadata
}

func DefaultConfig() Config {
	return Config{
		ContextBudget:    4000,
		MaxPacingRetries: 2,
		SessionBudget:    100,
	}
}

// Deps are the orchestrator's collaborators, injected so tests can swap the
// generator and store.
type Deps struct {
	Store      story.Store
	Generator  agent.Generator
	Context    *continuity.Builder
	Pacing     *pacing.Controller
	Thresholds *threshold.Agent
	Gateway    *quality.Gateway
	Selector   *strategy.Selector
	Decider    *decision.Engine
	Extractor  textsig.Extractor
}

type Orchestrator struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
	clock  func() time.Time

	mu      sync.Mutex
	running bool
	ledger  strategy.Ledger
	lastRun time.Time
	seedIdx int
}

func New(deps Deps, cfg Config, logger *slog.Logger) *Orchestrator {
	if len(cfg.Seeds) == 0 {
		cfg.Seeds = defaultSeeds()
	}
	return &Orchestrator{
		deps:   deps,
		cfg:    cfg,
		logger: logger.With("component", "orchestrator"),
		clock:  time.Now,
		ledger: strategy.NewLedger(cfg.SessionBudget),
	}
}

// RunRequest is one external trigger.
type RunRequest struct {
	// Force bypasses the run-interval debounce.
	Force bool
	// ForceAction overrides the decision engine with a specific action.
	// Empty means decide normally. The budget veto is not bypassed.
	ForceAction decision.Action
	// DryRun executes the decision and prompt assembly but stops before the
	// generator; nothing is persisted.
	DryRun bool
}

// RunResult reports what one cycle did.
type RunResult struct {
	Decision    *decision.Decision     `json:"decision"`
	WorkID      string                 `json:"work_id,omitempty"`
	Chapter     *story.Chapter         `json:"chapter,omitempty"`
	Report      *story.QualityReport   `json:"report,omitempty"`
	Strategy    string                 `json:"strategy,omitempty"`
	Adjustments []threshold.Adjustment `json:"adjustments,omitempty"`
	Ledger      strategy.Ledger        `json:"ledger"`
	Completed   bool                   `json:"completed,omitempty"`
	DryRun      bool                   `json:"dry_run,omitempty"`
	Prompt      string                 `json:"prompt,omitempty"`
}

// Ledger returns the current session ledger snapshot.
func (o *Orchestrator) Ledger() strategy.Ledger {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ledger
}

// RunOnce executes one full production cycle.
func (o *Orchestrator) RunOnce(ctx context.Context, req RunRequest) (*RunResult, error) {
	if err := o.begin(req.Force); err != nil {
		return nil, err
	}
	defer o.end()

	start := o.clock()
	o.logger.Info("run started",
		"force", req.Force,
		"force_action", req.ForceAction,
		"dry_run", req.DryRun)

	snapshots, err := o.snapshotWorks(ctx)
	if err != nil {
		return nil, err
	}

	var dec *decision.Decision
	if req.ForceAction != "" {
		dec, err = o.deps.Decider.Forced(req.ForceAction, snapshots, o.Ledger())
	} else {
		dec, err = o.deps.Decider.Decide(snapshots, o.Ledger(), start)
	}
	if err != nil {
		return nil, err
	}

	result := &RunResult{Decision: dec, DryRun: req.DryRun}
	switch dec.Action {
	case decision.ActionCreate:
		err = o.runCreate(ctx, req, result)
	case decision.ActionContinue:
		err = o.runContinue(ctx, req, dec.WorkID, result)
	case decision.ActionComplete:
		err = o.runComplete(ctx, req, dec.WorkID, result)
	default:
		err = fmt.Errorf("unknown action %q", dec.Action)
	}
	result.Ledger = o.Ledger()
	if err != nil {
		o.logger.Error("run failed",
			"action", dec.Action,
			"work_id", dec.WorkID,
			"duration_ms", o.clock().Sub(start).Milliseconds(),
			"error", err)
		return result, err
	}

	o.logger.Info("run finished",
		"action", dec.Action,
		"work_id", result.WorkID,
		"strategy", result.Strategy,
		"spent", result.Ledger.Spent,
		"tier", result.Ledger.Tier(),
		"duration_ms", o.clock().Sub(start).Milliseconds())
	return result, nil
}

func (o *Orchestrator) begin(force bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return ErrRunInProgress
	}
	if !force && o.cfg.MinRunInterval > 0 && !o.lastRun.IsZero() {
		if since := o.clock().Sub(o.lastRun); since < o.cfg.MinRunInterval {
			return fmt.Errorf("%w: %s since last run, interval %s",
				ErrRanTooRecently, since.Round(time.Second), o.cfg.MinRunInterval)
		}
	}
	o.running = true
	return nil
}

func (o *Orchestrator) end() {
	o.mu.Lock()
	o.running = false
	o.lastRun = o.clock()
	o.mu.Unlock()
}

func (o *Orchestrator) snapshotWorks(ctx context.Context) ([]decision.WorkSnapshot, error) {
	works, err := o.deps.Store.ListWorks(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing works: %w", err)
	}
	snapshots := make([]decision.WorkSnapshot, 0, len(works))
	for _, w := range works {
		state, err := o.deps.Store.Load(ctx, w.ID)
		if err != nil {
			return nil, fmt.Errorf("loading work %s: %w", w.ID, err)
		}
		snapshots = append(snapshots, decision.WorkSnapshot{
			ID:            w.ID,
			Title:         w.Title,
			Status:        w.Status,
			PlotProgress:  state.PlotProgress,
			LastChapterAt: state.LastChapterAt,
			UpdatedAt:     w.UpdatedAt,
		})
	}
	return snapshots, nil
}

func (o *Orchestrator) runCreate(ctx context.Context, req RunRequest, result *RunResult) error {
	seed := o.nextSeed()
	if req.DryRun {
		// Creation mutates the store, so a dry run stops at the decision.
		result.Prompt = fmt.Sprintf("would create %q (%d chapters planned)", seed.Title, seed.TargetChapters)
		return nil
	}

	state, err := o.deps.Store.Create(ctx, seed)
	if err != nil {
		return fmt.Errorf("creating work: %w", err)
	}
	result.WorkID = state.Work.ID
	o.logger.Info("created work", "work_id", state.Work.ID, "title", state.Work.Title)

	// The new work gets its opening chapter in the same run.
	return o.produceAndCommit(ctx, req, state, false, result)
}

func (o *Orchestrator) runContinue(ctx context.Context, req RunRequest, workID string, result *RunResult) error {
	state, err := o.deps.Store.Load(ctx, workID)
	if err != nil {
		return err
	}
	result.WorkID = workID
	return o.produceAndCommit(ctx, req, state, false, result)
}

func (o *Orchestrator) runComplete(ctx context.Context, req RunRequest, workID string, result *RunResult) error {
	state, err := o.deps.Store.Load(ctx, workID)
	if err != nil {
		return err
	}
	result.WorkID = workID
	if err := o.produceAndCommit(ctx, req, state, true, result); err != nil {
		return err
	}
	if req.DryRun {
		return nil
	}
	if err := o.deps.Store.MarkComplete(ctx, workID); err != nil {
		return fmt.Errorf("marking work complete: %w", err)
	}
	result.Completed = true
	o.logger.Info("work completed", "work_id", workID, "chapters", state.CurrentChapter+1)
	return nil
}

// produceAndCommit runs generate -> parse -> pacing -> quality -> commit for
// one chapter of the given work.
func (o *Orchestrator) produceAndCommit(ctx context.Context, req RunRequest, state *story.StoryState, final bool, result *RunResult) error {
	cons := o.deps.Pacing.ConstraintsFor(state)
	cctx, err := o.deps.Context.Build(state, o.cfg.ContextBudget)
	if err != nil {
		return fmt.Errorf("building context: %w", err)
	}

	strat, err := o.deps.Selector.Select(o.deriveSignals(state, final), o.Ledger())
	if err != nil {
		return err
	}
	result.Strategy = strat.Name

	prompt := composePrompt(state, cctx, cons, final, nil)
	if req.DryRun {
		result.Prompt = prompt
		return nil
	}

	parsed, assessment, cost, err := o.generateValid(ctx, state, cctx, cons, strat, final, prompt)
	if err != nil {
		if cost > 0 {
			o.observe(strat, cost, 0)
		}
		return err
	}

	profile, adjustments := o.deps.Thresholds.ProfileFor(parsed.Body, state)
	result.Adjustments = adjustments

	review, err := o.deps.Gateway.Review(ctx, &quality.Candidate{
		Body:      parsed.Body,
		Summary:   parsed.Summary,
		KeyEvents: parsed.KeyEvents,
		Tone:      parsed.Tone,
		State:     state,
	}, profile)
	if err != nil {
		o.observe(strat, cost, 0)
		return err
	}

	// Repairs may have changed the body; the delta must describe what is
	// actually committed.
	body := review.Body
	if body != parsed.Body {
		if a, verr := o.deps.Pacing.Validate(state, body); verr == nil {
			assessment = a
		}
	}

	now := o.clock()
	chapter := &story.Chapter{
		WorkID:        state.Work.ID,
		Number:        state.CurrentChapter + 1,
		Title:         chapterTitle(parsed.Title, state.CurrentChapter+1),
		Body:          body,
		Summary:       parsed.Summary,
		KeyEvents:     parsed.KeyEvents,
		EmotionalTone: parsed.Tone,
		WordCount:     len(strings.Fields(body)),
		Quality:       review.Report,
		Degraded:      review.Degraded,
		Final:         final,
		CreatedAt:     now,
	}

	delta := story.StateDelta{
		ProgressDelta:     assessment.ProgressDelta,
		CharacterStates:   knownCharacterStates(state, parsed.CharacterStates),
		NewConflicts:      parsed.NewConflicts,
		ResolvedConflicts: parsed.ResolvedConflicts,
		PlantedHints:      parsed.PlantedHints,
		ResolvedHints:     parsed.ResolvedHints,
	}
	if final {
		// The finale burns whatever plot remains.
		delta.ProgressDelta = 100
	}

	if _, err := o.deps.Store.CommitChapter(ctx, state.Work.ID, chapter, delta); err != nil {
		o.observe(strat, cost, 0)
		return fmt.Errorf("committing chapter %d: %w", chapter.Number, err)
	}

	o.observe(strat, cost, review.Report.Composite)
	result.Chapter = chapter
	result.Report = review.Report
	return nil
}

// generateValid runs the generate/parse/pacing loop, feeding rejection
// reasons back into the prompt, up to the configured retry bound.
func (o *Orchestrator) generateValid(ctx context.Context, state *story.StoryState, cctx *continuity.Context, cons *pacing.Constraints, strat strategy.Strategy, final bool, prompt string) (*parsedChapter, *pacing.Assessment, float64, error) {
	var totalCost float64
	var lastErr error

	for attempt := 0; attempt <= o.cfg.MaxPacingRetries; attempt++ {
		resp, err := o.deps.Generator.Generate(ctx, agent.Request{
			System:      narratorSystem,
			Prompt:      prompt,
			MaxTokens:   strat.MaxTokens,
			Temperature: strat.Temperature,
		})
		if err != nil {
			return nil, nil, totalCost, err
		}
		totalCost += generationCost(strat, resp)

		parsed, err := parseChapter(resp.Text, o.deps.Extractor)
		if err != nil {
			lastErr = err
			o.logger.Warn("unparsable generation output",
				"work_id", state.Work.ID,
				"attempt", attempt,
				"error", err)
			prompt = composePrompt(state, cctx, cons, final,
				[]string{"the response did not follow the required section format"})
			continue
		}

		assessment, err := o.deps.Pacing.Validate(state, parsed.Body)
		if err != nil {
			if !errors.Is(err, serrors.ErrPacingViolation) {
				return nil, nil, totalCost, err
			}
			lastErr = err
			notes := make([]string, 0, len(assessment.Violations))
			for _, v := range assessment.Violations {
				notes = append(notes, v.Detail)
			}
			o.logger.Warn("pacing rejection, regenerating",
				"work_id", state.Work.ID,
				"attempt", attempt,
				"violations", strings.Join(notes, "; "))
			prompt = composePrompt(state, cctx, cons, final, notes)
			continue
		}

		return parsed, assessment, totalCost, nil
	}
	return nil, nil, totalCost, fmt.Errorf("no valid candidate after %d attempts: %w",
		o.cfg.MaxPacingRetries+1, lastErr)
}

func (o *Orchestrator) observe(strat strategy.Strategy, cost, achieved float64) {
	o.mu.Lock()
	ledger := o.ledger
	o.mu.Unlock()
	charged := o.deps.Selector.Observe(ledger, strat, cost, achieved)
	o.mu.Lock()
	o.ledger = charged
	o.mu.Unlock()
}

// deriveSignals maps story state onto the strategy selector's inputs.
func (o *Orchestrator) deriveSignals(state *story.StoryState, final bool) strategy.Signals {
	var s strategy.Signals

	switch state.Stage {
	case story.StageClimax:
		s.PlotImportance = 0.9
	case story.StageResolution:
		s.PlotImportance = 0.8
	case story.StageDevelopment:
		s.PlotImportance = 0.5
	default:
		s.PlotImportance = 0.4
	}
	if nearBoundary(state.PlotProgress) {
		s.PlotImportance += 0.1
	}
	if final {
		s.PlotImportance = 1.0
	}

	s.DropoutRisk = 0.2
	if avg, ok := recentAverage(state.QualityHistory, 3); ok && avg < 7.5 {
		s.DropoutRisk += 0.4
	}
	if !state.LastChapterAt.IsZero() {
		if idle := o.clock().Sub(state.LastChapterAt); idle > 72*time.Hour {
			s.DropoutRisk += 0.3
		}
	}

	s.Urgency = 0.3
	if final {
		s.Urgency = 0.8
	}

	return clampSignals(s)
}

func nearBoundary(progress float64) bool {
	for _, b := range []float64{25, 50, 75} {
		if progress < b && b-progress <= 5 {
			return true
		}
	}
	return false
}

func recentAverage(history []float64, n int) (float64, bool) {
	if len(history) < n {
		return 0, false
	}
	tail := history[len(history)-n:]
	sum := 0.0
	for _, v := range tail {
		sum += v
	}
	return sum / float64(n), true
}

func clampSignals(s strategy.Signals) strategy.Signals {
	s.DropoutRisk = clamp01(s.DropoutRisk)
	s.PlotImportance = clamp01(s.PlotImportance)
	s.Urgency = clamp01(s.Urgency)
	return s
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// generationCost scales the strategy's cost envelope by how much of the
// token budget the response actually used.
func generationCost(strat strategy.Strategy, resp *agent.Response) float64 {
	if strat.MaxTokens <= 0 {
		return strat.EstimatedCost
	}
	ratio := float64(resp.OutputTokens) / float64(strat.MaxTokens)
	if ratio < 0.25 {
		ratio = 0.25
	}
	if ratio > 1.5 {
		ratio = 1.5
	}
	return strat.EstimatedCost * ratio
}

// knownCharacterStates drops state updates for characters the work does not
// have; generators invent bystanders and the commit would reject the whole
// delta otherwise.
func knownCharacterStates(state *story.StoryState, updates map[string]story.CharacterState) map[string]story.CharacterState {
	if len(updates) == 0 {
		return nil
	}
	out := make(map[string]story.CharacterState)
	for name, st := range updates {
		if state.Character(name) != nil {
			out[name] = st
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func chapterTitle(parsed string, number int) string {
	if parsed != "" {
		return parsed
	}
	return fmt.Sprintf("Chapter %d", number)
}

func (o *Orchestrator) nextSeed() story.WorkMetadata {
	o.mu.Lock()
	defer o.mu.Unlock()
	seed := o.cfg.Seeds[o.seedIdx%len(o.cfg.Seeds)]
	o.seedIdx++
	return seed
}
