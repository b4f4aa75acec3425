// Package service implements the decision engine on top of the ports:
// evaluation, confidence thresholds, the action lanes, coordination and the
// emergency protocol.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	cfotel "github.com/Strob0t/decisiongate/internal/adapter/otel"
	"github.com/Strob0t/decisiongate/internal/config"
	"github.com/Strob0t/decisiongate/internal/domain"
	"github.com/Strob0t/decisiongate/internal/domain/action"
	"github.com/Strob0t/decisiongate/internal/domain/coordination"
	"github.com/Strob0t/decisiongate/internal/domain/criteria"
	"github.com/Strob0t/decisiongate/internal/domain/outcome"
	"github.com/Strob0t/decisiongate/internal/domain/threshold"
	"github.com/Strob0t/decisiongate/internal/port/broadcast"
	"github.com/Strob0t/decisiongate/internal/port/cache"
	"github.com/Strob0t/decisiongate/internal/port/executor"
	"github.com/Strob0t/decisiongate/internal/port/health"
	"github.com/Strob0t/decisiongate/internal/port/messagequeue"
	"github.com/Strob0t/decisiongate/internal/port/notifier"
	"github.com/Strob0t/decisiongate/internal/port/persistence"
	"github.com/Strob0t/decisiongate/internal/port/reviewer"
	"github.com/Strob0t/decisiongate/internal/port/subsystem"
)

// Deps are the adapters an Engine is built from. Only Store, Executor and
// Checker are required.
type Deps struct {
	Store      persistence.Store
	Executor   executor.ActionExecutor
	Reviewer   reviewer.Reviewer
	Checker    health.Checker
	Cache      cache.Cache
	Queue      messagequeue.Queue
	Hub        broadcast.Broadcaster
	Notifiers  []notifier.Notifier
	Subsystems *subsystem.Registry
	Metrics    *cfotel.Metrics
}

// Engine owns one instance of every service. Nothing is process-global, so
// several engines can coexist in one process.
type Engine struct {
	Evaluator     *EvaluatorService
	Thresholds    *ThresholdManager
	Executor      *ExecutorService
	Coordination  *CoordinationService
	Emergency     *EmergencyMonitor
	Notifications *NotificationService
	Scheduler     *SchedulerService
	Health        *CachedHealth

	store persistence.Store
	queue messagequeue.Queue
}

// Submission is the result of submitting a candidate batch.
type Submission struct {
	Action  action.Action     `json:"action"`
	Options []criteria.Option `json:"options"`
}

// NewEngine builds all services from cfg and deps.
func NewEngine(cfg *config.Config, deps Deps) (*Engine, error) {
	if deps.Store == nil || deps.Executor == nil || deps.Checker == nil {
		return nil, fmt.Errorf("engine: store, executor and health checker are required")
	}
	hub := orNop(deps.Hub)

	registry, err := criteriaRegistry(cfg.Criteria)
	if err != nil {
		return nil, fmt.Errorf("engine: criteria: %w", err)
	}
	evaluator := NewEvaluatorService(registry, hub)
	evaluator.SetMetrics(deps.Metrics)

	thresholds := NewThresholdManager(
		thresholdPolicy(cfg.Threshold),
		map[action.Level]float64{
			action.LevelAutonomous: cfg.Threshold.Autonomous,
			action.LevelAdvisory:   cfg.Threshold.Advisory,
			action.LevelEmergency:  cfg.Threshold.Emergency,
		},
		cfg.Threshold.CheckInterval,
		deps.Store,
		deps.Queue,
		hub,
		deps.Metrics,
	)
	for capability, levels := range cfg.Threshold.Overrides {
		for level, v := range levels {
			if err := thresholds.SetOverride(action.Capability(capability), action.Level(strings.ToUpper(level)), v); err != nil {
				return nil, fmt.Errorf("engine: threshold override %s/%s: %w", capability, level, err)
			}
		}
	}

	exec := NewExecutorService(cfg.Queue, cfg.Executor, thresholds, thresholds, deps.Executor, deps.Reviewer)
	exec.SetPublisher(deps.Queue, hub)
	exec.SetMetrics(deps.Metrics)

	checker := NewCachedHealth(deps.Checker, deps.Cache, cfg.Health.CacheTTL)
	notifications := NewNotificationService(deps.Notifiers, nil, cfg.Notify.RatePerMinute, cfg.Notify.Burst)

	monitor := NewEmergencyMonitor(cfg.Emergency, exec, checker, thresholds, deps.Store, notifications)
	monitor.SetPublisher(deps.Queue, hub)
	monitor.SetMetrics(deps.Metrics)

	rules, err := coordination.LoadRules(cfg.Orchestrator.RulesFile)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	coord, err := NewCoordinationService(cfg.Orchestrator, rules, deps.Subsystems, checker, monitor, notifications, deps.Store)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	coord.SetPublisher(deps.Queue, hub)
	coord.SetMetrics(deps.Metrics)

	return &Engine{
		Evaluator:     evaluator,
		Thresholds:    thresholds,
		Executor:      exec,
		Coordination:  coord,
		Emergency:     monitor,
		Notifications: notifications,
		Scheduler:     NewSchedulerService(time.Second),
		Health:        checker,
		store:         deps.Store,
		queue:         deps.Queue,
	}, nil
}

func criteriaRegistry(cfg config.Criteria) (*criteria.Registry, error) {
	registry := criteria.NewDefaultRegistry()
	for capability, weights := range cfg.Weights {
		key := capability
		if key == "global" {
			key = criteria.Global
		}
		if _, err := registry.UpdateWeights(key, weights); err != nil {
			return nil, fmt.Errorf("weights for %q: %w", capability, err)
		}
	}
	return registry, nil
}

func thresholdPolicy(cfg config.Threshold) threshold.Policy {
	p := threshold.DefaultPolicy()
	if cfg.Floor > 0 {
		p.Floor = cfg.Floor
	}
	if cfg.Ceiling > 0 {
		p.Ceiling = cfg.Ceiling
	}
	if cfg.WindowSize > 0 {
		p.WindowSize = cfg.WindowSize
	}
	if cfg.RecentSize > 0 {
		p.RecentSize = cfg.RecentSize
	}
	if cfg.MinNewSamples > 0 {
		p.MinNewSamples = cfg.MinNewSamples
	}
	if cfg.Cooldown > 0 {
		p.Cooldown = cfg.Cooldown
	}
	if cfg.LowerStep > 0 {
		p.LowerStep = cfg.LowerStep
	}
	if cfg.RaiseStep > 0 {
		p.RaiseStep = cfg.RaiseStep
	}
	if cfg.HighWater > 0 {
		p.HighWater = cfg.HighWater
	}
	if cfg.LowWater > 0 {
		p.LowWater = cfg.LowWater
	}
	return p
}

// knownCapabilities are warmed from persistence on start-up.
var knownCapabilities = []action.Capability{
	action.CapabilityGovernance,
	action.CapabilityTreasury,
	action.CapabilityCommunity,
	action.CapabilitySecurity,
	action.CapabilityAnalytics,
	action.CapabilityDevelopment,
}

// Submit evaluates a batch of mutually exclusive candidates and enqueues the
// best option.
func (e *Engine) Submit(ctx context.Context, candidates []action.Candidate) (Submission, error) {
	opts, err := e.Evaluator.Evaluate(ctx, candidates)
	if err != nil {
		return Submission{}, err
	}
	best := &opts[0]
	var chosen *action.Candidate
	for i := range candidates {
		if candidates[i].ID == best.CandidateID {
			chosen = &candidates[i]
			break
		}
	}
	if chosen == nil {
		return Submission{}, fmt.Errorf("best option %s: %w", best.CandidateID, domain.ErrNotFound)
	}
	a, err := e.Executor.Enqueue(ctx, chosen, best)
	if err != nil {
		return Submission{Options: opts}, err
	}
	return Submission{Action: a, Options: opts}, nil
}

// Run warms the thresholds, registers scheduled rules, subscribes the ingress
// when a queue is configured and runs every loop until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	keys := make([]outcome.Key, 0, len(knownCapabilities)*len(action.Levels))
	for _, c := range knownCapabilities {
		for _, l := range action.Levels {
			keys = append(keys, outcome.Key{Capability: c, Level: l})
		}
	}
	if err := e.Thresholds.Warm(ctx, keys); err != nil {
		slog.Warn("threshold warm-up failed, starting cold", "error", err)
	}
	if err := e.Coordination.RegisterSchedules(e.Scheduler); err != nil {
		return fmt.Errorf("register schedules: %w", err)
	}

	if e.queue != nil {
		stop, err := NewIngress(e, e.queue).Start(ctx)
		if err != nil {
			return fmt.Errorf("start ingress: %w", err)
		}
		defer stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.Executor.Run(gctx) })
	g.Go(func() error { return e.Thresholds.Run(gctx) })
	g.Go(func() error { return e.Emergency.Run(gctx) })
	g.Go(func() error { return e.Scheduler.Run(gctx) })

	slog.Info("decision engine running")
	err := g.Wait()
	slog.Info("decision engine stopped")
	return err
}
