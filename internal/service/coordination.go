package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"

	cfotel "github.com/Strob0t/decisiongate/internal/adapter/otel"
	"github.com/Strob0t/decisiongate/internal/config"
	"github.com/Strob0t/decisiongate/internal/domain"
	"github.com/Strob0t/decisiongate/internal/domain/coordination"
	"github.com/Strob0t/decisiongate/internal/domain/schedule"
	"github.com/Strob0t/decisiongate/internal/port/broadcast"
	"github.com/Strob0t/decisiongate/internal/port/health"
	"github.com/Strob0t/decisiongate/internal/port/messagequeue"
	"github.com/Strob0t/decisiongate/internal/port/notifier"
	"github.com/Strob0t/decisiongate/internal/port/persistence"
	"github.com/Strob0t/decisiongate/internal/port/scheduler"
	"github.com/Strob0t/decisiongate/internal/port/subsystem"
)

// Tripper opens the emergency breaker.
type Tripper interface {
	Trip(ctx context.Context, reason string) error
}

// CoordinationService runs coordination rules: ordered steps across
// subsystems, aborting on the first failure and escalating through the
// rule's fallback exactly once. Every run is recorded in the audit log.
type CoordinationService struct {
	rules      map[string]coordination.Rule
	subsystems *subsystem.Registry
	checker    health.Checker
	tripper    Tripper
	notify     *NotificationService
	store      persistence.Store
	queue      messagequeue.Queue
	hub        broadcast.Broadcaster
	metrics    *cfotel.Metrics

	sem      *semaphore.Weighted
	logLimit int

	mu     sync.Mutex
	events []coordination.Event // oldest first, bounded by logLimit

	now   func() time.Time
	newID func() string
}

// NewCoordinationService validates rules and creates the orchestrator.
// tripper, notify and store may be nil.
func NewCoordinationService(
	cfg config.Orchestrator,
	rules map[string]coordination.Rule,
	subsystems *subsystem.Registry,
	checker health.Checker,
	tripper Tripper,
	notify *NotificationService,
	store persistence.Store,
) (*CoordinationService, error) {
	for trigger, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("coordination rule %s: %w", trigger, err)
		}
	}
	if subsystems == nil {
		subsystems = subsystem.NewRegistry()
	}
	s := &CoordinationService{
		rules:      maps.Clone(rules),
		subsystems: subsystems,
		checker:    checker,
		tripper:    tripper,
		notify:     notify,
		store:      store,
		hub:        broadcast.Nop{},
		sem:        semaphore.NewWeighted(max(cfg.MaxConcurrentRuns, 1)),
		logLimit:   cfg.EventLogLimit,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	if s.logLimit <= 0 {
		s.logLimit = 1000
	}
	return s, nil
}

// SetPublisher sets the message queue and broadcaster for coordination events.
func (s *CoordinationService) SetPublisher(q messagequeue.Queue, hub broadcast.Broadcaster) {
	s.queue = q
	s.hub = orNop(hub)
}

// SetMetrics sets the metric instruments.
func (s *CoordinationService) SetMetrics(m *cfotel.Metrics) { s.metrics = m }

// SetTripper sets the emergency breaker invoked by circuit_breaker fallbacks.
func (s *CoordinationService) SetTripper(t Tripper) { s.tripper = t }

// RunCoordination runs the rule for trigger and returns its audit event.
// An unknown trigger yields an event with status error.
func (s *CoordinationService) RunCoordination(ctx context.Context, trigger string, payload map[string]any) coordination.Event {
	start := s.now()
	ev := coordination.Event{
		ID:        s.newID(),
		Trigger:   trigger,
		Timestamp: start,
		Payload:   payload,
		Steps:     []coordination.StepResult{},
	}
	ctx, span := cfotel.StartCoordinationSpan(ctx, ev.ID, trigger)
	defer span.End()

	rule, ok := s.rules[trigger]
	if !ok {
		ev.Status = coordination.StatusError
		ev.Error = fmt.Sprintf("unknown trigger %q", trigger)
		span.SetStatus(codes.Error, ev.Error)
		s.record(ctx, &ev, start)
		return ev
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		ev.Status = coordination.StatusError
		ev.Error = fmt.Sprintf("waiting for a run slot: %v", err)
		span.SetStatus(codes.Error, ev.Error)
		s.record(ctx, &ev, start)
		return ev
	}
	defer s.sem.Release(1)

	input := maps.Clone(payload)
	if input == nil {
		input = make(map[string]any)
	}
	ev.Status = coordination.StatusSuccess
	for i, step := range rule.Steps {
		res := s.runStep(ctx, i+1, step, input)
		ev.Steps = append(ev.Steps, res)
		if res.Status == coordination.StepFailed {
			ev.Status = coordination.StatusFailed
			ev.Error = res.Error
			ev.Fallback = s.escalate(ctx, &rule, &res)
			span.SetStatus(codes.Error, res.Error)
			break
		}
		maps.Copy(input, res.Output)
	}

	s.record(ctx, &ev, start)
	return ev
}

// runStep checks the target's health and invokes the operation. An unhealthy
// or unknown target fails the step without invoking anything.
func (s *CoordinationService) runStep(ctx context.Context, index int, step coordination.Step, input map[string]any) coordination.StepResult {
	ctx, span := cfotel.StartStepSpan(ctx, index, step.Target, step.Operation)
	defer span.End()

	res := coordination.StepResult{
		Index:     index,
		Target:    step.Target,
		Operation: step.Operation,
		StartedAt: s.now(),
	}
	out, err := s.invoke(ctx, step, input)
	res.Duration = s.now().Sub(res.StartedAt)
	if err != nil {
		res.Status = coordination.StepFailed
		res.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Warn("coordination step failed", "index", index, "target", step.Target, "operation", step.Operation, "error", err)
		return res
	}
	res.Status = coordination.StepSuccess
	res.Output = out
	return res
}

func (s *CoordinationService) invoke(ctx context.Context, step coordination.Step, input map[string]any) (out map[string]any, err error) {
	sub, ok := s.subsystems.Get(step.Target)
	if !ok {
		return nil, fmt.Errorf("subsystem %s: %w", step.Target, domain.ErrNotFound)
	}
	if s.checker != nil {
		r, herr := s.checker.GetStatus(ctx, step.Target)
		if herr != nil {
			return nil, &domain.SubsystemUnavailableError{Subsystem: step.Target, Status: string(health.StatusError)}
		}
		if !r.Healthy() {
			return nil, &domain.SubsystemUnavailableError{Subsystem: step.Target, Status: string(r.Status)}
		}
	}

	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("subsystem %s panicked: %v", step.Target, r)
		}
	}()
	return sub.Invoke(ctx, step.Operation, maps.Clone(input))
}

// escalate runs the rule's fallback for a failed step.
func (s *CoordinationService) escalate(ctx context.Context, rule *coordination.Rule, failed *coordination.StepResult) *coordination.Escalation {
	esc := &coordination.Escalation{
		Strategy:   rule.Fallback,
		Reason:     fmt.Sprintf("step %d %s.%s failed: %s", failed.Index, failed.Target, failed.Operation, failed.Error),
		FailedStep: failed.Index,
		CreatedAt:  s.now(),
	}

	severity := notifier.SeverityWarning
	switch rule.Fallback {
	case coordination.FallbackHumanReview:
		esc.Severity = "medium"
	case coordination.FallbackManualIntervention:
		esc.Severity = "high"
		severity = notifier.SeverityCritical
	case coordination.FallbackCircuitBreaker:
		esc.Severity = "critical"
		severity = notifier.SeverityCritical
		if s.tripper != nil {
			if err := s.tripper.Trip(ctx, "coordination "+rule.Trigger+": "+esc.Reason); err != nil {
				slog.Error("emergency trip from coordination", "trigger", rule.Trigger, "error", err)
			}
		}
	}

	slog.Warn("coordination fallback invoked", "trigger", rule.Trigger, "strategy", rule.Fallback, "failed_step", failed.Index)
	s.notify.Notify(ctx, notifier.Notification{
		Severity: severity,
		Title:    fmt.Sprintf("Coordination %s escalated (%s)", rule.Trigger, rule.Fallback),
		Body:     esc.Reason,
		Source:   "coordination.fallback",
	})
	return esc
}

// record appends ev to the audit log, persists and publishes it.
func (s *CoordinationService) record(ctx context.Context, ev *coordination.Event, start time.Time) {
	ev.Duration = s.now().Sub(start)

	s.mu.Lock()
	s.events = append(s.events, *ev)
	if over := len(s.events) - s.logLimit; over > 0 {
		s.events = s.events[over:]
	}
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.AppendEvent(ctx, *ev); err != nil {
			slog.Error("persist coordination event", "event_id", ev.ID, "error", err)
		}
	}
	payload := messagequeue.CoordinationEventPayload{
		EventID: ev.ID,
		Trigger: ev.Trigger,
		Status:  ev.Status,
		Steps:   len(ev.Steps),
		Error:   ev.Error,
	}
	if ev.Fallback != nil {
		payload.Fallback = string(ev.Fallback.Strategy)
	}
	publishBestEffort(ctx, s.queue, messagequeue.SubjectCoordinationEvents, payload)
	s.hub.BroadcastEvent(ctx, broadcast.EventCoordinationRun, ev)

	if s.metrics != nil {
		s.metrics.CoordinationRuns.Add(ctx, 1, metric.WithAttributes(
			attribute.String("trigger", ev.Trigger),
			attribute.String("status", ev.Status),
		))
	}
	slog.Info("coordination run recorded",
		"event_id", ev.ID,
		"trigger", ev.Trigger,
		"status", ev.Status,
		"steps", len(ev.Steps),
		"duration", ev.Duration.String(),
	)
}

// RegisterSchedules registers every rule with a cadence as a periodic job.
func (s *CoordinationService) RegisterSchedules(sched scheduler.Scheduler) error {
	var errs []error
	for _, r := range coordination.Sorted(s.rules) {
		if r.Cadence == "" {
			continue
		}
		spec, err := schedule.Parse(r.Cadence)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", r.Trigger, err))
			continue
		}
		trigger := r.Trigger
		if err := sched.RegisterPeriodic("coordination:"+trigger, spec, func(ctx context.Context) {
			s.RunCoordination(ctx, trigger, map[string]any{"source": "schedule"})
		}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Rules returns the configured rules ordered by trigger.
func (s *CoordinationService) Rules() []coordination.Rule {
	return coordination.Sorted(s.rules)
}

// Events returns up to limit audit events, newest first. A non-positive
// limit returns the whole retained log.
func (s *CoordinationService) Events(limit int) []coordination.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.events)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]coordination.Event, 0, n)
	for i := len(s.events) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.events[i])
	}
	return out
}
