package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	cfotel "github.com/Strob0t/decisiongate/internal/adapter/otel"
	"github.com/Strob0t/decisiongate/internal/config"
	"github.com/Strob0t/decisiongate/internal/domain"
	"github.com/Strob0t/decisiongate/internal/domain/emergency"
	"github.com/Strob0t/decisiongate/internal/domain/outcome"
	"github.com/Strob0t/decisiongate/internal/port/broadcast"
	"github.com/Strob0t/decisiongate/internal/port/health"
	"github.com/Strob0t/decisiongate/internal/port/messagequeue"
	"github.com/Strob0t/decisiongate/internal/port/notifier"
	"github.com/Strob0t/decisiongate/internal/port/persistence"
)

// ExecutorControl is the part of the executor the emergency protocol drives.
type ExecutorControl interface {
	Pause()
	Resume()
	CancelPending(ctx context.Context, exceptEmergency bool) []string
}

// PerformanceReporter provides threshold performance for forensic snapshots.
type PerformanceReporter interface {
	PerformanceSummary() []outcome.Summary
}

// EmergencyMonitor is the emergency circuit breaker. Consecutive critical
// health signals trip it: non-emergency work is paused and pending actions
// are cancelled. Recovery is attempted after a cooldown with exponential
// backoff; exhausted attempts stop the engine until an operator reset.
type EmergencyMonitor struct {
	tripAfter   int
	cooldown    time.Duration
	maxBackoff  time.Duration
	maxAttempts int
	interval    time.Duration
	monitored   []string

	exec        ExecutorControl
	checker     health.Checker
	performance PerformanceReporter
	store       persistence.Store
	notify      *NotificationService
	queue       messagequeue.Queue
	hub         broadcast.Broadcaster
	metrics     *cfotel.Metrics

	mu     sync.Mutex
	state  emergency.State
	streak []string // subsystems seen in the current run of critical signals

	now   func() time.Time
	newID func() string
}

// NewEmergencyMonitor creates a monitor in the monitoring phase. store,
// performance and notify may be nil.
func NewEmergencyMonitor(
	cfg config.Emergency,
	exec ExecutorControl,
	checker health.Checker,
	performance PerformanceReporter,
	store persistence.Store,
	notify *NotificationService,
) *EmergencyMonitor {
	m := &EmergencyMonitor{
		tripAfter:   max(cfg.TripAfter, 1),
		cooldown:    cfg.Cooldown,
		maxBackoff:  cfg.MaxBackoff,
		maxAttempts: max(cfg.MaxRecoveryAttempts, 1),
		interval:    cfg.PollInterval,
		monitored:   cfg.Monitored,
		exec:        exec,
		checker:     checker,
		performance: performance,
		store:       store,
		notify:      notify,
		hub:         broadcast.Nop{},
		state:       emergency.State{Phase: emergency.PhaseMonitoring},
		now:         time.Now,
		newID:       uuid.NewString,
	}
	if m.cooldown <= 0 {
		m.cooldown = 60 * time.Second
	}
	if m.maxBackoff < m.cooldown {
		m.maxBackoff = max(5*time.Minute, m.cooldown)
	}
	if m.interval <= 0 {
		m.interval = 10 * time.Second
	}
	return m
}

// SetPublisher sets the message queue and broadcaster for state transitions.
func (m *EmergencyMonitor) SetPublisher(q messagequeue.Queue, hub broadcast.Broadcaster) {
	m.queue = q
	m.hub = orNop(hub)
}

// SetMetrics sets the metric instruments.
func (m *EmergencyMonitor) SetMetrics(metrics *cfotel.Metrics) { m.metrics = metrics }

// State returns a snapshot of the protocol state.
func (m *EmergencyMonitor) State() emergency.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *EmergencyMonitor) snapshotLocked() emergency.State {
	st := m.state
	st.TrippedBy = slices.Clone(st.TrippedBy)
	if st.LastSignal != nil {
		sig := *st.LastSignal
		st.LastSignal = &sig
	}
	return st
}

// Signal feeds a health observation. A critical signal increments the
// consecutive counter and trips the breaker when it reaches the limit; a
// non-critical one resets the counter. Signals received while tripped are
// recorded but not counted. Reports whether this signal tripped the breaker.
func (m *EmergencyMonitor) Signal(ctx context.Context, sig emergency.Signal) bool {
	if sig.At.IsZero() {
		sig.At = m.now()
	}
	m.mu.Lock()
	m.state.LastSignal = &sig
	if m.state.Phase != emergency.PhaseMonitoring {
		m.mu.Unlock()
		return false
	}
	if !sig.Critical {
		m.state.ConsecutiveCritical = 0
		m.streak = nil
		m.mu.Unlock()
		return false
	}
	m.state.ConsecutiveCritical++
	count := m.state.ConsecutiveCritical
	for _, name := range strings.Split(sig.Subsystem, ",") {
		if name = strings.TrimSpace(name); name != "" && !slices.Contains(m.streak, name) {
			m.streak = append(m.streak, name)
		}
	}
	trippedBy := slices.Clone(m.streak)
	m.mu.Unlock()

	slog.Warn("critical health signal", "subsystem", sig.Subsystem, "status", sig.Status, "consecutive", count)
	if count < m.tripAfter {
		return false
	}
	reason := fmt.Sprintf("%d consecutive critical signals, last from %s", count, sig.Subsystem)
	if sig.Detail != "" {
		reason += ": " + sig.Detail
	}
	if err := m.trip(ctx, reason, trippedBy); err != nil {
		slog.Error("emergency trip incomplete", "error", err)
	}
	return true
}

// Trip opens the breaker: pauses non-emergency lanes, cancels their pending
// actions, persists a forensic snapshot and notifies. Tripping an already
// tripped breaker is a no-op. The returned error reports a failed snapshot
// write; the breaker is tripped regardless.
func (m *EmergencyMonitor) Trip(ctx context.Context, reason string) error {
	return m.trip(ctx, reason, nil)
}

// trip opens the breaker. Recovery re-checks trippedBy alongside the
// monitored subsystems.
func (m *EmergencyMonitor) trip(ctx context.Context, reason string, trippedBy []string) error {
	now := m.now()
	m.mu.Lock()
	if m.state.Phase != emergency.PhaseMonitoring {
		m.mu.Unlock()
		return nil
	}
	m.streak = nil
	m.state.TrippedBy = trippedBy
	m.state.Paused = true
	m.state.Phase = emergency.PhasePaused
	m.state.Reason = reason
	m.state.TrippedAt = now
	m.state.RecoveryAttempts = 0
	m.state.NextWait = m.cooldown
	m.state.CooldownUntil = now.Add(m.cooldown)
	m.mu.Unlock()

	m.exec.Pause()
	cancelled := m.exec.CancelPending(ctx, true)

	slog.Error("emergency breaker tripped", "reason", reason, "cancelled_pending", len(cancelled))
	if m.metrics != nil {
		m.metrics.EmergencyTrips.Add(ctx, 1)
	}

	m.mu.Lock()
	st := m.snapshotLocked()
	m.mu.Unlock()

	snap := emergency.Snapshot{
		ID:               m.newID(),
		TakenAt:          now,
		Reason:           reason,
		State:            st,
		PendingCancelled: cancelled,
		Health:           m.statuses(ctx, m.watched(st)),
	}
	if m.performance != nil {
		snap.Thresholds = m.performance.PerformanceSummary()
	}

	var err error
	if m.store != nil {
		if serr := m.store.SaveSnapshot(ctx, snap); serr != nil {
			err = fmt.Errorf("save emergency snapshot: %w", serr)
		}
	}

	m.notify.Notify(ctx, notifier.Notification{
		Severity: notifier.SeverityCritical,
		Title:    "Emergency breaker tripped",
		Body:     fmt.Sprintf("%s. %d pending actions cancelled; autonomous execution paused.", reason, len(cancelled)),
		Source:   "emergency.tripped",
	})
	m.emit(ctx, st)
	return err
}

// Step advances recovery. Once the cooldown has elapsed the monitored
// subsystems and those that tripped the breaker are checked: all healthy
// resumes the executor; otherwise the wait doubles up to the maximum backoff. Exhausting the recovery attempts
// stops the engine and returns an EmergencyEscalationError.
func (m *EmergencyMonitor) Step(ctx context.Context) error {
	m.mu.Lock()
	if m.state.Phase != emergency.PhasePaused || m.now().Before(m.state.CooldownUntil) {
		m.mu.Unlock()
		return nil
	}
	watch := m.watched(m.state)
	m.mu.Unlock()

	unhealthy := m.unhealthy(ctx, watch)

	m.mu.Lock()
	if m.state.Phase != emergency.PhasePaused {
		m.mu.Unlock()
		return nil
	}
	if len(unhealthy) == 0 {
		m.state = emergency.State{Phase: emergency.PhaseMonitoring, LastSignal: m.state.LastSignal}
		st := m.snapshotLocked()
		m.mu.Unlock()

		m.exec.Resume()
		slog.Info("emergency breaker cleared, executor resumed")
		m.notify.Notify(ctx, notifier.Notification{
			Severity: notifier.SeverityInfo,
			Title:    "Emergency breaker cleared",
			Body:     "All monitored subsystems are healthy; autonomous execution resumed.",
			Source:   "emergency.recovered",
		})
		m.emit(ctx, st)
		return nil
	}

	m.state.RecoveryAttempts++
	attempts := m.state.RecoveryAttempts
	detail := "unhealthy: " + strings.Join(unhealthy, ", ")
	if attempts >= m.maxAttempts {
		m.state.Phase = emergency.PhaseStopped
		m.state.CooldownUntil = time.Time{}
		m.state.NextWait = 0
		st := m.snapshotLocked()
		m.mu.Unlock()

		escalation := &domain.EmergencyEscalationError{Attempts: attempts, Reason: detail}
		slog.Error("emergency recovery exhausted, engine stopped", "attempts", attempts, "unhealthy", unhealthy)
		m.notify.Notify(ctx, notifier.Notification{
			Severity: notifier.SeverityCritical,
			Title:    "Emergency recovery exhausted",
			Body:     escalation.Error() + ". Operator reset required.",
			Source:   "emergency.stopped",
		})
		m.emit(ctx, st)
		return escalation
	}

	m.state.NextWait = emergency.NextBackoff(m.state.NextWait, m.maxBackoff)
	m.state.CooldownUntil = m.now().Add(m.state.NextWait)
	st := m.snapshotLocked()
	m.mu.Unlock()

	slog.Warn("emergency recovery attempt failed", "attempt", attempts, "unhealthy", unhealthy, "next_wait", st.NextWait.String())
	m.emit(ctx, st)
	return nil
}

// Reset returns a stopped engine to monitoring and resumes the executor.
func (m *EmergencyMonitor) Reset(ctx context.Context, operator string) error {
	if operator == "" {
		return domain.NewValidationError("operator", "is required")
	}
	m.mu.Lock()
	if m.state.Phase != emergency.PhaseStopped {
		phase := m.state.Phase
		m.mu.Unlock()
		return fmt.Errorf("reset in phase %s: %w", phase, domain.ErrInvalidTransition)
	}
	m.state = emergency.State{Phase: emergency.PhaseMonitoring, LastSignal: m.state.LastSignal}
	st := m.snapshotLocked()
	m.mu.Unlock()

	m.exec.Resume()
	slog.Warn("emergency breaker reset by operator", "operator", operator)
	m.notify.Notify(ctx, notifier.Notification{
		Severity: notifier.SeverityWarning,
		Title:    "Emergency breaker reset",
		Body:     "Reset by " + operator + ".",
		Source:   "emergency.reset",
	})
	m.emit(ctx, st)
	return nil
}

// Run polls the monitored subsystems every interval. While monitoring, each
// poll becomes one signal, critical if any subsystem is unhealthy. While
// tripped, each poll advances recovery.
func (m *EmergencyMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	slog.Info("emergency monitor started", "interval", m.interval.String(), "monitored", m.monitored)
	for {
		select {
		case <-ctx.Done():
			slog.Info("emergency monitor stopped")
			return nil
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *EmergencyMonitor) poll(ctx context.Context) {
	switch m.State().Phase {
	case emergency.PhaseMonitoring:
		if len(m.monitored) == 0 {
			return
		}
		unhealthy := m.unhealthy(ctx, m.monitored)
		sig := emergency.Signal{Subsystem: "poll", Status: string(health.StatusActive), At: m.now()}
		if len(unhealthy) > 0 {
			sig.Critical = true
			sig.Subsystem = strings.Join(unhealthy, ",")
			sig.Status = string(health.StatusError)
		}
		m.Signal(ctx, sig)
	case emergency.PhasePaused:
		var escalation *domain.EmergencyEscalationError
		if err := m.Step(ctx); err != nil && !errors.As(err, &escalation) {
			slog.Error("emergency recovery step", "error", err)
		}
	}
}

// watched returns the monitored subsystems plus those that tripped st.
func (m *EmergencyMonitor) watched(st emergency.State) []string {
	out := slices.Clone(m.monitored)
	for _, name := range st.TrippedBy {
		if !slices.Contains(out, name) {
			out = append(out, name)
		}
	}
	return out
}

// unhealthy returns the names that are not active.
func (m *EmergencyMonitor) unhealthy(ctx context.Context, names []string) []string {
	var out []string
	for _, name := range names {
		r, err := m.checker.GetStatus(ctx, name)
		if err != nil || !r.Healthy() {
			out = append(out, name)
		}
	}
	return out
}

func (m *EmergencyMonitor) statuses(ctx context.Context, names []string) map[string]string {
	out := make(map[string]string, len(names))
	for _, name := range names {
		r, err := m.checker.GetStatus(ctx, name)
		if err != nil {
			out[name] = string(health.StatusError)
			continue
		}
		out[name] = string(r.Status)
	}
	return out
}

func (m *EmergencyMonitor) emit(ctx context.Context, st emergency.State) {
	m.hub.BroadcastEvent(ctx, broadcast.EventEmergencyState, st)
	publishBestEffort(ctx, m.queue, messagequeue.SubjectEmergencyState, messagequeue.EmergencyStatePayload{
		Phase:            string(st.Phase),
		Paused:           st.Paused,
		RecoveryAttempts: st.RecoveryAttempts,
		Reason:           st.Reason,
	})
}
