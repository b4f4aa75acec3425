package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/Strob0t/decisiongate/internal/adapter/memory"
	"github.com/Strob0t/decisiongate/internal/config"
	"github.com/Strob0t/decisiongate/internal/domain"
	"github.com/Strob0t/decisiongate/internal/domain/action"
	"github.com/Strob0t/decisiongate/internal/domain/criteria"
	"github.com/Strob0t/decisiongate/internal/domain/emergency"
	"github.com/Strob0t/decisiongate/internal/port/broadcast"
	"github.com/Strob0t/decisiongate/internal/port/health"
	"github.com/Strob0t/decisiongate/internal/port/notifier"
)

func emergencyConfig() config.Emergency {
	return config.Emergency{
		TripAfter:           3,
		Cooldown:            60 * time.Second,
		MaxBackoff:          5 * time.Minute,
		MaxRecoveryAttempts: 5,
		PollInterval:        5 * time.Millisecond,
		Monitored:           []string{"governance", "treasury"},
	}
}

type emergencyFixture struct {
	monitor  *EmergencyMonitor
	exec     *ExecutorService
	checker  *countingChecker
	store    *memory.Store
	notifier *mockNotifier
	hub      *recordingHub
	clock    *testClock
}

func newEmergencyFixture(t *testing.T) *emergencyFixture {
	t.Helper()
	exec, _ := newTestExecutor(t, &recordingExecutor{}, nil, 10)
	checker := newCountingChecker(map[string]health.Status{
		"governance": health.StatusActive,
		"treasury":   health.StatusActive,
	})
	store := memory.NewStore(0, 0)
	n := &mockNotifier{name: "mock"}
	hub := &recordingHub{}
	clock := &testClock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}

	m := NewEmergencyMonitor(emergencyConfig(), exec, checker, nil, store,
		NewNotificationService([]notifier.Notifier{n}, nil, 0, 0))
	m.SetPublisher(nil, hub)
	m.now = clock.now
	return &emergencyFixture{monitor: m, exec: exec, checker: checker, store: store, notifier: n, hub: hub, clock: clock}
}

func critical(subsystem string) emergency.Signal {
	return emergency.Signal{Subsystem: subsystem, Critical: true, Status: "error"}
}

func TestEmergency_TripsAfterConsecutiveCritical(t *testing.T) {
	f := newEmergencyFixture(t)
	ctx := context.Background()

	auto := mustEnqueue(t, f.exec, candidate("a", action.CapabilityGovernance, ""), option(0.9, criteria.RiskLow))
	emerg := mustEnqueue(t, f.exec, candidate("e", action.CapabilitySecurity, action.UrgencyCritical), option(0.97, criteria.RiskHigh))

	f.monitor.Signal(ctx, critical("treasury"))
	f.monitor.Signal(ctx, critical("treasury"))
	f.monitor.Signal(ctx, emergency.Signal{Subsystem: "treasury", Status: "active"})
	if st := f.monitor.State(); st.ConsecutiveCritical != 0 || st.Paused {
		t.Fatalf("non-critical signal must reset the counter, got %+v", st)
	}

	f.monitor.Signal(ctx, critical("treasury"))
	f.monitor.Signal(ctx, critical("treasury"))
	if tripped := f.monitor.Signal(ctx, critical("treasury")); !tripped {
		t.Fatal("expected third consecutive critical signal to trip")
	}

	st := f.monitor.State()
	if !st.Paused || st.Phase != emergency.PhasePaused {
		t.Fatalf("expected paused, got %+v", st)
	}
	if !st.CooldownUntil.Equal(f.clock.t.Add(60 * time.Second)) {
		t.Fatalf("unexpected cooldown deadline %v", st.CooldownUntil)
	}
	if !f.exec.Paused() {
		t.Fatal("expected executor paused")
	}
	if a, _ := f.exec.Get(auto.ID); a.Status != action.StatusFailed || a.Reason != action.ReasonEmergencyHalt {
		t.Fatalf("expected pending autonomous action halted, got %s/%s", a.Status, a.Reason)
	}
	if a, _ := f.exec.Get(emerg.ID); a.Status != action.StatusPending {
		t.Fatalf("expected emergency action untouched, got %s", a.Status)
	}

	snap, err := f.store.LatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("LatestSnapshot: %v", err)
	}
	if len(snap.PendingCancelled) != 1 || snap.PendingCancelled[0] != auto.ID {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.Health["governance"] != "active" {
		t.Fatalf("expected health in snapshot, got %v", snap.Health)
	}

	sent := f.notifier.all()
	if len(sent) != 1 || sent[0].Severity != notifier.SeverityCritical {
		t.Fatalf("expected one critical notification, got %+v", sent)
	}
	if n := len(f.hub.ofType(broadcast.EventEmergencyState)); n != 1 {
		t.Fatalf("expected 1 state broadcast, got %d", n)
	}

	// Further signals while tripped do not trip again.
	if f.monitor.Signal(ctx, critical("treasury")) {
		t.Fatal("signal while paused must not trip")
	}
}

func TestEmergency_RecoversAfterCooldown(t *testing.T) {
	f := newEmergencyFixture(t)
	ctx := context.Background()

	if err := f.monitor.Trip(ctx, "manual"); err != nil {
		t.Fatalf("Trip: %v", err)
	}

	f.clock.advance(59 * time.Second)
	if err := f.monitor.Step(ctx); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if !f.monitor.State().Paused {
		t.Fatal("expected still paused before the cooldown elapsed")
	}

	f.clock.advance(time.Second)
	if err := f.monitor.Step(ctx); err != nil {
		t.Fatalf("Step: %v", err)
	}
	st := f.monitor.State()
	if st.Paused || st.Phase != emergency.PhaseMonitoring || st.ConsecutiveCritical != 0 || st.RecoveryAttempts != 0 {
		t.Fatalf("expected cleared state, got %+v", st)
	}
	if f.exec.Paused() {
		t.Fatal("expected executor resumed")
	}
}

func TestEmergency_RecoveryChecksTrippingSubsystem(t *testing.T) {
	f := newEmergencyFixture(t)
	ctx := context.Background()
	f.checker.set("community", health.StatusError)

	for range 3 {
		f.monitor.Signal(ctx, critical("community"))
	}
	st := f.monitor.State()
	if !st.Paused || len(st.TrippedBy) != 1 || st.TrippedBy[0] != "community" {
		t.Fatalf("expected trip attributed to community, got %+v", st)
	}

	f.clock.advance(61 * time.Second)
	if err := f.monitor.Step(ctx); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if f.checker.count("community") == 0 {
		t.Fatal("expected recovery to check community")
	}
	st = f.monitor.State()
	if !st.Paused || st.RecoveryAttempts != 1 || !f.exec.Paused() {
		t.Fatalf("expected breaker held open while community is in error, got %+v", st)
	}

	f.checker.set("community", health.StatusActive)
	f.clock.advance(st.NextWait)
	if err := f.monitor.Step(ctx); err != nil {
		t.Fatalf("Step: %v", err)
	}
	st = f.monitor.State()
	if st.Paused || len(st.TrippedBy) != 0 || f.exec.Paused() {
		t.Fatalf("expected cleared state once community recovered, got %+v", st)
	}
}

func TestEmergency_TrippedByCollectsPolledNames(t *testing.T) {
	f := newEmergencyFixture(t)
	ctx := context.Background()

	f.monitor.Signal(ctx, critical("treasury,community"))
	f.monitor.Signal(ctx, critical("community"))
	f.monitor.Signal(ctx, critical("identity"))

	got := f.monitor.State().TrippedBy
	want := []string{"treasury", "community", "identity"}
	if len(got) != len(want) {
		t.Fatalf("TrippedBy = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("TrippedBy = %v, want %v", got, want)
		}
	}
}

func TestEmergency_BackoffThenEscalation(t *testing.T) {
	f := newEmergencyFixture(t)
	ctx := context.Background()
	f.checker.set("treasury", health.StatusError)

	if err := f.monitor.Trip(ctx, "treasury down"); err != nil {
		t.Fatalf("Trip: %v", err)
	}

	wantWaits := []time.Duration{2 * time.Minute, 4 * time.Minute, 5 * time.Minute, 5 * time.Minute}
	wait := 60 * time.Second
	for i, want := range wantWaits {
		f.clock.advance(wait)
		if err := f.monitor.Step(ctx); err != nil {
			t.Fatalf("attempt %d: unexpected error %v", i+1, err)
		}
		st := f.monitor.State()
		if st.RecoveryAttempts != i+1 || st.NextWait != want {
			t.Fatalf("attempt %d: expected wait %v, got attempts=%d wait=%v", i+1, want, st.RecoveryAttempts, st.NextWait)
		}
		wait = st.NextWait
	}

	f.clock.advance(wait)
	err := f.monitor.Step(ctx)
	var escalation *domain.EmergencyEscalationError
	if !errors.As(err, &escalation) || escalation.Attempts != 5 {
		t.Fatalf("expected EmergencyEscalationError after 5 attempts, got %v", err)
	}
	if st := f.monitor.State(); st.Phase != emergency.PhaseStopped || !st.Paused {
		t.Fatalf("expected stopped, got %+v", st)
	}

	// Healthy again, but stopped requires an operator.
	f.checker.set("treasury", health.StatusActive)
	f.clock.advance(time.Hour)
	if err := f.monitor.Step(ctx); err != nil {
		t.Fatalf("Step in stopped phase: %v", err)
	}
	if f.monitor.State().Phase != emergency.PhaseStopped {
		t.Fatal("stopped phase must not self-recover")
	}

	if err := f.monitor.Reset(ctx, ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation without operator, got %v", err)
	}
	if err := f.monitor.Reset(ctx, "ops-oncall"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if st := f.monitor.State(); st.Phase != emergency.PhaseMonitoring || st.Paused || f.exec.Paused() {
		t.Fatalf("expected monitoring after reset, got %+v", st)
	}
	if err := f.monitor.Reset(ctx, "ops-oncall"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestEmergency_SnapshotFailureStillTrips(t *testing.T) {
	exec, _ := newTestExecutor(t, &recordingExecutor{}, nil, 10)
	m := NewEmergencyMonitor(emergencyConfig(), exec, health.Static{}, nil, failingStore{}, nil)

	err := m.Trip(context.Background(), "manual")
	if !errors.Is(err, errStoreDown) {
		t.Fatalf("expected snapshot error, got %v", err)
	}
	if !m.State().Paused || !exec.Paused() {
		t.Fatal("breaker must trip even when the snapshot fails")
	}
}

func TestEmergency_RunTripsOnUnhealthyPolls(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	exec, _ := newTestExecutor(t, &recordingExecutor{}, nil, 10)
	checker := newCountingChecker(map[string]health.Status{"governance": health.StatusError, "treasury": health.StatusActive})
	m := NewEmergencyMonitor(emergencyConfig(), exec, checker, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for m.State().Phase != emergency.PhasePaused {
		select {
		case <-deadline:
			cancel()
			<-done
			t.Fatal("monitor did not trip")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !exec.Paused() {
		t.Fatal("expected executor paused")
	}
}
