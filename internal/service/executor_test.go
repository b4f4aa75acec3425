package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"go.uber.org/goleak"

	"github.com/Strob0t/decisiongate/internal/config"
	"github.com/Strob0t/decisiongate/internal/domain"
	"github.com/Strob0t/decisiongate/internal/domain/action"
	"github.com/Strob0t/decisiongate/internal/domain/criteria"
	"github.com/Strob0t/decisiongate/internal/domain/outcome"
	"github.com/Strob0t/decisiongate/internal/domain/threshold"
	"github.com/Strob0t/decisiongate/internal/port/executor"
)

// fixedThresholds returns level defaults for every capability.
type fixedThresholds map[action.Level]float64

func (f fixedThresholds) GetThreshold(_ action.Capability, l action.Level) float64 { return f[l] }

func defaultThresholds() fixedThresholds { return fixedThresholds(threshold.Defaults()) }

// outcomeSink records outcomes for assertions.
type outcomeSink struct {
	mu   sync.Mutex
	list []outcome.Outcome
}

func (o *outcomeSink) RecordOutcome(_ context.Context, oc outcome.Outcome) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.list = append(o.list, oc)
	return true, nil
}

func (o *outcomeSink) all() []outcome.Outcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]outcome.Outcome(nil), o.list...)
}

// mockReviewer records submitted actions.
type mockReviewer struct {
	mu        sync.Mutex
	submitted []string
	err       error
}

func (m *mockReviewer) Submit(_ context.Context, a action.Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitted = append(m.submitted, a.ID)
	return m.err
}

// recordingExecutor records the order of executed actions.
type recordingExecutor struct {
	mu    sync.Mutex
	order []string
	fn    func(ctx context.Context, a action.Action) (action.Result, error)
}

func (r *recordingExecutor) Execute(ctx context.Context, a action.Action) (action.Result, error) {
	r.mu.Lock()
	r.order = append(r.order, a.CandidateID)
	r.mu.Unlock()
	if r.fn != nil {
		return r.fn(ctx, a)
	}
	return action.Result{Success: true}, nil
}

func (r *recordingExecutor) executed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func newTestExecutor(t *testing.T, exec executor.ActionExecutor, rev *mockReviewer, capacity int) (*ExecutorService, *outcomeSink) {
	t.Helper()
	sink := &outcomeSink{}
	s := NewExecutorService(
		config.Queue{LaneCapacity: capacity, PollInterval: 10 * time.Millisecond, HistoryLimit: 100},
		config.Executor{DefaultTimeout: time.Second, Timeouts: map[string]time.Duration{"analytics": 30 * time.Millisecond}},
		defaultThresholds(),
		sink,
		exec,
		nil,
	)
	if rev != nil {
		s.reviewer = rev
	}
	return s, sink
}

func candidate(id string, c action.Capability, u action.Urgency) *action.Candidate {
	return &action.Candidate{ID: id, Capability: c, Urgency: u}
}

func option(confidence float64, risk criteria.Risk) *criteria.Option {
	return &criteria.Option{Confidence: confidence, Risk: risk, Score: confidence - 0.1}
}

func mustEnqueue(t *testing.T, s *ExecutorService, c *action.Candidate, o *criteria.Option) action.Action {
	t.Helper()
	a, err := s.Enqueue(context.Background(), c, o)
	if err != nil {
		t.Fatalf("Enqueue %s: %v", c.ID, err)
	}
	return a
}

func TestAssignLevel(t *testing.T) {
	s, _ := newTestExecutor(t, &recordingExecutor{}, nil, 10)

	tests := []struct {
		name    string
		urgency action.Urgency
		conf    float64
		risk    criteria.Risk
		want    action.Level
	}{
		{"critical above emergency threshold", action.UrgencyCritical, 0.97, criteria.RiskHigh, action.LevelEmergency},
		{"normal never emergency", action.UrgencyNormal, 0.97, criteria.RiskLow, action.LevelAutonomous},
		{"critical below emergency threshold", action.UrgencyCritical, 0.90, criteria.RiskLow, action.LevelAutonomous},
		{"autonomous needs low risk", action.UrgencyNormal, 0.90, criteria.RiskMedium, action.LevelAdvisory},
		{"below autonomous threshold", action.UrgencyNormal, 0.70, criteria.RiskLow, action.LevelAdvisory},
		{"exactly at autonomous threshold", action.UrgencyNormal, 0.85, criteria.RiskLow, action.LevelAutonomous},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.AssignLevel(option(tt.conf, tt.risk), tt.urgency, action.CapabilityGovernance)
			if got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestAssignLevel_NormalUrgencyNeverEmergency(t *testing.T) {
	s, _ := newTestExecutor(t, &recordingExecutor{}, nil, 10)
	properties := gopter.NewProperties(nil)

	properties.Property("normal urgency is never EMERGENCY", prop.ForAll(
		func(conf float64, lowRisk bool) bool {
			risk := criteria.RiskHigh
			if lowRisk {
				risk = criteria.RiskLow
			}
			return s.AssignLevel(option(conf, risk), action.UrgencyNormal, action.CapabilitySecurity) != action.LevelEmergency
		},
		gen.Float64Range(0, 1),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestEnqueue_EvictsOldestAdvisory(t *testing.T) {
	s, sink := newTestExecutor(t, &recordingExecutor{}, nil, 2)

	first := mustEnqueue(t, s, candidate("c1", action.CapabilityCommunity, ""), option(0.5, criteria.RiskLow))
	mustEnqueue(t, s, candidate("c2", action.CapabilityCommunity, ""), option(0.5, criteria.RiskLow))
	emergencyAct := mustEnqueue(t, s, candidate("e1", action.CapabilitySecurity, action.UrgencyCritical), option(0.97, criteria.RiskHigh))
	third := mustEnqueue(t, s, candidate("c3", action.CapabilityCommunity, ""), option(0.5, criteria.RiskLow))

	got, err := s.Get(first.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != action.StatusFailed || got.Reason != action.ReasonResourceConstrained {
		t.Fatalf("expected oldest advisory FAILED/resource_constrained, got %s/%s", got.Status, got.Reason)
	}
	if e, _ := s.Get(emergencyAct.ID); e.Status != action.StatusPending {
		t.Fatalf("emergency action must be untouched, got %s", e.Status)
	}
	if a, _ := s.Get(third.ID); a.Status != action.StatusPending {
		t.Fatalf("expected newest advisory pending, got %s", a.Status)
	}
	if st := s.Stats(); st.Pending[action.LevelAdvisory] != 2 {
		t.Fatalf("expected 2 pending advisory, got %d", st.Pending[action.LevelAdvisory])
	}
	if len(sink.all()) != 0 {
		t.Fatal("eviction must not record an outcome")
	}
}

func TestEnqueue_AutonomousLaneFull(t *testing.T) {
	s, _ := newTestExecutor(t, &recordingExecutor{}, nil, 1)

	mustEnqueue(t, s, candidate("a1", action.CapabilityGovernance, ""), option(0.9, criteria.RiskLow))
	_, err := s.Enqueue(context.Background(), candidate("a2", action.CapabilityGovernance, ""), option(0.9, criteria.RiskLow))

	var capErr *domain.CapacityExceededError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected CapacityExceededError, got %v", err)
	}
	if capErr.Lane != string(action.LevelAutonomous) {
		t.Fatalf("unexpected lane %s", capErr.Lane)
	}
}

func TestEnqueue_RejectsInvalidCandidate(t *testing.T) {
	s, _ := newTestExecutor(t, &recordingExecutor{}, nil, 1)
	_, err := s.Enqueue(context.Background(), &action.Candidate{ID: "x"}, option(0.9, criteria.RiskLow))
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestDrain_EmergencyFirstThenFIFO(t *testing.T) {
	exec := &recordingExecutor{}
	s, _ := newTestExecutor(t, exec, &mockReviewer{}, 10)

	mustEnqueue(t, s, candidate("auto-1", action.CapabilityGovernance, ""), option(0.9, criteria.RiskLow))
	mustEnqueue(t, s, candidate("auto-2", action.CapabilityGovernance, ""), option(0.9, criteria.RiskLow))
	mustEnqueue(t, s, candidate("emerg-1", action.CapabilitySecurity, action.UrgencyCritical), option(0.97, criteria.RiskHigh))

	s.drain(context.Background())

	got := exec.executed()
	want := []string{"emerg-1", "auto-1", "auto-2"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestDrain_EmergencyPreemptsBetweenDispatches(t *testing.T) {
	var s *ExecutorService
	exec := &recordingExecutor{}
	exec.fn = func(_ context.Context, a action.Action) (action.Result, error) {
		if a.CandidateID == "auto-1" {
			// An emergency arrives while auto-1 is in flight.
			_, _ = s.Enqueue(context.Background(), candidate("emerg-1", action.CapabilitySecurity, action.UrgencyCritical), option(0.97, criteria.RiskHigh))
		}
		return action.Result{Success: true}, nil
	}
	s, _ = newTestExecutor(t, exec, nil, 10)

	mustEnqueue(t, s, candidate("auto-1", action.CapabilityGovernance, ""), option(0.9, criteria.RiskLow))
	mustEnqueue(t, s, candidate("auto-2", action.CapabilityGovernance, ""), option(0.9, criteria.RiskLow))

	s.drain(context.Background())

	got := exec.executed()
	want := []string{"auto-1", "emerg-1", "auto-2"}
	for i := range want {
		if i >= len(got) || got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestDrain_PausedOnlyEmergency(t *testing.T) {
	exec := &recordingExecutor{}
	s, _ := newTestExecutor(t, exec, &mockReviewer{}, 10)
	s.Pause()

	auto := mustEnqueue(t, s, candidate("auto-1", action.CapabilityGovernance, ""), option(0.9, criteria.RiskLow))
	mustEnqueue(t, s, candidate("emerg-1", action.CapabilitySecurity, action.UrgencyCritical), option(0.97, criteria.RiskHigh))

	s.drain(context.Background())

	if got := exec.executed(); len(got) != 1 || got[0] != "emerg-1" {
		t.Fatalf("expected only emerg-1 while paused, got %v", got)
	}
	if a, _ := s.Get(auto.ID); a.Status != action.StatusPending {
		t.Fatalf("expected autonomous action still pending, got %s", a.Status)
	}

	s.Resume()
	s.drain(context.Background())
	if a, _ := s.Get(auto.ID); a.Status != action.StatusExecuted {
		t.Fatalf("expected autonomous action executed after resume, got %s", a.Status)
	}
}

func TestDispatch_SuccessRecordsOutcome(t *testing.T) {
	s, sink := newTestExecutor(t, &recordingExecutor{}, nil, 10)
	a := mustEnqueue(t, s, candidate("c1", action.CapabilityGovernance, ""), option(0.9, criteria.RiskLow))

	s.drain(context.Background())

	got, _ := s.Get(a.ID)
	if got.Status != action.StatusExecuted || got.Attempts != 1 || got.ExecutedAt == nil {
		t.Fatalf("unexpected action %+v", got)
	}
	outs := sink.all()
	if len(outs) != 1 || !outs[0].Success || outs[0].DecisionID != a.ID || outs[0].Level != action.LevelAutonomous {
		t.Fatalf("unexpected outcomes %+v", outs)
	}
}

func TestDispatch_TimeoutRetriedOnceForNonCritical(t *testing.T) {
	exec := &recordingExecutor{fn: func(ctx context.Context, _ action.Action) (action.Result, error) {
		<-ctx.Done()
		return action.Result{}, ctx.Err()
	}}
	s, sink := newTestExecutor(t, exec, nil, 10)
	a := mustEnqueue(t, s, candidate("c1", action.CapabilityAnalytics, ""), option(0.9, criteria.RiskLow))

	s.drain(context.Background())

	got, _ := s.Get(a.ID)
	if got.Status != action.StatusFailed || got.Reason != action.ReasonTimeout {
		t.Fatalf("expected FAILED/timeout, got %s/%s", got.Status, got.Reason)
	}
	if got.Attempts != 2 || len(exec.executed()) != 2 {
		t.Fatalf("expected exactly one retry, got %d attempts", got.Attempts)
	}
	outs := sink.all()
	if len(outs) != 1 || outs[0].Success {
		t.Fatalf("expected one failed outcome, got %+v", outs)
	}
}

func TestDispatch_TimeoutHoldsWhenExecutorIgnoresContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	exec := &recordingExecutor{fn: func(context.Context, action.Action) (action.Result, error) {
		<-release
		return action.Result{Success: true}, nil
	}}
	s, _ := newTestExecutor(t, exec, nil, 10)
	a := mustEnqueue(t, s, candidate("c1", action.CapabilityAnalytics, ""), option(0.9, criteria.RiskLow))

	start := time.Now()
	s.drain(context.Background())
	if time.Since(start) > time.Second {
		t.Fatal("timeout not enforced")
	}
	if got, _ := s.Get(a.ID); got.Reason != action.ReasonTimeout {
		t.Fatalf("expected timeout, got %s", got.Reason)
	}
}

func TestDispatch_CriticalCapabilityNotRetried(t *testing.T) {
	exec := &recordingExecutor{fn: func(context.Context, action.Action) (action.Result, error) {
		return action.Result{}, errors.New("rpc unavailable")
	}}
	s, _ := newTestExecutor(t, exec, nil, 10)
	a := mustEnqueue(t, s, candidate("t1", action.CapabilityTreasury, ""), option(0.9, criteria.RiskLow))

	s.drain(context.Background())

	got, _ := s.Get(a.ID)
	if got.Status != action.StatusFailed || got.Reason != action.ReasonExecutorError || got.Attempts != 1 {
		t.Fatalf("expected single failed attempt, got %+v", got)
	}
}

func TestDispatch_RejectedIsFinal(t *testing.T) {
	exec := &recordingExecutor{fn: func(context.Context, action.Action) (action.Result, error) {
		return action.Result{Success: false, Details: map[string]any{"why": "quorum"}}, nil
	}}
	s, sink := newTestExecutor(t, exec, nil, 10)
	a := mustEnqueue(t, s, candidate("g1", action.CapabilityGovernance, ""), option(0.9, criteria.RiskLow))

	s.drain(context.Background())

	got, _ := s.Get(a.ID)
	if got.Reason != action.ReasonRejected || got.Attempts != 1 || got.Details["why"] != "quorum" {
		t.Fatalf("unexpected action %+v", got)
	}
	if outs := sink.all(); len(outs) != 1 || outs[0].Success {
		t.Fatalf("expected a failed outcome, got %+v", outs)
	}
}

func TestDispatch_PanicIsContained(t *testing.T) {
	exec := &recordingExecutor{fn: func(_ context.Context, a action.Action) (action.Result, error) {
		if a.CandidateID == "boom" {
			panic("executor bug")
		}
		return action.Result{Success: true}, nil
	}}
	s, _ := newTestExecutor(t, exec, nil, 10)
	bad := mustEnqueue(t, s, candidate("boom", action.CapabilitySecurity, ""), option(0.9, criteria.RiskLow))
	good := mustEnqueue(t, s, candidate("ok", action.CapabilityGovernance, ""), option(0.9, criteria.RiskLow))

	s.drain(context.Background())

	if got, _ := s.Get(bad.ID); got.Status != action.StatusFailed || got.Reason != action.ReasonExecutorError {
		t.Fatalf("expected panic recorded as executor_error, got %s/%s", got.Status, got.Reason)
	}
	if got, _ := s.Get(good.ID); got.Status != action.StatusExecuted {
		t.Fatalf("expected subsequent action executed, got %s", got.Status)
	}
}

func TestAdvisory_HandedToReviewer(t *testing.T) {
	exec := &recordingExecutor{}
	rev := &mockReviewer{}
	s, sink := newTestExecutor(t, exec, rev, 10)
	a := mustEnqueue(t, s, candidate("adv", action.CapabilityCommunity, ""), option(0.6, criteria.RiskMedium))

	s.drain(context.Background())

	got, _ := s.Get(a.ID)
	if got.Status != action.StatusAwaitingReview {
		t.Fatalf("expected AWAITING_REVIEW, got %s", got.Status)
	}
	if len(rev.submitted) != 1 || rev.submitted[0] != a.ID {
		t.Fatalf("expected reviewer hand-off, got %v", rev.submitted)
	}
	if len(exec.executed()) != 0 {
		t.Fatal("advisory actions must not reach the executor")
	}
	if len(sink.all()) != 0 {
		t.Fatal("advisory hand-off must not record an outcome")
	}
}

func TestAdvisory_ReviewerFailureRecorded(t *testing.T) {
	rev := &mockReviewer{err: errors.New("review queue down")}
	s, _ := newTestExecutor(t, &recordingExecutor{}, rev, 10)
	a := mustEnqueue(t, s, candidate("adv", action.CapabilityCommunity, ""), option(0.6, criteria.RiskMedium))

	s.drain(context.Background())

	got, _ := s.Get(a.ID)
	if got.Status != action.StatusAwaitingReview || got.Details["review_error"] != "review queue down" {
		t.Fatalf("unexpected action %+v", got)
	}
}

func TestCancel_Pending(t *testing.T) {
	s, _ := newTestExecutor(t, &recordingExecutor{}, nil, 10)
	a := mustEnqueue(t, s, candidate("c1", action.CapabilityGovernance, ""), option(0.9, criteria.RiskLow))

	if err := s.Cancel(context.Background(), a.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	got, _ := s.Get(a.ID)
	if got.Status != action.StatusFailed || got.Reason != action.ReasonCancelled {
		t.Fatalf("expected FAILED/cancelled, got %s/%s", got.Status, got.Reason)
	}
	if err := s.Cancel(context.Background(), a.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on second cancel, got %v", err)
	}
	if err := s.Cancel(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCancel_ExecutingIsCooperative(t *testing.T) {
	started := make(chan string, 1)
	proceed := make(chan struct{})
	exec := &recordingExecutor{fn: func(_ context.Context, a action.Action) (action.Result, error) {
		started <- a.ID
		<-proceed
		return action.Result{}, errors.New("transient")
	}}
	s, sink := newTestExecutor(t, exec, nil, 10)
	a := mustEnqueue(t, s, candidate("c1", action.CapabilityGovernance, ""), option(0.9, criteria.RiskLow))

	done := make(chan struct{})
	go func() {
		s.drain(context.Background())
		close(done)
	}()

	id := <-started
	if err := s.Cancel(context.Background(), id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	close(proceed)
	<-done

	got, _ := s.Get(a.ID)
	if got.Status != action.StatusFailed || got.Reason != action.ReasonCancelled {
		t.Fatalf("expected FAILED/cancelled, got %s/%s", got.Status, got.Reason)
	}
	if got.Attempts != 1 {
		t.Fatalf("expected no retry after cancellation, got %d attempts", got.Attempts)
	}
	if len(sink.all()) != 0 {
		t.Fatal("cancelled action must not record an outcome")
	}
}

func TestCancelPending_SparesEmergency(t *testing.T) {
	s, _ := newTestExecutor(t, &recordingExecutor{}, nil, 10)
	auto := mustEnqueue(t, s, candidate("a", action.CapabilityGovernance, ""), option(0.9, criteria.RiskLow))
	adv := mustEnqueue(t, s, candidate("b", action.CapabilityCommunity, ""), option(0.5, criteria.RiskLow))
	emerg := mustEnqueue(t, s, candidate("e", action.CapabilitySecurity, action.UrgencyCritical), option(0.97, criteria.RiskHigh))

	ids := s.CancelPending(context.Background(), true)
	if len(ids) != 2 || ids[0] != auto.ID || ids[1] != adv.ID {
		t.Fatalf("expected autonomous then advisory cancelled, got %v", ids)
	}
	if got, _ := s.Get(emerg.ID); got.Status != action.StatusPending {
		t.Fatalf("expected emergency still pending, got %s", got.Status)
	}
	if got, _ := s.Get(auto.ID); got.Reason != action.ReasonEmergencyHalt {
		t.Fatalf("unexpected reason %s", got.Reason)
	}
}

func TestList_FilterAndLimit(t *testing.T) {
	s, _ := newTestExecutor(t, &recordingExecutor{}, nil, 10)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	i := 0
	s.now = func() time.Time { i++; return base.Add(time.Duration(i) * time.Second) }

	mustEnqueue(t, s, candidate("a", action.CapabilityGovernance, ""), option(0.9, criteria.RiskLow))
	mustEnqueue(t, s, candidate("b", action.CapabilityCommunity, ""), option(0.5, criteria.RiskLow))
	last := mustEnqueue(t, s, candidate("c", action.CapabilityGovernance, ""), option(0.9, criteria.RiskLow))

	got := s.List(action.Filter{Capability: action.CapabilityGovernance, Limit: 1})
	if len(got) != 1 || got[0].ID != last.ID {
		t.Fatalf("expected newest governance action, got %+v", got)
	}
	if n := len(s.List(action.Filter{Level: action.LevelAdvisory})); n != 1 {
		t.Fatalf("expected 1 advisory action, got %d", n)
	}
}

func TestHistoryBounded(t *testing.T) {
	sink := &outcomeSink{}
	s := NewExecutorService(
		config.Queue{LaneCapacity: 10, HistoryLimit: 2},
		config.Executor{},
		defaultThresholds(),
		sink,
		&recordingExecutor{},
		nil,
	)
	var ids []string
	for _, id := range []string{"a", "b", "c"} {
		ids = append(ids, mustEnqueue(t, s, candidate(id, action.CapabilityGovernance, ""), option(0.9, criteria.RiskLow)).ID)
	}
	s.drain(context.Background())

	if _, err := s.Get(ids[0]); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected oldest terminal action trimmed, got %v", err)
	}
	if _, err := s.Get(ids[2]); err != nil {
		t.Fatalf("expected newest action retained, got %v", err)
	}
	if st := s.Stats(); st.Totals[action.StatusExecuted] != 3 {
		t.Fatalf("expected 3 executed in totals, got %d", st.Totals[action.StatusExecuted])
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	exec := &recordingExecutor{}
	s, sink := newTestExecutor(t, exec, nil, 10)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	mustEnqueue(t, s, candidate("c1", action.CapabilityGovernance, ""), option(0.9, criteria.RiskLow))

	deadline := time.After(2 * time.Second)
	for len(sink.all()) == 0 {
		select {
		case <-deadline:
			t.Fatal("action was not executed by the loop")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("Run: %v", err)
	}
}
