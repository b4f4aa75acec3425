package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	cfotel "github.com/Strob0t/decisiongate/internal/adapter/otel"
	"github.com/Strob0t/decisiongate/internal/config"
	"github.com/Strob0t/decisiongate/internal/domain"
	"github.com/Strob0t/decisiongate/internal/domain/action"
	"github.com/Strob0t/decisiongate/internal/domain/criteria"
	"github.com/Strob0t/decisiongate/internal/domain/outcome"
	"github.com/Strob0t/decisiongate/internal/port/broadcast"
	"github.com/Strob0t/decisiongate/internal/port/executor"
	"github.com/Strob0t/decisiongate/internal/port/messagequeue"
	"github.com/Strob0t/decisiongate/internal/port/reviewer"
)

// ThresholdSource provides the confidence threshold for a capability and level.
type ThresholdSource interface {
	GetThreshold(capability action.Capability, level action.Level) float64
}

// OutcomeRecorder receives decision outcomes.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, o outcome.Outcome) (bool, error)
}

// LaneStats reports the state of the executor lanes.
type LaneStats struct {
	Pending   map[action.Level]int  `json:"pending"`
	Executing string                `json:"executing,omitempty"`
	Paused    bool                  `json:"paused"`
	Totals    map[action.Status]int `json:"totals"`
}

// ExecutorService owns the three action lanes and the loop that drains them.
// EMERGENCY is always dispatched first and keeps draining while paused. One
// action executes at a time; in-flight work is never interrupted.
type ExecutorService struct {
	thresholds ThresholdSource
	outcomes   OutcomeRecorder
	exec       executor.ActionExecutor
	reviewer   reviewer.Reviewer
	queue      messagequeue.Queue
	hub        broadcast.Broadcaster
	metrics    *cfotel.Metrics

	capacity     int
	pollInterval time.Duration
	historyLimit int
	timeout      time.Duration
	timeouts     map[action.Capability]time.Duration

	mu        sync.Mutex
	lanes     map[action.Level][]*action.Action
	actions   map[string]*action.Action
	terminal  []string // terminal ids, oldest first, bounded by historyLimit
	executing string
	cancelled map[string]bool
	paused    bool
	totals    map[action.Status]int

	wake  chan struct{}
	now   func() time.Time
	newID func() string
}

// NewExecutorService creates an executor service. rev may be nil, in which
// case advisory actions are parked in AWAITING_REVIEW without a hand-off.
func NewExecutorService(
	queueCfg config.Queue,
	execCfg config.Executor,
	thresholds ThresholdSource,
	outcomes OutcomeRecorder,
	exec executor.ActionExecutor,
	rev reviewer.Reviewer,
) *ExecutorService {
	timeouts := make(map[action.Capability]time.Duration, len(execCfg.Timeouts))
	for c, d := range execCfg.Timeouts {
		timeouts[action.Capability(c)] = d
	}
	s := &ExecutorService{
		thresholds:   thresholds,
		outcomes:     outcomes,
		exec:         exec,
		reviewer:     rev,
		hub:          broadcast.Nop{},
		capacity:     max(queueCfg.LaneCapacity, 1),
		pollInterval: queueCfg.PollInterval,
		historyLimit: queueCfg.HistoryLimit,
		timeout:      execCfg.DefaultTimeout,
		timeouts:     timeouts,
		lanes:        make(map[action.Level][]*action.Action, len(action.Levels)),
		actions:      make(map[string]*action.Action),
		cancelled:    make(map[string]bool),
		totals:       make(map[action.Status]int),
		wake:         make(chan struct{}, 1),
		now:          time.Now,
		newID:        uuid.NewString,
	}
	if s.pollInterval <= 0 {
		s.pollInterval = 5 * time.Second
	}
	if s.historyLimit <= 0 {
		s.historyLimit = 1000
	}
	if s.timeout <= 0 {
		s.timeout = 30 * time.Second
	}
	return s
}

// SetPublisher sets the message queue and broadcaster for action transitions.
func (s *ExecutorService) SetPublisher(q messagequeue.Queue, hub broadcast.Broadcaster) {
	s.queue = q
	s.hub = orNop(hub)
}

// SetMetrics sets the metric instruments.
func (s *ExecutorService) SetMetrics(m *cfotel.Metrics) { s.metrics = m }

// AssignLevel picks the decision level of an evaluated option:
// critical urgency clearing the EMERGENCY threshold is EMERGENCY; a low-risk
// option clearing the AUTONOMOUS threshold is AUTONOMOUS; anything else is ADVISORY.
func (s *ExecutorService) AssignLevel(opt *criteria.Option, urgency action.Urgency, capability action.Capability) action.Level {
	if urgency == action.UrgencyCritical && opt.Confidence >= s.thresholds.GetThreshold(capability, action.LevelEmergency) {
		return action.LevelEmergency
	}
	if opt.Confidence >= s.thresholds.GetThreshold(capability, action.LevelAutonomous) && opt.Risk == criteria.RiskLow {
		return action.LevelAutonomous
	}
	return action.LevelAdvisory
}

// Enqueue turns an evaluated candidate into a PENDING action in its lane.
// A full ADVISORY lane evicts its oldest entry; a full AUTONOMOUS or
// EMERGENCY lane rejects the action with a CapacityExceededError.
func (s *ExecutorService) Enqueue(ctx context.Context, c *action.Candidate, opt *criteria.Option) (action.Action, error) {
	if err := c.Validate(); err != nil {
		return action.Action{}, err
	}
	urgency := c.EffectiveUrgency()
	level := s.AssignLevel(opt, urgency, c.Capability)

	a := &action.Action{
		ID:             s.newID(),
		CandidateID:    c.ID,
		Capability:     c.Capability,
		Level:          level,
		Urgency:        urgency,
		Confidence:     opt.Confidence,
		Score:          opt.Score,
		Risk:           string(opt.Risk),
		Recommendation: opt.Recommendation,
		Status:         action.StatusPending,
		Payload:        c.Payload,
		CreatedAt:      s.now(),
	}

	var evicted *action.Action
	s.mu.Lock()
	if len(s.lanes[level]) >= s.capacity {
		if level != action.LevelAdvisory {
			s.mu.Unlock()
			return action.Action{}, &domain.CapacityExceededError{Lane: string(level), Capacity: s.capacity}
		}
		oldest := s.lanes[level][0]
		s.lanes[level] = s.lanes[level][1:]
		s.finishLocked(oldest, action.StatusFailed, action.ReasonResourceConstrained, nil)
		cp := *oldest
		evicted = &cp
	}
	s.lanes[level] = append(s.lanes[level], a)
	s.actions[a.ID] = a
	s.totals[action.StatusPending]++
	snapshot := *a
	s.mu.Unlock()

	if evicted != nil {
		slog.Warn("advisory action evicted", "action_id", evicted.ID, "reason", evicted.Reason)
		if s.metrics != nil {
			s.metrics.ActionsEvicted.Add(ctx, 1, metric.WithAttributes(attribute.String("capability", string(evicted.Capability))))
		}
		s.emit(ctx, evicted)
	}

	slog.Info("action enqueued",
		"action_id", snapshot.ID,
		"candidate_id", c.ID,
		"capability", snapshot.Capability,
		"level", snapshot.Level,
		"confidence", snapshot.Confidence,
	)
	if s.metrics != nil {
		s.metrics.ActionsEnqueued.Add(ctx, 1, metric.WithAttributes(attribute.String("level", string(level))))
		s.metrics.LaneDepth.Add(ctx, 1, metric.WithAttributes(attribute.String("level", string(level))))
		if evicted != nil {
			s.metrics.LaneDepth.Add(ctx, -1, metric.WithAttributes(attribute.String("level", string(evicted.Level))))
		}
	}
	s.emit(ctx, &snapshot)
	s.signal()
	return snapshot, nil
}

func (s *ExecutorService) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run drains the lanes until ctx is cancelled. It wakes on enqueue, resume
// or every poll interval.
func (s *ExecutorService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	slog.Info("executor loop started", "lane_capacity", s.capacity, "poll_interval", s.pollInterval.String())
	for {
		s.drain(ctx)
		select {
		case <-ctx.Done():
			slog.Info("executor loop stopped")
			return nil
		case <-s.wake:
		case <-ticker.C:
		}
	}
}

// drain dispatches actions one at a time until no lane has eligible work.
// The EMERGENCY lane is re-checked before every dispatch.
func (s *ExecutorService) drain(ctx context.Context) {
	for ctx.Err() == nil {
		a := s.next()
		if a == nil {
			return
		}
		if s.metrics != nil {
			s.metrics.LaneDepth.Add(ctx, -1, metric.WithAttributes(attribute.String("level", string(a.Level))))
		}
		s.dispatch(ctx, a)
	}
}

// next pops the head of the highest-priority eligible lane and moves it out
// of PENDING in the same critical section, so Cancel never races a dispatch.
// Advisory actions go straight to AWAITING_REVIEW.
func (s *ExecutorService) next() *action.Action {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, level := range action.Levels {
		if s.paused && level != action.LevelEmergency {
			continue
		}
		lane := s.lanes[level]
		if len(lane) == 0 {
			continue
		}
		a := lane[0]
		s.lanes[level] = lane[1:]
		if level == action.LevelAdvisory {
			s.finishLocked(a, action.StatusAwaitingReview, "", nil)
		} else {
			started := s.now()
			s.totals[a.Status]--
			s.totals[action.StatusExecuting]++
			a.Status = action.StatusExecuting
			a.StartedAt = &started
			s.executing = a.ID
		}
		return a
	}
	return nil
}

func (s *ExecutorService) dispatch(ctx context.Context, a *action.Action) {
	s.mu.Lock()
	snapshot := *a
	s.mu.Unlock()
	s.emit(ctx, &snapshot)

	if snapshot.Level == action.LevelAdvisory {
		s.handOff(ctx, &snapshot)
		return
	}
	started := *snapshot.StartedAt

	maxAttempts := 2
	if snapshot.Capability.Critical() {
		maxAttempts = 1
	}

	var (
		status  action.Status
		reason  string
		details map[string]any
	)
	for attempt := 1; ; attempt++ {
		if s.isCancelled(a.ID) {
			status, reason = action.StatusFailed, action.ReasonCancelled
			break
		}
		s.mu.Lock()
		a.Attempts = attempt
		cp := *a
		s.mu.Unlock()

		res, err := s.attempt(ctx, &cp)
		if err == nil {
			details = res.Details
			if res.Success {
				status = action.StatusExecuted
			} else {
				status, reason = action.StatusFailed, action.ReasonRejected
			}
			break
		}

		details = map[string]any{"error": err.Error()}
		if ctx.Err() != nil {
			status, reason = action.StatusFailed, action.ReasonCancelled
			break
		}
		reason = action.ReasonExecutorError
		if errors.Is(err, domain.ErrExecutionTimeout) {
			reason = action.ReasonTimeout
		}
		if attempt < maxAttempts {
			slog.Warn("action attempt failed, retrying", "action_id", a.ID, "attempt", attempt, "reason", reason, "error", err)
			continue
		}
		status = action.StatusFailed
		slog.Error("action failed", "action_id", a.ID, "capability", a.Capability, "attempts", attempt, "reason", reason, "error", err)
		break
	}

	if s.isCancelled(a.ID) {
		status, reason = action.StatusFailed, action.ReasonCancelled
	}

	s.mu.Lock()
	s.executing = ""
	s.finishLocked(a, status, reason, details)
	final := *a
	s.mu.Unlock()

	if status == action.StatusExecuted {
		slog.Info("action executed", "action_id", final.ID, "capability", final.Capability, "attempts", final.Attempts)
	}
	s.observe(ctx, &final, started)
	s.emit(ctx, &final)
	if reason != action.ReasonCancelled {
		s.recordOutcome(ctx, &final)
	}
}

// attempt calls the executor with the capability timeout. The timeout holds
// even if the executor ignores its context; a panic is reported as an
// ExecutionFailure.
func (s *ExecutorService) attempt(ctx context.Context, a *action.Action) (action.Result, error) {
	timeout := s.timeoutFor(a.Capability)
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	actx, span := cfotel.StartExecutionSpan(actx, a.ID, string(a.Capability), string(a.Level), a.Attempts)
	defer span.End()

	type attemptResult struct {
		res action.Result
		err error
	}
	done := make(chan attemptResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- attemptResult{err: &domain.ExecutionFailure{ActionID: a.ID, Err: fmt.Errorf("executor panic: %v", r)}}
			}
		}()
		res, err := s.exec.Execute(actx, *a)
		done <- attemptResult{res: res, err: err}
	}()

	var err error
	var res action.Result
	select {
	case r := <-done:
		res, err = r.res, r.err
		switch {
		case err == nil:
		case ctx.Err() != nil:
			err = ctx.Err()
		case errors.Is(actx.Err(), context.DeadlineExceeded):
			err = &domain.ExecutionTimeoutError{ActionID: a.ID, Timeout: timeout}
		default:
			var failure *domain.ExecutionFailure
			if !errors.As(err, &failure) {
				err = &domain.ExecutionFailure{ActionID: a.ID, Err: err}
			}
		}
	case <-actx.Done():
		if ctx.Err() != nil {
			err = ctx.Err()
		} else {
			err = &domain.ExecutionTimeoutError{ActionID: a.ID, Timeout: timeout}
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (s *ExecutorService) timeoutFor(c action.Capability) time.Duration {
	if d, ok := s.timeouts[c]; ok && d > 0 {
		return d
	}
	return s.timeout
}

// handOff submits an advisory action to the reviewer. A reviewer failure is
// recorded on the action, which stays AWAITING_REVIEW.
func (s *ExecutorService) handOff(ctx context.Context, a *action.Action) {
	if s.reviewer == nil {
		return
	}
	if err := s.reviewer.Submit(ctx, *a); err != nil {
		slog.Warn("review hand-off failed", "action_id", a.ID, "error", err)
		s.mu.Lock()
		if live, ok := s.actions[a.ID]; ok {
			live.Details = map[string]any{"review_error": err.Error()}
		}
		s.mu.Unlock()
		return
	}
	slog.Info("action handed off for review", "action_id", a.ID, "capability", a.Capability)
}

// finishLocked moves a to a terminal status. Must be called with s.mu held
// on an action that is no longer in a lane.
func (s *ExecutorService) finishLocked(a *action.Action, status action.Status, reason string, details map[string]any) {
	now := s.now()
	s.totals[a.Status]--
	s.totals[status]++
	a.Status = status
	a.Reason = reason
	if details != nil {
		a.Details = details
	}
	if a.StartedAt != nil {
		a.ExecutedAt = &now
	}
	delete(s.cancelled, a.ID)

	s.terminal = append(s.terminal, a.ID)
	for len(s.terminal) > s.historyLimit {
		delete(s.actions, s.terminal[0])
		s.terminal = s.terminal[1:]
	}
}

func (s *ExecutorService) isCancelled(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled[id]
}

func (s *ExecutorService) recordOutcome(ctx context.Context, a *action.Action) {
	if s.outcomes == nil {
		return
	}
	o := outcome.Outcome{
		DecisionID: a.ID,
		Capability: a.Capability,
		Level:      a.Level,
		Confidence: a.Confidence,
		Success:    a.Status == action.StatusExecuted,
		Timestamp:  s.now(),
		Context:    map[string]any{"attempts": a.Attempts, "reason": a.Reason},
	}
	if _, err := s.outcomes.RecordOutcome(ctx, o); err != nil {
		slog.Warn("record outcome failed", "action_id", a.ID, "error", err)
	}
}

func (s *ExecutorService) observe(ctx context.Context, a *action.Action, started time.Time) {
	if s.metrics == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("capability", string(a.Capability)),
		attribute.String("level", string(a.Level)),
	)
	s.metrics.ExecutionDuration.Record(ctx, s.now().Sub(started).Seconds(), attrs)
	if a.Status == action.StatusExecuted {
		s.metrics.ActionsExecuted.Add(ctx, 1, attrs)
		return
	}
	s.metrics.ActionsFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("capability", string(a.Capability)),
		attribute.String("reason", a.Reason),
	))
}

func (s *ExecutorService) emit(ctx context.Context, a *action.Action) {
	s.hub.BroadcastEvent(ctx, broadcast.EventActionUpdated, a)
	publishBestEffort(ctx, s.queue, messagequeue.SubjectActions, messagequeue.ActionPayload{
		ActionID:   a.ID,
		Capability: string(a.Capability),
		Level:      string(a.Level),
		Status:     string(a.Status),
		Reason:     a.Reason,
		Confidence: a.Confidence,
	})
}

// Cancel cancels a PENDING action immediately. An EXECUTING action is
// flagged and stops at the next safe point: before a retry and before its
// completion is recorded.
func (s *ExecutorService) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	a, ok := s.actions[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("action %s: %w", id, domain.ErrNotFound)
	}
	switch a.Status {
	case action.StatusExecuting:
		s.cancelled[id] = true
		s.mu.Unlock()
		slog.Info("executing action flagged for cancellation", "action_id", id)
		return nil
	case action.StatusPending:
		s.removeFromLaneLocked(a)
		s.finishLocked(a, action.StatusFailed, action.ReasonCancelled, nil)
		final := *a
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.LaneDepth.Add(ctx, -1, metric.WithAttributes(attribute.String("level", string(final.Level))))
		}
		s.emit(ctx, &final)
		return nil
	default:
		st := a.Status
		s.mu.Unlock()
		return fmt.Errorf("cancel action %s in status %s: %w", id, st, domain.ErrInvalidTransition)
	}
}

// removeFromLaneLocked must be called with s.mu held.
func (s *ExecutorService) removeFromLaneLocked(a *action.Action) {
	lane := s.lanes[a.Level]
	for i, p := range lane {
		if p.ID == a.ID {
			s.lanes[a.Level] = append(lane[:i:i], lane[i+1:]...)
			return
		}
	}
}

// CancelPending fails every PENDING action, except the EMERGENCY lane when
// exceptEmergency is set, and returns their ids in lane order.
func (s *ExecutorService) CancelPending(ctx context.Context, exceptEmergency bool) []string {
	var cancelled []action.Action
	s.mu.Lock()
	for _, level := range action.Levels {
		if exceptEmergency && level == action.LevelEmergency {
			continue
		}
		for _, a := range s.lanes[level] {
			s.finishLocked(a, action.StatusFailed, action.ReasonEmergencyHalt, nil)
			cancelled = append(cancelled, *a)
		}
		s.lanes[level] = nil
	}
	s.mu.Unlock()

	ids := make([]string, 0, len(cancelled))
	for i := range cancelled {
		ids = append(ids, cancelled[i].ID)
		if s.metrics != nil {
			s.metrics.LaneDepth.Add(ctx, -1, metric.WithAttributes(attribute.String("level", string(cancelled[i].Level))))
		}
		s.emit(ctx, &cancelled[i])
	}
	if len(ids) > 0 {
		slog.Warn("pending actions cancelled", "count", len(ids), "except_emergency", exceptEmergency)
	}
	return ids
}

// Pause stops dispatch from the AUTONOMOUS and ADVISORY lanes.
func (s *ExecutorService) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	slog.Warn("executor paused")
}

// Resume re-enables all lanes.
func (s *ExecutorService) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	slog.Info("executor resumed")
	s.signal()
}

// Paused reports whether non-emergency lanes are halted.
func (s *ExecutorService) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Get returns a copy of the action with id.
func (s *ExecutorService) Get(id string) (action.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	if !ok {
		return action.Action{}, fmt.Errorf("action %s: %w", id, domain.ErrNotFound)
	}
	return *a, nil
}

// List returns actions matching f, newest first.
func (s *ExecutorService) List(f action.Filter) []action.Action {
	s.mu.Lock()
	out := make([]action.Action, 0, len(s.actions))
	for _, a := range s.actions {
		if f.Match(a) {
			out = append(out, *a)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// Stats reports lane depths and status totals.
func (s *ExecutorService) Stats() LaneStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := LaneStats{
		Pending:   make(map[action.Level]int, len(action.Levels)),
		Executing: s.executing,
		Paused:    s.paused,
		Totals:    make(map[action.Status]int, len(s.totals)),
	}
	for _, l := range action.Levels {
		st.Pending[l] = len(s.lanes[l])
	}
	for k, v := range s.totals {
		st.Totals[k] = v
	}
	return st
}
