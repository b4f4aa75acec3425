package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	cfotel "github.com/Strob0t/decisiongate/internal/adapter/otel"
	"github.com/Strob0t/decisiongate/internal/domain"
	"github.com/Strob0t/decisiongate/internal/domain/action"
	"github.com/Strob0t/decisiongate/internal/domain/outcome"
	"github.com/Strob0t/decisiongate/internal/domain/threshold"
	"github.com/Strob0t/decisiongate/internal/port/broadcast"
	"github.com/Strob0t/decisiongate/internal/port/messagequeue"
	"github.com/Strob0t/decisiongate/internal/port/persistence"
)

// thresholdTable is an immutable published map of per-key thresholds.
// Keys absent from the table use the level default.
type thresholdTable map[outcome.Key]float64

// keyState tracks the outcome window and adjustment bookkeeping of one key.
// Guarded by ThresholdManager.mu.
type keyState struct {
	window       *outcome.Window
	lastAdjusted time.Time
	addedAtLast  int // window.Added() at the last adjustment
}

// Adjustment describes one threshold change.
type Adjustment struct {
	Key         string    `json:"key"`
	From        float64   `json:"from"`
	To          float64   `json:"to"`
	SuccessRate float64   `json:"success_rate"`
	Samples     int       `json:"samples"`
	At          time.Time `json:"at"`
}

// ThresholdManager owns the confidence thresholds per (capability, level) and
// adapts them from recorded outcomes. Reads never take a lock; writers build a
// new table and publish it atomically.
type ThresholdManager struct {
	policy   threshold.Policy
	defaults map[action.Level]float64
	interval time.Duration

	table atomic.Pointer[thresholdTable]

	mu       sync.Mutex
	keys     map[outcome.Key]*keyState
	recorded map[string]outcome.Key // decision id -> key it was recorded under

	store   persistence.Store
	queue   messagequeue.Queue
	hub     broadcast.Broadcaster
	metrics *cfotel.Metrics
	now     func() time.Time
}

// NewThresholdManager creates a manager. defaults may be nil to use the
// process-wide level defaults.
func NewThresholdManager(
	policy threshold.Policy,
	defaults map[action.Level]float64,
	interval time.Duration,
	store persistence.Store,
	queue messagequeue.Queue,
	hub broadcast.Broadcaster,
	metrics *cfotel.Metrics,
) *ThresholdManager {
	d := threshold.Defaults()
	for l, v := range defaults {
		d[l] = v
	}
	for l, v := range d {
		d[l] = policy.Clamp(v)
	}
	if interval <= 0 {
		interval = time.Minute
	}
	m := &ThresholdManager{
		policy:   policy,
		defaults: d,
		interval: interval,
		keys:     make(map[outcome.Key]*keyState),
		recorded: make(map[string]outcome.Key),
		store:    store,
		queue:    queue,
		hub:      orNop(hub),
		metrics:  metrics,
		now:      time.Now,
	}
	empty := thresholdTable{}
	m.table.Store(&empty)
	return m
}

// GetThreshold returns the threshold in effect for capability and level.
// Unknown levels get the ceiling so nothing clears them by accident.
func (m *ThresholdManager) GetThreshold(capability action.Capability, level action.Level) float64 {
	t := *m.table.Load()
	if v, ok := t[outcome.Key{Capability: capability, Level: level}]; ok {
		return v
	}
	if v, ok := m.defaults[level]; ok {
		return v
	}
	return m.policy.Ceiling
}

// SetOverride pins the starting threshold of a key, clamped to the bounds.
func (m *ThresholdManager) SetOverride(capability action.Capability, level action.Level, value float64) error {
	if !level.Valid() {
		return domain.NewValidationError("level", "unknown decision level %q", level)
	}
	if capability == "" {
		return domain.NewValidationError("capability", "is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publish(outcome.Key{Capability: capability, Level: level}, m.policy.Clamp(value))
	return nil
}

// publish must be called with m.mu held.
func (m *ThresholdManager) publish(k outcome.Key, v float64) {
	cur := *m.table.Load()
	next := make(thresholdTable, len(cur)+1)
	for key, val := range cur {
		next[key] = val
	}
	next[k] = v
	m.table.Store(&next)
}

// state must be called with m.mu held.
func (m *ThresholdManager) state(k outcome.Key) *keyState {
	ks, ok := m.keys[k]
	if !ok {
		ks = &keyState{window: outcome.NewWindow(m.policy.WindowSize)}
		m.keys[k] = ks
	}
	return ks
}

// add records o under its key unless its decision id was already recorded
// under any key. Must be called with m.mu held.
func (m *ThresholdManager) add(o outcome.Outcome) bool {
	k := o.Key()
	if prev, dup := m.recorded[o.DecisionID]; dup && prev != k {
		return false
	}
	if !m.state(k).window.Add(o) {
		return false
	}
	m.recorded[o.DecisionID] = k
	m.trimRecorded()
	return true
}

// trimRecorded bounds the id index the same way each window bounds its own.
// Ids still held by a window are always kept. Must be called with m.mu held.
func (m *ThresholdManager) trimRecorded() {
	if len(m.recorded) <= m.policy.WindowSize*10*max(len(m.keys), 1) {
		return
	}
	keep := make(map[string]outcome.Key, len(m.recorded)/2)
	for k, ks := range m.keys {
		for _, o := range ks.window.Snapshot() {
			keep[o.DecisionID] = k
		}
	}
	m.recorded = keep
}

func validateOutcome(o *outcome.Outcome) error {
	if o.DecisionID == "" {
		return domain.NewValidationError("decision_id", "is required")
	}
	if o.Capability == "" {
		return domain.NewValidationError("capability", "is required")
	}
	if !o.Level.Valid() {
		return domain.NewValidationError("level", "unknown decision level %q", o.Level)
	}
	if math.IsNaN(o.Confidence) || o.Confidence < 0 || o.Confidence > 1 {
		return domain.NewValidationError("confidence", "%g outside [0, 1]", o.Confidence)
	}
	return nil
}

// RecordOutcome appends an outcome to its key's window. It returns false when
// the decision id was already recorded, under this or any other key. Safe for
// concurrent callers.
func (m *ThresholdManager) RecordOutcome(ctx context.Context, o outcome.Outcome) (bool, error) {
	if err := validateOutcome(&o); err != nil {
		return false, err
	}
	if o.Timestamp.IsZero() {
		o.Timestamp = m.now()
	}

	m.mu.Lock()
	added := m.add(o)
	m.mu.Unlock()
	if !added {
		slog.Debug("duplicate outcome ignored", "decision_id", o.DecisionID)
		return false, nil
	}

	if m.metrics != nil {
		m.metrics.OutcomesRecorded.Add(ctx, 1, metric.WithAttributes(
			attribute.String("capability", string(o.Capability)),
			attribute.String("level", string(o.Level)),
			attribute.Bool("success", o.Success),
		))
	}

	publishBestEffort(ctx, m.queue, messagequeue.SubjectOutcomes, messagequeue.OutcomePayload{
		DecisionID: o.DecisionID,
		Capability: string(o.Capability),
		Level:      string(o.Level),
		Confidence: o.Confidence,
		Success:    o.Success,
		Timestamp:  o.Timestamp,
		Context:    o.Context,
	})

	if m.store != nil {
		if err := m.store.AppendOutcome(ctx, o); err != nil {
			return true, fmt.Errorf("persist outcome %s: %w", o.DecisionID, err)
		}
	}
	return true, nil
}

// CheckAdjustments applies the adjustment rule to every eligible key and
// returns the changes made. An evaluation that leaves a threshold unchanged
// does not reset the key's sample count or cooldown.
func (m *ThresholdManager) CheckAdjustments(ctx context.Context) []Adjustment {
	now := m.now()
	var changes []Adjustment

	m.mu.Lock()
	for k, ks := range m.keys {
		newSamples := ks.window.Added() - ks.addedAtLast
		if !m.policy.Eligible(newSamples, ks.window.Len(), ks.lastAdjusted, now) {
			continue
		}
		recent := ks.window.Recent(m.policy.RecentSize)
		current := m.GetThreshold(k.Capability, k.Level)
		next, changed := m.policy.Adjust(current, recent)
		if !changed {
			continue
		}
		rate, _ := outcome.Summarize(recent)
		m.publish(k, next)
		ks.lastAdjusted = now
		ks.addedAtLast = ks.window.Added()
		changes = append(changes, Adjustment{
			Key:         k.String(),
			From:        current,
			To:          next,
			SuccessRate: rate,
			Samples:     len(recent),
			At:          now,
		})
	}
	m.mu.Unlock()

	sort.Slice(changes, func(i, j int) bool { return changes[i].Key < changes[j].Key })
	for _, c := range changes {
		direction := "lowered"
		if c.To > c.From {
			direction = "raised"
		}
		slog.Info("threshold adjusted", "key", c.Key, "from", c.From, "to", c.To, "success_rate", c.SuccessRate)
		if m.metrics != nil {
			m.metrics.ThresholdAdjusted.Add(ctx, 1, metric.WithAttributes(
				attribute.String("key", c.Key),
				attribute.String("direction", direction),
			))
		}
		m.hub.BroadcastEvent(ctx, broadcast.EventThresholdAdjusted, c)
	}
	return changes
}

// Run checks for adjustments every interval until ctx is cancelled.
func (m *ThresholdManager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	slog.Info("threshold manager started", "interval", m.interval.String())
	for {
		select {
		case <-ctx.Done():
			slog.Info("threshold manager stopped")
			return nil
		case <-ticker.C:
			m.CheckAdjustments(ctx)
		}
	}
}

// Warm loads recent outcomes for keys from persistence. Loaded outcomes count
// as history, not as new samples.
func (m *ThresholdManager) Warm(ctx context.Context, keys []outcome.Key) error {
	if m.store == nil {
		return nil
	}
	for _, k := range keys {
		list, err := m.store.LoadRecentOutcomes(ctx, k, m.policy.WindowSize)
		if err != nil {
			return fmt.Errorf("warm %s: %w", k, err)
		}
		m.mu.Lock()
		for i := range list {
			m.add(list[i])
		}
		ks := m.state(k)
		ks.addedAtLast = ks.window.Added()
		m.mu.Unlock()
		if len(list) > 0 {
			slog.Info("threshold window warmed", "key", k.String(), "outcomes", len(list))
		}
	}
	return nil
}

// PerformanceSummary reports per-key success rate, average confidence,
// sample count and current threshold, ordered by key.
func (m *ThresholdManager) PerformanceSummary() []outcome.Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]outcome.Summary, 0, len(m.keys))
	for k, ks := range m.keys {
		snap := ks.window.Snapshot()
		rate, conf := outcome.Summarize(snap)
		out = append(out, outcome.Summary{
			Key:           k.String(),
			Capability:    string(k.Capability),
			Level:         string(k.Level),
			SuccessRate:   rate,
			AvgConfidence: conf,
			Samples:       len(snap),
			Threshold:     m.GetThreshold(k.Capability, k.Level),
			LastAdjusted:  ks.lastAdjusted,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Thresholds returns the current table including level defaults, keyed by
// "capability/LEVEL" with "*/LEVEL" for the defaults.
func (m *ThresholdManager) Thresholds() map[string]float64 {
	t := *m.table.Load()
	out := make(map[string]float64, len(t)+len(m.defaults))
	for l, v := range m.defaults {
		out["*/"+string(l)] = v
	}
	for k, v := range t {
		out[k.String()] = v
	}
	return out
}
