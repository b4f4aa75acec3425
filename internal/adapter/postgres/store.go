package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/decisiongate/internal/domain/action"
	"github.com/Strob0t/decisiongate/internal/domain/coordination"
	"github.com/Strob0t/decisiongate/internal/domain/emergency"
	"github.com/Strob0t/decisiongate/internal/domain/outcome"
)

// Store implements persistence.Store using PostgreSQL (append-only).
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- Outcomes ---

// AppendOutcome inserts an outcome. A repeated decision id is ignored.
func (s *Store) AppendOutcome(ctx context.Context, o outcome.Outcome) error {
	ctxJSON, err := jsonOrEmpty(o.Context)
	if err != nil {
		return fmt.Errorf("marshal outcome context: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO decision_outcomes (decision_id, capability, level, confidence, success, context, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (decision_id) DO NOTHING`,
		o.DecisionID, string(o.Capability), string(o.Level), o.Confidence, o.Success, ctxJSON, o.Timestamp)
	if err != nil {
		return fmt.Errorf("append outcome %s: %w", o.DecisionID, err)
	}
	return nil
}

// LoadRecentOutcomes returns up to limit of the newest outcomes for key, oldest first.
func (s *Store) LoadRecentOutcomes(ctx context.Context, key outcome.Key, limit int) ([]outcome.Outcome, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT decision_id, capability, level, confidence, success, context, recorded_at
		 FROM decision_outcomes WHERE capability = $1 AND level = $2
		 ORDER BY seq DESC LIMIT $3`,
		string(key.Capability), string(key.Level), limit)
	if err != nil {
		return nil, fmt.Errorf("load outcomes %s: %w", key, err)
	}
	defer rows.Close()

	var out []outcome.Outcome
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load outcomes %s: %w", key, err)
	}
	slices.Reverse(out)
	return out, nil
}

func scanOutcome(row scannable) (outcome.Outcome, error) {
	var (
		o          outcome.Outcome
		capability string
		level      string
		ctxJSON    []byte
	)
	if err := row.Scan(&o.DecisionID, &capability, &level, &o.Confidence, &o.Success, &ctxJSON, &o.Timestamp); err != nil {
		return o, err
	}
	o.Capability = action.Capability(capability)
	o.Level = action.Level(level)
	if len(ctxJSON) > 0 && string(ctxJSON) != "{}" {
		if err := json.Unmarshal(ctxJSON, &o.Context); err != nil {
			return o, fmt.Errorf("unmarshal outcome context: %w", err)
		}
	}
	return o, nil
}

// --- Coordination events ---

// AppendEvent inserts a coordination event.
func (s *Store) AppendEvent(ctx context.Context, e coordination.Event) error {
	payload, err := jsonOrEmpty(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	steps, err := json.Marshal(orEmpty(e.Steps))
	if err != nil {
		return fmt.Errorf("marshal event steps: %w", err)
	}
	var fallback []byte
	if e.Fallback != nil {
		if fallback, err = json.Marshal(e.Fallback); err != nil {
			return fmt.Errorf("marshal event fallback: %w", err)
		}
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO coordination_events (id, trigger, status, payload, steps, fallback, error, duration_ms, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.Trigger, e.Status, payload, steps, fallback, e.Error, e.Duration.Milliseconds(), e.Timestamp)
	if err != nil {
		return fmt.Errorf("append coordination event %s: %w", e.ID, err)
	}
	return nil
}

// ListEvents returns up to limit of the newest events, newest first.
func (s *Store) ListEvents(ctx context.Context, limit int) ([]coordination.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, trigger, status, payload, steps, fallback, error, duration_ms, occurred_at
		 FROM coordination_events ORDER BY seq DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list coordination events: %w", err)
	}
	defer rows.Close()

	var out []coordination.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan coordination event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEvent(row scannable) (coordination.Event, error) {
	var (
		e          coordination.Event
		payload    []byte
		steps      []byte
		fallback   []byte
		durationMS int64
	)
	if err := row.Scan(&e.ID, &e.Trigger, &e.Status, &payload, &steps, &fallback, &e.Error, &durationMS, &e.Timestamp); err != nil {
		return e, err
	}
	e.Duration = time.Duration(durationMS) * time.Millisecond
	if len(payload) > 0 && string(payload) != "{}" {
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			return e, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	if err := json.Unmarshal(steps, &e.Steps); err != nil {
		return e, fmt.Errorf("unmarshal steps: %w", err)
	}
	if len(fallback) > 0 {
		e.Fallback = &coordination.Escalation{}
		if err := json.Unmarshal(fallback, e.Fallback); err != nil {
			return e, fmt.Errorf("unmarshal fallback: %w", err)
		}
	}
	return e, nil
}

// --- Emergency snapshots ---

// SaveSnapshot persists a forensic snapshot.
func (s *Store) SaveSnapshot(ctx context.Context, snap emergency.Snapshot) error {
	state, err := json.Marshal(snap.State)
	if err != nil {
		return fmt.Errorf("marshal snapshot state: %w", err)
	}
	thresholds, err := json.Marshal(orEmpty(snap.Thresholds))
	if err != nil {
		return fmt.Errorf("marshal snapshot thresholds: %w", err)
	}
	health, err := jsonOrEmpty(snap.Health)
	if err != nil {
		return fmt.Errorf("marshal snapshot health: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO emergency_snapshots (id, taken_at, reason, state, pending_cancelled, thresholds, health)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		snap.ID, snap.TakenAt, snap.Reason, state, orEmpty(snap.PendingCancelled), thresholds, health)
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", snap.ID, err)
	}
	return nil
}

// LatestSnapshot returns the most recently saved snapshot.
func (s *Store) LatestSnapshot(ctx context.Context) (emergency.Snapshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, taken_at, reason, state, pending_cancelled, thresholds, health
		 FROM emergency_snapshots ORDER BY seq DESC LIMIT 1`)

	var (
		snap       emergency.Snapshot
		state      []byte
		thresholds []byte
		health     []byte
	)
	if err := row.Scan(&snap.ID, &snap.TakenAt, &snap.Reason, &state, &snap.PendingCancelled, &thresholds, &health); err != nil {
		return snap, wrapNoRows(err, "latest snapshot")
	}
	if err := json.Unmarshal(state, &snap.State); err != nil {
		return snap, fmt.Errorf("unmarshal snapshot state: %w", err)
	}
	if err := json.Unmarshal(thresholds, &snap.Thresholds); err != nil {
		return snap, fmt.Errorf("unmarshal snapshot thresholds: %w", err)
	}
	if err := json.Unmarshal(health, &snap.Health); err != nil {
		return snap, fmt.Errorf("unmarshal snapshot health: %w", err)
	}
	return snap, nil
}
