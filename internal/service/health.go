package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/Strob0t/decisiongate/internal/port/cache"
	"github.com/Strob0t/decisiongate/internal/port/health"
)

const healthKeyPrefix = "health:"

// CachedHealth serves subsystem health reports from a cache and falls back to
// the underlying checker on a miss. Failed checks are never cached.
type CachedHealth struct {
	checker health.Checker
	cache   cache.Cache
	ttl     time.Duration
}

// NewCachedHealth wraps checker with c. A nil cache disables caching.
func NewCachedHealth(checker health.Checker, c cache.Cache, ttl time.Duration) *CachedHealth {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &CachedHealth{checker: checker, cache: c, ttl: ttl}
}

// GetStatus implements health.Checker.
func (h *CachedHealth) GetStatus(ctx context.Context, name string) (health.Report, error) {
	key := healthKeyPrefix + name
	if h.cache != nil {
		data, ok, err := h.cache.Get(ctx, key)
		if err != nil {
			slog.Warn("health cache get failed", "subsystem", name, "error", err)
		}
		if ok {
			var r health.Report
			if err := json.Unmarshal(data, &r); err == nil {
				return r, nil
			}
			slog.Warn("health cache entry corrupt", "subsystem", name)
		}
	}

	r, err := h.checker.GetStatus(ctx, name)
	if err != nil {
		return r, err
	}
	if r.Name == "" {
		r.Name = name
	}
	if h.cache != nil {
		if data, err := json.Marshal(r); err == nil {
			if err := h.cache.Set(ctx, key, data, h.ttl); err != nil {
				slog.Warn("health cache set failed", "subsystem", name, "error", err)
			}
		}
	}
	return r, nil
}

// Invalidate drops the cached report of a subsystem, so the next check goes
// to the source.
func (h *CachedHealth) Invalidate(ctx context.Context, name string) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Delete(ctx, healthKeyPrefix+name); err != nil {
		slog.Warn("health cache delete failed", "subsystem", name, "error", err)
	}
}

// Statuses returns the current status of each named subsystem. Failed checks
// report health.StatusError.
func (h *CachedHealth) Statuses(ctx context.Context, names []string) map[string]string {
	out := make(map[string]string, len(names))
	for _, n := range names {
		r, err := h.GetStatus(ctx, n)
		if err != nil {
			out[n] = string(health.StatusError)
			continue
		}
		out[n] = string(r.Status)
	}
	return out
}
