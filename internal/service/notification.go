package service

import (
	"context"
	"log/slog"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/Strob0t/decisiongate/internal/port/notifier"
)

// NotificationService dispatches escalations to all registered notifiers.
// Non-critical notifications share a token bucket; critical ones always go out.
type NotificationService struct {
	notifiers      []notifier.Notifier
	enabledSources map[string]bool
	limiter        *rate.Limiter
	suppressed     atomic.Int64
}

// NewNotificationService creates a NotificationService with the given notifiers
// and list of enabled sources (e.g., "emergency.tripped", "coordination.fallback").
// If enabledSources is nil or empty, all sources are enabled. A non-positive
// perMinute disables rate limiting.
func NewNotificationService(notifiers []notifier.Notifier, enabledSources []string, perMinute float64, burst int) *NotificationService {
	enabled := make(map[string]bool, len(enabledSources))
	for _, e := range enabledSources {
		enabled[e] = true
	}
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(perMinute / 60)
	}
	return &NotificationService{
		notifiers:      notifiers,
		enabledSources: enabled,
		limiter:        rate.NewLimiter(limit, max(burst, 1)),
	}
}

// Notify sends a notification to all registered notifiers.
// Errors are logged but do not interrupt delivery to other notifiers.
func (s *NotificationService) Notify(ctx context.Context, n notifier.Notification) {
	if s == nil || len(s.notifiers) == 0 {
		return
	}
	if len(s.enabledSources) > 0 && !s.enabledSources[n.Source] {
		return
	}
	if n.Severity != notifier.SeverityCritical && !s.limiter.Allow() {
		s.suppressed.Add(1)
		slog.Warn("notification rate limited", "source", n.Source, "title", n.Title)
		return
	}

	for _, provider := range s.notifiers {
		if err := provider.Send(ctx, n); err != nil {
			slog.Warn("notification send failed",
				"provider", provider.Name(),
				"title", n.Title,
				"error", err,
			)
			continue
		}
		slog.Debug("notification sent", "provider", provider.Name(), "title", n.Title)
	}
}

// NotifierCount returns the number of registered notifiers.
func (s *NotificationService) NotifierCount() int {
	return len(s.notifiers)
}

// Suppressed returns how many notifications were dropped by the rate limit.
func (s *NotificationService) Suppressed() int64 {
	return s.suppressed.Load()
}
