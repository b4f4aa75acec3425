package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Strob0t/decisiongate/internal/port/broadcast"
	"github.com/Strob0t/decisiongate/internal/port/messagequeue"
)

// publishJSON marshals payload and publishes it on subject. A nil queue is
// a no-op so services run without NATS.
func publishJSON(ctx context.Context, q messagequeue.Queue, subject string, payload any) error {
	if q == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return q.Publish(ctx, subject, data)
}

// publishBestEffort publishes and logs a failure instead of returning it.
func publishBestEffort(ctx context.Context, q messagequeue.Queue, subject string, payload any) {
	if err := publishJSON(ctx, q, subject, payload); err != nil {
		slog.WarnContext(ctx, "publish failed", "subject", subject, "error", err)
	}
}

func orNop(hub broadcast.Broadcaster) broadcast.Broadcaster {
	if hub == nil {
		return broadcast.Nop{}
	}
	return hub
}
