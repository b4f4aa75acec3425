package nats

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/decisiongate/internal/logger"
	"github.com/Strob0t/decisiongate/internal/port/messagequeue"
)

// testConnect connects to NATS or skips the test if NATS_URL is not set.
func testConnect(t *testing.T) *Queue {
	t.Helper()

	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}

	q, err := Connect(context.Background(), url, "DECISIONGATE_TEST")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		if err := q.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return q
}

func TestQueue_PublishSubscribe(t *testing.T) {
	q := testConnect(t)

	want := messagequeue.HealthSignalPayload{Subsystem: "treasury", Critical: true, Status: "error"}
	data, err := json.Marshal(want)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var (
		mu       sync.Mutex
		received *messagequeue.HealthSignalPayload
		gotCorr  string
		done     = make(chan struct{})
		once     sync.Once
	)

	stop, err := q.Subscribe(context.Background(), messagequeue.SubjectHealthSignals, func(ctx context.Context, _ string, d []byte) error {
		var got messagequeue.HealthSignalPayload
		if err := json.Unmarshal(d, &got); err != nil {
			return err
		}
		mu.Lock()
		received = &got
		gotCorr = logger.CorrelationID(ctx)
		mu.Unlock()
		once.Do(func() { close(done) })
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()

	ctx := logger.WithCorrelationID(context.Background(), "corr-42")
	if err := q.Publish(ctx, messagequeue.SubjectHealthSignals, data); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	mu.Lock()
	defer mu.Unlock()

	if received == nil || received.Subsystem != "treasury" || !received.Critical {
		t.Fatalf("unexpected payload %+v", received)
	}
	if gotCorr != "corr-42" {
		t.Errorf("expected correlation id corr-42, got %q", gotCorr)
	}
}

func TestQueue_PublishRejectsInvalid(t *testing.T) {
	q := testConnect(t)

	err := q.Publish(context.Background(), messagequeue.SubjectCoordinationRun, []byte(`{"payload":{}}`))
	if err == nil {
		t.Fatal("expected validation error for trigger without name")
	}
}

func TestQueue_IsConnected(t *testing.T) {
	q := testConnect(t)
	if !q.IsConnected() {
		t.Fatal("expected connected queue")
	}
}
