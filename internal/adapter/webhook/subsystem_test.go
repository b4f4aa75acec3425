package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Strob0t/decisiongate/internal/port/subsystem"
	"github.com/Strob0t/decisiongate/internal/resilience"
)

func TestSubsystemInvoke(t *testing.T) {
	var got invokeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(map[string]any{"runway_months": 18.0})
	}))
	defer srv.Close()

	s := NewSubsystem("analytics", srv.URL, nil, nil)
	out, err := s.Invoke(context.Background(), "forecast", map[string]any{"horizon": "q3"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out["runway_months"] != 18.0 {
		t.Fatalf("unexpected output %v", out)
	}
	if got.Operation != "forecast" || got.Payload["horizon"] != "q3" {
		t.Fatalf("unexpected request %+v", got)
	}
	if s.Name() != "analytics" {
		t.Fatalf("unexpected name %q", s.Name())
	}
}

func TestSubsystemUnknownOperation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewSubsystem("treasury", srv.URL, nil, nil).Invoke(context.Background(), "teleport", nil)
	var unknown *subsystem.ErrUnknownOperation
	if !errors.As(err, &unknown) || unknown.Operation != "teleport" {
		t.Fatalf("expected ErrUnknownOperation, got %v", err)
	}
}

func TestSubsystemBreakerOpens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewSubsystem("security", srv.URL, nil, resilience.NewBreaker("subsystem.security", 2, time.Minute))
	ctx := context.Background()
	for range 2 {
		if _, err := s.Invoke(ctx, "scan", nil); err == nil {
			t.Fatal("expected error from 502")
		}
	}
	if _, err := s.Invoke(ctx, "scan", nil); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected open breaker, got %v", err)
	}
}
