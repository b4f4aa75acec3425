package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/Strob0t/decisiongate/internal/port/subsystem"
	"github.com/Strob0t/decisiongate/internal/resilience"
)

// Subsystem forwards coordination operations to an HTTP endpoint as
// {"operation": ..., "payload": ...} and returns the decoded JSON object.
type Subsystem struct {
	name    string
	url     string
	client  *http.Client
	breaker *resilience.Breaker
}

var _ subsystem.Subsystem = (*Subsystem)(nil)

// NewSubsystem creates a webhook-backed subsystem. client and breaker may be nil.
func NewSubsystem(name, url string, client *http.Client, breaker *resilience.Breaker) *Subsystem {
	if client == nil {
		client = http.DefaultClient
	}
	return &Subsystem{name: name, url: url, client: client, breaker: breaker}
}

// Name implements subsystem.Subsystem.
func (s *Subsystem) Name() string { return s.name }

type invokeRequest struct {
	Operation string         `json:"operation"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Invoke implements subsystem.Subsystem.
func (s *Subsystem) Invoke(ctx context.Context, operation string, payload map[string]any) (map[string]any, error) {
	var out map[string]any
	call := func() error {
		var err error
		out, err = s.post(ctx, operation, payload)
		return err
	}
	if s.breaker == nil {
		return out, call()
	}
	return out, s.breaker.Execute(call)
}

func (s *Subsystem) post(ctx context.Context, operation string, payload map[string]any) (map[string]any, error) {
	body, err := json.Marshal(invokeRequest{Operation: operation, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("subsystem %s marshal: %w", s.name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("subsystem %s request: %w", s.name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req) //nolint:gosec // subsystem URL from trusted config
	if err != nil {
		return nil, fmt.Errorf("subsystem %s send: %w", s.name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &subsystem.ErrUnknownOperation{Subsystem: s.name, Operation: operation}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("subsystem %s %d: %s", s.name, resp.StatusCode, string(respBody))
	}

	// An empty body is an empty result.
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("subsystem %s decode: %w", s.name, err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}
