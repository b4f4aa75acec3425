// Package webhook performs actions and advisory hand-offs by POSTing them to
// operator-provided HTTP endpoints.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Strob0t/decisiongate/internal/domain/action"
	"github.com/Strob0t/decisiongate/internal/port/executor"
	"github.com/Strob0t/decisiongate/internal/resilience"
)

const backendName = "webhook"

// Executor POSTs actions as JSON and expects an action.Result back.
// A non-2xx status is an executor error; a 2xx with success=false is a
// rejection.
type Executor struct {
	url     string
	client  *http.Client
	breaker *resilience.Breaker
}

// NewExecutor creates a webhook executor. client and breaker may be nil.
func NewExecutor(url string, client *http.Client, breaker *resilience.Breaker) *Executor {
	if client == nil {
		client = http.DefaultClient
	}
	return &Executor{url: url, client: client, breaker: breaker}
}

type executeRequest struct {
	ID             string            `json:"id"`
	CandidateID    string            `json:"candidate_id"`
	Capability     action.Capability `json:"capability"`
	Level          action.Level      `json:"level"`
	Urgency        action.Urgency    `json:"urgency"`
	Confidence     float64           `json:"confidence"`
	Recommendation string            `json:"recommendation"`
	Attempt        int               `json:"attempt"`
	Payload        map[string]any    `json:"payload,omitempty"`
}

// Execute implements executor.ActionExecutor.
func (e *Executor) Execute(ctx context.Context, a action.Action) (action.Result, error) {
	var res action.Result
	call := func() error {
		var err error
		res, err = e.post(ctx, a)
		return err
	}
	if e.breaker == nil {
		return res, call()
	}
	return res, e.breaker.Execute(call)
}

func (e *Executor) post(ctx context.Context, a action.Action) (action.Result, error) {
	body, err := json.Marshal(executeRequest{
		ID:             a.ID,
		CandidateID:    a.CandidateID,
		Capability:     a.Capability,
		Level:          a.Level,
		Urgency:        a.Urgency,
		Confidence:     a.Confidence,
		Recommendation: a.Recommendation,
		Attempt:        a.Attempts,
		Payload:        a.Payload,
	})
	if err != nil {
		return action.Result{}, fmt.Errorf("webhook marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return action.Result{}, fmt.Errorf("webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", a.ID+"/"+strconv.Itoa(a.Attempts))

	resp, err := e.client.Do(req) //nolint:gosec // executor URL from trusted config
	if err != nil {
		return action.Result{}, fmt.Errorf("webhook send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return action.Result{}, fmt.Errorf("webhook %d: %s", resp.StatusCode, string(respBody))
	}

	var res action.Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return action.Result{}, fmt.Errorf("webhook decode: %w", err)
	}
	return res, nil
}

func init() {
	executor.Register(backendName, func(config map[string]string) (executor.ActionExecutor, error) {
		url := config["url"]
		if url == "" {
			return nil, fmt.Errorf("webhook executor: url is required")
		}
		maxFailures := 5
		if v, err := strconv.Atoi(config["breaker_max_failures"]); err == nil && v > 0 {
			maxFailures = v
		}
		timeout := 30 * time.Second
		if v, err := time.ParseDuration(config["breaker_timeout"]); err == nil && v > 0 {
			timeout = v
		}
		return NewExecutor(url, nil, resilience.NewBreaker("executor.webhook", maxFailures, timeout)), nil
	})
}
