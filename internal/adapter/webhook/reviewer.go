package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Strob0t/decisiongate/internal/domain/action"
	"github.com/Strob0t/decisiongate/internal/resilience"
)

// Reviewer hands advisory actions to an external review queue.
type Reviewer struct {
	url     string
	client  *http.Client
	breaker *resilience.Breaker
}

// NewReviewer creates a webhook reviewer. client and breaker may be nil.
func NewReviewer(url string, client *http.Client, breaker *resilience.Breaker) *Reviewer {
	if client == nil {
		client = http.DefaultClient
	}
	return &Reviewer{url: url, client: client, breaker: breaker}
}

// Submit implements reviewer.Reviewer.
func (r *Reviewer) Submit(ctx context.Context, a action.Action) error {
	call := func() error { return r.post(ctx, a) }
	if r.breaker == nil {
		return call()
	}
	return r.breaker.Execute(call)
}

func (r *Reviewer) post(ctx context.Context, a action.Action) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("review marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("review request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req) //nolint:gosec // review URL from trusted config
	if err != nil {
		return fmt.Errorf("review send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("review endpoint returned %d", resp.StatusCode)
	}
	return nil
}
