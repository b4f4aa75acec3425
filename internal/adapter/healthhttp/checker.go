// Package healthhttp implements health.Checker by polling per-subsystem
// status endpoints.
package healthhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Strob0t/decisiongate/internal/port/health"
	"github.com/Strob0t/decisiongate/internal/resilience"
)

// Checker GETs {"status": "...", "metrics": {...}} from a subsystem's
// endpoint. Subsystems without an endpoint are delegated to fallback.
type Checker struct {
	endpoints   map[string]string
	client      *http.Client
	fallback    health.Checker
	maxFailures int
	openFor     time.Duration

	mu       sync.Mutex
	breakers map[string]*resilience.Breaker
}

// New creates an HTTP checker. Each endpoint gets its own breaker so one
// dead subsystem does not mask the others.
func New(endpoints map[string]string, client *http.Client, fallback health.Checker, maxFailures int, openFor time.Duration) *Checker {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if fallback == nil {
		fallback = health.Static{}
	}
	return &Checker{
		endpoints:   endpoints,
		client:      client,
		fallback:    fallback,
		maxFailures: maxFailures,
		openFor:     openFor,
		breakers:    make(map[string]*resilience.Breaker),
	}
}

type statusResponse struct {
	Status  health.Status      `json:"status"`
	Metrics map[string]float64 `json:"metrics"`
}

// GetStatus implements health.Checker. Transport failures yield a report
// with status error alongside the error.
func (c *Checker) GetStatus(ctx context.Context, name string) (health.Report, error) {
	url, ok := c.endpoints[name]
	if !ok {
		return c.fallback.GetStatus(ctx, name)
	}

	var body statusResponse
	err := c.breaker(name).Execute(func() error {
		return c.fetch(ctx, url, &body)
	})
	if err != nil {
		return health.Report{Name: name, Status: health.StatusError, CheckedAt: time.Now()},
			fmt.Errorf("health %s: %w", name, err)
	}

	switch body.Status {
	case health.StatusActive, health.StatusInactive, health.StatusError:
	default:
		body.Status = health.StatusError
	}
	return health.Report{Name: name, Status: body.Status, Metrics: body.Metrics, CheckedAt: time.Now()}, nil
}

func (c *Checker) fetch(ctx context.Context, url string, out *statusResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req) //nolint:gosec // endpoint URL from trusted config
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Checker) breaker(name string) *resilience.Breaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.breakers[name]
	if !ok {
		b = resilience.NewBreaker("health."+name, c.maxFailures, c.openFor)
		c.breakers[name] = b
	}
	return b
}
