// Package discord posts engine escalations to a Discord channel webhook.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Strob0t/decisiongate/internal/port/notifier"
)

const providerName = "discord"

// Notifier renders each escalation as a single embed. Critical escalations
// ping @here so an operator sees a tripped breaker immediately.
type Notifier struct {
	webhookURL string
	httpClient *http.Client
	now        func() time.Time
}

// NewNotifier creates a Discord notifier for webhookURL.
func NewNotifier(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}
}

// Name implements notifier.Notifier.
func (n *Notifier) Name() string { return providerName }

type webhookMessage struct {
	Username        string           `json:"username"`
	Content         string           `json:"content,omitempty"`
	Embeds          []embed          `json:"embeds"`
	AllowedMentions *allowedMentions `json:"allowed_mentions,omitempty"`
}

type allowedMentions struct {
	Parse []string `json:"parse"`
}

type embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Color       int          `json:"color"`
	Fields      []embedField `json:"fields,omitempty"`
	Timestamp   string       `json:"timestamp"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

func (n *Notifier) message(note notifier.Notification) webhookMessage {
	e := embed{
		Title:       note.Title,
		Description: note.Body,
		Color:       severityColor(note.Severity),
		Fields:      []embedField{{Name: "Severity", Value: string(note.Severity), Inline: true}},
		Timestamp:   n.now().UTC().Format(time.RFC3339),
	}
	if note.Source != "" {
		e.Fields = append(e.Fields, embedField{Name: "Source", Value: note.Source, Inline: true})
	}
	msg := webhookMessage{Username: "decisiongate", Embeds: []embed{e}}
	if note.Severity == notifier.SeverityCritical {
		msg.Content = "@here"
		msg.AllowedMentions = &allowedMentions{Parse: []string{"everyone"}}
	}
	return msg
}

// Send implements notifier.Notifier.
func (n *Notifier) Send(ctx context.Context, note notifier.Notification) error {
	if n.webhookURL == "" {
		return notifier.ErrNotConfigured
	}
	body, err := json.Marshal(n.message(note))
	if err != nil {
		return fmt.Errorf("discord marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req) //nolint:gosec // webhook URL from trusted config
	if err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("discord rate limited, retry after %ss", resp.Header.Get("Retry-After"))
	case resp.StatusCode >= 400:
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("discord API %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func severityColor(s notifier.Severity) int {
	switch s {
	case notifier.SeverityCritical:
		return 0xE74C3C
	case notifier.SeverityWarning:
		return 0xF39C12
	default:
		return 0x3498DB
	}
}

func init() {
	notifier.Register(providerName, func(config map[string]string) (notifier.Notifier, error) {
		if config["webhook_url"] == "" {
			return nil, fmt.Errorf("discord notifier: webhook_url is required")
		}
		return NewNotifier(config["webhook_url"]), nil
	})
}
