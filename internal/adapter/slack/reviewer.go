package slack

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Strob0t/decisiongate/internal/domain/action"
	"github.com/Strob0t/decisiongate/internal/port/notifier"
)

// Reviewer posts advisory actions as Block Kit messages with Approve and
// Reject buttons. The decision arrives later through Slack's interaction
// callback and is resolved outside the engine.
type Reviewer struct {
	webhookURL string
	httpClient *http.Client
}

// NewReviewer creates a Slack reviewer.
func NewReviewer(webhookURL string) *Reviewer {
	return &Reviewer{webhookURL: webhookURL, httpClient: http.DefaultClient}
}

// Submit implements reviewer.Reviewer.
func (r *Reviewer) Submit(ctx context.Context, a action.Action) error {
	if r.webhookURL == "" {
		return notifier.ErrNotConfigured
	}

	msg := slackMessage{
		Blocks: []slackBlock{
			{
				Type: "section",
				Text: &slackText{
					Type: "mrkdwn",
					Text: fmt.Sprintf("*Review Required*\n\nAction: `%s`\nCapability: `%s`\nConfidence: `%.2f`\nRisk: `%s`\nRecommendation: %s",
						a.ID, a.Capability, a.Confidence, a.Risk, a.Recommendation),
				},
			},
			{
				Type: "actions",
				Elements: []slackElement{
					{
						Type:     "button",
						Text:     &slackText{Type: "plain_text", Text: "Approve"},
						Style:    "primary",
						ActionID: "approve_" + a.ID,
						Value:    a.ID,
					},
					{
						Type:     "button",
						Text:     &slackText{Type: "plain_text", Text: "Reject"},
						Style:    "danger",
						ActionID: "reject_" + a.ID,
						Value:    a.ID,
					},
				},
			},
		},
	}

	if err := post(ctx, r.httpClient, r.webhookURL, msg); err != nil {
		return fmt.Errorf("submit review %s: %w", a.ID, err)
	}
	return nil
}
