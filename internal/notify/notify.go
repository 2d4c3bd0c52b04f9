// Package notify tells operators about records that need a human.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/slack-go/slack"
)

// Escalation describes one record forced to NeedHuman.
type Escalation struct {
	EventKey    string
	ShowName    string
	EventDate   string
	ContactName string
	Address     string
	PrevStatus  string
	DaysLeft    int
}

// Notifier delivers escalations. Delivery is best-effort; callers log failures.
type Notifier interface {
	NotifyEscalation(ctx context.Context, e Escalation) error
}

// Nop drops every notification.
type Nop struct{}

func (Nop) NotifyEscalation(context.Context, Escalation) error { return nil }

// SlackNotifier posts to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

func NewSlackNotifier(webhookURL string, client *http.Client) (*SlackNotifier, error) {
	if webhookURL == "" {
		return nil, errors.New("notify: slack webhook url is required")
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &SlackNotifier{webhookURL: webhookURL, client: client}, nil
}

func (n *SlackNotifier) NotifyEscalation(ctx context.Context, e Escalation) error {
	msg := &slack.WebhookMessage{
		Text: fmt.Sprintf("Event %s needs a human: no tech entry time %d days before the show", e.EventKey, e.DaysLeft),
		Attachments: []slack.Attachment{{
			Color: "warning",
			Title: e.ShowName,
			Fields: []slack.AttachmentField{
				{Title: "Event", Value: e.EventKey, Short: true},
				{Title: "Date", Value: e.EventDate, Short: true},
				{Title: "Contact", Value: e.ContactName, Short: true},
				{Title: "Address", Value: e.Address, Short: true},
				{Title: "Previous status", Value: e.PrevStatus, Short: true},
			},
		}},
	}
	if err := slack.PostWebhookCustomHTTPContext(ctx, n.webhookURL, n.client, msg); err != nil {
		return fmt.Errorf("notify: slack webhook: %w", err)
	}
	return nil
}
