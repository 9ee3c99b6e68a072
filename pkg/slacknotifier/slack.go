// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package slacknotifier posts supervisor alerts to a Slack Incoming Webhook.
//
// A notifier with an empty webhook URL is disabled and every send is a no-op,
// so callers never need to check IsEnabled before sending.
//
// # Usage
//
//	notifier := slacknotifier.New("https://hooks.slack.com/services/...")
//
//	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
//	defer cancel()
//
//	err := notifier.SendAlert(ctx, "warning", "Gas level high", "gaz = 3120 ADC")
//	if err != nil {
//	    logger.Warn().Err(err).Msg("Slack alert failed")
//	}
package slacknotifier

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	apperrors "github.com/soothill/hvac-supervisor/pkg/errors"
	"github.com/soothill/hvac-supervisor/pkg/metrics"
)

// Footer is shown under every alert attachment.
const Footer = "HVAC Supervisor"

const sendTimeout = 10 * time.Second

// Notifier sends notifications to Slack via webhook
type Notifier struct {
	mu         sync.RWMutex
	webhookURL string
	client     *resty.Client
	now        func() time.Time
}

// Message represents a Slack webhook message payload
type Message struct {
	Text        string       `json:"text,omitempty"`
	Blocks      []Block      `json:"blocks,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Block represents a Slack block element
type Block struct {
	Type string `json:"type"`
	Text *Text  `json:"text,omitempty"`
}

// Text represents text within a Slack block
type Text struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Attachment represents a Slack attachment
type Attachment struct {
	Color  string `json:"color,omitempty"`
	Title  string `json:"title,omitempty"`
	Text   string `json:"text,omitempty"`
	Footer string `json:"footer,omitempty"`
	Ts     int64  `json:"ts,omitempty"`
}

// New creates a new Slack notifier
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client: resty.New().
			SetTimeout(sendTimeout).
			SetRetryCount(0).
			SetHeader("Content-Type", "application/json"),
		now: time.Now,
	}
}

// IsEnabled returns whether Slack notifications are enabled
func (s *Notifier) IsEnabled() bool {
	return s.url() != ""
}

// UpdateWebhookURL swaps the webhook, e.g. after a configuration reload.
// An empty URL disables the notifier.
func (s *Notifier) UpdateWebhookURL(webhookURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webhookURL = webhookURL
}

func (s *Notifier) url() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.webhookURL
}

// SendMessage sends a simple text message to Slack
func (s *Notifier) SendMessage(ctx context.Context, message string) error {
	if !s.IsEnabled() {
		return nil
	}
	return s.sendPayload(ctx, "message", Message{Text: message})
}

// SendAlert sends a formatted alert to Slack
func (s *Notifier) SendAlert(ctx context.Context, severity, title, message string) error {
	if !s.IsEnabled() {
		return nil
	}

	payload := Message{
		Attachments: []Attachment{
			{
				Color:  severityToColor(severity),
				Title:  title,
				Text:   message,
				Footer: Footer,
				Ts:     s.now().Unix(),
			},
		},
	}

	return s.sendPayload(ctx, severity, payload)
}

// sendPayload sends a payload to the Slack webhook
func (s *Notifier) sendPayload(ctx context.Context, severity string, payload Message) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post(s.url())
	if err != nil {
		return apperrors.NewNotificationError("slack", fmt.Errorf("failed to send request: %w", err))
	}

	if resp.StatusCode() != http.StatusOK {
		return apperrors.NewNotificationError("slack", fmt.Errorf("slack webhook returned status %d", resp.StatusCode()))
	}

	metrics.NotificationsSent.WithLabelValues(severity).Inc()
	return nil
}

// severityToColor maps severity levels to Slack colors
func severityToColor(severity string) string {
	switch severity {
	case "danger", "error":
		return "danger" // Red
	case "warning", "warn":
		return "warning" // Yellow
	case "good", "success":
		return "good" // Green
	default:
		return "#808080" // Gray
	}
}
