package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/good-yellow-bee/callout/internal/models"
)

// ErrRateLimited is returned when a notification is dropped because the
// sink's rate limit is exhausted.
var ErrRateLimited = fmt.Errorf("notification rate limited")

// SlackConfig holds Slack webhook configuration.
type SlackConfig struct {
	WebhookURL string
	RateLimit  RateLimitConfig
}

// Validate validates the Slack configuration.
func (c *SlackConfig) Validate() error {
	if c.WebhookURL == "" {
		return fmt.Errorf("webhook URL is required")
	}
	if !strings.HasPrefix(c.WebhookURL, "https://") {
		return fmt.Errorf("webhook URL must use HTTPS")
	}
	return nil
}

// SlackNotifier sends incident alerts to Slack via an incoming webhook.
type SlackNotifier struct {
	config      SlackConfig
	httpClient  *http.Client
	rateLimiter *RateLimiter
}

// NewSlackNotifier creates a new Slack notifier.
func NewSlackNotifier(config SlackConfig) (*SlackNotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid slack config: %w", err)
	}

	return &SlackNotifier{
		config: config,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		rateLimiter: NewRateLimiter(config.RateLimit),
	}, nil
}

// Name returns "slack".
func (s *SlackNotifier) Name() string {
	return "slack"
}

// Send sends one alert to Slack.
func (s *SlackNotifier) Send(ctx context.Context, alert models.Alert) error {
	if s.rateLimiter != nil && !s.rateLimiter.Allow() {
		return ErrRateLimited
	}

	jsonData, err := json.Marshal(s.buildPayload(alert))
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.WebhookURL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("slack API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	return nil
}

// Close is a no-op for the Slack notifier.
func (s *SlackNotifier) Close() error {
	return nil
}

// slackMessage is the webhook payload: one colored attachment of Block
// Kit blocks.
type slackMessage struct {
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Fields   []slackText `json:"fields,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

// buildPayload builds the Block Kit message for an incident alert.
func (s *SlackNotifier) buildPayload(alert models.Alert) slackMessage {
	emoji := severityEmoji(alert.Severity)
	timestamp := alert.Timestamp.Format("2006-01-02 15:04:05")

	blocks := []slackBlock{
		{
			Type: "header",
			Text: &slackText{
				Type:  "plain_text",
				Text:  fmt.Sprintf("%s Zabbix Alert - %s", emoji, alert.Severity),
				Emoji: true,
			},
		},
		{
			Type: "section",
			Fields: []slackText{
				{Type: "mrkdwn", Text: fmt.Sprintf("*Problem:*\n%s", alert.Problem)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Severity:*\n%s", alert.Severity)},
			},
		},
		{
			Type: "section",
			Fields: []slackText{
				{Type: "mrkdwn", Text: fmt.Sprintf("*Host:*\n%s", alert.Hostname)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Visible Name:*\n%s", alert.VisibleName)},
			},
		},
		{
			Type: "section",
			Fields: []slackText{
				{Type: "mrkdwn", Text: fmt.Sprintf("*Group:*\n%s", alert.GroupLabel)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Timestamp:*\n%s", timestamp)},
			},
		},
		{
			Type: "context",
			Elements: []slackText{
				{Type: "mrkdwn", Text: fmt.Sprintf("Event ID: %s | Zabbix Monitor", alert.EventID)},
			},
		},
	}

	return slackMessage{
		Attachments: []slackAttachment{
			{Color: severityColor(alert.Severity), Blocks: blocks},
		},
	}
}

// severityColor returns the attachment color for a severity label.
func severityColor(severity string) string {
	switch severity {
	case "Critical":
		return "#FF0000"
	case "Medium":
		return "#FFA500"
	case "Minor":
		return "#FFFF00"
	case "Clear":
		return "#00FF00"
	default:
		return "#808080"
	}
}

// severityEmoji returns the header emoji for a severity label.
func severityEmoji(severity string) string {
	switch severity {
	case "Critical":
		return "\U0001F534" // red circle
	case "Medium":
		return "\U0001F7E0" // orange circle
	case "Minor":
		return "\U0001F7E1" // yellow circle
	case "Clear":
		return "\U0001F7E2" // green circle
	default:
		return "⚪" // white circle
	}
}
