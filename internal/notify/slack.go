// Package notify sends operator-facing alerts. The only event source
// today is the Scheduler's error backoff (§4.6 step 4); it is the
// "external collaborator notification" §4.6 calls out, and it never
// participates in merge decisions.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/cphillipson/mergebot/internal/logging"
)

// SlackConfig configures the Slack alerting client.
type SlackConfig struct {
	WebhookURL string
	Channel    string
	Username   string
}

// Slack posts backoff alerts to a Slack incoming webhook.
type Slack struct {
	client     *resty.Client
	webhookURL string
	channel    string
	username   string
	logger     *logging.Logger
}

// NewSlack builds a Slack notifier. An empty WebhookURL makes every call
// a no-op, so wiring this in is always safe even when unconfigured.
func NewSlack(cfg SlackConfig) *Slack {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		SetRetryMaxWaitTime(5 * time.Second)

	return &Slack{
		client:     client,
		webhookURL: cfg.WebhookURL,
		channel:    cfg.Channel,
		username:   cfg.Username,
		logger:     logging.Global().WithComponent("notify"),
	}
}

type slackMessage struct {
	Text        string            `json:"text,omitempty"`
	Username    string            `json:"username,omitempty"`
	Channel     string            `json:"channel,omitempty"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Color     string `json:"color,omitempty"`
	Title     string `json:"title,omitempty"`
	Text      string `json:"text,omitempty"`
	Footer    string `json:"footer,omitempty"`
	Timestamp int64  `json:"ts,omitempty"`
}

// AlertSchedulerBackoff notifies that the Scheduler hit a fatal Step error
// and has entered its 10-minute backoff.
func (s *Slack) AlertSchedulerBackoff(ctx context.Context, cause error) error {
	if s.webhookURL == "" {
		return nil
	}

	message := slackMessage{
		Text:     "mergebot scheduler entering backoff",
		Username: s.username,
		Channel:  s.channel,
		Attachments: []slackAttachment{
			{
				Color:     "danger",
				Title:     "Step failed",
				Text:      fmt.Sprintf("%v", cause),
				Footer:    "mergebot",
				Timestamp: time.Now().Unix(),
			},
		},
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(message).
		Post(s.webhookURL)
	if err != nil {
		s.logger.WithError(err).Warn("failed to deliver slack alert")
		return err
	}
	if resp.IsError() {
		s.logger.WithField("status", resp.StatusCode()).Warn("slack webhook rejected alert")
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode())
	}
	return nil
}
