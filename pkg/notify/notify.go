// Package notify delivers enforcement events to external channels. The
// core treats senders as push-only collaborators: Send failures are
// returned to the caller but never change a decision.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/clawsec/core/pkg/audit"
	"github.com/clawsec/core/pkg/config"
)

// Sender is one notification channel.
type Sender interface {
	// Send pushes a single event.
	Send(ctx context.Context, event audit.Event) error
	// Test verifies the channel is reachable and configured.
	Test(ctx context.Context) error
}

// SlogSender logs events instead of delivering them. Development default.
type SlogSender struct {
	logger *slog.Logger
}

// NewSlogSender builds the logging sender.
func NewSlogSender(logger *slog.Logger) *SlogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSender{logger: logger.With("component", "notify")}
}

// Send implements Sender.
func (s *SlogSender) Send(_ context.Context, event audit.Event) error {
	s.logger.Info("notification",
		"kind", string(event.Kind),
		"tool", event.Tool,
		"action", event.Action,
		"reason", event.Reason,
	)
	return nil
}

// Test implements Sender.
func (s *SlogSender) Test(context.Context) error { return nil }

// WebhookSender posts events as JSON to a configured URL.
type WebhookSender struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhookSender builds a sender from the webhook approval config.
func NewWebhookSender(cfg config.WebhookApproval) (*WebhookSender, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("notify: webhook url is required")
	}
	timeout := 10 * time.Second
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}
	return &WebhookSender{
		url:     cfg.URL,
		headers: cfg.Headers,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Send implements Sender.
func (s *WebhookSender) Send(ctx context.Context, event audit.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("notify: encode event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: post %s: %w", s.url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: webhook returned %s", resp.Status)
	}
	return nil
}

// Test implements Sender. It sends a synthetic event so header and auth
// problems surface before the first real notification.
func (s *WebhookSender) Test(ctx context.Context) error {
	return s.Send(ctx, audit.Event{Kind: audit.KindDecision, Reason: "connectivity test"})
}
