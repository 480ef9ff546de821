// Package notify abstracts outbound operator notifications.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Severities.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Notifier delivers one notification. Implementations must be safe for
// concurrent use.
type Notifier interface {
	Notify(ctx context.Context, kind, title, message, severity string, fields map[string]string) error
}

// LogNotifier writes notifications to the process log. The default when
// no webhook is configured.
type LogNotifier struct {
	Log *slog.Logger
}

func (n *LogNotifier) Notify(_ context.Context, kind, title, message, severity string, fields map[string]string) error {
	attrs := []any{"kind", kind, "title", title, "severity", severity}
	for k, v := range fields {
		attrs = append(attrs, k, v)
	}
	switch severity {
	case SeverityError:
		n.Log.Error(message, attrs...)
	case SeverityWarning:
		n.Log.Warn(message, attrs...)
	default:
		n.Log.Info(message, attrs...)
	}
	return nil
}

// WebhookNotifier POSTs notifications as JSON to a configured URL.
type WebhookNotifier struct {
	URL    string
	Client *http.Client
}

func NewWebhook(url string) *WebhookNotifier {
	return &WebhookNotifier{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, kind, title, message, severity string, fields map[string]string) error {
	body, err := json.Marshal(map[string]any{
		"kind":     kind,
		"title":    title,
		"message":  message,
		"severity": severity,
		"fields":   fields,
		"ts":       time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("notify: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.Client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: webhook returned %d", resp.StatusCode)
	}
	return nil
}
