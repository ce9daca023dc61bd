// Package notify sends best-effort external webhook notifications. Failures
// are logged and swallowed — nothing in the control loop depends on a
// notification actually arriving.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/avery-oss/loom/internal/logging"
)

// Notifier posts JSON events to a configured webhook URL.
type Notifier struct {
	httpClient *http.Client
	url        string
	enabled    bool
	log        *slog.Logger
}

// New builds a Notifier. If url is empty, Notify is a no-op.
func New(url string, enabled bool) *Notifier {
	return &Notifier{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		url:        url,
		enabled:    enabled && url != "",
		log:        logging.WithComponent("notify"),
	}
}

// Event is the payload shape posted to the webhook. ID is assigned by Notify
// and lets a receiving endpoint dedupe retried deliveries.
type Event struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Repo    string `json:"repo"`
	Issue   int    `json:"issue,omitempty"`
	Phase   string `json:"phase,omitempty"`
	Message string `json:"message,omitempty"`
}

// Notify posts event to the webhook, logging and discarding any failure.
func (n *Notifier) Notify(ctx context.Context, event Event) {
	if !n.enabled {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	body, err := json.Marshal(event)
	if err != nil {
		n.log.Warn("failed to marshal notification", slog.Any("error", err))
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		n.log.Warn("failed to build notification request", slog.Any("error", err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.log.Warn("notification delivery failed", slog.Any("error", err))
		return
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		n.log.Warn("notification webhook returned non-2xx", slog.Int("status", resp.StatusCode))
	}
}
