// Package notify delivers push notifications about trip progress. Transport
// is external; implementations here adapt the contract to HTTP push and to a
// WebSocket hub. Notification failures never fail a decision round: callers
// log and move on.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Severity of a notification.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityAlert Severity = "alert"
)

// Type names what happened to the trip.
type Type string

const (
	TypeTripStarting Type = "tripStarting"
	TypeTripUpdated  Type = "tripUpdated"
	TypeTripClosed   Type = "tripClosed"
	TypeTripAlert    Type = "tripAlert"
)

// Notification is one push message addressed to an identity.
type Notification struct {
	IdentityID string         `json:"identityId"`
	Type       Type           `json:"type"`
	Severity   Severity       `json:"severity"`
	Message    string         `json:"message,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// Notifier delivers one notification.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// HTTPNotifier posts notifications to the push gateway.
type HTTPNotifier struct {
	url  string
	http *http.Client
	log  *zap.Logger
}

func NewHTTPNotifier(url string, log *zap.Logger) *HTTPNotifier {
	return &HTTPNotifier{
		url:  url,
		http: &http.Client{Timeout: 10 * time.Second},
		log:  log,
	}
}

func (n *HTTPNotifier) Notify(ctx context.Context, msg Notification) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.http.Do(req)
	if err != nil {
		return fmt.Errorf("push notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("push gateway returned %d", resp.StatusCode)
	}

	n.log.Debug("notification delivered",
		zap.String("identityId", msg.IdentityID),
		zap.String("type", string(msg.Type)))
	return nil
}

// NopNotifier discards notifications. Useful in tests and when no gateway is
// configured.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Notification) error { return nil }
