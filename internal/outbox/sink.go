package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"accounting-engine/internal/core"
)

// Sink delivers one event envelope to a downstream consumer. Delivery is
// at-least-once; consumers deduplicate on the event id.
type Sink interface {
	Deliver(ctx context.Context, event core.Event) error
}

// WebhookSink POSTs each event as JSON to a fixed URL. Any non-2xx response
// counts as a failed delivery.
type WebhookSink struct {
	url    string
	client *http.Client
}

func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *WebhookSink) Deliver(ctx context.Context, event core.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", event.EventID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Id", event.EventID)
	req.Header.Set("X-Event-Type", event.EventType)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver event %s: %w", event.EventID, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s for event %s", resp.Status, event.EventID)
	}
	return nil
}

// LogSink writes deliveries to the log. Default sink when no webhook is
// configured, so a dev environment still drains its outbox.
type LogSink struct {
	log *logrus.Logger
}

func NewLogSink(log *logrus.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Deliver(_ context.Context, event core.Event) error {
	s.log.WithFields(logrus.Fields{
		"event_id":       event.EventID,
		"event_type":     event.EventType,
		"company_id":     event.CompanyID,
		"correlation_id": event.CorrelationID,
		"aggregate":      fmt.Sprintf("%s/%s", event.AggregateType, event.AggregateID),
	}).Info("event delivered")
	return nil
}
