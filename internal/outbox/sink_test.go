package outbox_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"accounting-engine/internal/core"
	"accounting-engine/internal/outbox"
)

func sampleEvent() core.Event {
	return core.Event{
		ID:            7,
		CompanyID:     1,
		EventID:       "0d9c2f66-4f9a-4a41-bb3e-2f1a9c2d7e10",
		EventType:     core.EventJournalEntryCreated,
		SchemaVersion: 1,
		OccurredAt:    time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC),
		Source:        core.EventSource,
		PartitionKey:  "42",
		CorrelationID: "corr-1",
		AggregateType: "journal_entry",
		AggregateID:   "42",
		Payload:       json.RawMessage(`{"journalEntryId":42,"companyId":1}`),
		CreatedAt:     time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC),
	}
}

func TestWebhookSink_PostsEnvelope(t *testing.T) {
	event := sampleEvent()

	var gotMethod, gotEventID, gotEventType, gotContentType string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotEventID = r.Header.Get("X-Event-Id")
		gotEventType = r.Header.Get("X-Event-Type")
		gotContentType = r.Header.Get("Content-Type")
		var buf bytes.Buffer
		buf.ReadFrom(r.Body)
		gotBody = buf.Bytes()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	err := outbox.NewWebhookSink(server.URL).Deliver(context.Background(), event)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, event.EventID, gotEventID)
	assert.Equal(t, event.EventType, gotEventType)
	assert.Equal(t, "application/json", gotContentType)

	var delivered core.Event
	require.NoError(t, json.Unmarshal(gotBody, &delivered))
	assert.Equal(t, event.EventID, delivered.EventID)
	assert.Equal(t, event.CorrelationID, delivered.CorrelationID)
	assert.JSONEq(t, string(event.Payload), string(delivered.Payload))
}

func TestWebhookSink_NonSuccessIsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "consumer down", http.StatusInternalServerError)
	}))
	defer server.Close()

	event := sampleEvent()
	err := outbox.NewWebhookSink(server.URL).Deliver(context.Background(), event)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook returned")
	assert.Contains(t, err.Error(), event.EventID)
}

func TestWebhookSink_UnreachableTarget(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // deliberately dead

	err := outbox.NewWebhookSink(server.URL).Deliver(context.Background(), sampleEvent())
	assert.Error(t, err)
}

func TestLogSink_LogsDelivery(t *testing.T) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)

	event := sampleEvent()
	require.NoError(t, outbox.NewLogSink(log).Deliver(context.Background(), event))

	assert.Contains(t, buf.String(), event.EventID)
	assert.Contains(t, buf.String(), "event delivered")
}
