package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Event types staged to the outbox. Versioned payload schemas live in
// internal/outbox.
const (
	EventJournalEntryCreated  = "journal.entry.created"
	EventJournalEntryReversed = "journal.entry.reversed"
	EventInventoryRecalc      = "inventory.recalc.requested"
)

// EventSource identifies this engine on every staged event.
const EventSource = "accounting-engine"

// Event is one outbox row. A row is either unpublished (PublishedAt nil) or
// carries the publish timestamp; LastPublishError keeps the latest delivery
// failure without blocking the row.
type Event struct {
	ID               int             `json:"id"`
	CompanyID        int             `json:"company_id"`
	EventID          string          `json:"event_id"`
	EventType        string          `json:"event_type"`
	SchemaVersion    int             `json:"schema_version"`
	OccurredAt       time.Time       `json:"occurred_at"`
	Source           string          `json:"source"`
	PartitionKey     string          `json:"partition_key"`
	CorrelationID    string          `json:"correlation_id"`
	CausationID      *string         `json:"causation_id,omitempty"`
	AggregateType    string          `json:"aggregate_type"`
	AggregateID      string          `json:"aggregate_id"`
	Payload          json.RawMessage `json:"payload"`
	CreatedAt        time.Time       `json:"created_at"`
	PublishedAt      *time.Time      `json:"published_at,omitempty"`
	LastPublishError *string         `json:"last_publish_error,omitempty"`
}

// StageEventInput describes one event to stage. EventID is assigned here so
// the caller can chain causation (reversed caused-by created).
type StageEventInput struct {
	CompanyID     int
	EventType     string
	SchemaVersion int
	CorrelationID string
	CausationID   *string
	AggregateType string
	AggregateID   string
	Payload       any
}

// OutboxService stages domain events inside business transactions and hands
// unpublished rows to the publisher daemon.
type OutboxService interface {
	// StageTx inserts the event row in the caller's transaction so event and
	// business change commit or roll back together.
	StageTx(ctx context.Context, tx pgx.Tx, input StageEventInput) (*Event, error)
	// FetchUnpublishedTx locks up to limit unpublished rows in (created_at, id)
	// order with SKIP LOCKED so concurrent publishers never double-deliver.
	FetchUnpublishedTx(ctx context.Context, tx pgx.Tx, limit int) ([]Event, error)
	// MarkPublishedTx stamps published_at and clears the last error.
	MarkPublishedTx(ctx context.Context, tx pgx.Tx, id int) error
	// RecordErrorTx stores the delivery failure, leaving the row unpublished.
	RecordErrorTx(ctx context.Context, tx pgx.Tx, id int, publishErr string) error
	// PendingCount reports unpublished rows for the backlog gauge.
	PendingCount(ctx context.Context) (int64, error)
	// ListByCorrelation returns all events sharing a correlation id in
	// (created_at, id) order. Read path for tracing event DAGs.
	ListByCorrelation(ctx context.Context, companyID int, correlationID string) ([]Event, error)
}

type outboxService struct {
	pool *pgxpool.Pool
}

func NewOutboxService(pool *pgxpool.Pool) OutboxService {
	return &outboxService{pool: pool}
}

func (s *outboxService) StageTx(ctx context.Context, tx pgx.Tx, input StageEventInput) (*Event, error) {
	if input.CompanyID <= 0 {
		return nil, NewError(KindValidation, "event requires a company id")
	}
	if input.EventType == "" || input.AggregateType == "" || input.AggregateID == "" {
		return nil, NewError(KindValidation, "event requires type, aggregate type and aggregate id")
	}
	if input.SchemaVersion <= 0 {
		input.SchemaVersion = 1
	}

	payload, err := json.Marshal(input.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", input.EventType, err)
	}

	event := &Event{
		CompanyID:     input.CompanyID,
		EventID:       uuid.NewString(),
		EventType:     input.EventType,
		SchemaVersion: input.SchemaVersion,
		Source:        EventSource,
		PartitionKey:  input.AggregateID,
		CorrelationID: input.CorrelationID,
		CausationID:   input.CausationID,
		AggregateType: input.AggregateType,
		AggregateID:   input.AggregateID,
		Payload:       payload,
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO outbox_events (company_id, event_id, event_type, schema_version, occurred_at, source,
		                           partition_key, correlation_id, causation_id, aggregate_type, aggregate_id,
		                           payload, created_at)
		VALUES ($1, $2, $3, $4, NOW(), $5, $6, $7, $8, $9, $10, $11, NOW())
		RETURNING id, occurred_at, created_at
	`, event.CompanyID, event.EventID, event.EventType, event.SchemaVersion, event.Source,
		event.PartitionKey, event.CorrelationID, event.CausationID, event.AggregateType, event.AggregateID,
		payload,
	).Scan(&event.ID, &event.OccurredAt, &event.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to stage %s event: %w", input.EventType, err)
	}
	return event, nil
}

func (s *outboxService) FetchUnpublishedTx(ctx context.Context, tx pgx.Tx, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := tx.Query(ctx, `
		SELECT id, company_id, event_id, event_type, schema_version, occurred_at, source,
		       partition_key, correlation_id, causation_id, aggregate_type, aggregate_id,
		       payload, created_at, published_at, last_publish_error
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY created_at ASC, id ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unpublished events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (s *outboxService) MarkPublishedTx(ctx context.Context, tx pgx.Tx, id int) error {
	ct, err := tx.Exec(ctx, `
		UPDATE outbox_events
		SET published_at = NOW(), last_publish_error = NULL
		WHERE id = $1 AND published_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("failed to mark event %d published: %w", id, err)
	}
	if ct.RowsAffected() == 0 {
		return Errorf(KindNotFound, "outbox event %d not found or already published", id)
	}
	return nil
}

func (s *outboxService) RecordErrorTx(ctx context.Context, tx pgx.Tx, id int, publishErr string) error {
	if _, err := tx.Exec(ctx, `
		UPDATE outbox_events SET last_publish_error = $2 WHERE id = $1
	`, id, publishErr); err != nil {
		return fmt.Errorf("failed to record publish error for event %d: %w", id, err)
	}
	return nil
}

func (s *outboxService) PendingCount(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM outbox_events WHERE published_at IS NULL",
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count pending events: %w", err)
	}
	return count, nil
}

func (s *outboxService) ListByCorrelation(ctx context.Context, companyID int, correlationID string) ([]Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, company_id, event_id, event_type, schema_version, occurred_at, source,
		       partition_key, correlation_id, causation_id, aggregate_type, aggregate_id,
		       payload, created_at, published_at, last_publish_error
		FROM outbox_events
		WHERE company_id = $1 AND correlation_id = $2
		ORDER BY created_at ASC, id ASC
	`, companyID, correlationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events for correlation %s: %w", correlationID, err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows pgx.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.CompanyID, &e.EventID, &e.EventType, &e.SchemaVersion,
			&e.OccurredAt, &e.Source, &e.PartitionKey, &e.CorrelationID, &e.CausationID,
			&e.AggregateType, &e.AggregateID, &e.Payload, &e.CreatedAt,
			&e.PublishedAt, &e.LastPublishError); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outbox events: %w", err)
	}
	return events, nil
}
