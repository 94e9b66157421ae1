package core

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditService appends structured action records. Rows are written inside the
// same transaction as the business change they describe, so an audit line
// exists exactly when its change committed.
type AuditService interface {
	RecordTx(ctx context.Context, tx pgx.Tx, entry AuditEntry) error
	// List returns the most recent audit rows for a company, newest first.
	List(ctx context.Context, companyID, take int) ([]AuditEntry, error)
}

type auditService struct {
	pool *pgxpool.Pool
}

func NewAuditService(pool *pgxpool.Pool) AuditService {
	return &auditService{pool: pool}
}

func (s *auditService) RecordTx(ctx context.Context, tx pgx.Tx, entry AuditEntry) error {
	if entry.CompanyID <= 0 {
		return NewError(KindValidation, "audit entry requires a company id")
	}
	if entry.Action == "" || entry.EntityType == "" {
		return NewError(KindValidation, "audit entry requires action and entity type")
	}

	metadata := entry.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal audit metadata: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO audit_logs (company_id, user_id, action, entity_type, entity_id,
		                        idempotency_key, correlation_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
	`, entry.CompanyID, entry.UserID, entry.Action, entry.EntityType, entry.EntityID,
		entry.IdempotencyKey, entry.CorrelationID, raw)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

func (s *auditService) List(ctx context.Context, companyID, take int) ([]AuditEntry, error) {
	if take <= 0 {
		take = DefaultListTake
	}
	if take > MaxListTake {
		take = MaxListTake
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, company_id, user_id, action, entity_type, entity_id,
		       idempotency_key, correlation_id, metadata, created_at
		FROM audit_logs
		WHERE company_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, companyID, take)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var raw []byte
		if err := rows.Scan(&e.ID, &e.CompanyID, &e.UserID, &e.Action, &e.EntityType, &e.EntityID,
			&e.IdempotencyKey, &e.CorrelationID, &raw, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode audit metadata: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}
	return entries, nil
}
