package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Idempotency record states. IN_PROGRESS rows belong to a running command;
// COMPLETED and FAILED rows replay their stored outcome.
const (
	IdempotencyInProgress = "IN_PROGRESS"
	IdempotencyCompleted  = "COMPLETED"
	IdempotencyFailed     = "FAILED"
)

// IdempotencyRecord mirrors one row of idempotency_records.
type IdempotencyRecord struct {
	CompanyID          int             `json:"company_id"`
	Key                string          `json:"key"`
	RequestFingerprint string          `json:"request_fingerprint"`
	ResponseBody       json.RawMessage `json:"response_body,omitempty"`
	Status             string          `json:"status"`
	CreatedAt          time.Time       `json:"created_at"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
}

// IdempotencyResult is the outcome of Run: the serialized response and
// whether it was replayed from a previous execution.
type IdempotencyResult struct {
	Replayed bool
	Response json.RawMessage
}

// Fingerprint hashes the semantic identity of a request: method, path,
// tenant, and canonicalized body. Reusing a key with a different fingerprint
// is rejected before any business code runs.
func Fingerprint(method, path string, companyID int, body []byte) string {
	h := sha256.New()
	h.Write([]byte(strings.ToUpper(method)))
	h.Write([]byte{'|'})
	h.Write([]byte(path))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.Itoa(companyID)))
	h.Write([]byte{'|'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// IdempotencyStore guarantees at-most-once command effects per
// (company, key). The winner of the claim race runs fn inside a transaction;
// everyone else waits for its stored outcome.
type IdempotencyStore interface {
	// Run executes fn exactly once for (companyID, key). The claim row is the
	// serializer: the first caller inserts it and runs fn in a fresh
	// transaction; the COMPLETED update commits atomically with fn's effects.
	// Duplicates poll until the winner finishes and then replay its response
	// or its recorded business failure.
	Run(ctx context.Context, companyID int, key, fingerprint string, fn func(ctx context.Context, tx pgx.Tx) (any, error)) (*IdempotencyResult, error)
	// Get returns the stored record, or NotFound.
	Get(ctx context.Context, companyID int, key string) (*IdempotencyRecord, error)
	// DeleteExpired removes finished records older than the retention window
	// and returns how many rows were deleted.
	DeleteExpired(ctx context.Context, olderThan time.Duration) (int64, error)
}

type idempotencyStore struct {
	pool *pgxpool.Pool
	// Poll cadence for concurrent duplicates waiting on the winner.
	pollInterval time.Duration
	pollTimeout  time.Duration
}

func NewIdempotencyStore(pool *pgxpool.Pool) IdempotencyStore {
	return &idempotencyStore{
		pool:         pool,
		pollInterval: 100 * time.Millisecond,
		pollTimeout:  10 * time.Second,
	}
}

// failedOutcome is the stored shape of a deterministic business failure, so
// replays fail identically without re-running the command.
type failedOutcome struct {
	Kind    Kind           `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (s *idempotencyStore) Run(ctx context.Context, companyID int, key, fingerprint string, fn func(ctx context.Context, tx pgx.Tx) (any, error)) (*IdempotencyResult, error) {
	if companyID <= 0 {
		return nil, NewError(KindValidation, "company id is required")
	}
	if key == "" {
		return nil, NewError(KindValidation, "idempotency key is required")
	}

	// Claim outside any transaction so concurrent duplicates see the row
	// immediately. The unique constraint on (company_id, key) is the race
	// arbiter.
	ct, err := s.pool.Exec(ctx, `
		INSERT INTO idempotency_records (company_id, key, request_fingerprint, status, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (company_id, key) DO NOTHING
	`, companyID, key, fingerprint, IdempotencyInProgress)
	if err != nil {
		return nil, fmt.Errorf("failed to claim idempotency key: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return s.awaitWinner(ctx, companyID, key, fingerprint)
	}

	response, err := s.execute(ctx, companyID, key, fn)
	if err != nil {
		return nil, err
	}
	return &IdempotencyResult{Replayed: false, Response: response}, nil
}

// execute runs fn as the claim winner and settles the record.
func (s *idempotencyStore) execute(ctx context.Context, companyID int, key string, fn func(ctx context.Context, tx pgx.Tx) (any, error)) (json.RawMessage, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		s.releaseClaim(ctx, companyID, key)
		return nil, fmt.Errorf("failed to begin command transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	result, err := fn(ctx, tx)
	if err != nil {
		// The business transaction never commits on failure. Deterministic
		// failures are recorded so replays fail the same way; transient ones
		// release the claim so the caller can retry with the same key.
		_ = tx.Rollback(ctx)
		if deterministic(KindOf(err)) {
			s.recordFailure(ctx, companyID, key, err)
		} else {
			s.releaseClaim(ctx, companyID, key)
		}
		return nil, err
	}

	response, err := json.Marshal(result)
	if err != nil {
		_ = tx.Rollback(ctx)
		s.releaseClaim(ctx, companyID, key)
		return nil, fmt.Errorf("failed to serialize command response: %w", err)
	}

	// COMPLETED commits atomically with the business effects: a crash before
	// this point leaves no effects and no response.
	if _, err := tx.Exec(ctx, `
		UPDATE idempotency_records
		SET status = $3, response_body = $4, completed_at = NOW()
		WHERE company_id = $1 AND key = $2
	`, companyID, key, IdempotencyCompleted, response); err != nil {
		_ = tx.Rollback(ctx)
		s.releaseClaim(ctx, companyID, key)
		return nil, fmt.Errorf("failed to complete idempotency record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		s.releaseClaim(ctx, companyID, key)
		return nil, fmt.Errorf("failed to commit command: %w", err)
	}
	return response, nil
}

// awaitWinner handles the duplicate-caller path: verify the fingerprint, then
// poll the record until the winner settles it or the timeout lapses.
func (s *idempotencyStore) awaitWinner(ctx context.Context, companyID int, key, fingerprint string) (*IdempotencyResult, error) {
	deadline := time.Now().Add(s.pollTimeout)
	for {
		record, err := s.Get(ctx, companyID, key)
		if err != nil {
			if IsKind(err, KindNotFound) {
				// The winner hit a transient failure and released the claim.
				// Tell the caller to retry rather than re-running business
				// code under someone else's key claim.
				return nil, NewError(KindConflict, "concurrent request was aborted, retry with the same key")
			}
			return nil, err
		}

		if record.RequestFingerprint != fingerprint {
			return nil, Errorf(KindIdempotencyKeyConflict,
				"idempotency key %q was already used for a different request", key)
		}

		switch record.Status {
		case IdempotencyCompleted:
			return &IdempotencyResult{Replayed: true, Response: record.ResponseBody}, nil
		case IdempotencyFailed:
			return nil, replayFailure(record.ResponseBody)
		}

		if time.Now().After(deadline) {
			return nil, Errorf(KindConflict,
				"request with idempotency key %q is still in progress", key)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}
}

// recordFailure settles the claim as FAILED with the error's kind and
// message. Best effort: the business error is returned regardless.
func (s *idempotencyStore) recordFailure(ctx context.Context, companyID int, key string, businessErr error) {
	outcome := failedOutcome{
		Kind:    KindOf(businessErr),
		Message: businessErr.Error(),
		Details: DetailsOf(businessErr),
	}
	body, err := json.Marshal(outcome)
	if err != nil {
		return
	}
	_, _ = s.pool.Exec(ctx, `
		UPDATE idempotency_records
		SET status = $3, response_body = $4, completed_at = NOW()
		WHERE company_id = $1 AND key = $2 AND status = $5
	`, companyID, key, IdempotencyFailed, body, IdempotencyInProgress)
}

// releaseClaim deletes an unsettled claim after a transient failure so the
// caller can retry with the same key.
func (s *idempotencyStore) releaseClaim(ctx context.Context, companyID int, key string) {
	_, _ = s.pool.Exec(ctx, `
		DELETE FROM idempotency_records
		WHERE company_id = $1 AND key = $2 AND status = $3
	`, companyID, key, IdempotencyInProgress)
}

// replayFailure rebuilds the stored business error for a duplicate caller.
func replayFailure(body json.RawMessage) error {
	var outcome failedOutcome
	if err := json.Unmarshal(body, &outcome); err != nil || outcome.Kind == "" {
		return NewError(KindInternal, "stored failure could not be decoded")
	}
	return &Error{Kind: outcome.Kind, Message: outcome.Message, Details: outcome.Details}
}

func (s *idempotencyStore) Get(ctx context.Context, companyID int, key string) (*IdempotencyRecord, error) {
	var record IdempotencyRecord
	err := s.pool.QueryRow(ctx, `
		SELECT company_id, key, request_fingerprint, response_body, status, created_at, completed_at
		FROM idempotency_records
		WHERE company_id = $1 AND key = $2
	`, companyID, key).Scan(&record.CompanyID, &record.Key, &record.RequestFingerprint,
		&record.ResponseBody, &record.Status, &record.CreatedAt, &record.CompletedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, Errorf(KindNotFound, "idempotency record %q not found", key)
		}
		return nil, fmt.Errorf("failed to fetch idempotency record: %w", err)
	}
	return &record, nil
}

func (s *idempotencyStore) DeleteExpired(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	ct, err := s.pool.Exec(ctx, `
		DELETE FROM idempotency_records
		WHERE status IN ($1, $2) AND created_at < $3
	`, IdempotencyCompleted, IdempotencyFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired idempotency records: %w", err)
	}
	return ct.RowsAffected(), nil
}
