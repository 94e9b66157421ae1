package app

import (
	"context"
	"time"

	"accounting-engine/internal/core"
)

// Meta carries the per-request envelope data every write command needs. The
// adapter fills it from headers and auth claims before calling the service.
type Meta struct {
	CompanyID      int
	IdempotencyKey string
	// Fingerprint binds the idempotency key to this exact request
	// (method, path, tenant, body). See core.Fingerprint.
	Fingerprint string
	// CorrelationID groups the events one command stages. Derived per
	// command when the adapter leaves it empty.
	CorrelationID string
	UserID        *int
}

// ApplicationService is the single interface all adapters call. Every write
// command runs the same envelope: DTO validation, best-effort locks, then one
// idempotent database transaction that also stages outbox events and an audit
// row. Command results come back as the idempotency envelope so an adapter
// can serve stored responses byte-for-byte on replay.
type ApplicationService interface {
	// CreateJournalEntry posts a balanced manual entry.
	CreateJournalEntry(ctx context.Context, meta Meta, req CreateJournalEntryRequest) (*core.IdempotencyResult, error)

	// ReverseJournalEntry posts the swapped-lines reversal of an entry.
	ReverseJournalEntry(ctx context.Context, meta Meta, entryID int, req ReverseJournalEntryRequest) (*core.IdempotencyResult, error)

	// VoidJournalEntry reverses an entry and marks the original with void
	// metadata in the same transaction.
	VoidJournalEntry(ctx context.Context, meta Meta, entryID int, req VoidJournalEntryRequest) (*core.IdempotencyResult, error)

	// AdjustJournalEntry reverses an entry and posts a corrected one.
	AdjustJournalEntry(ctx context.Context, meta Meta, entryID int, req AdjustJournalEntryRequest) (*core.IdempotencyResult, error)

	// RecordOpeningBalance seeds stock for one or more items and posts the
	// opening journal entry against opening balance equity.
	RecordOpeningBalance(ctx context.Context, meta Meta, req OpeningBalanceRequest) (*core.IdempotencyResult, error)

	// RecordInventoryAdjustment applies quantity deltas at weighted-average
	// cost and posts the net value against the offset account.
	RecordInventoryAdjustment(ctx context.Context, meta Meta, req InventoryAdjustmentRequest) (*core.IdempotencyResult, error)

	// ClosePeriod zeros income and expense into retained earnings for a date
	// range and records the closed period.
	ClosePeriod(ctx context.Context, meta Meta, req ClosePeriodRequest) (*core.IdempotencyResult, error)

	// GetJournalEntry returns one entry with its lines.
	GetJournalEntry(ctx context.Context, companyID, entryID int) (*core.JournalEntry, error)

	// ListJournalEntries returns entry summaries in (date, id) order.
	ListJournalEntries(ctx context.Context, companyID int, query core.ListEntriesQuery) ([]core.EntrySummary, error)

	// GetStockLevels returns current stock per item and location.
	GetStockLevels(ctx context.Context, companyID int, locationID *int) ([]core.StockLevel, error)

	// ListPeriodCloses returns the tenant's closed periods.
	ListPeriodCloses(ctx context.Context, companyID int) ([]core.PeriodClose, error)

	// ListAuditLog returns recent audit rows, newest first.
	ListAuditLog(ctx context.Context, companyID, take int) ([]core.AuditEntry, error)

	// ListEventsByCorrelation returns the event DAG of one command.
	ListEventsByCorrelation(ctx context.Context, companyID int, correlationID string) ([]core.Event, error)

	// TrialBalance returns per-account debit/credit totals for a range.
	TrialBalance(ctx context.Context, companyID int, from, to time.Time) (*core.TrialBalanceReport, error)

	// BalanceSheet returns the position as of a date.
	BalanceSheet(ctx context.Context, companyID int, asOf time.Time) (*core.BalanceSheetReport, error)

	// ProfitLoss returns income and expenses for a range.
	ProfitLoss(ctx context.Context, companyID int, from, to time.Time) (*core.ProfitLossReport, error)

	// Cashflow returns the indirect-method cashflow statement for a range.
	Cashflow(ctx context.Context, companyID int, from, to time.Time) (*core.CashflowReport, error)

	// InventoryValuation values stock as of a date.
	InventoryValuation(ctx context.Context, companyID int, asOf time.Time) (*core.InventoryValuationReport, error)

	// InventoryMovement summarizes stock in/out per item and location.
	InventoryMovement(ctx context.Context, companyID int, from, to time.Time) (*core.InventoryMovementReport, error)

	// COGSByItem totals cost of goods sold per item for a range.
	COGSByItem(ctx context.Context, companyID int, from, to time.Time) (*core.COGSReport, error)

	// AccountTransactions lists one account's postings with a running balance.
	AccountTransactions(ctx context.Context, companyID, accountID int, from, to time.Time) (*core.AccountTransactionsReport, error)

	// DailySummaries reads the per-day income/expense projection.
	DailySummaries(ctx context.Context, companyID int, from, to time.Time) ([]core.DailySummary, error)

	// RebuildProjections recomputes the derived balance tables for a range.
	RebuildProjections(ctx context.Context, companyID int, from, to time.Time) (*core.RebuildResult, error)
}
