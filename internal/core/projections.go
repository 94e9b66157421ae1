package core

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// AccountBalance is the daily per-account projection row: cumulative totals
// are obtained by summing rows up to a date. Rebuildable from journal lines.
type AccountBalance struct {
	CompanyID   int             `json:"company_id"`
	AccountID   int             `json:"account_id"`
	Date        time.Time       `json:"date"`
	DebitTotal  decimal.Decimal `json:"debit_total"`
	CreditTotal decimal.Decimal `json:"credit_total"`
}

// DailySummary is the per-day income/expense projection row.
type DailySummary struct {
	CompanyID    int             `json:"company_id"`
	Date         time.Time       `json:"date"`
	IncomeTotal  decimal.Decimal `json:"income_total"`
	ExpenseTotal decimal.Decimal `json:"expense_total"`
}

// applyEntryProjectionsTx folds one freshly inserted entry into the
// projections, inside the posting transaction. The upsert arithmetic must
// stay identical to the Rebuild queries or a rebuild would change reports.
func applyEntryProjectionsTx(ctx context.Context, tx pgx.Tx, companyID, entryID int, date time.Time) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO account_balances (company_id, account_id, date, debit_total, credit_total)
		SELECT jl.company_id, jl.account_id, $3::date, SUM(jl.debit), SUM(jl.credit)
		FROM journal_lines jl
		WHERE jl.journal_entry_id = $1 AND jl.company_id = $2
		GROUP BY jl.company_id, jl.account_id
		ON CONFLICT (company_id, account_id, date)
		DO UPDATE SET debit_total  = account_balances.debit_total  + EXCLUDED.debit_total,
		              credit_total = account_balances.credit_total + EXCLUDED.credit_total
	`, entryID, companyID, date)
	if err != nil {
		return fmt.Errorf("failed to fold entry %d into account balances: %w", entryID, err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO daily_summaries (company_id, date, income_total, expense_total)
		SELECT jl.company_id, $3::date,
		       COALESCE(SUM(CASE WHEN a.type = 'INCOME'  THEN jl.credit - jl.debit ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN a.type = 'EXPENSE' THEN jl.debit - jl.credit ELSE 0 END), 0)
		FROM journal_lines jl
		JOIN accounts a ON a.id = jl.account_id
		WHERE jl.journal_entry_id = $1 AND jl.company_id = $2
		GROUP BY jl.company_id
		HAVING COUNT(*) FILTER (WHERE a.type IN ('INCOME', 'EXPENSE')) > 0
		ON CONFLICT (company_id, date)
		DO UPDATE SET income_total  = daily_summaries.income_total  + EXCLUDED.income_total,
		              expense_total = daily_summaries.expense_total + EXCLUDED.expense_total
	`, entryID, companyID, date)
	if err != nil {
		return fmt.Errorf("failed to fold entry %d into daily summaries: %w", entryID, err)
	}

	return nil
}

// RebuildResult reports how many projection rows a rebuild produced.
type RebuildResult struct {
	AccountBalanceRows int64 `json:"account_balance_rows"`
	DailySummaryRows   int64 `json:"daily_summary_rows"`
	ProcessedEvents    int64 `json:"processed_events"`
}

// ProjectionService rebuilds the derived tables from the immutable ledger.
type ProjectionService interface {
	// Rebuild deletes and recomputes both projections for [from, to] in one
	// transaction, and preemptively marks the range's journal.entry.created
	// events as processed so a catching-up consumer does not double-count.
	Rebuild(ctx context.Context, companyID int, from, to time.Time) (*RebuildResult, error)
	// DailySummaries reads the per-day projection for [from, to].
	DailySummaries(ctx context.Context, companyID int, from, to time.Time) ([]DailySummary, error)
}

type projectionService struct {
	pool *pgxpool.Pool
}

func NewProjectionService(pool *pgxpool.Pool) ProjectionService {
	return &projectionService{pool: pool}
}

func (s *projectionService) Rebuild(ctx context.Context, companyID int, from, to time.Time) (*RebuildResult, error) {
	if to.Before(from) {
		return nil, NewError(KindValidation, "rebuild range end precedes start")
	}
	from, to = Day(from), Day(to)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// 1. Drop the stale rows for the range
	if _, err := tx.Exec(ctx,
		"DELETE FROM account_balances WHERE company_id = $1 AND date BETWEEN $2 AND $3",
		companyID, from, to); err != nil {
		return nil, fmt.Errorf("failed to delete account balances: %w", err)
	}
	if _, err := tx.Exec(ctx,
		"DELETE FROM daily_summaries WHERE company_id = $1 AND date BETWEEN $2 AND $3",
		companyID, from, to); err != nil {
		return nil, fmt.Errorf("failed to delete daily summaries: %w", err)
	}

	result := &RebuildResult{}

	// 2. Recompute account balances grouped by (account, day)
	ct, err := tx.Exec(ctx, `
		INSERT INTO account_balances (company_id, account_id, date, debit_total, credit_total)
		SELECT jl.company_id, jl.account_id, je.date, SUM(jl.debit), SUM(jl.credit)
		FROM journal_lines jl
		JOIN journal_entries je ON je.id = jl.journal_entry_id
		WHERE je.company_id = $1 AND je.date BETWEEN $2 AND $3
		GROUP BY jl.company_id, jl.account_id, je.date
	`, companyID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild account balances: %w", err)
	}
	result.AccountBalanceRows = ct.RowsAffected()

	// 3. Recompute daily summaries over income/expense lines
	ct, err = tx.Exec(ctx, `
		INSERT INTO daily_summaries (company_id, date, income_total, expense_total)
		SELECT je.company_id, je.date,
		       COALESCE(SUM(CASE WHEN a.type = 'INCOME'  THEN jl.credit - jl.debit ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN a.type = 'EXPENSE' THEN jl.debit - jl.credit ELSE 0 END), 0)
		FROM journal_lines jl
		JOIN journal_entries je ON je.id = jl.journal_entry_id
		JOIN accounts a        ON a.id  = jl.account_id
		WHERE je.company_id = $1 AND je.date BETWEEN $2 AND $3
		  AND a.type IN ('INCOME', 'EXPENSE')
		GROUP BY je.company_id, je.date
	`, companyID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild daily summaries: %w", err)
	}
	result.DailySummaryRows = ct.RowsAffected()

	// 4. Mark the range's created events as processed so the streaming
	// consumer skips them when it catches up.
	ct, err = tx.Exec(ctx, `
		INSERT INTO processed_events (event_id, company_id)
		SELECT o.event_id, o.company_id
		FROM outbox_events o
		JOIN journal_entries je ON je.company_id = o.company_id
		                       AND je.id = (o.payload->>'journalEntryId')::int
		WHERE o.company_id = $1
		  AND o.event_type = $2
		  AND je.date BETWEEN $3 AND $4
		ON CONFLICT (event_id) DO NOTHING
	`, companyID, EventJournalEntryCreated, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to backfill processed events: %w", err)
	}
	result.ProcessedEvents = ct.RowsAffected()

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit projections rebuild: %w", err)
	}
	return result, nil
}

func (s *projectionService) DailySummaries(ctx context.Context, companyID int, from, to time.Time) ([]DailySummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT company_id, date, income_total, expense_total
		FROM daily_summaries
		WHERE company_id = $1 AND date BETWEEN $2 AND $3
		ORDER BY date
	`, companyID, Day(from), Day(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query daily summaries: %w", err)
	}
	defer rows.Close()

	var summaries []DailySummary
	for rows.Next() {
		var d DailySummary
		if err := rows.Scan(&d.CompanyID, &d.Date, &d.IncomeTotal, &d.ExpenseTotal); err != nil {
			return nil, fmt.Errorf("failed to scan daily summary: %w", err)
		}
		summaries = append(summaries, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily summaries: %w", err)
	}
	return summaries, nil
}
