package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// LedgerService appends journal entries and reads them back. Posting is the
// only write path into journal_entries/journal_lines; every caller that
// needs atomicity with other writes uses the Tx variant inside its own
// transaction.
type LedgerService interface {
	// PostEntry posts a balanced entry in its own transaction.
	PostEntry(ctx context.Context, input PostEntryInput) (*JournalEntry, error)
	// PostEntryTx posts within the caller's transaction. The caller commits
	// or rolls back.
	PostEntryTx(ctx context.Context, tx pgx.Tx, input PostEntryInput) (*JournalEntry, error)
	// GetEntry returns one entry with its lines, scoped to the company.
	GetEntry(ctx context.Context, companyID, entryID int) (*JournalEntry, error)
	GetEntryTx(ctx context.Context, tx pgx.Tx, companyID, entryID int) (*JournalEntry, error)
	// ListEntries returns entry headers with line totals ordered by
	// (date ASC, id ASC). Take is capped at MaxListTake.
	ListEntries(ctx context.Context, companyID int, query ListEntriesQuery) ([]EntrySummary, error)
}

// List paging bounds for journal entry reads.
const (
	DefaultListTake = 50
	MaxListTake     = 200
)

// PostEntryInput describes one posting. Amounts are validated and rounded
// here; dates are truncated to UTC midnight.
type PostEntryInput struct {
	CompanyID                int
	Date                     time.Time
	Description              string
	LocationID               *int
	CreatedByUserID          *int
	ReversalOfJournalEntryID *int
	ReversalReason           *string
	Lines                    []PostLineInput
	// SkipAccountValidation bypasses the per-account tenant/active check.
	// Only internal callers that just created the accounts set this.
	SkipAccountValidation bool
	// AllowZeroLines admits lines with both sides zero. Only the period
	// close builder produces those.
	AllowZeroLines bool
}

type PostLineInput struct {
	AccountID int
	Debit     decimal.Decimal
	Credit    decimal.Decimal
}

type ListEntriesQuery struct {
	From *time.Time
	To   *time.Time
	Take int
}

// EntrySummary is a list row: the entry header plus its line totals.
type EntrySummary struct {
	ID                       int             `json:"id"`
	EntryNumber              string          `json:"entry_number"`
	Date                     time.Time       `json:"date"`
	Description              string          `json:"description"`
	ReversalOfJournalEntryID *int            `json:"reversal_of_journal_entry_id,omitempty"`
	VoidedAt                 *time.Time      `json:"voided_at,omitempty"`
	TotalDebit               decimal.Decimal `json:"total_debit"`
	TotalCredit              decimal.Decimal `json:"total_credit"`
}

type ledgerService struct {
	pool *pgxpool.Pool
}

func NewLedgerService(pool *pgxpool.Pool) LedgerService {
	return &ledgerService{pool: pool}
}

// validate performs the structural checks that need no database access.
func (in *PostEntryInput) validate() error {
	if in.CompanyID <= 0 {
		return NewError(KindValidation, "company id is required")
	}
	if in.Date.IsZero() {
		return NewError(KindValidation, "entry date is required")
	}
	if len(in.Lines) == 0 {
		return NewError(KindValidation, "journal entry must have at least one line")
	}
	for i, line := range in.Lines {
		if line.AccountID <= 0 {
			return Errorf(KindValidation, "line %d: account id is required", i+1)
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return Errorf(KindValidation, "line %d: amounts must be non-negative", i+1)
		}
		if !line.Debit.IsZero() && !line.Credit.IsZero() {
			return Errorf(KindValidation, "line %d: a line cannot carry both a debit and a credit", i+1)
		}
		if line.Debit.IsZero() && line.Credit.IsZero() && !in.AllowZeroLines {
			return Errorf(KindValidation, "line %d: either debit or credit must be non-zero", i+1)
		}
	}
	return nil
}

func (s *ledgerService) PostEntry(ctx context.Context, input PostEntryInput) (*JournalEntry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	entry, err := s.PostEntryTx(ctx, tx, input)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit journal entry: %w", err)
	}
	return entry, nil
}

func (s *ledgerService) PostEntryTx(ctx context.Context, tx pgx.Tx, input PostEntryInput) (*JournalEntry, error) {
	// 1. Structural validation
	if err := input.validate(); err != nil {
		return nil, err
	}
	date := Day(input.Date)

	// 2. Account ownership check
	if !input.SkipAccountValidation {
		if err := validateAccountsTx(ctx, tx, input.CompanyID, input.Lines); err != nil {
			return nil, err
		}
	}

	// 3. Balance check at two decimals
	totalDebit, totalCredit := decimal.Zero, decimal.Zero
	for _, line := range input.Lines {
		totalDebit = totalDebit.Add(line.Debit)
		totalCredit = totalCredit.Add(line.Credit)
	}
	totalDebit, totalCredit = Round2(totalDebit), Round2(totalCredit)
	if !totalDebit.Equal(totalCredit) {
		return nil, Errorf(KindUnbalanced, "journal entry is unbalanced: debits %s != credits %s",
			totalDebit.StringFixed(2), totalCredit.StringFixed(2))
	}

	// 4. Gapless entry number for the tenant-year, inside this transaction.
	// A concurrent posting for the same year blocks here until we commit,
	// which is what makes the sequence gapless.
	entryNumber, err := allocateEntryNumberTx(ctx, tx, input.CompanyID, date.Year())
	if err != nil {
		return nil, err
	}

	// 5. Insert entry header
	entry := &JournalEntry{
		CompanyID:                input.CompanyID,
		EntryNumber:              entryNumber,
		Date:                     date,
		Description:              input.Description,
		LocationID:               input.LocationID,
		CreatedByUserID:          input.CreatedByUserID,
		ReversalOfJournalEntryID: input.ReversalOfJournalEntryID,
		ReversalReason:           input.ReversalReason,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO journal_entries (company_id, entry_number, date, description, location_id,
		                             created_by_user_id, reversal_of_journal_entry_id, reversal_reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING id, created_at
	`, entry.CompanyID, entry.EntryNumber, entry.Date, entry.Description, entry.LocationID,
		entry.CreatedByUserID, entry.ReversalOfJournalEntryID, entry.ReversalReason,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert journal entry: %w", err)
	}

	// 6. Insert lines with rounded amounts
	for _, line := range input.Lines {
		jl := JournalLine{
			CompanyID:      input.CompanyID,
			JournalEntryID: entry.ID,
			AccountID:      line.AccountID,
			Debit:          Round2(line.Debit),
			Credit:         Round2(line.Credit),
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO journal_lines (company_id, journal_entry_id, account_id, debit, credit)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, jl.CompanyID, jl.JournalEntryID, jl.AccountID, jl.Debit, jl.Credit).Scan(&jl.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to insert journal line: %w", err)
		}
		entry.Lines = append(entry.Lines, jl)
	}

	// 7. Fold the new lines into the account_balances / daily_summaries
	// projections so reports stay consistent with the source of truth.
	if err := applyEntryProjectionsTx(ctx, tx, input.CompanyID, entry.ID, date); err != nil {
		return nil, err
	}

	return entry, nil
}

// validateAccountsTx verifies that every referenced account belongs to the
// company and is active.
func validateAccountsTx(ctx context.Context, tx pgx.Tx, companyID int, lines []PostLineInput) error {
	seen := make(map[int]bool, len(lines))
	for _, line := range lines {
		if seen[line.AccountID] {
			continue
		}
		seen[line.AccountID] = true

		var isActive bool
		err := tx.QueryRow(ctx,
			"SELECT is_active FROM accounts WHERE id = $1 AND company_id = $2",
			line.AccountID, companyID,
		).Scan(&isActive)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return Errorf(KindValidation, "account %d does not belong to company %d", line.AccountID, companyID)
			}
			return fmt.Errorf("failed to validate account %d: %w", line.AccountID, err)
		}
		if !isActive {
			return Errorf(KindValidation, "account %d is inactive", line.AccountID)
		}
	}
	return nil
}

// allocateEntryNumberTx atomically increments the per-tenant-year sequence
// and formats the gapless entry number JE-YYYY-NNNN.
func allocateEntryNumberTx(ctx context.Context, tx pgx.Tx, companyID, year int) (string, error) {
	key := fmt.Sprintf("JOURNAL_ENTRY:%d", year)

	var lastNumber int64
	err := tx.QueryRow(ctx, `
		INSERT INTO document_sequences (company_id, key, last_number)
		VALUES ($1, $2, 1)
		ON CONFLICT (company_id, key)
		DO UPDATE SET last_number = document_sequences.last_number + 1
		RETURNING last_number
	`, companyID, key).Scan(&lastNumber)
	if err != nil {
		return "", fmt.Errorf("failed to allocate entry number for %s: %w", key, err)
	}

	return fmt.Sprintf("JE-%d-%04d", year, lastNumber), nil
}

func (s *ledgerService) GetEntry(ctx context.Context, companyID, entryID int) (*JournalEntry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	entry, err := s.GetEntryTx(ctx, tx, companyID, entryID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit read transaction: %w", err)
	}
	return entry, nil
}

func (s *ledgerService) GetEntryTx(ctx context.Context, tx pgx.Tx, companyID, entryID int) (*JournalEntry, error) {
	return getEntryTx(ctx, tx, companyID, entryID, false)
}

// getEntryTx fetches one entry with lines; forUpdate locks the header row so
// reversal and void checks serialize against concurrent attempts.
func getEntryTx(ctx context.Context, tx pgx.Tx, companyID, entryID int, forUpdate bool) (*JournalEntry, error) {
	q := `
		SELECT id, company_id, entry_number, date, description, location_id, created_by_user_id,
		       reversal_of_journal_entry_id, reversal_reason, voided_at, void_reason, voided_by_user_id, created_at
		FROM journal_entries
		WHERE id = $1 AND company_id = $2`
	if forUpdate {
		q += " FOR UPDATE"
	}

	var entry JournalEntry
	err := tx.QueryRow(ctx, q, entryID, companyID).Scan(
		&entry.ID, &entry.CompanyID, &entry.EntryNumber, &entry.Date, &entry.Description,
		&entry.LocationID, &entry.CreatedByUserID,
		&entry.ReversalOfJournalEntryID, &entry.ReversalReason,
		&entry.VoidedAt, &entry.VoidReason, &entry.VoidedByUserID, &entry.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, Errorf(KindNotFound, "journal entry %d not found", entryID)
		}
		return nil, fmt.Errorf("failed to fetch journal entry %d: %w", entryID, err)
	}

	entry.Lines, err = fetchLinesTx(ctx, tx, entry.ID)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func fetchLinesTx(ctx context.Context, tx pgx.Tx, entryID int) ([]JournalLine, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, company_id, journal_entry_id, account_id, debit, credit
		FROM journal_lines
		WHERE journal_entry_id = $1
		ORDER BY id
	`, entryID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch lines for entry %d: %w", entryID, err)
	}
	defer rows.Close()

	var lines []JournalLine
	for rows.Next() {
		var l JournalLine
		if err := rows.Scan(&l.ID, &l.CompanyID, &l.JournalEntryID, &l.AccountID, &l.Debit, &l.Credit); err != nil {
			return nil, fmt.Errorf("failed to scan journal line: %w", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating journal lines: %w", err)
	}
	return lines, nil
}

func (s *ledgerService) ListEntries(ctx context.Context, companyID int, query ListEntriesQuery) ([]EntrySummary, error) {
	take := query.Take
	if take <= 0 {
		take = DefaultListTake
	}
	if take > MaxListTake {
		take = MaxListTake
	}

	q := `
		SELECT je.id, je.entry_number, je.date, je.description,
		       je.reversal_of_journal_entry_id, je.voided_at,
		       COALESCE(SUM(jl.debit), 0)  AS total_debit,
		       COALESCE(SUM(jl.credit), 0) AS total_credit
		FROM journal_entries je
		LEFT JOIN journal_lines jl ON jl.journal_entry_id = je.id
		WHERE je.company_id = $1`

	args := []any{companyID}
	if query.From != nil {
		args = append(args, Day(*query.From))
		q += fmt.Sprintf(" AND je.date >= $%d", len(args))
	}
	if query.To != nil {
		args = append(args, Day(*query.To))
		q += fmt.Sprintf(" AND je.date <= $%d", len(args))
	}
	args = append(args, take)
	q += fmt.Sprintf(`
		GROUP BY je.id
		ORDER BY je.date ASC, je.id ASC
		LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list journal entries: %w", err)
	}
	defer rows.Close()

	var entries []EntrySummary
	for rows.Next() {
		var e EntrySummary
		if err := rows.Scan(&e.ID, &e.EntryNumber, &e.Date, &e.Description,
			&e.ReversalOfJournalEntryID, &e.VoidedAt, &e.TotalDebit, &e.TotalCredit); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating journal entries: %w", err)
	}
	return entries, nil
}
