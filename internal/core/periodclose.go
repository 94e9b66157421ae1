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

// PeriodCloseService owns the closed-period policy and the closing posting.
// AssertOpenPeriodTx is the guard every dated mutation runs before writing;
// ClosePeriodTx zeros income and expense into retained earnings and records
// the closed range.
type PeriodCloseService interface {
	// AssertOpenPeriodTx fails with PeriodClosed when date falls on or before
	// the tenant's closed-through date. Action names the attempted mutation
	// for the error payload.
	AssertOpenPeriodTx(ctx context.Context, tx pgx.Tx, companyID int, date time.Time, action string) error
	// ClosedThroughTx returns the tenant's closed-through date, nil when no
	// period has been closed.
	ClosedThroughTx(ctx context.Context, tx pgx.Tx, companyID int) (*time.Time, error)
	// ClosePeriodTx closes [from, to]: posts the closing entry and inserts the
	// PeriodClose row. Closing the exact same range again returns the existing
	// identifiers with AlreadyClosed set instead of failing.
	ClosePeriodTx(ctx context.Context, tx pgx.Tx, input ClosePeriodInput) (*ClosePeriodResult, error)
	// List returns the tenant's closes ordered by from_date.
	List(ctx context.Context, companyID int) ([]PeriodClose, error)
}

type ClosePeriodInput struct {
	CompanyID       int
	From            time.Time
	To              time.Time
	CreatedByUserID *int
}

// ClosePeriodResult reports the close. Entry is nil when AlreadyClosed.
type ClosePeriodResult struct {
	PeriodCloseID  int             `json:"period_close_id"`
	JournalEntryID int             `json:"journal_entry_id"`
	AlreadyClosed  bool            `json:"already_closed"`
	NetProfit      decimal.Decimal `json:"net_profit"`
	Entry          *JournalEntry   `json:"-"`
}

type periodCloseService struct {
	pool   *pgxpool.Pool
	ledger LedgerService
}

func NewPeriodCloseService(pool *pgxpool.Pool, ledger LedgerService) PeriodCloseService {
	return &periodCloseService{pool: pool, ledger: ledger}
}

func (s *periodCloseService) ClosedThroughTx(ctx context.Context, tx pgx.Tx, companyID int) (*time.Time, error) {
	var closedThrough *time.Time
	err := tx.QueryRow(ctx,
		"SELECT MAX(to_date) FROM period_closes WHERE company_id = $1", companyID,
	).Scan(&closedThrough)
	if err != nil {
		return nil, fmt.Errorf("failed to read closed-through date: %w", err)
	}
	return closedThrough, nil
}

func (s *periodCloseService) AssertOpenPeriodTx(ctx context.Context, tx pgx.Tx, companyID int, date time.Time, action string) error {
	closedThrough, err := s.ClosedThroughTx(ctx, tx, companyID)
	if err != nil {
		return err
	}
	if closedThrough == nil {
		return nil
	}
	day := Day(date)
	if day.After(Day(*closedThrough)) {
		return nil
	}
	return Errorf(KindPeriodClosed, "period is closed through %s", FormatDay(*closedThrough)).
		WithDetail("closed_through", FormatDay(*closedThrough)).
		WithDetail("transaction_date", FormatDay(day)).
		WithDetail("action", action)
}

func (s *periodCloseService) ClosePeriodTx(ctx context.Context, tx pgx.Tx, input ClosePeriodInput) (*ClosePeriodResult, error) {
	if input.CompanyID <= 0 {
		return nil, NewError(KindValidation, "company id is required")
	}
	if input.From.IsZero() || input.To.IsZero() {
		return nil, NewError(KindValidation, "from and to dates are required")
	}
	from, to := Day(input.From), Day(input.To)
	if from.After(to) {
		return nil, Errorf(KindValidation, "from date %s is after to date %s", FormatDay(from), FormatDay(to))
	}

	// Closing the identical range twice is treated as a replay, not an error.
	if result, err := s.existingCloseTx(ctx, tx, input.CompanyID, from, to); err != nil || result != nil {
		return result, err
	}

	// Ranges never overlap; closed-through stays well defined.
	var overlapFrom, overlapTo time.Time
	err := tx.QueryRow(ctx, `
		SELECT from_date, to_date FROM period_closes
		WHERE company_id = $1 AND from_date <= $3 AND to_date >= $2
		LIMIT 1
	`, input.CompanyID, from, to).Scan(&overlapFrom, &overlapTo)
	if err == nil {
		return nil, Errorf(KindInvalidState, "period %s to %s overlaps the closed period %s to %s",
			FormatDay(from), FormatDay(to), FormatDay(overlapFrom), FormatDay(overlapTo))
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to check period overlap: %w", err)
	}

	retainedEarningsID, err := findOrCreateAccountTx(ctx, tx, input.CompanyID, accountSpec{
		Code:          CodeRetainedEarnings,
		Name:          NameRetainedEarnings,
		Type:          AccountEquity,
		NormalBalance: NormalCredit,
		ReportGroup:   GroupEquity,
		Activity:      ActivityFinancing,
	})
	if err != nil {
		return nil, err
	}

	lines, netProfit, err := closingLinesTx(ctx, tx, input.CompanyID, from, to, retainedEarningsID)
	if err != nil {
		return nil, err
	}
	if netProfit.IsZero() {
		return nil, Errorf(KindValidation, "net result for %s to %s is zero, nothing to close",
			FormatDay(from), FormatDay(to))
	}

	entry, err := s.ledger.PostEntryTx(ctx, tx, PostEntryInput{
		CompanyID:       input.CompanyID,
		Date:            to,
		Description:     fmt.Sprintf("Closing entry for period %s to %s", FormatDay(from), FormatDay(to)),
		CreatedByUserID: input.CreatedByUserID,
		Lines:           lines,
	})
	if err != nil {
		return nil, err
	}

	var periodCloseID int
	err = tx.QueryRow(ctx, `
		INSERT INTO period_closes (company_id, from_date, to_date, journal_entry_id, created_by_user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING id
	`, input.CompanyID, from, to, entry.ID, input.CreatedByUserID).Scan(&periodCloseID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert period close: %w", err)
	}

	return &ClosePeriodResult{
		PeriodCloseID:  periodCloseID,
		JournalEntryID: entry.ID,
		NetProfit:      netProfit,
		Entry:          entry,
	}, nil
}

// existingCloseTx returns the replay result when the exact range was already
// closed. The net profit is recovered from the closing entry's retained
// earnings line, credit positive.
func (s *periodCloseService) existingCloseTx(ctx context.Context, tx pgx.Tx, companyID int, from, to time.Time) (*ClosePeriodResult, error) {
	var periodCloseID, entryID int
	err := tx.QueryRow(ctx, `
		SELECT id, journal_entry_id FROM period_closes
		WHERE company_id = $1 AND from_date = $2 AND to_date = $3
	`, companyID, from, to).Scan(&periodCloseID, &entryID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check existing period close: %w", err)
	}

	var netProfit decimal.Decimal
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(jl.credit - jl.debit), 0)
		FROM journal_lines jl
		JOIN accounts a ON a.id = jl.account_id
		WHERE jl.journal_entry_id = $1 AND a.code = $2
	`, entryID, CodeRetainedEarnings).Scan(&netProfit)
	if err != nil {
		return nil, fmt.Errorf("failed to read closing entry net: %w", err)
	}

	return &ClosePeriodResult{
		PeriodCloseID:  periodCloseID,
		JournalEntryID: entryID,
		AlreadyClosed:  true,
		NetProfit:      Round2(netProfit),
	}, nil
}

// closingLinesTx builds one line per income/expense account with nonzero net
// activity in range, plus the retained earnings offset. Returns the lines and
// the net profit, credit positive.
func closingLinesTx(ctx context.Context, tx pgx.Tx, companyID int, from, to time.Time, retainedEarningsID int) ([]PostLineInput, decimal.Decimal, error) {
	rows, err := tx.Query(ctx, `
		SELECT a.id, a.type, COALESCE(SUM(jl.credit - jl.debit), 0) AS credit_net
		FROM accounts a
		JOIN journal_lines jl ON jl.account_id = a.id
		JOIN journal_entries je ON je.id = jl.journal_entry_id
		WHERE a.company_id = $1 AND a.type IN ($2, $3) AND je.date >= $4 AND je.date <= $5
		GROUP BY a.id, a.type
		ORDER BY a.id
	`, companyID, AccountIncome, AccountExpense, from, to)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("failed to aggregate period activity: %w", err)
	}
	defer rows.Close()

	var lines []PostLineInput
	netProfit := decimal.Zero
	for rows.Next() {
		var accountID int
		var accountType AccountType
		var creditNet decimal.Decimal
		if err := rows.Scan(&accountID, &accountType, &creditNet); err != nil {
			return nil, decimal.Zero, fmt.Errorf("failed to scan period activity: %w", err)
		}
		creditNet = Round2(creditNet)
		if creditNet.IsZero() {
			continue
		}
		netProfit = netProfit.Add(creditNet)

		// Income carries a credit net, expense a debit net. The closing line
		// mirrors the net so the account lands at zero for the range.
		line := PostLineInput{AccountID: accountID}
		if creditNet.IsPositive() {
			line.Debit = creditNet
		} else {
			line.Credit = creditNet.Neg()
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, decimal.Zero, fmt.Errorf("error iterating period activity: %w", err)
	}

	netProfit = Round2(netProfit)
	if netProfit.IsZero() {
		return nil, decimal.Zero, nil
	}
	offset := PostLineInput{AccountID: retainedEarningsID}
	if netProfit.IsPositive() {
		offset.Credit = netProfit
	} else {
		offset.Debit = netProfit.Neg()
	}
	return append(lines, offset), netProfit, nil
}

func (s *periodCloseService) List(ctx context.Context, companyID int) ([]PeriodClose, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, company_id, from_date, to_date, journal_entry_id, created_by_user_id, created_at
		FROM period_closes
		WHERE company_id = $1
		ORDER BY from_date ASC, id ASC
	`, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list period closes: %w", err)
	}
	defer rows.Close()

	var closes []PeriodClose
	for rows.Next() {
		var pc PeriodClose
		if err := rows.Scan(&pc.ID, &pc.CompanyID, &pc.FromDate, &pc.ToDate,
			&pc.JournalEntryID, &pc.CreatedByUserID, &pc.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan period close: %w", err)
		}
		closes = append(closes, pc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating period closes: %w", err)
	}
	return closes, nil
}

// accountSpec describes an account created on demand.
type accountSpec struct {
	Code          string
	Name          string
	Type          AccountType
	NormalBalance NormalBalance
	ReportGroup   string
	Activity      CashflowActivity
}

// findOrCreateAccountTx resolves an account by code, creating it when the
// tenant does not have one yet.
func findOrCreateAccountTx(ctx context.Context, tx pgx.Tx, companyID int, spec accountSpec) (int, error) {
	var id int
	err := tx.QueryRow(ctx,
		"SELECT id FROM accounts WHERE company_id = $1 AND code = $2",
		companyID, spec.Code,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("failed to look up account %s: %w", spec.Code, err)
	}

	var group *string
	if spec.ReportGroup != "" {
		group = &spec.ReportGroup
	}
	var activity *CashflowActivity
	if spec.Activity != "" {
		activity = &spec.Activity
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO accounts (company_id, code, name, type, normal_balance, report_group, cashflow_activity, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
		RETURNING id
	`, companyID, spec.Code, spec.Name, spec.Type, spec.NormalBalance, group, activity).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create account %s: %w", spec.Code, err)
	}
	return id, nil
}
