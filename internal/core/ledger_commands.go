package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// LedgerCommands are the mutation paths over the ledger: manual posting,
// reversal, void, and adjustment. Every method runs inside the caller's
// transaction and enforces the closed-period policy on the date the new
// entry will carry; the entries themselves stay immutable, corrections are
// always additional postings.
type LedgerCommands interface {
	CreateManualTx(ctx context.Context, tx pgx.Tx, input CreateEntryInput) (*JournalEntry, error)
	ReverseTx(ctx context.Context, tx pgx.Tx, input ReverseEntryInput) (*ReversalResult, error)
	VoidTx(ctx context.Context, tx pgx.Tx, input VoidEntryInput) (*ReversalResult, error)
	AdjustTx(ctx context.Context, tx pgx.Tx, input AdjustEntryInput) (*AdjustResult, error)
}

type CreateEntryInput struct {
	CompanyID       int
	Date            time.Time
	Description     string
	LocationID      *int
	CreatedByUserID *int
	Lines           []PostLineInput
}

// ReverseEntryInput reverses entry EntryID. Date defaults to the original
// entry's date; reversing into a closed period requires an explicit open
// date.
type ReverseEntryInput struct {
	CompanyID       int
	EntryID         int
	Reason          *string
	Date            *time.Time
	CreatedByUserID *int
}

type VoidEntryInput struct {
	CompanyID       int
	EntryID         int
	Reason          string
	Date            *time.Time
	CreatedByUserID *int
}

type AdjustEntryInput struct {
	CompanyID       int
	EntryID         int
	Reason          string
	Description     string
	Date            *time.Time
	CreatedByUserID *int
	Lines           []PostLineInput
}

type ReversalResult struct {
	Original *JournalEntry
	Reversal *JournalEntry
}

type AdjustResult struct {
	Original  *JournalEntry
	Reversal  *JournalEntry
	Corrected *JournalEntry
}

type ledgerCommands struct {
	ledger  LedgerService
	periods PeriodCloseService
}

func NewLedgerCommands(ledger LedgerService, periods PeriodCloseService) LedgerCommands {
	return &ledgerCommands{ledger: ledger, periods: periods}
}

func (c *ledgerCommands) CreateManualTx(ctx context.Context, tx pgx.Tx, input CreateEntryInput) (*JournalEntry, error) {
	if err := c.periods.AssertOpenPeriodTx(ctx, tx, input.CompanyID, input.Date, "create journal entry"); err != nil {
		return nil, err
	}
	return c.ledger.PostEntryTx(ctx, tx, PostEntryInput{
		CompanyID:       input.CompanyID,
		Date:            input.Date,
		Description:     input.Description,
		LocationID:      input.LocationID,
		CreatedByUserID: input.CreatedByUserID,
		Lines:           input.Lines,
	})
}

func (c *ledgerCommands) ReverseTx(ctx context.Context, tx pgx.Tx, input ReverseEntryInput) (*ReversalResult, error) {
	original, err := c.lockReversibleTx(ctx, tx, input.CompanyID, input.EntryID, "reverse")
	if err != nil {
		return nil, err
	}

	date := resolveCorrectionDate(original, input.Date)
	if err := c.periods.AssertOpenPeriodTx(ctx, tx, input.CompanyID, date, "reverse journal entry"); err != nil {
		return nil, err
	}

	reversal, err := c.postReversalTx(ctx, tx, original, date, input.Reason, input.CreatedByUserID)
	if err != nil {
		return nil, err
	}
	return &ReversalResult{Original: original, Reversal: reversal}, nil
}

func (c *ledgerCommands) VoidTx(ctx context.Context, tx pgx.Tx, input VoidEntryInput) (*ReversalResult, error) {
	if input.Reason == "" {
		return nil, NewError(KindValidation, "void reason is required")
	}

	original, err := c.lockReversibleTx(ctx, tx, input.CompanyID, input.EntryID, "void")
	if err != nil {
		return nil, err
	}

	date := resolveCorrectionDate(original, input.Date)
	if err := c.periods.AssertOpenPeriodTx(ctx, tx, input.CompanyID, date, "void journal entry"); err != nil {
		return nil, err
	}

	reversal, err := c.postReversalTx(ctx, tx, original, date, &input.Reason, input.CreatedByUserID)
	if err != nil {
		return nil, err
	}

	// Void metadata is the one mutable patch of an entry; the lines stay as
	// posted and the reversal carries the offsetting amounts.
	ct, err := tx.Exec(ctx, `
		UPDATE journal_entries
		SET voided_at = NOW(), void_reason = $3, voided_by_user_id = $4
		WHERE id = $1 AND company_id = $2
	`, original.ID, input.CompanyID, input.Reason, input.CreatedByUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark journal entry %d voided: %w", original.ID, err)
	}
	if ct.RowsAffected() == 0 {
		return nil, Errorf(KindNotFound, "journal entry %d not found", original.ID)
	}

	return &ReversalResult{Original: original, Reversal: reversal}, nil
}

func (c *ledgerCommands) AdjustTx(ctx context.Context, tx pgx.Tx, input AdjustEntryInput) (*AdjustResult, error) {
	if input.Reason == "" {
		return nil, NewError(KindValidation, "adjustment reason is required")
	}
	if len(input.Lines) == 0 {
		return nil, NewError(KindValidation, "adjustment lines are required")
	}

	original, err := c.lockReversibleTx(ctx, tx, input.CompanyID, input.EntryID, "adjust")
	if err != nil {
		return nil, err
	}

	date := resolveCorrectionDate(original, input.Date)
	if err := c.periods.AssertOpenPeriodTx(ctx, tx, input.CompanyID, date, "adjust journal entry"); err != nil {
		return nil, err
	}

	reversal, err := c.postReversalTx(ctx, tx, original, date, &input.Reason, input.CreatedByUserID)
	if err != nil {
		return nil, err
	}

	description := input.Description
	if description == "" {
		description = fmt.Sprintf("Adjustment of %s", original.EntryNumber)
	}
	corrected, err := c.ledger.PostEntryTx(ctx, tx, PostEntryInput{
		CompanyID:       input.CompanyID,
		Date:            date,
		Description:     description,
		LocationID:      original.LocationID,
		CreatedByUserID: input.CreatedByUserID,
		Lines:           input.Lines,
	})
	if err != nil {
		return nil, err
	}

	return &AdjustResult{Original: original, Reversal: reversal, Corrected: corrected}, nil
}

// lockReversibleTx fetches the original under a row lock and rejects states
// that must not be reversed again: reversal entries, voided entries, and
// entries that already have a reversal. The row lock serializes concurrent
// correction attempts; the lookup for an existing reversal is the final
// safety net behind idempotency.
func (c *ledgerCommands) lockReversibleTx(ctx context.Context, tx pgx.Tx, companyID, entryID int, action string) (*JournalEntry, error) {
	original, err := getEntryTx(ctx, tx, companyID, entryID, true)
	if err != nil {
		return nil, err
	}
	if original.ReversalOfJournalEntryID != nil {
		return nil, Errorf(KindInvalidState, "cannot %s %s: it is itself a reversal of entry %d",
			action, original.EntryNumber, *original.ReversalOfJournalEntryID)
	}
	if original.VoidedAt != nil {
		return nil, Errorf(KindInvalidState, "cannot %s %s: entry was voided", action, original.EntryNumber)
	}

	var reversalID int
	err = tx.QueryRow(ctx, `
		SELECT id FROM journal_entries
		WHERE company_id = $1 AND reversal_of_journal_entry_id = $2
		LIMIT 1
	`, companyID, entryID).Scan(&reversalID)
	if err == nil {
		return nil, Errorf(KindInvalidState, "cannot %s %s: entry was already reversed", action, original.EntryNumber).
			WithDetail("reversal_journal_entry_id", reversalID)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to check existing reversal: %w", err)
	}
	return original, nil
}

func (c *ledgerCommands) postReversalTx(ctx context.Context, tx pgx.Tx, original *JournalEntry, date time.Time, reason *string, userID *int) (*JournalEntry, error) {
	// Account validation is skipped: an account deactivated since the original
	// posting must not block its own correction.
	return c.ledger.PostEntryTx(ctx, tx, PostEntryInput{
		CompanyID:                original.CompanyID,
		Date:                     date,
		Description:              fmt.Sprintf("Reversal of %s", original.EntryNumber),
		LocationID:               original.LocationID,
		CreatedByUserID:          userID,
		ReversalOfJournalEntryID: &original.ID,
		ReversalReason:           reason,
		Lines:                    reversalLines(original.Lines),
		SkipAccountValidation:    true,
	})
}

// reversalLines swaps each line's debit and credit. A balanced entry stays
// balanced under the swap.
func reversalLines(lines []JournalLine) []PostLineInput {
	out := make([]PostLineInput, 0, len(lines))
	for _, l := range lines {
		out = append(out, PostLineInput{
			AccountID: l.AccountID,
			Debit:     l.Credit,
			Credit:    l.Debit,
		})
	}
	return out
}

// resolveCorrectionDate picks the posting date for a reversal or adjustment:
// the caller's date when given, otherwise the original entry's date.
func resolveCorrectionDate(original *JournalEntry, requested *time.Time) time.Time {
	if requested != nil {
		return Day(*requested)
	}
	return original.Date
}
