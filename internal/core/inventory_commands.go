package core

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// InventoryCommands are the stock mutations that pair moves with ledger
// postings: opening balances and quantity adjustments. Both run inside the
// caller's transaction so the stock change and its journal entry commit
// together.
type InventoryCommands interface {
	OpeningBalanceTx(ctx context.Context, tx pgx.Tx, input OpeningBalanceInput) (*OpeningBalanceResult, error)
	AdjustmentTx(ctx context.Context, tx pgx.Tx, input AdjustmentInput) (*AdjustmentResult, error)
}

type OpeningBalanceInput struct {
	CompanyID       int
	Date            time.Time
	LocationID      *int
	CreatedByUserID *int
	CorrelationID   string
	Lines           []OpeningBalanceLine
}

type OpeningBalanceLine struct {
	ItemID   int
	Quantity decimal.Decimal
	UnitCost decimal.Decimal
}

type OpeningBalanceResult struct {
	Entry      *JournalEntry
	Moves      []StockMove
	TotalValue decimal.Decimal
	Replayed   bool
	ReplayFrom *time.Time
}

type AdjustmentInput struct {
	CompanyID       int
	Date            time.Time
	LocationID      *int
	OffsetAccountID *int
	Reason          string
	ReferenceNumber *string
	CreatedByUserID *int
	CorrelationID   string
	Lines           []AdjustmentLine
}

// AdjustmentLine changes one item's quantity. A positive delta is an IN and
// requires a unit cost; a negative delta is an OUT priced at the running
// average.
type AdjustmentLine struct {
	ItemID        int
	QuantityDelta decimal.Decimal
	UnitCost      *decimal.Decimal
}

type AdjustmentResult struct {
	Entry      *JournalEntry
	Moves      []StockMove
	TotalIn    decimal.Decimal
	TotalOut   decimal.Decimal
	Net        decimal.Decimal
	Replayed   bool
	ReplayFrom *time.Time
}

type inventoryCommands struct {
	engine  InventoryEngine
	ledger  LedgerService
	periods PeriodCloseService
}

func NewInventoryCommands(engine InventoryEngine, ledger LedgerService, periods PeriodCloseService) InventoryCommands {
	return &inventoryCommands{engine: engine, ledger: ledger, periods: periods}
}

func (c *inventoryCommands) OpeningBalanceTx(ctx context.Context, tx pgx.Tx, input OpeningBalanceInput) (*OpeningBalanceResult, error) {
	if input.CompanyID <= 0 {
		return nil, NewError(KindValidation, "company id is required")
	}
	if len(input.Lines) == 0 {
		return nil, NewError(KindValidation, "opening balance lines are required")
	}
	if input.CorrelationID == "" {
		return nil, NewError(KindValidation, "correlation id is required")
	}
	date := Day(defaultDate(input.Date))

	defaults, err := c.engine.EnsureCompanyDefaultsTx(ctx, tx, input.CompanyID)
	if err != nil {
		return nil, err
	}
	locationID := defaults.LocationID
	if input.LocationID != nil {
		locationID = *input.LocationID
	}

	if err := c.periods.AssertOpenPeriodTx(ctx, tx, input.CompanyID, date, "inventory opening balance"); err != nil {
		return nil, err
	}

	refType := "OPENING_BALANCE"
	result := &OpeningBalanceResult{TotalValue: decimal.Zero}
	for i, line := range input.Lines {
		if !line.Quantity.IsPositive() {
			return nil, Errorf(KindValidation, "line %d: quantity must be positive, got %s", i+1, line.Quantity)
		}
		if !line.UnitCost.IsPositive() {
			return nil, Errorf(KindValidation, "line %d: unit cost must be positive, got %s", i+1, line.UnitCost)
		}
		if _, err := c.engine.RequireTrackedItemTx(ctx, tx, input.CompanyID, line.ItemID); err != nil {
			return nil, err
		}

		// Opening balances may legitimately predate existing history, so the
		// replay path is always allowed here.
		moved, err := c.engine.ApplyStockMoveTx(ctx, tx, StockMoveInput{
			CompanyID:      input.CompanyID,
			LocationID:     locationID,
			ItemID:         line.ItemID,
			Date:           date,
			Type:           MoveOpening,
			Direction:      DirectionIn,
			Quantity:       line.Quantity,
			UnitCost:       line.UnitCost,
			AllowBackdated: true,
			ReferenceType:  &refType,
			CorrelationID:  &input.CorrelationID,
		})
		if err != nil {
			return nil, err
		}
		result.Moves = append(result.Moves, *moved.Move)
		result.TotalValue = result.TotalValue.Add(moved.Move.TotalCostApplied)
		mergeReplay(&result.Replayed, &result.ReplayFrom, moved)
	}
	result.TotalValue = Round2(result.TotalValue)

	entry, err := c.ledger.PostEntryTx(ctx, tx, PostEntryInput{
		CompanyID:       input.CompanyID,
		Date:            date,
		Description:     "Inventory opening balance",
		LocationID:      &locationID,
		CreatedByUserID: input.CreatedByUserID,
		Lines: []PostLineInput{
			{AccountID: defaults.InventoryAccountID, Debit: result.TotalValue},
			{AccountID: defaults.OpeningBalanceEquityAccountID, Credit: result.TotalValue},
		},
		SkipAccountValidation: true,
	})
	if err != nil {
		return nil, err
	}
	result.Entry = entry

	if err := backfillJournalEntryTx(ctx, tx, input.CompanyID, input.CorrelationID, entry.ID); err != nil {
		return nil, err
	}
	for i := range result.Moves {
		result.Moves[i].JournalEntryID = &entry.ID
	}
	return result, nil
}

func (c *inventoryCommands) AdjustmentTx(ctx context.Context, tx pgx.Tx, input AdjustmentInput) (*AdjustmentResult, error) {
	if input.CompanyID <= 0 {
		return nil, NewError(KindValidation, "company id is required")
	}
	if len(input.Lines) == 0 {
		return nil, NewError(KindValidation, "adjustment lines are required")
	}
	if input.CorrelationID == "" {
		return nil, NewError(KindValidation, "correlation id is required")
	}
	date := Day(defaultDate(input.Date))

	defaults, err := c.engine.EnsureCompanyDefaultsTx(ctx, tx, input.CompanyID)
	if err != nil {
		return nil, err
	}
	locationID := defaults.LocationID
	if input.LocationID != nil {
		locationID = *input.LocationID
	}
	offsetAccountID := defaults.COGSAccountID
	if input.OffsetAccountID != nil {
		offsetAccountID = *input.OffsetAccountID
	}

	if err := c.periods.AssertOpenPeriodTx(ctx, tx, input.CompanyID, date, "inventory adjustment"); err != nil {
		return nil, err
	}

	refType := "ADJUSTMENT"
	result := &AdjustmentResult{TotalIn: decimal.Zero, TotalOut: decimal.Zero}
	for i, line := range input.Lines {
		if line.QuantityDelta.IsZero() {
			return nil, Errorf(KindValidation, "line %d: quantity delta must be non-zero", i+1)
		}
		if _, err := c.engine.RequireTrackedItemTx(ctx, tx, input.CompanyID, line.ItemID); err != nil {
			return nil, err
		}

		move := StockMoveInput{
			CompanyID:      input.CompanyID,
			LocationID:     locationID,
			ItemID:         line.ItemID,
			Date:           date,
			Type:           MoveAdjustment,
			AllowBackdated: true,
			ReferenceType:  &refType,
			ReferenceID:    input.ReferenceNumber,
			CorrelationID:  &input.CorrelationID,
		}
		if line.QuantityDelta.IsPositive() {
			if line.UnitCost == nil || !line.UnitCost.IsPositive() {
				return nil, Errorf(KindValidation, "line %d: positive adjustment requires a positive unit cost", i+1)
			}
			move.Direction = DirectionIn
			move.Quantity = line.QuantityDelta
			move.UnitCost = *line.UnitCost
		} else {
			move.Direction = DirectionOut
			move.Quantity = line.QuantityDelta.Neg()
		}

		moved, err := c.engine.ApplyStockMoveTx(ctx, tx, move)
		if err != nil {
			return nil, err
		}
		result.Moves = append(result.Moves, *moved.Move)
		if move.Direction == DirectionIn {
			result.TotalIn = result.TotalIn.Add(moved.Move.TotalCostApplied)
		} else {
			result.TotalOut = result.TotalOut.Add(moved.Move.TotalCostApplied)
		}
		mergeReplay(&result.Replayed, &result.ReplayFrom, moved)
	}

	result.TotalIn = Round2(result.TotalIn)
	result.TotalOut = Round2(result.TotalOut)
	result.Net = Round2(result.TotalIn.Sub(result.TotalOut))
	if result.Net.IsZero() {
		return nil, NewError(KindValidation, "adjustment value nets to zero, nothing to post")
	}

	description := "Inventory adjustment"
	if input.Reason != "" {
		description = fmt.Sprintf("Inventory adjustment: %s", input.Reason)
	}
	var lines []PostLineInput
	if result.Net.IsPositive() {
		lines = []PostLineInput{
			{AccountID: defaults.InventoryAccountID, Debit: result.Net},
			{AccountID: offsetAccountID, Credit: result.Net},
		}
	} else {
		lines = []PostLineInput{
			{AccountID: offsetAccountID, Debit: result.Net.Neg()},
			{AccountID: defaults.InventoryAccountID, Credit: result.Net.Neg()},
		}
	}

	entry, err := c.ledger.PostEntryTx(ctx, tx, PostEntryInput{
		CompanyID:       input.CompanyID,
		Date:            date,
		Description:     description,
		LocationID:      &locationID,
		CreatedByUserID: input.CreatedByUserID,
		Lines:           lines,
	})
	if err != nil {
		return nil, err
	}
	result.Entry = entry

	if err := backfillJournalEntryTx(ctx, tx, input.CompanyID, input.CorrelationID, entry.ID); err != nil {
		return nil, err
	}
	for i := range result.Moves {
		result.Moves[i].JournalEntryID = &entry.ID
	}
	return result, nil
}

// backfillJournalEntryTx links every stock move written under this command's
// correlation id to the journal entry posted for it.
func backfillJournalEntryTx(ctx context.Context, tx pgx.Tx, companyID int, correlationID string, entryID int) error {
	_, err := tx.Exec(ctx, `
		UPDATE stock_moves
		SET journal_entry_id = $3
		WHERE company_id = $1 AND correlation_id = $2 AND journal_entry_id IS NULL
	`, companyID, correlationID, entryID)
	if err != nil {
		return fmt.Errorf("failed to backfill journal entry on stock moves: %w", err)
	}
	return nil
}

// mergeReplay folds one move result into the command-level replay summary,
// keeping the earliest insertion date.
func mergeReplay(replayed *bool, from **time.Time, moved *StockMoveResult) {
	if !moved.Replayed {
		return
	}
	*replayed = true
	if *from == nil || moved.ReplayFrom.Before(**from) {
		d := *moved.ReplayFrom
		*from = &d
	}
}

// defaultDate substitutes today for a zero date.
func defaultDate(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
