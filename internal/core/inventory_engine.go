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

// InventoryEngine maintains weighted-average stock balances. Every quantity
// change flows through ApplyStockMoveTx: the StockBalance row lock is the
// serializer for a (company, location, item) triple, and the immutable
// StockMove history replayed in (date, id) order always reproduces the
// stored snapshot.
type InventoryEngine interface {
	// ApplyStockMoveTx applies one IN or OUT move inside the caller's
	// transaction. Backdated moves are rejected unless AllowBackdated, in
	// which case the full timeline is replayed around the inserted move.
	ApplyStockMoveTx(ctx context.Context, tx pgx.Tx, input StockMoveInput) (*StockMoveResult, error)
	// EnsureCompanyDefaultsTx finds or creates the default location and the
	// inventory account trio, storing the resolved IDs on the company row.
	EnsureCompanyDefaultsTx(ctx context.Context, tx pgx.Tx, companyID int) (*CompanyDefaults, error)
	// RequireTrackedItemTx fails unless the item is GOODS with inventory
	// tracking enabled.
	RequireTrackedItemTx(ctx context.Context, tx pgx.Tx, companyID, itemID int) (*Item, error)
	// StockLevels returns current balances with item and location names.
	StockLevels(ctx context.Context, companyID int, locationID *int) ([]StockLevel, error)
}

// StockMoveInput describes one stock change. Quantity is always positive;
// Direction carries the sign. UnitCost prices IN moves; OUT moves are priced
// at the running average unless TotalCostOverride is set.
type StockMoveInput struct {
	CompanyID         int
	LocationID        int
	ItemID            int
	Date              time.Time
	Type              StockMoveType
	Direction         MoveDirection
	Quantity          decimal.Decimal
	UnitCost          decimal.Decimal
	TotalCostOverride *decimal.Decimal
	AllowBackdated    bool
	ReferenceType     *string
	ReferenceID       *string
	CorrelationID     *string
	JournalEntryID    *int
}

// StockMoveResult reports the applied move and the balance after it.
// Replayed is set when the move was backdated and the timeline was walked;
// ReplayFrom then carries the insertion date for downstream recomputation.
type StockMoveResult struct {
	Move       *StockMove
	Balance    *StockBalance
	Replayed   bool
	ReplayFrom *time.Time
}

type inventoryEngine struct {
	pool *pgxpool.Pool
}

func NewInventoryEngine(pool *pgxpool.Pool) InventoryEngine {
	return &inventoryEngine{pool: pool}
}

func (in *StockMoveInput) validate() error {
	if in.CompanyID <= 0 {
		return NewError(KindValidation, "company id is required")
	}
	if in.LocationID <= 0 {
		return NewError(KindValidation, "location id is required")
	}
	if in.ItemID <= 0 {
		return NewError(KindValidation, "item id is required")
	}
	if in.Date.IsZero() {
		return NewError(KindValidation, "move date is required")
	}
	if in.Type == "" {
		return NewError(KindValidation, "move type is required")
	}
	if in.Direction != DirectionIn && in.Direction != DirectionOut {
		return Errorf(KindValidation, "direction must be IN or OUT, got %q", in.Direction)
	}
	if !in.Quantity.IsPositive() {
		return Errorf(KindValidation, "quantity must be positive, got %s", in.Quantity)
	}
	if in.Direction == DirectionIn && in.UnitCost.IsNegative() {
		return Errorf(KindValidation, "unit cost cannot be negative, got %s", in.UnitCost)
	}
	if in.TotalCostOverride != nil && in.TotalCostOverride.IsNegative() {
		return Errorf(KindValidation, "total cost override cannot be negative, got %s", in.TotalCostOverride)
	}
	return nil
}

func (e *inventoryEngine) ApplyStockMoveTx(ctx context.Context, tx pgx.Tx, input StockMoveInput) (*StockMoveResult, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	input.Date = Day(input.Date)

	// Ensure the balance row exists, then lock it. The row lock serializes
	// every mover for this triple, which also keeps the timeline read below
	// stable.
	_, err := tx.Exec(ctx, `
		INSERT INTO stock_balances (company_id, location_id, item_id, qty_on_hand, avg_unit_cost, inventory_value, updated_at)
		VALUES ($1, $2, $3, 0, 0, 0, NOW())
		ON CONFLICT (company_id, location_id, item_id) DO NOTHING
	`, input.CompanyID, input.LocationID, input.ItemID)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert stock balance: %w", err)
	}

	var state wacState
	err = tx.QueryRow(ctx, `
		SELECT qty_on_hand, avg_unit_cost, inventory_value
		FROM stock_balances
		WHERE company_id = $1 AND location_id = $2 AND item_id = $3
		FOR UPDATE
	`, input.CompanyID, input.LocationID, input.ItemID).Scan(&state.Qty, &state.Avg, &state.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to lock stock balance: %w", err)
	}

	var lastDate *time.Time
	err = tx.QueryRow(ctx, `
		SELECT MAX(date) FROM stock_moves
		WHERE company_id = $1 AND location_id = $2 AND item_id = $3
	`, input.CompanyID, input.LocationID, input.ItemID).Scan(&lastDate)
	if err != nil {
		return nil, fmt.Errorf("failed to read last move date: %w", err)
	}

	if lastDate != nil && input.Date.Before(Day(*lastDate)) {
		if !input.AllowBackdated {
			return nil, Errorf(KindBackdated, "move dated %s predates the last move on %s",
				FormatDay(input.Date), FormatDay(*lastDate)).
				WithDetail("requested_date", FormatDay(input.Date)).
				WithDetail("last_move_date", FormatDay(*lastDate))
		}
		return e.applyBackdatedTx(ctx, tx, input)
	}

	next, unitApplied, totalApplied, err := applyNewMove(state, input)
	if err != nil {
		return nil, err
	}

	move, err := insertStockMoveTx(ctx, tx, input, unitApplied, totalApplied)
	if err != nil {
		return nil, err
	}
	balance, err := writeStockBalanceTx(ctx, tx, input, next)
	if err != nil {
		return nil, err
	}
	return &StockMoveResult{Move: move, Balance: balance}, nil
}

// applyBackdatedTx inserts a move before existing history. Stored values of
// later moves are never rewritten; only the final snapshot is recomputed.
func (e *inventoryEngine) applyBackdatedTx(ctx context.Context, tx pgx.Tx, input StockMoveInput) (*StockMoveResult, error) {
	timeline, err := fetchTimelineTx(ctx, tx, input.CompanyID, input.LocationID, input.ItemID)
	if err != nil {
		return nil, err
	}

	final, unitApplied, totalApplied, err := replayTimeline(timeline, input)
	if err != nil {
		return nil, err
	}

	move, err := insertStockMoveTx(ctx, tx, input, unitApplied, totalApplied)
	if err != nil {
		return nil, err
	}
	balance, err := writeStockBalanceTx(ctx, tx, input, final)
	if err != nil {
		return nil, err
	}

	replayFrom := input.Date
	return &StockMoveResult{
		Move:       move,
		Balance:    balance,
		Replayed:   true,
		ReplayFrom: &replayFrom,
	}, nil
}

// ── WAC arithmetic ────────────────────────────────────────────────────────────

// wacState is the running (qty, avg, value) snapshot while applying moves.
type wacState struct {
	Qty   decimal.Decimal
	Avg   decimal.Decimal
	Value decimal.Decimal
}

// applyNewMove prices and applies a new move against state. Returns the next
// state plus the unit and total cost the move will be stored with.
func applyNewMove(state wacState, input StockMoveInput) (wacState, decimal.Decimal, decimal.Decimal, error) {
	qty := input.Quantity

	if input.Direction == DirectionIn {
		unitCost := Round2(input.UnitCost)
		inValue := Round2(qty.Mul(unitCost))
		next := wacState{
			Qty:   state.Qty.Add(qty),
			Value: state.Value.Add(inValue),
		}
		if next.Qty.IsPositive() {
			next.Avg = Round2(next.Value.Div(next.Qty))
		} else {
			next.Avg = unitCost
		}
		return next, unitCost, inValue, nil
	}

	if state.Qty.LessThan(qty) {
		return wacState{}, decimal.Zero, decimal.Zero, Errorf(KindInsufficientStock,
			"insufficient stock for item %d at %s: have %s, need %s",
			input.ItemID, FormatDay(input.Date), state.Qty.String(), qty.String()).
			WithDetail("item_id", input.ItemID).
			WithDetail("location_id", input.LocationID).
			WithDetail("date", FormatDay(input.Date)).
			WithDetail("available", state.Qty.String()).
			WithDetail("requested", qty.String())
	}

	var outValue decimal.Decimal
	if input.TotalCostOverride != nil {
		outValue = Round2(*input.TotalCostOverride)
	} else {
		outValue = Round2(qty.Mul(state.Avg))
	}
	unitCost := state.Avg
	if qty.IsPositive() {
		unitCost = Round2(outValue.Div(qty))
	}
	next := wacState{
		Qty:   state.Qty.Sub(qty),
		Value: state.Value.Sub(outValue),
	}
	if next.Qty.IsPositive() {
		next.Avg = Round2(next.Value.Div(next.Qty))
	} else {
		next.Avg = unitCost
	}
	return next, unitCost, outValue, nil
}

// applyStoredMove folds an already-persisted move into state. IN moves keep
// their stored cost: a purchase cost what it cost. OUT moves are repriced at
// the walk's running average, because an insert earlier in the timeline
// changes the average every later issue should have consumed. The stored rows
// are never rewritten; the recalc event tells downstream consumers their
// derived costs are stale. A stored OUT that no longer fits the replayed
// quantity fails InsufficientStock naming the offending move.
func applyStoredMove(state wacState, move StockMove) (wacState, error) {
	if move.Direction == DirectionIn {
		next := wacState{
			Qty:   state.Qty.Add(move.Quantity),
			Value: state.Value.Add(move.TotalCostApplied),
		}
		if next.Qty.IsPositive() {
			next.Avg = Round2(next.Value.Div(next.Qty))
		} else {
			next.Avg = move.UnitCostApplied
		}
		return next, nil
	}

	if state.Qty.LessThan(move.Quantity) {
		return wacState{}, Errorf(KindInsufficientStock,
			"backdated insert would drive stock negative at the move on %s: have %s, need %s",
			FormatDay(move.Date), state.Qty.String(), move.Quantity.String()).
			WithDetail("conflicting_move_id", move.ID).
			WithDetail("date", FormatDay(move.Date)).
			WithDetail("available", state.Qty.String()).
			WithDetail("requested", move.Quantity.String())
	}
	outValue := Round2(move.Quantity.Mul(state.Avg))
	unitCost := state.Avg
	next := wacState{
		Qty:   state.Qty.Sub(move.Quantity),
		Value: state.Value.Sub(outValue),
	}
	if next.Qty.IsPositive() {
		next.Avg = Round2(next.Value.Div(next.Qty))
	} else {
		next.Avg = unitCost
	}
	return next, nil
}

// replayTimeline walks the stored history from zero, inserting the new move
// immediately before the first stored move dated after it. Same-date stored
// moves stay ahead of the insert, matching the (date, id) tie-break the row
// will get on insert. Returns the final snapshot plus the new move's stored
// costs.
func replayTimeline(timeline []StockMove, input StockMoveInput) (wacState, decimal.Decimal, decimal.Decimal, error) {
	var state wacState
	var unitApplied, totalApplied decimal.Decimal
	inserted := false

	insertAt := func() error {
		next, unit, total, err := applyNewMove(state, input)
		if err != nil {
			return err
		}
		state, unitApplied, totalApplied = next, unit, total
		inserted = true
		return nil
	}

	for _, move := range timeline {
		if !inserted && Day(move.Date).After(input.Date) {
			if err := insertAt(); err != nil {
				return wacState{}, decimal.Zero, decimal.Zero, err
			}
		}
		next, err := applyStoredMove(state, move)
		if err != nil {
			return wacState{}, decimal.Zero, decimal.Zero, err
		}
		state = next
	}
	if !inserted {
		if err := insertAt(); err != nil {
			return wacState{}, decimal.Zero, decimal.Zero, err
		}
	}
	return state, unitApplied, totalApplied, nil
}

// ── Persistence helpers ───────────────────────────────────────────────────────

func fetchTimelineTx(ctx context.Context, tx pgx.Tx, companyID, locationID, itemID int) ([]StockMove, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, company_id, location_id, item_id, date, type, direction,
		       quantity, unit_cost_applied, total_cost_applied, created_at
		FROM stock_moves
		WHERE company_id = $1 AND location_id = $2 AND item_id = $3
		ORDER BY date ASC, id ASC
	`, companyID, locationID, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch stock move timeline: %w", err)
	}
	defer rows.Close()

	var timeline []StockMove
	for rows.Next() {
		var m StockMove
		if err := rows.Scan(&m.ID, &m.CompanyID, &m.LocationID, &m.ItemID, &m.Date, &m.Type,
			&m.Direction, &m.Quantity, &m.UnitCostApplied, &m.TotalCostApplied, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stock move: %w", err)
		}
		timeline = append(timeline, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stock moves: %w", err)
	}
	return timeline, nil
}

func insertStockMoveTx(ctx context.Context, tx pgx.Tx, input StockMoveInput, unitApplied, totalApplied decimal.Decimal) (*StockMove, error) {
	move := &StockMove{
		CompanyID:        input.CompanyID,
		LocationID:       input.LocationID,
		ItemID:           input.ItemID,
		Date:             input.Date,
		Type:             input.Type,
		Direction:        input.Direction,
		Quantity:         input.Quantity,
		UnitCostApplied:  unitApplied,
		TotalCostApplied: totalApplied,
		ReferenceType:    input.ReferenceType,
		ReferenceID:      input.ReferenceID,
		CorrelationID:    input.CorrelationID,
		JournalEntryID:   input.JournalEntryID,
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO stock_moves (company_id, location_id, item_id, date, type, direction,
		                         quantity, unit_cost_applied, total_cost_applied,
		                         reference_type, reference_id, correlation_id, journal_entry_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
		RETURNING id, created_at
	`, move.CompanyID, move.LocationID, move.ItemID, move.Date, move.Type, move.Direction,
		move.Quantity, move.UnitCostApplied, move.TotalCostApplied,
		move.ReferenceType, move.ReferenceID, move.CorrelationID, move.JournalEntryID,
	).Scan(&move.ID, &move.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert stock move: %w", err)
	}
	return move, nil
}

func writeStockBalanceTx(ctx context.Context, tx pgx.Tx, input StockMoveInput, state wacState) (*StockBalance, error) {
	balance := &StockBalance{
		CompanyID:      input.CompanyID,
		LocationID:     input.LocationID,
		ItemID:         input.ItemID,
		QtyOnHand:      state.Qty,
		AvgUnitCost:    state.Avg,
		InventoryValue: state.Value,
	}
	err := tx.QueryRow(ctx, `
		UPDATE stock_balances
		SET qty_on_hand = $4, avg_unit_cost = $5, inventory_value = $6, updated_at = NOW()
		WHERE company_id = $1 AND location_id = $2 AND item_id = $3
		RETURNING updated_at
	`, balance.CompanyID, balance.LocationID, balance.ItemID,
		balance.QtyOnHand, balance.AvgUnitCost, balance.InventoryValue,
	).Scan(&balance.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update stock balance: %w", err)
	}
	return balance, nil
}

// ── Defaults bootstrap ────────────────────────────────────────────────────────

func (e *inventoryEngine) EnsureCompanyDefaultsTx(ctx context.Context, tx pgx.Tx, companyID int) (*CompanyDefaults, error) {
	// Lock the company row so concurrent bootstraps serialize.
	var company Company
	err := tx.QueryRow(ctx, `
		SELECT id, default_location_id, inventory_account_id, cogs_account_id, opening_balance_equity_account_id
		FROM companies
		WHERE id = $1
		FOR UPDATE
	`, companyID).Scan(&company.ID, &company.DefaultLocationID, &company.InventoryAccountID,
		&company.COGSAccountID, &company.OpeningBalanceEquityAccountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, Errorf(KindNotFound, "company %d not found", companyID)
		}
		return nil, fmt.Errorf("failed to lock company %d: %w", companyID, err)
	}

	if company.DefaultLocationID != nil && company.InventoryAccountID != nil &&
		company.COGSAccountID != nil && company.OpeningBalanceEquityAccountID != nil {
		return &CompanyDefaults{
			LocationID:                    *company.DefaultLocationID,
			InventoryAccountID:            *company.InventoryAccountID,
			COGSAccountID:                 *company.COGSAccountID,
			OpeningBalanceEquityAccountID: *company.OpeningBalanceEquityAccountID,
		}, nil
	}

	locationID, err := findOrCreateDefaultLocationTx(ctx, tx, companyID)
	if err != nil {
		return nil, err
	}
	inventoryID, err := findOrCreateAccountTx(ctx, tx, companyID, accountSpec{
		Code:          CodeInventory,
		Name:          NameInventory,
		Type:          AccountAsset,
		NormalBalance: NormalDebit,
		ReportGroup:   GroupInventory,
		Activity:      ActivityOperating,
	})
	if err != nil {
		return nil, err
	}
	cogsID, err := findOrCreateAccountTx(ctx, tx, companyID, accountSpec{
		Code:          CodeCOGS,
		Name:          NameCOGS,
		Type:          AccountExpense,
		NormalBalance: NormalDebit,
		ReportGroup:   GroupCOGS,
		Activity:      ActivityOperating,
	})
	if err != nil {
		return nil, err
	}
	obeID, err := findOrCreateAccountTx(ctx, tx, companyID, accountSpec{
		Code:          CodeOpeningBalanceEquity,
		Name:          NameOpeningBalanceEquity,
		Type:          AccountEquity,
		NormalBalance: NormalCredit,
		ReportGroup:   GroupEquity,
		Activity:      ActivityFinancing,
	})
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE companies
		SET default_location_id = $2, inventory_account_id = $3,
		    cogs_account_id = $4, opening_balance_equity_account_id = $5
		WHERE id = $1
	`, companyID, locationID, inventoryID, cogsID, obeID)
	if err != nil {
		return nil, fmt.Errorf("failed to store company defaults: %w", err)
	}

	return &CompanyDefaults{
		LocationID:                    locationID,
		InventoryAccountID:            inventoryID,
		COGSAccountID:                 cogsID,
		OpeningBalanceEquityAccountID: obeID,
	}, nil
}

func findOrCreateDefaultLocationTx(ctx context.Context, tx pgx.Tx, companyID int) (int, error) {
	var id int
	err := tx.QueryRow(ctx, `
		SELECT id FROM locations
		WHERE company_id = $1 AND is_default = TRUE
		ORDER BY id
		LIMIT 1
	`, companyID).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("failed to look up default location: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO locations (company_id, name, is_default)
		VALUES ($1, $2, TRUE)
		RETURNING id
	`, companyID, "Main Location").Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create default location: %w", err)
	}
	return id, nil
}

func (e *inventoryEngine) RequireTrackedItemTx(ctx context.Context, tx pgx.Tx, companyID, itemID int) (*Item, error) {
	var item Item
	err := tx.QueryRow(ctx, `
		SELECT id, company_id, name, sku, type, track_inventory, selling_price
		FROM items
		WHERE id = $1 AND company_id = $2
	`, itemID, companyID).Scan(&item.ID, &item.CompanyID, &item.Name, &item.SKU,
		&item.Type, &item.TrackInventory, &item.SellingPrice)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, Errorf(KindNotFound, "item %d not found", itemID)
		}
		return nil, fmt.Errorf("failed to fetch item %d: %w", itemID, err)
	}
	if item.Type != ItemGoods || !item.TrackInventory {
		return nil, Errorf(KindValidation, "item %q is not a tracked goods item", item.Name).
			WithDetail("item_id", item.ID)
	}
	return &item, nil
}

// StockLevel is a stock-levels row with display names joined in.
type StockLevel struct {
	ItemID         int             `json:"item_id"`
	ItemName       string          `json:"item_name"`
	SKU            *string         `json:"sku,omitempty"`
	LocationID     int             `json:"location_id"`
	LocationName   string          `json:"location_name"`
	QtyOnHand      decimal.Decimal `json:"qty_on_hand"`
	AvgUnitCost    decimal.Decimal `json:"avg_unit_cost"`
	InventoryValue decimal.Decimal `json:"inventory_value"`
}

func (e *inventoryEngine) StockLevels(ctx context.Context, companyID int, locationID *int) ([]StockLevel, error) {
	q := `
		SELECT sb.item_id, i.name, i.sku, sb.location_id, l.name,
		       sb.qty_on_hand, sb.avg_unit_cost, sb.inventory_value
		FROM stock_balances sb
		JOIN items i     ON i.id = sb.item_id
		JOIN locations l ON l.id = sb.location_id
		WHERE sb.company_id = $1`
	args := []any{companyID}
	if locationID != nil {
		args = append(args, *locationID)
		q += fmt.Sprintf(" AND sb.location_id = $%d", len(args))
	}
	q += " ORDER BY i.name, l.name"

	rows, err := e.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock levels: %w", err)
	}
	defer rows.Close()

	var levels []StockLevel
	for rows.Next() {
		var sl StockLevel
		if err := rows.Scan(&sl.ItemID, &sl.ItemName, &sl.SKU, &sl.LocationID, &sl.LocationName,
			&sl.QtyOnHand, &sl.AvgUnitCost, &sl.InventoryValue); err != nil {
			return nil, fmt.Errorf("failed to scan stock level: %w", err)
		}
		levels = append(levels, sl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stock levels: %w", err)
	}
	return levels, nil
}
