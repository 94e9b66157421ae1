package core

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t.UTC()
}

func newIn(date, qty, unitCost string) StockMoveInput {
	return StockMoveInput{
		CompanyID:  1,
		LocationID: 1,
		ItemID:     1,
		Date:       day(date),
		Type:       MoveAdjustment,
		Direction:  DirectionIn,
		Quantity:   dec(qty),
		UnitCost:   dec(unitCost),
	}
}

func newOut(date, qty string) StockMoveInput {
	return StockMoveInput{
		CompanyID:  1,
		LocationID: 1,
		ItemID:     1,
		Date:       day(date),
		Type:       MoveAdjustment,
		Direction:  DirectionOut,
		Quantity:   dec(qty),
	}
}

func storedIn(id int, date, qty, unitCost, totalCost string) StockMove {
	return StockMove{
		ID: id, CompanyID: 1, LocationID: 1, ItemID: 1,
		Date:             day(date),
		Type:             MoveAdjustment,
		Direction:        DirectionIn,
		Quantity:         dec(qty),
		UnitCostApplied:  dec(unitCost),
		TotalCostApplied: dec(totalCost),
	}
}

func storedOut(id int, date, qty, unitCost, totalCost string) StockMove {
	m := storedIn(id, date, qty, unitCost, totalCost)
	m.Direction = DirectionOut
	return m
}

func assertState(t *testing.T, state wacState, qty, avg, value string) {
	t.Helper()
	assert.Equal(t, qty, state.Qty.StringFixed(2), "qty on hand")
	assert.Equal(t, avg, state.Avg.StringFixed(2), "average unit cost")
	assert.Equal(t, value, state.Value.StringFixed(2), "inventory value")
}

func TestApplyNewMove_InReaveragesCost(t *testing.T) {
	// Receive 10 @ 5.00 into empty stock.
	state, unit, total, err := applyNewMove(wacState{}, newIn("2025-01-10", "10", "5"))
	require.NoError(t, err)
	assert.Equal(t, "5.00", unit.StringFixed(2))
	assert.Equal(t, "50.00", total.StringFixed(2))
	assertState(t, state, "10.00", "5.00", "50.00")

	// Receive 10 @ 7.00 on top: average moves to 6.00.
	state, unit, total, err = applyNewMove(state, newIn("2025-01-15", "10", "7"))
	require.NoError(t, err)
	assert.Equal(t, "7.00", unit.StringFixed(2))
	assert.Equal(t, "70.00", total.StringFixed(2))
	assertState(t, state, "20.00", "6.00", "120.00")
}

func TestApplyNewMove_OutPricesAtRunningAverage(t *testing.T) {
	state := wacState{Qty: dec("20"), Avg: dec("6"), Value: dec("120")}

	state, unit, total, err := applyNewMove(state, newOut("2025-01-20", "15"))
	require.NoError(t, err)
	assert.Equal(t, "6.00", unit.StringFixed(2))
	assert.Equal(t, "90.00", total.StringFixed(2))
	assertState(t, state, "5.00", "6.00", "30.00")
}

func TestApplyNewMove_OutHonorsTotalCostOverride(t *testing.T) {
	state := wacState{Qty: dec("10"), Avg: dec("5"), Value: dec("50")}

	override := dec("18")
	input := newOut("2025-01-20", "4")
	input.TotalCostOverride = &override

	state, unit, total, err := applyNewMove(state, input)
	require.NoError(t, err)
	assert.Equal(t, "4.50", unit.StringFixed(2))
	assert.Equal(t, "18.00", total.StringFixed(2))
	assertState(t, state, "6.00", "5.33", "32.00")
}

func TestApplyNewMove_OutToZeroKeepsUnitCost(t *testing.T) {
	state := wacState{Qty: dec("10"), Avg: dec("5"), Value: dec("50")}

	state, _, total, err := applyNewMove(state, newOut("2025-01-20", "10"))
	require.NoError(t, err)
	assert.Equal(t, "50.00", total.StringFixed(2))
	// Quantity and value drain to zero; the average survives for the next
	// valuation rather than collapsing to zero.
	assertState(t, state, "0.00", "5.00", "0.00")
}

func TestApplyNewMove_OutExactQuantityAllowed(t *testing.T) {
	state := wacState{Qty: dec("3"), Avg: dec("10"), Value: dec("30")}

	_, _, _, err := applyNewMove(state, newOut("2025-01-20", "3"))
	assert.NoError(t, err)
}

func TestApplyNewMove_InsufficientStock(t *testing.T) {
	state := wacState{Qty: dec("5"), Avg: dec("6"), Value: dec("30")}

	_, _, _, err := applyNewMove(state, newOut("2025-01-20", "6"))
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInsufficientStock), "expected INSUFFICIENT_STOCK, got %v", KindOf(err))

	details := DetailsOf(err)
	require.NotNil(t, details)
	assert.Equal(t, "5", details["available"])
	assert.Equal(t, "6", details["requested"])
	assert.Equal(t, "2025-01-20", details["date"])
}

// The backdated-receipt scenario: stock was opened 5 @ 10.00 on Mar 1 and 3
// units were issued on Mar 10 at that average. Inserting a 4 @ 8.00 receipt
// dated Feb 15 reprices the whole walk: the average at the Mar 10 issue
// becomes 9.11, so the final snapshot ends at 6 units worth 54.67 even though
// the stored issue row still says 30.00.
func TestReplayTimeline_BackdatedReceiptReaverages(t *testing.T) {
	timeline := []StockMove{
		storedIn(1, "2025-03-01", "5", "10", "50"),
		storedOut(2, "2025-03-10", "3", "10", "30"),
	}

	input := newIn("2025-02-15", "4", "8")
	input.Type = MoveOpening
	input.AllowBackdated = true

	final, unit, total, err := replayTimeline(timeline, input)
	require.NoError(t, err)

	// The inserted move is priced at its own cost, not the later average.
	assert.Equal(t, "8.00", unit.StringFixed(2))
	assert.Equal(t, "32.00", total.StringFixed(2))
	assertState(t, final, "6.00", "9.11", "54.67")
}

func TestReplayTimeline_StoredInsKeepTheirCost(t *testing.T) {
	// A stored receipt contributes its stored total during the walk even when
	// the running average differs: what a purchase cost does not change.
	timeline := []StockMove{
		storedIn(1, "2025-03-01", "10", "12", "120"),
	}

	input := newIn("2025-02-01", "10", "4")
	input.AllowBackdated = true

	final, _, _, err := replayTimeline(timeline, input)
	require.NoError(t, err)
	assertState(t, final, "20.00", "8.00", "160.00")
}

func TestReplayTimeline_SameDateStoredMovesStayAhead(t *testing.T) {
	// The insert lands after stored moves sharing its date, matching the
	// (date, id) order the new row gets in the table.
	timeline := []StockMove{
		storedIn(1, "2025-03-01", "10", "5", "50"),
		storedOut(2, "2025-03-05", "8", "5", "40"),
	}

	input := newIn("2025-03-05", "10", "9")
	input.AllowBackdated = true

	final, _, _, err := replayTimeline(timeline, input)
	require.NoError(t, err)
	// Stored OUT consumes 8 of the 10 on hand first, then the receipt lands:
	// 2 @ 5.00 plus 10 @ 9.00 averages to 8.33.
	assertState(t, final, "12.00", "8.33", "100.00")
}

func TestReplayTimeline_AppendsWhenDatedAfterHistory(t *testing.T) {
	timeline := []StockMove{
		storedIn(1, "2025-03-01", "5", "10", "50"),
	}

	final, unit, total, err := replayTimeline(timeline, newOut("2025-04-01", "2"))
	require.NoError(t, err)
	assert.Equal(t, "10.00", unit.StringFixed(2))
	assert.Equal(t, "20.00", total.StringFixed(2))
	assertState(t, final, "3.00", "10.00", "30.00")
}

func TestReplayTimeline_RejectsInsertThatStarvesLaterIssue(t *testing.T) {
	timeline := []StockMove{
		storedIn(1, "2025-03-01", "5", "10", "50"),
		storedOut(7, "2025-03-10", "5", "10", "50"),
	}

	// Slipping an issue of 2 between them leaves only 3 for the stored issue
	// of 5 on Mar 10. The replay has to fail naming that move.
	input := newOut("2025-03-05", "2")
	input.AllowBackdated = true

	_, _, _, err := replayTimeline(timeline, input)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInsufficientStock), "expected INSUFFICIENT_STOCK, got %v", KindOf(err))
	assert.Contains(t, err.Error(), "2025-03-10")

	details := DetailsOf(err)
	require.NotNil(t, details)
	assert.Equal(t, 7, details["conflicting_move_id"])
	assert.Equal(t, "3", details["available"])
	assert.Equal(t, "5", details["requested"])
}

func TestStockMoveInputValidate(t *testing.T) {
	negative := dec("-1")

	tests := []struct {
		name    string
		mutate  func(*StockMoveInput)
		wantErr string
	}{
		{"valid in", func(in *StockMoveInput) {}, ""},
		{"missing company", func(in *StockMoveInput) { in.CompanyID = 0 }, "company id is required"},
		{"missing location", func(in *StockMoveInput) { in.LocationID = 0 }, "location id is required"},
		{"missing item", func(in *StockMoveInput) { in.ItemID = 0 }, "item id is required"},
		{"missing date", func(in *StockMoveInput) { in.Date = time.Time{} }, "move date is required"},
		{"missing type", func(in *StockMoveInput) { in.Type = "" }, "move type is required"},
		{"bad direction", func(in *StockMoveInput) { in.Direction = "SIDEWAYS" }, `direction must be IN or OUT, got "SIDEWAYS"`},
		{"zero quantity", func(in *StockMoveInput) { in.Quantity = decimal.Zero }, "quantity must be positive, got 0"},
		{"negative quantity", func(in *StockMoveInput) { in.Quantity = dec("-2") }, "quantity must be positive, got -2"},
		{"negative unit cost", func(in *StockMoveInput) { in.UnitCost = dec("-3") }, "unit cost cannot be negative, got -3"},
		{"negative override", func(in *StockMoveInput) { in.TotalCostOverride = &negative }, "total cost override cannot be negative, got -1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := newIn("2025-01-01", "1", "1")
			tt.mutate(&input)

			err := input.validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, IsKind(err, KindValidation))
			assert.Equal(t, tt.wantErr, err.Error())
		})
	}
}
