package core

import (
	"time"

	"github.com/shopspring/decimal"
)

type ItemType string

const (
	ItemGoods   ItemType = "GOODS"
	ItemService ItemType = "SERVICE"
)

// Item is a sellable or stockable product. Only GOODS with TrackInventory
// participate in the costing engine.
type Item struct {
	ID             int              `json:"id"`
	CompanyID      int              `json:"company_id"`
	Name           string           `json:"name"`
	SKU            *string          `json:"sku,omitempty"`
	Type           ItemType         `json:"type"`
	TrackInventory bool             `json:"track_inventory"`
	SellingPrice   *decimal.Decimal `json:"selling_price,omitempty"`
}

type Location struct {
	ID        int    `json:"id"`
	CompanyID int    `json:"company_id"`
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
}

// StockBalance is the current snapshot per (company, location, item).
// Invariant after every committed move: QtyOnHand >= 0 and
// InventoryValue == QtyOnHand x AvgUnitCost at two decimals, within one
// minor unit per cumulative move.
type StockBalance struct {
	CompanyID      int             `json:"company_id"`
	LocationID     int             `json:"location_id"`
	ItemID         int             `json:"item_id"`
	QtyOnHand      decimal.Decimal `json:"qty_on_hand"`
	AvgUnitCost    decimal.Decimal `json:"avg_unit_cost"`
	InventoryValue decimal.Decimal `json:"inventory_value"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type StockMoveType string

const (
	MoveOpening         StockMoveType = "OPENING"
	MoveAdjustment      StockMoveType = "ADJUSTMENT"
	MoveSaleIssue       StockMoveType = "SALE_ISSUE"
	MoveSaleReturn      StockMoveType = "SALE_RETURN"
	MovePurchaseReceipt StockMoveType = "PURCHASE_RECEIPT"
	MovePurchaseReturn  StockMoveType = "PURCHASE_RETURN"
	MoveTransferOut     StockMoveType = "TRANSFER_OUT"
	MoveTransferIn      StockMoveType = "TRANSFER_IN"
)

type MoveDirection string

const (
	DirectionIn  MoveDirection = "IN"
	DirectionOut MoveDirection = "OUT"
)

// StockMove is the immutable audit row for one stock change. The full move
// history replayed in (date, id) order reproduces the StockBalance snapshot.
type StockMove struct {
	ID               int             `json:"id"`
	CompanyID        int             `json:"company_id"`
	LocationID       int             `json:"location_id"`
	ItemID           int             `json:"item_id"`
	Date             time.Time       `json:"date"`
	Type             StockMoveType   `json:"type"`
	Direction        MoveDirection   `json:"direction"`
	Quantity         decimal.Decimal `json:"quantity"`
	UnitCostApplied  decimal.Decimal `json:"unit_cost_applied"`
	TotalCostApplied decimal.Decimal `json:"total_cost_applied"`
	ReferenceType    *string         `json:"reference_type,omitempty"`
	ReferenceID      *string         `json:"reference_id,omitempty"`
	CorrelationID    *string         `json:"correlation_id,omitempty"`
	JournalEntryID   *int            `json:"journal_entry_id,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// CompanyDefaults holds the IDs resolved or created by the inventory
// defaults bootstrap.
type CompanyDefaults struct {
	LocationID                    int
	InventoryAccountID            int
	COGSAccountID                 int
	OpeningBalanceEquityAccountID int
}
