package app

import (
	"github.com/shopspring/decimal"

	"accounting-engine/internal/core"
)

// Command results. These are the values captured by the idempotency store,
// so their JSON shape is what a replayed request sees.

// EventRef identifies one staged outbox event.
type EventRef struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
}

type CreateEntryResult struct {
	Entry         *core.JournalEntry `json:"entry"`
	CorrelationID string             `json:"correlation_id"`
	Events        []EventRef         `json:"events"`
}

type ReverseEntryResult struct {
	OriginalJournalEntryID int                `json:"original_journal_entry_id"`
	ReversalJournalEntryID int                `json:"reversal_journal_entry_id"`
	Reversal               *core.JournalEntry `json:"reversal"`
	CorrelationID          string             `json:"correlation_id"`
	Events                 []EventRef         `json:"events"`
}

type VoidEntryResult struct {
	OriginalJournalEntryID int                `json:"original_journal_entry_id"`
	ReversalJournalEntryID int                `json:"reversal_journal_entry_id"`
	Original               *core.JournalEntry `json:"original"`
	Reversal               *core.JournalEntry `json:"reversal"`
	CorrelationID          string             `json:"correlation_id"`
	Events                 []EventRef         `json:"events"`
}

type AdjustEntryResult struct {
	OriginalJournalEntryID  int                `json:"original_journal_entry_id"`
	ReversalJournalEntryID  int                `json:"reversal_journal_entry_id"`
	CorrectedJournalEntryID int                `json:"corrected_journal_entry_id"`
	Corrected               *core.JournalEntry `json:"corrected"`
	CorrelationID           string             `json:"correlation_id"`
	Events                  []EventRef         `json:"events"`
}

type InventoryOpeningResult struct {
	Entry         *core.JournalEntry `json:"entry"`
	Moves         []core.StockMove   `json:"moves"`
	TotalValue    decimal.Decimal    `json:"total_value"`
	Replayed      bool               `json:"replayed"`
	ReplayFrom    *string            `json:"replay_from,omitempty"`
	CorrelationID string             `json:"correlation_id"`
	Events        []EventRef         `json:"events"`
}

type InventoryAdjustmentResult struct {
	Entry         *core.JournalEntry `json:"entry"`
	Moves         []core.StockMove   `json:"moves"`
	TotalIn       decimal.Decimal    `json:"total_in"`
	TotalOut      decimal.Decimal    `json:"total_out"`
	Net           decimal.Decimal    `json:"net"`
	Replayed      bool               `json:"replayed"`
	ReplayFrom    *string            `json:"replay_from,omitempty"`
	CorrelationID string             `json:"correlation_id"`
	Events        []EventRef         `json:"events"`
}

type PeriodCloseResult struct {
	PeriodCloseID  int             `json:"period_close_id"`
	JournalEntryID int             `json:"journal_entry_id"`
	EntryNumber    string          `json:"entry_number,omitempty"`
	AlreadyClosed  bool            `json:"already_closed"`
	NetProfit      decimal.Decimal `json:"net_profit"`
	CorrelationID  string          `json:"correlation_id"`
	Events         []EventRef      `json:"events"`
}
