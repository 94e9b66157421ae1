package core

import (
	"time"

	"github.com/shopspring/decimal"
)

type AccountType string

const (
	AccountAsset     AccountType = "ASSET"
	AccountLiability AccountType = "LIABILITY"
	AccountEquity    AccountType = "EQUITY"
	AccountIncome    AccountType = "INCOME"
	AccountExpense   AccountType = "EXPENSE"
)

type NormalBalance string

const (
	NormalDebit  NormalBalance = "DEBIT"
	NormalCredit NormalBalance = "CREDIT"
)

// Report groups tag accounts for balance-sheet and cashflow presentation.
const (
	GroupCash                  = "CASH_AND_CASH_EQUIVALENTS"
	GroupAccountsReceivable    = "ACCOUNTS_RECEIVABLE"
	GroupInventory             = "INVENTORY"
	GroupOtherCurrentAsset     = "OTHER_CURRENT_ASSET"
	GroupFixedAsset            = "FIXED_ASSET"
	GroupAccountsPayable       = "ACCOUNTS_PAYABLE"
	GroupOtherCurrentLiability = "OTHER_CURRENT_LIABILITY"
	GroupLongTermLiability     = "LONG_TERM_LIABILITY"
	GroupEquity                = "EQUITY"
	GroupCOGS                  = "COGS"
)

type CashflowActivity string

const (
	ActivityOperating CashflowActivity = "OPERATING"
	ActivityInvesting CashflowActivity = "INVESTING"
	ActivityFinancing CashflowActivity = "FINANCING"
)

// Account is a chart-of-accounts node. Accounts are never deleted because
// journal lines reference them permanently; deactivate instead.
type Account struct {
	ID               int               `json:"id"`
	CompanyID        int               `json:"company_id"`
	Code             string            `json:"code"`
	Name             string            `json:"name"`
	Type             AccountType       `json:"type"`
	NormalBalance    NormalBalance     `json:"normal_balance"`
	ReportGroup      *string           `json:"report_group,omitempty"`
	CashflowActivity *CashflowActivity `json:"cashflow_activity,omitempty"`
	IsActive         bool              `json:"is_active"`
}

// Company carries the tenant row plus the resolved default IDs written back
// by the inventory defaults bootstrap.
type Company struct {
	ID                            int    `json:"id"`
	Name                          string `json:"name"`
	DefaultLocationID             *int   `json:"default_location_id,omitempty"`
	InventoryAccountID            *int   `json:"inventory_account_id,omitempty"`
	COGSAccountID                 *int   `json:"cogs_account_id,omitempty"`
	OpeningBalanceEquityAccountID *int   `json:"opening_balance_equity_account_id,omitempty"`
}

// JournalEntry is one atomic, balanced posting. Entries are immutable: lines
// are never updated or deleted, corrections are additional entries. Void
// metadata may be set later but leaves the lines untouched.
type JournalEntry struct {
	ID                       int           `json:"id"`
	CompanyID                int           `json:"company_id"`
	EntryNumber              string        `json:"entry_number"`
	Date                     time.Time     `json:"date"`
	Description              string        `json:"description"`
	LocationID               *int          `json:"location_id,omitempty"`
	CreatedByUserID          *int          `json:"created_by_user_id,omitempty"`
	ReversalOfJournalEntryID *int          `json:"reversal_of_journal_entry_id,omitempty"`
	ReversalReason           *string       `json:"reversal_reason,omitempty"`
	VoidedAt                 *time.Time    `json:"voided_at,omitempty"`
	VoidReason               *string       `json:"void_reason,omitempty"`
	VoidedByUserID           *int          `json:"voided_by_user_id,omitempty"`
	CreatedAt                time.Time     `json:"created_at"`
	Lines                    []JournalLine `json:"lines"`
}

// TotalDebit sums the debit side of all lines at two decimal places.
func (e *JournalEntry) TotalDebit() decimal.Decimal {
	total := decimal.Zero
	for _, l := range e.Lines {
		total = total.Add(l.Debit)
	}
	return Round2(total)
}

// TotalCredit sums the credit side of all lines at two decimal places.
func (e *JournalEntry) TotalCredit() decimal.Decimal {
	total := decimal.Zero
	for _, l := range e.Lines {
		total = total.Add(l.Credit)
	}
	return Round2(total)
}

type JournalLine struct {
	ID             int             `json:"id"`
	CompanyID      int             `json:"company_id"`
	JournalEntryID int             `json:"journal_entry_id"`
	AccountID      int             `json:"account_id"`
	Debit          decimal.Decimal `json:"debit"`
	Credit         decimal.Decimal `json:"credit"`
}

// PeriodClose records a closed accounting range and the closing entry that
// zeroed income and expense into retained earnings. Ranges never overlap;
// the tenant's closed-through date is the maximum ToDate.
type PeriodClose struct {
	ID              int       `json:"id"`
	CompanyID       int       `json:"company_id"`
	FromDate        time.Time `json:"from_date"`
	ToDate          time.Time `json:"to_date"`
	JournalEntryID  int       `json:"journal_entry_id"`
	CreatedByUserID *int      `json:"created_by_user_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// AuditEntry is one structured action record, written in the same
// transaction as the business change it describes.
type AuditEntry struct {
	ID             int            `json:"id"`
	CompanyID      int            `json:"company_id"`
	UserID         *int           `json:"user_id,omitempty"`
	Action         string         `json:"action"`
	EntityType     string         `json:"entity_type"`
	EntityID       *string        `json:"entity_id,omitempty"`
	IdempotencyKey *string        `json:"idempotency_key,omitempty"`
	CorrelationID  *string        `json:"correlation_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Account codes and names created on demand. Retained Earnings is the offset
// for period closes; the inventory trio backs the stock subsystem.
const (
	CodeRetainedEarnings      = "3100"
	CodeInventory             = "1300"
	CodeCOGS                  = "5001"
	CodeOpeningBalanceEquity  = "3050"
	CodeCurrentPeriodEarnings = "9999"

	NameRetainedEarnings      = "Retained Earnings"
	NameInventory             = "Inventory"
	NameCOGS                  = "Cost of Goods Sold"
	NameOpeningBalanceEquity  = "Opening Balance Equity"
	NameCurrentPeriodEarnings = "Current Period Earnings"
)
