package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"accounting-engine/internal/core"
)

// Request DTOs. Amounts and dates travel as strings and are parsed here;
// validator tags cover shape, core owns the business rules.

// JournalLineRequest is one line of a posting. Exactly one of debit/credit
// must be a positive amount.
type JournalLineRequest struct {
	AccountID int    `json:"account_id" validate:"required,gt=0"`
	Debit     string `json:"debit"`
	Credit    string `json:"credit"`
}

type CreateJournalEntryRequest struct {
	Date        string               `json:"date" validate:"required"`
	Description string               `json:"description" validate:"required,max=500"`
	LocationID  *int                 `json:"location_id"`
	Lines       []JournalLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type ReverseJournalEntryRequest struct {
	Reason *string `json:"reason"`
	// Date is the posting date of the reversal. Defaults to the original
	// entry's date.
	Date *string `json:"date"`
}

type VoidJournalEntryRequest struct {
	Reason string  `json:"reason" validate:"required"`
	Date   *string `json:"date"`
}

type AdjustJournalEntryRequest struct {
	Reason      string               `json:"reason" validate:"required"`
	Description string               `json:"description"`
	Date        *string              `json:"date"`
	Lines       []JournalLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type OpeningBalanceLineRequest struct {
	ItemID   int    `json:"item_id" validate:"required,gt=0"`
	Quantity string `json:"quantity" validate:"required"`
	UnitCost string `json:"unit_cost" validate:"required"`
}

type OpeningBalanceRequest struct {
	Date       string                      `json:"date"`
	LocationID *int                        `json:"location_id"`
	Lines      []OpeningBalanceLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type InventoryAdjustmentLineRequest struct {
	ItemID        int     `json:"item_id" validate:"required,gt=0"`
	QuantityDelta string  `json:"quantity_delta" validate:"required"`
	UnitCost      *string `json:"unit_cost"`
}

type InventoryAdjustmentRequest struct {
	Date            string                           `json:"date"`
	LocationID      *int                             `json:"location_id"`
	OffsetAccountID *int                             `json:"offset_account_id"`
	Reason          string                           `json:"reason"`
	ReferenceNumber *string                          `json:"reference_number"`
	Lines           []InventoryAdjustmentLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type ClosePeriodRequest struct {
	From string `json:"from" validate:"required"`
	To   string `json:"to" validate:"required"`
}

// ── Conversions ───────────────────────────────────────────────────────────────

func (r CreateJournalEntryRequest) toInput(meta Meta) (core.CreateEntryInput, error) {
	date, err := core.ParseDay(r.Date)
	if err != nil {
		return core.CreateEntryInput{}, err
	}
	lines, err := parseLines(r.Lines)
	if err != nil {
		return core.CreateEntryInput{}, err
	}
	return core.CreateEntryInput{
		CompanyID:       meta.CompanyID,
		Date:            date,
		Description:     r.Description,
		LocationID:      r.LocationID,
		CreatedByUserID: meta.UserID,
		Lines:           lines,
	}, nil
}

func (r ReverseJournalEntryRequest) toInput(meta Meta, entryID int) (core.ReverseEntryInput, error) {
	date, err := parseOptionalDay(r.Date)
	if err != nil {
		return core.ReverseEntryInput{}, err
	}
	return core.ReverseEntryInput{
		CompanyID:       meta.CompanyID,
		EntryID:         entryID,
		Reason:          r.Reason,
		Date:            date,
		CreatedByUserID: meta.UserID,
	}, nil
}

func (r VoidJournalEntryRequest) toInput(meta Meta, entryID int) (core.VoidEntryInput, error) {
	date, err := parseOptionalDay(r.Date)
	if err != nil {
		return core.VoidEntryInput{}, err
	}
	return core.VoidEntryInput{
		CompanyID:       meta.CompanyID,
		EntryID:         entryID,
		Reason:          r.Reason,
		Date:            date,
		CreatedByUserID: meta.UserID,
	}, nil
}

func (r AdjustJournalEntryRequest) toInput(meta Meta, entryID int) (core.AdjustEntryInput, error) {
	date, err := parseOptionalDay(r.Date)
	if err != nil {
		return core.AdjustEntryInput{}, err
	}
	lines, err := parseLines(r.Lines)
	if err != nil {
		return core.AdjustEntryInput{}, err
	}
	return core.AdjustEntryInput{
		CompanyID:       meta.CompanyID,
		EntryID:         entryID,
		Reason:          r.Reason,
		Description:     r.Description,
		Date:            date,
		CreatedByUserID: meta.UserID,
		Lines:           lines,
	}, nil
}

func (r OpeningBalanceRequest) toInput(meta Meta) (core.OpeningBalanceInput, error) {
	input := core.OpeningBalanceInput{
		CompanyID:       meta.CompanyID,
		LocationID:      r.LocationID,
		CreatedByUserID: meta.UserID,
		CorrelationID:   meta.CorrelationID,
	}
	if r.Date != "" {
		date, err := core.ParseDay(r.Date)
		if err != nil {
			return core.OpeningBalanceInput{}, err
		}
		input.Date = date
	}
	for i, line := range r.Lines {
		qty, err := parseQuantity(line.Quantity, fmt.Sprintf("lines[%d].quantity", i))
		if err != nil {
			return core.OpeningBalanceInput{}, err
		}
		unitCost, err := core.ParseAmount(line.UnitCost)
		if err != nil {
			return core.OpeningBalanceInput{}, err
		}
		input.Lines = append(input.Lines, core.OpeningBalanceLine{
			ItemID:   line.ItemID,
			Quantity: qty,
			UnitCost: unitCost,
		})
	}
	return input, nil
}

func (r InventoryAdjustmentRequest) toInput(meta Meta) (core.AdjustmentInput, error) {
	input := core.AdjustmentInput{
		CompanyID:       meta.CompanyID,
		LocationID:      r.LocationID,
		OffsetAccountID: r.OffsetAccountID,
		Reason:          strings.TrimSpace(r.Reason),
		ReferenceNumber: r.ReferenceNumber,
		CreatedByUserID: meta.UserID,
		CorrelationID:   meta.CorrelationID,
	}
	if r.Date != "" {
		date, err := core.ParseDay(r.Date)
		if err != nil {
			return core.AdjustmentInput{}, err
		}
		input.Date = date
	}
	for i, line := range r.Lines {
		delta, err := parseQuantity(line.QuantityDelta, fmt.Sprintf("lines[%d].quantity_delta", i))
		if err != nil {
			return core.AdjustmentInput{}, err
		}
		adjLine := core.AdjustmentLine{ItemID: line.ItemID, QuantityDelta: delta}
		if line.UnitCost != nil {
			unitCost, err := core.ParseAmount(*line.UnitCost)
			if err != nil {
				return core.AdjustmentInput{}, err
			}
			adjLine.UnitCost = &unitCost
		}
		input.Lines = append(input.Lines, adjLine)
	}
	return input, nil
}

func (r ClosePeriodRequest) toInput(meta Meta) (core.ClosePeriodInput, error) {
	from, err := core.ParseDay(r.From)
	if err != nil {
		return core.ClosePeriodInput{}, err
	}
	to, err := core.ParseDay(r.To)
	if err != nil {
		return core.ClosePeriodInput{}, err
	}
	return core.ClosePeriodInput{
		CompanyID:       meta.CompanyID,
		From:            from,
		To:              to,
		CreatedByUserID: meta.UserID,
	}, nil
}

func parseLines(reqs []JournalLineRequest) ([]core.PostLineInput, error) {
	lines := make([]core.PostLineInput, len(reqs))
	for i, r := range reqs {
		debit, err := parseAmountField(r.Debit)
		if err != nil {
			return nil, core.Errorf(core.KindValidation, "lines[%d].debit: invalid amount %q", i, r.Debit)
		}
		credit, err := parseAmountField(r.Credit)
		if err != nil {
			return nil, core.Errorf(core.KindValidation, "lines[%d].credit: invalid amount %q", i, r.Credit)
		}
		lines[i] = core.PostLineInput{AccountID: r.AccountID, Debit: debit, Credit: credit}
	}
	return lines, nil
}

// parseAmountField treats an omitted amount as zero.
func parseAmountField(raw string) (decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return decimal.Zero, nil
	}
	return core.ParseAmount(raw)
}

// parseQuantity admits more fractional digits than money does.
func parseQuantity(raw, field string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, core.Errorf(core.KindValidation, "%s: invalid quantity %q", field, raw)
	}
	return d, nil
}

func parseOptionalDay(raw *string) (*time.Time, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	day, err := core.ParseDay(*raw)
	if err != nil {
		return nil, err
	}
	return &day, nil
}
