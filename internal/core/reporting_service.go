package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ── Report types ──────────────────────────────────────────────────────────────

type TrialBalanceRow struct {
	AccountID     int             `json:"account_id"`
	Code          string          `json:"code"`
	Name          string          `json:"name"`
	Type          AccountType     `json:"type"`
	NormalBalance NormalBalance   `json:"normal_balance"`
	ReportGroup   *string         `json:"report_group,omitempty"`
	Debit         decimal.Decimal `json:"debit"`
	Credit        decimal.Decimal `json:"credit"`
}

type TrialBalanceReport struct {
	From        string            `json:"from"`
	To          string            `json:"to"`
	Rows        []TrialBalanceRow `json:"rows"`
	TotalDebit  decimal.Decimal   `json:"total_debit"`
	TotalCredit decimal.Decimal   `json:"total_credit"`
	Balanced    bool              `json:"balanced"`
}

// BalanceSheetLine carries a signed balance in the account's normal-balance
// convention: positive is the normal side.
type BalanceSheetLine struct {
	AccountID   int             `json:"account_id,omitempty"`
	Code        string          `json:"code"`
	Name        string          `json:"name"`
	ReportGroup *string         `json:"report_group,omitempty"`
	Balance     decimal.Decimal `json:"balance"`
}

type BalanceSheetReport struct {
	AsOf             string             `json:"as_of"`
	Assets           []BalanceSheetLine `json:"assets"`
	Liabilities      []BalanceSheetLine `json:"liabilities"`
	Equity           []BalanceSheetLine `json:"equity"`
	TotalAssets      decimal.Decimal    `json:"total_assets"`
	TotalLiabilities decimal.Decimal    `json:"total_liabilities"`
	TotalEquity      decimal.Decimal    `json:"total_equity"`
	Balanced         bool               `json:"balanced"`
}

type AccountAmount struct {
	AccountID int             `json:"account_id"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	Amount    decimal.Decimal `json:"amount"`
}

type ProfitLossReport struct {
	From         string          `json:"from"`
	To           string          `json:"to"`
	Income       []AccountAmount `json:"income"`
	Expenses     []AccountAmount `json:"expenses"`
	TotalIncome  decimal.Decimal `json:"total_income"`
	TotalExpense decimal.Decimal `json:"total_expense"`
	NetProfit    decimal.Decimal `json:"net_profit"`
}

// CashflowLine is one labeled movement; Amount is the cash effect, inflow
// positive.
type CashflowLine struct {
	Label  string          `json:"label"`
	Amount decimal.Decimal `json:"amount"`
}

type CashflowReport struct {
	From           string          `json:"from"`
	To             string          `json:"to"`
	NetProfit      decimal.Decimal `json:"net_profit"`
	WorkingCapital []CashflowLine  `json:"working_capital"`
	OtherOperating []CashflowLine  `json:"other_operating"`
	Operating      decimal.Decimal `json:"operating"`
	InvestingLines []CashflowLine  `json:"investing_lines"`
	Investing      decimal.Decimal `json:"investing"`
	FinancingLines []CashflowLine  `json:"financing_lines"`
	Financing      decimal.Decimal `json:"financing"`
	NetChange      decimal.Decimal `json:"net_change"`
	CashBegin      decimal.Decimal `json:"cash_begin"`
	CashEnd        decimal.Decimal `json:"cash_end"`
	Reconciled     bool            `json:"reconciled"`
}

type ValuationRow struct {
	LocationID     int             `json:"location_id"`
	LocationName   string          `json:"location_name"`
	ItemID         int             `json:"item_id"`
	ItemName       string          `json:"item_name"`
	SKU            *string         `json:"sku,omitempty"`
	QtyOnHand      decimal.Decimal `json:"qty_on_hand"`
	AvgUnitCost    decimal.Decimal `json:"avg_unit_cost"`
	InventoryValue decimal.Decimal `json:"inventory_value"`
}

type InventoryValuationReport struct {
	AsOf       string          `json:"as_of"`
	Rows       []ValuationRow  `json:"rows"`
	TotalValue decimal.Decimal `json:"total_value"`
}

type MovementRow struct {
	LocationID   int             `json:"location_id"`
	LocationName string          `json:"location_name"`
	ItemID       int             `json:"item_id"`
	ItemName     string          `json:"item_name"`
	BeginQty     decimal.Decimal `json:"begin_qty"`
	BeginValue   decimal.Decimal `json:"begin_value"`
	InQty        decimal.Decimal `json:"in_qty"`
	InValue      decimal.Decimal `json:"in_value"`
	OutQty       decimal.Decimal `json:"out_qty"`
	OutValue     decimal.Decimal `json:"out_value"`
	EndQty       decimal.Decimal `json:"end_qty"`
	EndValue     decimal.Decimal `json:"end_value"`
}

type InventoryMovementReport struct {
	From string        `json:"from"`
	To   string        `json:"to"`
	Rows []MovementRow `json:"rows"`
}

type COGSRow struct {
	ItemID   int             `json:"item_id"`
	ItemName string          `json:"item_name"`
	SKU      *string         `json:"sku,omitempty"`
	Quantity decimal.Decimal `json:"quantity"`
	COGS     decimal.Decimal `json:"cogs"`
}

type COGSReport struct {
	From          string          `json:"from"`
	To            string          `json:"to"`
	Rows          []COGSRow       `json:"rows"`
	TotalQuantity decimal.Decimal `json:"total_quantity"`
	TotalCOGS     decimal.Decimal `json:"total_cogs"`
}

type AccountTransactionRow struct {
	JournalEntryID int             `json:"journal_entry_id"`
	EntryNumber    string          `json:"entry_number"`
	Date           string          `json:"date"`
	Description    string          `json:"description"`
	Source         *string         `json:"source,omitempty"`
	Debit          decimal.Decimal `json:"debit"`
	Credit         decimal.Decimal `json:"credit"`
	Running        decimal.Decimal `json:"running"`
}

// AccountTransactionsReport lists one account's postings with a running
// balance signed by the account's normal balance.
type AccountTransactionsReport struct {
	AccountID      int                     `json:"account_id"`
	Code           string                  `json:"code"`
	Name           string                  `json:"name"`
	NormalBalance  NormalBalance           `json:"normal_balance"`
	From           string                  `json:"from"`
	To             string                  `json:"to"`
	OpeningBalance decimal.Decimal         `json:"opening_balance"`
	Rows           []AccountTransactionRow `json:"rows"`
	ClosingBalance decimal.Decimal         `json:"closing_balance"`
}

// ── Interface ─────────────────────────────────────────────────────────────────

// ReportingService computes read-only reports. Ledger reports read the
// account_balances projection; inventory reports read the immutable
// stock_moves history directly. Nothing here mutates state.
type ReportingService interface {
	TrialBalance(ctx context.Context, companyID int, from, to time.Time) (*TrialBalanceReport, error)
	BalanceSheet(ctx context.Context, companyID int, asOf time.Time) (*BalanceSheetReport, error)
	ProfitLoss(ctx context.Context, companyID int, from, to time.Time) (*ProfitLossReport, error)
	Cashflow(ctx context.Context, companyID int, from, to time.Time) (*CashflowReport, error)
	InventoryValuation(ctx context.Context, companyID int, asOf time.Time) (*InventoryValuationReport, error)
	InventoryMovement(ctx context.Context, companyID int, from, to time.Time) (*InventoryMovementReport, error)
	COGSByItem(ctx context.Context, companyID int, from, to time.Time) (*COGSReport, error)
	AccountTransactions(ctx context.Context, companyID, accountID int, from, to time.Time) (*AccountTransactionsReport, error)
}

type reportingService struct {
	pool *pgxpool.Pool
}

func NewReportingService(pool *pgxpool.Pool) ReportingService {
	return &reportingService{pool: pool}
}

// normalizeRange validates and day-truncates an inclusive date range.
func normalizeRange(from, to time.Time) (time.Time, time.Time, error) {
	if from.IsZero() || to.IsZero() {
		return time.Time{}, time.Time{}, NewError(KindValidation, "from and to dates are required")
	}
	f, t := Day(from), Day(to)
	if f.After(t) {
		return time.Time{}, time.Time{}, Errorf(KindValidation, "from date %s is after to date %s", FormatDay(f), FormatDay(t))
	}
	return f, t, nil
}

// signedBalance expresses a debit/credit pair in the account's normal-balance
// convention.
func signedBalance(normal NormalBalance, debit, credit decimal.Decimal) decimal.Decimal {
	if normal == NormalCredit {
		return credit.Sub(debit)
	}
	return debit.Sub(credit)
}

// ── Trial Balance ─────────────────────────────────────────────────────────────

func (s *reportingService) TrialBalance(ctx context.Context, companyID int, from, to time.Time) (*TrialBalanceReport, error) {
	from, to, err := normalizeRange(from, to)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT a.id, a.code, a.name, a.type, a.normal_balance, a.report_group,
		       COALESCE(SUM(ab.debit_total), 0)  AS debit,
		       COALESCE(SUM(ab.credit_total), 0) AS credit
		FROM accounts a
		LEFT JOIN account_balances ab
		       ON ab.account_id = a.id AND ab.date >= $2 AND ab.date <= $3
		WHERE a.company_id = $1
		GROUP BY a.id
		ORDER BY a.code
	`, companyID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query trial balance: %w", err)
	}
	defer rows.Close()

	report := &TrialBalanceReport{From: FormatDay(from), To: FormatDay(to)}
	for rows.Next() {
		var r TrialBalanceRow
		if err := rows.Scan(&r.AccountID, &r.Code, &r.Name, &r.Type, &r.NormalBalance,
			&r.ReportGroup, &r.Debit, &r.Credit); err != nil {
			return nil, fmt.Errorf("failed to scan trial balance row: %w", err)
		}
		if r.Debit.IsZero() && r.Credit.IsZero() {
			continue
		}
		r.Debit, r.Credit = Round2(r.Debit), Round2(r.Credit)
		report.Rows = append(report.Rows, r)
		report.TotalDebit = report.TotalDebit.Add(r.Debit)
		report.TotalCredit = report.TotalCredit.Add(r.Credit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("trial balance row iteration error: %w", err)
	}

	report.TotalDebit = Round2(report.TotalDebit)
	report.TotalCredit = Round2(report.TotalCredit)
	report.Balanced = report.TotalDebit.Equal(report.TotalCredit)
	return report, nil
}

// ── Balance Sheet ─────────────────────────────────────────────────────────────

func (s *reportingService) BalanceSheet(ctx context.Context, companyID int, asOf time.Time) (*BalanceSheetReport, error) {
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	asOf = Day(asOf)

	rows, err := s.pool.Query(ctx, `
		SELECT a.id, a.code, a.name, a.type, a.normal_balance, a.report_group,
		       COALESCE(SUM(ab.debit_total), 0)  AS debit,
		       COALESCE(SUM(ab.credit_total), 0) AS credit
		FROM accounts a
		LEFT JOIN account_balances ab
		       ON ab.account_id = a.id AND ab.date <= $2
		WHERE a.company_id = $1
		GROUP BY a.id
		ORDER BY a.code
	`, companyID, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to query balance sheet: %w", err)
	}
	defer rows.Close()

	report := &BalanceSheetReport{AsOf: FormatDay(asOf)}
	earnings := decimal.Zero

	for rows.Next() {
		var accountID int
		var code, name string
		var accountType AccountType
		var normal NormalBalance
		var group *string
		var debit, credit decimal.Decimal
		if err := rows.Scan(&accountID, &code, &name, &accountType, &normal, &group, &debit, &credit); err != nil {
			return nil, fmt.Errorf("failed to scan balance sheet row: %w", err)
		}

		// Income and expense roll into the synthetic earnings line below.
		if accountType == AccountIncome || accountType == AccountExpense {
			earnings = earnings.Add(credit.Sub(debit))
			continue
		}

		balance := Round2(signedBalance(normal, debit, credit))
		if balance.IsZero() {
			continue
		}
		line := BalanceSheetLine{AccountID: accountID, Code: code, Name: name, ReportGroup: group, Balance: balance}
		switch accountType {
		case AccountAsset:
			report.Assets = append(report.Assets, line)
			report.TotalAssets = report.TotalAssets.Add(balance)
		case AccountLiability:
			report.Liabilities = append(report.Liabilities, line)
			report.TotalLiabilities = report.TotalLiabilities.Add(balance)
		case AccountEquity:
			report.Equity = append(report.Equity, line)
			report.TotalEquity = report.TotalEquity.Add(balance)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("balance sheet row iteration error: %w", err)
	}

	// Unclosed income/expense activity appears as current period earnings so
	// Assets = Liabilities + Equity holds before a formal close.
	earnings = Round2(earnings)
	if !earnings.IsZero() {
		report.Equity = append(report.Equity, BalanceSheetLine{
			Code:    CodeCurrentPeriodEarnings,
			Name:    NameCurrentPeriodEarnings,
			Balance: earnings,
		})
		report.TotalEquity = report.TotalEquity.Add(earnings)
	}

	report.TotalAssets = Round2(report.TotalAssets)
	report.TotalLiabilities = Round2(report.TotalLiabilities)
	report.TotalEquity = Round2(report.TotalEquity)
	report.Balanced = report.TotalAssets.Equal(report.TotalLiabilities.Add(report.TotalEquity))
	return report, nil
}

// ── Profit & Loss ─────────────────────────────────────────────────────────────

func (s *reportingService) ProfitLoss(ctx context.Context, companyID int, from, to time.Time) (*ProfitLossReport, error) {
	from, to, err := normalizeRange(from, to)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT a.id, a.code, a.name, a.type,
		       COALESCE(SUM(ab.debit_total), 0)  AS debit,
		       COALESCE(SUM(ab.credit_total), 0) AS credit
		FROM accounts a
		JOIN account_balances ab
		  ON ab.account_id = a.id AND ab.date >= $2 AND ab.date <= $3
		WHERE a.company_id = $1 AND a.type IN ($4, $5)
		GROUP BY a.id
		ORDER BY a.type DESC, a.code
	`, companyID, from, to, AccountIncome, AccountExpense)
	if err != nil {
		return nil, fmt.Errorf("failed to query profit and loss: %w", err)
	}
	defer rows.Close()

	report := &ProfitLossReport{From: FormatDay(from), To: FormatDay(to)}
	for rows.Next() {
		var accountID int
		var code, name string
		var accountType AccountType
		var debit, credit decimal.Decimal
		if err := rows.Scan(&accountID, &code, &name, &accountType, &debit, &credit); err != nil {
			return nil, fmt.Errorf("failed to scan profit and loss row: %w", err)
		}

		if accountType == AccountIncome {
			amount := Round2(credit.Sub(debit))
			if amount.IsZero() {
				continue
			}
			report.Income = append(report.Income, AccountAmount{AccountID: accountID, Code: code, Name: name, Amount: amount})
			report.TotalIncome = report.TotalIncome.Add(amount)
		} else {
			amount := Round2(debit.Sub(credit))
			if amount.IsZero() {
				continue
			}
			report.Expenses = append(report.Expenses, AccountAmount{AccountID: accountID, Code: code, Name: name, Amount: amount})
			report.TotalExpense = report.TotalExpense.Add(amount)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("profit and loss row iteration error: %w", err)
	}

	report.TotalIncome = Round2(report.TotalIncome)
	report.TotalExpense = Round2(report.TotalExpense)
	report.NetProfit = report.TotalIncome.Sub(report.TotalExpense)
	return report, nil
}

// ── Cashflow (indirect) ───────────────────────────────────────────────────────

// cashflowAccount carries one balance-sheet account's period boundary
// balances. Balances are debit-signed; the cash effect of any non-cash
// account is the negated delta, which is the double-entry identity and keeps
// the reconciliation exact even for contra accounts.
type cashflowAccount struct {
	id       int
	code     string
	name     string
	typ      AccountType
	group    string
	activity *CashflowActivity
	begin    decimal.Decimal
	end      decimal.Decimal
}

func (a cashflowAccount) effect() decimal.Decimal {
	return Round2(a.begin.Sub(a.end))
}

// classifyActivity picks the cashflow section: the account's explicit
// activity wins, then report-group and type defaults.
func classifyActivity(a cashflowAccount) CashflowActivity {
	if a.activity != nil {
		return *a.activity
	}
	switch {
	case a.group == GroupFixedAsset:
		return ActivityInvesting
	case a.group == GroupLongTermLiability || a.typ == AccountEquity:
		return ActivityFinancing
	default:
		return ActivityOperating
	}
}

// Working-capital groups rolled up into labeled operating lines, in
// presentation order.
var workingCapitalGroups = []struct {
	group string
	label string
}{
	{GroupAccountsReceivable, "Change in Accounts Receivable"},
	{GroupInventory, "Change in Inventory"},
	{GroupOtherCurrentAsset, "Change in Other Current Assets"},
	{GroupAccountsPayable, "Change in Accounts Payable"},
	{GroupOtherCurrentLiability, "Change in Other Current Liabilities"},
}

const maxOtherOperatingLines = 10

func (s *reportingService) Cashflow(ctx context.Context, companyID int, from, to time.Time) (*CashflowReport, error) {
	from, to, err := normalizeRange(from, to)
	if err != nil {
		return nil, err
	}

	report := &CashflowReport{From: FormatDay(from), To: FormatDay(to)}

	// Net profit for the range, same aggregation as the P&L.
	err = s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(ab.credit_total - ab.debit_total), 0)
		FROM account_balances ab
		JOIN accounts a ON a.id = ab.account_id
		WHERE ab.company_id = $1 AND a.type IN ($2, $3) AND ab.date >= $4 AND ab.date <= $5
	`, companyID, AccountIncome, AccountExpense, from, to).Scan(&report.NetProfit)
	if err != nil {
		return nil, fmt.Errorf("failed to compute net profit: %w", err)
	}
	report.NetProfit = Round2(report.NetProfit)

	rows, err := s.pool.Query(ctx, `
		SELECT a.id, a.code, a.name, a.type, a.report_group, a.cashflow_activity,
		       COALESCE(SUM(ab.debit_total)  FILTER (WHERE ab.date < $2), 0)  AS begin_debit,
		       COALESCE(SUM(ab.credit_total) FILTER (WHERE ab.date < $2), 0)  AS begin_credit,
		       COALESCE(SUM(ab.debit_total)  FILTER (WHERE ab.date <= $3), 0) AS end_debit,
		       COALESCE(SUM(ab.credit_total) FILTER (WHERE ab.date <= $3), 0) AS end_credit
		FROM accounts a
		LEFT JOIN account_balances ab ON ab.account_id = a.id
		WHERE a.company_id = $1 AND a.type IN ($4, $5, $6)
		GROUP BY a.id
		ORDER BY a.code
	`, companyID, from, to, AccountAsset, AccountLiability, AccountEquity)
	if err != nil {
		return nil, fmt.Errorf("failed to query cashflow balances: %w", err)
	}
	defer rows.Close()

	workingCapital := make(map[string]decimal.Decimal)
	var otherOperating []CashflowLine
	for rows.Next() {
		var a cashflowAccount
		var group *string
		var beginDebit, beginCredit, endDebit, endCredit decimal.Decimal
		if err := rows.Scan(&a.id, &a.code, &a.name, &a.typ, &group, &a.activity,
			&beginDebit, &beginCredit, &endDebit, &endCredit); err != nil {
			return nil, fmt.Errorf("failed to scan cashflow row: %w", err)
		}
		if group != nil {
			a.group = *group
		}
		a.begin = beginDebit.Sub(beginCredit)
		a.end = endDebit.Sub(endCredit)

		if a.group == GroupCash {
			report.CashBegin = report.CashBegin.Add(a.begin)
			report.CashEnd = report.CashEnd.Add(a.end)
			continue
		}

		effect := a.effect()
		if effect.IsZero() {
			continue
		}

		switch classifyActivity(a) {
		case ActivityInvesting:
			report.InvestingLines = append(report.InvestingLines, CashflowLine{
				Label:  fmt.Sprintf("%s %s", a.code, a.name),
				Amount: effect,
			})
			report.Investing = report.Investing.Add(effect)
		case ActivityFinancing:
			report.FinancingLines = append(report.FinancingLines, CashflowLine{
				Label:  fmt.Sprintf("%s %s", a.code, a.name),
				Amount: effect,
			})
			report.Financing = report.Financing.Add(effect)
		default:
			if isWorkingCapitalGroup(a.group) {
				workingCapital[a.group] = workingCapital[a.group].Add(effect)
			} else {
				otherOperating = append(otherOperating, CashflowLine{
					Label:  fmt.Sprintf("%s %s", a.code, a.name),
					Amount: effect,
				})
			}
			report.Operating = report.Operating.Add(effect)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cashflow row iteration error: %w", err)
	}

	for _, wc := range workingCapitalGroups {
		if amount, ok := workingCapital[wc.group]; ok && !amount.IsZero() {
			report.WorkingCapital = append(report.WorkingCapital, CashflowLine{Label: wc.label, Amount: Round2(amount)})
		}
	}

	// Remaining operating movements ranked by absolute effect.
	sort.SliceStable(otherOperating, func(i, j int) bool {
		return otherOperating[i].Amount.Abs().GreaterThan(otherOperating[j].Amount.Abs())
	})
	if len(otherOperating) > maxOtherOperatingLines {
		otherOperating = otherOperating[:maxOtherOperatingLines]
	}
	report.OtherOperating = otherOperating

	report.Operating = Round2(report.Operating.Add(report.NetProfit))
	report.Investing = Round2(report.Investing)
	report.Financing = Round2(report.Financing)
	report.NetChange = Round2(report.Operating.Add(report.Investing).Add(report.Financing))
	report.CashBegin = Round2(report.CashBegin)
	report.CashEnd = Round2(report.CashEnd)
	report.Reconciled = report.NetChange.Equal(report.CashEnd.Sub(report.CashBegin))
	return report, nil
}

func isWorkingCapitalGroup(group string) bool {
	for _, wc := range workingCapitalGroups {
		if wc.group == group {
			return true
		}
	}
	return false
}

// ── Inventory valuation (as-of) ───────────────────────────────────────────────

// InventoryValuation replays the move history up to asOf per (location,
// item), repricing OUT moves at the running average exactly as the engine's
// backdated replay does, so an asOf of today reproduces the live balances.
// Rows that net to zero quantity are kept for audit continuity.
func (s *reportingService) InventoryValuation(ctx context.Context, companyID int, asOf time.Time) (*InventoryValuationReport, error) {
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	asOf = Day(asOf)

	rows, err := s.pool.Query(ctx, `
		SELECT sm.location_id, l.name, sm.item_id, i.name, i.sku,
		       sm.direction, sm.quantity, sm.total_cost_applied
		FROM stock_moves sm
		JOIN items i     ON i.id = sm.item_id
		JOIN locations l ON l.id = sm.location_id
		WHERE sm.company_id = $1 AND sm.date <= $2
		  AND i.type = $3 AND i.track_inventory = TRUE
		ORDER BY sm.location_id, sm.item_id, sm.date ASC, sm.id ASC
	`, companyID, asOf, ItemGoods)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock moves for valuation: %w", err)
	}
	defer rows.Close()

	report := &InventoryValuationReport{AsOf: FormatDay(asOf)}
	var current *ValuationRow
	flush := func() {
		if current == nil {
			return
		}
		if current.QtyOnHand.IsPositive() {
			current.AvgUnitCost = Round2(current.InventoryValue.Div(current.QtyOnHand))
		} else {
			current.AvgUnitCost = decimal.Zero
		}
		current.InventoryValue = Round2(current.InventoryValue)
		report.Rows = append(report.Rows, *current)
		report.TotalValue = report.TotalValue.Add(current.InventoryValue)
		current = nil
	}

	for rows.Next() {
		var locationID, itemID int
		var locationName, itemName string
		var sku *string
		var direction MoveDirection
		var qty, total decimal.Decimal
		if err := rows.Scan(&locationID, &locationName, &itemID, &itemName, &sku,
			&direction, &qty, &total); err != nil {
			return nil, fmt.Errorf("failed to scan valuation move: %w", err)
		}

		if current != nil && (current.LocationID != locationID || current.ItemID != itemID) {
			flush()
		}
		if current == nil {
			current = &ValuationRow{
				LocationID: locationID, LocationName: locationName,
				ItemID: itemID, ItemName: itemName, SKU: sku,
				QtyOnHand: decimal.Zero, InventoryValue: decimal.Zero,
			}
		}
		if direction == DirectionIn {
			current.QtyOnHand = current.QtyOnHand.Add(qty)
			current.InventoryValue = current.InventoryValue.Add(total)
		} else {
			avg := decimal.Zero
			if current.QtyOnHand.IsPositive() {
				avg = Round2(current.InventoryValue.Div(current.QtyOnHand))
			}
			current.QtyOnHand = current.QtyOnHand.Sub(qty)
			current.InventoryValue = current.InventoryValue.Sub(Round2(qty.Mul(avg)))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("valuation row iteration error: %w", err)
	}
	flush()

	report.TotalValue = Round2(report.TotalValue)
	return report, nil
}

// ── Inventory movement (from..to) ─────────────────────────────────────────────

func (s *reportingService) InventoryMovement(ctx context.Context, companyID int, from, to time.Time) (*InventoryMovementReport, error) {
	from, to, err := normalizeRange(from, to)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT sm.location_id, l.name, sm.item_id, i.name,
		       COALESCE(SUM(CASE WHEN sm.date < $2 AND sm.direction = $4 THEN sm.quantity ELSE 0 END), 0) -
		       COALESCE(SUM(CASE WHEN sm.date < $2 AND sm.direction = $5 THEN sm.quantity ELSE 0 END), 0) AS begin_qty,
		       COALESCE(SUM(CASE WHEN sm.date < $2 AND sm.direction = $4 THEN sm.total_cost_applied ELSE 0 END), 0) -
		       COALESCE(SUM(CASE WHEN sm.date < $2 AND sm.direction = $5 THEN sm.total_cost_applied ELSE 0 END), 0) AS begin_value,
		       COALESCE(SUM(CASE WHEN sm.date >= $2 AND sm.direction = $4 THEN sm.quantity ELSE 0 END), 0)           AS in_qty,
		       COALESCE(SUM(CASE WHEN sm.date >= $2 AND sm.direction = $4 THEN sm.total_cost_applied ELSE 0 END), 0) AS in_value,
		       COALESCE(SUM(CASE WHEN sm.date >= $2 AND sm.direction = $5 THEN sm.quantity ELSE 0 END), 0)           AS out_qty,
		       COALESCE(SUM(CASE WHEN sm.date >= $2 AND sm.direction = $5 THEN sm.total_cost_applied ELSE 0 END), 0) AS out_value
		FROM stock_moves sm
		JOIN items i     ON i.id = sm.item_id
		JOIN locations l ON l.id = sm.location_id
		WHERE sm.company_id = $1 AND sm.date <= $3
		GROUP BY sm.location_id, l.name, sm.item_id, i.name
		ORDER BY i.name, l.name
	`, companyID, from, to, DirectionIn, DirectionOut)
	if err != nil {
		return nil, fmt.Errorf("failed to query inventory movement: %w", err)
	}
	defer rows.Close()

	report := &InventoryMovementReport{From: FormatDay(from), To: FormatDay(to)}
	for rows.Next() {
		var r MovementRow
		if err := rows.Scan(&r.LocationID, &r.LocationName, &r.ItemID, &r.ItemName,
			&r.BeginQty, &r.BeginValue, &r.InQty, &r.InValue, &r.OutQty, &r.OutValue); err != nil {
			return nil, fmt.Errorf("failed to scan movement row: %w", err)
		}
		r.BeginValue = Round2(r.BeginValue)
		r.InValue = Round2(r.InValue)
		r.OutValue = Round2(r.OutValue)
		r.EndQty = r.BeginQty.Add(r.InQty).Sub(r.OutQty)
		r.EndValue = Round2(r.BeginValue.Add(r.InValue).Sub(r.OutValue))
		report.Rows = append(report.Rows, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("movement row iteration error: %w", err)
	}
	return report, nil
}

// ── COGS by item (from..to) ───────────────────────────────────────────────────

func (s *reportingService) COGSByItem(ctx context.Context, companyID int, from, to time.Time) (*COGSReport, error) {
	from, to, err := normalizeRange(from, to)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT sm.item_id, i.name, i.sku,
		       COALESCE(SUM(sm.quantity), 0)           AS quantity,
		       COALESCE(SUM(sm.total_cost_applied), 0) AS cogs
		FROM stock_moves sm
		JOIN items i ON i.id = sm.item_id
		WHERE sm.company_id = $1 AND sm.type = $2 AND sm.direction = $3
		  AND sm.date >= $4 AND sm.date <= $5
		GROUP BY sm.item_id, i.name, i.sku
		ORDER BY cogs DESC
	`, companyID, MoveSaleIssue, DirectionOut, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query COGS by item: %w", err)
	}
	defer rows.Close()

	report := &COGSReport{From: FormatDay(from), To: FormatDay(to)}
	for rows.Next() {
		var r COGSRow
		if err := rows.Scan(&r.ItemID, &r.ItemName, &r.SKU, &r.Quantity, &r.COGS); err != nil {
			return nil, fmt.Errorf("failed to scan COGS row: %w", err)
		}
		r.COGS = Round2(r.COGS)
		report.Rows = append(report.Rows, r)
		report.TotalQuantity = report.TotalQuantity.Add(r.Quantity)
		report.TotalCOGS = report.TotalCOGS.Add(r.COGS)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("COGS row iteration error: %w", err)
	}
	report.TotalCOGS = Round2(report.TotalCOGS)
	return report, nil
}

// ── Account transactions ──────────────────────────────────────────────────────

func (s *reportingService) AccountTransactions(ctx context.Context, companyID, accountID int, from, to time.Time) (*AccountTransactionsReport, error) {
	from, to, err := normalizeRange(from, to)
	if err != nil {
		return nil, err
	}

	report := &AccountTransactionsReport{
		AccountID: accountID,
		From:      FormatDay(from),
		To:        FormatDay(to),
	}
	err = s.pool.QueryRow(ctx,
		"SELECT code, name, normal_balance FROM accounts WHERE id = $1 AND company_id = $2",
		accountID, companyID,
	).Scan(&report.Code, &report.Name, &report.NormalBalance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, Errorf(KindNotFound, "account %d not found", accountID)
		}
		return nil, fmt.Errorf("failed to fetch account %d: %w", accountID, err)
	}

	var openingDebit, openingCredit decimal.Decimal
	err = s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(jl.debit), 0), COALESCE(SUM(jl.credit), 0)
		FROM journal_lines jl
		JOIN journal_entries je ON je.id = jl.journal_entry_id
		WHERE jl.account_id = $1 AND je.company_id = $2 AND je.date < $3
	`, accountID, companyID, from).Scan(&openingDebit, &openingCredit)
	if err != nil {
		return nil, fmt.Errorf("failed to compute opening balance: %w", err)
	}
	report.OpeningBalance = Round2(signedBalance(report.NormalBalance, openingDebit, openingCredit))

	// The source label is best effort: reversals are flagged from the entry
	// itself, inventory postings from the stock moves linked to the entry.
	rows, err := s.pool.Query(ctx, `
		SELECT je.id, je.entry_number, je.date, je.description,
		       CASE
		           WHEN je.reversal_of_journal_entry_id IS NOT NULL THEN 'REVERSAL'
		           ELSE (SELECT sm.reference_type FROM stock_moves sm
		                 WHERE sm.journal_entry_id = je.id AND sm.reference_type IS NOT NULL
		                 LIMIT 1)
		       END AS source,
		       SUM(jl.debit), SUM(jl.credit)
		FROM journal_lines jl
		JOIN journal_entries je ON je.id = jl.journal_entry_id
		WHERE jl.account_id = $1 AND je.company_id = $2 AND je.date >= $3 AND je.date <= $4
		GROUP BY je.id
		ORDER BY je.date ASC, je.id ASC
	`, accountID, companyID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query account transactions: %w", err)
	}
	defer rows.Close()

	running := report.OpeningBalance
	for rows.Next() {
		var r AccountTransactionRow
		var date time.Time
		if err := rows.Scan(&r.JournalEntryID, &r.EntryNumber, &date, &r.Description,
			&r.Source, &r.Debit, &r.Credit); err != nil {
			return nil, fmt.Errorf("failed to scan transaction row: %w", err)
		}
		r.Date = FormatDay(date)
		r.Debit, r.Credit = Round2(r.Debit), Round2(r.Credit)
		running = running.Add(signedBalance(report.NormalBalance, r.Debit, r.Credit))
		r.Running = running
		report.Rows = append(report.Rows, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transaction row iteration error: %w", err)
	}

	report.ClosingBalance = running
	return report, nil
}
