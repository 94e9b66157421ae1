package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"accounting-engine/internal/core"
)

// ── JSON report handlers ──────────────────────────────────────────────────────

// trialBalance handles GET /companies/{companyID}/reports/trial-balance?from&to.
func (h *Handler) trialBalance(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.companyAccess(w, r)
	if !ok {
		return
	}
	from, to, err := dayRangeQuery(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	report, err := h.svc.TrialBalance(r.Context(), companyID, from, to)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, report)
}

// balanceSheet handles GET /companies/{companyID}/reports/balance-sheet?asOf.
// asOf defaults to today.
func (h *Handler) balanceSheet(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.companyAccess(w, r)
	if !ok {
		return
	}
	asOf, err := asOfQuery(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	report, err := h.svc.BalanceSheet(r.Context(), companyID, asOf)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, report)
}

// profitLoss handles GET /companies/{companyID}/reports/profit-loss?from&to.
func (h *Handler) profitLoss(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.companyAccess(w, r)
	if !ok {
		return
	}
	from, to, err := dayRangeQuery(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	report, err := h.svc.ProfitLoss(r.Context(), companyID, from, to)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, report)
}

// cashflow handles GET /companies/{companyID}/reports/cashflow?from&to.
func (h *Handler) cashflow(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.companyAccess(w, r)
	if !ok {
		return
	}
	from, to, err := dayRangeQuery(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	report, err := h.svc.Cashflow(r.Context(), companyID, from, to)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, report)
}

// inventoryValuation handles GET /companies/{companyID}/reports/inventory-valuation?asOf.
func (h *Handler) inventoryValuation(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.companyAccess(w, r)
	if !ok {
		return
	}
	asOf, err := asOfQuery(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	report, err := h.svc.InventoryValuation(r.Context(), companyID, asOf)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, report)
}

// inventoryMovement handles GET /companies/{companyID}/reports/inventory-movement?from&to.
func (h *Handler) inventoryMovement(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.companyAccess(w, r)
	if !ok {
		return
	}
	from, to, err := dayRangeQuery(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	report, err := h.svc.InventoryMovement(r.Context(), companyID, from, to)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, report)
}

// cogsByItem handles GET /companies/{companyID}/reports/cogs?from&to.
func (h *Handler) cogsByItem(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.companyAccess(w, r)
	if !ok {
		return
	}
	from, to, err := dayRangeQuery(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	report, err := h.svc.COGSByItem(r.Context(), companyID, from, to)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, report)
}

// accountTransactions handles GET /companies/{companyID}/reports/account-transactions?accountId&from&to.
func (h *Handler) accountTransactions(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.companyAccess(w, r)
	if !ok {
		return
	}

	accountID, err := strconv.Atoi(r.URL.Query().Get("accountId"))
	if err != nil || accountID <= 0 {
		writeError(w, r, "accountId parameter is required", string(core.KindValidation), http.StatusBadRequest)
		return
	}
	from, to, err := dayRangeQuery(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	report, err := h.svc.AccountTransactions(r.Context(), companyID, accountID, from, to)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, report)
}

// dailySummaries handles GET /companies/{companyID}/reports/daily-summaries?from&to.
func (h *Handler) dailySummaries(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.companyAccess(w, r)
	if !ok {
		return
	}
	from, to, err := dayRangeQuery(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	summaries, err := h.svc.DailySummaries(r.Context(), companyID, from, to)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, summaries)
}

// asOfQuery parses the asOf parameter, defaulting to today.
func asOfQuery(r *http.Request) (time.Time, error) {
	raw := r.URL.Query().Get("asOf")
	if raw == "" {
		return core.Day(time.Now()), nil
	}
	return core.ParseDay(raw)
}

// ── XLSX export handlers ──────────────────────────────────────────────────────

// trialBalanceExport handles GET /companies/{companyID}/reports/trial-balance/export.
func (h *Handler) trialBalanceExport(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.companyAccess(w, r)
	if !ok {
		return
	}
	from, to, err := dayRangeQuery(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	report, err := h.svc.TrialBalance(r.Context(), companyID, from, to)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	f, err := trialBalanceWorkbook(report)
	if err != nil {
		writeError(w, r, "failed to build workbook", string(core.KindInternal), http.StatusInternalServerError)
		return
	}
	h.sendWorkbook(w, r, f, "trial-balance-"+report.From+"-"+report.To+".xlsx")
}

// profitLossExport handles GET /companies/{companyID}/reports/profit-loss/export.
func (h *Handler) profitLossExport(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.companyAccess(w, r)
	if !ok {
		return
	}
	from, to, err := dayRangeQuery(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	report, err := h.svc.ProfitLoss(r.Context(), companyID, from, to)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	f, err := profitLossWorkbook(report)
	if err != nil {
		writeError(w, r, "failed to build workbook", string(core.KindInternal), http.StatusInternalServerError)
		return
	}
	h.sendWorkbook(w, r, f, "profit-loss-"+report.From+"-"+report.To+".xlsx")
}

// balanceSheetExport handles GET /companies/{companyID}/reports/balance-sheet/export.
func (h *Handler) balanceSheetExport(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.companyAccess(w, r)
	if !ok {
		return
	}
	asOf, err := asOfQuery(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	report, err := h.svc.BalanceSheet(r.Context(), companyID, asOf)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	f, err := balanceSheetWorkbook(report)
	if err != nil {
		writeError(w, r, "failed to build workbook", string(core.KindInternal), http.StatusInternalServerError)
		return
	}
	h.sendWorkbook(w, r, f, "balance-sheet-"+report.AsOf+".xlsx")
}

// inventoryValuationExport handles GET /companies/{companyID}/reports/inventory-valuation/export.
func (h *Handler) inventoryValuationExport(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.companyAccess(w, r)
	if !ok {
		return
	}
	asOf, err := asOfQuery(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	report, err := h.svc.InventoryValuation(r.Context(), companyID, asOf)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	f, err := inventoryValuationWorkbook(report)
	if err != nil {
		writeError(w, r, "failed to build workbook", string(core.KindInternal), http.StatusInternalServerError)
		return
	}
	h.sendWorkbook(w, r, f, "inventory-valuation-"+report.AsOf+".xlsx")
}

// sendWorkbook streams the workbook as an attachment.
func (h *Handler) sendWorkbook(w http.ResponseWriter, r *http.Request, f *excelize.File, filename string) {
	defer f.Close()
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	if _, err := f.WriteTo(w); err != nil {
		h.log.WithError(err).WithField("request_id", requestIDFromContext(r.Context())).Warn("workbook write aborted")
	}
}

// ── Workbook builders ─────────────────────────────────────────────────────────

// sheetWriter appends rows to one sheet, converting decimals to numeric
// cells.
type sheetWriter struct {
	f     *excelize.File
	sheet string
	row   int
}

func (sw *sheetWriter) writeRow(values ...any) error {
	sw.row++
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, sw.row)
		if err != nil {
			return err
		}
		if d, ok := v.(decimal.Decimal); ok {
			v = d.InexactFloat64()
		}
		if err := sw.f.SetCellValue(sw.sheet, cell, v); err != nil {
			return err
		}
	}
	return nil
}

// boldRow styles the most recently written row bold across width columns.
func (sw *sheetWriter) boldRow(width int) error {
	style, err := sw.f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	first, err := excelize.CoordinatesToCellName(1, sw.row)
	if err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(width, sw.row)
	if err != nil {
		return err
	}
	return sw.f.SetCellStyle(sw.sheet, first, last, style)
}

// addParametersSheet appends a sheet recording what the report was run with.
func addParametersSheet(f *excelize.File, reportName string, params [][2]string) error {
	const sheet = "Parameters"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	sw := &sheetWriter{f: f, sheet: sheet}
	if err := sw.writeRow("Report", reportName); err != nil {
		return err
	}
	for _, p := range params {
		if err := sw.writeRow(p[0], p[1]); err != nil {
			return err
		}
	}
	return sw.writeRow("Generated", time.Now().UTC().Format(time.RFC3339))
}

func trialBalanceWorkbook(report *core.TrialBalanceReport) (*excelize.File, error) {
	f := excelize.NewFile()
	const sheet = "Trial Balance"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}

	sw := &sheetWriter{f: f, sheet: sheet}
	if err := sw.writeRow("Code", "Account", "Type", "Debit", "Credit"); err != nil {
		return nil, err
	}
	if err := sw.boldRow(5); err != nil {
		return nil, err
	}
	for _, row := range report.Rows {
		if err := sw.writeRow(row.Code, row.Name, string(row.Type), row.Debit, row.Credit); err != nil {
			return nil, err
		}
	}
	if err := sw.writeRow("", "Total", "", report.TotalDebit, report.TotalCredit); err != nil {
		return nil, err
	}
	if err := sw.boldRow(5); err != nil {
		return nil, err
	}
	if err := f.SetColWidth(sheet, "B", "B", 36); err != nil {
		return nil, err
	}

	if err := addParametersSheet(f, sheet, [][2]string{
		{"From", report.From},
		{"To", report.To},
		{"Balanced", strconv.FormatBool(report.Balanced)},
	}); err != nil {
		return nil, err
	}
	return f, nil
}

func profitLossWorkbook(report *core.ProfitLossReport) (*excelize.File, error) {
	f := excelize.NewFile()
	const sheet = "Profit & Loss"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}

	sw := &sheetWriter{f: f, sheet: sheet}
	if err := sw.writeRow("Section", "Code", "Account", "Amount"); err != nil {
		return nil, err
	}
	if err := sw.boldRow(4); err != nil {
		return nil, err
	}
	for _, row := range report.Income {
		if err := sw.writeRow("Income", row.Code, row.Name, row.Amount); err != nil {
			return nil, err
		}
	}
	if err := sw.writeRow("Income", "", "Total Income", report.TotalIncome); err != nil {
		return nil, err
	}
	if err := sw.boldRow(4); err != nil {
		return nil, err
	}
	for _, row := range report.Expenses {
		if err := sw.writeRow("Expense", row.Code, row.Name, row.Amount); err != nil {
			return nil, err
		}
	}
	if err := sw.writeRow("Expense", "", "Total Expenses", report.TotalExpense); err != nil {
		return nil, err
	}
	if err := sw.boldRow(4); err != nil {
		return nil, err
	}
	if err := sw.writeRow("", "", "Net Profit", report.NetProfit); err != nil {
		return nil, err
	}
	if err := sw.boldRow(4); err != nil {
		return nil, err
	}
	if err := f.SetColWidth(sheet, "C", "C", 36); err != nil {
		return nil, err
	}

	if err := addParametersSheet(f, sheet, [][2]string{
		{"From", report.From},
		{"To", report.To},
	}); err != nil {
		return nil, err
	}
	return f, nil
}

func balanceSheetWorkbook(report *core.BalanceSheetReport) (*excelize.File, error) {
	f := excelize.NewFile()
	const sheet = "Balance Sheet"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}

	sw := &sheetWriter{f: f, sheet: sheet}
	if err := sw.writeRow("Section", "Code", "Account", "Balance"); err != nil {
		return nil, err
	}
	if err := sw.boldRow(4); err != nil {
		return nil, err
	}

	sections := []struct {
		name  string
		lines []core.BalanceSheetLine
		total decimal.Decimal
		label string
	}{
		{"Assets", report.Assets, report.TotalAssets, "Total Assets"},
		{"Liabilities", report.Liabilities, report.TotalLiabilities, "Total Liabilities"},
		{"Equity", report.Equity, report.TotalEquity, "Total Equity"},
	}
	for _, section := range sections {
		for _, line := range section.lines {
			if err := sw.writeRow(section.name, line.Code, line.Name, line.Balance); err != nil {
				return nil, err
			}
		}
		if err := sw.writeRow(section.name, "", section.label, section.total); err != nil {
			return nil, err
		}
		if err := sw.boldRow(4); err != nil {
			return nil, err
		}
	}
	if err := f.SetColWidth(sheet, "C", "C", 36); err != nil {
		return nil, err
	}

	if err := addParametersSheet(f, sheet, [][2]string{
		{"As of", report.AsOf},
		{"Balanced", strconv.FormatBool(report.Balanced)},
	}); err != nil {
		return nil, err
	}
	return f, nil
}

func inventoryValuationWorkbook(report *core.InventoryValuationReport) (*excelize.File, error) {
	f := excelize.NewFile()
	const sheet = "Inventory Valuation"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}

	sw := &sheetWriter{f: f, sheet: sheet}
	if err := sw.writeRow("Location", "Item", "SKU", "Qty On Hand", "Avg Unit Cost", "Value"); err != nil {
		return nil, err
	}
	if err := sw.boldRow(6); err != nil {
		return nil, err
	}
	for _, row := range report.Rows {
		sku := ""
		if row.SKU != nil {
			sku = *row.SKU
		}
		if err := sw.writeRow(row.LocationName, row.ItemName, sku, row.QtyOnHand, row.AvgUnitCost, row.InventoryValue); err != nil {
			return nil, err
		}
	}
	if err := sw.writeRow("", "Total", "", "", "", report.TotalValue); err != nil {
		return nil, err
	}
	if err := sw.boldRow(6); err != nil {
		return nil, err
	}
	if err := f.SetColWidth(sheet, "A", "B", 28); err != nil {
		return nil, err
	}

	if err := addParametersSheet(f, sheet, [][2]string{
		{"As of", report.AsOf},
	}); err != nil {
		return nil, err
	}
	return f, nil
}
