package web

import (
	"net/http"
	"strconv"

	"accounting-engine/internal/app"
	"accounting-engine/internal/core"
)

// openingBalance handles POST /companies/{companyID}/inventory/opening-balance.
func (h *Handler) openingBalance(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.companyAccess(w, r)
	if !ok {
		return
	}

	var req app.OpeningBalanceRequest
	meta, ok := h.commandEnvelope(w, r, companyID, &req)
	if !ok {
		return
	}

	result, err := h.svc.RecordOpeningBalance(r.Context(), meta, req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeCommandResult(w, result)
}

// inventoryAdjustment handles POST /companies/{companyID}/inventory/adjustments.
func (h *Handler) inventoryAdjustment(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.companyAccess(w, r)
	if !ok {
		return
	}

	var req app.InventoryAdjustmentRequest
	meta, ok := h.commandEnvelope(w, r, companyID, &req)
	if !ok {
		return
	}

	result, err := h.svc.RecordInventoryAdjustment(r.Context(), meta, req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeCommandResult(w, result)
}

// stockLevels handles GET /companies/{companyID}/inventory/stock-levels?locationId.
func (h *Handler) stockLevels(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.companyAccess(w, r)
	if !ok {
		return
	}

	var locationID *int
	if raw := r.URL.Query().Get("locationId"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil || id <= 0 {
			writeError(w, r, "invalid locationId parameter", string(core.KindValidation), http.StatusBadRequest)
			return
		}
		locationID = &id
	}

	levels, err := h.svc.GetStockLevels(r.Context(), companyID, locationID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, levels)
}
