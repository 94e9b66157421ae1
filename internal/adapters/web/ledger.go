package web

import (
	"net/http"
	"strconv"
	"time"

	"accounting-engine/internal/app"
	"accounting-engine/internal/core"
)

// ── Journal entry commands ────────────────────────────────────────────────────

// createJournalEntry handles POST /companies/{companyID}/journal-entries.
func (h *Handler) createJournalEntry(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.companyAccess(w, r)
	if !ok {
		return
	}

	var req app.CreateJournalEntryRequest
	meta, ok := h.commandEnvelope(w, r, companyID, &req)
	if !ok {
		return
	}

	result, err := h.svc.CreateJournalEntry(r.Context(), meta, req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeCommandResult(w, result)
}

// reverseJournalEntry handles POST /companies/{companyID}/journal-entries/{entryID}/reverse.
func (h *Handler) reverseJournalEntry(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.companyAccess(w, r)
	if !ok {
		return
	}
	entryID, ok := entryIDParam(w, r)
	if !ok {
		return
	}

	var req app.ReverseJournalEntryRequest
	meta, ok := h.commandEnvelope(w, r, companyID, &req)
	if !ok {
		return
	}

	result, err := h.svc.ReverseJournalEntry(r.Context(), meta, entryID, req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeCommandResult(w, result)
}

// voidJournalEntry handles POST /companies/{companyID}/journal-entries/{entryID}/void.
func (h *Handler) voidJournalEntry(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.companyAccess(w, r)
	if !ok {
		return
	}
	entryID, ok := entryIDParam(w, r)
	if !ok {
		return
	}

	var req app.VoidJournalEntryRequest
	meta, ok := h.commandEnvelope(w, r, companyID, &req)
	if !ok {
		return
	}

	result, err := h.svc.VoidJournalEntry(r.Context(), meta, entryID, req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeCommandResult(w, result)
}

// adjustJournalEntry handles POST /companies/{companyID}/journal-entries/{entryID}/adjust.
func (h *Handler) adjustJournalEntry(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.companyAccess(w, r)
	if !ok {
		return
	}
	entryID, ok := entryIDParam(w, r)
	if !ok {
		return
	}

	var req app.AdjustJournalEntryRequest
	meta, ok := h.commandEnvelope(w, r, companyID, &req)
	if !ok {
		return
	}

	result, err := h.svc.AdjustJournalEntry(r.Context(), meta, entryID, req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeCommandResult(w, result)
}

// ── Journal entry reads ───────────────────────────────────────────────────────

// getJournalEntry handles GET /companies/{companyID}/journal-entries/{entryID}.
func (h *Handler) getJournalEntry(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.companyAccess(w, r)
	if !ok {
		return
	}
	entryID, ok := entryIDParam(w, r)
	if !ok {
		return
	}

	entry, err := h.svc.GetJournalEntry(r.Context(), companyID, entryID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, entry)
}

// listJournalEntries handles GET /companies/{companyID}/journal-entries?from&to&take.
func (h *Handler) listJournalEntries(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.companyAccess(w, r)
	if !ok {
		return
	}

	query := core.ListEntriesQuery{}
	var err error
	if query.From, err = optionalDayQuery(r, "from"); err != nil {
		writeDomainError(w, r, err)
		return
	}
	if query.To, err = optionalDayQuery(r, "to"); err != nil {
		writeDomainError(w, r, err)
		return
	}
	if raw := r.URL.Query().Get("take"); raw != "" {
		if query.Take, err = strconv.Atoi(raw); err != nil {
			writeError(w, r, "invalid take parameter", string(core.KindValidation), http.StatusBadRequest)
			return
		}
	}

	entries, err := h.svc.ListJournalEntries(r.Context(), companyID, query)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, entries)
}

// ── Period close ──────────────────────────────────────────────────────────────

// closePeriod handles POST /companies/{companyID}/period-close?from&to.
// The period is named by query parameters; the fingerprint is computed over
// their canonical JSON form so parameter order does not change request
// identity.
func (h *Handler) closePeriod(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.companyAccess(w, r)
	if !ok {
		return
	}

	req := app.ClosePeriodRequest{
		From: r.URL.Query().Get("from"),
		To:   r.URL.Query().Get("to"),
	}
	meta := h.metaFor(r, companyID, canonicalJSON(req))

	result, err := h.svc.ClosePeriod(r.Context(), meta, req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeCommandResult(w, result)
}

// listPeriodCloses handles GET /companies/{companyID}/period-closes.
func (h *Handler) listPeriodCloses(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.companyAccess(w, r)
	if !ok {
		return
	}

	closes, err := h.svc.ListPeriodCloses(r.Context(), companyID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, closes)
}

// ── Audit & events ────────────────────────────────────────────────────────────

// auditLog handles GET /companies/{companyID}/audit-log?take.
func (h *Handler) auditLog(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.companyAccess(w, r)
	if !ok {
		return
	}

	take := 0
	if raw := r.URL.Query().Get("take"); raw != "" {
		var err error
		if take, err = strconv.Atoi(raw); err != nil {
			writeError(w, r, "invalid take parameter", string(core.KindValidation), http.StatusBadRequest)
			return
		}
	}

	entries, err := h.svc.ListAuditLog(r.Context(), companyID, take)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, entries)
}

// eventsByCorrelation handles GET /companies/{companyID}/events?correlationId.
// Returns every event staged under one command's correlation id, in causal
// order.
func (h *Handler) eventsByCorrelation(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.companyAccess(w, r)
	if !ok {
		return
	}

	correlationID := r.URL.Query().Get("correlationId")
	if correlationID == "" {
		writeError(w, r, "correlationId parameter is required", string(core.KindValidation), http.StatusBadRequest)
		return
	}

	events, err := h.svc.ListEventsByCorrelation(r.Context(), companyID, correlationID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, events)
}

// ── Query helpers ─────────────────────────────────────────────────────────────

// optionalDayQuery parses a YYYY-MM-DD query parameter, nil when absent.
func optionalDayQuery(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	day, err := core.ParseDay(raw)
	if err != nil {
		return nil, err
	}
	return &day, nil
}

// requiredDayQuery parses a YYYY-MM-DD query parameter, failing when absent.
func requiredDayQuery(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, core.Errorf(core.KindValidation, "%s parameter is required", name)
	}
	return core.ParseDay(raw)
}

// dayRangeQuery parses the from/to pair every period-scoped report takes.
func dayRangeQuery(r *http.Request) (time.Time, time.Time, error) {
	from, err := requiredDayQuery(r, "from")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := requiredDayQuery(r, "to")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, core.NewError(core.KindValidation, "to must not precede from")
	}
	return from, to, nil
}
