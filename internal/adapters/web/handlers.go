package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"accounting-engine/internal/app"
	"accounting-engine/internal/core"
	"accounting-engine/internal/outbox"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Handler holds the ApplicationService and the chi router.
type Handler struct {
	svc       app.ApplicationService
	pool      *pgxpool.Pool
	log       *logrus.Logger
	jwtSecret string
	router    chi.Router
}

// NewHandler creates and wires the chi router with all routes.
func NewHandler(svc app.ApplicationService, pool *pgxpool.Pool, log *logrus.Logger, allowedOrigins, jwtSecret string) http.Handler {
	h := &Handler{
		svc:       svc,
		pool:      pool,
		log:       log,
		jwtSecret: jwtSecret,
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(log))
	r.Use(Recoverer(log))
	r.Use(Metrics)
	r.Use(CORS(allowedOrigins))

	// ── Public ────────────────────────────────────────────────────────────────
	r.Get("/healthz", h.healthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/events/schemas", h.eventSchemas)

	// ── Tenant-scoped API ─────────────────────────────────────────────────────
	r.Route("/companies/{companyID}", func(r chi.Router) {
		r.Use(h.RequireAuth)
		r.Use(RequestBodyLimit(1 << 20)) // 1 MB

		// ── Journal entries ───────────────────────────────────────────────────
		r.Post("/journal-entries", h.createJournalEntry)
		r.Get("/journal-entries", h.listJournalEntries)
		r.Get("/journal-entries/{entryID}", h.getJournalEntry)
		r.Post("/journal-entries/{entryID}/reverse", h.reverseJournalEntry)
		r.Post("/journal-entries/{entryID}/void", h.voidJournalEntry)
		r.Post("/journal-entries/{entryID}/adjust", h.adjustJournalEntry)

		// ── Inventory ─────────────────────────────────────────────────────────
		r.Post("/inventory/opening-balance", h.openingBalance)
		r.Post("/inventory/adjustments", h.inventoryAdjustment)
		r.Get("/inventory/stock-levels", h.stockLevels)

		// ── Period close ──────────────────────────────────────────────────────
		r.Post("/period-close", h.closePeriod)
		r.Get("/period-closes", h.listPeriodCloses)

		// ── Reports ───────────────────────────────────────────────────────────
		r.Get("/reports/trial-balance", h.trialBalance)
		r.Get("/reports/trial-balance/export", h.trialBalanceExport)
		r.Get("/reports/balance-sheet", h.balanceSheet)
		r.Get("/reports/balance-sheet/export", h.balanceSheetExport)
		r.Get("/reports/profit-loss", h.profitLoss)
		r.Get("/reports/profit-loss/export", h.profitLossExport)
		r.Get("/reports/cashflow", h.cashflow)
		r.Get("/reports/inventory-valuation", h.inventoryValuation)
		r.Get("/reports/inventory-valuation/export", h.inventoryValuationExport)
		r.Get("/reports/inventory-movement", h.inventoryMovement)
		r.Get("/reports/cogs", h.cogsByItem)
		r.Get("/reports/account-transactions", h.accountTransactions)
		r.Get("/reports/daily-summaries", h.dailySummaries)

		// ── Audit & events ────────────────────────────────────────────────────
		r.Get("/audit-log", h.auditLog)
		r.Get("/events", h.eventsByCorrelation)
	})

	h.router = r
	return r
}

// healthz probes the database pool and reports service status.
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Status   string `json:"status"`
		Database string `json:"database"`
	}

	if err := h.pool.Ping(r.Context()); err != nil {
		writeJSONStatus(w, http.StatusServiceUnavailable, response{Status: "degraded", Database: "unreachable"})
		return
	}
	writeJSON(w, response{Status: "ok", Database: "ok"})
}

// eventSchemas serves the JSON schema catalog of every event this engine
// publishes, so consumers can generate validators.
func (h *Handler) eventSchemas(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, outbox.Catalog())
}

// companyAccess extracts the {companyID} URL parameter and verifies the
// caller's token grants access to it. Writes the error response itself.
func (h *Handler) companyAccess(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := chi.URLParam(r, "companyID")
	companyID, err := strconv.Atoi(raw)
	if err != nil || companyID <= 0 {
		writeError(w, r, "invalid company id", string(core.KindValidation), http.StatusBadRequest)
		return 0, false
	}
	if !h.requireCompanyAccess(w, r, companyID) {
		return 0, false
	}
	return companyID, true
}

// entryIDParam extracts the {entryID} URL parameter.
func entryIDParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := chi.URLParam(r, "entryID")
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		writeError(w, r, "invalid journal entry id", string(core.KindValidation), http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// commandEnvelope reads the request body into v and builds the command Meta:
// tenant, Idempotency-Key header, fingerprint over the raw body, and the
// caller's user id. Returns false after writing an error response.
func (h *Handler) commandEnvelope(w http.ResponseWriter, r *http.Request, companyID int, v any) (app.Meta, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, r, "request body too large", "REQUEST_TOO_LARGE", http.StatusRequestEntityTooLarge)
			return app.Meta{}, false
		}
		writeError(w, r, "failed to read request body", "BAD_REQUEST", http.StatusBadRequest)
		return app.Meta{}, false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, r, "invalid JSON body: "+err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return app.Meta{}, false
	}
	return h.metaFor(r, companyID, body), true
}

// canonicalJSON renders v in its fixed struct field order, for fingerprinting
// commands whose parameters arrive outside the body.
func canonicalJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

// metaFor builds the command Meta from request identity material. The
// fingerprint binds the idempotency key to this exact request so the key
// cannot be reused for a different command.
func (h *Handler) metaFor(r *http.Request, companyID int, body []byte) app.Meta {
	meta := app.Meta{
		CompanyID:      companyID,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		Fingerprint:    core.Fingerprint(r.Method, r.URL.Path, companyID, body),
	}
	if claims := authFromContext(r.Context()); claims != nil {
		userID := claims.UserID
		meta.UserID = &userID
	}
	return meta
}

// writeCommandResult writes the stored command response. Replays return the
// byte-identical body the first execution produced; the header tells the
// caller which happened.
func writeCommandResult(w http.ResponseWriter, result *core.IdempotencyResult) {
	w.Header().Set("Idempotent-Replay", strconv.FormatBool(result.Replayed))
	writeRawJSON(w, http.StatusOK, result.Response)
}
