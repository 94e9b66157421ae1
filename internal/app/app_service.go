package app

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"accounting-engine/internal/core"
	"accounting-engine/internal/locks"
	"accounting-engine/internal/metrics"
	"accounting-engine/internal/outbox"
)

type appService struct {
	validate    *validator.Validate
	locks       locks.Manager
	idempotency core.IdempotencyStore
	ledger      core.LedgerService
	commands    core.LedgerCommands
	engine      core.InventoryEngine
	inventory   core.InventoryCommands
	periods     core.PeriodCloseService
	reports     core.ReportingService
	projections core.ProjectionService
	events      core.OutboxService
	audit       core.AuditService
}

// NewAppService constructs an appService that satisfies ApplicationService.
func NewAppService(
	lockManager locks.Manager,
	idempotency core.IdempotencyStore,
	ledger core.LedgerService,
	commands core.LedgerCommands,
	engine core.InventoryEngine,
	inventory core.InventoryCommands,
	periods core.PeriodCloseService,
	reports core.ReportingService,
	projections core.ProjectionService,
	events core.OutboxService,
	audit core.AuditService,
) ApplicationService {
	return &appService{
		validate:    validator.New(),
		locks:       lockManager,
		idempotency: idempotency,
		ledger:      ledger,
		commands:    commands,
		engine:      engine,
		inventory:   inventory,
		periods:     periods,
		reports:     reports,
		projections: projections,
		events:      events,
		audit:       audit,
	}
}

// normalized fills the derived envelope fields: a fresh correlation id when
// the adapter did not supply one.
func (m Meta) normalized() Meta {
	if m.CorrelationID == "" {
		m.CorrelationID = uuid.NewString()
	}
	return m
}

// CreateJournalEntry posts a balanced manual entry and stages its created
// event.
func (s *appService) CreateJournalEntry(ctx context.Context, meta Meta, req CreateJournalEntryRequest) (*core.IdempotencyResult, error) {
	meta = meta.normalized()
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	input, err := req.toInput(meta)
	if err != nil {
		return nil, err
	}

	return s.runCommand(ctx, meta, nil, locks.JournalTTL, func(ctx context.Context, tx pgx.Tx) (any, error) {
		entry, err := s.commands.CreateManualTx(ctx, tx, input)
		if err != nil {
			return nil, err
		}
		created, err := s.stageEntryCreated(ctx, tx, meta, entry, nil)
		if err != nil {
			return nil, err
		}
		if err := s.recordAudit(ctx, tx, meta, "journal_entry.create", "journal_entry", strconv.Itoa(entry.ID), map[string]any{
			"entry_number": entry.EntryNumber,
		}); err != nil {
			return nil, err
		}
		return CreateEntryResult{
			Entry:         entry,
			CorrelationID: meta.CorrelationID,
			Events:        []EventRef{ref(created)},
		}, nil
	})
}

// ReverseJournalEntry posts the swapped-lines reversal of an entry. The
// reversed event is caused by the reversal's created event.
func (s *appService) ReverseJournalEntry(ctx context.Context, meta Meta, entryID int, req ReverseJournalEntryRequest) (*core.IdempotencyResult, error) {
	meta = meta.normalized()
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	input, err := req.toInput(meta, entryID)
	if err != nil {
		return nil, err
	}

	keys := []string{locks.JournalEntryKey(meta.CompanyID, entryID)}
	return s.runCommand(ctx, meta, keys, locks.JournalTTL, func(ctx context.Context, tx pgx.Tx) (any, error) {
		res, err := s.commands.ReverseTx(ctx, tx, input)
		if err != nil {
			return nil, err
		}
		created, err := s.stageEntryCreated(ctx, tx, meta, res.Reversal, nil)
		if err != nil {
			return nil, err
		}
		reversed, err := s.stageEntryReversed(ctx, tx, meta, res.Original, res.Reversal, input.Reason, &created.EventID)
		if err != nil {
			return nil, err
		}
		if err := s.recordAudit(ctx, tx, meta, "journal_entry.reverse", "journal_entry", strconv.Itoa(res.Original.ID), map[string]any{
			"reversal_journal_entry_id": res.Reversal.ID,
		}); err != nil {
			return nil, err
		}
		return ReverseEntryResult{
			OriginalJournalEntryID: res.Original.ID,
			ReversalJournalEntryID: res.Reversal.ID,
			Reversal:               res.Reversal,
			CorrelationID:          meta.CorrelationID,
			Events:                 []EventRef{ref(created), ref(reversed)},
		}, nil
	})
}

// VoidJournalEntry reverses an entry and marks the original with void
// metadata in the same transaction.
func (s *appService) VoidJournalEntry(ctx context.Context, meta Meta, entryID int, req VoidJournalEntryRequest) (*core.IdempotencyResult, error) {
	meta = meta.normalized()
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	input, err := req.toInput(meta, entryID)
	if err != nil {
		return nil, err
	}

	keys := []string{locks.JournalEntryKey(meta.CompanyID, entryID)}
	return s.runCommand(ctx, meta, keys, locks.JournalTTL, func(ctx context.Context, tx pgx.Tx) (any, error) {
		res, err := s.commands.VoidTx(ctx, tx, input)
		if err != nil {
			return nil, err
		}
		// Re-read so the stored response carries the void metadata just written.
		original, err := s.ledger.GetEntryTx(ctx, tx, meta.CompanyID, res.Original.ID)
		if err != nil {
			return nil, err
		}
		created, err := s.stageEntryCreated(ctx, tx, meta, res.Reversal, nil)
		if err != nil {
			return nil, err
		}
		reversed, err := s.stageEntryReversed(ctx, tx, meta, res.Original, res.Reversal, &input.Reason, &created.EventID)
		if err != nil {
			return nil, err
		}
		if err := s.recordAudit(ctx, tx, meta, "journal_entry.void", "journal_entry", strconv.Itoa(res.Original.ID), map[string]any{
			"reversal_journal_entry_id": res.Reversal.ID,
			"reason":                    input.Reason,
		}); err != nil {
			return nil, err
		}
		return VoidEntryResult{
			OriginalJournalEntryID: res.Original.ID,
			ReversalJournalEntryID: res.Reversal.ID,
			Original:               original,
			Reversal:               res.Reversal,
			CorrelationID:          meta.CorrelationID,
			Events:                 []EventRef{ref(created), ref(reversed)},
		}, nil
	})
}

// AdjustJournalEntry reverses an entry and posts a corrected one. Three
// events share the correlation id: created(reversal), reversed,
// created(corrected).
func (s *appService) AdjustJournalEntry(ctx context.Context, meta Meta, entryID int, req AdjustJournalEntryRequest) (*core.IdempotencyResult, error) {
	meta = meta.normalized()
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	input, err := req.toInput(meta, entryID)
	if err != nil {
		return nil, err
	}

	keys := []string{locks.JournalEntryKey(meta.CompanyID, entryID)}
	return s.runCommand(ctx, meta, keys, locks.JournalTTL, func(ctx context.Context, tx pgx.Tx) (any, error) {
		res, err := s.commands.AdjustTx(ctx, tx, input)
		if err != nil {
			return nil, err
		}
		created, err := s.stageEntryCreated(ctx, tx, meta, res.Reversal, nil)
		if err != nil {
			return nil, err
		}
		reversed, err := s.stageEntryReversed(ctx, tx, meta, res.Original, res.Reversal, &input.Reason, &created.EventID)
		if err != nil {
			return nil, err
		}
		corrected, err := s.stageEntryCreated(ctx, tx, meta, res.Corrected, &reversed.EventID)
		if err != nil {
			return nil, err
		}
		if err := s.recordAudit(ctx, tx, meta, "journal_entry.adjust", "journal_entry", strconv.Itoa(res.Original.ID), map[string]any{
			"reversal_journal_entry_id":  res.Reversal.ID,
			"corrected_journal_entry_id": res.Corrected.ID,
			"reason":                     input.Reason,
		}); err != nil {
			return nil, err
		}
		return AdjustEntryResult{
			OriginalJournalEntryID:  res.Original.ID,
			ReversalJournalEntryID:  res.Reversal.ID,
			CorrectedJournalEntryID: res.Corrected.ID,
			Corrected:               res.Corrected,
			CorrelationID:           meta.CorrelationID,
			Events:                  []EventRef{ref(created), ref(reversed), ref(corrected)},
		}, nil
	})
}

// RecordOpeningBalance seeds stock and posts the opening entry against
// opening balance equity. A backdated seed additionally stages a recalc
// request for downstream consumers.
func (s *appService) RecordOpeningBalance(ctx context.Context, meta Meta, req OpeningBalanceRequest) (*core.IdempotencyResult, error) {
	meta = meta.normalized()
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	input, err := req.toInput(meta)
	if err != nil {
		return nil, err
	}

	items := make([]int, 0, len(req.Lines))
	for _, l := range req.Lines {
		items = append(items, l.ItemID)
	}
	keys := stockLockKeys(meta.CompanyID, req.LocationID, items)
	return s.runCommand(ctx, meta, keys, locks.StockTTL, func(ctx context.Context, tx pgx.Tx) (any, error) {
		res, err := s.inventory.OpeningBalanceTx(ctx, tx, input)
		if err != nil {
			return nil, err
		}
		created, err := s.stageEntryCreated(ctx, tx, meta, res.Entry, nil)
		if err != nil {
			return nil, err
		}
		events := []EventRef{ref(created)}
		var replayFrom *string
		if res.Replayed {
			day := core.FormatDay(*res.ReplayFrom)
			replayFrom = &day
			recalc, err := s.stageRecalc(ctx, tx, meta, res.Entry.ID, *res.ReplayFrom, "backdated opening balance", &created.EventID)
			if err != nil {
				return nil, err
			}
			events = append(events, ref(recalc))
		}
		if err := s.recordAudit(ctx, tx, meta, "inventory.opening_balance", "journal_entry", strconv.Itoa(res.Entry.ID), map[string]any{
			"total_value": res.TotalValue.StringFixed(2),
			"moves":       len(res.Moves),
		}); err != nil {
			return nil, err
		}
		return InventoryOpeningResult{
			Entry:         res.Entry,
			Moves:         res.Moves,
			TotalValue:    res.TotalValue,
			Replayed:      res.Replayed,
			ReplayFrom:    replayFrom,
			CorrelationID: meta.CorrelationID,
			Events:        events,
		}, nil
	})
}

// RecordInventoryAdjustment applies quantity deltas at weighted-average cost
// and posts the net value against the offset account.
func (s *appService) RecordInventoryAdjustment(ctx context.Context, meta Meta, req InventoryAdjustmentRequest) (*core.IdempotencyResult, error) {
	meta = meta.normalized()
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	input, err := req.toInput(meta)
	if err != nil {
		return nil, err
	}

	items := make([]int, 0, len(req.Lines))
	for _, l := range req.Lines {
		items = append(items, l.ItemID)
	}
	keys := stockLockKeys(meta.CompanyID, req.LocationID, items)
	return s.runCommand(ctx, meta, keys, locks.StockTTL, func(ctx context.Context, tx pgx.Tx) (any, error) {
		res, err := s.inventory.AdjustmentTx(ctx, tx, input)
		if err != nil {
			return nil, err
		}
		created, err := s.stageEntryCreated(ctx, tx, meta, res.Entry, nil)
		if err != nil {
			return nil, err
		}
		events := []EventRef{ref(created)}
		var replayFrom *string
		if res.Replayed {
			day := core.FormatDay(*res.ReplayFrom)
			replayFrom = &day
			recalc, err := s.stageRecalc(ctx, tx, meta, res.Entry.ID, *res.ReplayFrom, "backdated inventory adjustment", &created.EventID)
			if err != nil {
				return nil, err
			}
			events = append(events, ref(recalc))
		}
		if err := s.recordAudit(ctx, tx, meta, "inventory.adjustment", "journal_entry", strconv.Itoa(res.Entry.ID), map[string]any{
			"net":   res.Net.StringFixed(2),
			"moves": len(res.Moves),
		}); err != nil {
			return nil, err
		}
		return InventoryAdjustmentResult{
			Entry:         res.Entry,
			Moves:         res.Moves,
			TotalIn:       res.TotalIn,
			TotalOut:      res.TotalOut,
			Net:           res.Net,
			Replayed:      res.Replayed,
			ReplayFrom:    replayFrom,
			CorrelationID: meta.CorrelationID,
			Events:        events,
		}, nil
	})
}

// ClosePeriod zeros income and expense into retained earnings for the range
// and records the closed period. Closing the identical range again replays
// the stored identifiers without posting or staging anything new.
func (s *appService) ClosePeriod(ctx context.Context, meta Meta, req ClosePeriodRequest) (*core.IdempotencyResult, error) {
	meta = meta.normalized()
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	input, err := req.toInput(meta)
	if err != nil {
		return nil, err
	}

	keys := []string{locks.PeriodCloseKey(meta.CompanyID)}
	return s.runCommand(ctx, meta, keys, locks.PeriodCloseTTL, func(ctx context.Context, tx pgx.Tx) (any, error) {
		res, err := s.periods.ClosePeriodTx(ctx, tx, input)
		if err != nil {
			return nil, err
		}
		result := PeriodCloseResult{
			PeriodCloseID:  res.PeriodCloseID,
			JournalEntryID: res.JournalEntryID,
			AlreadyClosed:  res.AlreadyClosed,
			NetProfit:      res.NetProfit,
			CorrelationID:  meta.CorrelationID,
		}
		if res.AlreadyClosed {
			return result, nil
		}
		result.EntryNumber = res.Entry.EntryNumber
		created, err := s.stageEntryCreated(ctx, tx, meta, res.Entry, nil)
		if err != nil {
			return nil, err
		}
		result.Events = []EventRef{ref(created)}
		if err := s.recordAudit(ctx, tx, meta, "period.close", "period_close", strconv.Itoa(res.PeriodCloseID), map[string]any{
			"from":       req.From,
			"to":         req.To,
			"net_profit": res.NetProfit.StringFixed(2),
		}); err != nil {
			return nil, err
		}
		return result, nil
	})
}

// GetJournalEntry returns one entry with its lines.
func (s *appService) GetJournalEntry(ctx context.Context, companyID, entryID int) (*core.JournalEntry, error) {
	return s.ledger.GetEntry(ctx, companyID, entryID)
}

// ListJournalEntries returns entry summaries in (date, id) order.
func (s *appService) ListJournalEntries(ctx context.Context, companyID int, query core.ListEntriesQuery) ([]core.EntrySummary, error) {
	return s.ledger.ListEntries(ctx, companyID, query)
}

// GetStockLevels returns current stock per item and location.
func (s *appService) GetStockLevels(ctx context.Context, companyID int, locationID *int) ([]core.StockLevel, error) {
	return s.engine.StockLevels(ctx, companyID, locationID)
}

// ListPeriodCloses returns the tenant's closed periods.
func (s *appService) ListPeriodCloses(ctx context.Context, companyID int) ([]core.PeriodClose, error) {
	return s.periods.List(ctx, companyID)
}

// ListAuditLog returns recent audit rows, newest first.
func (s *appService) ListAuditLog(ctx context.Context, companyID, take int) ([]core.AuditEntry, error) {
	return s.audit.List(ctx, companyID, take)
}

// ListEventsByCorrelation returns the event DAG of one command.
func (s *appService) ListEventsByCorrelation(ctx context.Context, companyID int, correlationID string) ([]core.Event, error) {
	return s.events.ListByCorrelation(ctx, companyID, correlationID)
}

func (s *appService) TrialBalance(ctx context.Context, companyID int, from, to time.Time) (*core.TrialBalanceReport, error) {
	return s.reports.TrialBalance(ctx, companyID, from, to)
}

func (s *appService) BalanceSheet(ctx context.Context, companyID int, asOf time.Time) (*core.BalanceSheetReport, error) {
	return s.reports.BalanceSheet(ctx, companyID, asOf)
}

func (s *appService) ProfitLoss(ctx context.Context, companyID int, from, to time.Time) (*core.ProfitLossReport, error) {
	return s.reports.ProfitLoss(ctx, companyID, from, to)
}

func (s *appService) Cashflow(ctx context.Context, companyID int, from, to time.Time) (*core.CashflowReport, error) {
	return s.reports.Cashflow(ctx, companyID, from, to)
}

func (s *appService) InventoryValuation(ctx context.Context, companyID int, asOf time.Time) (*core.InventoryValuationReport, error) {
	return s.reports.InventoryValuation(ctx, companyID, asOf)
}

func (s *appService) InventoryMovement(ctx context.Context, companyID int, from, to time.Time) (*core.InventoryMovementReport, error) {
	return s.reports.InventoryMovement(ctx, companyID, from, to)
}

func (s *appService) COGSByItem(ctx context.Context, companyID int, from, to time.Time) (*core.COGSReport, error) {
	return s.reports.COGSByItem(ctx, companyID, from, to)
}

func (s *appService) AccountTransactions(ctx context.Context, companyID, accountID int, from, to time.Time) (*core.AccountTransactionsReport, error) {
	return s.reports.AccountTransactions(ctx, companyID, accountID, from, to)
}

// DailySummaries reads the per-day income/expense projection.
func (s *appService) DailySummaries(ctx context.Context, companyID int, from, to time.Time) ([]core.DailySummary, error) {
	return s.projections.DailySummaries(ctx, companyID, from, to)
}

// RebuildProjections recomputes the derived balance tables for a range.
func (s *appService) RebuildProjections(ctx context.Context, companyID int, from, to time.Time) (*core.RebuildResult, error) {
	return s.projections.Rebuild(ctx, companyID, from, to)
}

// ── private helpers ───────────────────────────────────────────────────────────

// runCommand is the write-path envelope: meta checks, best-effort locks, then
// the idempotent transaction. fn runs at most once per (company, key); its
// serialized return value is the stored response replays will see.
func (s *appService) runCommand(ctx context.Context, meta Meta, keys []string, ttl time.Duration, fn func(ctx context.Context, tx pgx.Tx) (any, error)) (*core.IdempotencyResult, error) {
	if meta.CompanyID <= 0 {
		return nil, core.NewError(core.KindValidation, "company id is required")
	}
	if meta.IdempotencyKey == "" {
		return nil, core.NewError(core.KindValidation, "Idempotency-Key header is required")
	}

	var result *core.IdempotencyResult
	err := s.locks.WithLocks(ctx, keys, ttl, func(ctx context.Context) error {
		var runErr error
		result, runErr = s.idempotency.Run(ctx, meta.CompanyID, meta.IdempotencyKey, meta.Fingerprint, fn)
		return runErr
	})
	if err != nil {
		return nil, err
	}
	if result.Replayed {
		metrics.IdempotentReplays.Inc()
	}
	return result, nil
}

// validateRequest runs the struct tags and maps the first failure to a
// Validation error naming the offending field.
func (s *appService) validateRequest(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return core.Errorf(core.KindValidation, "field %s failed %s validation", fieldPath(fe), fe.Tag()).
			WithDetail("field", fieldPath(fe)).
			WithDetail("rule", fe.Tag())
	}
	return core.NewError(core.KindValidation, err.Error())
}

// fieldPath strips the root struct name from a validator namespace:
// "CreateJournalEntryRequest.Lines[0].AccountID" becomes "Lines[0].AccountID".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// stockLockKeys covers every (location, item) pair the command will touch.
// The default alias is always taken: it is the only key a caller that omits
// the location holds, so explicit and implicit callers still collide.
func stockLockKeys(companyID int, locationID *int, itemIDs []int) []string {
	keys := make([]string, 0, 2*len(itemIDs))
	for _, itemID := range itemIDs {
		keys = append(keys, locks.StockDefaultKey(companyID, itemID))
		if locationID != nil {
			keys = append(keys, locks.StockKey(companyID, *locationID, itemID))
		}
	}
	return keys
}

func (s *appService) stageEntryCreated(ctx context.Context, tx pgx.Tx, meta Meta, entry *core.JournalEntry, causationID *string) (*core.Event, error) {
	return s.events.StageTx(ctx, tx, core.StageEventInput{
		CompanyID:     meta.CompanyID,
		EventType:     core.EventJournalEntryCreated,
		SchemaVersion: 1,
		CorrelationID: meta.CorrelationID,
		CausationID:   causationID,
		AggregateType: "journal_entry",
		AggregateID:   strconv.Itoa(entry.ID),
		Payload: outbox.JournalEntryCreatedV1{
			JournalEntryID:           entry.ID,
			CompanyID:                entry.CompanyID,
			TotalDebit:               entry.TotalDebit().StringFixed(2),
			TotalCredit:              entry.TotalCredit().StringFixed(2),
			ReversalOfJournalEntryID: entry.ReversalOfJournalEntryID,
		},
	})
}

func (s *appService) stageEntryReversed(ctx context.Context, tx pgx.Tx, meta Meta, original, reversal *core.JournalEntry, reason *string, causationID *string) (*core.Event, error) {
	return s.events.StageTx(ctx, tx, core.StageEventInput{
		CompanyID:     meta.CompanyID,
		EventType:     core.EventJournalEntryReversed,
		SchemaVersion: 1,
		CorrelationID: meta.CorrelationID,
		CausationID:   causationID,
		AggregateType: "journal_entry",
		AggregateID:   strconv.Itoa(original.ID),
		Payload: outbox.JournalEntryReversedV1{
			OriginalJournalEntryID: original.ID,
			ReversalJournalEntryID: reversal.ID,
			CompanyID:              original.CompanyID,
			Reason:                 reason,
		},
	})
}

// stageRecalc asks downstream valuation consumers to recompute from the
// earliest replayed day. Partitioned per tenant.
func (s *appService) stageRecalc(ctx context.Context, tx pgx.Tx, meta Meta, entryID int, from time.Time, reason string, causationID *string) (*core.Event, error) {
	return s.events.StageTx(ctx, tx, core.StageEventInput{
		CompanyID:     meta.CompanyID,
		EventType:     core.EventInventoryRecalc,
		SchemaVersion: 1,
		CorrelationID: meta.CorrelationID,
		CausationID:   causationID,
		AggregateType: "inventory",
		AggregateID:   strconv.Itoa(meta.CompanyID),
		Payload: outbox.InventoryRecalcRequestedV1{
			CompanyID:      meta.CompanyID,
			FromDate:       core.FormatDay(from),
			Reason:         reason,
			Source:         core.EventSource,
			JournalEntryID: &entryID,
		},
	})
}

func (s *appService) recordAudit(ctx context.Context, tx pgx.Tx, meta Meta, action, entityType, entityID string, metadata map[string]any) error {
	return s.audit.RecordTx(ctx, tx, core.AuditEntry{
		CompanyID:      meta.CompanyID,
		UserID:         meta.UserID,
		Action:         action,
		EntityType:     entityType,
		EntityID:       &entityID,
		IdempotencyKey: &meta.IdempotencyKey,
		CorrelationID:  &meta.CorrelationID,
		Metadata:       metadata,
	})
}

func ref(e *core.Event) EventRef {
	return EventRef{EventID: e.EventID, EventType: e.EventType}
}
