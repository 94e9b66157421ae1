package core_test

import (
	"context"
	"testing"

	"accounting-engine/internal/core"
)

func TestLedger_PostAndGetEntry(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	tc := seedCompany(t, pool)
	ctx := context.Background()

	ledger := core.NewLedgerService(pool)

	// 1. Post a balanced two-line entry
	entry := postBalanced(t, pool, tc.ID, "2025-01-15", "Cash sale", tc.Cash, tc.Sales, "150.00")
	if entry.EntryNumber != "JE-2025-0001" {
		t.Errorf("Expected entry number JE-2025-0001, got %s", entry.EntryNumber)
	}
	if len(entry.Lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d", len(entry.Lines))
	}
	if entry.TotalDebit().StringFixed(2) != "150.00" || entry.TotalCredit().StringFixed(2) != "150.00" {
		t.Errorf("Unexpected totals: %s / %s", entry.TotalDebit(), entry.TotalCredit())
	}

	// 2. Read it back
	got, err := ledger.GetEntry(ctx, tc.ID, entry.ID)
	if err != nil {
		t.Fatalf("GetEntry failed: %v", err)
	}
	if got.EntryNumber != entry.EntryNumber || got.Description != "Cash sale" {
		t.Errorf("Round trip mismatch: %+v", got)
	}
	if core.FormatDay(got.Date) != "2025-01-15" {
		t.Errorf("Expected date 2025-01-15, got %s", core.FormatDay(got.Date))
	}

	// 3. The posting must have folded into the projections
	var debitTotal string
	err = pool.QueryRow(ctx, `
		SELECT debit_total::text FROM account_balances
		WHERE company_id = $1 AND account_id = $2 AND date = '2025-01-15'
	`, tc.ID, tc.Cash).Scan(&debitTotal)
	if err != nil {
		t.Fatalf("Expected an account_balances row for cash: %v", err)
	}
	if debitTotal != "150.00" {
		t.Errorf("Expected projected debit 150.00, got %s", debitTotal)
	}

	var incomeTotal string
	err = pool.QueryRow(ctx, `
		SELECT income_total::text FROM daily_summaries
		WHERE company_id = $1 AND date = '2025-01-15'
	`, tc.ID).Scan(&incomeTotal)
	if err != nil {
		t.Fatalf("Expected a daily_summaries row: %v", err)
	}
	if incomeTotal != "150.00" {
		t.Errorf("Expected projected income 150.00, got %s", incomeTotal)
	}

	// 4. An unknown id is NOT_FOUND, never another tenant's data
	if _, err := ledger.GetEntry(ctx, tc.ID, entry.ID+999); !core.IsKind(err, core.KindNotFound) {
		t.Errorf("Expected NOT_FOUND for unknown entry, got %v", err)
	}
}

func TestLedger_EntryNumbersAreGaplessPerYear(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	tc := seedCompany(t, pool)

	first := postBalanced(t, pool, tc.ID, "2025-01-15", "First", tc.Cash, tc.Sales, "10.00")
	second := postBalanced(t, pool, tc.ID, "2025-03-02", "Second", tc.Cash, tc.Sales, "20.00")
	prior := postBalanced(t, pool, tc.ID, "2024-12-31", "Prior year", tc.Cash, tc.Sales, "30.00")

	if first.EntryNumber != "JE-2025-0001" {
		t.Errorf("Expected JE-2025-0001, got %s", first.EntryNumber)
	}
	if second.EntryNumber != "JE-2025-0002" {
		t.Errorf("Expected JE-2025-0002, got %s", second.EntryNumber)
	}
	// Each tenant-year runs its own sequence.
	if prior.EntryNumber != "JE-2024-0001" {
		t.Errorf("Expected JE-2024-0001, got %s", prior.EntryNumber)
	}
}

func TestLedger_UnbalancedEntryRejected(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	tc := seedCompany(t, pool)
	ctx := context.Background()

	_, err := core.NewLedgerService(pool).PostEntry(ctx, core.PostEntryInput{
		CompanyID:   tc.ID,
		Date:        mustDay(t, "2025-01-15"),
		Description: "Lopsided",
		Lines: []core.PostLineInput{
			{AccountID: tc.Cash, Debit: amt("100.00")},
			{AccountID: tc.Sales, Credit: amt("90.00")},
		},
	})
	if !core.IsKind(err, core.KindUnbalanced) {
		t.Fatalf("Expected UNBALANCED, got %v", err)
	}
	if err.Error() != "journal entry is unbalanced: debits 100.00 != credits 90.00" {
		t.Errorf("Unexpected message: %v", err)
	}

	// Nothing may persist, the sequence included: the next posting still
	// gets the first number of the year.
	var count int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM journal_entries WHERE company_id = $1", tc.ID).Scan(&count); err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected no entries after rejection, got %d", count)
	}

	entry := postBalanced(t, pool, tc.ID, "2025-01-16", "Balanced", tc.Cash, tc.Sales, "50.00")
	if entry.EntryNumber != "JE-2025-0001" {
		t.Errorf("Rejected posting burned a sequence number: got %s", entry.EntryNumber)
	}
}

func TestLedger_ForeignAccountRejected(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	tc := seedCompany(t, pool)
	ctx := context.Background()

	// Another tenant with its own account.
	var otherCompany int
	if err := pool.QueryRow(ctx, "INSERT INTO companies (name) VALUES ('Other Co') RETURNING id").Scan(&otherCompany); err != nil {
		t.Fatalf("Failed to seed second company: %v", err)
	}
	foreignAccount := seedAccount(t, pool, otherCompany, "1000", "Foreign Cash", core.AccountAsset, core.NormalDebit, "", "")

	_, err := core.NewLedgerService(pool).PostEntry(ctx, core.PostEntryInput{
		CompanyID:   tc.ID,
		Date:        mustDay(t, "2025-01-15"),
		Description: "Cross-tenant probe",
		Lines: []core.PostLineInput{
			{AccountID: foreignAccount, Debit: amt("100.00")},
			{AccountID: tc.Sales, Credit: amt("100.00")},
		},
	})
	if !core.IsKind(err, core.KindValidation) {
		t.Fatalf("Expected VALIDATION for foreign account, got %v", err)
	}

	// Deactivated accounts are rejected the same way.
	if _, err := pool.Exec(ctx, "UPDATE accounts SET is_active = FALSE WHERE id = $1", tc.Rent); err != nil {
		t.Fatalf("Failed to deactivate account: %v", err)
	}
	_, err = core.NewLedgerService(pool).PostEntry(ctx, core.PostEntryInput{
		CompanyID:   tc.ID,
		Date:        mustDay(t, "2025-01-15"),
		Description: "Inactive account",
		Lines: []core.PostLineInput{
			{AccountID: tc.Rent, Debit: amt("100.00")},
			{AccountID: tc.Cash, Credit: amt("100.00")},
		},
	})
	if !core.IsKind(err, core.KindValidation) {
		t.Errorf("Expected VALIDATION for inactive account, got %v", err)
	}
}

func TestLedger_LineAmountsRoundToTwoDecimals(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	tc := seedCompany(t, pool)

	entry, err := core.NewLedgerService(pool).PostEntry(context.Background(), core.PostEntryInput{
		CompanyID:   tc.ID,
		Date:        mustDay(t, "2025-01-15"),
		Description: "Sub-cent amounts",
		Lines: []core.PostLineInput{
			{AccountID: tc.Cash, Debit: amt("100.005")},
			{AccountID: tc.Sales, Credit: amt("100.005")},
		},
	})
	if err != nil {
		t.Fatalf("PostEntry failed: %v", err)
	}
	if entry.Lines[0].Debit.StringFixed(2) != "100.01" {
		t.Errorf("Expected stored debit 100.01, got %s", entry.Lines[0].Debit)
	}
	if entry.Lines[1].Credit.StringFixed(2) != "100.01" {
		t.Errorf("Expected stored credit 100.01, got %s", entry.Lines[1].Credit)
	}
}

func TestLedger_ListEntries(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	tc := seedCompany(t, pool)
	ctx := context.Background()

	postBalanced(t, pool, tc.ID, "2025-01-10", "January", tc.Cash, tc.Sales, "10.00")
	postBalanced(t, pool, tc.ID, "2025-02-10", "February", tc.Cash, tc.Sales, "20.00")
	postBalanced(t, pool, tc.ID, "2025-03-10", "March", tc.Cash, tc.Sales, "30.00")

	ledger := core.NewLedgerService(pool)

	// Full list in (date, id) order
	all, err := ledger.ListEntries(ctx, tc.ID, core.ListEntriesQuery{})
	if err != nil {
		t.Fatalf("ListEntries failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(all))
	}
	if all[0].Description != "January" || all[2].Description != "March" {
		t.Errorf("Unexpected order: %s ... %s", all[0].Description, all[2].Description)
	}
	if all[1].TotalDebit.StringFixed(2) != "20.00" {
		t.Errorf("Expected summary totals, got %s", all[1].TotalDebit)
	}

	// Date window
	from := mustDay(t, "2025-02-01")
	to := mustDay(t, "2025-02-28")
	feb, err := ledger.ListEntries(ctx, tc.ID, core.ListEntriesQuery{From: &from, To: &to})
	if err != nil {
		t.Fatalf("ListEntries window failed: %v", err)
	}
	if len(feb) != 1 || feb[0].Description != "February" {
		t.Errorf("Expected only the February entry, got %d rows", len(feb))
	}

	// Take cap
	one, err := ledger.ListEntries(ctx, tc.ID, core.ListEntriesQuery{Take: 1})
	if err != nil {
		t.Fatalf("ListEntries take failed: %v", err)
	}
	if len(one) != 1 {
		t.Errorf("Expected 1 entry with take=1, got %d", len(one))
	}
}

func TestLedgerCommands_ReverseSwapsLines(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	tc := seedCompany(t, pool)
	ctx := context.Background()

	ledger := core.NewLedgerService(pool)
	commands := core.NewLedgerCommands(ledger, core.NewPeriodCloseService(pool, ledger))

	original := postBalanced(t, pool, tc.ID, "2025-01-15", "Posted to wrong account", tc.Cash, tc.Sales, "500.00")

	// 1. Reverse it
	reason := "wrong account"
	tx := begin(t, pool)
	result, err := commands.ReverseTx(ctx, tx, core.ReverseEntryInput{
		CompanyID: tc.ID,
		EntryID:   original.ID,
		Reason:    &reason,
	})
	if err != nil {
		t.Fatalf("ReverseTx failed: %v", err)
	}
	commit(t, tx)

	reversal := result.Reversal
	if reversal.Description != "Reversal of JE-2025-0001" {
		t.Errorf("Unexpected reversal description: %s", reversal.Description)
	}
	if reversal.ReversalOfJournalEntryID == nil || *reversal.ReversalOfJournalEntryID != original.ID {
		t.Error("Reversal must point at the original entry")
	}
	// Sides swapped: the original debited cash, the reversal credits it.
	if reversal.Lines[0].AccountID != tc.Cash || reversal.Lines[0].Credit.StringFixed(2) != "500.00" {
		t.Errorf("Expected swapped cash line, got %+v", reversal.Lines[0])
	}
	if reversal.Lines[1].AccountID != tc.Sales || reversal.Lines[1].Debit.StringFixed(2) != "500.00" {
		t.Errorf("Expected swapped sales line, got %+v", reversal.Lines[1])
	}

	// 2. Reversing twice is an invalid state
	tx = begin(t, pool)
	_, err = commands.ReverseTx(ctx, tx, core.ReverseEntryInput{CompanyID: tc.ID, EntryID: original.ID})
	rollback(tx)
	if !core.IsKind(err, core.KindInvalidState) {
		t.Fatalf("Expected INVALID_STATE on double reversal, got %v", err)
	}
	details := core.DetailsOf(err)
	if details["reversal_journal_entry_id"] == nil {
		t.Error("Expected the existing reversal id in the error details")
	}

	// 3. A reversal itself cannot be reversed
	tx = begin(t, pool)
	_, err = commands.ReverseTx(ctx, tx, core.ReverseEntryInput{CompanyID: tc.ID, EntryID: reversal.ID})
	rollback(tx)
	if !core.IsKind(err, core.KindInvalidState) {
		t.Errorf("Expected INVALID_STATE reversing a reversal, got %v", err)
	}
}

func TestLedgerCommands_VoidMarksOriginal(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	tc := seedCompany(t, pool)
	ctx := context.Background()

	ledger := core.NewLedgerService(pool)
	commands := core.NewLedgerCommands(ledger, core.NewPeriodCloseService(pool, ledger))

	original := postBalanced(t, pool, tc.ID, "2025-01-15", "Duplicate posting", tc.Cash, tc.Sales, "75.00")

	// 1. Void requires a reason
	tx := begin(t, pool)
	_, err := commands.VoidTx(ctx, tx, core.VoidEntryInput{CompanyID: tc.ID, EntryID: original.ID})
	rollback(tx)
	if !core.IsKind(err, core.KindValidation) {
		t.Fatalf("Expected VALIDATION without a reason, got %v", err)
	}

	// 2. Void it
	tx = begin(t, pool)
	result, err := commands.VoidTx(ctx, tx, core.VoidEntryInput{
		CompanyID: tc.ID,
		EntryID:   original.ID,
		Reason:    "entered twice",
	})
	if err != nil {
		t.Fatalf("VoidTx failed: %v", err)
	}
	commit(t, tx)

	if result.Original.VoidedAt == nil {
		t.Error("Expected void metadata on the original")
	}
	if result.Original.VoidReason == nil || *result.Original.VoidReason != "entered twice" {
		t.Error("Expected the void reason on the original")
	}
	if result.Reversal == nil {
		t.Fatal("Expected a neutralizing reversal entry")
	}

	// The original's lines stay untouched.
	got, err := ledger.GetEntry(ctx, tc.ID, original.ID)
	if err != nil {
		t.Fatalf("GetEntry failed: %v", err)
	}
	if len(got.Lines) != 2 || got.Lines[0].Debit.StringFixed(2) != "75.00" {
		t.Error("Void must not modify the original's lines")
	}

	// 3. A voided entry rejects further corrections
	tx = begin(t, pool)
	_, err = commands.ReverseTx(ctx, tx, core.ReverseEntryInput{CompanyID: tc.ID, EntryID: original.ID})
	rollback(tx)
	if !core.IsKind(err, core.KindInvalidState) {
		t.Errorf("Expected INVALID_STATE reversing a voided entry, got %v", err)
	}
}

func TestLedgerCommands_AdjustPostsCorrectedEntry(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	tc := seedCompany(t, pool)
	ctx := context.Background()

	ledger := core.NewLedgerService(pool)
	commands := core.NewLedgerCommands(ledger, core.NewPeriodCloseService(pool, ledger))

	original := postBalanced(t, pool, tc.ID, "2025-01-15", "Rent misposted", tc.Cash, tc.Sales, "900.00")

	tx := begin(t, pool)
	result, err := commands.AdjustTx(ctx, tx, core.AdjustEntryInput{
		CompanyID: tc.ID,
		EntryID:   original.ID,
		Reason:    "amount should be 950",
		Lines: []core.PostLineInput{
			{AccountID: tc.Cash, Debit: amt("950.00")},
			{AccountID: tc.Sales, Credit: amt("950.00")},
		},
	})
	if err != nil {
		t.Fatalf("AdjustTx failed: %v", err)
	}
	commit(t, tx)

	// Reversal neutralizes the original, the corrected entry carries the
	// replacement lines.
	if result.Reversal == nil || result.Corrected == nil {
		t.Fatal("Expected both a reversal and a corrected entry")
	}
	if result.Corrected.Description != "Adjustment of JE-2025-0001" {
		t.Errorf("Unexpected corrected description: %s", result.Corrected.Description)
	}
	if result.Corrected.TotalDebit().StringFixed(2) != "950.00" {
		t.Errorf("Expected corrected total 950.00, got %s", result.Corrected.TotalDebit())
	}

	// Net effect on cash across the three entries: +900 -900 +950.
	var net string
	err = pool.QueryRow(ctx, `
		SELECT (COALESCE(SUM(debit), 0) - COALESCE(SUM(credit), 0))::text
		FROM journal_lines WHERE company_id = $1 AND account_id = $2
	`, tc.ID, tc.Cash).Scan(&net)
	if err != nil {
		t.Fatalf("Net query failed: %v", err)
	}
	if net != "950.00" {
		t.Errorf("Expected net cash effect 950.00, got %s", net)
	}
}
