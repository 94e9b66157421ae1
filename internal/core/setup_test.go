package core_test

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"accounting-engine/internal/core"
	"accounting-engine/migrations"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// setupTestDB connects to the test database, applies the embedded migrations,
// and wipes every table so each test starts from nothing.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	_ = godotenv.Load("../../.env")

	// Use a dedicated TEST database to avoid wiping the live app database.
	// Set TEST_DATABASE_URL in your .env or environment to run integration tests.
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set — skipping integration test to protect live database")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	quiet := logrus.New()
	quiet.SetOutput(io.Discard)
	if err := migrations.Apply(ctx, pool, quiet); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	_, err = pool.Exec(ctx, `
		TRUNCATE TABLE journal_lines, journal_entries, document_sequences, period_closes,
		               stock_moves, stock_balances, items, locations, accounts,
		               idempotency_records, outbox_events, processed_events, audit_logs,
		               account_balances, daily_summaries, companies
		RESTART IDENTITY CASCADE
	`)
	if err != nil {
		t.Fatalf("Failed to clean test database: %v", err)
	}
	return pool
}

// testCompany carries the fixture ids created by seedCompany.
type testCompany struct {
	ID      int
	Cash    int
	AR      int
	Sales   int
	Rent    int
	Capital int
	Loan    int

	LocationID int
	WidgetID   int
	GadgetID   int
	ServiceID  int
}

func seedCompany(t *testing.T, pool *pgxpool.Pool) testCompany {
	t.Helper()
	ctx := context.Background()

	var tc testCompany
	if err := pool.QueryRow(ctx,
		"INSERT INTO companies (name) VALUES ('Test Company') RETURNING id",
	).Scan(&tc.ID); err != nil {
		t.Fatalf("Failed to seed company: %v", err)
	}

	tc.Cash = seedAccount(t, pool, tc.ID, "1000", "Cash", core.AccountAsset, core.NormalDebit, core.GroupCash, "")
	tc.AR = seedAccount(t, pool, tc.ID, "1100", "Accounts Receivable", core.AccountAsset, core.NormalDebit, core.GroupAccountsReceivable, "")
	tc.Loan = seedAccount(t, pool, tc.ID, "2500", "Bank Loan", core.AccountLiability, core.NormalCredit, core.GroupLongTermLiability, string(core.ActivityFinancing))
	tc.Capital = seedAccount(t, pool, tc.ID, "3000", "Owner Capital", core.AccountEquity, core.NormalCredit, core.GroupEquity, string(core.ActivityFinancing))
	tc.Sales = seedAccount(t, pool, tc.ID, "4000", "Sales Revenue", core.AccountIncome, core.NormalCredit, "", "")
	tc.Rent = seedAccount(t, pool, tc.ID, "5100", "Rent Expense", core.AccountExpense, core.NormalDebit, "", "")

	if err := pool.QueryRow(ctx,
		"INSERT INTO locations (company_id, name, is_default) VALUES ($1, 'Main Warehouse', TRUE) RETURNING id",
		tc.ID,
	).Scan(&tc.LocationID); err != nil {
		t.Fatalf("Failed to seed location: %v", err)
	}

	if err := pool.QueryRow(ctx,
		"INSERT INTO items (company_id, name, sku, type, track_inventory) VALUES ($1, 'Widget', 'WID-1', 'GOODS', TRUE) RETURNING id",
		tc.ID,
	).Scan(&tc.WidgetID); err != nil {
		t.Fatalf("Failed to seed item: %v", err)
	}
	if err := pool.QueryRow(ctx,
		"INSERT INTO items (company_id, name, sku, type, track_inventory) VALUES ($1, 'Gadget', 'GAD-1', 'GOODS', TRUE) RETURNING id",
		tc.ID,
	).Scan(&tc.GadgetID); err != nil {
		t.Fatalf("Failed to seed item: %v", err)
	}
	if err := pool.QueryRow(ctx,
		"INSERT INTO items (company_id, name, type, track_inventory) VALUES ($1, 'Consulting', 'SERVICE', FALSE) RETURNING id",
		tc.ID,
	).Scan(&tc.ServiceID); err != nil {
		t.Fatalf("Failed to seed item: %v", err)
	}

	return tc
}

func seedAccount(t *testing.T, pool *pgxpool.Pool, companyID int, code, name string,
	typ core.AccountType, normal core.NormalBalance, reportGroup, activity string) int {
	t.Helper()

	var group, act any
	if reportGroup != "" {
		group = reportGroup
	}
	if activity != "" {
		act = activity
	}

	var id int
	err := pool.QueryRow(context.Background(), `
		INSERT INTO accounts (company_id, code, name, type, normal_balance, report_group, cashflow_activity)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, companyID, code, name, typ, normal, group, act).Scan(&id)
	if err != nil {
		t.Fatalf("Failed to seed account %s: %v", code, err)
	}
	return id
}

func begin(t *testing.T, pool *pgxpool.Pool) pgx.Tx {
	t.Helper()
	tx, err := pool.Begin(context.Background())
	if err != nil {
		t.Fatalf("Failed to begin transaction: %v", err)
	}
	return tx
}

func commit(t *testing.T, tx pgx.Tx) {
	t.Helper()
	if err := tx.Commit(context.Background()); err != nil {
		t.Fatalf("Failed to commit transaction: %v", err)
	}
}

func rollback(tx pgx.Tx) {
	_ = tx.Rollback(context.Background())
}

func amt(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func mustDay(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := core.ParseDay(s)
	if err != nil {
		t.Fatalf("Bad test date %q: %v", s, err)
	}
	return d
}

// postBalanced posts a two-line entry: debit one account, credit another.
func postBalanced(t *testing.T, pool *pgxpool.Pool, companyID int, date, description string,
	debitAccount, creditAccount int, amount string) *core.JournalEntry {
	t.Helper()

	entry, err := core.NewLedgerService(pool).PostEntry(context.Background(), core.PostEntryInput{
		CompanyID:   companyID,
		Date:        mustDay(t, date),
		Description: description,
		Lines: []core.PostLineInput{
			{AccountID: debitAccount, Debit: amt(amount)},
			{AccountID: creditAccount, Credit: amt(amount)},
		},
	})
	if err != nil {
		t.Fatalf("Failed to post entry: %v", err)
	}
	return entry
}
