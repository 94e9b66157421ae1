// admin bundles the operational one-shots: schema migration, projection
// rebuild, idempotency garbage collection and the event schema catalog.
//
// Usage: admin <migrate|rebuild-projections|idempotency-gc|schema-catalog> [flags]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"accounting-engine/internal/config"
	"accounting-engine/internal/core"
	"accounting-engine/internal/db"
	"accounting-engine/internal/outbox"
	"accounting-engine/migrations"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: admin <migrate|rebuild-projections|idempotency-gc|schema-catalog> [flags]")
		os.Exit(2)
	}
	command, args := os.Args[1], os.Args[2:]

	// schema-catalog is pure reflection; it must work without a database.
	if command == "schema-catalog" {
		if err := schemaCatalog(); err != nil {
			fmt.Fprintf(os.Stderr, "schema-catalog failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := cfg.NewLogger()

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("database connection failed")
	}
	defer pool.Close()

	switch command {
	case "migrate":
		err = migrate(ctx, pool, log)
	case "rebuild-projections":
		err = rebuildProjections(ctx, pool, log, args)
	case "idempotency-gc":
		err = idempotencyGC(ctx, pool, log, args)
	default:
		log.Fatalf("unknown command %q", command)
	}
	if err != nil {
		log.WithError(err).Fatalf("%s failed", command)
	}
}

func migrate(ctx context.Context, pool *pgxpool.Pool, log *logrus.Logger) error {
	if err := migrations.Apply(ctx, pool, log); err != nil {
		return err
	}
	log.Info("schema is up to date")
	return nil
}

func rebuildProjections(ctx context.Context, pool *pgxpool.Pool, log *logrus.Logger, args []string) error {
	fs := flag.NewFlagSet("rebuild-projections", flag.ExitOnError)
	companyID := fs.Int("company", 0, "company id (required)")
	fromRaw := fs.String("from", "", "start date YYYY-MM-DD (required)")
	toRaw := fs.String("to", "", "end date YYYY-MM-DD (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *companyID <= 0 || *fromRaw == "" || *toRaw == "" {
		fs.Usage()
		return fmt.Errorf("-company, -from and -to are required")
	}
	from, err := core.ParseDay(*fromRaw)
	if err != nil {
		return err
	}
	to, err := core.ParseDay(*toRaw)
	if err != nil {
		return err
	}

	result, err := core.NewProjectionService(pool).Rebuild(ctx, *companyID, from, to)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"company_id":           *companyID,
		"account_balance_rows": result.AccountBalanceRows,
		"daily_summary_rows":   result.DailySummaryRows,
		"processed_events":     result.ProcessedEvents,
	}).Info("projections rebuilt")
	return nil
}

func idempotencyGC(ctx context.Context, pool *pgxpool.Pool, log *logrus.Logger, args []string) error {
	fs := flag.NewFlagSet("idempotency-gc", flag.ExitOnError)
	olderThan := fs.Duration("older-than", 24*time.Hour, "delete finished records older than this")
	if err := fs.Parse(args); err != nil {
		return err
	}

	deleted, err := core.NewIdempotencyStore(pool).DeleteExpired(ctx, *olderThan)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"deleted":    deleted,
		"older_than": olderThan.String(),
	}).Info("idempotency records collected")
	return nil
}

func schemaCatalog() error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(outbox.Catalog())
}
