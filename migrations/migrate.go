// Package migrations embeds the schema files and applies them in order.
// Each file runs in its own transaction and is recorded with a checksum, so
// reruns are no-ops and edited history is caught instead of silently
// re-applied.
package migrations

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

//go:embed *.sql
var files embed.FS

// advisoryLockID guards against two migrators running at once.
const advisoryLockID = 6847113

// Apply runs every embedded migration that has not been applied yet.
func Apply(ctx context.Context, pool *pgxpool.Pool, log *logrus.Logger) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection for migration lock: %w", err)
	}
	defer conn.Release()

	var locked bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", advisoryLockID).Scan(&locked); err != nil {
		return fmt.Errorf("failed to query advisory lock: %w", err)
	}
	if !locked {
		return errors.New("another migrator is currently running")
	}
	defer func() {
		_, _ = conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", advisoryLockID)
	}()

	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			checksum   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	for _, filename := range discover() {
		if err := apply(ctx, pool, log, filename); err != nil {
			return err
		}
	}
	return nil
}

// discover lists the embedded migrations in version order.
func discover() []string {
	entries, err := files.ReadDir(".")
	if err != nil {
		// The FS is embedded at compile time; ReadDir cannot fail at runtime.
		panic(err)
	}

	var filenames []string
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		filenames = append(filenames, entry.Name())
	}
	sort.Strings(filenames)
	return filenames
}

// version is the NNN prefix of NNN_description.sql.
func version(filename string) string {
	return strings.SplitN(filename, "_", 2)[0]
}

func apply(ctx context.Context, pool *pgxpool.Pool, log *logrus.Logger, filename string) error {
	raw, err := files.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read embedded migration %s: %w", filename, err)
	}
	sum := sha256.Sum256(raw)
	checksum := hex.EncodeToString(sum[:])

	var existing string
	err = pool.QueryRow(ctx,
		"SELECT checksum FROM schema_migrations WHERE version = $1", version(filename),
	).Scan(&existing)
	switch {
	case err == nil:
		if existing != checksum {
			return fmt.Errorf("checksum mismatch for %s: migration file changed after being applied", filename)
		}
		log.WithField("migration", filename).Debug("already applied")
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		// Not applied yet.
	default:
		return fmt.Errorf("failed to check migration %s: %w", filename, err)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for %s: %w", filename, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, string(raw)); err != nil {
		return fmt.Errorf("failed to execute migration %s: %w", filename, err)
	}
	if _, err := tx.Exec(ctx,
		"INSERT INTO schema_migrations (version, filename, checksum) VALUES ($1, $2, $3)",
		version(filename), filename, checksum,
	); err != nil {
		return fmt.Errorf("failed to record migration %s: %w", filename, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit migration %s: %w", filename, err)
	}

	log.WithField("migration", filename).Info("applied")
	return nil
}
