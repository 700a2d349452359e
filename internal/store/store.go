package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// schemaVersion is the schema version this build writes and expects. A
// store opened from a newer on-disk schema_version is rejected rather than
// silently misread.
const schemaVersion = 1

// Store is the Multi-Watch Store: a single SQLite database holding the
// cache, hierarchy and prefix indices, shared-node table, event log, and
// counters for every registered watch.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if absent) the SQLite database at dbPath, applies
// any pending schema migrations, and verifies schema compatibility. The
// database is configured for WAL durability with a single writer, mirroring
// the sole-writer pattern an embedded cache/log store needs under
// concurrent readers.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening database %s: %w", dbPath, err)
	}

	// Sole-writer pattern: serialize writers through one connection so
	// SQLite's busy_timeout, not application retry logic, absorbs
	// contention between background jobs and the event stream.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	if err := checkSchemaVersion(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("store opened", slog.String("db_path", dbPath))

	return &Store{db: db, logger: logger}, nil
}

// runMigrations applies all pending schema migrations via goose's
// Provider API.
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("store: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("store: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// checkSchemaVersion rejects a store whose on-disk schema_version is newer
// than what this build understands. An older version would have already
// been brought forward by runMigrations.
func checkSchemaVersion(ctx context.Context, db *sql.DB) error {
	var onDisk int
	err := db.QueryRowContext(ctx, `SELECT schema_version FROM store_meta WHERE id = 1`).Scan(&onDisk)
	if err != nil {
		return fmt.Errorf("store: reading schema version: %w", err)
	}

	if onDisk > schemaVersion {
		return fmt.Errorf("%w: on-disk version %d, build supports %d", ErrSchemaIncompatible, onDisk, schemaVersion)
	}

	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// CheckIntegrity runs SQLite's own integrity check and reports any
// corruption found as ErrCorrupted. Callers are expected to run this
// opportunistically (e.g. on an operator-triggered diagnostic), not on
// every open — it scans the whole database file.
func (s *Store) CheckIntegrity(ctx context.Context) error {
	var result string
	if err := s.db.QueryRowContext(ctx, `PRAGMA integrity_check`).Scan(&result); err != nil {
		return fmt.Errorf("store: running integrity check: %w", err)
	}

	if result != "ok" {
		return fmt.Errorf("%w: %s", ErrCorrupted, result)
	}

	return nil
}

// withTx runs fn inside a single transaction, committing on success and
// rolling back when fn returns an error. A panic inside fn is not
// recovered here and skips the rollback.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: beginning transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("rollback failed", slog.Any("error", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: committing transaction: %w", err)
	}

	return nil
}

// uintToInt64 reinterprets a uint64's bit pattern as an int64 for storage
// in a SQLite INTEGER column, which is a signed 64-bit type. It round
// trips exactly via int64ToUint.
func uintToInt64(u uint64) int64 {
	return int64(u)
}

// int64ToUint reverses uintToInt64.
func int64ToUint(i int64) uint64 {
	return uint64(i)
}
