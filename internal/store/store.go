// Package store persists organizations, rules, imported entries,
// materialized events and import runs in SQLite.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - initial tables
// 1 - unique (organization, source_ref) for imported calendar events
const currentSchemaVersion = 1

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// Store owns the database handle. Its embedded Queries run outside any
// transaction; InTx hands callers a Queries bound to one.
type Store struct {
	*Queries
	db *sqlx.DB
}

// Queries runs every repository statement against a database or a
// transaction.
type Queries struct {
	q   sqlx.ExtContext
	now func() time.Time
}

// Option customizes Open.
type Option func(*Store)

// WithClock overrides the timestamp source for created/updated columns.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open creates or opens the SQLite database at path, applies pragmas and
// brings the schema up to date. Safe to call on an existing database.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite has a single writer; one connection avoids SQLITE_BUSY and makes
	// the per-connection pragmas below apply to every statement.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{db: db, Queries: &Queries{q: db, now: time.Now}}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying handle.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// InTx runs fn inside a transaction, committing when fn returns nil. fn must
// only use the Queries it is given: the pool has a single connection.
func (s *Store) InTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Queries{q: tx, now: s.now}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (q *Queries) timestamp() time.Time {
	return q.now().UTC()
}

func applyPragmas(db *sqlx.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sqlx.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental migrations based on user_version.
func runMigrations(db *sqlx.DB) error {
	var version int
	if err := db.Get(&version, "PRAGMA user_version"); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// migrateToV1 keeps one materialized row per imported entry.
func migrateToV1(db *sqlx.DB) error {
	_, err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_events_import_ref
		ON calendar_events(organization_id, source_ref)
		WHERE source = 'import'
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
