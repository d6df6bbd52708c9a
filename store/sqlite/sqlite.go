/*
Package sqlite provides a SQLite-backed implementation of ledger.TxStore.

PURPOSE:
  Persists accounts, the append-only transaction ledger, the promotion
  catalog and event pools. Queries go through sqlx; the same statements run
  against the database handle or inside a transaction (see queries).

KEY TABLES:
  accounts:               Identity, role, flags and the points counter
  transactions:           Append-only ledger rows
  transaction_promotions: Ordered promotion links per transaction
  promotions:             Promotion catalog
  promotion_uses:         One-time promotion usage per user
  events:                 Event pools (points, points_remain, points_awarded)
  event_organizers:       Organizer membership
  event_guests:           Guest membership (id preserves join order)

COUNTERS:
  points, points_remain and points_awarded only change through relative
  UPDATE statements. The conditional variants carry their guard in the WHERE
  clause and report success through RowsAffected:

    UPDATE accounts SET points = points - ? WHERE id = ? AND points >= ?

CONCURRENCY:
  The database is opened with WAL, _txlock=immediate and a single pooled
  connection. Atomic units therefore run one at a time and a unit holds the
  write lock from its first statement. SQLITE_BUSY from another process maps
  to ledger.ErrConcurrentModification.

TIME:
  Timestamps are stored as fixed-width UTC strings (timeLayout) so that
  string comparison in SQL orders them correctly.

USAGE:
  store, err := sqlite.New("./data/loyalty.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := ledger.NewEngine(store, ledger.DefaultConfig())

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/loyalty-engine/ledger"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements ledger.TxStore using SQLite.
type Store struct {
	queries
	db *sqlx.DB
}

var (
	_ ledger.TxStore = (*Store)(nil)
	_ ledger.Store   = queries{}
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000"
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: keeps a :memory: database alive and serializes writers.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	store := NewWithDB(db)
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// NewWithDB wraps an already-open handle without migrating it.
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{queries: queries{q: db}, db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		utorid TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'regular',
		points INTEGER NOT NULL DEFAULT 0,
		verified BOOLEAN NOT NULL DEFAULT FALSE,
		suspicious BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	-- Append-only ledger; only suspicious, processed and processed_by_id change
	CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		user_id INTEGER NOT NULL REFERENCES accounts(id),
		created_by_id INTEGER NOT NULL REFERENCES accounts(id),
		awarded INTEGER,
		redeemed INTEGER,
		spent TEXT,
		related_id INTEGER,
		remark TEXT NOT NULL DEFAULT '',
		suspicious BOOLEAN NOT NULL DEFAULT FALSE,
		processed BOOLEAN,
		processed_by_id INTEGER REFERENCES accounts(id),
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_user
		ON transactions(user_id, id);
	CREATE INDEX IF NOT EXISTS idx_transactions_pending
		ON transactions(kind, processed) WHERE kind = 'redemption';

	CREATE TABLE IF NOT EXISTS transaction_promotions (
		transaction_id INTEGER NOT NULL REFERENCES transactions(id),
		promotion_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (transaction_id, promotion_id)
	);

	CREATE TABLE IF NOT EXISTS promotions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		description TEXT NOT NULL,
		kind TEXT NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		min_spending TEXT,
		rate TEXT,
		points INTEGER,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_promotions_window
		ON promotions(kind, start_time, end_time);

	CREATE TABLE IF NOT EXISTS promotion_uses (
		user_id INTEGER NOT NULL REFERENCES accounts(id),
		promotion_id INTEGER NOT NULL REFERENCES promotions(id) ON DELETE CASCADE,
		used BOOLEAN NOT NULL DEFAULT TRUE,
		PRIMARY KEY (user_id, promotion_id)
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		capacity INTEGER,
		points INTEGER NOT NULL,
		points_remain INTEGER NOT NULL,
		points_awarded INTEGER NOT NULL DEFAULT 0,
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		published BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL,
		CHECK (points_remain >= 0)
	);

	CREATE TABLE IF NOT EXISTS event_organizers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id INTEGER NOT NULL REFERENCES events(id),
		user_id INTEGER NOT NULL REFERENCES accounts(id),
		UNIQUE (event_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS event_guests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id INTEGER NOT NULL REFERENCES events(id),
		user_id INTEGER NOT NULL REFERENCES accounts(id),
		UNIQUE (event_id, user_id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// RunAtomically executes fn within a database transaction.
func (s *Store) RunAtomically(ctx context.Context, fn func(ledger.Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", mapErr(err))
	}
	defer tx.Rollback()

	if err := fn(queries{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", mapErr(err))
	}
	return nil
}

// queries runs every ledger.Store method against either the database handle
// or an open transaction.
type queries struct {
	q sqlx.ExtContext
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

// parseTime accepts timeLayout and RFC 3339 for rows written by other tools.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
}

// timeParser parses several columns of one row and keeps the first error.
type timeParser struct{ err error }

func (p *timeParser) parse(s string) time.Time {
	if p.err != nil {
		return time.Time{}
	}
	var t time.Time
	t, p.err = parseTime(s)
	return t
}

// stamp returns t, or the current time when t is zero, in UTC together with
// its stored form.
func stamp(t time.Time) (time.Time, string) {
	if t.IsZero() {
		t = time.Now()
	}
	t = t.UTC()
	return t, formatTime(t)
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func nullDecimal(p *decimal.Decimal) decimal.NullDecimal {
	if p == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *p, Valid: true}
}

func decimalPtr(n decimal.NullDecimal) *decimal.Decimal {
	if !n.Valid {
		return nil
	}
	v := n.Decimal
	return &v
}

// exec runs a statement and reports whether it touched at least one row.
func (q queries) exec(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := q.q.ExecContext(ctx, query, args...)
	if err != nil {
		return false, mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// insert runs an INSERT and returns the new row id.
func (q queries) insert(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := q.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, mapErr(err)
	}
	return res.LastInsertId()
}

// get scans one row into dest, mapping sql.ErrNoRows to notFound.
func (q queries) get(ctx context.Context, dest any, notFound error, query string, args ...any) error {
	err := sqlx.GetContext(ctx, q.q, dest, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound
	}
	return mapErr(err)
}

// all scans every row into dest, a pointer to a slice.
func (q queries) all(ctx context.Context, dest any, query string, args ...any) error {
	return mapErr(sqlx.SelectContext(ctx, q.q, dest, query, args...))
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var serr sqlite3.Error
	if errors.As(err, &serr) && (serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %v", ledger.ErrConcurrentModification, err)
	}
	return err
}

func isUniqueConstraintError(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode == sqlite3.ErrConstraintUnique || serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
