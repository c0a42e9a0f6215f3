// Package store provides the embedded SQLite cache backing the offline-first
// sync core.
//
// The store holds six collections: trips, registration drafts, the condition
// catalog, enrollments, medical-record snapshots, and incident-report drafts.
// It is the only durable state the application owns; everything else is
// rebuilt from the remote service.
//
// The database runs in embedded mode with WAL for concurrent reads. The
// schema carries a version number (PRAGMA user_version) and migrations are
// strictly additive: a newer binary opening an older database adds columns
// and indexes, never drops data. A zero/unknown version gets a fresh schema.
//
// Error contract: a missing key on read returns ErrNotFound, which callers
// treat as data, not failure. Any other error means the offline guarantee
// itself is broken and propagates to the caller.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrNotFound is returned when a keyed read finds no row.
var ErrNotFound = errors.New("record not found")

// schemaVersion is the current PRAGMA user_version. Bump it together with a
// new entry in migrations; never edit an existing migration.
const schemaVersion = 2

// Store wraps the embedded SQLite connection holding the local cache.
type Store struct {
	conn   *sql.DB
	path   string
	closed bool

	subMu  sync.Mutex
	subs   map[int]chan struct{}
	nextID int
}

// Open creates (or opens) the cache database at path and applies pending
// schema migrations. The caller must Close() the store when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping cache database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		conn: conn,
		path: path,
		subs: make(map[int]chan struct{}),
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	if err := s.migrate(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close checkpoints the WAL and closes the connection. The connection
// handle stays in place so a straggling read after Close surfaces
// database/sql's closed error instead of crashing.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close cache database: %w", err)
	}
	return nil
}

// migrate applies all schema migrations newer than the stored user_version.
func (s *Store) migrate(ctx context.Context) error {
	var version int
	if err := s.conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if version > schemaVersion {
		return fmt.Errorf("cache schema version %d is newer than supported %d", version, schemaVersion)
	}

	for v := version; v < schemaVersion; v++ {
		tx, err := s.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", v+1, err)
		}
		if err := migrations[v](ctx, tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration to version %d failed: %w", v+1, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version=%d", v+1)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to stamp schema version %d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", v+1, err)
		}
	}

	return nil
}

// migrations[v] migrates a version-v database to version v+1.
// Migrations must be additive: new tables, columns, and indexes only.
var migrations = []func(context.Context, *sql.Tx) error{
	migrateV1,
	migrateV2,
}

// migrateV1 creates the initial six-collection schema.
func migrateV1(ctx context.Context, tx *sql.Tx) error {
	schema := `
	CREATE TABLE IF NOT EXISTS trips (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		total_slots INTEGER NOT NULL DEFAULT 0,
		available_slots INTEGER NOT NULL DEFAULT 0,
		state TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS registration_drafts (
		id TEXT PRIMARY KEY,
		trip_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		form TEXT NOT NULL,  -- JSON payload
		created_at TEXT NOT NULL,
		last_attempt TEXT
	);

	CREATE TABLE IF NOT EXISTS condition_catalog (
		id INTEGER PRIMARY KEY,
		label TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS enrollments (
		id TEXT PRIMARY KEY,
		trip_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		state TEXT NOT NULL,
		profile TEXT NOT NULL,  -- JSON {full_name, phone}
		report_created INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS medical_records (
		user_id TEXT PRIMARY KEY,
		data TEXT NOT NULL  -- opaque JSON payload
	);

	CREATE TABLE IF NOT EXISTS incident_report_drafts (
		id TEXT PRIMARY KEY,
		enrollment_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		report TEXT NOT NULL,  -- JSON payload
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trips_start ON trips(start_date);
	CREATE INDEX IF NOT EXISTS idx_trips_state ON trips(state);

	CREATE INDEX IF NOT EXISTS idx_drafts_trip ON registration_drafts(trip_id);
	CREATE INDEX IF NOT EXISTS idx_drafts_user ON registration_drafts(user_id);
	CREATE INDEX IF NOT EXISTS idx_drafts_status ON registration_drafts(status);

	CREATE INDEX IF NOT EXISTS idx_conditions_label ON condition_catalog(label);

	CREATE INDEX IF NOT EXISTS idx_enrollments_trip ON enrollments(trip_id);
	CREATE INDEX IF NOT EXISTS idx_enrollments_user ON enrollments(user_id);

	CREATE INDEX IF NOT EXISTS idx_reports_enrollment ON incident_report_drafts(enrollment_id);
	CREATE INDEX IF NOT EXISTS idx_reports_status ON incident_report_drafts(status);
	`

	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// migrateV2 adds trip presentation fields and enrollment display fields.
func migrateV2(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`ALTER TABLE trips ADD COLUMN min_participants INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE trips ADD COLUMN difficulty TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE trips ADD COLUMN location TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE trips ADD COLUMN cover_image_url TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE enrollments ADD COLUMN created_at TEXT`,
		`ALTER TABLE enrollments ADD COLUMN menu TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE enrollments ADD COLUMN trip_title TEXT NOT NULL DEFAULT ''`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed %q: %w", stmt, err)
		}
	}
	return nil
}

// Subscribe registers for change notifications. The returned channel receives
// a (coalesced) signal after any mutation; the cancel function removes the
// subscription. Used by the status projection to recompute counters.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan struct{}, 1)
	s.subs[id] = ch

	cancel := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs, id)
	}
	return ch, cancel
}

// notify signals all subscribers that a collection changed. Signals coalesce:
// a subscriber that has not drained its channel gets at most one more.
func (s *Store) notify() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// timeToNullString converts a time pointer to a nullable string for SQL.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

// marshalJSON serializes an embedded payload column.
func marshalJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}
	return string(data), nil
}
