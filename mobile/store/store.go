// Package store is the device-local transaction store: durable storage of
// completed loadings awaiting sync, plus the cached reference catalog.
// It survives app restarts; anything here but not yet confirmed by the
// server is retried on the next reconciliation pass.
package store

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// started_at orders the pending queue lexicographically, so it must be a
// fixed-width rendering: RFC3339Nano trims trailing zeros, which makes a
// sub-second timestamp sort before a whole-second one in the same second
// ('.' < 'Z').
const startedAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

var (
	// ErrDuplicateID means a record with the same id is already stored.
	// IDs are generated once per transaction, so hitting this indicates a
	// protocol violation upstream, not a normal collision.
	ErrDuplicateID = errors.New("store: duplicate record id")

	// ErrNoCatalog means no catalog snapshot has ever been persisted.
	ErrNoCatalog = errors.New("store: no catalog snapshot")
)

// Store wraps the on-device SQLite database.
// Uses WAL mode and a single connection for a single-writer discipline.
type Store struct {
	db *sql.DB
}

// Open creates or opens the device database at the given path.
// Applies required pragmas and the schema automatically; safe to call on
// every app start.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time; a single connection also
	// serializes Persist/Remove against each other.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
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

// Persist stores a finalized record for later sync. The record must carry
// a non-nil id; a second Persist with the same id fails with ErrDuplicateID.
func (s *Store) Persist(rec *Record) error {
	if rec.ID == uuid.Nil {
		return errors.New("store: record has no id")
	}

	stored := *rec
	stored.SyncState = StatePendingSync

	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", rec.ID, err)
	}

	_, err = s.db.Exec(
		"INSERT INTO pending_loadings (id, data, started_at) VALUES (?, ?, ?)",
		stored.ID.String(), string(data), stored.StartedAt.UTC().Format(startedAtLayout),
	)
	if err != nil {
		var exists int
		if s.db.QueryRow("SELECT 1 FROM pending_loadings WHERE id = ?", stored.ID.String()).Scan(&exists) == nil {
			return ErrDuplicateID
		}
		return fmt.Errorf("persist record %s: %w", rec.ID, err)
	}

	return nil
}

// ListPending returns records awaiting sync, oldest first, so stuck old
// transactions are never starved behind newer ones. Records marked failed
// are excluded; see ListFailed.
func (s *Store) ListPending() ([]*Record, error) {
	return s.list("SELECT data FROM pending_loadings WHERE failed = 0 ORDER BY started_at ASC")
}

// ListFailed returns records rejected permanently by the server, retained
// for operator review, oldest first.
func (s *Store) ListFailed() ([]*PendingInfo, error) {
	rows, err := s.db.Query(
		"SELECT data, attempts, last_error_kind FROM pending_loadings WHERE failed = 1 ORDER BY started_at ASC")
	if err != nil {
		return nil, fmt.Errorf("list failed records: %w", err)
	}
	defer rows.Close()

	var infos []*PendingInfo
	for rows.Next() {
		var data string
		info := &PendingInfo{Failed: true}
		if err := rows.Scan(&data, &info.Attempts, &info.LastErrorKind); err != nil {
			return nil, fmt.Errorf("scan failed record: %w", err)
		}
		var rec Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal failed record: %w", err)
		}
		info.Record = &rec
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

func (s *Store) list(query string) ([]*Record, error) {
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		var rec Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal record: %w", err)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// Remove deletes a record after confirmed sync. Removing an id that is
// not present is a no-op, so cleanup after a crash-and-retry stays safe.
func (s *Store) Remove(id uuid.UUID) error {
	if _, err := s.db.Exec("DELETE FROM pending_loadings WHERE id = ?", id.String()); err != nil {
		return fmt.Errorf("remove record %s: %w", id, err)
	}
	return nil
}

// RecordAttempt bumps the retry counter after a transient failure.
func (s *Store) RecordAttempt(id uuid.UUID, errorKind string) error {
	_, err := s.db.Exec(
		"UPDATE pending_loadings SET attempts = attempts + 1, last_error_kind = ? WHERE id = ?",
		errorKind, id.String())
	if err != nil {
		return fmt.Errorf("record attempt for %s: %w", id, err)
	}
	return nil
}

// MarkFailed flags a record as permanently rejected. It stays stored for
// operator review but ListPending no longer returns it.
func (s *Store) MarkFailed(id uuid.UUID, errorKind string) error {
	_, err := s.db.Exec(
		"UPDATE pending_loadings SET failed = 1, attempts = attempts + 1, last_error_kind = ? WHERE id = ?",
		errorKind, id.String())
	if err != nil {
		return fmt.Errorf("mark record %s failed: %w", id, err)
	}
	return nil
}

// CountPending returns how many records await sync. Reflects Persist and
// Remove synchronously; drives the pending badge in the UI.
func (s *Store) CountPending() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM pending_loadings WHERE failed = 0").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return count, nil
}

// CountFailed returns how many records were permanently rejected.
func (s *Store) CountFailed() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM pending_loadings WHERE failed = 1").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count failed: %w", err)
	}
	return count, nil
}

// SaveCatalog replaces the cached catalog snapshot wholesale.
func (s *Store) SaveCatalog(data []byte, fetchedAt time.Time) error {
	_, err := s.db.Exec(
		"INSERT INTO catalog (id, data, fetched_at) VALUES (1, ?, ?) "+
			"ON CONFLICT(id) DO UPDATE SET data = excluded.data, fetched_at = excluded.fetched_at",
		string(data), fetchedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save catalog: %w", err)
	}
	return nil
}

// LoadCatalog returns the cached catalog snapshot and when it was fetched.
// Returns ErrNoCatalog if no snapshot was ever saved.
func (s *Store) LoadCatalog() ([]byte, time.Time, error) {
	var data string
	var fetchedAt string
	err := s.db.QueryRow("SELECT data, fetched_at FROM catalog WHERE id = 1").Scan(&data, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, ErrNoCatalog
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("load catalog: %w", err)
	}

	t, err := time.Parse(time.RFC3339Nano, fetchedAt)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("parse catalog timestamp %q: %w", fetchedAt, err)
	}
	return []byte(data), t, nil
}
