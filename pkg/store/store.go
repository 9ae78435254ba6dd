// Package store provides the persistent record store the personal data
// manager keeps its collections in. Records are field maps stored as
// JSON in sqlite, addressed by collection name and record ID.
//
// The store knows nothing about encryption. It exposes a pre-write and
// a post-read hook point per collection; the vault layer registers
// field-rewriting callbacks there, and migrations run against the raw
// transactional API with hooks bypassed.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// Errors returned by store operations.
var (
	ErrRecordNotFound = errors.New("store: record not found")
	ErrClosed         = errors.New("store: store is closed")
)

// Hook rewrites a record's field map on its way into or out of the
// store. Hooks receive a private copy and return the map to use; a
// hook error aborts the operation.
type Hook func(fields map[string]string) (map[string]string, error)

// Record is one row of a collection: a string-keyed field map plus
// bookkeeping timestamps.
type Record struct {
	ID        string
	Fields    map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is a sqlite-backed collection store.
type Store struct {
	db   *sql.DB
	path string

	mu       sync.RWMutex
	preWrite map[string]Hook
	postRead map[string]Hook
	bypass   atomic.Bool
}

// Open opens or creates the record store at path. The database is
// restricted to a single connection; concurrent access is limited on a
// single-device store and this avoids writer lock contention.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("store: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS records (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			fields TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (collection, id)
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: failed to create records table: %w", err)
	}

	if err := os.Chmod(path, 0600); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: failed to set database permissions: %w", err)
	}

	return &Store{
		db:       db,
		path:     path,
		preWrite: make(map[string]Hook),
		postRead: make(map[string]Hook),
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Destroy closes the store and removes the database file. Used by the
// wipe path; there is no undo.
func (s *Store) Destroy() error {
	if err := s.Close(); err != nil {
		return fmt.Errorf("store: failed to close before destroy: %w", err)
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: failed to remove database: %w", err)
	}
	return nil
}

// Path returns the filesystem path of the database.
func (s *Store) Path() string {
	return s.path
}

// SetHooks registers the pre-write and post-read callbacks for a
// collection, replacing any previous registration. Either hook may be
// nil.
func (s *Store) SetHooks(collection string, preWrite, postRead Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if preWrite == nil {
		delete(s.preWrite, collection)
	} else {
		s.preWrite[collection] = preWrite
	}
	if postRead == nil {
		delete(s.postRead, collection)
	} else {
		s.postRead[collection] = postRead
	}
}

// ClearHooks removes every registered hook.
func (s *Store) ClearHooks() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preWrite = make(map[string]Hook)
	s.postRead = make(map[string]Hook)
}

// SetBypassHooks suppresses all hooks while on. Migrations hold the
// bypass so bulk field rewrites are not double-processed.
func (s *Store) SetBypassHooks(on bool) {
	s.bypass.Store(on)
}

func (s *Store) applyHook(kind map[string]Hook, collection string, fields map[string]string) (map[string]string, error) {
	if s.bypass.Load() {
		return fields, nil
	}
	s.mu.RLock()
	hook := kind[collection]
	s.mu.RUnlock()
	if hook == nil {
		return fields, nil
	}
	return hook(copyFields(fields))
}

func copyFields(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// Put inserts or replaces a record in a collection, running the
// collection's pre-write hook first. A record without an ID is
// assigned one.
func (s *Store) Put(collection string, rec *Record) error {
	if s.db == nil {
		return ErrClosed
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	fields, err := s.applyHook(s.preWrite, collection, rec.Fields)
	if err != nil {
		return fmt.Errorf("store: pre-write hook failed: %w", err)
	}

	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("store: failed to marshal fields: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.Exec(`
		INSERT INTO records (collection, id, fields, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			fields = excluded.fields,
			updated_at = excluded.updated_at
	`, collection, rec.ID, string(raw), now, now)
	if err != nil {
		return fmt.Errorf("store: failed to save record: %w", err)
	}

	return nil
}

// Get returns one record, running the collection's post-read hook on
// its fields.
func (s *Store) Get(collection, id string) (*Record, error) {
	if s.db == nil {
		return nil, ErrClosed
	}

	row := s.db.QueryRow(`
		SELECT id, fields, created_at, updated_at
		FROM records WHERE collection = ? AND id = ?
	`, collection, id)

	rec, err := scanRecord(row)
	if err != nil {
		return nil, err
	}

	rec.Fields, err = s.applyHook(s.postRead, collection, rec.Fields)
	if err != nil {
		return nil, fmt.Errorf("store: post-read hook failed: %w", err)
	}

	return rec, nil
}

// List returns every record of a collection in insertion order, with
// the post-read hook applied.
func (s *Store) List(collection string) ([]*Record, error) {
	if s.db == nil {
		return nil, ErrClosed
	}

	rows, err := s.db.Query(`
		SELECT id, fields, created_at, updated_at
		FROM records WHERE collection = ?
		ORDER BY created_at, id
	`, collection)
	if err != nil {
		return nil, fmt.Errorf("store: failed to query records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		rec.Fields, err = s.applyHook(s.postRead, collection, rec.Fields)
		if err != nil {
			return nil, fmt.Errorf("store: post-read hook failed: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: error iterating records: %w", err)
	}

	return records, nil
}

// Delete removes a record from a collection.
func (s *Store) Delete(collection, id string) error {
	if s.db == nil {
		return ErrClosed
	}

	result, err := s.db.Exec("DELETE FROM records WHERE collection = ? AND id = ?", collection, id)
	if err != nil {
		return fmt.Errorf("store: failed to delete record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		id, raw              string
		createdAt, updatedAt string
	)
	if err := row.Scan(&id, &raw, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("store: failed to scan record: %w", err)
	}

	fields := make(map[string]string)
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("store: record holds malformed fields: %w", err)
	}

	rec := &Record{ID: id, Fields: fields}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return rec, nil
}
