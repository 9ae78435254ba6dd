package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Tx is a raw transactional view of the store. It never invokes hooks:
// migrations read stored bytes and write stored bytes.
type Tx struct {
	tx *sql.Tx
}

// Transact runs fn inside a single sqlite transaction. The transaction
// is rolled back if fn returns an error, so a batch of field rewrites
// lands fully or not at all.
func (s *Store) Transact(fn func(tx *Tx) error) error {
	if s.db == nil {
		return ErrClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Tx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: failed to commit transaction: %w", err)
	}
	return nil
}

// Scan returns every record of a collection exactly as stored, without
// hooks.
func (t *Tx) Scan(collection string) ([]*Record, error) {
	rows, err := t.tx.Query(`
		SELECT id, fields, created_at, updated_at
		FROM records WHERE collection = ?
		ORDER BY created_at, id
	`, collection)
	if err != nil {
		return nil, fmt.Errorf("store: failed to scan collection: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: error iterating collection: %w", err)
	}
	return records, nil
}

// UpdateFields merges partial into the stored field map of one record,
// without hooks. Fields absent from partial keep their stored value.
func (t *Tx) UpdateFields(collection, id string, partial map[string]string) error {
	var raw string
	err := t.tx.QueryRow(`
		SELECT fields FROM records WHERE collection = ? AND id = ?
	`, collection, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrRecordNotFound
		}
		return fmt.Errorf("store: failed to read record: %w", err)
	}

	fields := make(map[string]string)
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return fmt.Errorf("store: record holds malformed fields: %w", err)
	}
	for k, v := range partial {
		fields[k] = v
	}

	merged, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("store: failed to marshal fields: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = t.tx.Exec(`
		UPDATE records SET fields = ?, updated_at = ?
		WHERE collection = ? AND id = ?
	`, string(merged), now, collection, id)
	if err != nil {
		return fmt.Errorf("store: failed to update record: %w", err)
	}
	return nil
}
