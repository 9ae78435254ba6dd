// Package settings provides the durable small-scalar settings store the
// vault core keeps its bookkeeping in: the wrapped master key record,
// the passcode verifier, attempt/lockout counters, and the encryption
// schema version. Values are keyed by string and stored in a single
// bbolt bucket.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketSettings = []byte("settings")

// ErrNotFound indicates the requested key has no stored value.
var ErrNotFound = errors.New("settings: key not found")

// Store is a bbolt-backed string-keyed settings store.
type Store struct {
	db   *bolt.DB
	path string
}

// Open opens or creates a settings store at path with owner-only
// permissions.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("settings: failed to open store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSettings)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("settings: failed to create bucket: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the filesystem path of the store.
func (s *Store) Path() string {
	return s.path
}

// Get returns the value stored under key, or ErrNotFound.
func (s *Store) Get(key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketSettings).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		// Copy out: the slice is only valid during the transaction.
		value = append([]byte(nil), v...)
		return nil
	})
	return value, err
}

// Set stores value under key, replacing any previous value.
func (s *Store) Set(key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSettings).Put([]byte(key), value)
	})
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSettings).Delete([]byte(key))
	})
}

// Has reports whether key has a stored value.
func (s *Store) Has(key string) bool {
	_, err := s.Get(key)
	return err == nil
}

// GetInt returns the integer stored under key, or ErrNotFound.
func (s *Store) GetInt(key string) (int, error) {
	raw, err := s.Get(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, fmt.Errorf("settings: %q is not an integer: %w", key, err)
	}
	return n, nil
}

// SetInt stores an integer under key.
func (s *Store) SetInt(key string, n int) error {
	return s.Set(key, []byte(strconv.Itoa(n)))
}

// GetTime returns the timestamp stored under key, or ErrNotFound.
func (s *Store) GetTime(key string) (time.Time, error) {
	raw, err := s.Get(key)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, string(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("settings: %q is not a timestamp: %w", key, err)
	}
	return t, nil
}

// SetTime stores a timestamp under key.
func (s *Store) SetTime(key string, t time.Time) error {
	return s.Set(key, []byte(t.Format(time.RFC3339Nano)))
}

// GetJSON unmarshals the value stored under key into v.
func (s *Store) GetJSON(key string, v any) error {
	raw, err := s.Get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("settings: %q holds malformed JSON: %w", key, err)
	}
	return nil
}

// SetJSON marshals v and stores it under key.
func (s *Store) SetJSON(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("settings: failed to marshal %q: %w", key, err)
	}
	return s.Set(key, raw)
}

// SetAll stores several values in one transaction, so related settings
// (a rewrapped key and its matching verifier, say) land together or
// not at all.
func (s *Store) SetAll(values map[string][]byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSettings)
		for key, value := range values {
			if err := b.Put([]byte(key), value); err != nil {
				return err
			}
		}
		return nil
	})
}

// Clear removes every stored setting. Part of the wipe path: the
// bucket is dropped and recreated in one transaction so no partial
// state is observable.
func (s *Store) Clear() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketSettings); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucketSettings)
		return err
	})
}
