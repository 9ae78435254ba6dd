package store

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGet(t *testing.T) {
	s := openTestStore(t)

	rec := &Record{Fields: map[string]string{"phone": "555-0100", "name": "Alice"}}
	require.NoError(t, s.Put("contacts", rec))
	assert.NotEmpty(t, rec.ID, "Put should assign an ID")

	got, err := s.Get("contacts", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.Fields, got.Fields)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestPutUpsert(t *testing.T) {
	s := openTestStore(t)

	rec := &Record{ID: "fixed", Fields: map[string]string{"phone": "555-0100"}}
	require.NoError(t, s.Put("contacts", rec))

	rec.Fields["phone"] = "555-0199"
	require.NoError(t, s.Put("contacts", rec))

	got, err := s.Get("contacts", "fixed")
	require.NoError(t, err)
	assert.Equal(t, "555-0199", got.Fields["phone"])

	records, err := s.List("contacts")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestGetMissing(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Get("contacts", "nope")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestList(t *testing.T) {
	s := openTestStore(t)

	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, s.Put("contacts", &Record{Fields: map[string]string{"name": name}}))
	}
	require.NoError(t, s.Put("journal", &Record{Fields: map[string]string{"body": "x"}}))

	records, err := s.List("contacts")
	require.NoError(t, err)
	assert.Len(t, records, 3)

	records, err = s.List("empty")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)

	rec := &Record{Fields: map[string]string{"name": "x"}}
	require.NoError(t, s.Put("contacts", rec))
	require.NoError(t, s.Delete("contacts", rec.ID))

	_, err := s.Get("contacts", rec.ID)
	assert.ErrorIs(t, err, ErrRecordNotFound)
	assert.ErrorIs(t, s.Delete("contacts", rec.ID), ErrRecordNotFound)
}

func TestHooks(t *testing.T) {
	s := openTestStore(t)

	s.SetHooks("contacts",
		func(fields map[string]string) (map[string]string, error) {
			fields["phone"] = "pre:" + fields["phone"]
			return fields, nil
		},
		func(fields map[string]string) (map[string]string, error) {
			fields["phone"] = strings.TrimPrefix(fields["phone"], "pre:")
			return fields, nil
		},
	)

	rec := &Record{Fields: map[string]string{"phone": "555-0100"}}
	require.NoError(t, s.Put("contacts", rec))

	// Hook ran on the stored copy, not the caller's map
	assert.Equal(t, "555-0100", rec.Fields["phone"])

	// Raw storage holds the rewritten value
	var raw string
	require.NoError(t, s.Transact(func(tx *Tx) error {
		records, err := tx.Scan("contacts")
		if err != nil {
			return err
		}
		raw = records[0].Fields["phone"]
		return nil
	}))
	assert.Equal(t, "pre:555-0100", raw)

	// Post-read hook restores it
	got, err := s.Get("contacts", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "555-0100", got.Fields["phone"])
}

func TestHookError(t *testing.T) {
	s := openTestStore(t)

	hookErr := errors.New("boom")
	s.SetHooks("contacts",
		func(fields map[string]string) (map[string]string, error) { return nil, hookErr },
		nil,
	)

	err := s.Put("contacts", &Record{Fields: map[string]string{"x": "y"}})
	assert.ErrorIs(t, err, hookErr)
}

func TestHookBypass(t *testing.T) {
	s := openTestStore(t)

	s.SetHooks("contacts",
		func(fields map[string]string) (map[string]string, error) {
			fields["phone"] = "hooked"
			return fields, nil
		},
		nil,
	)

	s.SetBypassHooks(true)
	rec := &Record{Fields: map[string]string{"phone": "555-0100"}}
	require.NoError(t, s.Put("contacts", rec))
	s.SetBypassHooks(false)

	got, err := s.Get("contacts", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "555-0100", got.Fields["phone"])
}

func TestHooksOtherCollectionUntouched(t *testing.T) {
	s := openTestStore(t)

	s.SetHooks("contacts",
		func(fields map[string]string) (map[string]string, error) {
			fields["x"] = "hooked"
			return fields, nil
		},
		nil,
	)

	rec := &Record{Fields: map[string]string{"x": "plain"}}
	require.NoError(t, s.Put("journal", rec))

	got, err := s.Get("journal", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "plain", got.Fields["x"])
}

func TestTransactRollback(t *testing.T) {
	s := openTestStore(t)

	rec := &Record{ID: "r1", Fields: map[string]string{"phone": "555-0100"}}
	require.NoError(t, s.Put("contacts", rec))

	boom := errors.New("boom")
	err := s.Transact(func(tx *Tx) error {
		if err := tx.UpdateFields("contacts", "r1", map[string]string{"phone": "changed"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.Get("contacts", "r1")
	require.NoError(t, err)
	assert.Equal(t, "555-0100", got.Fields["phone"], "rollback should restore the original value")
}

func TestUpdateFieldsMerges(t *testing.T) {
	s := openTestStore(t)

	rec := &Record{ID: "r1", Fields: map[string]string{"phone": "555-0100", "name": "Alice"}}
	require.NoError(t, s.Put("contacts", rec))

	require.NoError(t, s.Transact(func(tx *Tx) error {
		return tx.UpdateFields("contacts", "r1", map[string]string{"phone": "enc:v1:xxx"})
	}))

	got, err := s.Get("contacts", "r1")
	require.NoError(t, err)
	assert.Equal(t, "enc:v1:xxx", got.Fields["phone"])
	assert.Equal(t, "Alice", got.Fields["name"], "untouched fields keep their value")
}

func TestDestroy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.db")
	s, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, s.Put("contacts", &Record{Fields: map[string]string{"x": "y"}}))
	require.NoError(t, s.Destroy())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "database file should be gone")
}
