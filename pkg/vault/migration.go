package vault

import (
	"errors"
	"fmt"
	"sort"

	"github.com/mjj2333/escortcrm-pwa-sub002/pkg/audit"
	"github.com/mjj2333/escortcrm-pwa-sub002/pkg/crypto"
	"github.com/mjj2333/escortcrm-pwa-sub002/pkg/settings"
	"github.com/mjj2333/escortcrm-pwa-sub002/pkg/store"
)

// MigrateAllToEncrypted encrypts every declared field across all
// collections. Normally driven by the encryption toggle and the schema
// catch-up; exposed for repair flows.
func (v *Vault) MigrateAllToEncrypted() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.session.active() {
		return ErrNotUnlocked
	}
	return v.migrateToEncrypted()
}

// MigrateAllToPlaintext is the inverse walk. The wrapped key record is
// left in place; use DisableEncryption to drop protection entirely.
func (v *Vault) MigrateAllToPlaintext() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.session.active() {
		return ErrNotUnlocked
	}
	return v.migrateToPlaintext()
}

// migrateToEncrypted walks every declared collection and encrypts each
// declared field that is still plaintext. One transaction per
// collection; a failure rolls that collection back whole and stops the
// walk. Idempotent: already-tagged values are skipped, so an
// interrupted run just resumes on the next attempt.
//
// Callers hold v.mu and have a session key loaded.
func (v *Vault) migrateToEncrypted() error {
	return v.migrate(true)
}

// migrateToPlaintext is the inverse walk: every tagged declared field
// is decrypted in place. A value that fails authentication aborts the
// collection's transaction; disabling encryption must never silently
// discard data it cannot recover.
func (v *Vault) migrateToPlaintext() error {
	return v.migrate(false)
}

func (v *Vault) migrate(encrypt bool) error {
	v.store.SetBypassHooks(true)
	defer v.store.SetBypassHooks(false)

	names := make([]string, 0, len(v.schema.Collections))
	for name := range v.schema.Collections {
		names = append(names, name)
	}
	sort.Strings(names)

	return v.session.use(func(key []byte) error {
		for _, name := range names {
			declared := v.schema.Collections[name]
			err := v.store.Transact(func(tx *store.Tx) error {
				return migrateCollection(tx, name, declared, key, encrypt)
			})
			if err != nil {
				_ = v.audit.LogError(audit.OpMigration, fmt.Sprintf("%s: %v", name, err))
				return fmt.Errorf("vault: migrate collection %s: %w", name, err)
			}
			_ = v.audit.LogSuccess(audit.OpMigration, name)
		}
		return nil
	})
}

func migrateCollection(tx *store.Tx, collection string, declared []string, key []byte, encrypt bool) error {
	records, err := tx.Scan(collection)
	if err != nil {
		return err
	}

	for _, rec := range records {
		changed := make(map[string]string)
		for _, field := range declared {
			value, ok := rec.Fields[field]
			if !ok || value == "" {
				continue
			}
			if encrypt {
				if crypto.IsFieldEncrypted(value) {
					continue
				}
				enc, err := crypto.EncryptField(value, key)
				if err != nil {
					return fmt.Errorf("record %s field %s: %w", rec.ID, field, err)
				}
				changed[field] = enc
			} else {
				if !crypto.IsFieldEncrypted(value) {
					continue
				}
				plain, err := crypto.DecryptField(value, key)
				if err != nil {
					return fmt.Errorf("record %s field %s: %w", rec.ID, field, err)
				}
				changed[field] = plain
			}
		}
		if len(changed) == 0 {
			continue
		}
		if err := tx.UpdateFields(collection, rec.ID, changed); err != nil {
			return err
		}
	}
	return nil
}

// ensureSchemaCurrent re-runs the encrypt migration when the compiled
// schema declares more fields than the persisted version covered.
// Runs right after unlock, while the key is guaranteed present; fields
// already encrypted are untouched.
func (v *Vault) ensureSchemaCurrent() error {
	stored, err := v.settings.GetInt(settingSchemaVersion)
	if err != nil && !errors.Is(err, settings.ErrNotFound) {
		return err
	}
	if stored >= v.schema.Version {
		return nil
	}

	v.log.Info().
		Int("from", stored).
		Int("to", v.schema.Version).
		Msg("encryption schema behind, migrating")

	if err := v.migrateToEncrypted(); err != nil {
		return err
	}
	return v.settings.SetInt(settingSchemaVersion, v.schema.Version)
}
