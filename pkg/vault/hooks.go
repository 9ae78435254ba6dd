package vault

import (
	"errors"
	"fmt"

	"github.com/mjj2333/escortcrm-pwa-sub002/pkg/crypto"
)

// installHooks registers the field-rewriting callbacks on every
// declared collection. The hooks consult the session on each call, so
// registration happens once at construction and the vault's lock state
// is picked up live.
func (v *Vault) installHooks() {
	for name, fields := range v.schema.Collections {
		collection, declared := name, fields
		v.store.SetHooks(collection,
			func(m map[string]string) (map[string]string, error) {
				return v.encryptHook(collection, declared, m)
			},
			func(m map[string]string) (map[string]string, error) {
				return v.decryptHook(collection, declared, m)
			},
		)
	}
}

// encryptHook encrypts the declared fields of a record on its way into
// the store. With no session key the record passes through untouched:
// encryption disabled and vault locked look identical here, and the
// gate decides whether writes are reachable at all.
func (v *Vault) encryptHook(collection string, declared []string, fields map[string]string) (map[string]string, error) {
	err := v.session.use(func(key []byte) error {
		for _, name := range declared {
			value, ok := fields[name]
			if !ok || value == "" || crypto.IsFieldEncrypted(value) {
				continue
			}
			enc, err := crypto.EncryptField(value, key)
			if err != nil {
				return fmt.Errorf("vault: encrypt %s.%s: %w", collection, name, err)
			}
			fields[name] = enc
		}
		return nil
	})
	if errors.Is(err, errSessionLocked) {
		return fields, nil
	}
	if err != nil {
		return nil, err
	}
	return fields, nil
}

// decryptHook decrypts the declared fields of a record on its way out.
// A field that fails authentication keeps its stored tagged value and
// the read succeeds; one damaged field must not take the whole record
// with it.
func (v *Vault) decryptHook(collection string, declared []string, fields map[string]string) (map[string]string, error) {
	err := v.session.use(func(key []byte) error {
		for _, name := range declared {
			value, ok := fields[name]
			if !ok || !crypto.IsFieldEncrypted(value) {
				continue
			}
			plain, err := crypto.DecryptField(value, key)
			if err != nil {
				v.log.Warn().
					Str("collection", collection).
					Str("field", name).
					Msg("field failed authentication, keeping stored value")
				continue
			}
			fields[name] = plain
		}
		return nil
	})
	if errors.Is(err, errSessionLocked) {
		return fields, nil
	}
	if err != nil {
		return nil, err
	}
	return fields, nil
}
