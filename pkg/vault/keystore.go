package vault

import (
	"errors"
	"fmt"

	"github.com/mjj2333/escortcrm-pwa-sub002/pkg/crypto"
	"github.com/mjj2333/escortcrm-pwa-sub002/pkg/settings"
)

// Settings keys owned by the vault core.
const (
	settingWrappedKey     = "field_encryption_key"
	settingSchemaVersion  = "encrypt_schema_version"
	settingVerifier       = "passcode_verifier"
	settingVerifierSalt   = "passcode_verifier_salt"
	settingFailedAttempts = "failed_attempts"
	settingLockoutUntil   = "lockout_until"
)

// ErrNoWrappedKey indicates the wrapped-key record is absent: either
// encryption was never enabled or it has been disabled.
var ErrNoWrappedKey = errors.New("vault: no wrapped key record")

// EncryptionEnabled reports whether a wrapped master key is persisted.
// The wrapped-key record exists exactly while encryption is enabled.
func (v *Vault) EncryptionEnabled() bool {
	return v.settings.Has(settingWrappedKey)
}

// SchemaVersion returns the persisted encryption schema version, or 0
// when none has been recorded.
func (v *Vault) SchemaVersion() int {
	n, err := v.settings.GetInt(settingSchemaVersion)
	if err != nil {
		return 0
	}
	return n
}

func (v *Vault) loadWrappedKey() (*crypto.WrappedKey, error) {
	var w crypto.WrappedKey
	if err := v.settings.GetJSON(settingWrappedKey, &w); err != nil {
		if errors.Is(err, settings.ErrNotFound) {
			return nil, ErrNoWrappedKey
		}
		return nil, fmt.Errorf("vault: failed to load wrapped key: %w", err)
	}
	return &w, nil
}

func (v *Vault) storeWrappedKey(w *crypto.WrappedKey) error {
	if err := v.settings.SetJSON(settingWrappedKey, w); err != nil {
		return fmt.Errorf("vault: failed to store wrapped key: %w", err)
	}
	return nil
}

func (v *Vault) deleteWrappedKey() error {
	if err := v.settings.Delete(settingWrappedKey); err != nil {
		return fmt.Errorf("vault: failed to delete wrapped key: %w", err)
	}
	return nil
}
