// Package vault implements the encrypted-vault core of the personal
// data manager: master-key lifecycle, transparent field encryption
// hooks on the record store, plaintext/ciphertext migrations, the
// passcode gate with escalating lockout and destructive wipe, and the
// biometric escrow glue.
//
// The package is a storage adapter over pkg/crypto: crypto stays pure
// and the vault owns every persistence decision.
package vault

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mjj2333/escortcrm-pwa-sub002/pkg/audit"
	"github.com/mjj2333/escortcrm-pwa-sub002/pkg/crypto"
	"github.com/mjj2333/escortcrm-pwa-sub002/pkg/escrow"
	"github.com/mjj2333/escortcrm-pwa-sub002/pkg/settings"
	"github.com/mjj2333/escortcrm-pwa-sub002/pkg/store"
)

// Errors surfaced by vault lifecycle operations.
var (
	ErrNotUnlocked        = errors.New("vault: not unlocked")
	ErrWrongPasscode      = errors.New("vault: wrong passcode")
	ErrEncryptionEnabled  = errors.New("vault: encryption already enabled")
	ErrEncryptionDisabled = errors.New("vault: encryption not enabled")
	ErrNoPasscode         = errors.New("vault: no passcode configured")
	ErrSchemaMigration    = errors.New("vault: schema migration failed")
)

// Vault ties the record store, settings store, and escrow together
// around a single in-memory master key session.
type Vault struct {
	store    *store.Store
	settings *settings.Store
	escrow   escrow.Escrow
	audit    *audit.Logger
	log      zerolog.Logger

	schema  Schema
	session *session

	// mu serializes the key lifecycle: setup, unlock, rewrap, enable,
	// disable, and wipe. Overlapping rewraps would otherwise let the
	// persisted wrap desynchronize from the in-memory key.
	mu sync.Mutex
}

// New creates a Vault over the given stores and installs its field
// hooks on every declared collection. Hooks are inert passthroughs
// until a master key is loaded.
func New(st *store.Store, set *settings.Store, esc escrow.Escrow, aud *audit.Logger, log zerolog.Logger) *Vault {
	v := &Vault{
		store:    st,
		settings: set,
		escrow:   esc,
		audit:    aud,
		log:      log,
		schema:   DefaultSchema,
		session:  newSession(),
	}
	v.installHooks()
	return v
}

// Unlocked reports whether a master key is loaded in memory.
func (v *Vault) Unlocked() bool {
	return v.session.active()
}

// HasPasscode reports whether a passcode verifier has been persisted.
func (v *Vault) HasPasscode() bool {
	return v.settings.Has(settingVerifier)
}

// VerifyPasscode checks a passcode against the persisted verifier in
// constant time. It performs a full KDF run, so callers should treat
// it as deliberately slow.
func (v *Vault) VerifyPasscode(passcode string) bool {
	salt, err := v.settings.Get(settingVerifierSalt)
	if err != nil {
		return false
	}
	verifier, err := v.settings.Get(settingVerifier)
	if err != nil {
		return false
	}

	derived := crypto.DeriveKey([]byte(passcode), salt)
	defer crypto.SecureWipe(derived)

	return subtle.ConstantTimeCompare(derived, verifier) == 1
}

// SetupPasscode persists the verifier for a brand-new passcode and
// enables field encryption under it, leaving the vault unlocked.
// Called once by the gate when setup confirmation succeeds; until then
// nothing has been persisted and setup can simply be abandoned.
func (v *Vault) SetupPasscode(passcode string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := ValidatePasscode(passcode); err != nil {
		return err
	}
	if v.HasPasscode() {
		return fmt.Errorf("vault: passcode already configured")
	}

	if err := v.persistVerifier(passcode, nil); err != nil {
		return err
	}

	if err := v.enableEncryption(passcode); err != nil {
		// Roll the verifier back so setup can be retried from scratch.
		_ = v.settings.Delete(settingVerifier)
		_ = v.settings.Delete(settingVerifierSalt)
		return err
	}

	_ = v.audit.LogSuccess(audit.OpGateSetup, "")
	return nil
}

// Unlock loads the master key for a passcode the gate has already
// verified. With encryption disabled there is no key to unwrap and the
// call only refreshes bookkeeping.
//
// An unwrap failure after a successful verifier check means the
// wrapped-key record is corrupted; externally this is still reported
// as ErrWrongPasscode so an attacker learns nothing from the
// distinction.
func (v *Vault) Unlock(passcode string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.EncryptionEnabled() {
		return nil
	}

	w, err := v.loadWrappedKey()
	if err != nil {
		v.log.Error().Err(err).Msg("wrapped key record unreadable")
		return ErrWrongPasscode
	}

	masterKey, err := crypto.UnwrapMasterKey(passcode, w)
	if err != nil {
		return ErrWrongPasscode
	}

	v.session.set(masterKey)
	if err := v.audit.SetHMACKey(masterKey); err != nil {
		v.log.Warn().Err(err).Msg("audit chain key unavailable")
	}

	if err := v.ensureSchemaCurrent(); err != nil {
		// The passcode was right; the failure is operational. Drop the
		// key again so the vault never reports itself locked while
		// hooks hold a live key.
		v.session.clear()
		v.audit.ClearHMACKey()
		v.log.Error().Err(err).Msg("schema catch-up migration failed")
		return fmt.Errorf("%w: %v", ErrSchemaMigration, err)
	}

	return nil
}

// Lock zeroes the in-memory master key. Stored data is untouched;
// hooks return to passthrough.
func (v *Vault) Lock() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.session.clear()
	v.audit.ClearHMACKey()
}

// EnableEncryption turns field encryption on under an already-verified
// passcode: generate a master key, wrap and persist it, then encrypt
// every declared field in place.
func (v *Vault) EnableEncryption(passcode string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.VerifyPasscode(passcode) {
		return ErrWrongPasscode
	}
	return v.enableEncryption(passcode)
}

// enableEncryption does the work with v.mu held.
func (v *Vault) enableEncryption(passcode string) error {
	if v.EncryptionEnabled() {
		return ErrEncryptionEnabled
	}

	masterKey, err := crypto.NewMasterKey()
	if err != nil {
		return err
	}

	wrapped, err := crypto.WrapMasterKey(passcode, masterKey)
	if err != nil {
		crypto.SecureWipe(masterKey)
		return err
	}

	if err := v.storeWrappedKey(wrapped); err != nil {
		crypto.SecureWipe(masterKey)
		return err
	}

	v.session.set(masterKey)

	if err := v.migrateToEncrypted(); err != nil {
		// Unwind: decrypt whatever was already converted while the key
		// is still in memory, then drop the wrap. The toggle fails but
		// no ciphertext is left behind without its key.
		if undoErr := v.migrateToPlaintext(); undoErr != nil {
			v.log.Error().Err(undoErr).Msg("rollback to plaintext failed")
		}
		_ = v.deleteWrappedKey()
		v.session.clear()
		_ = v.audit.LogError(audit.OpEncryptionEnable, err.Error())
		return fmt.Errorf("vault: enable encryption failed: %w", err)
	}

	if err := v.settings.SetInt(settingSchemaVersion, v.schema.Version); err != nil {
		return err
	}

	if err := v.audit.SetHMACKey(masterKey); err != nil {
		v.log.Warn().Err(err).Msg("audit chain key unavailable")
	}
	_ = v.audit.LogSuccess(audit.OpEncryptionEnable, "")
	v.log.Info().Msg("field encryption enabled")
	return nil
}

// DisableEncryption decrypts every declared field, deletes the
// wrapped-key record, and clears the in-memory key, in that order.
// If the decrypt-all step fails the toggle is aborted and protection
// stays enabled; disabling must never leave irrecoverable ciphertext.
func (v *Vault) DisableEncryption() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.EncryptionEnabled() {
		return ErrEncryptionDisabled
	}
	if !v.session.active() {
		return ErrNotUnlocked
	}

	if err := v.migrateToPlaintext(); err != nil {
		_ = v.audit.LogError(audit.OpEncryptionDisable, err.Error())
		return fmt.Errorf("vault: disable encryption failed, protection kept enabled: %w", err)
	}

	if err := v.deleteWrappedKey(); err != nil {
		return err
	}
	if err := v.settings.Delete(settingSchemaVersion); err != nil {
		return err
	}
	v.session.clear()

	_ = v.audit.LogSuccess(audit.OpEncryptionDisable, "")
	v.log.Info().Msg("field encryption disabled")
	return nil
}

// ChangePasscode rewraps the master key under a new passcode and
// replaces the verifier. O(1) in data volume: field ciphertext is
// untouched because the master key itself does not change.
//
// The new wrap and the new verifier are persisted in one settings
// transaction; that write is the commit point, before it the change
// can be abandoned freely. An enrolled escrow is re-wrapped afterward
// and deleted outright if the re-wrap fails, so a stale escrow never
// survives a passcode change.
func (v *Vault) ChangePasscode(oldPasscode, newPasscode string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := ValidatePasscode(newPasscode); err != nil {
		return err
	}
	if !v.HasPasscode() {
		return ErrNoPasscode
	}
	if !v.VerifyPasscode(oldPasscode) {
		return ErrWrongPasscode
	}

	var wrapped *crypto.WrappedKey
	if v.EncryptionEnabled() {
		if !v.session.active() {
			return ErrNotUnlocked
		}
		err := v.session.use(func(masterKey []byte) error {
			var wrapErr error
			wrapped, wrapErr = crypto.WrapMasterKey(newPasscode, masterKey)
			return wrapErr
		})
		if err != nil {
			return err
		}
	}

	if err := v.persistVerifier(newPasscode, wrapped); err != nil {
		return err
	}
	_ = v.audit.LogSuccess(audit.OpPasscodeChange, "")

	if v.escrow.Enrolled() {
		if err := v.escrow.Enroll(newPasscode); err != nil {
			// Fail closed: a mismatched escrow must not exist. The
			// passcode change itself stands; the user re-enrolls.
			_ = v.escrow.Remove()
			_ = v.audit.LogError(audit.OpEscrowRemove, "rewrap failed after passcode change")
			v.log.Warn().Err(err).Msg("biometric escrow dropped, re-enrollment required")
		}
	}

	return nil
}

// persistVerifier writes a fresh verifier (and, when non-nil, a new
// wrapped-key record) in a single settings transaction.
func (v *Vault) persistVerifier(passcode string, wrapped *crypto.WrappedKey) error {
	salt, err := crypto.NewSalt()
	if err != nil {
		return err
	}
	verifier := crypto.DeriveKey([]byte(passcode), salt)

	values := map[string][]byte{
		settingVerifier:     verifier,
		settingVerifierSalt: salt,
	}
	if wrapped != nil {
		raw, err := json.Marshal(wrapped)
		if err != nil {
			return fmt.Errorf("vault: failed to marshal wrapped key: %w", err)
		}
		values[settingWrappedKey] = raw
	}

	if err := v.settings.SetAll(values); err != nil {
		return fmt.Errorf("vault: failed to persist verifier: %w", err)
	}
	return nil
}

// EnrollEscrow stores the just-verified plaintext passcode in the
// platform escrow so a biometric assertion can unlock later.
func (v *Vault) EnrollEscrow(passcode string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.HasPasscode() {
		return ErrNoPasscode
	}
	if !v.VerifyPasscode(passcode) {
		return ErrWrongPasscode
	}
	if !v.escrow.Available() {
		return escrow.ErrUnavailable
	}
	if err := v.escrow.Enroll(passcode); err != nil {
		return err
	}
	_ = v.audit.LogSuccess(audit.OpEscrowEnroll, "")
	return nil
}

// RemoveEscrow deletes the escrowed passcode.
func (v *Vault) RemoveEscrow() error {
	if err := v.escrow.Remove(); err != nil {
		return err
	}
	_ = v.audit.LogSuccess(audit.OpEscrowRemove, "")
	return nil
}

// EscrowEnrolled reports whether a passcode is currently escrowed.
func (v *Vault) EscrowEnrolled() bool {
	return v.escrow.Enrolled()
}

// EscrowAvailable reports whether the platform escrow backend works.
func (v *Vault) EscrowAvailable() bool {
	return v.escrow.Available()
}

// VerifyAudit recomputes the audit log's HMAC chain. Requires an
// unlocked vault, since the chain key derives from the master key.
func (v *Vault) VerifyAudit() (*audit.VerifyResult, error) {
	if !v.session.active() {
		return nil, ErrNotUnlocked
	}
	return v.audit.Verify()
}

// Wipe irreversibly destroys the record store, clears every setting,
// and removes the escrow, in that order. Runs to completion; there is
// no partially-wiped state an attacker can observe and no undo.
func (v *Vault) Wipe() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.session.clear()
	v.audit.ClearHMACKey()

	if err := v.store.Destroy(); err != nil {
		return err
	}
	if err := v.settings.Clear(); err != nil {
		return err
	}
	if err := v.escrow.Remove(); err != nil {
		return err
	}

	v.log.Warn().Msg("vault wiped")
	return nil
}
