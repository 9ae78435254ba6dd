package escrow

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const serviceName = "pdvault"

// Keyring escrows the passcode in the OS keyring (Keychain on macOS,
// Secret Service on Linux, Credential Manager on Windows). The keyring
// item is keyed by vault ID so multiple data directories do not step
// on each other.
type Keyring struct {
	account string
}

// NewKeyring returns a keyring-backed escrow scoped to vaultID.
func NewKeyring(vaultID string) *Keyring {
	return &Keyring{account: vaultID}
}

// Available probes the keyring backend. A missing item still means the
// backend works; only an unsupported platform counts as unavailable.
func (k *Keyring) Available() bool {
	_, err := keyring.Get(serviceName, k.account)
	return err == nil || errors.Is(err, keyring.ErrNotFound)
}

// Enrolled reports whether a passcode is escrowed for this vault.
func (k *Keyring) Enrolled() bool {
	_, err := keyring.Get(serviceName, k.account)
	return err == nil
}

// Enroll stores the passcode, replacing any previous escrow.
func (k *Keyring) Enroll(passcode string) error {
	if !k.Available() {
		return ErrUnavailable
	}
	if err := keyring.Set(serviceName, k.account, passcode); err != nil {
		return fmt.Errorf("escrow: failed to store passcode: %w", err)
	}
	return nil
}

// Assert releases the escrowed passcode.
func (k *Keyring) Assert() (string, error) {
	passcode, err := keyring.Get(serviceName, k.account)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNotEnrolled
		}
		return "", fmt.Errorf("escrow: failed to read passcode: %w", err)
	}
	return passcode, nil
}

// Remove deletes the escrowed passcode.
func (k *Keyring) Remove() error {
	err := keyring.Delete(serviceName, k.account)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("escrow: failed to delete passcode: %w", err)
	}
	return nil
}
