package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
)

// ErrInvalidWrappedKey indicates a wrapped-key record whose salt or
// payload does not have the expected shape.
var ErrInvalidWrappedKey = errors.New("crypto: malformed wrapped key record")

// WrappedKey is the persistable form of the master key: the key sealed
// under a passcode-derived wrapping key, plus the KDF salt used for
// that derivation. The wrapped payload is nonce || ciphertext.
type WrappedKey struct {
	Wrapped []byte `json:"wrapped"`
	Salt    []byte `json:"salt"`
}

// NewMasterKey generates a fresh 256-bit master key. The caller owns
// the bytes and must SecureWipe them when the session ends.
func NewMasterKey() ([]byte, error) {
	key := make([]byte, KeyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("crypto: failed to generate master key: %w", err)
	}
	return key, nil
}

// WrapMasterKey seals masterKey under a key derived from passcode.
//
// A fresh salt is generated on every call, so rewrapping after a
// passcode change never reuses a derivation. The derived wrapping key
// is wiped before returning.
func WrapMasterKey(passcode string, masterKey []byte) (*WrappedKey, error) {
	salt, err := NewSalt()
	if err != nil {
		return nil, err
	}

	kek := DeriveKey([]byte(passcode), salt)
	defer SecureWipe(kek)

	ciphertext, nonce, err := Encrypt(kek, masterKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to wrap master key: %w", err)
	}

	wrapped := make([]byte, 0, len(nonce)+len(ciphertext))
	wrapped = append(wrapped, nonce...)
	wrapped = append(wrapped, ciphertext...)

	return &WrappedKey{Wrapped: wrapped, Salt: salt}, nil
}

// UnwrapMasterKey recovers the master key from a wrapped record.
//
// A wrong passcode fails through GCM tag verification with
// ErrDecryptionFailed; there is no code path that returns a silently
// wrong key. The derived wrapping key is wiped before returning.
func UnwrapMasterKey(passcode string, w *WrappedKey) ([]byte, error) {
	if w == nil || len(w.Salt) != SaltLength || len(w.Wrapped) < NonceLength {
		return nil, ErrInvalidWrappedKey
	}

	kek := DeriveKey([]byte(passcode), w.Salt)
	defer SecureWipe(kek)

	masterKey, err := Decrypt(kek, w.Wrapped[NonceLength:], w.Wrapped[:NonceLength])
	if err != nil {
		return nil, err
	}

	return masterKey, nil
}
