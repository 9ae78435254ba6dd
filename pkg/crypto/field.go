package crypto

import (
	"encoding/base64"
	"errors"
	"strings"
)

// FieldTag prefixes every encrypted field value so ciphertext and
// plaintext can coexist in the same column during migration. The
// payload after the tag is base64(nonce || ciphertext-with-auth-tag).
const FieldTag = "enc:v1:"

// ErrCorrupted indicates a tagged field value whose payload could not
// be authenticated: truncated, tampered with, or encrypted under a
// different key. DecryptField returns it together with the original
// tagged string so callers can log and keep the stored value instead
// of crashing the read path.
var ErrCorrupted = errors.New("crypto: field value corrupted or key mismatch")

// EncryptField encrypts a single record field value under key and
// returns the tagged, base64-encoded form.
//
// Empty values bypass encryption entirely and are returned as-is: an
// absent phone number carries no information worth hiding and keeping
// it empty lets callers distinguish "unset" without a key.
func EncryptField(plaintext string, key []byte) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	ciphertext, nonce, err := Encrypt(key, []byte(plaintext))
	if err != nil {
		return "", err
	}

	payload := make([]byte, 0, len(nonce)+len(ciphertext))
	payload = append(payload, nonce...)
	payload = append(payload, ciphertext...)

	return FieldTag + base64.StdEncoding.EncodeToString(payload), nil
}

// DecryptField decrypts a tagged field value under key.
//
// Untagged values are returned unchanged with a nil error; this
// passthrough is what allows plaintext and ciphertext to be mixed in
// one collection while a migration is in flight. A tagged value that
// fails authentication (or cannot be decoded at all) is returned
// unchanged together with ErrCorrupted.
func DecryptField(tagged string, key []byte) (string, error) {
	if !strings.HasPrefix(tagged, FieldTag) {
		return tagged, nil
	}

	payload, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(tagged, FieldTag))
	if err != nil {
		return tagged, ErrCorrupted
	}
	if len(payload) < NonceLength {
		return tagged, ErrCorrupted
	}

	plaintext, err := Decrypt(key, payload[NonceLength:], payload[:NonceLength])
	if err != nil {
		return tagged, ErrCorrupted
	}

	return string(plaintext), nil
}

// IsFieldEncrypted reports whether a stored value carries the
// encryption tag.
func IsFieldEncrypted(value string) bool {
	return strings.HasPrefix(value, FieldTag)
}
