package crypto

import (
	"bytes"
	"crypto/rand"
	"testing"
)

// TestDeriveKey tests the Argon2id key derivation function
func TestDeriveKey(t *testing.T) {
	passcode := []byte("1234")
	salt, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt() error = %v", err)
	}

	key := DeriveKey(passcode, salt)
	if len(key) != KeyLength {
		t.Errorf("DeriveKey() returned key of length %d, want %d", len(key), KeyLength)
	}

	// Same passcode + salt is deterministic
	key2 := DeriveKey(passcode, salt)
	if !bytes.Equal(key, key2) {
		t.Error("DeriveKey() with same inputs should produce identical keys")
	}

	// Different passcode produces a different key
	if bytes.Equal(key, DeriveKey([]byte("4321"), salt)) {
		t.Error("DeriveKey() with different passcode should produce different key")
	}

	// Different salt produces a different key
	salt2, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt() error = %v", err)
	}
	if bytes.Equal(key, DeriveKey(passcode, salt2)) {
		t.Error("DeriveKey() with different salt should produce different key")
	}
}

// TestDeriveKeyParameters verifies Argon2id parameters match OWASP recommendations
func TestDeriveKeyParameters(t *testing.T) {
	if Argon2Memory != 64*1024 {
		t.Errorf("Argon2Memory = %d, want %d (64MB)", Argon2Memory, 64*1024)
	}
	if Argon2Time != 3 {
		t.Errorf("Argon2Time = %d, want 3", Argon2Time)
	}
	if Argon2Threads != 4 {
		t.Errorf("Argon2Threads = %d, want 4", Argon2Threads)
	}
	if KeyLength != 32 {
		t.Errorf("KeyLength = %d, want 32 (256-bit)", KeyLength)
	}
}

// TestEncryptDecrypt tests the AES-256-GCM round trip
func TestEncryptDecrypt(t *testing.T) {
	key := make([]byte, KeyLength)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	plaintext := []byte("secret field value")

	ciphertext, nonce, err := Encrypt(key, plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if len(nonce) != NonceLength {
		t.Errorf("Encrypt() nonce length = %d, want %d", len(nonce), NonceLength)
	}
	if bytes.Equal(ciphertext, plaintext) {
		t.Error("Encrypt() ciphertext should differ from plaintext")
	}

	decrypted, err := Decrypt(key, ciphertext, nonce)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Errorf("Decrypt() = %q, want %q", decrypted, plaintext)
	}
}

// TestEncryptNonceUniqueness verifies each encryption draws a fresh nonce
func TestEncryptNonceUniqueness(t *testing.T) {
	key := make([]byte, KeyLength)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	plaintext := []byte("same plaintext")
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		ciphertext, nonce, err := Encrypt(key, plaintext)
		if err != nil {
			t.Fatalf("Encrypt() error = %v", err)
		}
		if seen[string(nonce)] {
			t.Fatal("Encrypt() reused a nonce")
		}
		seen[string(nonce)] = true
		if seen[string(ciphertext)] {
			t.Fatal("Encrypt() produced identical ciphertext twice")
		}
		seen[string(ciphertext)] = true
	}
}

// TestEncryptInvalidKey verifies key length validation
func TestEncryptInvalidKey(t *testing.T) {
	_, _, err := Encrypt([]byte("short"), []byte("data"))
	if err != ErrInvalidKeyLength {
		t.Errorf("Encrypt() error = %v, want ErrInvalidKeyLength", err)
	}
}

// TestDecryptWrongKey verifies authenticated decryption fails closed
func TestDecryptWrongKey(t *testing.T) {
	key := make([]byte, KeyLength)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	ciphertext, nonce, err := Encrypt(key, []byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	wrongKey := make([]byte, KeyLength)
	if _, err := rand.Read(wrongKey); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	if _, err := Decrypt(wrongKey, ciphertext, nonce); err != ErrDecryptionFailed {
		t.Errorf("Decrypt() with wrong key error = %v, want ErrDecryptionFailed", err)
	}
}

// TestDecryptTampered verifies a flipped ciphertext bit fails authentication
func TestDecryptTampered(t *testing.T) {
	key := make([]byte, KeyLength)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	ciphertext, nonce, err := Encrypt(key, []byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	ciphertext[0] ^= 0x01

	if _, err := Decrypt(key, ciphertext, nonce); err != ErrDecryptionFailed {
		t.Errorf("Decrypt() of tampered data error = %v, want ErrDecryptionFailed", err)
	}
}

// TestDecryptInvalidInputs verifies shape validation
func TestDecryptInvalidInputs(t *testing.T) {
	key := make([]byte, KeyLength)

	if _, err := Decrypt(key, []byte("data"), []byte("bad")); err != ErrInvalidNonceLength {
		t.Errorf("Decrypt() with short nonce error = %v, want ErrInvalidNonceLength", err)
	}
	if _, err := Decrypt([]byte("short"), []byte("data"), make([]byte, NonceLength)); err != ErrInvalidKeyLength {
		t.Errorf("Decrypt() with short key error = %v, want ErrInvalidKeyLength", err)
	}
}

// TestNewSalt verifies salt generation
func TestNewSalt(t *testing.T) {
	salt1, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt() error = %v", err)
	}
	if len(salt1) != SaltLength {
		t.Errorf("NewSalt() length = %d, want %d", len(salt1), SaltLength)
	}

	salt2, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt() error = %v", err)
	}
	if bytes.Equal(salt1, salt2) {
		t.Error("NewSalt() returned identical salts")
	}
}

// TestSecureWipe verifies the buffer is zeroed
func TestSecureWipe(t *testing.T) {
	buf := []byte{1, 2, 3, 4, 5}
	SecureWipe(buf)
	for i, b := range buf {
		if b != 0 {
			t.Errorf("SecureWipe() left byte %d = %d", i, b)
		}
	}
}
