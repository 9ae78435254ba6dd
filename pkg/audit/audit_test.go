package audit

import (
	"crypto/rand"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testMasterKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return key
}

func logFilePath(t *testing.T, dir string) string {
	t.Helper()
	return filepath.Join(dir, time.Now().UTC().Format("2006-01")+".jsonl")
}

// TestLogAndVerify builds a chain and verifies it
func TestLogAndVerify(t *testing.T) {
	dir := t.TempDir()
	l := NewLogger(dir)

	if err := l.SetHMACKey(testMasterKey(t)); err != nil {
		t.Fatalf("SetHMACKey() error = %v", err)
	}

	if err := l.LogSuccess(OpGateUnlock, ""); err != nil {
		t.Fatalf("LogSuccess() error = %v", err)
	}
	if err := l.LogSuccess(OpMigration, "contacts"); err != nil {
		t.Fatalf("LogSuccess() error = %v", err)
	}
	if err := l.LogError(OpGateUnlockFailed, "attempt 1"); err != nil {
		t.Fatalf("LogError() error = %v", err)
	}

	result, err := l.Verify()
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !result.Valid {
		t.Errorf("Verify() valid = false, errors = %v", result.Errors)
	}
	if result.RecordsTotal != 3 || result.RecordsVerified != 3 {
		t.Errorf("Verify() = %d total / %d verified, want 3/3", result.RecordsTotal, result.RecordsVerified)
	}
}

// TestUnkeyedEventsUnchained verifies pre-unlock events carry no HMAC
func TestUnkeyedEventsUnchained(t *testing.T) {
	dir := t.TempDir()
	l := NewLogger(dir)

	// Failed attempts happen before any key exists
	if err := l.LogError(OpGateUnlockFailed, "attempt 1"); err != nil {
		t.Fatalf("LogError() error = %v", err)
	}

	data, err := os.ReadFile(logFilePath(t, dir))
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}
	var ev Event
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &ev); err != nil {
		t.Fatalf("malformed event: %v", err)
	}
	if ev.Chain.HMAC != "" {
		t.Error("unkeyed event should carry no HMAC")
	}

	// Chained events after unlock still verify around it
	if err := l.SetHMACKey(testMasterKey(t)); err != nil {
		t.Fatalf("SetHMACKey() error = %v", err)
	}
	if err := l.LogSuccess(OpGateUnlock, ""); err != nil {
		t.Fatalf("LogSuccess() error = %v", err)
	}

	result, err := l.Verify()
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !result.Valid {
		t.Errorf("Verify() valid = false, errors = %v", result.Errors)
	}
	if result.RecordsTotal != 2 || result.RecordsVerified != 1 {
		t.Errorf("Verify() = %d total / %d verified, want 2/1", result.RecordsTotal, result.RecordsVerified)
	}
}

// TestVerifyDetectsTampering flips a byte and expects a broken chain
func TestVerifyDetectsTampering(t *testing.T) {
	dir := t.TempDir()
	l := NewLogger(dir)

	if err := l.SetHMACKey(testMasterKey(t)); err != nil {
		t.Fatalf("SetHMACKey() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := l.LogSuccess(OpGateUnlock, ""); err != nil {
			t.Fatalf("LogSuccess() error = %v", err)
		}
	}

	path := logFilePath(t, dir)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}
	tampered := strings.Replace(string(data), `"result":"success"`, `"result":"error"`, 1)
	if tampered == string(data) {
		t.Fatal("tampering had no effect")
	}
	if err := os.WriteFile(path, []byte(tampered), 0600); err != nil {
		t.Fatalf("failed to write tampered log: %v", err)
	}

	result, err := l.Verify()
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if result.Valid {
		t.Error("Verify() should detect the tampered record")
	}
	if len(result.Errors) == 0 {
		t.Error("Verify() should report at least one error")
	}
}

// TestChainResumesAcrossRestart verifies the persisted chain state
func TestChainResumesAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	key := testMasterKey(t)

	l := NewLogger(dir)
	if err := l.SetHMACKey(key); err != nil {
		t.Fatalf("SetHMACKey() error = %v", err)
	}
	if err := l.LogSuccess(OpGateUnlock, ""); err != nil {
		t.Fatalf("LogSuccess() error = %v", err)
	}
	l.ClearHMACKey()

	// New logger instance, same key, same directory
	l2 := NewLogger(dir)
	if err := l2.SetHMACKey(key); err != nil {
		t.Fatalf("SetHMACKey() error = %v", err)
	}
	if err := l2.LogSuccess(OpGateUnlock, ""); err != nil {
		t.Fatalf("LogSuccess() error = %v", err)
	}

	result, err := l2.Verify()
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !result.Valid {
		t.Errorf("Verify() valid = false, errors = %v", result.Errors)
	}
	if result.RecordsVerified != 2 {
		t.Errorf("Verify() verified = %d, want 2", result.RecordsVerified)
	}
}

// TestVerifyRequiresKey verifies Verify refuses to run unkeyed
func TestVerifyRequiresKey(t *testing.T) {
	l := NewLogger(t.TempDir())
	if _, err := l.Verify(); err == nil {
		t.Error("Verify() without a key should fail")
	}
}
