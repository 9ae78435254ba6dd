// Package audit provides an append-only security event log with an
// HMAC chain for tamper detection. The vault core records passcode
// attempts, lockouts, wipes, and encryption toggles here; auditing is
// best-effort and never blocks the operation being logged.
package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

// Operation types recorded by the vault core.
const (
	OpGateSetup        = "gate.setup"
	OpGateUnlock       = "gate.unlock"
	OpGateUnlockFailed = "gate.unlock_failed"
	OpGateLockout      = "gate.lockout"
	OpGateWipe         = "gate.wipe"

	OpEncryptionEnable  = "encryption.enable"
	OpEncryptionDisable = "encryption.disable"
	OpMigration         = "encryption.migrate"

	OpPasscodeChange = "passcode.change"
	OpEscrowEnroll   = "escrow.enroll"
	OpEscrowRemove   = "escrow.remove"
)

// Result indicates the outcome of an operation.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Event is a single audit record.
type Event struct {
	Version   int    `json:"v"`
	ID        string `json:"id"`
	Timestamp string `json:"ts"` // RFC 3339 nanosecond precision
	Operation string `json:"op"`
	Result    string `json:"result"`
	Detail    string `json:"detail,omitempty"`

	// Chain provides tamper detection. Events written before the
	// master key is available (failed unlock attempts) carry no HMAC
	// and are excluded from chain verification.
	Chain Chain `json:"chain"`
}

// Chain is the HMAC chain portion of an event.
type Chain struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
	HMAC     string `json:"hmac,omitempty"`
}

// Logger appends events to monthly JSONL files under its directory.
type Logger struct {
	path string

	mu       sync.Mutex
	hmacKey  []byte
	keySet   bool
	sequence int64
	prevHash string
}

// NewLogger creates a logger writing under path. The directory is
// created lazily on first write.
func NewLogger(path string) *Logger {
	return &Logger{
		path:     path,
		prevHash: "genesis",
	}
}

// SetHMACKey derives the chain HMAC key from the master key using
// HKDF-SHA256 and loads any persisted chain state. Called when the
// vault unlocks.
func (l *Logger) SetHMACKey(masterKey []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r := hkdf.New(sha256.New, masterKey, nil, []byte("pdvault-audit-v1"))
	l.hmacKey = make([]byte, 32)
	if _, err := r.Read(l.hmacKey); err != nil {
		return fmt.Errorf("audit: failed to derive HMAC key: %w", err)
	}
	l.keySet = true

	if err := l.loadChainState(); err != nil {
		// First run, or the state file is gone. Start a fresh chain.
		l.sequence = 0
		l.prevHash = "genesis"
	}

	return nil
}

// ClearHMACKey forgets the chain key. Called when the vault locks.
func (l *Logger) ClearHMACKey() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hmacKey = nil
	l.keySet = false
}

// Log records one event. Events logged without an HMAC key (failed
// unlock attempts happen before any key exists) are written unchained.
func (l *Logger) Log(op, result, detail string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.path, 0700); err != nil {
		return fmt.Errorf("audit: failed to create directory: %w", err)
	}

	event := Event{
		Version:   1,
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Operation: op,
		Result:    result,
		Detail:    detail,
	}

	if l.keySet {
		l.sequence++
		event.Chain.Sequence = l.sequence
		event.Chain.PrevHash = l.prevHash
		event.Chain.HMAC = l.recordHMAC(&event)
		l.prevHash = event.Chain.HMAC
	}

	if err := l.writeEvent(&event); err != nil {
		return err
	}
	if l.keySet {
		return l.saveChainState()
	}
	return nil
}

// LogSuccess records a successful operation.
func (l *Logger) LogSuccess(op, detail string) error {
	return l.Log(op, ResultSuccess, detail)
}

// LogError records a failed operation.
func (l *Logger) LogError(op, detail string) error {
	return l.Log(op, ResultError, detail)
}

func (l *Logger) recordHMAC(event *Event) string {
	data := fmt.Sprintf("%d|%s|%s|%s|%s|%s|%d|%s",
		event.Version,
		event.ID,
		event.Timestamp,
		event.Operation,
		event.Result,
		event.Detail,
		event.Chain.Sequence,
		event.Chain.PrevHash,
	)
	mac := hmac.New(sha256.New, l.hmacKey)
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// writeEvent appends an event to the current month's log file.
func (l *Logger) writeEvent(event *Event) error {
	name := time.Now().UTC().Format("2006-01") + ".jsonl"
	f, err := os.OpenFile(filepath.Join(l.path, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("audit: failed to open log file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("audit: failed to write event: %w", err)
	}
	return nil
}

type chainState struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
}

func (l *Logger) chainStatePath() string {
	return filepath.Join(l.path, "chain.json")
}

func (l *Logger) loadChainState() error {
	data, err := os.ReadFile(l.chainStatePath())
	if err != nil {
		return err
	}
	var state chainState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	l.sequence = state.Sequence
	l.prevHash = state.PrevHash
	return nil
}

func (l *Logger) saveChainState() error {
	data, err := json.Marshal(chainState{Sequence: l.sequence, PrevHash: l.prevHash})
	if err != nil {
		return fmt.Errorf("audit: failed to marshal chain state: %w", err)
	}
	if err := os.WriteFile(l.chainStatePath(), data, 0600); err != nil {
		return fmt.Errorf("audit: failed to save chain state: %w", err)
	}
	return nil
}

// VerifyResult is the outcome of a chain verification pass.
type VerifyResult struct {
	Valid           bool     `json:"valid"`
	RecordsTotal    int      `json:"records_total"`
	RecordsVerified int      `json:"records_verified"`
	Errors          []string `json:"errors,omitempty"`
}

// Verify walks every chained event in sequence order and recomputes
// the HMAC chain. Requires SetHMACKey first.
func (l *Logger) Verify() (*VerifyResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.keySet {
		return nil, fmt.Errorf("audit: HMAC key not set")
	}

	events, err := l.readAllEvents()
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{Valid: true, RecordsTotal: len(events)}

	prev := "genesis"
	for _, ev := range events {
		if ev.Chain.HMAC == "" {
			// Unchained pre-unlock event; counted but not verified.
			continue
		}
		if ev.Chain.PrevHash != prev {
			result.Valid = false
			result.Errors = append(result.Errors,
				fmt.Sprintf("seq %d: chain break, prev hash mismatch", ev.Chain.Sequence))
		}
		if l.recordHMAC(&ev) != ev.Chain.HMAC {
			result.Valid = false
			result.Errors = append(result.Errors,
				fmt.Sprintf("seq %d: HMAC mismatch", ev.Chain.Sequence))
		} else {
			result.RecordsVerified++
		}
		prev = ev.Chain.HMAC
	}

	return result, nil
}

// readAllEvents loads every event from every monthly file, chained
// events ordered by sequence.
func (l *Logger) readAllEvents() ([]Event, error) {
	entries, err := os.ReadDir(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("audit: failed to read log directory: %w", err)
	}

	var events []Event
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(l.path, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("audit: failed to read %s: %w", entry.Name(), err)
		}
		for _, line := range strings.Split(string(data), "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}
			var ev Event
			if err := json.Unmarshal([]byte(line), &ev); err != nil {
				return nil, fmt.Errorf("audit: malformed event in %s: %w", entry.Name(), err)
			}
			events = append(events, ev)
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Chain.Sequence < events[j].Chain.Sequence
	})
	return events, nil
}
