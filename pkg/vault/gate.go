package vault

import (
	"errors"
	"fmt"
	"time"

	"github.com/mjj2333/escortcrm-pwa-sub002/pkg/audit"
	"github.com/mjj2333/escortcrm-pwa-sub002/pkg/settings"
)

// Lockout ladder: short cooldowns first, destruction last. Thresholds
// compare against the persisted consecutive-failure count, which only
// a successful unlock resets.
const (
	PasscodeLength     = 4
	LockoutTier1Fails  = 3
	LockoutTier2Fails  = 5
	WipeThresholdFails = 10
)

var (
	LockoutTier1Wait = 30 * time.Second
	LockoutTier2Wait = 5 * time.Minute
)

// Errors surfaced by the gate.
var (
	ErrInvalidPasscode  = errors.New("vault: passcode must be exactly 4 digits")
	ErrPasscodeMismatch = errors.New("vault: passcode confirmation did not match")
	ErrLockedOut        = errors.New("vault: locked out, retry later")
	ErrWiped            = errors.New("vault: attempt limit reached, vault wiped")
	ErrEscrowStale      = errors.New("vault: escrowed passcode is stale, enrollment removed")
	ErrGateBusy         = errors.New("vault: operation not valid in current gate state")
)

// ValidatePasscode checks the fixed passcode shape.
func ValidatePasscode(code string) error {
	if len(code) != PasscodeLength {
		return ErrInvalidPasscode
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return ErrInvalidPasscode
		}
	}
	return nil
}

// GateState is the gate's current position in the unlock flow.
type GateState int

const (
	// StateSetupFirst awaits the first entry of a new passcode.
	StateSetupFirst GateState = iota
	// StateSetupConfirm awaits the confirming re-entry.
	StateSetupConfirm
	// StateLocked awaits a passcode with attempts remaining.
	StateLocked
	// StateLockedOut rejects all attempts until the cooldown passes.
	StateLockedOut
	// StateWiping means the attempt limit was hit and the vault is gone.
	StateWiping
	// StateUnlocked means the session key is loaded.
	StateUnlocked
)

func (s GateState) String() string {
	switch s {
	case StateSetupFirst:
		return "setup"
	case StateSetupConfirm:
		return "setup-confirm"
	case StateLocked:
		return "locked"
	case StateLockedOut:
		return "locked-out"
	case StateWiping:
		return "wiped"
	case StateUnlocked:
		return "unlocked"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Gate is the passcode state machine in front of a Vault. All unlock
// attempts, setup flows, and biometric assertions pass through it; the
// failure counter and lockout deadline live in settings so they
// survive restarts.
type Gate struct {
	vault *Vault

	// now is split out so lockout arithmetic is testable.
	now func() time.Time

	state      GateState
	firstEntry string
}

// NewGate builds a gate over v, resuming persisted lockout state.
func NewGate(v *Vault) *Gate {
	g := &Gate{vault: v, now: time.Now}
	if v.HasPasscode() {
		g.state = StateLocked
	} else {
		g.state = StateSetupFirst
	}
	return g
}

// State returns the current gate state, expiring a persisted lockout
// deadline lazily. The failure count is not reset by expiry; only a
// successful unlock clears it.
func (g *Gate) State() GateState {
	if g.state == StateLocked || g.state == StateLockedOut {
		if g.lockoutRemaining() > 0 {
			g.state = StateLockedOut
		} else {
			g.state = StateLocked
		}
	}
	return g.state
}

// SubmitPasscode advances the gate with one passcode entry. The same
// entry point serves setup, confirmation, and unlock; which one runs
// depends on the current state.
func (g *Gate) SubmitPasscode(code string) error {
	switch g.State() {
	case StateSetupFirst:
		if err := ValidatePasscode(code); err != nil {
			return err
		}
		g.firstEntry = code
		g.state = StateSetupConfirm
		return nil

	case StateSetupConfirm:
		first := g.firstEntry
		g.firstEntry = ""
		if code != first {
			g.state = StateSetupFirst
			return ErrPasscodeMismatch
		}
		if err := g.vault.SetupPasscode(code); err != nil {
			g.state = StateSetupFirst
			return err
		}
		g.state = StateUnlocked
		return nil

	case StateLocked:
		return g.attemptUnlock(code, false)

	case StateLockedOut:
		return fmt.Errorf("%w (%s remaining)", ErrLockedOut, g.lockoutRemaining().Round(time.Second))

	case StateWiping:
		return ErrWiped

	case StateUnlocked:
		return nil

	default:
		return ErrGateBusy
	}
}

// AssertBiometric unlocks with the escrowed passcode after a platform
// biometric assertion. Only valid while Locked; a cooldown applies to
// biometrics too, otherwise the escrow would sidestep the ladder.
func (g *Gate) AssertBiometric() error {
	switch g.State() {
	case StateLocked:
	case StateLockedOut:
		return fmt.Errorf("%w (%s remaining)", ErrLockedOut, g.lockoutRemaining().Round(time.Second))
	case StateWiping:
		return ErrWiped
	default:
		return ErrGateBusy
	}

	code, err := g.vault.escrow.Assert()
	if err != nil {
		return err
	}
	return g.attemptUnlock(code, true)
}

// attemptUnlock verifies and unlocks, maintaining the failure ladder.
//
// A biometric assertion that fails verification means the escrow holds
// a passcode from before a change: the enrollment is deleted and the
// failure is not counted, since no human guessed anything.
func (g *Gate) attemptUnlock(code string, viaBiometric bool) error {
	if !g.vault.VerifyPasscode(code) {
		if viaBiometric {
			_ = g.vault.escrow.Remove()
			_ = g.vault.audit.LogError(audit.OpEscrowRemove, "stale escrow on biometric unlock")
			return ErrEscrowStale
		}
		return g.recordFailure()
	}

	if err := g.vault.Unlock(code); err != nil {
		if errors.Is(err, ErrSchemaMigration) {
			// The verifier matched, so the entry was correct and the
			// attempt state resets. The migration failure surfaces as
			// its own status and never advances the wipe ladder.
			g.clearFailures()
			return err
		}
		// Verifier matched but the key would not unwrap: the wrap
		// record is damaged. Externally indistinguishable from a wrong
		// passcode, and counted the same way.
		g.vault.log.Error().Err(err).Msg("unlock failed after verifier match")
		return g.recordFailure()
	}

	g.clearFailures()
	g.state = StateUnlocked
	_ = g.vault.audit.LogSuccess(audit.OpGateUnlock, "")
	return nil
}

// recordFailure bumps the persisted counter and applies the ladder.
func (g *Gate) recordFailure() error {
	n := g.FailedAttempts() + 1
	if err := g.vault.settings.SetInt(settingFailedAttempts, n); err != nil {
		return err
	}
	_ = g.vault.audit.LogError(audit.OpGateUnlockFailed, fmt.Sprintf("attempt %d", n))

	switch {
	case n >= WipeThresholdFails:
		g.state = StateWiping
		_ = g.vault.audit.LogError(audit.OpGateWipe, fmt.Sprintf("after %d failed attempts", n))
		if err := g.vault.Wipe(); err != nil {
			g.vault.log.Error().Err(err).Msg("wipe failed")
			return err
		}
		return ErrWiped

	case n == LockoutTier2Fails:
		return g.startLockout(n, LockoutTier2Wait)

	case n == LockoutTier1Fails:
		return g.startLockout(n, LockoutTier1Wait)

	default:
		return fmt.Errorf("%w (%d failed attempts)", ErrWrongPasscode, n)
	}
}

func (g *Gate) startLockout(attempts int, wait time.Duration) error {
	until := g.now().Add(wait)
	if err := g.vault.settings.SetTime(settingLockoutUntil, until); err != nil {
		return err
	}
	g.state = StateLockedOut
	_ = g.vault.audit.LogError(audit.OpGateLockout, fmt.Sprintf("attempt %d, until %s", attempts, until.Format(time.RFC3339)))
	return fmt.Errorf("%w (%s)", ErrLockedOut, wait)
}

func (g *Gate) clearFailures() {
	_ = g.vault.settings.Delete(settingFailedAttempts)
	_ = g.vault.settings.Delete(settingLockoutUntil)
}

// FailedAttempts returns the persisted consecutive-failure count.
func (g *Gate) FailedAttempts() int {
	n, err := g.vault.settings.GetInt(settingFailedAttempts)
	if err != nil {
		return 0
	}
	return n
}

// LockoutRemaining returns how long until attempts are accepted again,
// or zero if no cooldown is active.
func (g *Gate) LockoutRemaining() time.Duration {
	return g.lockoutRemaining()
}

func (g *Gate) lockoutRemaining() time.Duration {
	until, err := g.vault.settings.GetTime(settingLockoutUntil)
	if err != nil {
		if !errors.Is(err, settings.ErrNotFound) {
			g.vault.log.Warn().Err(err).Msg("lockout deadline unreadable")
		}
		return 0
	}
	remaining := until.Sub(g.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Lock returns the gate to Locked and drops the session key. No-op
// unless currently Unlocked.
func (g *Gate) Lock() {
	if g.state != StateUnlocked {
		return
	}
	g.vault.Lock()
	g.state = StateLocked
}

// CancelSetup abandons a half-finished setup flow.
func (g *Gate) CancelSetup() {
	if g.state == StateSetupConfirm {
		g.firstEntry = ""
		g.state = StateSetupFirst
	}
}
