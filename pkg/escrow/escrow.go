// Package escrow holds a platform-protected copy of the plaintext
// passcode so a biometric (or OS-credential) assertion can stand in
// for digit entry. The vault core only ever sees the passcode again
// through Assert; everything else about the stored blob is the
// platform's business.
package escrow

import "errors"

// Errors returned by escrow implementations.
var (
	// ErrUnavailable indicates no platform credential protection exists
	// on this device; enrollment is refused rather than degraded.
	ErrUnavailable = errors.New("escrow: platform credential store unavailable")

	// ErrNotEnrolled indicates Assert was called with no escrowed
	// passcode present.
	ErrNotEnrolled = errors.New("escrow: no passcode enrolled")
)

// Escrow stores and releases the plaintext passcode under platform
// protection.
//
// Implementations must treat staleness as fatal: an escrowed passcode
// that may no longer match the current one has to be removed, never
// left behind.
type Escrow interface {
	// Available reports whether the platform backend can be used at all.
	Available() bool

	// Enrolled reports whether a passcode is currently escrowed.
	Enrolled() bool

	// Enroll stores the just-verified plaintext passcode, replacing any
	// previous escrow.
	Enroll(passcode string) error

	// Assert releases the escrowed passcode after the platform's own
	// verification. Returns ErrNotEnrolled when nothing is escrowed.
	Assert() (string, error)

	// Remove deletes the escrowed passcode. Removing an absent escrow
	// is not an error.
	Remove() error
}
