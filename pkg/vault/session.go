package vault

import (
	"errors"
	"sync"

	"github.com/mjj2333/escortcrm-pwa-sub002/pkg/crypto"
)

// errSessionLocked is internal: hooks translate it into passthrough,
// lifecycle operations into ErrNotUnlocked.
var errSessionLocked = errors.New("vault: session locked")

// session owns the in-memory master key. The key exists nowhere else
// once unwrapped; clearing the session zeroes it. Readers hold the
// key only for the duration of a use callback, so a concurrent clear
// can never wipe the key mid-operation.
type session struct {
	mu  sync.RWMutex
	key []byte
}

func newSession() *session {
	return &session{}
}

// active reports whether a master key is loaded.
func (s *session) active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key != nil
}

// use runs fn with the loaded master key, or returns errSessionLocked.
// The key must not escape fn.
func (s *session) use(fn func(key []byte) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.key == nil {
		return errSessionLocked
	}
	return fn(s.key)
}

// set installs a master key, wiping any previous one.
func (s *session) set(key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key != nil {
		crypto.SecureWipe(s.key)
	}
	s.key = key
}

// clear zeroes and discards the master key.
func (s *session) clear() {
	s.set(nil)
}
