package escrow

import "sync"

// Memory is an in-process escrow used in tests and on platforms
// without a usable keyring. Nothing survives the process.
type Memory struct {
	mu       sync.Mutex
	passcode string
	enrolled bool

	// FailEnroll makes the next Enroll call fail, for exercising the
	// fail-closed path after a passcode change.
	FailEnroll bool

	// Unavailable makes the backend report itself unusable.
	Unavailable bool
}

// NewMemory returns an empty in-memory escrow.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Available() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.Unavailable
}

func (m *Memory) Enrolled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enrolled
}

func (m *Memory) Enroll(passcode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Unavailable {
		return ErrUnavailable
	}
	if m.FailEnroll {
		return ErrUnavailable
	}
	m.passcode = passcode
	m.enrolled = true
	return nil
}

func (m *Memory) Assert() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enrolled {
		return "", ErrNotEnrolled
	}
	return m.passcode, nil
}

func (m *Memory) Remove() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.passcode = ""
	m.enrolled = false
	return nil
}
