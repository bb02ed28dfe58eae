package session

import (
	"fmt"
	"sync"

	"github.com/perchlabs/perch/internal/apierr"
)

// LocalOwner is the sentinel owner used when capture is toggled from the
// local attach UI rather than by an identified API client.
const LocalOwner = "local"

// Mode says where session input goes: to the PTY (passthrough) or to input
// subscribers only (capture).
type Mode string

const (
	ModePassthrough Mode = "passthrough"
	ModeCapture     Mode = "capture"
)

// InputMode is the capture-mode lock for one session. At most one owner may
// hold capture; release is owner-checked so a slow client cannot steal the
// terminal back from whoever captured it.
type InputMode struct {
	mu    sync.RWMutex
	mode  Mode
	owner string
}

func NewInputMode() *InputMode {
	return &InputMode{mode: ModePassthrough}
}

// Capture puts the session into capture mode owned by owner. Re-capturing by
// the same owner is idempotent; any other owner gets invalid_input_mode with
// the holder named in the message.
func (m *InputMode) Capture(owner string) error {
	if owner == "" {
		return apierr.InvalidInputMode("capture requires an owner")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mode == ModeCapture && m.owner != owner {
		return apierr.InvalidInputMode(fmt.Sprintf("input already captured by %q", m.owner))
	}
	m.mode = ModeCapture
	m.owner = owner
	return nil
}

// Release returns the session to passthrough. Releasing from passthrough
// succeeds; releasing somebody else's capture does not.
func (m *InputMode) Release(owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mode != ModeCapture {
		return nil
	}
	if m.owner != owner {
		return apierr.InvalidInputMode(fmt.Sprintf("input captured by %q, not %q", m.owner, owner))
	}
	m.mode = ModePassthrough
	m.owner = ""
	return nil
}

// ReleaseIfOwner releases capture only when owner holds it. Used on client
// disconnect so an orphaned capture cannot block later clients; a no-op for
// everyone else.
func (m *InputMode) ReleaseIfOwner(owner string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mode == ModeCapture && m.owner == owner {
		m.mode = ModePassthrough
		m.owner = ""
		return true
	}
	return false
}

// Toggle flips the mode. Entering capture this way assigns the local
// sentinel owner.
func (m *InputMode) Toggle() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mode == ModeCapture {
		m.mode = ModePassthrough
		m.owner = ""
	} else {
		m.mode = ModeCapture
		m.owner = LocalOwner
	}
	return m.mode
}

// IsCapture reports whether input is currently captured.
func (m *InputMode) IsCapture() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode == ModeCapture
}

// Mode returns the current mode.
func (m *InputMode) Mode() Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode
}

// Owner returns the capture owner, or "" in passthrough.
func (m *InputMode) Owner() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.owner
}
