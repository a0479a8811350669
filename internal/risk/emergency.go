package risk

import (
	"sync"
	"sync/atomic"
	"time"
)

// Controls is the process-wide state the scheduler reads once per tick.
type Controls struct {
	EmergencyStop bool       `json:"emergencyStop"`
	Reason        string     `json:"reason,omitempty"`
	Since         *time.Time `json:"since,omitempty"`
}

// Switch holds the emergency stop. Reads are lock-free; writes are serialized.
type Switch struct {
	mu    sync.Mutex
	state atomic.Pointer[Controls]
}

func NewSwitch() *Switch {
	s := &Switch{}
	s.state.Store(&Controls{})
	return s
}

// Snapshot returns a copy of the current controls.
func (s *Switch) Snapshot() Controls {
	return *s.state.Load()
}

// Activate engages the emergency stop. It reports whether the state changed;
// activating an already active switch keeps the original reason and time.
func (s *Switch) Activate(reason string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Load().EmergencyStop {
		return false
	}
	since := now.UTC()
	s.state.Store(&Controls{EmergencyStop: true, Reason: reason, Since: &since})
	return true
}

// Clear releases the emergency stop and reports whether it was active.
func (s *Switch) Clear() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Load().EmergencyStop {
		return false
	}
	s.state.Store(&Controls{})
	return true
}

// Restore replaces the controls with state loaded at startup.
func (s *Switch) Restore(c Controls) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !c.EmergencyStop {
		c = Controls{}
	}
	s.state.Store(&c)
}
