// Package permissions tracks device permission state for capability gating.
// Mobile permissions can be granted or revoked mid-session, so callers
// re-check state per step rather than caching it for a whole plan.
package permissions

import "sync"

// Permission identifies a device permission a capability may require.
type Permission string

const (
	Camera        Permission = "camera"
	Location      Permission = "location"
	Notifications Permission = "notifications"
	Microphone    Permission = "microphone"
	Storage       Permission = "storage"
	Contacts      Permission = "contacts"
)

// Checker reports the live grant state of device permissions.
// Implementations must be safe for concurrent use.
type Checker interface {
	// Granted reports whether the permission is currently granted.
	Granted(p Permission) bool

	// Requestable reports whether the permission could still be requested
	// from the user at runtime (not permanently denied).
	Requestable(p Permission) bool
}

// Missing returns the subset of required permissions not currently granted.
func Missing(checker Checker, required []Permission) []Permission {
	var missing []Permission
	for _, p := range required {
		if !checker.Granted(p) {
			missing = append(missing, p)
		}
	}
	return missing
}

// State is an in-memory Checker with mutable grant state, used by hosts
// that mirror platform permission callbacks into the engine.
type State struct {
	mu          sync.RWMutex
	granted     map[Permission]bool
	requestable map[Permission]bool
}

// NewState creates an empty permission state. Unknown permissions are
// treated as not granted but requestable.
func NewState() *State {
	return &State{
		granted:     make(map[Permission]bool),
		requestable: make(map[Permission]bool),
	}
}

// Grant marks a permission as granted.
func (s *State) Grant(p Permission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.granted[p] = true
}

// Revoke marks a permission as not granted.
func (s *State) Revoke(p Permission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.granted[p] = false
}

// Deny marks a permission as permanently denied: not granted and no
// longer requestable.
func (s *State) Deny(p Permission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.granted[p] = false
	s.requestable[p] = false
}

// Granted implements Checker.
func (s *State) Granted(p Permission) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.granted[p]
}

// Requestable implements Checker.
func (s *State) Requestable(p Permission) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.requestable[p]; ok {
		return v
	}
	return true
}
