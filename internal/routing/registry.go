// Package routing selects human targets for calls that leave AI handling:
// it claims available agents atomically, orders the wait queue, and applies
// the tenant's configured selection strategy.
package routing

import (
	"sync"
	"time"
)

// Target kinds.
const (
	TargetAgent     = "agent"
	TargetQueue     = "queue"
	TargetVoicemail = "voicemail"
)

// Target is a candidate destination for a call.
type Target struct {
	ID             int64
	TenantID       int64
	Kind           string
	Extension      string
	Department     string
	PriorityWeight int
}

// Registry is the single owner of live agent availability, shared by all
// concurrent call workers. Claims are compare-and-set: a target that is
// available and unheld becomes held by exactly one session, which is the
// guard against two calls landing on the same agent.
type Registry struct {
	mu        sync.Mutex
	available map[int64]bool
	heldBy    map[int64]string    // target id -> session id holding it
	idleSince map[int64]time.Time // for the longest-idle strategy
	nowFunc   func() time.Time
}

// NewRegistry creates an empty availability registry.
func NewRegistry() *Registry {
	return &Registry{
		available: make(map[int64]bool),
		heldBy:    make(map[int64]string),
		idleSince: make(map[int64]time.Time),
		nowFunc:   time.Now,
	}
}

// SetAvailable marks a target available or unavailable, e.g. from an agent
// presence update. Marking a held target unavailable does not evict the
// session holding it; the hold simply won't be re-claimable after release.
func (r *Registry) SetAvailable(targetID int64, available bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.available[targetID] = available
	if available {
		if _, ok := r.idleSince[targetID]; !ok {
			r.idleSince[targetID] = r.nowFunc()
		}
	} else {
		delete(r.idleSince, targetID)
	}
}

// TryClaim atomically claims a target for a session. Returns false if the
// target is unavailable or already held by another session.
func (r *Registry) TryClaim(targetID int64, sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.available[targetID] {
		return false
	}
	if _, held := r.heldBy[targetID]; held {
		return false
	}
	r.heldBy[targetID] = sessionID
	delete(r.idleSince, targetID)
	return true
}

// Release frees a target held by a session. Releasing a target the session
// does not hold is a no-op, so hangup cleanup can call it unconditionally.
func (r *Registry) Release(targetID int64, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.heldBy[targetID] != sessionID {
		return
	}
	delete(r.heldBy, targetID)
	r.idleSince[targetID] = r.nowFunc()
}

// IsAvailable reports whether a target is available and unheld.
func (r *Registry) IsAvailable(targetID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, held := r.heldBy[targetID]
	return r.available[targetID] && !held
}

// HeldBy returns the session currently holding a target, or "".
func (r *Registry) HeldBy(targetID int64) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.heldBy[targetID]
}

// IdleSince returns when a target last became idle. The zero time sorts a
// never-seen target as longest idle, which is the desired cold-start bias.
func (r *Registry) IdleSince(targetID int64) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.idleSince[targetID]
}

// HeldCount returns the number of currently held targets, for metrics.
func (r *Registry) HeldCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.heldBy)
}
