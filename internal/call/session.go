// Package call owns the lifecycle of a single phone interaction. A Session
// is the aggregate root for one call; every state change goes through the
// Machine, which is the only mutation entry point and guarantees that
// exactly one handler (AI or agent) owns the session at any time.
package call

import (
	"sync"
	"time"
)

// State is a call session lifecycle state.
type State string

// Call session states.
const (
	StateRinging       State = "ringing"
	StateAIHandling    State = "ai_handling"
	StateQueued        State = "queued"
	StateAgentHandling State = "agent_handling"
	StateVoicemail     State = "voicemail"
	StateEnded         State = "ended"
)

// Tier is a session's priority tier as assigned by the classifier.
type Tier string

// Priority tiers.
const (
	TierNormal Tier = "normal"
	TierVIP    Tier = "vip"
	TierSpam   Tier = "spam"
)

// Session carries all state for one call. The provider-issued call id is the
// session identity. Mutable fields are guarded by mu and mutated only by the
// Machine; other components read through the accessors.
type Session struct {
	id         string
	tenantID   int64
	callerHash string // keyed fingerprint of the caller number, never the raw value
	callee     string
	startedAt  time.Time

	mu               sync.Mutex
	state            State
	tier             Tier
	endedAt          *time.Time
	agentExtension   string
	queuePosition    int // -1 when not queued
	transferAttempts int
}

// NewSession creates a session in the ringing state.
func NewSession(id string, tenantID int64, callerHash, callee string) *Session {
	return &Session{
		id:            id,
		tenantID:      tenantID,
		callerHash:    callerHash,
		callee:        callee,
		startedAt:     time.Now(),
		state:         StateRinging,
		tier:          TierNormal,
		queuePosition: -1,
	}
}

// ID returns the provider-issued call identifier.
func (s *Session) ID() string { return s.id }

// TenantID returns the owning tenant.
func (s *Session) TenantID() int64 { return s.tenantID }

// CallerHash returns the caller number fingerprint.
func (s *Session) CallerHash() string { return s.callerHash }

// Callee returns the dialed number.
func (s *Session) Callee() string { return s.callee }

// StartedAt returns the session start time.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Tier returns the priority tier.
func (s *Session) Tier() Tier {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tier
}

// EndedAt returns the end timestamp, or nil while the call is live.
func (s *Session) EndedAt() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt
}

// AgentExtension returns the assigned agent's extension, or "" if none.
func (s *Session) AgentExtension() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agentExtension
}

// QueuePosition returns the position assigned when the session was
// enqueued, or -1 if not queued. The value is not recomputed as earlier
// entries drain or VIP callers are admitted ahead; it reports standing at
// enqueue time only.
func (s *Session) QueuePosition() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queuePosition
}

// TransferAttempts returns the monotonic transfer-attempt counter.
func (s *Session) TransferAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transferAttempts
}

// Snapshot is a point-in-time view of a session's mutable state. It is also
// the result type of replaying an audit trail (see Replay).
type Snapshot struct {
	State            State
	Tier             Tier
	TransferAttempts int
	AgentExtension   string
	EndedAt          *time.Time
}

// Snapshot returns a consistent view of the session's mutable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		State:            s.state,
		Tier:             s.tier,
		TransferAttempts: s.transferAttempts,
		AgentExtension:   s.agentExtension,
		EndedAt:          s.endedAt,
	}
}
