package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/voicecore/voicecore/internal/audit"
)

// ErrInvalidTransition is returned when a component attempts an illegal
// state-machine move. This is a programming-error class: the dispatcher
// treats it as fatal for the session and forces the call to ended.
var ErrInvalidTransition = errors.New("invalid call state transition")

// Recorder is the audit sink for state machine events. *audit.Log satisfies it.
type Recorder interface {
	Append(ctx context.Context, e audit.Entry) error
}

// validTransitions defines the allowed state graph. The ended state is
// terminal: it has no outgoing edges, so any attempt to leave it fails.
var validTransitions = map[State][]State{
	StateRinging:       {StateAIHandling, StateQueued, StateAgentHandling, StateVoicemail, StateEnded},
	StateAIHandling:    {StateQueued, StateAgentHandling, StateVoicemail, StateEnded},
	StateQueued:        {StateAgentHandling, StateVoicemail, StateEnded},
	StateAgentHandling: {StateEnded},
	StateVoicemail:     {StateEnded},
	StateEnded:         {},
}

// Machine is the single mutation entry point for call sessions. All
// components request session changes through it; it validates the move,
// writes the audit record, and only then applies the mutation. This
// centralization is what guarantees one current handler per session.
type Machine struct {
	log     Recorder
	logger  *slog.Logger
	nowFunc func() time.Time // injectable for testing
}

// NewMachine creates a call state machine writing to the given audit log.
func NewMachine(log Recorder, logger *slog.Logger) *Machine {
	return &Machine{
		log:     log,
		logger:  logger.With("subsystem", "call_machine"),
		nowFunc: time.Now,
	}
}

// Transition moves the session to a new state. The audit record is written
// before the mutation is applied; if the append fails the session is left
// unchanged. Transitions out of ended fail with ErrInvalidTransition and
// never touch the recorded end timestamp. The end timestamp is the same
// clock reading stamped on the transition event, so replaying the trail
// reproduces it exactly.
func (m *Machine) Transition(ctx context.Context, s *Session, to State, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	from := s.state
	if !transitionAllowed(from, to) {
		m.logger.Error("invalid transition attempted",
			"session_id", s.id,
			"from", from,
			"to", to,
			"reason", reason,
		)
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	now := m.nowFunc().UTC()
	if err := m.log.Append(ctx, audit.Entry{
		SessionID: s.id,
		TenantID:  s.tenantID,
		Kind:      audit.KindTransition,
		FromState: string(from),
		ToState:   string(to),
		Reason:    reason,
		Timestamp: now,
	}); err != nil {
		return fmt.Errorf("recording transition %s -> %s: %w", from, to, err)
	}

	s.state = to
	if to == StateEnded && s.endedAt == nil {
		s.endedAt = &now
	}
	if to != StateQueued {
		s.queuePosition = -1
	}

	m.logger.Debug("session transitioned",
		"session_id", s.id,
		"from", from,
		"to", to,
		"reason", reason,
	)
	return nil
}

// Decide records an immutable transfer decision for the session.
func (m *Machine) Decide(ctx context.Context, s *Session, decision, target, reason string) error {
	if err := m.log.Append(ctx, audit.Entry{
		SessionID: s.id,
		TenantID:  s.tenantID,
		Kind:      audit.KindDecision,
		FromState: string(s.State()),
		Decision:  decision,
		Target:    target,
		Reason:    reason,
	}); err != nil {
		return fmt.Errorf("recording decision %s: %w", decision, err)
	}
	return nil
}

// SetTier assigns the session's priority tier from classification. The
// winning action and score are recorded for the audit trail.
func (m *Machine) SetTier(ctx context.Context, s *Session, tier Tier, reason string) error {
	if err := m.log.Append(ctx, audit.Entry{
		SessionID: s.id,
		TenantID:  s.tenantID,
		Kind:      audit.KindClassification,
		Target:    string(tier),
		Reason:    reason,
	}); err != nil {
		return fmt.Errorf("recording classification: %w", err)
	}

	s.mu.Lock()
	s.tier = tier
	s.mu.Unlock()
	return nil
}

// RecordAttempt increments the monotonic transfer-attempt counter and
// returns the new count. The counter never resets for the session lifetime.
func (m *Machine) RecordAttempt(ctx context.Context, s *Session, reason string) (int, error) {
	if err := m.log.Append(ctx, audit.Entry{
		SessionID: s.id,
		TenantID:  s.tenantID,
		Kind:      audit.KindAttempt,
		Reason:    reason,
	}); err != nil {
		return s.TransferAttempts(), fmt.Errorf("recording transfer attempt: %w", err)
	}

	s.mu.Lock()
	s.transferAttempts++
	n := s.transferAttempts
	s.mu.Unlock()
	return n, nil
}

// AssignAgent records the agent extension now handling the session.
func (m *Machine) AssignAgent(s *Session, extension string) {
	s.mu.Lock()
	s.agentExtension = extension
	s.mu.Unlock()
}

// SetQueuePosition records the session's wait-queue position at enqueue
// time. The position is a snapshot, not a live view of the queue.
func (m *Machine) SetQueuePosition(s *Session, pos int) {
	s.mu.Lock()
	s.queuePosition = pos
	s.mu.Unlock()
}

// ForceEnd transitions the session to ended from whatever state it is in.
// Used for caller hangup, which is an interrupt rather than a cooperative
// signal. Ending an already-ended session is a no-op.
func (m *Machine) ForceEnd(ctx context.Context, s *Session, reason string) error {
	if s.State() == StateEnded {
		return nil
	}
	return m.Transition(ctx, s, StateEnded, reason)
}

// transitionAllowed reports whether from -> to is a legal move.
func transitionAllowed(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
