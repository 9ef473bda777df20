package ai

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/voicecore/voicecore/internal/call"
)

// Session phases. These are internal to the AI handling component; the
// call-level state machine only sees ai_handling until the session ends
// or requests a transfer.
const (
	PhaseGreeting          = "greeting"
	PhaseListening         = "listening"
	PhaseResponding        = "responding"
	PhaseTransferRequested = "transfer_requested"
	PhaseEnded             = "ended"
)

// Transfer reasons emitted by the AI session.
const (
	ReasonCallerRequested = "caller-requested-human"
	ReasonAIRecommended   = "ai-recommended"
	ReasonAITimeout       = "ai-timeout"
	ReasonAIUnavailable   = "ai-service-unavailable"
)

// transferRequestThreshold is how many explicit human requests it takes
// before the session gives up deflecting. The first two requests are
// answered with an offer to help; the third always transfers.
const transferRequestThreshold = 3

// ErrNotListening is returned when an utterance arrives while the session
// is not accepting one, e.g. after it already requested a transfer.
var ErrNotListening = errors.New("ai session not accepting utterances")

// TurnResult is the dispatcher-facing outcome of one caller utterance.
type TurnResult struct {
	// Utterance is what the receptionist says back, empty on a silent
	// handoff.
	Utterance string

	// Transfer reports that the session is done and the call needs a human.
	Transfer   bool
	Reason     string
	Department string
}

// Session runs the AI receptionist conversation for one call. It is driven
// by a single call worker, so methods are not safe for concurrent use.
type Session struct {
	provider Provider
	machine  *call.Machine
	sess     *call.Session
	greeting string
	timeout  time.Duration
	logger   *slog.Logger

	phase   string
	history []Message
}

// NewSession creates an AI handling session for a call. greeting is the
// tenant's configured opening line; timeout bounds each provider turn.
func NewSession(provider Provider, machine *call.Machine, sess *call.Session, greeting string, timeout time.Duration, logger *slog.Logger) *Session {
	return &Session{
		provider: provider,
		machine:  machine,
		sess:     sess,
		greeting: greeting,
		timeout:  timeout,
		logger:   logger.With("subsystem", "ai_session", "session_id", sess.ID()),
		phase:    PhaseGreeting,
	}
}

// Phase returns the session's current internal phase.
func (s *Session) Phase() string { return s.phase }

// Greet returns the tenant greeting and opens the session for utterances.
func (s *Session) Greet() string {
	if s.phase == PhaseGreeting {
		s.phase = PhaseListening
		s.history = append(s.history, Message{Role: RoleAssistant, Content: s.greeting})
	}
	return s.greeting
}

// HandleUtterance processes one caller utterance and returns the next turn.
// A transfer result is terminal: the session stops listening and the
// dispatcher moves the call to routing.
func (s *Session) HandleUtterance(ctx context.Context, text string) (*TurnResult, error) {
	if s.phase != PhaseListening {
		return nil, ErrNotListening
	}
	s.phase = PhaseResponding

	// An explicit ask for a person is counted before anything else, so a
	// provider outage can never lose a strike.
	requested := wantsHuman(text)
	if requested {
		n, err := s.machine.RecordAttempt(ctx, s.sess, ReasonCallerRequested)
		if err != nil {
			return nil, err
		}
		if n >= transferRequestThreshold {
			return s.transfer(ReasonCallerRequested, "")
		}
		s.logger.Debug("deflecting human request", "attempt", n)
	}

	turnCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	reply, err := s.provider.Respond(turnCtx, s.history, text)
	if err != nil {
		// The caller is never stranded on an AI failure: both timeout and
		// outage hand the call to a human.
		if errors.Is(err, context.DeadlineExceeded) {
			s.logger.Warn("provider turn timed out", "timeout", s.timeout)
			return s.transfer(ReasonAITimeout, "")
		}
		if errors.Is(err, ErrServiceUnavailable) {
			s.logger.Error("provider unavailable", "error", err)
			return s.transfer(ReasonAIUnavailable, "")
		}
		return nil, err
	}

	if !requested && reply.HumanRequested {
		// The model caught a phrasing the keyword matcher missed.
		n, err := s.machine.RecordAttempt(ctx, s.sess, ReasonCallerRequested)
		if err != nil {
			return nil, err
		}
		if n >= transferRequestThreshold {
			return s.transfer(ReasonCallerRequested, reply.Department)
		}
	}

	if reply.Outcome == OutcomeTransfer {
		return s.transfer(ReasonAIRecommended, reply.Department)
	}

	s.history = append(s.history,
		Message{Role: RoleUser, Content: text},
		Message{Role: RoleAssistant, Content: reply.Utterance},
	)
	s.phase = PhaseListening
	return &TurnResult{Utterance: reply.Utterance}, nil
}

// End closes the session, e.g. on caller hangup.
func (s *Session) End() { s.phase = PhaseEnded }

func (s *Session) transfer(reason, department string) (*TurnResult, error) {
	s.phase = PhaseTransferRequested
	s.logger.Info("transfer requested", "reason", reason, "department", department)
	return &TurnResult{
		Utterance:  "One moment while I connect you.",
		Transfer:   true,
		Reason:     reason,
		Department: department,
	}, nil
}

// humanPhrases are the substrings treated as an explicit request for a
// person. Matching is deliberately loose; the provider's own signal covers
// the rest.
var humanPhrases = []string{
	"human",
	"real person",
	"an agent",
	"representative",
	"operator",
	"speak to someone",
	"talk to someone",
}

func wantsHuman(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range humanPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
