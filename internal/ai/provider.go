// Package ai owns the conversational turn loop with the external AI
// provider: it drives the per-call receptionist session and decides, turn
// by turn, whether the AI keeps the call, hands it to a human, or ends it.
package ai

import (
	"context"
	"errors"
)

// ErrServiceUnavailable wraps provider quota, outage, and malformed-response
// failures. Callers recover by forcing a transfer; the call is never dropped
// because the AI failed.
var ErrServiceUnavailable = errors.New("ai provider unavailable")

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of conversation context.
type Message struct {
	Role    string
	Content string
}

// Outcome is the provider's discriminated turn verdict. Using an explicit
// variant instead of sentinel values keeps control flow at the session
// boundary unambiguous.
type Outcome string

// Turn outcomes.
const (
	OutcomeContinue Outcome = "continue"
	OutcomeTransfer Outcome = "transfer"
)

// Reply is the provider's response to one caller utterance.
type Reply struct {
	Utterance string
	Outcome   Outcome

	// HumanRequested is the side-channel signal that the caller explicitly
	// asked for a human this turn.
	HumanRequested bool

	// Department is an optional routing hint when Outcome is transfer.
	Department string
}

// Provider generates receptionist replies. Respond blocks for up to the
// caller's context deadline; implementations must honor cancellation.
type Provider interface {
	Respond(ctx context.Context, history []Message, utterance string) (*Reply, error)
}
