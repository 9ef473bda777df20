// Package telephony is the outbound boundary to the call-control provider:
// the opaque API that actually bridges audio, plays prompts, and tears
// calls down. Everything above it deals only in session IDs.
package telephony

import "context"

// Controller issues call-control commands for a live call leg. The provider
// is external; every command can fail and callers must decide whether the
// call survives the failure.
type Controller interface {
	// Play speaks or streams a prompt to the caller.
	Play(ctx context.Context, callID, text string) error

	// Transfer bridges the caller to an agent extension.
	Transfer(ctx context.Context, callID, extension string) error

	// Voicemail diverts the caller to a voicemail box. box is the owning
	// extension, or empty for the tenant's general box.
	Voicemail(ctx context.Context, callID, box string) error

	// Hangup tears the call leg down.
	Hangup(ctx context.Context, callID string) error
}
