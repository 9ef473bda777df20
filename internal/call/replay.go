package call

import (
	"fmt"

	"github.com/voicecore/voicecore/internal/audit"
	"github.com/voicecore/voicecore/internal/database/models"
)

// Replay folds an ordered audit event sequence into the session snapshot it
// produces. Because every mutation writes exactly one event before taking
// effect, replaying a completed session's trail from the start reproduces
// its exact final state. Used for debugging and trail verification.
func Replay(events []models.AuditEvent) (Snapshot, error) {
	snap := Snapshot{
		State: StateRinging,
		Tier:  TierNormal,
	}

	for _, ev := range events {
		switch ev.Kind {
		case audit.KindTransition:
			if State(ev.FromState) != snap.State {
				return snap, fmt.Errorf("replay: transition from %q but current state is %q (event %s)",
					ev.FromState, snap.State, ev.ID)
			}
			snap.State = State(ev.ToState)
			if snap.State == StateEnded && snap.EndedAt == nil {
				ts := ev.Timestamp
				snap.EndedAt = &ts
			}
		case audit.KindClassification:
			snap.Tier = Tier(ev.Target)
		case audit.KindAttempt:
			snap.TransferAttempts++
		case audit.KindDecision:
			if ev.Decision == audit.DecisionTransferToAgent {
				snap.AgentExtension = ev.Target
			}
		default:
			return snap, fmt.Errorf("replay: unknown event kind %q (event %s)", ev.Kind, ev.ID)
		}
	}

	return snap, nil
}
