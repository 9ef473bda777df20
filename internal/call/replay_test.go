package call

import (
	"context"
	"testing"

	"github.com/voicecore/voicecore/internal/audit"
	"github.com/voicecore/voicecore/internal/database/models"
)

// TestReplayReproducesFinalState drives a full session through the machine
// and checks that replaying the recorded trail lands on the same snapshot.
func TestReplayReproducesFinalState(t *testing.T) {
	rec := &captureRecorder{}
	m := newTestMachine(rec)
	s := NewSession("call-1", 1, "hash", "+15550100")
	ctx := context.Background()

	if err := m.SetTier(ctx, s, TierVIP, "rule-2-vip"); err != nil {
		t.Fatal(err)
	}
	if err := m.Decide(ctx, s, audit.DecisionHandleByAI, "", "classified-vip"); err != nil {
		t.Fatal(err)
	}
	if err := m.Transition(ctx, s, StateAIHandling, "greeting"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := m.RecordAttempt(ctx, s, "caller-requested-human"); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.Decide(ctx, s, audit.DecisionTransferToAgent, "101", "strategy-round_robin"); err != nil {
		t.Fatal(err)
	}
	m.AssignAgent(s, "101")
	if err := m.Transition(ctx, s, StateAgentHandling, "caller-requested-human"); err != nil {
		t.Fatal(err)
	}
	if err := m.Transition(ctx, s, StateEnded, "hangup"); err != nil {
		t.Fatal(err)
	}

	snap, err := Replay(rec.events)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}

	live := s.Snapshot()
	if snap.State != live.State {
		t.Errorf("replayed state = %s, want %s", snap.State, live.State)
	}
	if snap.Tier != live.Tier {
		t.Errorf("replayed tier = %s, want %s", snap.Tier, live.Tier)
	}
	if snap.TransferAttempts != live.TransferAttempts {
		t.Errorf("replayed attempts = %d, want %d", snap.TransferAttempts, live.TransferAttempts)
	}
	if snap.AgentExtension != live.AgentExtension {
		t.Errorf("replayed agent = %q, want %q", snap.AgentExtension, live.AgentExtension)
	}
	if snap.EndedAt == nil || live.EndedAt == nil || !snap.EndedAt.Equal(*live.EndedAt) {
		t.Errorf("replayed EndedAt = %v, want %v", snap.EndedAt, live.EndedAt)
	}
}

// trailRepo is a minimal primary store capturing persisted events, so the
// machine can be wired to the real audit log.
type trailRepo struct {
	events []models.AuditEvent
}

func (r *trailRepo) Append(_ context.Context, ev *models.AuditEvent) error {
	r.events = append(r.events, *ev)
	return nil
}

func (r *trailRepo) ListBySession(_ context.Context, sessionID string) ([]models.AuditEvent, error) {
	return r.events, nil
}

func (r *trailRepo) CountByDecision(_ context.Context) (map[string]int64, error) {
	return nil, nil
}

// TestReplayEndedAtMatchesSessionClock runs the machine against the real
// audit log with both on their default clocks. The end timestamp on the
// session and the one on the recorded transition must be the same reading,
// not two reads microseconds apart.
func TestReplayEndedAtMatchesSessionClock(t *testing.T) {
	repo := &trailRepo{}
	log := audit.NewLog(repo, nil, testLogger())
	m := NewMachine(log, testLogger())
	s := NewSession("call-1", 1, "hash", "+15550100")

	if err := m.Transition(context.Background(), s, StateEnded, "hangup"); err != nil {
		t.Fatal(err)
	}

	snap, err := Replay(repo.events)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	live := s.EndedAt()
	if snap.EndedAt == nil || live == nil {
		t.Fatal("EndedAt missing on replay or session")
	}
	if !snap.EndedAt.Equal(*live) {
		t.Errorf("replayed EndedAt %v != session EndedAt %v", snap.EndedAt, live)
	}
}

func TestReplayEmptyTrail(t *testing.T) {
	snap, err := Replay(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.State != StateRinging || snap.Tier != TierNormal {
		t.Errorf("empty replay = %+v, want ringing/normal", snap)
	}
}

func TestReplayDetectsBrokenContinuity(t *testing.T) {
	events := []models.AuditEvent{
		{ID: "ev-1", Kind: audit.KindTransition, FromState: "ringing", ToState: "ai_handling"},
		{ID: "ev-2", Kind: audit.KindTransition, FromState: "queued", ToState: "agent_handling"},
	}
	if _, err := Replay(events); err == nil {
		t.Fatal("expected error for broken transition continuity")
	}
}

func TestReplayRejectsUnknownKind(t *testing.T) {
	events := []models.AuditEvent{
		{ID: "ev-1", Kind: "mystery"},
	}
	if _, err := Replay(events); err == nil {
		t.Fatal("expected error for unknown event kind")
	}
}
