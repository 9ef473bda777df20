// Package audit maintains the append-only per-session audit trail. Every
// state transition and routing decision made for a call is recorded here
// before it takes effect; the trail is the compliance record consumed by
// analytics and the input to session replay.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/voicecore/voicecore/internal/database"
	"github.com/voicecore/voicecore/internal/database/models"
)

// Event kinds.
const (
	KindTransition     = "transition"
	KindDecision       = "decision"
	KindAttempt        = "attempt"
	KindClassification = "classification"
)

// Transfer decision kinds recorded with KindDecision.
const (
	DecisionHandleByAI      = "handle-by-ai"
	DecisionTransferToAgent = "transfer-to-agent"
	DecisionTransferToQueue = "transfer-to-queue"
	DecisionVoicemail       = "voicemail"
	DecisionRejectSpam      = "reject-spam"
)

// ErrInvalidEntry is returned when an entry is missing required fields.
var ErrInvalidEntry = errors.New("audit: invalid entry")

// Entry is one audit record before it is assigned an id. Timestamp may be
// set by the caller when the same clock reading must also drive a session
// mutation (the ended timestamp, for replay fidelity); when zero, Append
// stamps it.
type Entry struct {
	SessionID string
	TenantID  int64
	Kind      string
	FromState string
	ToState   string
	Decision  string
	Target    string
	Reason    string
	Timestamp time.Time
}

// Log appends audit entries to the primary store and optionally mirrors them
// to a secondary store for analytics export. The mirror is best-effort: a
// mirror failure is logged but never fails the call path.
type Log struct {
	primary database.AuditRepository
	mirror  database.AuditRepository
	logger  *slog.Logger
	nowFunc func() time.Time // injectable for testing
}

// NewLog creates an audit log. mirror may be nil.
func NewLog(primary, mirror database.AuditRepository, logger *slog.Logger) *Log {
	return &Log{
		primary: primary,
		mirror:  mirror,
		logger:  logger.With("subsystem", "audit"),
		nowFunc: time.Now,
	}
}

// Append records one entry. The entry is stamped with a uuid, and with the
// current time unless the caller provided a timestamp; once written it is
// never mutated.
func (l *Log) Append(ctx context.Context, e Entry) error {
	if e.SessionID == "" || e.Kind == "" {
		return ErrInvalidEntry
	}

	ts := e.Timestamp
	if ts.IsZero() {
		ts = l.nowFunc().UTC()
	}

	ev := &models.AuditEvent{
		ID:        uuid.NewString(),
		SessionID: e.SessionID,
		TenantID:  e.TenantID,
		Kind:      e.Kind,
		FromState: e.FromState,
		ToState:   e.ToState,
		Decision:  e.Decision,
		Target:    e.Target,
		Reason:    e.Reason,
		Timestamp: ts,
	}

	if err := l.primary.Append(ctx, ev); err != nil {
		return fmt.Errorf("appending audit event: %w", err)
	}

	if l.mirror != nil {
		if err := l.mirror.Append(ctx, ev); err != nil {
			l.logger.Error("audit mirror append failed",
				"session_id", e.SessionID,
				"kind", e.Kind,
				"error", err,
			)
		}
	}

	return nil
}

// ReadAll returns the full ordered event sequence for a session. The result
// is finite and restartable: callers can replay it from the start any number
// of times.
func (l *Log) ReadAll(ctx context.Context, sessionID string) ([]models.AuditEvent, error) {
	return l.primary.ListBySession(ctx, sessionID)
}
