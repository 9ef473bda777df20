package database

import (
	"context"
	"fmt"

	"github.com/voicecore/voicecore/internal/database/models"
)

// auditRepo implements AuditRepository over SQLite. The table is append-only;
// this type exposes no update or delete path.
type auditRepo struct {
	db *DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *DB) AuditRepository {
	return &auditRepo{db: db}
}

// Append inserts one audit event.
func (r *auditRepo) Append(ctx context.Context, ev *models.AuditEvent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_events (id, session_id, tenant_id, kind, from_state,
		 to_state, decision, target, reason, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.SessionID, ev.TenantID, ev.Kind, ev.FromState,
		ev.ToState, ev.Decision, ev.Target, ev.Reason, ev.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("inserting audit event: %w", err)
	}
	return nil
}

// ListBySession returns all events for a session ordered by timestamp then
// insertion id, so replays are stable even when timestamps collide.
func (r *auditRepo) ListBySession(ctx context.Context, sessionID string) ([]models.AuditEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, session_id, tenant_id, kind, from_state, to_state, decision,
		 target, reason, timestamp
		 FROM audit_events WHERE session_id = ?
		 ORDER BY timestamp, rowid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}
	defer rows.Close()

	var events []models.AuditEvent
	for rows.Next() {
		var ev models.AuditEvent
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.TenantID, &ev.Kind,
			&ev.FromState, &ev.ToState, &ev.Decision, &ev.Target, &ev.Reason, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning audit event row: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CountByDecision returns decision-event counts grouped by decision kind.
func (r *auditRepo) CountByDecision(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT decision, COUNT(*) FROM audit_events
		 WHERE kind = 'decision' GROUP BY decision`)
	if err != nil {
		return nil, fmt.Errorf("counting audit decisions: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var decision string
		var n int64
		if err := rows.Scan(&decision, &n); err != nil {
			return nil, fmt.Errorf("scanning count row: %w", err)
		}
		counts[decision] = n
	}
	return counts, rows.Err()
}
