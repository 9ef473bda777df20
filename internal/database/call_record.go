package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/voicecore/voicecore/internal/database/models"
)

// callRecordRepo implements CallRecordRepository.
type callRecordRepo struct {
	db *DB
}

// NewCallRecordRepository creates a new CallRecordRepository.
func NewCallRecordRepository(db *DB) CallRecordRepository {
	return &callRecordRepo{db: db}
}

const callRecordColumns = `id, session_id, tenant_id, caller_hash, callee,
 final_state, priority_tier, agent_id, transfer_attempts, started_at, ended_at, created_at`

// Create inserts a completed call summary.
func (r *callRecordRepo) Create(ctx context.Context, rec *models.CallRecord) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO call_records (session_id, tenant_id, caller_hash, callee,
		 final_state, priority_tier, agent_id, transfer_attempts, started_at,
		 ended_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))`,
		rec.SessionID, rec.TenantID, rec.CallerHash, rec.Callee,
		rec.FinalState, rec.PriorityTier, rec.AgentID, rec.TransferAttempts,
		rec.StartedAt, rec.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting call record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	rec.ID = id
	return nil
}

// GetBySessionID returns a call record by provider session id.
func (r *callRecordRepo) GetBySessionID(ctx context.Context, sessionID string) (*models.CallRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+callRecordColumns+` FROM call_records WHERE session_id = ?`, sessionID)

	var rec models.CallRecord
	err := row.Scan(&rec.ID, &rec.SessionID, &rec.TenantID, &rec.CallerHash,
		&rec.Callee, &rec.FinalState, &rec.PriorityTier, &rec.AgentID,
		&rec.TransferAttempts, &rec.StartedAt, &rec.EndedAt, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning call record: %w", err)
	}
	return &rec, nil
}

// List returns call records matching the filter, newest first.
func (r *callRecordRepo) List(ctx context.Context, filter CallRecordListFilter) ([]models.CallRecord, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `SELECT ` + callRecordColumns + ` FROM call_records`
	args := []any{}
	if filter.TenantID != 0 {
		query += ` WHERE tenant_id = ?`
		args = append(args, filter.TenantID)
	}
	query += ` ORDER BY started_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying call records: %w", err)
	}
	defer rows.Close()

	var recs []models.CallRecord
	for rows.Next() {
		var rec models.CallRecord
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.TenantID, &rec.CallerHash,
			&rec.Callee, &rec.FinalState, &rec.PriorityTier, &rec.AgentID,
			&rec.TransferAttempts, &rec.StartedAt, &rec.EndedAt, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning call record row: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// CountByFinalState returns call counts grouped by final state, for metrics.
func (r *callRecordRepo) CountByFinalState(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT final_state, COUNT(*) FROM call_records GROUP BY final_state`)
	if err != nil {
		return nil, fmt.Errorf("counting call records: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var state string
		var n int64
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scanning count row: %w", err)
		}
		counts[state] = n
	}
	return counts, rows.Err()
}
