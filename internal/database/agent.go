package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/voicecore/voicecore/internal/database/models"
)

// agentRepo implements AgentRepository.
type agentRepo struct {
	db *DB
}

// NewAgentRepository creates a new AgentRepository.
func NewAgentRepository(db *DB) AgentRepository {
	return &agentRepo{db: db}
}

const agentColumns = `id, tenant_id, extension, name, department,
 priority_weight, enabled, created_at, updated_at`

// Create inserts a new agent.
func (r *agentRepo) Create(ctx context.Context, a *models.Agent) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO agents (tenant_id, extension, name, department,
		 priority_weight, enabled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, datetime('now'), datetime('now'))`,
		a.TenantID, a.Extension, a.Name, a.Department, a.PriorityWeight, a.Enabled,
	)
	if err != nil {
		return fmt.Errorf("inserting agent: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	a.ID = id
	return nil
}

// GetByID returns an agent by ID.
func (r *agentRepo) GetByID(ctx context.Context, id int64) (*models.Agent, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = ?`, id,
	))
}

// GetByExtension returns an agent by its dialable extension within a tenant.
func (r *agentRepo) GetByExtension(ctx context.Context, tenantID int64, extension string) (*models.Agent, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE tenant_id = ? AND extension = ?`,
		tenantID, extension,
	))
}

// ListByTenant returns all agents for a tenant ordered by priority weight
// then extension.
func (r *agentRepo) ListByTenant(ctx context.Context, tenantID int64) ([]models.Agent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE tenant_id = ?
		 ORDER BY priority_weight DESC, extension`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("querying agents: %w", err)
	}
	defer rows.Close()

	var agents []models.Agent
	for rows.Next() {
		var a models.Agent
		if err := rows.Scan(&a.ID, &a.TenantID, &a.Extension, &a.Name, &a.Department,
			&a.PriorityWeight, &a.Enabled, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning agent row: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// Update modifies an existing agent.
func (r *agentRepo) Update(ctx context.Context, a *models.Agent) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE agents SET extension = ?, name = ?, department = ?,
		 priority_weight = ?, enabled = ?, updated_at = datetime('now')
		 WHERE id = ?`,
		a.Extension, a.Name, a.Department, a.PriorityWeight, a.Enabled, a.ID,
	)
	if err != nil {
		return fmt.Errorf("updating agent: %w", err)
	}
	return nil
}

// Delete removes an agent by ID.
func (r *agentRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting agent: %w", err)
	}
	return nil
}

// scanOne scans a single agent row. Returns (nil, nil) if no row matched.
func (r *agentRepo) scanOne(row *sql.Row) (*models.Agent, error) {
	var a models.Agent
	err := row.Scan(&a.ID, &a.TenantID, &a.Extension, &a.Name, &a.Department,
		&a.PriorityWeight, &a.Enabled, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning agent: %w", err)
	}
	return &a, nil
}
