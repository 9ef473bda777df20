package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/voicecore/voicecore/internal/database/models"
)

// tenantRepo implements TenantRepository.
type tenantRepo struct {
	db *DB
}

// NewTenantRepository creates a new TenantRepository.
func NewTenantRepository(db *DB) TenantRepository {
	return &tenantRepo{db: db}
}

const tenantColumns = `id, name, number, greeting, routing_strategy,
 ai_timeout_secs, queue_max_depth, queue_max_wait_secs, enabled, created_at, updated_at`

// Create inserts a new tenant.
func (r *tenantRepo) Create(ctx context.Context, t *models.Tenant) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO tenants (name, number, greeting, routing_strategy,
		 ai_timeout_secs, queue_max_depth, queue_max_wait_secs, enabled,
		 created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, datetime('now'), datetime('now'))`,
		t.Name, t.Number, t.Greeting, t.RoutingStrategy,
		t.AITimeoutSecs, t.QueueMaxDepth, t.QueueMaxWaitSecs, t.Enabled,
	)
	if err != nil {
		return fmt.Errorf("inserting tenant: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	t.ID = id
	return nil
}

// GetByID returns a tenant by ID.
func (r *tenantRepo) GetByID(ctx context.Context, id int64) (*models.Tenant, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE id = ?`, id,
	))
}

// GetByNumber returns a tenant by its provisioned inbound number. This is
// the hot lookup on the inbound-call path and is served by the unique index
// on tenants.number.
func (r *tenantRepo) GetByNumber(ctx context.Context, number string) (*models.Tenant, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE number = ?`, number,
	))
}

// List returns all tenants ordered by name.
func (r *tenantRepo) List(ctx context.Context) ([]models.Tenant, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+tenantColumns+` FROM tenants ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying tenants: %w", err)
	}
	defer rows.Close()

	var tenants []models.Tenant
	for rows.Next() {
		var t models.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.Number, &t.Greeting, &t.RoutingStrategy,
			&t.AITimeoutSecs, &t.QueueMaxDepth, &t.QueueMaxWaitSecs, &t.Enabled,
			&t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning tenant row: %w", err)
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// Update modifies an existing tenant.
func (r *tenantRepo) Update(ctx context.Context, t *models.Tenant) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE tenants SET name = ?, number = ?, greeting = ?, routing_strategy = ?,
		 ai_timeout_secs = ?, queue_max_depth = ?, queue_max_wait_secs = ?,
		 enabled = ?, updated_at = datetime('now')
		 WHERE id = ?`,
		t.Name, t.Number, t.Greeting, t.RoutingStrategy,
		t.AITimeoutSecs, t.QueueMaxDepth, t.QueueMaxWaitSecs, t.Enabled, t.ID,
	)
	if err != nil {
		return fmt.Errorf("updating tenant: %w", err)
	}
	return nil
}

// Delete removes a tenant by ID.
func (r *tenantRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM tenants WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting tenant: %w", err)
	}
	return nil
}

// scanOne scans a single tenant row. Returns (nil, nil) if no row matched.
func (r *tenantRepo) scanOne(row *sql.Row) (*models.Tenant, error) {
	var t models.Tenant
	err := row.Scan(&t.ID, &t.Name, &t.Number, &t.Greeting, &t.RoutingStrategy,
		&t.AITimeoutSecs, &t.QueueMaxDepth, &t.QueueMaxWaitSecs, &t.Enabled,
		&t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning tenant: %w", err)
	}
	return &t, nil
}
