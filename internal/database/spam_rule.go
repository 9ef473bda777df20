package database

import (
	"context"
	"fmt"

	"github.com/voicecore/voicecore/internal/database/models"
)

// spamRuleRepo implements SpamRuleRepository.
type spamRuleRepo struct {
	db *DB
}

// NewSpamRuleRepository creates a new SpamRuleRepository.
func NewSpamRuleRepository(db *DB) SpamRuleRepository {
	return &spamRuleRepo{db: db}
}

// Create inserts a new spam rule.
func (r *spamRuleRepo) Create(ctx context.Context, rule *models.SpamRule) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO spam_rules (tenant_id, position, rule_type, pattern, action,
		 weight, enabled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, datetime('now'), datetime('now'))`,
		rule.TenantID, rule.Position, rule.RuleType, rule.Pattern, rule.Action,
		rule.Weight, rule.Enabled,
	)
	if err != nil {
		return fmt.Errorf("inserting spam rule: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	rule.ID = id
	return nil
}

// ListByTenant returns a tenant's enabled rules in declaration order. The
// classifier relies on this ordering for deterministic tie-breaks.
func (r *spamRuleRepo) ListByTenant(ctx context.Context, tenantID int64) ([]models.SpamRule, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, tenant_id, position, rule_type, pattern, action, weight,
		 enabled, created_at, updated_at
		 FROM spam_rules WHERE tenant_id = ? AND enabled = 1
		 ORDER BY position, id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("querying spam rules: %w", err)
	}
	defer rows.Close()

	var rules []models.SpamRule
	for rows.Next() {
		var sr models.SpamRule
		if err := rows.Scan(&sr.ID, &sr.TenantID, &sr.Position, &sr.RuleType,
			&sr.Pattern, &sr.Action, &sr.Weight, &sr.Enabled,
			&sr.CreatedAt, &sr.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning spam rule row: %w", err)
		}
		rules = append(rules, sr)
	}
	return rules, rows.Err()
}

// Update modifies an existing spam rule.
func (r *spamRuleRepo) Update(ctx context.Context, rule *models.SpamRule) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE spam_rules SET position = ?, rule_type = ?, pattern = ?,
		 action = ?, weight = ?, enabled = ?, updated_at = datetime('now')
		 WHERE id = ?`,
		rule.Position, rule.RuleType, rule.Pattern, rule.Action, rule.Weight,
		rule.Enabled, rule.ID,
	)
	if err != nil {
		return fmt.Errorf("updating spam rule: %w", err)
	}
	return nil
}

// Delete removes a spam rule by ID.
func (r *spamRuleRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM spam_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting spam rule: %w", err)
	}
	return nil
}
