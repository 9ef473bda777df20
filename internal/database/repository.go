package database

import (
	"context"

	"github.com/voicecore/voicecore/internal/database/models"
)

// TenantRepository manages tenant configuration.
type TenantRepository interface {
	Create(ctx context.Context, t *models.Tenant) error
	GetByID(ctx context.Context, id int64) (*models.Tenant, error)
	GetByNumber(ctx context.Context, number string) (*models.Tenant, error)
	List(ctx context.Context) ([]models.Tenant, error)
	Update(ctx context.Context, t *models.Tenant) error
	Delete(ctx context.Context, id int64) error
}

// AgentRepository manages agent extensions.
type AgentRepository interface {
	Create(ctx context.Context, a *models.Agent) error
	GetByID(ctx context.Context, id int64) (*models.Agent, error)
	GetByExtension(ctx context.Context, tenantID int64, extension string) (*models.Agent, error)
	ListByTenant(ctx context.Context, tenantID int64) ([]models.Agent, error)
	Update(ctx context.Context, a *models.Agent) error
	Delete(ctx context.Context, id int64) error
}

// SpamRuleRepository manages a tenant's ordered spam rule set.
type SpamRuleRepository interface {
	Create(ctx context.Context, r *models.SpamRule) error
	ListByTenant(ctx context.Context, tenantID int64) ([]models.SpamRule, error)
	Update(ctx context.Context, r *models.SpamRule) error
	Delete(ctx context.Context, id int64) error
}

// CallRecordListFilter specifies filtering and pagination for call record queries.
type CallRecordListFilter struct {
	TenantID int64
	Limit    int
	Offset   int
}

// CallRecordRepository manages persisted call summaries.
type CallRecordRepository interface {
	Create(ctx context.Context, rec *models.CallRecord) error
	GetBySessionID(ctx context.Context, sessionID string) (*models.CallRecord, error)
	List(ctx context.Context, filter CallRecordListFilter) ([]models.CallRecord, error)
	CountByFinalState(ctx context.Context) (map[string]int64, error)
}

// AuditRepository is the persistence contract for audit events.
// Append-only: no update or delete methods exist.
type AuditRepository interface {
	Append(ctx context.Context, ev *models.AuditEvent) error
	ListBySession(ctx context.Context, sessionID string) ([]models.AuditEvent, error)
	CountByDecision(ctx context.Context) (map[string]int64, error)
}
