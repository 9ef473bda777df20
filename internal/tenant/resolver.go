// Package tenant resolves inbound calls to the owning tenant and its
// routing configuration. Resolution is the first step on the critical path
// of every call: a single indexed lookup by the dialed number, which
// identifies the tenant's provisioned line.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/voicecore/voicecore/internal/database"
	"github.com/voicecore/voicecore/internal/database/models"
)

// ErrTenantNotFound is returned when the dialed number does not map to a
// provisioned, enabled tenant. This is the only error surfaced to the
// inbound boundary: the caller hears a rejection, no session is created.
var ErrTenantNotFound = errors.New("tenant not found for dialed number")

// Context is the resolved tenant configuration for one inbound call.
type Context struct {
	Tenant     *models.Tenant
	Rules      []models.SpamRule // ordered spam rule set
	Agents     []models.Agent    // routing target candidates
	CallerHash string            // keyed fingerprint of the caller number
}

// Resolver maps (from, to) number pairs to tenant routing configuration.
type Resolver struct {
	tenants database.TenantRepository
	agents  database.AgentRepository
	rules   database.SpamRuleRepository
	fp      *Fingerprinter
	logger  *slog.Logger
}

// NewResolver creates a tenant resolver.
func NewResolver(
	tenants database.TenantRepository,
	agents database.AgentRepository,
	rules database.SpamRuleRepository,
	fp *Fingerprinter,
	logger *slog.Logger,
) *Resolver {
	return &Resolver{
		tenants: tenants,
		agents:  agents,
		rules:   rules,
		fp:      fp,
		logger:  logger.With("subsystem", "tenant_resolver"),
	}
}

// Resolve looks up the tenant owning the dialed number and loads its rule
// set and agent candidates. The caller number is reduced to its fingerprint
// here and the raw value is not retained.
func (r *Resolver) Resolve(ctx context.Context, from, to string) (*Context, error) {
	t, err := r.tenants.GetByNumber(ctx, to)
	if err != nil {
		return nil, fmt.Errorf("looking up tenant for %s: %w", to, err)
	}
	if t == nil || !t.Enabled {
		return nil, ErrTenantNotFound
	}

	rules, err := r.rules.ListByTenant(ctx, t.ID)
	if err != nil {
		// A failed rule load must not reject the call; the classifier
		// fails open on an empty rule set.
		r.logger.Error("failed to load spam rules, classifier will fail open",
			"tenant_id", t.ID,
			"error", err,
		)
		rules = nil
	}

	agents, err := r.agents.ListByTenant(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("loading agents for tenant %d: %w", t.ID, err)
	}

	return &Context{
		Tenant:     t,
		Rules:      rules,
		Agents:     agents,
		CallerHash: r.fp.Fingerprint(from),
	}, nil
}
