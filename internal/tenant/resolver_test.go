package tenant

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/voicecore/voicecore/internal/database"
	"github.com/voicecore/voicecore/internal/database/models"
)

type fakeTenantRepo struct {
	database.TenantRepository
	byNumber map[string]*models.Tenant
	err      error
}

func (f *fakeTenantRepo) GetByNumber(_ context.Context, number string) (*models.Tenant, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byNumber[number], nil
}

type fakeAgentRepo struct {
	database.AgentRepository
	agents []models.Agent
	err    error
}

func (f *fakeAgentRepo) ListByTenant(_ context.Context, _ int64) ([]models.Agent, error) {
	return f.agents, f.err
}

type fakeRuleRepo struct {
	database.SpamRuleRepository
	rules []models.SpamRule
	err   error
}

func (f *fakeRuleRepo) ListByTenant(_ context.Context, _ int64) ([]models.SpamRule, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rules, nil
}

func newTestResolver(tenants *fakeTenantRepo, agents *fakeAgentRepo, rules *fakeRuleRepo) *Resolver {
	fp, _ := NewFingerprinter(testKey(1))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewResolver(tenants, agents, rules, fp, logger)
}

func TestResolve(t *testing.T) {
	tenants := &fakeTenantRepo{byNumber: map[string]*models.Tenant{
		"+15550100": {ID: 7, Name: "Acme", Number: "+15550100", Enabled: true},
	}}
	agents := &fakeAgentRepo{agents: []models.Agent{{ID: 1, TenantID: 7, Extension: "101"}}}
	rules := &fakeRuleRepo{rules: []models.SpamRule{{ID: 1, TenantID: 7}}}

	r := newTestResolver(tenants, agents, rules)
	tc, err := r.Resolve(context.Background(), "+15559999", "+15550100")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tc.Tenant.ID != 7 {
		t.Errorf("tenant id = %d, want 7", tc.Tenant.ID)
	}
	if len(tc.Agents) != 1 || len(tc.Rules) != 1 {
		t.Errorf("agents=%d rules=%d, want 1 and 1", len(tc.Agents), len(tc.Rules))
	}
	if tc.CallerHash == "" || tc.CallerHash == "+15559999" {
		t.Errorf("caller hash %q should be a fingerprint, not the raw number", tc.CallerHash)
	}
}

func TestResolveUnknownNumber(t *testing.T) {
	r := newTestResolver(&fakeTenantRepo{byNumber: map[string]*models.Tenant{}}, &fakeAgentRepo{}, &fakeRuleRepo{})
	_, err := r.Resolve(context.Background(), "+15559999", "+15550999")
	if !errors.Is(err, ErrTenantNotFound) {
		t.Fatalf("expected ErrTenantNotFound, got %v", err)
	}
}

func TestResolveDisabledTenant(t *testing.T) {
	tenants := &fakeTenantRepo{byNumber: map[string]*models.Tenant{
		"+15550100": {ID: 7, Number: "+15550100", Enabled: false},
	}}
	r := newTestResolver(tenants, &fakeAgentRepo{}, &fakeRuleRepo{})
	_, err := r.Resolve(context.Background(), "+15559999", "+15550100")
	if !errors.Is(err, ErrTenantNotFound) {
		t.Fatalf("expected ErrTenantNotFound for disabled tenant, got %v", err)
	}
}

func TestResolveRuleLoadFailureFailsOpen(t *testing.T) {
	tenants := &fakeTenantRepo{byNumber: map[string]*models.Tenant{
		"+15550100": {ID: 7, Number: "+15550100", Enabled: true},
	}}
	agents := &fakeAgentRepo{agents: []models.Agent{{ID: 1}}}
	rules := &fakeRuleRepo{err: errors.New("disk error")}

	r := newTestResolver(tenants, agents, rules)
	tc, err := r.Resolve(context.Background(), "+15559999", "+15550100")
	if err != nil {
		t.Fatalf("rule load failure must not reject the call: %v", err)
	}
	if tc.Rules != nil {
		t.Errorf("rules = %v, want nil on load failure", tc.Rules)
	}
}

func TestResolveAgentLoadFailureIsFatal(t *testing.T) {
	tenants := &fakeTenantRepo{byNumber: map[string]*models.Tenant{
		"+15550100": {ID: 7, Number: "+15550100", Enabled: true},
	}}
	agents := &fakeAgentRepo{err: errors.New("disk error")}

	r := newTestResolver(tenants, agents, &fakeRuleRepo{})
	if _, err := r.Resolve(context.Background(), "+15559999", "+15550100"); err == nil {
		t.Fatal("expected error when agent load fails")
	}
}
