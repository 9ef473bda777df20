package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/voicecore/voicecore/internal/database/models"
)

func TestOpenAndMigrate(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	// Verify database file was created.
	dbPath := filepath.Join(dir, "voicecore.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Fatal("database file was not created")
	}

	// Verify WAL mode is active.
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("querying journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %q, want wal", journalMode)
	}

	// Verify all tables exist.
	tables := []string{
		"schema_migrations", "tenants", "agents", "spam_rules",
		"call_records", "audit_events",
	}
	for _, table := range tables {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		if err != nil {
			t.Errorf("checking table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s not found", table)
		}
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	// Open twice to verify migrations don't fail on re-run.
	db1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open() error: %v", err)
	}
	db1.Close()

	db2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open() error: %v", err)
	}
	db2.Close()
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestTenant(t *testing.T, db *DB, number string) *models.Tenant {
	t.Helper()
	tenant := &models.Tenant{
		Name:             "Acme Dental",
		Number:           number,
		Greeting:         "Thank you for calling Acme Dental.",
		RoutingStrategy:  "round_robin",
		AITimeoutSecs:    5,
		QueueMaxDepth:    50,
		QueueMaxWaitSecs: 300,
		Enabled:          true,
	}
	if err := NewTenantRepository(db).Create(context.Background(), tenant); err != nil {
		t.Fatalf("creating tenant: %v", err)
	}
	return tenant
}

func TestTenantRepository(t *testing.T) {
	db := openTestDB(t)
	repo := NewTenantRepository(db)
	ctx := context.Background()

	tenant := createTestTenant(t, db, "+15550100")
	if tenant.ID == 0 {
		t.Fatal("Create did not set ID")
	}

	got, err := repo.GetByNumber(ctx, "+15550100")
	if err != nil {
		t.Fatalf("GetByNumber: %v", err)
	}
	if got == nil || got.Name != "Acme Dental" || got.QueueMaxDepth != 50 {
		t.Fatalf("GetByNumber = %+v", got)
	}

	missing, err := repo.GetByNumber(ctx, "+15550999")
	if err != nil {
		t.Fatalf("GetByNumber missing: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for unprovisioned number, got %+v", missing)
	}

	got.RoutingStrategy = "longest_idle"
	got.Enabled = false
	if err := repo.Update(ctx, got); err != nil {
		t.Fatalf("Update: %v", err)
	}
	updated, err := repo.GetByID(ctx, got.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if updated.RoutingStrategy != "longest_idle" || updated.Enabled {
		t.Errorf("update not persisted: %+v", updated)
	}

	all, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("List returned %d tenants, want 1", len(all))
	}

	if err := repo.Delete(ctx, got.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	gone, err := repo.GetByID(ctx, got.ID)
	if err != nil {
		t.Fatalf("GetByID after delete: %v", err)
	}
	if gone != nil {
		t.Error("tenant still present after delete")
	}
}

func TestAgentRepository(t *testing.T) {
	db := openTestDB(t)
	repo := NewAgentRepository(db)
	ctx := context.Background()
	tenant := createTestTenant(t, db, "+15550100")

	agents := []*models.Agent{
		{TenantID: tenant.ID, Extension: "101", Name: "Front Desk", Department: "reception", PriorityWeight: 10, Enabled: true},
		{TenantID: tenant.ID, Extension: "102", Name: "Billing", Department: "billing", PriorityWeight: 5, Enabled: true},
	}
	for _, a := range agents {
		if err := repo.Create(ctx, a); err != nil {
			t.Fatalf("creating agent %s: %v", a.Extension, err)
		}
	}

	got, err := repo.GetByExtension(ctx, tenant.ID, "102")
	if err != nil {
		t.Fatalf("GetByExtension: %v", err)
	}
	if got == nil || got.Department != "billing" {
		t.Fatalf("GetByExtension = %+v", got)
	}

	list, err := repo.ListByTenant(ctx, tenant.ID)
	if err != nil {
		t.Fatalf("ListByTenant: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("ListByTenant returned %d agents, want 2", len(list))
	}

	got.Enabled = false
	if err := repo.Update(ctx, got); err != nil {
		t.Fatalf("Update: %v", err)
	}
	updated, err := repo.GetByID(ctx, got.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if updated.Enabled {
		t.Error("update not persisted")
	}
}

func TestSpamRuleRepository(t *testing.T) {
	db := openTestDB(t)
	repo := NewSpamRuleRepository(db)
	ctx := context.Background()
	tenant := createTestTenant(t, db, "+15550100")

	rules := []*models.SpamRule{
		{TenantID: tenant.ID, Position: 1, RuleType: "keyword", Pattern: "warranty", Action: "flag", Weight: 60, Enabled: true},
		{TenantID: tenant.ID, Position: 0, RuleType: "pattern", Pattern: `^\+1900`, Action: "block", Weight: 90, Enabled: true},
	}
	for _, r := range rules {
		if err := repo.Create(ctx, r); err != nil {
			t.Fatalf("creating rule: %v", err)
		}
	}

	// Rules come back in declared position order, not insertion order.
	list, err := repo.ListByTenant(ctx, tenant.ID)
	if err != nil {
		t.Fatalf("ListByTenant: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("ListByTenant returned %d rules, want 2", len(list))
	}
	if list[0].RuleType != "pattern" || list[1].RuleType != "keyword" {
		t.Errorf("rules out of position order: %s, %s", list[0].RuleType, list[1].RuleType)
	}

	if err := repo.Delete(ctx, list[0].ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	list, err = repo.ListByTenant(ctx, tenant.ID)
	if err != nil {
		t.Fatalf("ListByTenant after delete: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("rule count after delete = %d, want 1", len(list))
	}
}

func TestCallRecordRepository(t *testing.T) {
	db := openTestDB(t)
	repo := NewCallRecordRepository(db)
	ctx := context.Background()

	started := time.Now().UTC().Truncate(time.Second)
	ended := started.Add(90 * time.Second)
	agentID := int64(7)
	records := []*models.CallRecord{
		{SessionID: "sess-1", TenantID: 1, CallerHash: "aa11", Callee: "+15550100", FinalState: "ended", PriorityTier: "normal", AgentID: &agentID, TransferAttempts: 1, StartedAt: started, EndedAt: &ended},
		{SessionID: "sess-2", TenantID: 1, CallerHash: "bb22", Callee: "+15550100", FinalState: "voicemail", PriorityTier: "vip", StartedAt: started},
		{SessionID: "sess-3", TenantID: 2, CallerHash: "cc33", Callee: "+15550200", FinalState: "ended", PriorityTier: "spam", StartedAt: started},
	}
	for _, rec := range records {
		if err := repo.Create(ctx, rec); err != nil {
			t.Fatalf("creating record %s: %v", rec.SessionID, err)
		}
	}

	got, err := repo.GetBySessionID(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetBySessionID: %v", err)
	}
	if got == nil || got.AgentID == nil || *got.AgentID != 7 {
		t.Fatalf("GetBySessionID = %+v", got)
	}
	if got.EndedAt == nil || !got.EndedAt.Equal(ended) {
		t.Errorf("EndedAt = %v, want %v", got.EndedAt, ended)
	}

	list, err := repo.List(ctx, CallRecordListFilter{TenantID: 1, Limit: 10})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("List(tenant 1) returned %d records, want 2", len(list))
	}

	page, err := repo.List(ctx, CallRecordListFilter{TenantID: 1, Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("List paginated: %v", err)
	}
	if len(page) != 1 {
		t.Errorf("paginated List returned %d records, want 1", len(page))
	}

	counts, err := repo.CountByFinalState(ctx)
	if err != nil {
		t.Fatalf("CountByFinalState: %v", err)
	}
	if counts["ended"] != 2 || counts["voicemail"] != 1 {
		t.Errorf("CountByFinalState = %v", counts)
	}
}

func TestAuditRepository(t *testing.T) {
	db := openTestDB(t)
	repo := NewAuditRepository(db)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	events := []*models.AuditEvent{
		{ID: "ev-1", SessionID: "sess-1", TenantID: 1, Kind: "classification", Target: "vip", Timestamp: base},
		{ID: "ev-2", SessionID: "sess-1", TenantID: 1, Kind: "decision", Decision: "transfer-to-agent", Target: "101", Timestamp: base.Add(time.Second)},
		{ID: "ev-3", SessionID: "sess-1", TenantID: 1, Kind: "transition", FromState: "ringing", ToState: "agent_handling", Timestamp: base.Add(time.Second)},
		{ID: "ev-4", SessionID: "sess-2", TenantID: 1, Kind: "decision", Decision: "reject-spam", Timestamp: base},
	}
	for _, ev := range events {
		if err := repo.Append(ctx, ev); err != nil {
			t.Fatalf("appending %s: %v", ev.ID, err)
		}
	}

	// Listing is per session, ordered by timestamp with insertion order
	// breaking ties.
	list, err := repo.ListBySession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("ListBySession returned %d events, want 3", len(list))
	}
	for i, want := range []string{"ev-1", "ev-2", "ev-3"} {
		if list[i].ID != want {
			t.Errorf("event[%d] = %s, want %s", i, list[i].ID, want)
		}
	}

	counts, err := repo.CountByDecision(ctx)
	if err != nil {
		t.Fatalf("CountByDecision: %v", err)
	}
	if counts["transfer-to-agent"] != 1 || counts["reject-spam"] != 1 {
		t.Errorf("CountByDecision = %v", counts)
	}
}
