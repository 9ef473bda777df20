package models

import "time"

// Tenant represents an organization with a provisioned inbound line.
// Each tenant owns its own routing and spam configuration, isolated from
// other tenants.
type Tenant struct {
	ID               int64
	Name             string
	Number           string // provisioned inbound line (E.164), unique
	Greeting         string // opening utterance for the AI receptionist
	RoutingStrategy  string // "round_robin" | "longest_idle" | "fixed_order"
	AITimeoutSecs    int    // per-turn AI provider timeout
	QueueMaxDepth    int    // backpressure limit for the wait queue
	QueueMaxWaitSecs int    // max hold time before voicemail fallback
	Enabled          bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Agent represents a human agent extension belonging to a tenant.
type Agent struct {
	ID             int64
	TenantID       int64
	Extension      string // dialable extension, unique per tenant
	Name           string
	Department     string
	PriorityWeight int // ordering for the fixed_order strategy
	Enabled        bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SpamRule is one entry in a tenant's ordered spam rule set.
type SpamRule struct {
	ID        int64
	TenantID  int64
	Position  int    // declaration order, used for deterministic tie-breaks
	RuleType  string // "keyword" | "pattern" | "number_list"
	Pattern   string // keyword, regexp, or comma-separated fingerprint list
	Action    string // "block" | "flag" | "challenge" | "vip"
	Weight    int
	Enabled   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CallRecord is the persisted summary of one completed call session.
type CallRecord struct {
	ID               int64
	SessionID        string // provider-issued call identifier
	TenantID         int64
	CallerHash       string // keyed one-way fingerprint, never the raw number
	Callee           string
	FinalState       string
	PriorityTier     string
	AgentID          *int64
	TransferAttempts int
	StartedAt        time.Time
	EndedAt          *time.Time
	CreatedAt        time.Time
}

// AuditEvent is one immutable entry in the per-session audit trail.
// Events are append-only; there is no update or delete path.
type AuditEvent struct {
	ID        string // uuid
	SessionID string
	TenantID  int64
	Kind      string // "transition" | "decision" | "attempt" | "classification"
	FromState string
	ToState   string
	Decision  string // transfer decision kind, for Kind == "decision"
	Target    string // routing target or priority tier, depending on kind
	Reason    string
	Timestamp time.Time
}
