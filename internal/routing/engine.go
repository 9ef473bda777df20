package routing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/voicecore/voicecore/internal/audit"
	"github.com/voicecore/voicecore/internal/call"
	"github.com/voicecore/voicecore/internal/database/models"
)

// Result kinds.
const (
	ResultAgent     = "agent"
	ResultQueued    = "queued"
	ResultVoicemail = "voicemail"
)

// Request carries one routing decision's inputs.
type Request struct {
	Session    *call.Session
	Tenant     *models.Tenant
	Candidates []Target

	// DialedExtension is set when the caller dialed or spoke a known
	// extension directly. It triggers the fast path: no AI, no queue.
	DialedExtension string

	// Department restricts candidates to a department/skill. Empty means any.
	Department string
}

// Result is the outcome of one routing decision.
type Result struct {
	Kind     string
	Target   *Target // claimed agent, or the voicemail target to divert to
	Entry    *Entry  // set when Kind == ResultQueued
	Position int     // queue position at enqueue time
	Reason   string
}

// Engine decides where a call that needs human handling goes: an agent,
// the wait queue, or voicemail. Target claims go through the registry's
// compare-and-set so concurrent sessions can never win the same agent.
type Engine struct {
	registry *Registry
	queue    *WaitQueue
	machine  *call.Machine
	rr       *roundRobinSelector
	logger   *slog.Logger
}

// NewEngine creates a routing engine.
func NewEngine(registry *Registry, queue *WaitQueue, machine *call.Machine, logger *slog.Logger) *Engine {
	return &Engine{
		registry: registry,
		queue:    queue,
		machine:  machine,
		rr:       newRoundRobinSelector(),
		logger:   logger.With("subsystem", "routing"),
	}
}

// Registry exposes the availability registry for presence updates and metrics.
func (e *Engine) Registry() *Registry { return e.registry }

// Queue exposes the wait queue for drain and metrics.
func (e *Engine) Queue() *WaitQueue { return e.queue }

// Route selects a destination for the session. Every outcome emits one
// immutable transfer decision on the audit trail before returning.
func (e *Engine) Route(ctx context.Context, req Request) (*Result, error) {
	sess := req.Session

	// Fast path: a directly dialed known extension bypasses AI and queueing.
	if req.DialedExtension != "" {
		if direct := findByExtension(req.Candidates, req.DialedExtension); direct != nil {
			return e.routeDirect(ctx, sess, direct)
		}
		// Unknown extension falls through to normal selection.
		e.logger.Debug("dialed extension not found, using normal selection",
			"session_id", sess.ID(),
			"extension", req.DialedExtension,
		)
	}

	candidates := filterByDepartment(req.Candidates, req.Department)

	// Claim by strategy. A compare-and-set loss during the pass means
	// another session won that agent; the ordered pass is retried once
	// before falling back to the queue. Ordering happens exactly once per
	// request so the round-robin cursor advances once, not per pass.
	ordered := e.selectorFor(req.Tenant.RoutingStrategy).order(req.Tenant.ID, candidates)
	for pass := 0; pass < 2; pass++ {
		for i := range ordered {
			t := ordered[i]
			if !e.registry.IsAvailable(t.ID) {
				continue
			}
			if !e.registry.TryClaim(t.ID, sess.ID()) {
				e.logger.Debug("lost claim race for target",
					"session_id", sess.ID(),
					"target_id", t.ID,
					"pass", pass,
				)
				continue
			}
			e.machine.AssignAgent(sess, t.Extension)
			if err := e.machine.Decide(ctx, sess, audit.DecisionTransferToAgent, t.Extension,
				"strategy-"+req.Tenant.RoutingStrategy); err != nil {
				e.registry.Release(t.ID, sess.ID())
				return nil, err
			}
			return &Result{Kind: ResultAgent, Target: &t, Reason: "strategy-" + req.Tenant.RoutingStrategy}, nil
		}
	}

	// No claimable agent: queue, honoring the tenant's depth limit.
	entry, pos, err := e.queue.Enqueue(sess.ID(), req.Tenant.ID, sess.Tier(),
		req.Department, req.Tenant.QueueMaxDepth)
	if err != nil {
		// Backpressure: overloaded queues divert to voicemail, never grow
		// without bound.
		if derr := e.machine.Decide(ctx, sess, audit.DecisionVoicemail, "", "queue-overflow"); derr != nil {
			return nil, derr
		}
		e.logger.Warn("queue overflow, diverting to voicemail",
			"session_id", sess.ID(),
			"tenant_id", req.Tenant.ID,
			"max_depth", req.Tenant.QueueMaxDepth,
		)
		return &Result{Kind: ResultVoicemail, Reason: "queue-overflow"}, nil
	}

	e.machine.SetQueuePosition(sess, pos)
	if err := e.machine.Decide(ctx, sess, audit.DecisionTransferToQueue, req.Department,
		fmt.Sprintf("position-%d", pos)); err != nil {
		e.queue.Remove(sess.ID())
		return nil, err
	}

	return &Result{Kind: ResultQueued, Entry: entry, Position: pos, Reason: "no-agent-available"}, nil
}

// routeDirect handles the direct-extension fast path: the named agent if
// available, else that agent's voicemail.
func (e *Engine) routeDirect(ctx context.Context, sess *call.Session, direct *Target) (*Result, error) {
	if e.registry.TryClaim(direct.ID, sess.ID()) {
		e.machine.AssignAgent(sess, direct.Extension)
		if err := e.machine.Decide(ctx, sess, audit.DecisionTransferToAgent, direct.Extension, "direct-extension"); err != nil {
			e.registry.Release(direct.ID, sess.ID())
			return nil, err
		}
		return &Result{Kind: ResultAgent, Target: direct, Reason: "direct-extension"}, nil
	}

	vm := Target{
		ID:         direct.ID,
		TenantID:   direct.TenantID,
		Kind:       TargetVoicemail,
		Extension:  direct.Extension,
		Department: direct.Department,
	}
	if err := e.machine.Decide(ctx, sess, audit.DecisionVoicemail, direct.Extension, "extension-unavailable"); err != nil {
		return nil, err
	}
	return &Result{Kind: ResultVoicemail, Target: &vm, Reason: "extension-unavailable"}, nil
}

// DrainOne assigns the next waiting entry for a tenant to a just-released
// target. Returns the assigned entry, or nil if no waiter took the target:
// the queue is empty for the target's department, or the claim was lost.
// Entries whose waiter abandoned mid-handoff are discarded and the target
// is offered to the next waiter.
func (e *Engine) DrainOne(t Target) *Entry {
	for {
		entry := e.queue.Dequeue(t.TenantID, t.Department)
		if entry == nil {
			return nil
		}
		if !e.registry.TryClaim(t.ID, entry.SessionID) {
			// Someone else claimed the target between release and drain; the
			// entry goes back with its original position in the tier order.
			e.queue.Requeue(entry)
			return nil
		}
		if !entry.Deliver(t) {
			// The waiter hung up between dequeue and delivery. Free the
			// claim and try the next waiter.
			e.registry.Release(t.ID, entry.SessionID)
			continue
		}
		return entry
	}
}

// selectorFor maps a tenant's configured strategy to a selector.
// Unknown strategies fall back to round robin.
func (e *Engine) selectorFor(strategy string) selector {
	switch strategy {
	case StrategyLongestIdle:
		return &longestIdleSelector{registry: e.registry}
	case StrategyFixedOrder:
		return fixedOrderSelector{}
	default:
		return e.rr
	}
}

// findByExtension returns the agent candidate with the given extension.
func findByExtension(candidates []Target, extension string) *Target {
	for i := range candidates {
		if candidates[i].Kind == TargetAgent && candidates[i].Extension == extension {
			return &candidates[i]
		}
	}
	return nil
}

// filterByDepartment keeps agent candidates matching the department.
func filterByDepartment(candidates []Target, department string) []Target {
	out := make([]Target, 0, len(candidates))
	for _, t := range candidates {
		if t.Kind != TargetAgent {
			continue
		}
		if department != "" && t.Department != "" && t.Department != department {
			continue
		}
		out = append(out, t)
	}
	return out
}
