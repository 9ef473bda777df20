// Package dispatch orchestrates live calls. Each accepted call gets its own
// worker goroutine that drives the session through classification, AI
// handling, routing, and teardown; the dispatcher is the synchronization
// point between inbound webhook events and those workers.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voicecore/voicecore/internal/ai"
	"github.com/voicecore/voicecore/internal/audit"
	"github.com/voicecore/voicecore/internal/call"
	"github.com/voicecore/voicecore/internal/classify"
	"github.com/voicecore/voicecore/internal/database"
	"github.com/voicecore/voicecore/internal/database/models"
	"github.com/voicecore/voicecore/internal/routing"
	"github.com/voicecore/voicecore/internal/telephony"
	"github.com/voicecore/voicecore/internal/tenant"
)

// Inbound call outcomes reported to the webhook boundary.
const (
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
)

// ErrUnknownSession is returned for events referencing a call the
// dispatcher is not tracking, e.g. a duplicate hangup.
var ErrUnknownSession = errors.New("unknown call session")

// ErrDuplicateSession is returned when an inbound event reuses a live call id.
var ErrDuplicateSession = errors.New("call session already active")

// utteranceBuffer bounds per-call utterance backlog. A caller producing
// utterances faster than the AI can answer gets the excess dropped.
const utteranceBuffer = 8

// Inbound is a new-call event from the telephony provider.
type Inbound struct {
	CallID     string
	From       string // raw caller number, fingerprinted during resolution
	CallerName string
	To         string // dialed tenant line

	// Extension is set when the provider captured a directly dialed
	// extension; it triggers the routing fast path.
	Extension string
}

// InboundResult tells the webhook boundary how the call was admitted.
type InboundResult struct {
	Status string
	Tier   call.Tier
}

// Options carries system-wide defaults applied when a tenant has no override.
type Options struct {
	AITimeout    time.Duration
	QueueMaxWait time.Duration
}

// Dispatcher owns the live session table and the per-call workers.
type Dispatcher struct {
	resolver   *tenant.Resolver
	classifier *classify.Classifier
	machine    *call.Machine
	engine     *routing.Engine
	provider   ai.Provider
	controller telephony.Controller
	records    database.CallRecordRepository
	opts       Options
	logger     *slog.Logger

	mu      sync.Mutex
	workers map[string]*worker
	pending map[string]struct{} // call ids mid-admission, not yet workers
	wg      sync.WaitGroup
}

// New creates a dispatcher. provider may be nil, in which case every call
// skips AI handling and routes straight to a human.
func New(
	resolver *tenant.Resolver,
	classifier *classify.Classifier,
	machine *call.Machine,
	engine *routing.Engine,
	provider ai.Provider,
	controller telephony.Controller,
	records database.CallRecordRepository,
	opts Options,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		resolver:   resolver,
		classifier: classifier,
		machine:    machine,
		engine:     engine,
		provider:   provider,
		controller: controller,
		records:    records,
		opts:       opts,
		logger:     logger.With("subsystem", "dispatch"),
		workers:    make(map[string]*worker),
		pending:    make(map[string]struct{}),
	}
}

// HandleInbound admits a new call: resolves the tenant, classifies the
// caller, and either rejects the call (blocked spam) or starts a worker to
// drive it. Returns tenant.ErrTenantNotFound when the dialed number is not
// provisioned.
func (d *Dispatcher) HandleInbound(ctx context.Context, in Inbound) (*InboundResult, error) {
	// Reserve the call id before any slow work. Provider webhook retries
	// can carry the same id concurrently; only one admission may proceed,
	// the rest fail here rather than racing past a check-then-insert gap.
	d.mu.Lock()
	_, live := d.workers[in.CallID]
	_, admitting := d.pending[in.CallID]
	if live || admitting {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSession, in.CallID)
	}
	d.pending[in.CallID] = struct{}{}
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.pending, in.CallID)
		d.mu.Unlock()
	}()

	tc, err := d.resolver.Resolve(ctx, in.From, in.To)
	if err != nil {
		return nil, err
	}

	sess := call.NewSession(in.CallID, tc.Tenant.ID, tc.CallerHash, in.To)

	res := d.classifier.Classify(classify.Input{
		CallerNumber: in.From,
		CallerName:   in.CallerName,
		CallerHash:   tc.CallerHash,
	}, tc.Rules)
	if err := d.machine.SetTier(ctx, sess, res.Tier, res.Reason); err != nil {
		return nil, err
	}

	if res.Action == classify.ActionBlock {
		return d.rejectSpam(ctx, sess, tc, res)
	}

	w := &worker{
		sess:       sess,
		tc:         tc,
		extension:  in.Extension,
		utterances: make(chan string, utteranceBuffer),
	}
	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.cancel = cancel

	d.mu.Lock()
	d.workers[in.CallID] = w
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(wctx, w)
	}()

	d.logger.Info("call accepted",
		"session_id", sess.ID(),
		"tenant_id", tc.Tenant.ID,
		"tier", res.Tier,
	)
	return &InboundResult{Status: StatusAccepted, Tier: res.Tier}, nil
}

// rejectSpam ends a blocked call before any worker starts. The rejection is
// still a full session on the audit trail.
func (d *Dispatcher) rejectSpam(ctx context.Context, sess *call.Session, tc *tenant.Context, res classify.Result) (*InboundResult, error) {
	if err := d.machine.Decide(ctx, sess, audit.DecisionRejectSpam, "", res.Reason); err != nil {
		return nil, err
	}
	if err := d.machine.Transition(ctx, sess, call.StateEnded, "spam-blocked"); err != nil {
		return nil, err
	}
	if err := d.controller.Hangup(ctx, sess.ID()); err != nil {
		d.logger.Error("hangup for blocked call failed",
			"session_id", sess.ID(),
			"error", err,
		)
	}
	d.persistRecord(ctx, sess, nil)

	d.logger.Info("call rejected as spam",
		"session_id", sess.ID(),
		"tenant_id", tc.Tenant.ID,
		"reason", res.Reason,
	)
	return &InboundResult{Status: StatusRejected, Tier: call.TierSpam}, nil
}

// HandleUtterance forwards a caller utterance to the call's worker. Excess
// utterances beyond the per-call buffer are dropped, not queued unboundedly.
func (d *Dispatcher) HandleUtterance(callID, text string) error {
	d.mu.Lock()
	w, ok := d.workers[callID]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, callID)
	}

	select {
	case w.utterances <- text:
	default:
		d.logger.Warn("utterance buffer full, dropping",
			"session_id", callID,
		)
	}
	return nil
}

// HandleHangup processes a caller hangup. Hangup is an interrupt: the
// worker's context is cancelled immediately no matter what phase the call
// is in, and the worker performs the teardown.
func (d *Dispatcher) HandleHangup(callID string) error {
	d.mu.Lock()
	w, ok := d.workers[callID]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, callID)
	}
	w.cancel()
	return nil
}

// SetAgentAvailable updates an agent's availability and, when the agent
// becomes claimable, hands them to the longest-waiting queued call.
func (d *Dispatcher) SetAgentAvailable(a *models.Agent, available bool) {
	t := routing.Target{
		ID:             a.ID,
		TenantID:       a.TenantID,
		Kind:           routing.TargetAgent,
		Extension:      a.Extension,
		Department:     a.Department,
		PriorityWeight: a.PriorityWeight,
	}
	d.engine.Registry().SetAvailable(a.ID, available)
	d.logger.Info("agent availability changed",
		"tenant_id", a.TenantID,
		"extension", a.Extension,
		"available", available,
	)
	if available {
		d.drain(t)
	}
}

// drain hands a claimable target to waiting queue entries until the claim
// fails or the queue runs out.
func (d *Dispatcher) drain(t routing.Target) {
	if entry := d.engine.DrainOne(t); entry != nil {
		d.logger.Info("queued call assigned to freed target",
			"session_id", entry.SessionID,
			"target_id", t.ID,
		)
	}
}

// ActiveCalls returns the number of live sessions, for metrics.
func (d *Dispatcher) ActiveCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.workers)
}

// Shutdown cancels all live call workers and waits for their teardown.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	for _, w := range d.workers {
		w.cancel()
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// persistRecord writes the call summary row. A failed write loses only the
// summary; the audit trail remains the source of truth.
func (d *Dispatcher) persistRecord(ctx context.Context, sess *call.Session, agentID *int64) {
	snap := sess.Snapshot()
	rec := &models.CallRecord{
		SessionID:        sess.ID(),
		TenantID:         sess.TenantID(),
		CallerHash:       sess.CallerHash(),
		Callee:           sess.Callee(),
		FinalState:       string(snap.State),
		PriorityTier:     string(snap.Tier),
		AgentID:          agentID,
		TransferAttempts: snap.TransferAttempts,
		StartedAt:        sess.StartedAt(),
		EndedAt:          snap.EndedAt,
	}
	if err := d.records.Create(ctx, rec); err != nil {
		d.logger.Error("persisting call record failed",
			"session_id", sess.ID(),
			"error", err,
		)
	}
}
