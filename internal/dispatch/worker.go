package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/voicecore/voicecore/internal/ai"
	"github.com/voicecore/voicecore/internal/audit"
	"github.com/voicecore/voicecore/internal/call"
	"github.com/voicecore/voicecore/internal/routing"
	"github.com/voicecore/voicecore/internal/tenant"
)

// teardownTimeout bounds the final audit writes and call record persist
// after a worker's context is cancelled.
const teardownTimeout = 5 * time.Second

// worker drives one live call. All fields except utterances are touched
// only by the owning goroutine after start.
type worker struct {
	sess       *call.Session
	tc         *tenant.Context
	extension  string // directly dialed extension, fast path when set
	utterances chan string
	cancel     context.CancelFunc
	claimed    *routing.Target // agent held by this call, released at teardown
}

// run is the lifecycle of one call, from admission to teardown. The context
// is cancelled on caller hangup or shutdown, at any phase.
func (d *Dispatcher) run(ctx context.Context, w *worker) {
	defer d.teardown(w)

	// A directly dialed extension skips AI handling entirely.
	if w.extension != "" {
		d.routeAndSettle(ctx, w, "", "")
		return
	}

	if d.provider == nil {
		// No AI configured: every call goes straight to a human.
		d.routeAndSettle(ctx, w, "no-ai-configured", "")
		return
	}

	reason, department, ok := d.aiPhase(ctx, w)
	if !ok {
		return
	}
	d.routeAndSettle(ctx, w, reason, department)
}

// aiPhase runs the receptionist conversation. It returns the transfer
// reason and department hint once the AI hands the call off, or ok=false
// when the call ended during the conversation.
func (d *Dispatcher) aiPhase(ctx context.Context, w *worker) (reason, department string, ok bool) {
	sess := w.sess

	if err := d.machine.Decide(ctx, sess, audit.DecisionHandleByAI, "", "classified-"+string(sess.Tier())); err != nil {
		d.failSession(sess, "decision-write-failed", err)
		return "", "", false
	}
	if err := d.machine.Transition(ctx, sess, call.StateAIHandling, "greeting"); err != nil {
		d.failSession(sess, "transition-failed", err)
		return "", "", false
	}

	aiSess := ai.NewSession(d.provider, d.machine, sess, w.tc.Tenant.Greeting, d.aiTimeout(w.tc), d.logger)
	if err := d.controller.Play(ctx, sess.ID(), aiSess.Greet()); err != nil {
		d.logger.Error("playing greeting failed", "session_id", sess.ID(), "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return "", "", false
		case text := <-w.utterances:
			turn, err := aiSess.HandleUtterance(ctx, text)
			if err != nil {
				if errors.Is(err, ai.ErrNotListening) {
					continue
				}
				// Audit writes failed mid-conversation; the AI can no
				// longer make recorded decisions, so hand off to a human.
				d.logger.Error("ai turn failed, forcing transfer",
					"session_id", sess.ID(),
					"error", err,
				)
				return ai.ReasonAIUnavailable, "", true
			}
			if turn.Utterance != "" {
				if err := d.controller.Play(ctx, sess.ID(), turn.Utterance); err != nil {
					d.logger.Error("playing reply failed", "session_id", sess.ID(), "error", err)
				}
			}
			if turn.Transfer {
				return turn.Reason, turn.Department, true
			}
		}
	}
}

// routeAndSettle asks the routing engine for a destination, applies it, and
// then holds until the call ends. reason is the transfer reason from AI
// handling, recorded on the resulting transition.
func (d *Dispatcher) routeAndSettle(ctx context.Context, w *worker, reason, department string) {
	sess := w.sess
	if reason == "" {
		reason = "direct-extension"
	}

	result, err := d.engine.Route(ctx, routing.Request{
		Session:         sess,
		Tenant:          w.tc.Tenant,
		Candidates:      candidateTargets(w.tc),
		DialedExtension: w.extension,
		Department:      department,
	})
	if err != nil {
		d.failSession(sess, "routing-failed", err)
		return
	}

	switch result.Kind {
	case routing.ResultAgent:
		w.claimed = result.Target
		if err := d.machine.Transition(ctx, sess, call.StateAgentHandling, reason); err != nil {
			d.failSession(sess, "transition-failed", err)
			return
		}
		if err := d.controller.Transfer(ctx, sess.ID(), result.Target.Extension); err != nil {
			d.logger.Error("transfer command failed", "session_id", sess.ID(), "error", err)
		}
		<-ctx.Done()

	case routing.ResultVoicemail:
		d.settleVoicemail(ctx, sess, result)

	case routing.ResultQueued:
		d.settleQueued(ctx, w, result)
	}
}

// settleQueued holds the call in the wait queue until an agent frees up,
// the tenant's hold limit expires, or the caller hangs up.
func (d *Dispatcher) settleQueued(ctx context.Context, w *worker, result *routing.Result) {
	sess := w.sess
	if err := d.machine.Transition(ctx, sess, call.StateQueued, result.Reason); err != nil {
		d.engine.Queue().Remove(sess.ID())
		d.failSession(sess, "transition-failed", err)
		return
	}

	timer := time.NewTimer(d.queueMaxWait(w.tc))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		d.reclaimAbandoned(w, result.Entry)
		return

	case t := <-result.Entry.Assigned:
		w.claimed = &t
		d.machine.AssignAgent(sess, t.Extension)
		if err := d.machine.Decide(ctx, sess, audit.DecisionTransferToAgent, t.Extension, "queue-drain"); err != nil {
			d.failSession(sess, "decision-write-failed", err)
			return
		}
		if err := d.machine.Transition(ctx, sess, call.StateAgentHandling, "queue-drain"); err != nil {
			d.failSession(sess, "transition-failed", err)
			return
		}
		if err := d.controller.Transfer(ctx, sess.ID(), t.Extension); err != nil {
			d.logger.Error("transfer command failed", "session_id", sess.ID(), "error", err)
		}
		<-ctx.Done()

	case <-timer.C:
		// Hold limit reached: no caller waits forever.
		d.engine.Queue().Remove(sess.ID())
		d.reclaimAbandoned(w, result.Entry)
		if err := d.machine.Decide(ctx, sess, audit.DecisionVoicemail, "", "queue-max-wait"); err != nil {
			d.failSession(sess, "decision-write-failed", err)
			return
		}
		d.settleVoicemail(ctx, sess, &routing.Result{Kind: routing.ResultVoicemail, Reason: "queue-max-wait"})
	}
}

// reclaimAbandoned closes out a queue entry the worker stopped waiting on.
// A drain can claim an agent for the entry concurrently with hangup or the
// hold timer; without this the claim would outlive the session. Any target
// that was delivered but never received is released and offered to the next
// waiter.
func (d *Dispatcher) reclaimAbandoned(w *worker, entry *routing.Entry) {
	if t, ok := entry.Abandon(); ok {
		d.engine.Registry().Release(t.ID, w.sess.ID())
		d.drain(t)
	}
}

// settleVoicemail diverts the call to voicemail and holds until it ends.
func (d *Dispatcher) settleVoicemail(ctx context.Context, sess *call.Session, result *routing.Result) {
	if err := d.machine.Transition(ctx, sess, call.StateVoicemail, result.Reason); err != nil {
		d.failSession(sess, "transition-failed", err)
		return
	}
	box := ""
	if result.Target != nil {
		box = result.Target.Extension
	}
	if err := d.controller.Voicemail(ctx, sess.ID(), box); err != nil {
		d.logger.Error("voicemail command failed", "session_id", sess.ID(), "error", err)
	}
	<-ctx.Done()
}

// teardown is the single cleanup path for a worker, whatever phase the call
// died in: the session is forced to ended, any held agent is released and
// offered to the queue, and the call summary is persisted.
func (d *Dispatcher) teardown(w *worker) {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	sess := w.sess

	d.engine.Queue().Remove(sess.ID())

	if err := d.machine.ForceEnd(ctx, sess, "hangup"); err != nil {
		d.logger.Error("forcing session end failed",
			"session_id", sess.ID(),
			"error", err,
		)
	}

	var agentID *int64
	if w.claimed != nil {
		id := w.claimed.ID
		agentID = &id
		d.engine.Registry().Release(w.claimed.ID, sess.ID())
		d.drain(*w.claimed)
	}

	d.persistRecord(ctx, sess, agentID)

	d.mu.Lock()
	delete(d.workers, sess.ID())
	d.mu.Unlock()

	snap := sess.Snapshot()
	d.logger.Info("call ended",
		"session_id", sess.ID(),
		"tenant_id", sess.TenantID(),
		"final_state", snap.State,
		"tier", snap.Tier,
		"transfer_attempts", snap.TransferAttempts,
	)
}

// failSession logs an unrecoverable per-call error and hangs the call up.
// The worker's deferred teardown finishes the bookkeeping.
func (d *Dispatcher) failSession(sess *call.Session, what string, err error) {
	d.logger.Error("call failed",
		"session_id", sess.ID(),
		"stage", what,
		"error", err,
	)
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if herr := d.controller.Hangup(ctx, sess.ID()); herr != nil {
		d.logger.Error("hangup failed", "session_id", sess.ID(), "error", herr)
	}
}

// aiTimeout returns the tenant's per-turn AI timeout, or the system default.
func (d *Dispatcher) aiTimeout(tc *tenant.Context) time.Duration {
	if tc.Tenant.AITimeoutSecs > 0 {
		return time.Duration(tc.Tenant.AITimeoutSecs) * time.Second
	}
	return d.opts.AITimeout
}

// queueMaxWait returns the tenant's hold limit, or the system default.
func (d *Dispatcher) queueMaxWait(tc *tenant.Context) time.Duration {
	if tc.Tenant.QueueMaxWaitSecs > 0 {
		return time.Duration(tc.Tenant.QueueMaxWaitSecs) * time.Second
	}
	return d.opts.QueueMaxWait
}

// candidateTargets converts a tenant's enabled agents to routing targets.
func candidateTargets(tc *tenant.Context) []routing.Target {
	out := make([]routing.Target, 0, len(tc.Agents))
	for _, a := range tc.Agents {
		if !a.Enabled {
			continue
		}
		out = append(out, routing.Target{
			ID:             a.ID,
			TenantID:       a.TenantID,
			Kind:           routing.TargetAgent,
			Extension:      a.Extension,
			Department:     a.Department,
			PriorityWeight: a.PriorityWeight,
		})
	}
	return out
}
