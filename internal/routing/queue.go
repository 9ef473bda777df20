package routing

import (
	"container/heap"
	"errors"
	"sync"
	"time"

	"github.com/voicecore/voicecore/internal/call"
)

// ErrQueueOverflow is returned when a normal-tier entry would push a
// tenant's wait queue past its configured maximum depth. The caller
// redirects the call to voicemail instead of queueing indefinitely.
var ErrQueueOverflow = errors.New("wait queue at maximum depth")

// Entry is a call waiting for a human handler. Assigned is the handoff
// channel: when a target is claimed for this entry, the claimed target is
// delivered on it (buffered, never blocks the drainer). Delivery and
// abandonment are mutually exclusive, so a target can never be handed to a
// waiter that already gave up without the drainer learning about it.
type Entry struct {
	SessionID  string
	TenantID   int64
	Tier       call.Tier
	Department string
	EnqueuedAt time.Time
	Assigned   chan Target

	seq   uint64 // insertion order for FIFO within a tier
	index int    // heap index, -1 once removed

	mu        sync.Mutex
	abandoned bool
}

// Deliver hands a claimed target to the waiting session. It reports false
// when the waiter has abandoned the entry; the caller still holds the claim
// and must release it.
func (e *Entry) Deliver(t Target) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.abandoned {
		return false
	}
	e.Assigned <- t
	return true
}

// Abandon marks the entry dead so no later delivery lands on it, and
// returns a target that was delivered but never received, if any. The
// session abandoning the entry owns that claim and must release it.
func (e *Entry) Abandon() (Target, bool) {
	e.mu.Lock()
	e.abandoned = true
	e.mu.Unlock()

	select {
	case t := <-e.Assigned:
		return t, true
	default:
		return Target{}, false
	}
}

// tierRank orders tiers for dequeue: lower dequeues first.
func tierRank(t call.Tier) int {
	if t == call.TierVIP {
		return 0
	}
	return 1
}

// entryHeap implements heap.Interface with the strict total order
// (tier rank, insertion sequence): every VIP entry dequeues before any
// normal entry regardless of wait time, and FIFO holds within a tier.
type entryHeap []*Entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if tierRank(h[i].Tier) != tierRank(h[j].Tier) {
		return tierRank(h[i].Tier) < tierRank(h[j].Tier)
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*Entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// WaitQueue holds calls awaiting a human handler across all tenants.
type WaitQueue struct {
	mu      sync.Mutex
	entries entryHeap
	seq     uint64
	nowFunc func() time.Time
}

// NewWaitQueue creates an empty wait queue.
func NewWaitQueue() *WaitQueue {
	return &WaitQueue{nowFunc: time.Now}
}

// Enqueue adds a session to the wait queue. maxDepth is the tenant's
// configured backpressure limit; when the tenant's queue is full, new
// normal-tier entries are rejected with ErrQueueOverflow (VIP entries are
// admitted past the limit). Returns the entry and its position: the number
// of entries that will dequeue ahead of it.
func (q *WaitQueue) Enqueue(sessionID string, tenantID int64, tier call.Tier, department string, maxDepth int) (*Entry, int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if tier != call.TierVIP && q.depthLocked(tenantID) >= maxDepth {
		return nil, 0, ErrQueueOverflow
	}

	e := &Entry{
		SessionID:  sessionID,
		TenantID:   tenantID,
		Tier:       tier,
		Department: department,
		EnqueuedAt: q.nowFunc(),
		Assigned:   make(chan Target, 1),
		seq:        q.seq,
	}
	q.seq++
	heap.Push(&q.entries, e)

	return e, q.positionLocked(e), nil
}

// Dequeue removes and returns the highest-priority waiting entry for a
// tenant, optionally restricted to a department. Returns nil if none wait.
func (q *WaitQueue) Dequeue(tenantID int64, department string) *Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	// The heap is globally ordered; scan in heap-pop order for the first
	// entry matching tenant and department.
	var best *Entry
	for _, e := range q.entries {
		if e.TenantID != tenantID {
			continue
		}
		if department != "" && e.Department != "" && e.Department != department {
			continue
		}
		if best == nil || q.entries.Less(e.index, best.index) {
			best = e
		}
	}
	if best == nil {
		return nil
	}
	heap.Remove(&q.entries, best.index)
	return best
}

// Requeue reinserts a dequeued entry with its original sequence number, so
// it keeps its place in the tier ordering. Used when a drain loses the
// claim race for a released target.
func (q *WaitQueue) Requeue(e *Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(&q.entries, e)
}

// Remove deletes a waiting entry, e.g. on caller abandonment. Returns true
// if the session was queued.
func (q *WaitQueue) Remove(sessionID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, e := range q.entries {
		if e.SessionID == sessionID {
			heap.Remove(&q.entries, e.index)
			return true
		}
	}
	return false
}

// Depth returns the number of waiting entries for a tenant.
func (q *WaitQueue) Depth(tenantID int64) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.depthLocked(tenantID)
}

// Len returns the total number of waiting entries, for metrics.
func (q *WaitQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *WaitQueue) depthLocked(tenantID int64) int {
	n := 0
	for _, e := range q.entries {
		if e.TenantID == tenantID {
			n++
		}
	}
	return n
}

// positionLocked counts entries for the same tenant that dequeue before e.
func (q *WaitQueue) positionLocked(e *Entry) int {
	n := 0
	for _, other := range q.entries {
		if other == e || other.TenantID != e.TenantID {
			continue
		}
		if tierRank(other.Tier) < tierRank(e.Tier) ||
			(tierRank(other.Tier) == tierRank(e.Tier) && other.seq < e.seq) {
			n++
		}
	}
	return n
}
