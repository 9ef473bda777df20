package routing

import (
	"errors"
	"fmt"
	"testing"

	"github.com/voicecore/voicecore/internal/call"
)

func TestQueueFIFOWithinTier(t *testing.T) {
	q := NewWaitQueue()
	for i := 0; i < 3; i++ {
		if _, _, err := q.Enqueue(fmt.Sprintf("sess-%d", i), 1, call.TierNormal, "", 10); err != nil {
			t.Fatal(err)
		}
	}

	for i := 0; i < 3; i++ {
		e := q.Dequeue(1, "")
		if e == nil {
			t.Fatalf("dequeue %d returned nil", i)
		}
		if want := fmt.Sprintf("sess-%d", i); e.SessionID != want {
			t.Errorf("dequeue %d = %s, want %s", i, e.SessionID, want)
		}
	}
}

func TestQueueVIPDequeuesFirst(t *testing.T) {
	q := NewWaitQueue()
	q.Enqueue("normal-1", 1, call.TierNormal, "", 10)
	q.Enqueue("normal-2", 1, call.TierNormal, "", 10)
	q.Enqueue("vip-1", 1, call.TierVIP, "", 10)
	q.Enqueue("vip-2", 1, call.TierVIP, "", 10)

	want := []string{"vip-1", "vip-2", "normal-1", "normal-2"}
	for i, w := range want {
		e := q.Dequeue(1, "")
		if e == nil || e.SessionID != w {
			t.Fatalf("dequeue %d = %v, want %s", i, e, w)
		}
	}
}

func TestQueueOverflow(t *testing.T) {
	q := NewWaitQueue()
	for i := 0; i < 2; i++ {
		if _, _, err := q.Enqueue(fmt.Sprintf("sess-%d", i), 1, call.TierNormal, "", 2); err != nil {
			t.Fatal(err)
		}
	}

	// Normal entries are rejected at the depth limit.
	if _, _, err := q.Enqueue("sess-over", 1, call.TierNormal, "", 2); !errors.Is(err, ErrQueueOverflow) {
		t.Fatalf("expected ErrQueueOverflow, got %v", err)
	}

	// VIP entries are admitted past the limit.
	if _, _, err := q.Enqueue("vip", 1, call.TierVIP, "", 2); err != nil {
		t.Fatalf("vip enqueue past limit failed: %v", err)
	}

	// The limit is per tenant.
	if _, _, err := q.Enqueue("other-tenant", 2, call.TierNormal, "", 2); err != nil {
		t.Fatalf("other tenant enqueue failed: %v", err)
	}
}

func TestQueuePositions(t *testing.T) {
	q := NewWaitQueue()
	_, pos, _ := q.Enqueue("normal-1", 1, call.TierNormal, "", 10)
	if pos != 0 {
		t.Errorf("first position = %d, want 0", pos)
	}
	_, pos, _ = q.Enqueue("normal-2", 1, call.TierNormal, "", 10)
	if pos != 1 {
		t.Errorf("second position = %d, want 1", pos)
	}

	// A VIP arrival lands ahead of every waiting normal entry.
	_, pos, _ = q.Enqueue("vip-1", 1, call.TierVIP, "", 10)
	if pos != 0 {
		t.Errorf("vip position = %d, want 0", pos)
	}
}

func TestQueueDepartmentFilter(t *testing.T) {
	q := NewWaitQueue()
	q.Enqueue("sales-1", 1, call.TierNormal, "sales", 10)
	q.Enqueue("support-1", 1, call.TierNormal, "support", 10)
	q.Enqueue("any-1", 1, call.TierNormal, "", 10)

	e := q.Dequeue(1, "support")
	if e == nil || e.SessionID != "support-1" {
		t.Fatalf("dequeue for support = %v, want support-1", e)
	}

	// An entry without a department matches any drain.
	e = q.Dequeue(1, "support")
	if e == nil || e.SessionID != "any-1" {
		t.Fatalf("dequeue for support = %v, want any-1", e)
	}
}

func TestQueueRemove(t *testing.T) {
	q := NewWaitQueue()
	q.Enqueue("sess-1", 1, call.TierNormal, "", 10)
	q.Enqueue("sess-2", 1, call.TierNormal, "", 10)

	if !q.Remove("sess-1") {
		t.Fatal("remove of queued session returned false")
	}
	if q.Remove("sess-1") {
		t.Fatal("second remove returned true")
	}
	if q.Depth(1) != 1 {
		t.Errorf("depth = %d, want 1", q.Depth(1))
	}

	e := q.Dequeue(1, "")
	if e == nil || e.SessionID != "sess-2" {
		t.Fatalf("dequeue = %v, want sess-2", e)
	}
}

func TestQueueRequeueKeepsOrder(t *testing.T) {
	q := NewWaitQueue()
	q.Enqueue("sess-1", 1, call.TierNormal, "", 10)
	q.Enqueue("sess-2", 1, call.TierNormal, "", 10)

	e := q.Dequeue(1, "")
	if e.SessionID != "sess-1" {
		t.Fatalf("dequeue = %s, want sess-1", e.SessionID)
	}

	// A requeued entry keeps its original place ahead of later arrivals.
	q.Requeue(e)
	e = q.Dequeue(1, "")
	if e.SessionID != "sess-1" {
		t.Fatalf("dequeue after requeue = %s, want sess-1", e.SessionID)
	}
}

func TestQueueDequeueEmpty(t *testing.T) {
	q := NewWaitQueue()
	if e := q.Dequeue(1, ""); e != nil {
		t.Fatalf("dequeue on empty queue = %v, want nil", e)
	}
	q.Enqueue("sess-1", 2, call.TierNormal, "", 10)
	if e := q.Dequeue(1, ""); e != nil {
		t.Fatalf("dequeue for wrong tenant = %v, want nil", e)
	}
}

func TestEntryDeliverAfterAbandonFails(t *testing.T) {
	q := NewWaitQueue()
	e, _, err := q.Enqueue("sess-1", 1, call.TierNormal, "", 10)
	if err != nil {
		t.Fatal(err)
	}

	if _, got := e.Abandon(); got {
		t.Fatal("Abandon reported a delivered target before any delivery")
	}
	if e.Deliver(Target{ID: 1}) {
		t.Fatal("Deliver succeeded on an abandoned entry")
	}
	select {
	case <-e.Assigned:
		t.Fatal("target landed on an abandoned entry's channel")
	default:
	}
}

func TestEntryAbandonReturnsUndeliveredTarget(t *testing.T) {
	q := NewWaitQueue()
	e, _, err := q.Enqueue("sess-1", 1, call.TierNormal, "", 10)
	if err != nil {
		t.Fatal(err)
	}

	if !e.Deliver(Target{ID: 7, Extension: "107"}) {
		t.Fatal("Deliver failed on a live entry")
	}
	// The waiter gives up without ever receiving; the target must come back
	// so its claim can be released.
	got, ok := e.Abandon()
	if !ok {
		t.Fatal("Abandon did not surface the delivered target")
	}
	if got.ID != 7 {
		t.Errorf("abandoned target id = %d, want 7", got.ID)
	}
}
