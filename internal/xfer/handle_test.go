package xfer

import (
	"testing"

	"github.com/ascend-hixl/hixl/internal/hixlstatus"
)

// TestRequestPollHoldsHeadUntilSubCompletes covers the AND-reduce
// ordering fix: a legacy head whose flag lands before its device
// sub-request completes must not release the head's queue index early
// — an earlier version released it on the first Poll, which would have
// let a second BatchTransfer Acquire the same index while this request
// was still outstanding.
func TestRequestPollHoldsHeadUntilSubCompletes(t *testing.T) {
	q := NewFlagQueue(1)
	idx, ok := q.Acquire()
	if !ok {
		t.Fatal("expected free index")
	}
	q.Set(idx)
	head := newLegacyRequest(q, idx)

	pool := NewSlotPool()
	if err := pool.AddRef(SlotPoolParams{Size: 1}); err != nil {
		t.Fatalf("AddRef: %v", err)
	}
	defer pool.Release()
	slot, err := pool.Acquire()
	if err != nil {
		t.Fatalf("acquire slot: %v", err)
	}
	sub := newDeviceRequest(pool, slot)
	head.attach(sub)

	st, err := head.Poll()
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if st != hixlstatus.Waiting {
		t.Fatalf("status = %v, want Waiting while the sub-request is outstanding", st)
	}
	if _, ok := q.Acquire(); ok {
		t.Fatal("head's flag index was released before the sub-request completed")
	}

	slot.complete()
	st, err = head.Poll()
	if err != nil {
		t.Fatalf("second Poll: %v", err)
	}
	if st != hixlstatus.Completed {
		t.Fatalf("status = %v, want Completed once the sub-request lands", st)
	}

	idx2, ok := q.Acquire()
	if !ok {
		t.Fatal("head's flag index was never released after the full AND-reduce completed")
	}
	_ = idx2
}
