package xfer

import "sync"

// FlagQueue is the fixed-size host-pinned flag queue behind the legacy
// (host-flag) completion path (spec §4.6 "Host path"). Each index
// stands in for one host-pinned mirror of the well-known
// _hixl_builtin_dev_trans_flag region; GetTransferStatus polls
// flags[idx] directly rather than re-reading the wire.
type FlagQueue struct {
	mu    sync.Mutex
	flags []int32
	free  []int // LIFO of free indices
}

func NewFlagQueue(size int) *FlagQueue {
	q := &FlagQueue{flags: make([]int32, size), free: make([]int, 0, size)}
	for i := size - 1; i >= 0; i-- {
		q.free = append(q.free, i)
	}
	return q
}

// Acquire returns the next free index, or false if the queue is
// exhausted (spec §4.6 "capacity ... flag queue exhausted" → RESOURCE_EXHAUSTED).
func (q *FlagQueue) Acquire() (idx int, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.free)
	if n == 0 {
		return 0, false
	}
	idx = q.free[n-1]
	q.free = q.free[:n-1]
	return idx, true
}

// Set marks idx's flag completed (simulates the one-sided read of the
// peer's completion flag landing).
func (q *FlagQueue) Set(idx int) {
	q.mu.Lock()
	q.flags[idx] = 1
	q.mu.Unlock()
}

// Peek reads idx's flag without resetting it or freeing the index, for
// callers that must confirm completion before deciding whether the
// index can be released yet (Request.Poll's AND-reduce over sub-requests).
func (q *FlagQueue) Peek(idx int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.flags[idx] == 1
}

// Poll reads idx's flag; a 1 resets it to 0 and frees the index (spec
// §4.6 "1 ⇒ Completed (and resets to 0, returning the index to the
// free stack)").
func (q *FlagQueue) Poll(idx int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.flags[idx] != 1 {
		return false
	}
	q.flags[idx] = 0
	q.free = append(q.free, idx)
	return true
}

// Reclaim force-frees idx without requiring Completed first. It does not
// log.
func (q *FlagQueue) Reclaim(idx int) {
	q.mu.Lock()
	q.flags[idx] = 0
	q.free = append(q.free, idx)
	q.mu.Unlock()
}
