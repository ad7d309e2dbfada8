// Package hk provides a mechanism for registering cleanup functions
// invoked at specified intervals. The engine registers its periodic
// stats log line here; no idle-channel or stale-imported-region reaper
// is registered.
package hk

import (
	"container/heap"
	"sync"
	"time"
)

// NameSuffix disambiguates callbacks registered for the same logical
// endpoint under different roles (mirrors the convention observed at
// the teacher's hk.Unreg(name + hk.NameSuffix) call site).
const NameSuffix = ".hk"

// CleanupFunc runs once per firing and returns the delay until its next
// run; returning <= 0 unregisters it.
type CleanupFunc func() time.Duration

type request struct {
	name     string
	f        CleanupFunc
	fireAt   time.Time
	index    int
	unregAt  bool // request is an Unreg, not a Reg
	initWait time.Duration
}

// Housekeeper runs registered callbacks on a min-heap ordered by next
// fire time, the same shape as the teacher's idle-stream collector.
type Housekeeper struct {
	mu      sync.Mutex
	byName  map[string]*request
	heap    reqHeap
	reqCh   chan request
	stopCh  chan struct{}
	started chan struct{}
	once    sync.Once
}

// DefaultHK is the process-wide housekeeper behind the package-level Reg
// and Unreg. Engine does not use it; each Engine runs its own Housekeeper.
var DefaultHK = New()

func New() *Housekeeper {
	return &Housekeeper{
		byName:  make(map[string]*request),
		reqCh:   make(chan request, 64),
		stopCh:  make(chan struct{}),
		started: make(chan struct{}),
	}
}

// Reg schedules f to run after initWait, and again after whatever delay
// each invocation returns, until f returns <= 0 or Unreg(name) is called.
func (h *Housekeeper) Reg(name string, f CleanupFunc, initWait time.Duration) {
	h.reqCh <- request{name: name, f: f, initWait: initWait}
}

func (h *Housekeeper) Unreg(name string) {
	h.reqCh <- request{name: name, unregAt: true}
}

func (h *Housekeeper) Run() {
	h.once.Do(func() { close(h.started) })
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		h.resched(timer)
		select {
		case req := <-h.reqCh:
			h.apply(req)
		case <-timer.C:
			h.fire()
		case <-h.stopCh:
			return
		}
	}
}

func (h *Housekeeper) Stop() { close(h.stopCh) }

// WaitStarted blocks until Run has been entered at least once.
func (h *Housekeeper) WaitStarted() { <-h.started }

func (h *Housekeeper) apply(req request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if req.unregAt {
		if old, ok := h.byName[req.name]; ok {
			heap.Remove(&h.heap, old.index)
			delete(h.byName, req.name)
		}
		return
	}
	if old, ok := h.byName[req.name]; ok {
		heap.Remove(&h.heap, old.index)
	}
	r := &request{name: req.name, f: req.f, fireAt: time.Now().Add(req.initWait)}
	h.byName[req.name] = r
	heap.Push(&h.heap, r)
}

func (h *Housekeeper) fire() {
	now := time.Now()
	h.mu.Lock()
	var due []*request
	for h.heap.Len() > 0 && !h.heap[0].fireAt.After(now) {
		due = append(due, heap.Pop(&h.heap).(*request))
	}
	h.mu.Unlock()

	for _, r := range due {
		next := r.f()
		if next <= 0 {
			h.mu.Lock()
			delete(h.byName, r.name)
			h.mu.Unlock()
			continue
		}
		r.fireAt = time.Now().Add(next)
		h.mu.Lock()
		heap.Push(&h.heap, r)
		h.mu.Unlock()
	}
}

func (h *Housekeeper) resched(timer *time.Timer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.heap.Len() == 0 {
		return
	}
	d := time.Until(h.heap[0].fireAt)
	if d < 0 {
		d = 0
	}
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(d)
}

// package-level convenience wrapping DefaultHK, matching the teacher's
// free-function call sites (hk.Reg / hk.Unreg) on top of a package
// singleton.
func Reg(name string, f CleanupFunc, initWait time.Duration) { DefaultHK.Reg(name, f, initWait) }
func Unreg(name string)                                      { DefaultHK.Unreg(name) }

type reqHeap []*request

func (r reqHeap) Len() int            { return len(r) }
func (r reqHeap) Less(i, j int) bool  { return r[i].fireAt.Before(r[j].fireAt) }
func (r reqHeap) Swap(i, j int)       { r[i], r[j] = r[j], r[i]; r[i].index = i; r[j].index = j }
func (r *reqHeap) Push(x any) {
	req := x.(*request)
	req.index = len(*r)
	*r = append(*r, req)
}
func (r *reqHeap) Pop() any {
	old := *r
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*r = old[:n-1]
	return item
}
