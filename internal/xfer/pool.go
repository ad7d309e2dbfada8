// Package xfer implements the transfer router and completion engine
// (spec §4.6): classification of transfer triples onto channels, the
// two completion paths (host-flag and device-slot), and the tagged
// request handle both paths return.
package xfer

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/ascend-hixl/hixl/internal/hixlstatus"
)

// SlotState is the completion-slot lifecycle (spec §4.6 state machine).
type SlotState int32

const (
	SlotFree SlotState = iota
	SlotArmed
	SlotPosted
	SlotCompleted
)

func (s SlotState) String() string {
	switch s {
	case SlotFree:
		return "Free"
	case SlotArmed:
		return "Armed"
	case SlotPosted:
		return "Posted"
	case SlotCompleted:
		return "Completed"
	default:
		return "Unknown"
	}
}

// Slot is a completion-pool entry (spec §3 "Completion slot"). The
// device context/stream/thread/notification object are all external
// collaborators (spec §1); flagVal stands in for the host-pinned
// mirror of the device-resident 8-byte flag.
type Slot struct {
	idx     int
	mu      sync.Mutex
	state   SlotState
	flagVal int32
}

func (s *Slot) Index() int { return s.idx }

func (s *Slot) mark(st SlotState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Slot) complete() {
	s.mu.Lock()
	s.flagVal = 1
	s.state = SlotPosted // host flag flips while still Posted; poll observes it
	s.mu.Unlock()
}

// poll reads the host mirror. A 1 transitions the slot to Completed and
// resets the mirror to 0 (spec §4.6 "Device path").
func (s *Slot) poll() (completed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SlotCompleted {
		return true
	}
	if s.flagVal == 1 {
		s.flagVal = 0
		s.state = SlotCompleted
		return true
	}
	return false
}

// SlotPoolParams are the initialization parameters AddRef compares
// across activations (spec §9 "Global state").
type SlotPoolParams struct {
	Size int
}

// SlotPool is the reference-counted completion pool: slots are built on
// the first AddRef and dropped at the last Release. Each Router owns its
// own SlotPool, so one pool is shared by every peer of one Engine, not
// across Engines in the same process.
//
// Grounded on original_source/src/hixl/cs/complete_pool.{h,cc}, which
// keeps this pool as a singleton with AddRef/Release lifetime tied to
// client activation rather than to any one connection.
type SlotPool struct {
	mu       sync.Mutex
	params   SlotPoolParams
	refCount int
	slots    []*Slot
	free     []*Slot // LIFO
}

func NewSlotPool() *SlotPool { return &SlotPool{} }

// AddRef initializes the pool on the first reference and validates that
// later references agree on params (spec §9: "initialization parameters
// must be identical across refs or AddRef fails").
func (p *SlotPool) AddRef(params SlotPoolParams) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.refCount == 0 {
		p.params = params
		p.slots = make([]*Slot, params.Size)
		p.free = make([]*Slot, 0, params.Size)
		for i := range p.slots {
			s := &Slot{idx: i}
			p.slots[i] = s
			p.free = append(p.free, s)
		}
	} else if p.params != params {
		return errors.Wrap(hixlstatus.ParamInvalid, "xfer: slot pool AddRef params mismatch")
	}
	p.refCount++
	return nil
}

// Release decrements the reference count and tears the pool down once
// it reaches zero. Any slot still Posted at teardown is a caller bug;
// teardown proceeds regardless (there is nothing left to notify).
func (p *SlotPool) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refCount--
	if p.refCount <= 0 {
		p.refCount = 0
		p.slots = nil
		p.free = nil
	}
}

// Acquire pops a slot off the free stack (spec §4.6 "Acquire a free
// slot from the 128-entry completion pool").
func (p *SlotPool) Acquire() (*Slot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.free)
	if n == 0 {
		return nil, hixlstatus.ResourceExhausted
	}
	s := p.free[n-1]
	p.free = p.free[:n-1]
	s.mark(SlotArmed)
	return s, nil
}

// release returns a completed slot to the free list, resetting its
// mirror (spec §4.6 "mirror reset to 0, slot released").
func (p *SlotPool) release(s *Slot) {
	s.mu.Lock()
	s.flagVal = 0
	s.state = SlotFree
	s.mu.Unlock()
	p.mu.Lock()
	p.free = append(p.free, s)
	p.mu.Unlock()
}

// Busy reports whether any slot is outstanding (Armed or Posted).
// Release does not consult it and tears the pool down regardless.
func (p *SlotPool) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.slots {
		s.mu.Lock()
		busy := s.state == SlotArmed || s.state == SlotPosted
		s.mu.Unlock()
		if busy {
			return true
		}
	}
	return false
}
