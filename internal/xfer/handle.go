package xfer

import (
	"sync"

	"github.com/ascend-hixl/hixl/internal/hixlstatus"
)

// Variant is the leading 32-bit magic number tagging a Request (spec
// §3 "Request handle"). The design note in spec §9 asks for a tagged
// sum rather than the source's shared void*; the magic is kept purely
// so an on-wire/legacy representation could still demux the same way.
type Variant uint32

const (
	VariantLegacy Variant = 0x4C474359 // "LGCY"
	VariantDevice Variant = 0x44565343 // "DVSC"
)

// Request is the handle returned by BatchTransfer/TransferAsync. It
// carries exactly one of a legacy (host-flag) or device (slot-based)
// completion, plus zero or more sub-requests for the other channels a
// multi-class batch fanned out to (spec §4.6 "the router remembers the
// other completion handles ... so GetTransferStatus can AND-reduce
// their states").
type Request struct {
	mu       sync.Mutex
	magic    Variant
	legacy   *legacyHandle
	device   *deviceHandle
	subs     []*Request
	consumed bool
}

type legacyHandle struct {
	queue *FlagQueue
	idx   int
}

type deviceHandle struct {
	pool *SlotPool
	slot *Slot
}

func newLegacyRequest(q *FlagQueue, idx int) *Request {
	return &Request{magic: VariantLegacy, legacy: &legacyHandle{queue: q, idx: idx}}
}

func newDeviceRequest(p *SlotPool, s *Slot) *Request {
	return &Request{magic: VariantDevice, device: &deviceHandle{pool: p, slot: s}}
}

// attach records another channel's completion handle to be AND-reduced
// alongside r (spec §4.6 classification note).
func (r *Request) attach(sub *Request) {
	r.mu.Lock()
	r.subs = append(r.subs, sub)
	r.mu.Unlock()
}

// Poll demultiplexes on the magic and reports the aggregate status of r
// and every attached sub-request. Once anything but Waiting has been
// reported the handle is consumed; further polls return ParamInvalid
// (spec §4 "Once a request is reported anything other than Waiting,
// its handle is consumed and further queries return PARAM_INVALID").
func (r *Request) Poll() (hixlstatus.TransferStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.consumed {
		return hixlstatus.Waiting, hixlstatus.ParamInvalid
	}

	st := r.peekSelf()
	if st == hixlstatus.TransferFailed {
		r.consumed = true
		return hixlstatus.TransferFailed, nil
	}
	if st != hixlstatus.Completed {
		return hixlstatus.Waiting, nil
	}
	for _, sub := range r.subs {
		sst, err := sub.Poll()
		if err != nil {
			continue // sub already consumed by an earlier AND-reduce; treat as settled
		}
		if sst == hixlstatus.TransferFailed {
			r.consumed = true
			return hixlstatus.TransferFailed, nil
		}
		if sst != hixlstatus.Completed {
			return hixlstatus.Waiting, nil
		}
	}
	r.releaseSelf()
	r.consumed = true
	return hixlstatus.Completed, nil
}

// peekSelf reports r's own completion without releasing its underlying
// slot or flag index. The resource stays held until every sub-request
// has also reported Completed, so a batch whose head finishes before a
// sub-request can still be re-polled without its index being handed to
// an unrelated transfer in between (releaseSelf does the actual release,
// once, after the full AND-reduce succeeds).
func (r *Request) peekSelf() hixlstatus.TransferStatus {
	switch r.magic {
	case VariantLegacy:
		if r.legacy.queue.Peek(r.legacy.idx) {
			return hixlstatus.Completed
		}
		return hixlstatus.Waiting
	case VariantDevice:
		if r.device.slot.poll() {
			return hixlstatus.Completed
		}
		return hixlstatus.Waiting
	default:
		return hixlstatus.TransferFailed
	}
}

func (r *Request) releaseSelf() {
	switch r.magic {
	case VariantLegacy:
		r.legacy.queue.Poll(r.legacy.idx)
	case VariantDevice:
		r.device.pool.release(r.device.slot)
	}
}

// Busy reports whether r has not yet reported a terminal status; for a
// device request it reports whether r's slot is still held. Attached
// sub-requests are not inspected.
func (r *Request) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.consumed {
		return false
	}
	if r.magic == VariantDevice {
		r.device.slot.mu.Lock()
		busy := r.device.slot.state != SlotFree
		r.device.slot.mu.Unlock()
		return busy
	}
	return true
}

// reclaim force-frees the underlying resource without requiring
// Completed. It does not log.
func (r *Request) reclaim() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.consumed {
		return
	}
	switch r.magic {
	case VariantLegacy:
		r.legacy.queue.Reclaim(r.legacy.idx)
	case VariantDevice:
		r.device.pool.release(r.device.slot)
	}
	r.consumed = true
}
