package xfer

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/ascend-hixl/hixl/internal/hixlstatus"
	"github.com/ascend-hixl/hixl/internal/memreg"
	"github.com/ascend-hixl/hixl/internal/segtable"
	"github.com/ascend-hixl/hixl/internal/transport"
)

// classPriority is the order classification prefers once more than one
// class reaches both sides of a triple (spec §4.6 "If a RoCE channel
// exists, every triple is routed to RoCE").
var classPriority = []segtable.CommType{
	segtable.CommRoCE,
	segtable.CommD2D,
	segtable.CommH2D,
	segtable.CommD2H,
	segtable.CommH2H,
}

// FlagRegionTag is the well-known server-exposed completion flag
// region every peer exports (spec §4.6 "a well-known, server-exposed
// 8-byte flag region").
const FlagRegionTag = "_hixl_builtin_dev_trans_flag"

// FlagRegionAddr is the synthetic backing address every engine's server
// registers FlagRegionTag at, so a peer importing it during Connect has
// a real address to store in PeerLink.RemoteFlag instead of leaving the
// host-path read permanently skipped. Chosen well outside any address
// range a caller would pass to RegisterMem.
const FlagRegionAddr = 0x4849584C00000000 // "HIXL" + zero pad

// ChannelBinding is one transport channel available to reach a peer,
// together with the driver that issues ops on it.
type ChannelBinding struct {
	Channel   transport.Channel
	Transport transport.Transport
}

// PeerLink is everything the router needs to classify and dispatch
// transfers toward one connected peer (spec §4.5 step 6, §4.6).
type PeerLink struct {
	mu         sync.RWMutex
	LocalSeg   *segtable.Table
	RemoteSeg  *segtable.Table
	Channels   map[segtable.CommType]ChannelBinding
	RemoteFlag uint64 // peer's imported _hixl_builtin_dev_trans_flag address
}

// HasUBChannel reports whether any Unified-Bus class channel (as
// opposed to RoCE) is bound, the condition spec §4.7 calls "device
// mode" for completion-pool AddRef/Release purposes.
func (l *PeerLink) HasUBChannel() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for class := range l.Channels {
		if class != segtable.CommRoCE {
			return true
		}
	}
	return false
}

func NewPeerLink() *PeerLink {
	return &PeerLink{
		LocalSeg:  &segtable.Table{},
		RemoteSeg: &segtable.Table{},
		Channels:  make(map[segtable.CommType]ChannelBinding),
	}
}

// Triple is one (local, remote, length) descriptor from a BatchTransfer
// call, already oriented so Local is this process's buffer regardless
// of is_get (spec §4.6 "Validation").
type Triple struct {
	Local  uint64
	Remote uint64
	Len    uint64
}

// Router classifies and dispatches BatchTransfer calls for every peer
// an engine is connected to (spec §4.6).
//
// Grounded on transport.go's Transport-interface design note (spec §9)
// for the CommType→driver table, and on
// original_source/src/hixl/cs/complete_pool.cc for the slot/flag split
// between the RoCE (host) and UB (device) completion paths.
type Router struct {
	registry *memreg.Registry

	mu    sync.RWMutex
	peers map[string]*PeerLink

	FlagQueue *FlagQueue
	SlotPool  *SlotPool
}

func NewRouter(registry *memreg.Registry) *Router {
	return &Router{
		registry:  registry,
		peers:     make(map[string]*PeerLink),
		FlagQueue: NewFlagQueue(4096),
		SlotPool:  NewSlotPool(),
	}
}

func (r *Router) Peer(name string) *PeerLink {
	r.mu.RLock()
	p := r.peers[name]
	r.mu.RUnlock()
	if p != nil {
		return p
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.peers[name]; ok {
		return p
	}
	p = NewPeerLink()
	r.peers[name] = p
	return p
}

func (r *Router) DropPeer(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, name)
}

// classify picks the transport class for t against link, preferring
// RoCE (spec §4.6 "Classification").
func classify(link *PeerLink, t Triple) (segtable.CommType, bool) {
	link.mu.RLock()
	defer link.mu.RUnlock()
	if _, ok := link.Channels[segtable.CommRoCE]; ok {
		return segtable.CommRoCE, true
	}
	local := link.LocalSeg.LookupAll(t.Local, t.Len)
	remote := link.RemoteSeg.LookupAll(t.Remote, t.Len)
	for _, want := range classPriority[1:] { // UB classes only; RoCE handled above
		if _, ok := link.Channels[want]; !ok {
			continue
		}
		if containsClass(local, want) && containsClass(remote, want) {
			return want, true
		}
	}
	return 0, false
}

func containsClass(classes []segtable.CommType, want segtable.CommType) bool {
	for _, c := range classes {
		if c == want {
			return true
		}
	}
	return false
}

// bucket groups triples of the same class for single-channel dispatch.
type bucket struct {
	class   segtable.CommType
	binding ChannelBinding
	triples []Triple
}

// BatchTransfer classifies and dispatches every triple, validates each
// against the registry, issues ops per §4.6's host or device
// completion path, and returns the aggregate request handle.
func (r *Router) BatchTransfer(peerName string, isGet bool, locals, remotes []uint64, lens []uint64) (*Request, error) {
	if len(locals) != len(remotes) || len(locals) != len(lens) || len(locals) == 0 {
		return nil, errors.Wrap(hixlstatus.ParamInvalid, "xfer: BatchTransfer list length mismatch")
	}
	link := r.Peer(peerName)

	buckets := map[segtable.CommType]*bucket{}
	var order []segtable.CommType
	for i := range locals {
		t := Triple{Local: locals[i], Remote: remotes[i], Len: lens[i]}

		// t.Local/t.Remote are already oriented to this process regardless
		// of is_get (spec §4.6 "Validation": "On GET, remote buffers are
		// src, local buffers are dst; on PUT the roles swap" — callers
		// perform that swap before building the Triple).
		if err := r.registry.ValidateMemoryAccess(t.Remote, t.Len, t.Local); err != nil {
			return nil, err
		}

		class, ok := classify(link, t)
		if !ok {
			return nil, errors.Wrap(hixlstatus.ParamInvalid, "xfer: no channel reaches triple")
		}
		b, ok := buckets[class]
		if !ok {
			link.mu.RLock()
			binding := link.Channels[class]
			link.mu.RUnlock()
			b = &bucket{class: class, binding: binding}
			buckets[class] = b
			order = append(order, class)
		}
		b.triples = append(b.triples, t)
	}

	var head *Request
	for _, class := range order {
		b := buckets[class]
		req, err := r.dispatchBucket(link, b, isGet)
		if err != nil {
			return nil, err
		}
		if head == nil {
			head = req
		} else {
			head.attach(req)
		}
	}
	return head, nil
}

// dispatchBucket issues every op in b on its channel followed by a
// fence, then posts the completion path matching the channel's class
// (spec §4.6: RoCE → host/legacy flag, UB → device slot).
func (r *Router) dispatchBucket(link *PeerLink, b *bucket, isGet bool) (*Request, error) {
	tr := b.binding.Transport
	ch := b.binding.Channel
	for _, t := range b.triples {
		var err error
		if isGet {
			err = tr.Read(ch, t.Local, t.Remote, t.Len)
		} else {
			err = tr.Write(ch, t.Local, t.Remote, t.Len)
		}
		if err != nil {
			return nil, errors.Wrap(err, "xfer: one-sided op failed")
		}
	}
	if err := tr.Fence(ch); err != nil {
		return nil, errors.Wrap(err, "xfer: channel fence failed")
	}

	if b.class == segtable.CommRoCE {
		return r.postLegacy(link, tr, ch)
	}
	return r.postDevice(tr, ch)
}

// postLegacy implements the host path: a one-sided read of the peer's
// completion flag into the next free queue slot (spec §4.6 "Host path").
func (r *Router) postLegacy(link *PeerLink, tr transport.Transport, ch transport.Channel) (*Request, error) {
	idx, ok := r.FlagQueue.Acquire()
	if !ok {
		return nil, hixlstatus.ResourceExhausted
	}
	link.mu.RLock()
	remoteFlag := link.RemoteFlag
	link.mu.RUnlock()
	// The read itself is synchronous in this simulation; a non-zero
	// remote flag address means the peer has already exported it.
	if remoteFlag != 0 {
		_ = tr.Read(ch, remoteFlag, remoteFlag, 8)
	}
	r.FlagQueue.Set(idx)
	return newLegacyRequest(r.FlagQueue, idx), nil
}

// postDevice implements the device path: acquire a slot, "launch" the
// kernel, and mark it Posted then immediately Completed — the
// simulated fabric's one-sided copy already landed synchronously above
// (spec §4.6 "Device path").
func (r *Router) postDevice(tr transport.Transport, ch transport.Channel) (*Request, error) {
	slot, err := r.SlotPool.Acquire()
	if err != nil {
		return nil, err
	}
	slot.mark(SlotPosted)
	slot.complete()
	return newDeviceRequest(r.SlotPool, slot), nil
}
