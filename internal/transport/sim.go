package transport

import (
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/ascend-hixl/hixl/internal/memreg"
	"github.com/ascend-hixl/hixl/internal/segtable"
	"github.com/ascend-hixl/hixl/internal/wirepb"
	"github.com/ascend-hixl/hixl/internal/transport/memsim"
)

// channelState backs every simChannel; readiness is polled (GetChannelStatus)
// rather than pushed, per spec §4.2/§4.5 step 4.
type channelState struct {
	id       uint64
	remote   EndpointDesc
	commType segtable.CommType
	st       atomic.Int32 // ChannelState
}

type simChannel struct{ s *channelState }

func (c *simChannel) ID() uint64                    { return c.s.id }
func (c *simChannel) CommType() segtable.CommType   { return c.s.commType }
func (c *simChannel) Remote() EndpointDesc          { return c.s.remote }
func (c *simChannel) state() *channelState          { return c.s }

// simTransport is the shared implementation behind the RoCE, UB-CTP,
// UB-TP, and HCCS drivers (and the in-process loopback case, which is simply
// RoCE between two localhost endpoints): the concrete wire behavior of
// each real driver is an external collaborator per spec §1, so all four
// present the same opaque channel/export-handle behavior and differ
// only by the Protocol tag used during endpoint pairing (spec §4.5.1).
type simTransport struct {
	proto      wirepb.Protocol
	readyAfter time.Duration // simulates the driver's async channel bring-up

	mu     sync.Mutex
	nextID uint64
}

func newSimTransport(proto wirepb.Protocol) *simTransport {
	return &simTransport{proto: proto, readyAfter: 2 * time.Millisecond}
}

func (t *simTransport) Protocol() wirepb.Protocol { return t.proto }

func (t *simTransport) CreateChannel(_, remote EndpointDesc) (Channel, error) {
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.mu.Unlock()

	ct := commTypeFor(t.proto, remote.Placement)
	cs := &channelState{id: id, remote: remote, commType: ct}
	cs.st.Store(int32(StateCreating))
	time.AfterFunc(t.readyAfter, func() { cs.st.CAS(int32(StateCreating), int32(StateReady)) })
	return &simChannel{s: cs}, nil
}

// commTypeFor derives the CommType from protocol + remote placement; for
// RoCE every triple routes to CommRoCE regardless of placement (spec §4.6
// "If a RoCE channel exists, every triple is routed to RoCE").
func commTypeFor(proto wirepb.Protocol, placement wirepb.Placement) segtable.CommType {
	if proto == wirepb.ProtoRoCE {
		return segtable.CommRoCE
	}
	// UB-CTP / UB-TP: the specific D2D/H2D/D2H/H2H class is decided by
	// the pairing algorithm (spec §4.5.1), not by the transport itself;
	// this default is only used when a channel is created ad hoc (tests).
	if placement == wirepb.PlacementDevice {
		return segtable.CommD2D
	}
	return segtable.CommH2H
}

func (*simTransport) Status(ch Channel) int32 {
	if ch.state().st.Load() == int32(StateReady) {
		return 0
	}
	return 1
}

func (*simTransport) RegisterMem(_ string, addr, size uint64, _ memreg.MemType) ([]byte, error) {
	memsim.Alloc(addr, size)
	return EncodeExportBlob(addr, size), nil
}

func (*simTransport) Import(exportBlob []byte) (addr, size uint64, err error) {
	return DecodeExportBlob(exportBlob)
}

func (*simTransport) Read(_ Channel, localAddr, remoteAddr, length uint64) error {
	return memsim.Copy(localAddr, remoteAddr, length)
}

func (*simTransport) Write(_ Channel, localAddr, remoteAddr, length uint64) error {
	return memsim.Copy(remoteAddr, localAddr, length)
}

func (*simTransport) Fence(Channel) error { return nil } // ops are synchronous in this simulation

func (*simTransport) Destroy(ch Channel) error {
	ch.state().st.Store(int32(StateDestroyed))
	return nil
}

// NewRoCE constructs the RoCE driver stand-in. Connecting two endpoints
// both on 127.0.0.1 over RoCE is this engine's "loopback" path (spec §1).
func NewRoCE() Transport { return newSimTransport(wirepb.ProtoRoCE) }

// NewUBCTP and NewUBTP construct the two on-chip Unified-Bus protocol
// drivers (spec §1, §4.5.1).
func NewUBCTP() Transport { return newSimTransport(wirepb.ProtoUBCTP) }
func NewUBTP() Transport  { return newSimTransport(wirepb.ProtoUBTP) }

// NewHCCS constructs the HCCS driver stand-in. HCCS entries are matched
// by numeric comm_id equality during CreateChannelReq dispatch (spec
// §4.4) but, unlike RoCE/UB, are not selected by the client-side
// pairing algorithm of spec §4.5.1 — matching aistore's own habit of
// carrying a driver that a higher layer may address directly.
func NewHCCS() Transport { return newSimTransport(wirepb.ProtoHCCS) }
