// Package hixlcli implements the per-peer client connect sequence
// (C5, spec §4.5): TCP connect, catalog fetch, endpoint pairing,
// channel creation, readiness wait, and remote-memory import.
package hixlcli

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/ascend-hixl/hixl/internal/hixlstatus"
	"github.com/ascend-hixl/hixl/internal/memreg"
	"github.com/ascend-hixl/hixl/internal/nlog"
	"github.com/ascend-hixl/hixl/internal/segtable"
	"github.com/ascend-hixl/hixl/internal/transport"
	"github.com/ascend-hixl/hixl/internal/wire"
	"github.com/ascend-hixl/hixl/internal/wirepb"
	"github.com/ascend-hixl/hixl/internal/xfer"
	"github.com/ascend-hixl/hixl/internal/xoscfg"
)

// channelHandle is one channel this client opened toward a peer, kept
// around so Disconnect can tear everything down and rollback can undo
// a partially completed Connect.
type channelHandle struct {
	localEP          *transport.Endpoint
	ch               transport.Channel
	class            segtable.CommType
	remoteWireHandle uint64
}

// peerConn is one connected peer's full client-side state.
type peerConn struct {
	conn net.Conn
	recv *wire.Receiver

	channels     []channelHandle
	importedRegs []memreg.Handle
}

// Client drives Connect/Disconnect for every peer of one engine.
//
// Grounded on spec §4.5's numbered protocol and
// original_source/src/hixl/cs/endpoint_store.cc for the pairing
// semantics; the request/response exchange follows the same
// length-prefixed, one-at-a-time RPC shape as
// other_examples syncthing protocol.go.
type Client struct {
	cfg      *xoscfg.Config
	registry *memreg.Registry
	store    *transport.EndpointStore
	router   *xfer.Router
	locals   []transport.LocalEndpoint

	mu    sync.Mutex
	peers map[string]*peerConn
}

// LocalMemEntry is one region from the engine's registry, passed into
// Connect and RegisterMem (spec §4.5.2 "SetLocalMemInfo").
type LocalMemEntry struct {
	Addr, Size uint64
	Type       memreg.MemType
}

func New(cfg *xoscfg.Config, registry *memreg.Registry, store *transport.EndpointStore, router *xfer.Router, locals []transport.LocalEndpoint) *Client {
	return &Client{
		cfg:      cfg,
		registry: registry,
		store:    store,
		router:   router,
		locals:   locals,
		peers:    make(map[string]*peerConn),
	}
}

// Connect executes the strictly ordered protocol of spec §4.5 against
// one peer reachable at addr, known locally as name. localMem is the
// union of regions registered on this engine at the time of the call
// (spec §4.7: "Connect(remote) ... passes it the union of currently-
// registered regions").
func (c *Client) Connect(ctx context.Context, name, addr string, localMem []LocalMemEntry) (err error) {
	c.mu.Lock()
	if _, exists := c.peers[name]; exists {
		c.mu.Unlock()
		return hixlstatus.AlreadyConnected
	}
	c.mu.Unlock()

	conn, err := wire.DialWithRetry(ctx, addr, c.cfg.RPCTimeout)
	if err != nil {
		return errors.Wrap(hixlstatus.Timeout, err.Error())
	}
	if err := wire.ConfigureConn(conn, 0); err != nil {
		nlog.Warningf("hixlcli: configure conn: %v", err)
	}
	pc := &peerConn{conn: conn, recv: wire.NewReceiver(conn, c.cfg.MaxFrameSize)}

	defer func() {
		if err != nil {
			c.rollback(pc)
			conn.Close()
		}
	}()

	catalog, err := c.fetchCatalog(ctx, pc)
	if err != nil {
		return err
	}

	pairs, err := pairEndpoints(c.locals, catalog, c.cfg.ForceRoCE)
	if err != nil {
		return err
	}

	link := c.router.Peer(name)
	for _, p := range pairs {
		localEP, ok := c.store.GetEndpoint(p.local.Handle)
		if !ok {
			return errors.Wrap(hixlstatus.Failed, "hixlcli: local endpoint vanished during connect")
		}
		ch, err := localEP.CreateChannel(p.remote)
		if err != nil {
			return errors.Wrap(err, "hixlcli: create local channel")
		}
		remoteHandle, err := c.createRemoteChannel(ctx, pc, p.local.Desc, p.remote)
		if err != nil {
			return err
		}
		pc.channels = append(pc.channels, channelHandle{localEP: localEP, ch: ch, class: p.class, remoteWireHandle: remoteHandle})

		link.Channels[p.class] = xfer.ChannelBinding{Channel: ch, Transport: localEP.Transport()}
	}

	if err := c.waitReady(ctx, pc); err != nil {
		return err
	}

	if err := c.importRemoteRegions(ctx, pc, link); err != nil {
		return err
	}

	for _, e := range localMem {
		registerOnPeer(pc, link, e)
	}

	c.mu.Lock()
	c.peers[name] = pc
	c.mu.Unlock()
	return nil
}

// createRemoteChannel sends kCreateChannelReq{src, dst} and returns the
// peer-assigned dst_ep_handle (spec §4.4).
func (c *Client) createRemoteChannel(ctx context.Context, pc *peerConn, src, dst transport.EndpointDesc) (uint64, error) {
	body := wire.CreateChannelReqBody{Src: toWireEndpointDesc(src), Dst: toWireEndpointDesc(dst)}.Encode()
	if err := wire.WriteFrame(pc.conn, wire.Frame{Type: wire.MsgCreateChannelReq, Body: body}); err != nil {
		return 0, errors.Wrap(err, "hixlcli: send CreateChannelReq")
	}
	f, err := pc.recv.Next(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "hixlcli: read CreateChannelResp")
	}
	resp := wire.DecodeCreateChannelRespBody(f.Body)
	if hixlstatus.Status(resp.Result) != hixlstatus.Success {
		return 0, errors.Wrapf(hixlstatus.Status(resp.Result), "hixlcli: CreateChannelReq rejected")
	}
	return resp.DstEPHandle, nil
}

func (c *Client) fetchCatalog(ctx context.Context, pc *peerConn) ([]wirepb.EndpointDesc, error) {
	if err := wire.WriteFrame(pc.conn, wire.Frame{Type: wire.MsgGetEndPointInfoReq}); err != nil {
		return nil, errors.Wrap(err, "hixlcli: send GetEndPointInfoReq")
	}
	f, err := pc.recv.Next(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "hixlcli: read GetEndPointInfoResp")
	}
	catalog, err := wirepb.UnmarshalCatalog(f.Body)
	if err != nil {
		return nil, errors.Wrap(hixlstatus.ParamInvalid, err.Error())
	}
	return catalog, nil
}

// waitReady polls every created channel's status at the configured
// cadence until all are Ready or the deadline elapses (spec §4.5 step 4).
func (c *Client) waitReady(ctx context.Context, pc *peerConn) error {
	deadline := time.Now().Add(c.cfg.RPCTimeout)
	for {
		allReady := true
		for _, ch := range pc.channels {
			if ch.localEP.GetChannelStatus(ch.ch) != 0 {
				allReady = false
				break
			}
		}
		if allReady {
			return nil
		}
		if time.Now().After(deadline) {
			return hixlstatus.Timeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.ChannelReadyPoll):
		}
	}
}

// importRemoteRegions fetches and imports exported regions from every
// distinct remote endpoint reached by this connect (spec §4.5 step 5).
func (c *Client) importRemoteRegions(ctx context.Context, pc *peerConn, link *xfer.PeerLink) error {
	seen := map[uint64]bool{}
	for _, ch := range pc.channels {
		if seen[ch.remoteWireHandle] {
			continue
		}
		seen[ch.remoteWireHandle] = true

		body := wire.GetRemoteMemReqBody{DstEPHandle: ch.remoteWireHandle}.Encode()
		if err := wire.WriteFrame(pc.conn, wire.Frame{Type: wire.MsgGetRemoteMemReq, Body: body}); err != nil {
			return errors.Wrap(err, "hixlcli: send GetRemoteMemReq")
		}
		f, err := pc.recv.Next(ctx)
		if err != nil {
			return errors.Wrap(err, "hixlcli: read GetRemoteMemResp")
		}
		resp, err := wirepb.UnmarshalRemoteMem(f.Body)
		if err != nil {
			return errors.Wrap(hixlstatus.ParamInvalid, err.Error())
		}
		if hixlstatus.Status(resp.Result) != hixlstatus.Success {
			return errors.Wrapf(hixlstatus.Status(resp.Result), "hixlcli: GetRemoteMemReq rejected")
		}

		for _, m := range resp.MemDescs {
			addr, size, err := ch.localEP.MemImport(m.ExportDesc)
			if err != nil {
				return err
			}
			h, err := c.registry.Register(true, addr, size, fromWireMemType(m.Mem.Type), m.Tag, m.ExportDesc)
			if err != nil {
				return errors.Wrap(err, "hixlcli: register imported region")
			}
			pc.importedRegs = append(pc.importedRegs, h)

			link.RemoteSeg.Add(addr, addr+size, ch.class)
			if m.Tag == xfer.FlagRegionTag {
				link.RemoteFlag = addr
			}
		}
	}
	return nil
}

// RegisterMem propagates a newly registered local region to every
// connected peer (spec §4.7: "RegisterMem after Connect propagates to
// every active client").
func (c *Client) RegisterMem(e LocalMemEntry) error {
	c.mu.Lock()
	peers := make(map[string]*peerConn, len(c.peers))
	for name, pc := range c.peers {
		peers[name] = pc
	}
	c.mu.Unlock()

	for name, pc := range peers {
		registerOnPeer(pc, c.router.Peer(name), e)
	}
	return nil
}

// registerOnPeer implements SetLocalMemInfo's per-peer effect (spec
// §4.5.2): insert into the local segment table by type, and call
// RegisterMem on every client transport the memory matrix allows.
func registerOnPeer(pc *peerConn, link *xfer.PeerLink, e LocalMemEntry) {
	classes := memMatrix(e.Type)
	for _, class := range classes {
		link.LocalSeg.Add(e.Addr, e.Addr+e.Size, class)
	}
	for _, ch := range pc.channels {
		for _, class := range classes {
			if ch.class != class {
				continue
			}
			h := memreg.Handle(strconv.FormatUint(e.Addr, 16))
			if _, err := ch.localEP.RegisterMem(h, "", e.Addr, e.Size, e.Type); err != nil {
				nlog.Warningf("hixlcli: register local mem 0x%x on class %v: %v", e.Addr, class, err)
			}
		}
	}
}

// memMatrix implements spec §4.5.2's "MEM_DEVICE → {UB-D2H, UB-D2D,
// RoCE}; MEM_HOST → {UB-H2D, UB-H2H, RoCE}".
func memMatrix(typ memreg.MemType) []segtable.CommType {
	if typ == memreg.MemDevice {
		return []segtable.CommType{segtable.CommD2H, segtable.CommD2D, segtable.CommRoCE}
	}
	return []segtable.CommType{segtable.CommH2D, segtable.CommH2H, segtable.CommRoCE}
}

// Connected reports whether name is currently an active peer.
func (c *Client) Connected(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.peers[name]
	return ok
}

// PeerCount returns the number of currently connected peers.
func (c *Client) PeerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.peers)
}

// Peers returns a snapshot of every currently connected peer name.
func (c *Client) Peers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.peers))
	for name := range c.peers {
		out = append(out, name)
	}
	return out
}

// Disconnect tears a peer's channels down and forgets its state.
func (c *Client) Disconnect(name string) error {
	c.mu.Lock()
	pc, ok := c.peers[name]
	if ok {
		delete(c.peers, name)
	}
	c.mu.Unlock()
	if !ok {
		return hixlstatus.NotConnected
	}
	c.rollback(pc)
	pc.conn.Close()
	c.router.DropPeer(name)
	return nil
}

// rollback destroys every channel and deregisters every imported region
// recorded on pc, in reverse order (spec §6 "Propagation policy").
func (c *Client) rollback(pc *peerConn) {
	for i := len(pc.importedRegs) - 1; i >= 0; i-- {
		c.registry.Deregister(true, pc.importedRegs[i])
	}
	for i := len(pc.channels) - 1; i >= 0; i-- {
		ch := pc.channels[i]
		if err := ch.localEP.DestroyChannel(ch.ch); err != nil {
			nlog.Warningf("hixlcli: destroy channel %d: %v", ch.ch.ID(), err)
		}
	}
}

func fromWireMemType(t wirepb.MemType) memreg.MemType {
	if t == wirepb.MemDevice {
		return memreg.MemDevice
	}
	return memreg.MemHost
}

func toWireEndpointDesc(d transport.EndpointDesc) wire.EndpointDescWire {
	commID, _ := strconv.ParseUint(d.CommID, 10, 64)
	plane, _ := strconv.ParseUint(d.Plane, 10, 32)
	netInst, _ := strconv.ParseUint(d.NetInstanceID, 10, 64)
	var eid [16]byte
	copy(eid[:], d.DstEID)
	return wire.EndpointDescWire{
		Protocol:      uint32(d.Protocol),
		Placement:     uint32(d.Placement),
		CommID:        commID,
		Plane:         uint32(plane),
		DstEID:        eid,
		HasDstEID:     d.DstEID != "",
		NetInstanceID: netInst,
	}
}
