// Package hixlsrv implements the control-plane server (C4, spec §4.4):
// a listen socket, a per-connection dispatcher, and a bounded worker
// pool that runs the typed message processors.
package hixlsrv

import (
	"context"
	"net"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/ascend-hixl/hixl/internal/hixlstatus"
	"github.com/ascend-hixl/hixl/internal/memreg"
	"github.com/ascend-hixl/hixl/internal/nlog"
	"github.com/ascend-hixl/hixl/internal/transport"
	"github.com/ascend-hixl/hixl/internal/wire"
	"github.com/ascend-hixl/hixl/internal/wirepb"
	"github.com/ascend-hixl/hixl/internal/xoscfg"
)

const jobQueueSize = 256

type job struct {
	cc *clientConn
	f  wire.Frame
}

type chanRef struct {
	ep transport.EndpointHandle
	ch transport.Channel
}

// clientConn is the per-FD state the server keeps: the framed receiver
// plus the channels this peer has caused to be created, so a disconnect
// can tear them down (spec §4.4 "kDestroyChannelReq (synthesized on
// disconnect)").
type clientConn struct {
	conn net.Conn
	recv *wire.Receiver

	writeMu sync.Mutex

	mu       sync.Mutex
	channels []chanRef
}

func (cc *clientConn) send(f wire.Frame) {
	cc.writeMu.Lock()
	defer cc.writeMu.Unlock()
	if err := wire.WriteFrame(cc.conn, f); err != nil {
		nlog.Warningf("hixlsrv: write to %s: %v", cc.conn.RemoteAddr(), err)
	}
}

func (cc *clientConn) addChannel(ref chanRef) {
	cc.mu.Lock()
	cc.channels = append(cc.channels, ref)
	cc.mu.Unlock()
}

func (cc *clientConn) takeChannels() []chanRef {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	refs := cc.channels
	cc.channels = nil
	return refs
}

// Server owns the listen socket, the endpoint store, and the memory
// registry's server-side half (spec §4.4).
//
// Grounded on the teacher's transport server accept-loop-plus-worker-
// pool shape; golang.org/x/sync/errgroup drives the worker pool exactly
// as the wiring plan calls for.
type Server struct {
	cfg      *xoscfg.Config
	registry *memreg.Registry
	store    *transport.EndpointStore

	mu       sync.Mutex
	local    []transport.EndpointDesc
	nextWire uint64
	wireToEp map[uint64]transport.EndpointHandle

	ln     net.Listener
	jobs   chan job
	cancel context.CancelFunc
	eg     *errgroup.Group
	wg     sync.WaitGroup
}

func New(cfg *xoscfg.Config, registry *memreg.Registry, store *transport.EndpointStore, local []transport.EndpointDesc) *Server {
	return &Server{
		cfg:      cfg,
		registry: registry,
		store:    store,
		local:    local,
		wireToEp: make(map[uint64]transport.EndpointHandle),
	}
}

// Listen binds addr and starts the accept loop and worker pool.
func (s *Server) Listen(ctx context.Context, addr string) error {
	ln, err := wire.ListenConfig().Listen(ctx, "tcp", addr)
	if err != nil {
		return errors.Wrap(err, "hixlsrv: listen")
	}
	s.ln = ln
	s.jobs = make(chan job, jobQueueSize)

	workerCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	eg, _ := errgroup.WithContext(workerCtx)
	s.eg = eg
	for i := 0; i < s.cfg.ServerWorkers; i++ {
		eg.Go(func() error { return s.workerLoop(workerCtx) })
	}

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

func (s *Server) Addr() net.Addr { return s.ln.Addr() }

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return // listener closed by Close
		}
		if err := wire.ConfigureConn(conn, 0); err != nil {
			nlog.Warningf("hixlsrv: configure conn: %v", err)
		}
		cc := &clientConn{conn: conn, recv: wire.NewReceiver(conn, s.cfg.MaxFrameSize)}
		s.wg.Add(1)
		go s.serveConn(cc)
	}
}

func (s *Server) serveConn(cc *clientConn) {
	defer s.wg.Done()
	defer cc.conn.Close()
	ctx := context.Background()
	for {
		f, err := cc.recv.Next(ctx)
		if err != nil {
			if errors.Is(err, wire.ErrPeerDisconnect) {
				s.submit(job{cc: cc, f: wire.Frame{Type: wire.MsgDestroyChannelReq}})
			} else {
				nlog.Warningf("hixlsrv: read from %s: %v", cc.conn.RemoteAddr(), err)
			}
			return
		}
		s.submit(job{cc: cc, f: f})
	}
}

func (s *Server) submit(j job) {
	select {
	case s.jobs <- j:
	default:
		// Queue saturated: process inline rather than drop the message
		// (spec §4.4 names no backpressure policy; inline processing
		// keeps the ordering guarantee for this connection intact).
		s.process(j)
	}
}

func (s *Server) workerLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case j, ok := <-s.jobs:
			if !ok {
				return nil
			}
			s.process(j)
		}
	}
}

// Close stops the accept loop, drains in-flight connections, and shuts
// the worker pool down.
func (s *Server) Close() error {
	err := s.ln.Close()
	s.wg.Wait()
	close(s.jobs)
	if s.cancel != nil {
		s.cancel()
	}
	if s.eg != nil {
		_ = s.eg.Wait()
	}
	return err
}

func (s *Server) process(j job) {
	switch j.f.Type {
	case wire.MsgGetEndPointInfoReq:
		s.handleGetEndPointInfo(j.cc)
	case wire.MsgCreateChannelReq:
		s.handleCreateChannel(j.cc, j.f.Body)
	case wire.MsgGetRemoteMemReq:
		s.handleGetRemoteMem(j.cc, j.f.Body)
	case wire.MsgDestroyChannelReq:
		s.handleDestroyChannel(j.cc)
	default:
		nlog.Warningf("hixlsrv: unknown message type %v", j.f.Type)
	}
}

func (s *Server) handleGetEndPointInfo(cc *clientConn) {
	s.mu.Lock()
	local := append([]transport.EndpointDesc(nil), s.local...)
	s.mu.Unlock()

	catalog := make([]wirepb.EndpointDesc, len(local))
	for i, d := range local {
		catalog[i] = toWireDesc(d)
	}
	body, err := wirepb.MarshalCatalog(catalog)
	if err != nil {
		nlog.Errorf("hixlsrv: marshal catalog: %v", err)
		return
	}
	cc.send(wire.Frame{Type: wire.MsgGetEndPointInfoResp, Body: body})
}

func (s *Server) handleCreateChannel(cc *clientConn, body []byte) {
	req := wire.DecodeCreateChannelReqBody(body)
	dst := fromWireDesc(req.Dst)
	src := fromWireDesc(req.Src)

	epHandle, ep, ok := s.store.MatchEndpoint(dst)
	if !ok {
		cc.send(wire.Frame{Type: wire.MsgCreateChannelResp, Body: wire.CreateChannelRespBody{Result: uint32(hixlstatus.ParamInvalid)}.Encode()})
		return
	}
	ch, err := ep.CreateChannel(src)
	if err != nil {
		nlog.Warningf("hixlsrv: create channel: %v", err)
		cc.send(wire.Frame{Type: wire.MsgCreateChannelResp, Body: wire.CreateChannelRespBody{Result: uint32(hixlstatus.Failed)}.Encode()})
		return
	}
	cc.addChannel(chanRef{ep: epHandle, ch: ch})
	wireHandle := s.registerWireHandle(epHandle)
	cc.send(wire.Frame{Type: wire.MsgCreateChannelResp, Body: wire.CreateChannelRespBody{
		Result:      uint32(hixlstatus.Success),
		DstEPHandle: wireHandle,
	}.Encode()})
}

func (s *Server) handleGetRemoteMem(cc *clientConn, body []byte) {
	req := wire.DecodeGetRemoteMemReqBody(body)
	s.mu.Lock()
	epHandle, ok := s.wireToEp[req.DstEPHandle]
	s.mu.Unlock()
	if !ok {
		s.sendRemoteMemError(cc)
		return
	}
	ep, ok := s.store.GetEndpoint(epHandle)
	if !ok {
		s.sendRemoteMemError(cc)
		return
	}
	regions := ep.ExportMem()
	descs := make([]wirepb.ExportedMem, len(regions))
	for i, r := range regions {
		descs[i] = wirepb.ExportedMem{
			Tag:        r.Tag,
			ExportDesc: r.ExportBlob,
			Mem:        wirepb.MemDesc{Type: toWireMemType(r.Mem.Type), Addr: r.Mem.Addr, Size: r.Mem.Size},
		}
	}
	body2, err := wirepb.MarshalRemoteMem(wirepb.GetRemoteMemResp{Result: uint32(hixlstatus.Success), MemDescs: descs})
	if err != nil {
		nlog.Errorf("hixlsrv: marshal remote mem: %v", err)
		return
	}
	cc.send(wire.Frame{Type: wire.MsgGetRemoteMemResp, Body: body2})
}

func (s *Server) sendRemoteMemError(cc *clientConn) {
	body, _ := wirepb.MarshalRemoteMem(wirepb.GetRemoteMemResp{Result: uint32(hixlstatus.ParamInvalid)})
	cc.send(wire.Frame{Type: wire.MsgGetRemoteMemResp, Body: body})
}

func (s *Server) handleDestroyChannel(cc *clientConn) {
	for _, ref := range cc.takeChannels() {
		ep, ok := s.store.GetEndpoint(ref.ep)
		if !ok {
			continue
		}
		if err := ep.DestroyChannel(ref.ch); err != nil {
			nlog.Warningf("hixlsrv: destroy channel %d: %v", ref.ch.ID(), err)
		}
	}
}

func (s *Server) registerWireHandle(ep transport.EndpointHandle) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextWire++
	id := s.nextWire
	s.wireToEp[id] = ep
	return id
}

// RegisterMem replicates a newly registered region across every
// endpoint currently present, rolling back on partial failure (spec
// §4.4 "Registration of a region through the server replicates it
// across every endpoint currently present, returning the handle from
// the first").
func (s *Server) RegisterMem(tag string, addr, size uint64, typ memreg.MemType) (memreg.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	handle, err := s.registry.Register(true, addr, size, typ, tag, nil)
	if err != nil {
		return "", err
	}
	done := make([]transport.EndpointHandle, 0, len(s.store.AllHandles()))
	for _, h := range s.store.AllHandles() {
		ep, ok := s.store.GetEndpoint(h)
		if !ok {
			continue
		}
		if _, err := ep.RegisterMem(handle, tag, addr, size, typ); err != nil {
			for _, d := range done {
				if dep, ok := s.store.GetEndpoint(d); ok {
					dep.DeregisterMem(handle)
				}
			}
			s.registry.Deregister(true, handle)
			return "", errors.Wrap(err, "hixlsrv: register mem fan-out failed")
		}
		done = append(done, h)
	}
	return handle, nil
}

// DeregisterMem removes handle from every endpoint in the store, then
// from the registry. Endpoints are visited in AllHandles order, which
// follows map iteration and is not the reverse of the order RegisterMem
// visited them in.
func (s *Server) DeregisterMem(handle memreg.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	handles := s.store.AllHandles()
	for i := len(handles) - 1; i >= 0; i-- {
		if ep, ok := s.store.GetEndpoint(handles[i]); ok {
			ep.DeregisterMem(handle)
		}
	}
	s.registry.Deregister(true, handle)
}

func toWireDesc(d transport.EndpointDesc) wirepb.EndpointDesc {
	return wirepb.EndpointDesc{
		Protocol:      d.Protocol,
		CommID:        d.CommID,
		Placement:     d.Placement,
		Plane:         d.Plane,
		DstEID:        d.DstEID,
		NetInstanceID: d.NetInstanceID,
	}
}

func toWireMemType(t memreg.MemType) wirepb.MemType {
	if t == memreg.MemDevice {
		return wirepb.MemDevice
	}
	return wirepb.MemHost
}
