package hixl

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/ascend-hixl/hixl/internal/hixlcli"
	"github.com/ascend-hixl/hixl/internal/hixlsrv"
	"github.com/ascend-hixl/hixl/internal/hixlstatus"
	"github.com/ascend-hixl/hixl/internal/hk"
	"github.com/ascend-hixl/hixl/internal/memreg"
	"github.com/ascend-hixl/hixl/internal/nlog"
	"github.com/ascend-hixl/hixl/internal/transport"
	"github.com/ascend-hixl/hixl/internal/wirepb"
	"github.com/ascend-hixl/hixl/internal/xfer"
	"github.com/ascend-hixl/hixl/internal/xoscfg"
)

// Op selects the direction of a one-sided transfer (spec §6).
type Op int

const (
	OpRead Op = iota
	OpWrite
)

// TransferDesc is one {local, remote, len} entry of a BatchTransfer
// call (spec §6).
type TransferDesc struct {
	Local, Remote, Len uint64
}

type regionEntry struct {
	addr, size uint64
	typ        memreg.MemType
	serverH    memreg.Handle
}

// Engine is a process-wide HixlEngine (spec §4.7): one server bound to
// the local engine name, one client multiplexing every connected peer,
// and the shared registry/router/store state both sides act on.
//
// Grounded on the teacher's own single-struct-owns-everything daemon
// shape (the `ais` target/proxy runner wiring together its transport,
// cluster map, and stats in one place at startup).
type Engine struct {
	mu sync.Mutex

	cfg        *xoscfg.Config
	engineName xoscfg.EngineName

	registry *memreg.Registry
	store    *transport.EndpointStore
	router   *xfer.Router
	server   *hixlsrv.Server
	client   *hixlcli.Client
	locals   []transport.LocalEndpoint

	clientMgr *ClientManager
	regions   map[memreg.Handle]*regionEntry
	ubPeers   map[string]bool

	hk *hk.Housekeeper

	ready      bool
	finalizing atomic.Bool
}

func NewEngine() *Engine {
	return &Engine{}
}

// Initialize parses local_engine, applies options and environment
// (spec §6), builds the local endpoint catalog, and binds the server
// if local_engine names a listening port.
func (e *Engine) Initialize(localEngine string, options map[string]string) Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ready {
		return StatusFailed
	}

	en, err := xoscfg.ParseEngineName(localEngine)
	if err != nil {
		return StatusParamInvalid
	}

	if err := xoscfg.ValidateOptions(options); err != nil {
		return StatusParamInvalid
	}
	cfg := xoscfg.Default()
	cfg.FromOptions(options)
	cfg.FromEnv()
	if cfg.LogToStdout {
		nlog.SetOutput(os.Stdout)
	}

	e.cfg = cfg
	e.engineName = en
	e.registry = memreg.New()
	e.store = transport.NewEndpointStore()
	e.router = xfer.NewRouter(e.registry)
	e.clientMgr = newClientManager()
	e.regions = make(map[memreg.Handle]*regionEntry)
	e.ubPeers = make(map[string]bool)
	e.locals = nil
	e.finalizing.Store(false)
	e.hk = hk.New()

	if err := e.buildLocalEndpoints(); err != nil {
		return statusFromErr(err)
	}

	localDescs := make([]transport.EndpointDesc, len(e.locals))
	for i, l := range e.locals {
		localDescs[i] = l.Desc
	}
	e.server = hixlsrv.New(cfg, e.registry, e.store, localDescs)
	e.client = hixlcli.New(cfg, e.registry, e.store, e.router, e.locals)

	if _, err := e.server.RegisterMem(xfer.FlagRegionTag, xfer.FlagRegionAddr, 8, memreg.MemHost); err != nil {
		return statusFromErr(err)
	}

	if en.Listens {
		if err := e.server.Listen(context.Background(), en.Address()); err != nil {
			return statusFromErr(err)
		}
	}

	e.startHousekeeping()
	e.ready = true
	return StatusSuccess
}

// buildLocalEndpoints parses the LocalCommRes option (spec §6,
// "required for UB mode") into this process's endpoint catalog,
// defaulting to a single RoCE endpoint when it is absent.
func (e *Engine) buildLocalEndpoints() error {
	var catalog []wirepb.EndpointDesc
	if e.cfg.LocalCommRes != "" {
		c, err := wirepb.UnmarshalCatalog([]byte(e.cfg.LocalCommRes))
		if err != nil {
			return errors.Wrap(hixlstatus.ParamInvalid, err.Error())
		}
		catalog = c
	} else {
		catalog = []wirepb.EndpointDesc{{Protocol: wirepb.ProtoRoCE, CommID: e.engineName.Host, Placement: wirepb.PlacementHost}}
	}

	for _, d := range catalog {
		tr, err := newTransportFor(d.Protocol)
		if err != nil {
			return errors.Wrap(hixlstatus.ParamInvalid, err.Error())
		}
		desc := transport.EndpointDesc{
			Protocol:      d.Protocol,
			Placement:     d.Placement,
			CommID:        d.CommID,
			Plane:         d.Plane,
			DstEID:        d.DstEID,
			NetInstanceID: d.NetInstanceID,
		}
		h, _ := e.store.CreateEndpoint(desc, tr)
		e.locals = append(e.locals, transport.LocalEndpoint{Handle: h, Desc: desc})
	}
	return nil
}

func newTransportFor(p wirepb.Protocol) (transport.Transport, error) {
	switch p {
	case wirepb.ProtoRoCE:
		return transport.NewRoCE(), nil
	case wirepb.ProtoUBCTP:
		return transport.NewUBCTP(), nil
	case wirepb.ProtoUBTP:
		return transport.NewUBTP(), nil
	case wirepb.ProtoHCCS:
		return transport.NewHCCS(), nil
	default:
		return nil, errors.Errorf("hixl: unrecognized protocol %v in LocalCommRes", p)
	}
}

// Finalize refuses to proceed while async transfers remain posted
// (spec §5), then tears every peer, the server, and the endpoint store
// down in reverse dependency order (spec §9 "Cyclic ownership").
func (e *Engine) Finalize() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.ready {
		return StatusFailed
	}
	if e.clientMgr.pending() > 0 {
		return StatusFailed
	}
	e.finalizing.Store(true)

	for _, name := range e.client.Peers() {
		if err := e.client.Disconnect(name); err != nil {
			nlog.Warningf("hixl: finalize: disconnect %s: %v", name, err)
		}
		if e.ubPeers[name] {
			e.router.SlotPool.Release()
			delete(e.ubPeers, name)
		}
	}
	if e.server != nil {
		if err := e.server.Close(); err != nil {
			nlog.Warningf("hixl: finalize: close server: %v", err)
		}
	}
	e.store.Finalize()
	e.hk.Stop()

	e.ready = false
	return StatusSuccess
}

// RegisterMem registers a region both as a locally usable transfer
// buffer and as an endpoint-exported region peers can import (spec
// §4.3, §4.4), then propagates it to every already-connected peer
// (spec §4.7).
func (e *Engine) RegisterMem(addr, size uint64, typ memreg.MemType) (Status, memreg.Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.ready {
		return StatusFailed, ""
	}
	if size == 0 {
		return StatusParamInvalid, ""
	}
	if e.registry.CheckMemoryForRegister(false, addr, size) {
		return StatusParamInvalid, ""
	}

	tag := fmt.Sprintf("mem-%x-%x", addr, size)
	serverH, err := e.server.RegisterMem(tag, addr, size, typ)
	if err != nil {
		return statusFromErr(err), ""
	}
	clientH, err := e.registry.Register(false, addr, size, typ, tag, nil)
	if err != nil {
		e.server.DeregisterMem(serverH)
		return StatusParamInvalid, ""
	}
	e.regions[clientH] = &regionEntry{addr: addr, size: size, typ: typ, serverH: serverH}

	e.client.RegisterMem(hixlcli.LocalMemEntry{Addr: addr, Size: size, Type: typ})
	return StatusSuccess, clientH
}

// DeregisterMem is a no-op for an unknown handle (spec §8 invariant).
func (e *Engine) DeregisterMem(h memreg.Handle) Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.ready {
		return StatusFailed
	}
	entry, ok := e.regions[h]
	if !ok {
		return StatusSuccess
	}
	e.server.DeregisterMem(entry.serverH)
	e.registry.Deregister(false, h)
	delete(e.regions, h)
	return StatusSuccess
}

// Connect drives the C5 connect sequence, passing the union of
// currently registered regions (spec §4.7), then activates the
// completion-slot pool if any UB channel was paired (spec §4.7 "device
// mode").
func (e *Engine) Connect(remote string, timeoutMS uint32) Status {
	e.mu.Lock()
	if !e.ready {
		e.mu.Unlock()
		return StatusFailed
	}
	if timeoutMS == 0 {
		e.mu.Unlock()
		return StatusParamInvalid
	}
	if e.client.Connected(remote) {
		e.mu.Unlock()
		return StatusAlreadyConnected
	}
	localMem := make([]hixlcli.LocalMemEntry, 0, len(e.regions))
	for _, r := range e.regions {
		localMem = append(localMem, hixlcli.LocalMemEntry{Addr: r.addr, Size: r.size, Type: r.typ})
	}
	cfg, client, router := e.cfg, e.client, e.router
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutMS)*time.Millisecond)
	defer cancel()
	if err := client.Connect(ctx, remote, remote, localMem); err != nil {
		return statusFromErr(err)
	}

	if link := router.Peer(remote); link.HasUBChannel() {
		if err := router.SlotPool.AddRef(xfer.SlotPoolParams{Size: cfg.SlotPoolSize}); err != nil {
			client.Disconnect(remote)
			return statusFromErr(err)
		}
		e.mu.Lock()
		e.ubPeers[remote] = true
		e.mu.Unlock()
	}
	return StatusSuccess
}

// Disconnect tears one peer down and releases the completion pool
// reference taken for it, if any.
func (e *Engine) Disconnect(remote string, _ uint32) Status {
	e.mu.Lock()
	if !e.ready {
		e.mu.Unlock()
		return StatusFailed
	}
	e.mu.Unlock()

	if err := e.client.Disconnect(remote); err != nil {
		return statusFromErr(err)
	}
	e.mu.Lock()
	if e.ubPeers[remote] {
		e.router.SlotPool.Release()
		delete(e.ubPeers, remote)
	}
	e.mu.Unlock()
	return StatusSuccess
}

// TransferSync issues a BatchTransfer and blocks until it reaches a
// terminal status or timeoutMs elapses (spec §6, §4.6.1).
func (e *Engine) TransferSync(remote string, op Op, descs []TransferDesc, timeoutMS uint32) Status {
	e.mu.Lock()
	ready, router, client := e.ready, e.router, e.client
	e.mu.Unlock()
	if !ready {
		return StatusFailed
	}
	if !client.Connected(remote) {
		return StatusNotConnected
	}
	if timeoutMS == 0 || len(descs) == 0 {
		return StatusParamInvalid
	}

	locals, remotes, lens := splitDescs(descs)
	req, err := router.BatchTransfer(remote, op == OpRead, locals, remotes, lens)
	if err != nil {
		return statusFromErr(err)
	}
	st, err := xfer.TransferSync(req, time.Duration(timeoutMS)*time.Millisecond, e.finalizing.Load)
	if err != nil {
		return statusFromErr(err)
	}
	return statusFromTransferStatus(st)
}

// TransferAsync launches a BatchTransfer without waiting for
// completion, recording req's target for GetTransferStatus (spec §6).
func (e *Engine) TransferAsync(remote string, op Op, descs []TransferDesc) (Status, *Request) {
	e.mu.Lock()
	ready, router, client, mgr := e.ready, e.router, e.client, e.clientMgr
	e.mu.Unlock()
	if !ready {
		return StatusFailed, nil
	}
	if !client.Connected(remote) {
		return StatusNotConnected, nil
	}
	if len(descs) == 0 {
		return StatusParamInvalid, nil
	}

	locals, remotes, lens := splitDescs(descs)
	req, err := router.BatchTransfer(remote, op == OpRead, locals, remotes, lens)
	if err != nil {
		return statusFromErr(err), nil
	}
	mgr.track(req, remote)
	return StatusSuccess, &Request{remote: remote, inner: req}
}

// GetTransferStatus polls req once; a terminal status evicts the
// routing entry and consumes the handle (spec §7 "User-visible
// behavior").
func (e *Engine) GetTransferStatus(req *Request) (Status, TransferStatus) {
	if req == nil || req.inner == nil {
		return StatusParamInvalid, Waiting
	}
	st, err := req.inner.Poll()
	if err != nil {
		return statusFromErr(err), Waiting
	}
	if st != hixlstatus.Waiting {
		e.clientMgr.evict(req.inner)
	}
	return StatusSuccess, st
}

func splitDescs(descs []TransferDesc) (locals, remotes, lens []uint64) {
	locals = make([]uint64, len(descs))
	remotes = make([]uint64, len(descs))
	lens = make([]uint64, len(descs))
	for i, d := range descs {
		locals[i], remotes[i], lens[i] = d.Local, d.Remote, d.Len
	}
	return
}

func statusFromErr(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	if st, ok := errors.Cause(err).(hixlstatus.Status); ok {
		return st
	}
	return StatusFailed
}

func statusFromTransferStatus(st TransferStatus) Status {
	switch st {
	case Completed:
		return StatusSuccess
	case TimedOut:
		return StatusTimeout
	default:
		return StatusFailed
	}
}

const hkStatsName = "hixl-engine-stats" + hk.NameSuffix
const hkStatsInterval = 30 * time.Second

// startHousekeeping registers a periodic stats log on this engine's own
// Housekeeper rather than running a private ticker (spec §5 "Shared-
// resource policy" note on the corpus's hk-based housekeeping
// convention). Each Engine owns its Housekeeper instead of sharing
// internal/hk's process-wide DefaultHK, so Finalize can Stop it without
// disturbing any other Engine instance in the same process.
func (e *Engine) startHousekeeping() {
	go e.hk.Run()
	e.hk.Reg(hkStatsName, func() time.Duration {
		e.mu.Lock()
		regions := len(e.regions)
		e.mu.Unlock()
		nlog.Infof("hixl: %d registered regions, %d connected peers", regions, e.client.PeerCount())
		return hkStatsInterval
	}, hkStatsInterval)
}
