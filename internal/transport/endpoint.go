package transport

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/ascend-hixl/hixl/internal/memreg"
)

// ExportedRegion is returned by ExportMem (spec §4.2).
type ExportedRegion struct {
	Handle     memreg.Handle
	Tag        string
	ExportBlob []byte
	Mem        memreg.Region
}

// Endpoint is an opaque per-transport communication handle (spec §4.2):
// it owns the regions registered against it and the channels it has
// opened. One mutex covers the registration and channel maps; channel
// readiness polling (Status) is deliberately done outside the lock.
type Endpoint struct {
	Desc EndpointDesc
	tr   Transport

	mu       sync.Mutex
	regions  map[memreg.Handle]memreg.Region
	channels map[uint64]Channel
}

func NewEndpoint(desc EndpointDesc, tr Transport) *Endpoint {
	return &Endpoint{
		Desc:     desc,
		tr:       tr,
		regions:  make(map[memreg.Handle]memreg.Region),
		channels: make(map[uint64]Channel),
	}
}

func (e *Endpoint) Transport() Transport { return e.tr }

// RegisterMem registers a region against this endpoint's transport and
// records it locally so ExportMem can publish it later.
func (e *Endpoint) RegisterMem(handle memreg.Handle, tag string, addr, size uint64, typ memreg.MemType) ([]byte, error) {
	blob, err := e.tr.RegisterMem(tag, addr, size, typ)
	if err != nil {
		return nil, errors.Wrap(err, "endpoint: register mem")
	}
	e.mu.Lock()
	e.regions[handle] = memreg.Region{Handle: handle, Addr: addr, Size: size, Type: typ, Tag: tag, ExportBlob: blob}
	e.mu.Unlock()
	return blob, nil
}

func (e *Endpoint) DeregisterMem(handle memreg.Handle) {
	e.mu.Lock()
	delete(e.regions, handle)
	e.mu.Unlock()
}

// ExportMem lists every region registered on this endpoint (spec §4.2,
// used to answer GetRemoteMemReq).
func (e *Endpoint) ExportMem() []ExportedRegion {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ExportedRegion, 0, len(e.regions))
	for h, r := range e.regions {
		out = append(out, ExportedRegion{Handle: h, Tag: r.Tag, ExportBlob: r.ExportBlob, Mem: r})
	}
	return out
}

// CreateChannel opens a channel toward remote and tracks it.
func (e *Endpoint) CreateChannel(remote EndpointDesc) (Channel, error) {
	ch, err := e.tr.CreateChannel(e.Desc, remote)
	if err != nil {
		return nil, errors.Wrap(err, "endpoint: create channel")
	}
	e.mu.Lock()
	e.channels[ch.ID()] = ch
	e.mu.Unlock()
	return ch, nil
}

// GetChannelStatus polls driver readiness without holding e.mu (spec §4.2).
func (e *Endpoint) GetChannelStatus(ch Channel) int32 { return e.tr.Status(ch) }

func (e *Endpoint) DestroyChannel(ch Channel) error {
	e.mu.Lock()
	delete(e.channels, ch.ID())
	e.mu.Unlock()
	return e.tr.Destroy(ch)
}

func (e *Endpoint) Channels() []Channel {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Channel, 0, len(e.channels))
	for _, ch := range e.channels {
		out = append(out, ch)
	}
	return out
}

// MemImport decodes a peer's export blob into the (addr, size) it
// describes (spec §4.2 MemImport → local view).
func (e *Endpoint) MemImport(exportBlob []byte) (addr, size uint64, err error) {
	addr, size, err = e.tr.Import(exportBlob)
	if err != nil {
		return 0, 0, errors.Wrap(err, "endpoint: import mem")
	}
	return addr, size, nil
}
