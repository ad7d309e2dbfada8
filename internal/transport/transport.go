// Package transport implements the endpoint (spec §4.2) and the
// Transport interface design note from spec §9: "the variety of
// transports is naturally expressed as an interface Transport ... the
// match-and-route logic in C6 becomes a table from CommType to
// transport instance."
package transport

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/ascend-hixl/hixl/internal/memreg"
	"github.com/ascend-hixl/hixl/internal/segtable"
	"github.com/ascend-hixl/hixl/internal/wirepb"
)

// EndpointDesc identifies one transport presence of a process (spec §3).
type EndpointDesc struct {
	Protocol      wirepb.Protocol
	Placement     wirepb.Placement
	CommID        string // numeric-ID / IPv4 / IPv6 / 128-bit EID, protocol-dependent
	Plane         string // optional logical fabric partition
	DstEID        string // optional peer endpoint identifier used for pairing
	NetInstanceID string // superpod membership tag
}

// LocalEndpoint pairs a process-local Endpoint's store handle with the
// descriptor it advertises, the shape the endpoint-pairing algorithm
// (spec §4.5.1) needs for its local list L.
type LocalEndpoint struct {
	Handle EndpointHandle
	Desc   EndpointDesc
}

// ChannelState is the lifecycle described in spec §3 "Channel".
type ChannelState int32

const (
	StateCreating ChannelState = iota
	StateReady
	StateDestroyed
)

func (s ChannelState) String() string {
	switch s {
	case StateCreating:
		return "Creating"
	case StateReady:
		return "Ready"
	case StateDestroyed:
		return "Destroyed"
	default:
		return "Unknown"
	}
}

// Channel is a transport-specific point-to-point conduit (spec §3).
type Channel interface {
	ID() uint64
	CommType() segtable.CommType
	Remote() EndpointDesc
	state() *channelState
}

// Transport is the per-protocol driver interface (spec §9).
type Transport interface {
	Protocol() wirepb.Protocol
	CreateChannel(local, remote EndpointDesc) (Channel, error)
	// Status returns 0 when the channel is Ready, matching the spec's
	// GetChannelStatus int32 contract (0 = Ready).
	Status(ch Channel) int32
	RegisterMem(tag string, addr, size uint64, typ memreg.MemType) (exportBlob []byte, err error)
	// Import decodes a peer's export blob, returning the region it
	// describes. In this engine's simulated fabric, importing does not
	// allocate new local memory: one-sided ops address the shared
	// simulated address space directly (see internal/transport/memsim).
	Import(exportBlob []byte) (addr, size uint64, err error)
	Read(ch Channel, localAddr, remoteAddr, length uint64) error
	Write(ch Channel, localAddr, remoteAddr, length uint64) error
	Fence(ch Channel) error
	Destroy(ch Channel) error
}

// EncodeExportBlob packs (addr, size) into the transport-specific bytes
// a peer needs to reconstruct an addressable handle (spec §3 "export
// blob"). All four simulated transports share this encoding; only the
// Protocol tag on the owning Endpoint distinguishes them.
func EncodeExportBlob(addr, size uint64) []byte {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[0:8], addr)
	binary.BigEndian.PutUint64(b[8:16], size)
	return b
}

func DecodeExportBlob(blob []byte) (addr, size uint64, err error) {
	if len(blob) != 16 {
		return 0, 0, errors.Errorf("transport: malformed export blob (len=%d)", len(blob))
	}
	return binary.BigEndian.Uint64(blob[0:8]), binary.BigEndian.Uint64(blob[8:16]), nil
}
