package hixlsrv

import (
	"strconv"
	"strings"

	"github.com/ascend-hixl/hixl/internal/transport"
	"github.com/ascend-hixl/hixl/internal/wire"
	"github.com/ascend-hixl/hixl/internal/wirepb"
)

// fromWireDesc decodes the fixed-struct endpoint descriptor used inside
// CreateChannelReq/Resp (spec §4.1). CommID/Plane/NetInstanceID are
// numeric-or-decimal-string fields in the domain model (spec §3: "CommID:
// numeric-ID / IPv4 / IPv6 / 128-bit EID, protocol-dependent"); the
// fixed-size body round-trips the numeric forms as decimal and carries
// the EID as raw bytes.
func fromWireDesc(w wire.EndpointDescWire) transport.EndpointDesc {
	d := transport.EndpointDesc{
		Protocol:      wirepb.Protocol(w.Protocol),
		Placement:     wirepb.Placement(w.Placement),
		CommID:        strconv.FormatUint(w.CommID, 10),
		Plane:         strconv.FormatUint(uint64(w.Plane), 10),
		NetInstanceID: strconv.FormatUint(w.NetInstanceID, 10),
	}
	if w.HasDstEID {
		d.DstEID = strings.TrimRight(string(w.DstEID[:]), "\x00")
	}
	return d
}
