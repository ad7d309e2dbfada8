package wire

import "encoding/binary"

// MsgType discriminates control-message bodies (spec §4.1).
type MsgType uint32

const (
	MsgGetEndPointInfoReq MsgType = iota + 1
	MsgGetEndPointInfoResp
	MsgCreateChannelReq
	MsgCreateChannelResp
	MsgGetRemoteMemReq
	MsgGetRemoteMemResp
	MsgDestroyChannelReq
)

func (t MsgType) String() string {
	switch t {
	case MsgGetEndPointInfoReq:
		return "GetEndPointInfoReq"
	case MsgGetEndPointInfoResp:
		return "GetEndPointInfoResp"
	case MsgCreateChannelReq:
		return "CreateChannelReq"
	case MsgCreateChannelResp:
		return "CreateChannelResp"
	case MsgGetRemoteMemReq:
		return "GetRemoteMemReq"
	case MsgGetRemoteMemResp:
		return "GetRemoteMemResp"
	case MsgDestroyChannelReq:
		return "DestroyChannelReq"
	default:
		return "Unknown"
	}
}

// EndpointDescWire is the wire shape of one endpoint in CreateChannelReq
// (a fixed-struct body, not JSON — the catalog itself is JSON, but a
// single descriptor exchanged during pairing is small and fixed-shape).
type EndpointDescWire struct {
	Protocol      uint32
	Placement     uint32
	CommID        uint64
	Plane         uint32
	DstEID        [16]byte
	HasDstEID     bool
	NetInstanceID uint64
}

func (e EndpointDescWire) encode() []byte {
	b := make([]byte, 4+4+8+4+16+1+8)
	o := 0
	binary.BigEndian.PutUint32(b[o:], e.Protocol)
	o += 4
	binary.BigEndian.PutUint32(b[o:], e.Placement)
	o += 4
	binary.BigEndian.PutUint64(b[o:], e.CommID)
	o += 8
	binary.BigEndian.PutUint32(b[o:], e.Plane)
	o += 4
	copy(b[o:o+16], e.DstEID[:])
	o += 16
	if e.HasDstEID {
		b[o] = 1
	}
	o++
	binary.BigEndian.PutUint64(b[o:], e.NetInstanceID)
	return b
}

func decodeEndpointDescWire(b []byte) (e EndpointDescWire, n int) {
	o := 0
	e.Protocol = binary.BigEndian.Uint32(b[o:])
	o += 4
	e.Placement = binary.BigEndian.Uint32(b[o:])
	o += 4
	e.CommID = binary.BigEndian.Uint64(b[o:])
	o += 8
	e.Plane = binary.BigEndian.Uint32(b[o:])
	o += 4
	copy(e.DstEID[:], b[o:o+16])
	o += 16
	e.HasDstEID = b[o] == 1
	o++
	e.NetInstanceID = binary.BigEndian.Uint64(b[o:])
	o += 8
	return e, o
}

// CreateChannelReqBody: {src, dst EndpointDescWire}.
type CreateChannelReqBody struct {
	Src EndpointDescWire
	Dst EndpointDescWire
}

func (b CreateChannelReqBody) Encode() []byte {
	return append(b.Src.encode(), b.Dst.encode()...)
}

func DecodeCreateChannelReqBody(buf []byte) CreateChannelReqBody {
	src, n := decodeEndpointDescWire(buf)
	dst, _ := decodeEndpointDescWire(buf[n:])
	return CreateChannelReqBody{Src: src, Dst: dst}
}

// CreateChannelRespBody: {result u32, dst_ep_handle u64}.
type CreateChannelRespBody struct {
	Result      uint32
	DstEPHandle uint64
}

func (b CreateChannelRespBody) Encode() []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint32(buf[0:4], b.Result)
	binary.BigEndian.PutUint64(buf[4:12], b.DstEPHandle)
	return buf
}

func DecodeCreateChannelRespBody(buf []byte) CreateChannelRespBody {
	return CreateChannelRespBody{
		Result:      binary.BigEndian.Uint32(buf[0:4]),
		DstEPHandle: binary.BigEndian.Uint64(buf[4:12]),
	}
}

// GetRemoteMemReqBody: {dst_ep_handle u64}.
type GetRemoteMemReqBody struct {
	DstEPHandle uint64
}

func (b GetRemoteMemReqBody) Encode() []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, b.DstEPHandle)
	return buf
}

func DecodeGetRemoteMemReqBody(buf []byte) GetRemoteMemReqBody {
	return GetRemoteMemReqBody{DstEPHandle: binary.BigEndian.Uint64(buf)}
}
