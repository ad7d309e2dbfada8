// Package wirepb holds the JSON wire payloads shared by the control-wire
// codec, the memory registry, and the server/client (spec §3 "Endpoint
// catalog", §6 wire-protocol JSON bodies). It uses
// github.com/json-iterator/go as a drop-in, faster encoding/json
// replacement, matching the teacher's own convention.
package wirepb

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Protocol enumerates transport protocols (spec §3).
type Protocol uint32

const (
	ProtoReserved Protocol = iota
	ProtoRoCE
	ProtoHCCS
	ProtoUBCTP
	ProtoUBTP
)

func (p Protocol) String() string {
	switch p {
	case ProtoRoCE:
		return "RoCE"
	case ProtoHCCS:
		return "HCCS"
	case ProtoUBCTP:
		return "UB-CTP"
	case ProtoUBTP:
		return "UB-TP"
	default:
		return "reserved"
	}
}

// Placement enumerates where an endpoint's memory lives (spec §3
// "location").
type Placement uint32

const (
	PlacementHost Placement = iota
	PlacementDevice
)

func (p Placement) String() string {
	if p == PlacementDevice {
		return "Device"
	}
	return "Host"
}

// EndpointDesc is one entry of an endpoint catalog (spec §3, §6).
type EndpointDesc struct {
	Protocol      Protocol  `json:"protocol"`
	CommID        string    `json:"comm_id"`
	Placement     Placement `json:"placement"`
	Plane         string    `json:"plane,omitempty"`
	DstEID        string    `json:"dst_eid,omitempty"`
	NetInstanceID string    `json:"net_instance_id,omitempty"`
}

// MarshalCatalog serializes an endpoint catalog (spec §3, §6:
// "JSON for GetEndPointInfoResp is an array of ...").
func MarshalCatalog(eps []EndpointDesc) ([]byte, error) {
	b, err := json.Marshal(eps)
	return b, errors.Wrap(err, "wirepb: marshal catalog")
}

// UnmarshalCatalog parses a catalog, rejecting a non-array root and
// entries missing required fields (spec §3: "Missing required fields or
// an array root that is not an array are fatal parse errors").
func UnmarshalCatalog(data []byte) ([]EndpointDesc, error) {
	var raw []map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "wirepb: catalog root is not a JSON array")
	}
	eps := make([]EndpointDesc, 0, len(raw))
	for i, entry := range raw {
		if _, ok := entry["protocol"]; !ok {
			return nil, errors.Errorf("wirepb: catalog entry %d missing required field %q", i, "protocol")
		}
		if _, ok := entry["comm_id"]; !ok {
			return nil, errors.Errorf("wirepb: catalog entry %d missing required field %q", i, "comm_id")
		}
		if _, ok := entry["placement"]; !ok {
			return nil, errors.Errorf("wirepb: catalog entry %d missing required field %q", i, "placement")
		}
	}
	if err := json.Unmarshal(data, &eps); err != nil {
		return nil, errors.Wrap(err, "wirepb: unmarshal catalog")
	}
	return eps, nil
}

// MemType mirrors spec §3's {Host, Device} memory-descriptor type.
type MemType uint32

const (
	MemHost MemType = iota
	MemDevice
)

// MemDesc is the {type, addr, size} triple inside a GetRemoteMemResp entry.
type MemDesc struct {
	Type MemType `json:"type"`
	Addr uint64  `json:"addr"`
	Size uint64  `json:"size"`
}

// ByteArray is []byte that marshals as a literal JSON array of byte
// values rather than encoding/json's default base64 string, matching
// the wire shape spec §6 documents for export_desc.
type ByteArray []byte

func (b ByteArray) MarshalJSON() ([]byte, error) {
	ints := make([]int, len(b))
	for i, v := range b {
		ints[i] = int(v)
	}
	return json.Marshal(ints)
}

func (b *ByteArray) UnmarshalJSON(data []byte) error {
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return err
	}
	out := make([]byte, len(ints))
	for i, v := range ints {
		out[i] = byte(v)
	}
	*b = out
	return nil
}

// ExportedMem is one exported region: a tag, the transport-specific
// export blob, and its memory descriptor (spec §3 "Memory descriptor").
type ExportedMem struct {
	Tag        string    `json:"tag"`
	ExportDesc ByteArray `json:"export_desc"`
	Mem        MemDesc   `json:"mem"`
}

// GetRemoteMemResp is the full JSON body for that response (spec §6).
type GetRemoteMemResp struct {
	Result   uint32        `json:"result"`
	MemDescs []ExportedMem `json:"mem_descs"`
}

func MarshalRemoteMem(r GetRemoteMemResp) ([]byte, error) {
	b, err := json.Marshal(r)
	return b, errors.Wrap(err, "wirepb: marshal remote-mem response")
}

func UnmarshalRemoteMem(data []byte) (GetRemoteMemResp, error) {
	var r GetRemoteMemResp
	err := json.Unmarshal(data, &r)
	return r, errors.Wrap(err, "wirepb: unmarshal remote-mem response")
}
