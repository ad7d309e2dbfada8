package wirepb

import (
	"strings"
	"testing"
)

func TestExportedMemWireShapeIsByteArray(t *testing.T) {
	m := ExportedMem{Tag: "region", ExportDesc: ByteArray{0x10, 0x20, 0xFF}, Mem: MemDesc{Type: MemHost, Addr: 1, Size: 3}}
	b, err := MarshalRemoteMem(GetRemoteMemResp{Result: 0, MemDescs: []ExportedMem{m}})
	if err != nil {
		t.Fatalf("MarshalRemoteMem: %v", err)
	}
	if !strings.Contains(string(b), `"export_desc":[16,32,255]`) {
		t.Fatalf("wire body = %s, want a literal [u8, ...] export_desc array", b)
	}
}

func TestExportedMemRoundTrip(t *testing.T) {
	want := GetRemoteMemResp{
		Result: 0,
		MemDescs: []ExportedMem{
			{Tag: "a", ExportDesc: ByteArray{1, 2, 3}, Mem: MemDesc{Type: MemDevice, Addr: 0x1000, Size: 64}},
		},
	}
	b, err := MarshalRemoteMem(want)
	if err != nil {
		t.Fatalf("MarshalRemoteMem: %v", err)
	}
	got, err := UnmarshalRemoteMem(b)
	if err != nil {
		t.Fatalf("UnmarshalRemoteMem: %v", err)
	}
	if len(got.MemDescs) != 1 || string(got.MemDescs[0].ExportDesc) != string(want.MemDescs[0].ExportDesc) {
		t.Fatalf("round trip = %+v, want %+v", got, want)
	}
}
