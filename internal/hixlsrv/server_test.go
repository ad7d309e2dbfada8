package hixlsrv_test

import (
	"testing"

	"github.com/ascend-hixl/hixl/internal/hixlsrv"
	"github.com/ascend-hixl/hixl/internal/memreg"
	"github.com/ascend-hixl/hixl/internal/transport"
	"github.com/ascend-hixl/hixl/internal/transport/memsim"
	"github.com/ascend-hixl/hixl/internal/wirepb"
	"github.com/ascend-hixl/hixl/internal/xoscfg"
)

// TestRegisterMemFanOutAndDeregister covers the C4 half of spec §4.4:
// RegisterMem replicates across every endpoint present and returns one
// handle; DeregisterMem must remove it from the registry and every
// endpoint's export list.
func TestRegisterMemFanOutAndDeregister(t *testing.T) {
	registry := memreg.New()
	store := transport.NewEndpointStore()

	descA := transport.EndpointDesc{Protocol: wirepb.ProtoRoCE, CommID: "a"}
	descB := transport.EndpointDesc{Protocol: wirepb.ProtoRoCE, CommID: "b"}
	store.CreateEndpoint(descA, transport.NewRoCE())
	store.CreateEndpoint(descB, transport.NewRoCE())

	s := hixlsrv.New(xoscfg.Default(), registry, store, []transport.EndpointDesc{descA, descB})

	const addr, size = 0x9000, 8
	handle, err := s.RegisterMem("tag", addr, size, memreg.MemHost)
	if err != nil {
		t.Fatalf("RegisterMem: %v", err)
	}
	if _, ok := memsim.Get(addr); !ok {
		t.Fatalf("region not allocated in memsim")
	}
	if _, ok := registry.Lookup(true, handle); !ok {
		t.Fatalf("handle not present in registry after RegisterMem")
	}

	for _, h := range store.AllHandles() {
		ep, _ := store.GetEndpoint(h)
		found := false
		for _, r := range ep.ExportMem() {
			if r.Handle == handle {
				found = true
			}
		}
		if !found {
			t.Fatalf("endpoint %v missing fanned-out region", h)
		}
	}

	s.DeregisterMem(handle)
	if _, ok := registry.Lookup(true, handle); ok {
		t.Fatalf("handle still present in registry after DeregisterMem")
	}
	for _, h := range store.AllHandles() {
		ep, _ := store.GetEndpoint(h)
		for _, r := range ep.ExportMem() {
			if r.Handle == handle {
				t.Fatalf("endpoint %v still exports region after DeregisterMem", h)
			}
		}
	}
}

// TestRegisterMemDuplicateOverlapRejected covers spec §8 scenario 3 at
// the server layer: a second overlapping region is rejected and the
// first registration is left untouched.
func TestRegisterMemDuplicateOverlapRejected(t *testing.T) {
	registry := memreg.New()
	store := transport.NewEndpointStore()
	s := hixlsrv.New(xoscfg.Default(), registry, store, nil)

	if _, err := s.RegisterMem("first", 0x1000, 16, memreg.MemHost); err != nil {
		t.Fatalf("first RegisterMem: %v", err)
	}
	if _, err := s.RegisterMem("second", 0x1008, 16, memreg.MemHost); err == nil {
		t.Fatalf("overlapping RegisterMem succeeded, want rejection")
	}
	if !registry.CheckMemoryForRegister(true, 0x1004, 4) {
		t.Fatalf("first region no longer present after rejected overlap")
	}
}
