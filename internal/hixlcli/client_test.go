package hixlcli

import (
	"context"
	"net"
	"strconv"
	"testing"

	"github.com/ascend-hixl/hixl/internal/hixlsrv"
	"github.com/ascend-hixl/hixl/internal/memreg"
	"github.com/ascend-hixl/hixl/internal/transport"
	"github.com/ascend-hixl/hixl/internal/wirepb"
	"github.com/ascend-hixl/hixl/internal/xfer"
	"github.com/ascend-hixl/hixl/internal/xoscfg"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("freePort: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// TestConnectImportsBuiltinFlagRegion covers the host-path completion
// flag's wiring: the server registers FlagRegionTag on every local
// endpoint (Engine.Initialize), so a client connecting to it must come
// away with a non-zero PeerLink.RemoteFlag instead of always skipping
// the flag-read (spec §4.6 "Host path").
func TestConnectImportsBuiltinFlagRegion(t *testing.T) {
	cfg := xoscfg.Default()
	cfg.ForceRoCE = true // both sides offer only a RoCE endpoint; see newTestEngine in hixl_test.go

	descB := transport.EndpointDesc{Protocol: wirepb.ProtoRoCE, CommID: "b"}
	registryB := memreg.New()
	storeB := transport.NewEndpointStore()
	storeB.CreateEndpoint(descB, transport.NewRoCE())
	serverB := hixlsrv.New(cfg, registryB, storeB, []transport.EndpointDesc{descB})
	if _, err := serverB.RegisterMem(xfer.FlagRegionTag, xfer.FlagRegionAddr, 8, memreg.MemHost); err != nil {
		t.Fatalf("RegisterMem(builtin flag region): %v", err)
	}
	port := freePort(t)
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	if err := serverB.Listen(context.Background(), addr); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer serverB.Close()

	descA := transport.EndpointDesc{Protocol: wirepb.ProtoRoCE, CommID: "a"}
	registryA := memreg.New()
	storeA := transport.NewEndpointStore()
	hA, _ := storeA.CreateEndpoint(descA, transport.NewRoCE())
	routerA := xfer.NewRouter(registryA)
	clientA := New(cfg, registryA, storeA, routerA, []transport.LocalEndpoint{{Handle: hA, Desc: descA}})

	if err := clientA.Connect(context.Background(), "b", addr, nil); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer clientA.Disconnect("b")

	link := routerA.Peer("b")
	if link.RemoteFlag == 0 {
		t.Fatalf("RemoteFlag not imported; builtin flag region never registered on the server")
	}
}
