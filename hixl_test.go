package hixl_test

import (
	"net"
	"strconv"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/ascend-hixl/hixl"
	"github.com/ascend-hixl/hixl/internal/memreg"
	"github.com/ascend-hixl/hixl/internal/transport/memsim"
)

// freePort finds an ephemeral TCP port by briefly binding to it, the
// standard way Go tests pick an address before the real listener binds.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("freePort: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// newTestEngine builds a RoCE-only engine (no LocalCommRes catalog
// option). Forcing RoCE mirrors the env the spec's pairing algorithm
// requires for a plain single-transport engine to connect at all
// (spec §4.5.1 step 1): with matching, empty net_instance_id on both
// sides and no UB endpoints offered, the UB branch would otherwise
// never find a channel to pair.
func newTestEngine(t *testing.T, port int) *hixl.Engine {
	t.Helper()
	t.Setenv("HCCL_INTRA_ROCE_ENABLE", "1")
	e := hixl.NewEngine()
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	if st := e.Initialize(addr, nil); st != hixl.StatusSuccess {
		t.Fatalf("Initialize(%s): %v", addr, st)
	}
	t.Cleanup(func() { e.Finalize() })
	return e
}

// TestLoopbackWrite covers scenario 1: engine A registers a host region
// containing a known value, connects to engine B, and WRITEs it into a
// region B registered (spec §8 scenario 1).
func TestLoopbackWrite(t *testing.T) {
	portA, portB := freePort(t), freePort(t)
	a := newTestEngine(t, portA)
	b := newTestEngine(t, portB)

	const srcAddr, dstAddr, size = 0x2000, 0x3000, 4
	stA, srcH := a.RegisterMem(srcAddr, size, memreg.MemHost)
	if stA != hixl.StatusSuccess {
		t.Fatalf("A.RegisterMem: %v", stA)
	}
	defer a.DeregisterMem(srcH)
	stB, dstH := b.RegisterMem(dstAddr, size, memreg.MemHost)
	if stB != hixl.StatusSuccess {
		t.Fatalf("B.RegisterMem: %v", stB)
	}
	defer b.DeregisterMem(dstH)

	src, ok := memsim.Get(srcAddr)
	if !ok {
		t.Fatalf("src region not mapped after RegisterMem")
	}
	copy(src, []byte{2, 0, 0, 0})

	remoteB := net.JoinHostPort("127.0.0.1", strconv.Itoa(portB))
	if st := a.Connect(remoteB, 2000); st != hixl.StatusSuccess {
		t.Fatalf("Connect: %v", st)
	}
	defer a.Disconnect(remoteB, 0)

	st := a.TransferSync(remoteB, hixl.OpWrite, []hixl.TransferDesc{{Local: srcAddr, Remote: dstAddr, Len: size}}, 2000)
	if st != hixl.StatusSuccess {
		t.Fatalf("TransferSync: %v", st)
	}

	dst, ok := memsim.Get(dstAddr)
	if !ok {
		t.Fatalf("dst region not mapped")
	}
	if dst[0] != 2 {
		t.Fatalf("dst[0] = %d, want 2", dst[0])
	}
}

// TestDoubleConnectRejected covers scenario 5: a second Connect to an
// already-connected peer returns ALREADY_CONNECTED without side effects
// (spec §8 scenario 5).
func TestDoubleConnectRejected(t *testing.T) {
	portA, portB := freePort(t), freePort(t)
	a := newTestEngine(t, portA)
	_ = newTestEngine(t, portB)

	remoteB := net.JoinHostPort("127.0.0.1", strconv.Itoa(portB))
	if st := a.Connect(remoteB, 2000); st != hixl.StatusSuccess {
		t.Fatalf("first Connect: %v", st)
	}
	defer a.Disconnect(remoteB, 0)

	if st := a.Connect(remoteB, 2000); st != hixl.StatusAlreadyConnected {
		t.Fatalf("second Connect = %v, want AlreadyConnected", st)
	}
}

// TestOverlappingRegisterRejected covers scenario 3: registering a
// region that overlaps an already-registered one is rejected with
// PARAM_INVALID and leaves the original region intact (spec §8
// scenario 3).
func TestOverlappingRegisterRejected(t *testing.T) {
	port := freePort(t)
	e := newTestEngine(t, port)

	st, h := e.RegisterMem(0x4000, 16, memreg.MemHost)
	if st != hixl.StatusSuccess {
		t.Fatalf("first RegisterMem: %v", st)
	}
	defer e.DeregisterMem(h)

	if st, _ := e.RegisterMem(0x4008, 16, memreg.MemHost); st != hixl.StatusParamInvalid {
		t.Fatalf("overlapping RegisterMem = %v, want ParamInvalid", st)
	}
}

// TestTransferToUnconnectedPeer ensures TransferSync against a peer
// never Connect'd to returns NOT_CONNECTED rather than blocking.
func TestTransferToUnconnectedPeer(t *testing.T) {
	port := freePort(t)
	e := newTestEngine(t, port)

	st := e.TransferSync("127.0.0.1:1", hixl.OpWrite, []hixl.TransferDesc{{Local: 1, Remote: 1, Len: 1}}, 100)
	if st != hixl.StatusNotConnected {
		t.Fatalf("TransferSync to unconnected peer = %v, want NotConnected", st)
	}
}

// TestFinalizeRefusesWithPendingAsync covers the Finalize-refusal half
// of scenario 4: an outstanding async request blocks Finalize until its
// status is collected.
func TestFinalizeRefusesWithPendingAsync(t *testing.T) {
	portA, portB := freePort(t), freePort(t)
	a := newTestEngine(t, portA)
	b := newTestEngine(t, portB)

	const srcAddr, dstAddr, size = 0x5000, 0x6000, 4
	_, srcH := a.RegisterMem(srcAddr, size, memreg.MemHost)
	defer a.DeregisterMem(srcH)
	_, dstH := b.RegisterMem(dstAddr, size, memreg.MemHost)
	defer b.DeregisterMem(dstH)

	remoteB := net.JoinHostPort("127.0.0.1", strconv.Itoa(portB))
	if st := a.Connect(remoteB, 2000); st != hixl.StatusSuccess {
		t.Fatalf("Connect: %v", st)
	}

	st, req := a.TransferAsync(remoteB, hixl.OpWrite, []hixl.TransferDesc{{Local: srcAddr, Remote: dstAddr, Len: size}})
	if st != hixl.StatusSuccess {
		t.Fatalf("TransferAsync: %v", st)
	}

	if st := a.Finalize(); st != hixl.StatusFailed {
		t.Fatalf("Finalize with pending async = %v, want Failed", st)
	}

	deadline := time.Now().Add(time.Second)
	for {
		st, tst := a.GetTransferStatus(req)
		if st != hixl.StatusSuccess {
			t.Fatalf("GetTransferStatus: %v", st)
		}
		if tst == hixl.Completed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("transfer never completed")
		}
		time.Sleep(time.Millisecond)
	}

	a.Disconnect(remoteB, 0)
	if st := a.Finalize(); st != hixl.StatusSuccess {
		t.Fatalf("Finalize after draining async: %v", st)
	}
}

// TestEngineLifecycleLeavesNoGoroutines runs a full Initialize/Connect/
// TransferSync/Disconnect/Finalize cycle across two engines and asserts
// no goroutine outlives it — in particular the per-engine housekeeping
// loop started by startHousekeeping, which Finalize must stop rather
// than leaving running against a Housekeeper nobody will ever Reg again.
func TestEngineLifecycleLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t)

	portA, portB := freePort(t), freePort(t)
	a := newTestEngine(t, portA)
	b := newTestEngine(t, portB)

	const srcAddr, dstAddr, size = 0x7000, 0x8000, 4
	_, srcH := a.RegisterMem(srcAddr, size, memreg.MemHost)
	_, dstH := b.RegisterMem(dstAddr, size, memreg.MemHost)

	remoteB := net.JoinHostPort("127.0.0.1", strconv.Itoa(portB))
	if st := a.Connect(remoteB, 2000); st != hixl.StatusSuccess {
		t.Fatalf("Connect: %v", st)
	}
	if st := a.TransferSync(remoteB, hixl.OpWrite, []hixl.TransferDesc{{Local: srcAddr, Remote: dstAddr, Len: size}}, 2000); st != hixl.StatusSuccess {
		t.Fatalf("TransferSync: %v", st)
	}

	a.DeregisterMem(srcH)
	b.DeregisterMem(dstH)
	a.Disconnect(remoteB, 0)

	if st := a.Finalize(); st != hixl.StatusSuccess {
		t.Fatalf("a.Finalize: %v", st)
	}
	if st := b.Finalize(); st != hixl.StatusSuccess {
		t.Fatalf("b.Finalize: %v", st)
	}
}
