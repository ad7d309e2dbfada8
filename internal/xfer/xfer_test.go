package xfer_test

import (
	"testing"
	"time"

	"github.com/ascend-hixl/hixl/internal/hixlstatus"
	"github.com/ascend-hixl/hixl/internal/memreg"
	"github.com/ascend-hixl/hixl/internal/segtable"
	"github.com/ascend-hixl/hixl/internal/transport"
	"github.com/ascend-hixl/hixl/internal/transport/memsim"
	"github.com/ascend-hixl/hixl/internal/xfer"
)

func setupPeer(t *testing.T, class segtable.CommType, localAddr, remoteAddr, size uint64) (*xfer.Router, *memreg.Registry) {
	t.Helper()
	registry := memreg.New()
	if _, err := registry.Register(false, localAddr, size, memreg.MemHost, "local", nil); err != nil {
		t.Fatalf("register local: %v", err)
	}
	if _, err := registry.Register(true, remoteAddr, size, memreg.MemHost, "remote", nil); err != nil {
		t.Fatalf("register remote: %v", err)
	}
	memsim.Alloc(localAddr, size)
	memsim.Alloc(remoteAddr, size)

	tr := transport.NewRoCE()
	ch, err := tr.CreateChannel(transport.EndpointDesc{}, transport.EndpointDesc{})
	if err != nil {
		t.Fatalf("create channel: %v", err)
	}

	r := xfer.NewRouter(registry)
	link := r.Peer("peer-a")
	link.LocalSeg.Add(localAddr, localAddr+size, class)
	link.RemoteSeg.Add(remoteAddr, remoteAddr+size, class)
	link.Channels[class] = xfer.ChannelBinding{Channel: ch, Transport: tr}
	return r, registry
}

func TestBatchTransferRoCEPut(t *testing.T) {
	const localAddr, remoteAddr, size = 0x1000, 0x2000, 64
	r, _ := setupPeer(t, segtable.CommRoCE, localAddr, remoteAddr, size)

	local, _ := memsim.Get(localAddr)
	local[0] = 7

	req, err := r.BatchTransfer("peer-a", false /* PUT */, []uint64{localAddr}, []uint64{remoteAddr}, []uint64{size})
	if err != nil {
		t.Fatalf("BatchTransfer: %v", err)
	}
	st, err := xfer.TransferSync(req, time.Second, nil)
	if err != nil {
		t.Fatalf("TransferSync: %v", err)
	}
	if st != hixlstatus.Completed {
		t.Fatalf("status = %v, want Completed", st)
	}

	remote, _ := memsim.Get(remoteAddr)
	if remote[0] != 7 {
		t.Fatalf("remote[0] = %d, want 7", remote[0])
	}

	st2, err := req.Poll()
	if err != hixlstatus.ParamInvalid {
		t.Fatalf("second poll err = %v, want ParamInvalid", err)
	}
	_ = st2
}

func TestBatchTransferUnreachableTriple(t *testing.T) {
	r, registry := setupPeer(t, segtable.CommD2D, 0x1000, 0x2000, 64)
	// Registered so ValidateMemoryAccess passes, but never added to the
	// local segment table, so classification finds no covering channel.
	if _, err := registry.Register(false, 0x9000, 64, memreg.MemHost, "unreachable", nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	memsim.Alloc(0x9000, 64)

	_, err := r.BatchTransfer("peer-a", true, []uint64{0x9000}, []uint64{0x2000}, []uint64{64})
	if err == nil {
		t.Fatal("expected error for a triple no channel reaches")
	}
}

func TestSlotPoolExhaustion(t *testing.T) {
	pool := xfer.NewSlotPool()
	if err := pool.AddRef(xfer.SlotPoolParams{Size: 2}); err != nil {
		t.Fatalf("AddRef: %v", err)
	}
	defer pool.Release()

	s1, err := pool.Acquire()
	if err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	if _, err := pool.Acquire(); err != nil {
		t.Fatalf("acquire 2: %v", err)
	}
	if _, err := pool.Acquire(); err != hixlstatus.ResourceExhausted {
		t.Fatalf("acquire 3 err = %v, want ResourceExhausted", err)
	}

	s1.Index() // sanity: slot returned a valid index
}

func TestFlagQueueAcquirePollReclaim(t *testing.T) {
	q := xfer.NewFlagQueue(2)
	idx, ok := q.Acquire()
	if !ok {
		t.Fatal("expected free index")
	}
	if q.Poll(idx) {
		t.Fatal("poll before Set should be false")
	}
	q.Set(idx)
	if !q.Poll(idx) {
		t.Fatal("poll after Set should be true")
	}
	idx2, _ := q.Acquire()
	q.Reclaim(idx2)
}
