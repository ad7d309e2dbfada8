// Package memsim is the engine's stand-in for the device-runtime /
// fabric-NIC primitives spec.md §1 explicitly lists as an external
// collaborator (device memory allocation, the concrete wire
// implementation of each transport). One-sided RDMA reads/writes copy
// bytes directly between registered regions without software mediation
// on the target side; memsim models that with one process-wide address
// space shared by every registered region, regardless of which
// simulated "process" (Engine) owns it, and every transport's Read/Write
// is implemented as a Copy against it.
package memsim

import (
	"sync"

	"github.com/pkg/errors"
)

var (
	mu    sync.RWMutex
	space = map[uint64][]byte{}
)

// Map registers buf as the backing store for addr. Registering the same
// addr twice with an identical length is allowed (mirrors memreg's I-3
// idempotent re-registration); a different length is rejected.
func Map(addr uint64, buf []byte) error {
	mu.Lock()
	defer mu.Unlock()
	if existing, ok := space[addr]; ok && len(existing) != len(buf) {
		return errors.Errorf("memsim: addr 0x%x already mapped with a different length", addr)
	}
	space[addr] = buf
	return nil
}

// Alloc ensures a zero-filled buffer of size exists at addr, returning
// the existing one if already present (idempotent: a region gets
// exported to several endpoints over its lifetime — once to the server
// registry, again to every channel a client opens toward it — and none
// of those re-exports may clobber bytes the caller already wrote).
func Alloc(addr, size uint64) []byte {
	mu.Lock()
	defer mu.Unlock()
	if existing, ok := space[addr]; ok && uint64(len(existing)) == size {
		return existing
	}
	buf := make([]byte, size)
	space[addr] = buf
	return buf
}

func Unmap(addr uint64) {
	mu.Lock()
	delete(space, addr)
	mu.Unlock()
}

func Get(addr uint64) ([]byte, bool) {
	mu.RLock()
	b, ok := space[addr]
	mu.RUnlock()
	return b, ok
}

// Copy moves length bytes from srcAddr's backing buffer into dstAddr's,
// the shared primitive behind every transport's one-sided Read/Write.
func Copy(dstAddr, srcAddr, length uint64) error {
	mu.RLock()
	src, ok1 := space[srcAddr]
	dst, ok2 := space[dstAddr]
	mu.RUnlock()
	if !ok1 {
		return errors.Errorf("memsim: source addr 0x%x not mapped", srcAddr)
	}
	if !ok2 {
		return errors.Errorf("memsim: destination addr 0x%x not mapped", dstAddr)
	}
	if uint64(len(src)) < length {
		return errors.Errorf("memsim: source addr 0x%x too short for %d bytes", srcAddr, length)
	}
	if uint64(len(dst)) < length {
		return errors.Errorf("memsim: destination addr 0x%x too short for %d bytes", dstAddr, length)
	}
	copy(dst[:length], src[:length])
	return nil
}
