// Package memreg implements the memory registry (spec §3 "Memory
// descriptor", §4.3): per-process maps of registered regions, overlap
// detection, and access validation for every transfer.
package memreg

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// MemType mirrors spec §3's {Host, Device}.
type MemType uint32

const (
	MemHost MemType = iota
	MemDevice
)

// Handle is the opaque identifier returned to callers (spec §3 "a
// region is identified to users by an opaque MemHandle"). Generated
// with github.com/google/uuid rather than a counter, so handles remain
// opaque and collision-free across processes.
type Handle string

// Region is one registered memory range.
type Region struct {
	Handle     Handle
	Addr       uint64
	Size       uint64
	Type       MemType
	Tag        string
	ExportBlob []byte
}

func (r Region) end() uint64 { return r.Addr + r.Size }

type roleMap struct {
	mu      sync.RWMutex
	regions map[uint64]*Region // keyed by start address
	sorted  []uint64           // sorted keys, kept in sync with regions
}

func newRoleMap() *roleMap {
	return &roleMap{regions: make(map[uint64]*Region)}
}

// Registry holds the two disjoint maps described in spec §4.3.
type Registry struct {
	server *roleMap // regions published to peers
	client *roleMap // regions usable as local buffers
}

func New() *Registry {
	return &Registry{server: newRoleMap(), client: newRoleMap()}
}

func (g *Registry) mapFor(isServer bool) *roleMap {
	if isServer {
		return g.server
	}
	return g.client
}

// overlaps reports whether [addr, addr+size) overlaps any existing
// range, checking both the immediate successor and predecessor per
// spec §4.3's CheckMemoryForRegister. Must be called with rm.mu held.
func (rm *roleMap) overlaps(addr, size uint64) bool {
	end := addr + size
	idx := sort.Search(len(rm.sorted), func(i int) bool { return rm.sorted[i] >= addr })

	// successor (lower_bound)
	if idx < len(rm.sorted) {
		succ := rm.regions[rm.sorted[idx]]
		if succ.Addr < end && addr < succ.end() {
			return true
		}
	}
	// predecessor
	if idx > 0 {
		pred := rm.regions[rm.sorted[idx-1]]
		if pred.Addr < end && addr < pred.end() {
			return true
		}
	}
	return false
}

// CheckMemoryForRegister reports true iff [addr, addr+size) overlaps an
// existing range in the selected map (server or client). Zero-length
// ranges are rejected by the caller before this is invoked; an exact
// duplicate of an existing range is not treated as an overlap (I-3).
func (g *Registry) CheckMemoryForRegister(isServer bool, addr, size uint64) bool {
	rm := g.mapFor(isServer)
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	if existing, ok := rm.regions[addr]; ok && existing.Size == size {
		return false // exact duplicate: not an overlap (I-3)
	}
	return rm.overlaps(addr, size)
}

// Register inserts a region, enforcing I-1 (no overlap) and I-3
// (idempotent re-registration of an identical range returns the prior
// handle). Returns the assigned (or prior) handle.
func (g *Registry) Register(isServer bool, addr, size uint64, typ MemType, tag string, exportBlob []byte) (Handle, error) {
	if size == 0 {
		return "", errors.New("memreg: zero-length region rejected")
	}
	rm := g.mapFor(isServer)
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if existing, ok := rm.regions[addr]; ok {
		if existing.Size == size && existing.Type == typ {
			return existing.Handle, nil // I-3: idempotent
		}
		return "", errors.Errorf("memreg: address 0x%x already registered with a different size/type", addr)
	}
	if rm.overlaps(addr, size) {
		return "", errors.Errorf("memreg: [0x%x, 0x%x) overlaps an existing region", addr, addr+size)
	}

	r := &Region{
		Handle:     Handle(uuid.NewString()),
		Addr:       addr,
		Size:       size,
		Type:       typ,
		Tag:        tag,
		ExportBlob: exportBlob,
	}
	rm.regions[addr] = r
	rm.sorted = insertSorted(rm.sorted, addr)
	return r.Handle, nil
}

// Deregister removes a region by handle. Deregistering an unknown
// handle is a no-op (spec §8 invariant).
func (g *Registry) Deregister(isServer bool, h Handle) {
	rm := g.mapFor(isServer)
	rm.mu.Lock()
	defer rm.mu.Unlock()
	for addr, r := range rm.regions {
		if r.Handle == h {
			delete(rm.regions, addr)
			rm.sorted = removeSorted(rm.sorted, addr)
			return
		}
	}
}

// Lookup returns the region with the given handle, if any.
func (g *Registry) Lookup(isServer bool, h Handle) (Region, bool) {
	rm := g.mapFor(isServer)
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	for _, r := range rm.regions {
		if r.Handle == h {
			return *r, true
		}
	}
	return Region{}, false
}

// All returns a snapshot of every region in the selected map.
func (g *Registry) All(isServer bool) []Region {
	rm := g.mapFor(isServer)
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	out := make([]Region, 0, len(rm.sorted))
	for _, addr := range rm.sorted {
		out = append(out, *rm.regions[addr])
	}
	return out
}

// ValidateMemoryAccess succeeds only if [remoteAddr, remoteAddr+len) is
// fully contained in some server region and [localAddr, localAddr+len)
// is fully contained in some client region (spec §4.3).
func (g *Registry) ValidateMemoryAccess(remoteAddr, length, localAddr uint64) error {
	if !g.server.contains(remoteAddr, length) {
		return errors.Errorf("memreg: remote range [0x%x, 0x%x) not covered by any server region", remoteAddr, remoteAddr+length)
	}
	if !g.client.contains(localAddr, length) {
		return errors.Errorf("memreg: local range [0x%x, 0x%x) not covered by any client region", localAddr, localAddr+length)
	}
	return nil
}

func (rm *roleMap) contains(addr, size uint64) bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	end := addr + size
	idx := sort.Search(len(rm.sorted), func(i int) bool { return rm.sorted[i] > addr })
	if idx == 0 {
		return false
	}
	r := rm.regions[rm.sorted[idx-1]]
	return r.Addr <= addr && end <= r.end()
}

func insertSorted(s []uint64, v uint64) []uint64 {
	i := sort.Search(len(s), func(i int) bool { return s[i] >= v })
	s = append(s, 0)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

func removeSorted(s []uint64, v uint64) []uint64 {
	i := sort.Search(len(s), func(i int) bool { return s[i] >= v })
	if i < len(s) && s[i] == v {
		s = append(s[:i], s[i+1:]...)
	}
	return s
}
