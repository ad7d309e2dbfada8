// Package segtable implements the per-peer, per-type segment table
// (spec §3 "Segment table"): a coalesced set of half-open ranges
// listing which regions are reachable over which transport class, used
// by the router to classify a (local_addr, remote_addr, len) triple.
//
// Supplemented from original_source/src/llm_datadist/adxl/segment_table.cc,
// which keeps this as a standalone, independently reusable type rather
// than embedding it in the client — Table is kept that way here too.
package segtable

import "sort"

// CommType is the transport class a range is reachable over (spec §4.6).
type CommType uint32

const (
	CommD2D CommType = iota // device-to-device
	CommH2D                 // host-to-device
	CommD2H                 // device-to-host
	CommH2H                 // host-to-host
	CommRoCE
)

type rng struct {
	start, end uint64 // half-open [start, end)
	class      CommType
}

// Table is a per-type coalesced set of ranges. Callers keep one Table
// per (peer, memory type) pair as spec §4.5 step 6 describes.
type Table struct {
	ranges []rng // sorted by start, non-overlapping within a class
}

// Add inserts [start, end) reachable over class, merging with adjacent
// or overlapping ranges of the *same* class (spec §3 "Insertion
// preserves sorted order").
func (t *Table) Add(start, end uint64, class CommType) {
	if start >= end {
		return
	}
	i := sort.Search(len(t.ranges), func(i int) bool { return t.ranges[i].start >= start })
	t.ranges = append(t.ranges, rng{})
	copy(t.ranges[i+1:], t.ranges[i:])
	t.ranges[i] = rng{start: start, end: end, class: class}
	t.coalesce()
}

// Remove deletes the portion of [start, end) previously added under
// class, splitting any range that only partially overlaps.
func (t *Table) Remove(start, end uint64, class CommType) {
	out := t.ranges[:0]
	for _, r := range t.ranges {
		if r.class != class || r.end <= start || r.start >= end {
			out = append(out, r)
			continue
		}
		if r.start < start {
			out = append(out, rng{start: r.start, end: start, class: r.class})
		}
		if r.end > end {
			out = append(out, rng{start: end, end: r.end, class: r.class})
		}
	}
	t.ranges = out
	sort.Slice(t.ranges, func(i, j int) bool { return t.ranges[i].start < t.ranges[j].start })
}

func (t *Table) coalesce() {
	if len(t.ranges) < 2 {
		return
	}
	out := t.ranges[:1]
	for _, r := range t.ranges[1:] {
		last := &out[len(out)-1]
		if last.class == r.class && r.start <= last.end {
			if r.end > last.end {
				last.end = r.end
			}
			continue
		}
		out = append(out, r)
	}
	t.ranges = out
}

// Lookup returns the CommType covering [addr, addr+length) in full, and
// whether such a single covering range exists (spec §4.6 classification:
// "look up local-memory type in the local segment table ...").
func (t *Table) Lookup(addr, length uint64) (CommType, bool) {
	end := addr + length
	i := sort.Search(len(t.ranges), func(i int) bool { return t.ranges[i].end > addr })
	if i == len(t.ranges) {
		return 0, false
	}
	r := t.ranges[i]
	if r.start <= addr && end <= r.end {
		return r.class, true
	}
	return 0, false
}

// Contains reports whether [addr, addr+length) is covered by any single
// range, regardless of class (used by invariant checks / tests).
func (t *Table) Contains(addr, length uint64) bool {
	_, ok := t.Lookup(addr, length)
	return ok
}

// LookupAll returns every class reachable for [addr, addr+length) in
// full. A region registered under the SetLocalMemInfo matrix (spec
// §4.5.2) is commonly reachable over more than one class at once (e.g.
// device memory over both UB-D2D and RoCE), so the router needs the
// whole set rather than Lookup's single first-match range.
func (t *Table) LookupAll(addr, length uint64) []CommType {
	end := addr + length
	var out []CommType
	for _, r := range t.ranges {
		if r.start <= addr && end <= r.end {
			out = append(out, r.class)
		}
	}
	return out
}
