// Copyright The Ioamp Authors
// SPDX-License-Identifier: Apache-2.0

// Package correlator implements the user-space Correlator / Flow Tracking
// component of spec.md §4.6: it owns the flow table and the per-layer
// statistics accumulators, both exclusively user-space state (no kernel
// table is ever shared across the boundary — only events.Event crosses the
// ring). This package never imports internal/ebpf; it consumes the typed
// event stream the ring already carries, kernel-real or simulated.
package correlator

import (
	"container/list"
	"sync"

	"github.com/platformbuilds/ioamp/internal/events"
)

// FlowRecord is the per-request accumulator spec.md §4.6 describes: one
// record per distinct request_id seen, updated in place by every later
// event that carries the same id, until the correlator evicts it.
type FlowRecord struct {
	RequestID       uint64
	ParentRequestID uint64
	System          events.SystemTag
	OpKind          events.Kind // KindAppRead or KindAppWrite, whichever created the flow
	Path            string      // first non-empty path wins

	StartNS uint64
	EndNS   uint64

	AppBytes     uint64
	StorageBytes uint64
	OSBytes      uint64
	FSBytes      uint64
	DeviceBytes  uint64

	MetadataOps uint64
	JournalOps  uint64
	CacheHits   uint64

	BranchCount       uint32
	BranchesSeen      map[uint32]struct{}
	CompletedBranches uint32
	branchesCompleted map[uint32]struct{}
	Branches          map[uint32]*BranchStat

	IsMinio bool
}

// BranchStat accumulates the per-branch VFS/bio/metadata/journal counters
// spec.md §6(c) requires annotated on each branched row of the correlation
// table — one entry per erasure shard branch of a request.
type BranchStat struct {
	VFSOps       uint64
	BioSubmits   uint64
	BioCompletes uint64
	MetadataOps  uint64
	JournalOps   uint64
}

// AmplificationFactor returns deviceBytes / appBytes, falling back to
// fsBytes then osBytes when the device layer never reported for this
// request (spec.md §4.6's "final_bytes" fallback ladder, matching
// original_source's print_amplification_summary per-request loop).
func (f *FlowRecord) AmplificationFactor() float64 {
	if f.AppBytes == 0 {
		return 0
	}
	total := f.totalBytes()
	return float64(total) / float64(f.AppBytes)
}

func (f *FlowRecord) totalBytes() uint64 {
	if f.DeviceBytes > 0 {
		return f.DeviceBytes
	}
	if f.FSBytes > 0 {
		return f.FSBytes
	}
	return f.OSBytes
}

// flowEntry wraps a FlowRecord with its position in the insertion-order
// list — when the flow table is at capacity the flow with the oldest
// StartNS is evicted, and insertion order breaks ties between equal start
// times (spec.md §4.6), the same bounded+oldest-eviction
// shape internal/ebpf's boundedTable uses for the kernel-side tables,
// reimplemented here since correlator must not import internal/ebpf.
type flowEntry struct {
	rec *FlowRecord
	el  *list.Element
}

// Table is the bounded flow table: a fixed-capacity map from request_id to
// FlowRecord with oldest-eviction on overflow (spec.md §4.6).
type Table struct {
	mu       sync.Mutex
	capacity int
	entries  map[uint64]*flowEntry
	order    *list.List
	evicted  uint64
}

func NewTable(capacity int) *Table {
	if capacity <= 0 {
		capacity = 1
	}
	return &Table{
		capacity: capacity,
		entries:  make(map[uint64]*flowEntry, capacity),
		order:    list.New(),
	}
}

// getOrCreate returns the flow for requestID, creating it (and evicting the
// oldest entry if the table is full) on first sight.
func (t *Table) getOrCreate(requestID uint64) *FlowRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.entries[requestID]; ok {
		return e.rec
	}

	if len(t.entries) >= t.capacity {
		t.evictOldestLocked()
	}

	rec := &FlowRecord{
		RequestID:         requestID,
		BranchesSeen:      make(map[uint32]struct{}),
		branchesCompleted: make(map[uint32]struct{}),
		Branches:          make(map[uint32]*BranchStat),
	}
	el := t.order.PushBack(requestID)
	t.entries[requestID] = &flowEntry{rec: rec, el: el}
	return rec
}

func (t *Table) evictOldestLocked() {
	var oldest *list.Element
	for el := t.order.Front(); el != nil; el = el.Next() {
		if oldest == nil || t.entries[el.Value.(uint64)].rec.StartNS < t.entries[oldest.Value.(uint64)].rec.StartNS {
			oldest = el
		}
	}
	if oldest == nil {
		return
	}
	id := oldest.Value.(uint64)
	delete(t.entries, id)
	t.order.Remove(oldest)
	t.evicted++
}

// Get returns the flow for requestID without creating it.
func (t *Table) Get(requestID uint64) (FlowRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[requestID]
	if !ok {
		return FlowRecord{}, false
	}
	return *e.rec, true
}

// Len reports the number of live flows.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Evicted reports how many flows were dropped to stay within capacity.
func (t *Table) Evicted() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.evicted
}

// All returns a snapshot of every live flow in the order the flows were
// first seen (not sorted by StartNS); the summary report's per-request
// table sorts this snapshot by start time itself (spec.md §8 "Top 10"
// correlation table).
func (t *Table) All() []FlowRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]FlowRecord, 0, len(t.entries))
	for el := t.order.Front(); el != nil; el = el.Next() {
		id := el.Value.(uint64)
		out = append(out, *t.entries[id].rec)
	}
	return out
}
