// Copyright The Ioamp Authors
// SPDX-License-Identifier: Apache-2.0

package ebpf

import (
	"time"

	"github.com/platformbuilds/ioamp/internal/events"
)

// RequestContext is the per-task record carried across layer boundaries,
// per spec.md §3 "Request Context". It is created at application-layer
// entry for a target task and read (never mutated in place after a branch
// is recorded) by every higher-layer probe on the same task.
type RequestContext struct {
	RequestID       uint64
	ParentRequestID uint64
	OriginalSize    uint64
	StartNS         uint64
	System          events.SystemTag
	OpKind          OpKind
	BranchCount     uint32
	IsTarget        bool
}

// OpKind distinguishes the two application-level operations spec.md §3
// names for a request context.
type OpKind uint8

const (
	OpUnknown OpKind = iota
	OpGet
	OpPut
)

func (o OpKind) String() string {
	switch o {
	case OpGet:
		return "get"
	case OpPut:
		return "put"
	default:
		return "unknown"
	}
}

// BioTimingRecord is the block-I/O submit timestamp keyed by bio handle,
// per spec.md §3 "Bio Timing Record".
type BioTimingRecord struct {
	SubmitNS uint64
}

// RequestTable is the kernel-side per-task-id mapping from spec.md §4.2.
// Capacity is fixed (default 10,240 per spec.md §5); on overflow the probe
// that would have created a context instead emits request_id=0 and the
// saturation counter is incremented — TryPut (not Put) is used here
// because the spec treats table-full as a hard drop, not an
// oldest-entry eviction, for this table specifically.
type RequestTable struct {
	t *boundedTable[uint64, RequestContext]
}

func NewRequestTable(capacity int, maxAge time.Duration) *RequestTable {
	return &RequestTable{t: newBoundedTable[uint64, RequestContext](capacity, maxAge)}
}

// Create installs a new context for taskID, or returns false if the table
// is full (spec.md §4.2 "Failure semantics: if the table is full...").
func (r *RequestTable) Create(taskID uint64, ctx RequestContext) bool {
	return r.t.TryPut(taskID, ctx)
}

// Get returns the context currently installed for taskID, if any.
func (r *RequestTable) Get(taskID uint64) (RequestContext, bool) {
	return r.t.Get(taskID)
}

// Branch records taskID's context as a branch of an existing request: it
// copies the existing context, increments branch_count, and writes the
// branch back, per spec.md §4.2. Returns the context to use for the
// current probe invocation and the branch id it was assigned.
func (r *RequestTable) Branch(taskID uint64) (RequestContext, uint32, bool) {
	existing, ok := r.t.Get(taskID)
	if !ok || existing.ParentRequestID == 0 {
		return RequestContext{}, 0, false
	}
	existing.BranchCount++
	branchID := existing.BranchCount
	r.t.Put(taskID, existing)
	return existing, branchID, true
}

// Delete removes taskID's context — called on task exit or by Sweep.
func (r *RequestTable) Delete(taskID uint64) { r.t.Remove(taskID) }

// Sweep evicts entries older than the table's configured max age, the
// "periodic sweep from user space" spec.md §4.2 requires since kernel
// probes never sleep to do this themselves.
func (r *RequestTable) Sweep(now time.Time) int { return r.t.SweepOlderThan(now) }

// Len reports the number of live contexts.
func (r *RequestTable) Len() int { return r.t.Len() }

// BioTable is the kernel-side mapping from bio handle to submit timestamp,
// per spec.md §3/§4.3. Keyed by bio handle so concurrent producers never
// collide on a key (spec.md §5).
type BioTable struct {
	t *boundedTable[uint64, BioTimingRecord]
}

func NewBioTable(capacity int, maxAge time.Duration) *BioTable {
	return &BioTable{t: newBoundedTable[uint64, BioTimingRecord](capacity, maxAge)}
}

// Submit installs a timing record keyed by the bio handle, or returns false
// if the table is full (spec.md §4.3 device-layer failure semantics).
func (b *BioTable) Submit(handle uint64, rec BioTimingRecord) bool {
	return b.t.TryPut(handle, rec)
}

// Complete looks up and removes the timing record for handle, the
// "look up the timing record; if present... delete the timing record" flow
// spec.md §4.3 describes for bio_endio.
func (b *BioTable) Complete(handle uint64) (BioTimingRecord, bool) {
	rec, ok := b.t.Get(handle)
	if ok {
		b.t.Remove(handle)
	}
	return rec, ok
}

func (b *BioTable) Sweep(now time.Time) int { return b.t.SweepOlderThan(now) }

func (b *BioTable) Len() int { return b.t.Len() }
