// Copyright The Ioamp Authors
// SPDX-License-Identifier: Apache-2.0

package ebpf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestTable_CreateGetDelete(t *testing.T) {
	rt := NewRequestTable(4, time.Minute)
	ctx := RequestContext{RequestID: 1, ParentRequestID: 1, OriginalSize: 128, OpKind: OpPut, IsTarget: true}
	require.True(t, rt.Create(100, ctx))

	got, ok := rt.Get(100)
	require.True(t, ok)
	assert.Equal(t, ctx.RequestID, got.RequestID)
	assert.Equal(t, 1, rt.Len())

	rt.Delete(100)
	_, ok = rt.Get(100)
	assert.False(t, ok)
}

// TestRequestTable_SaturationYieldsHardFailure is scenario S6 from spec.md
// §8: spawning more concurrent target requests than the table's capacity
// must make Create return false for the overflow population — the caller
// is responsible for emitting request_id=0 on that signal.
func TestRequestTable_SaturationYieldsHardFailure(t *testing.T) {
	rt := NewRequestTable(2, time.Minute)
	require.True(t, rt.Create(1, RequestContext{RequestID: 1}))
	require.True(t, rt.Create(2, RequestContext{RequestID: 2}))
	assert.False(t, rt.Create(3, RequestContext{RequestID: 3}), "table is at capacity, the third create must fail")

	assert.Equal(t, 2, rt.Len())
}

func TestRequestTable_Branch(t *testing.T) {
	rt := NewRequestTable(4, time.Minute)
	rt.Create(1, RequestContext{RequestID: 10, ParentRequestID: 10})

	_, branchID, ok := rt.Branch(1)
	require.True(t, ok)
	assert.Equal(t, uint32(1), branchID)

	_, branchID, ok = rt.Branch(1)
	require.True(t, ok)
	assert.Equal(t, uint32(2), branchID)

	ctx, ok := rt.Get(1)
	require.True(t, ok)
	assert.Equal(t, uint32(2), ctx.BranchCount)
}

func TestRequestTable_BranchRequiresExistingParent(t *testing.T) {
	rt := NewRequestTable(4, time.Minute)
	_, _, ok := rt.Branch(999)
	assert.False(t, ok, "branching a task with no installed context must fail")

	rt.Create(1, RequestContext{RequestID: 5, ParentRequestID: 0})
	_, _, ok = rt.Branch(1)
	assert.False(t, ok, "a context with no parent cannot be branched")
}

func TestRequestTable_Sweep(t *testing.T) {
	rt := NewRequestTable(4, 10*time.Millisecond)
	rt.Create(1, RequestContext{RequestID: 1})
	time.Sleep(20 * time.Millisecond)
	removed := rt.Sweep(time.Now())
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, rt.Len())
}

func TestBioTable_SubmitComplete(t *testing.T) {
	bt := NewBioTable(2, time.Minute)
	require.True(t, bt.Submit(1, BioTimingRecord{SubmitNS: 1000}))

	rec, ok := bt.Complete(1)
	require.True(t, ok)
	assert.Equal(t, uint64(1000), rec.SubmitNS)

	_, ok = bt.Complete(1)
	assert.False(t, ok, "completing an already-completed handle must fail")
}

func TestBioTable_SaturationFailsSubmit(t *testing.T) {
	bt := NewBioTable(1, time.Minute)
	require.True(t, bt.Submit(1, BioTimingRecord{SubmitNS: 1}))
	assert.False(t, bt.Submit(2, BioTimingRecord{SubmitNS: 2}))
}
