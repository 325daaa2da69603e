// Copyright The Ioamp Authors
// SPDX-License-Identifier: Apache-2.0

package ebpf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoundedTable_PutGetRemove(t *testing.T) {
	bt := newBoundedTable[string, int](4, time.Minute)

	bt.Put("a", 1)
	v, ok := bt.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 1, bt.Len())

	assert.True(t, bt.Remove("a"))
	_, ok = bt.Get("a")
	assert.False(t, ok)
	assert.False(t, bt.Remove("a"), "removing a missing key reports false")
}

func TestBoundedTable_PutEvictsOldestOnOverflow(t *testing.T) {
	bt := newBoundedTable[int, string](2, time.Minute)
	bt.Put(1, "one")
	bt.Put(2, "two")
	evicted := bt.Put(3, "three")

	assert.True(t, evicted)
	assert.Equal(t, 2, bt.Len())
	_, ok := bt.Get(1)
	assert.False(t, ok, "the oldest entry must be the one evicted")
	_, ok = bt.Get(3)
	assert.True(t, ok)
	assert.Equal(t, 1, bt.Evicted())
}

func TestBoundedTable_TryPutNeverEvicts(t *testing.T) {
	bt := newBoundedTable[int, string](1, time.Minute)
	assert.True(t, bt.TryPut(1, "one"))
	assert.False(t, bt.TryPut(2, "two"), "a full table must reject rather than evict for TryPut")
	assert.Equal(t, 0, bt.Evicted())
}

func TestBoundedTable_SweepOlderThan(t *testing.T) {
	bt := newBoundedTable[int, string](4, 10*time.Millisecond)
	bt.Put(1, "one")
	time.Sleep(20 * time.Millisecond)
	bt.Put(2, "two")

	removed := bt.SweepOlderThan(time.Now())
	assert.Equal(t, 1, removed)
	_, ok := bt.Get(1)
	assert.False(t, ok)
	_, ok = bt.Get(2)
	assert.True(t, ok)
}
