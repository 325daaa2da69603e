// Copyright The Ioamp Authors
// SPDX-License-Identifier: Apache-2.0

package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platformbuilds/ioamp/internal/events"
)

func TestDetectSystem(t *testing.T) {
	cases := []struct {
		comm string
		want events.SystemTag
	}{
		{"minio", events.SystemMinio},
		{"ceph-osd", events.SystemCeph},
		{"etcd", events.SystemEtcd},
		{"postgres", events.SystemPostgres},
		{"glusterfsd", events.SystemGluster},
		{"bash", events.SystemApplication},
		{"", events.SystemUnknown},
		{"   ", events.SystemUnknown},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, detectSystem(c.comm), "comm=%q", c.comm)
	}
}

func TestClassify_SelfExclusionIsMandatory(t *testing.T) {
	c := New(ModeAll, "", nil, "ioamp")
	tag, isTarget := c.Classify("ioamp", 1234)
	require.Equal(t, events.SystemApplication, tag)
	assert.False(t, isTarget, "the tracer's own comm must never be a target, regardless of mode")
}

func TestClassify_ModeOff(t *testing.T) {
	c := New(ModeOff, "minio", nil, "ioamp")
	_, isTarget := c.Classify("minio", 1)
	assert.False(t, isTarget)
}

func TestClassify_ModeByName(t *testing.T) {
	c := New(ModeByName, "minio", nil, "ioamp")
	_, isTarget := c.Classify("minio-server", 1)
	assert.True(t, isTarget)

	_, isTarget = c.Classify("postgres", 1)
	assert.False(t, isTarget)
}

func TestClassify_ModeByPID(t *testing.T) {
	c := New(ModeByPID, "", []uint32{42}, "ioamp")
	_, isTarget := c.Classify("minio", 42)
	assert.True(t, isTarget)

	_, isTarget = c.Classify("minio", 43)
	assert.False(t, isTarget)

	c.AddTargetPID(43)
	_, isTarget = c.Classify("minio", 43)
	assert.True(t, isTarget)
}

// TestClassify_NonTargetProcessExcluded is scenario S4 from spec.md §8: a
// shell writes while trace_mode=by_name "minio" is set — the shell must
// never classify as a target.
func TestClassify_NonTargetProcessExcluded(t *testing.T) {
	c := New(ModeByName, "minio", nil, "ioamp")
	_, isTarget := c.Classify("bash", 999)
	assert.False(t, isTarget)
}

func TestClassify_ModeAll(t *testing.T) {
	c := New(ModeAll, "", nil, "ioamp")
	_, isTarget := c.Classify("anything", 1)
	assert.True(t, isTarget)

	_, isTarget = c.Classify("", 1)
	assert.False(t, isTarget, "a blank comm is never a target even in all mode")
}
