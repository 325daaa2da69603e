// Copyright The Ioamp Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate_LayerUnknownRejected(t *testing.T) {
	ev := Event{Layer: LayerUnknown}
	assert.Error(t, ev.Validate())
}

func TestValidate_CompletionRequiresLatency(t *testing.T) {
	ev := Event{Layer: LayerDevice, Kind: KindDevBioComplete, LatencyNS: 0}
	assert.Error(t, ev.Validate())

	ev.LatencyNS = 1
	assert.NoError(t, ev.Validate())
}

func TestValidate_InodeOnlyValidForOSAndFilesystem(t *testing.T) {
	ev := Event{Layer: LayerDevice, Inode: 5}
	assert.Error(t, ev.Validate())

	ev.Layer = LayerOS
	assert.NoError(t, ev.Validate())
}

func TestValidate_BranchIDMustBeWithinCount(t *testing.T) {
	ev := Event{Layer: LayerStorageService, BranchCount: 2, BranchID: 2}
	assert.Error(t, ev.Validate())

	ev.BranchID = 1
	assert.NoError(t, ev.Validate())
}

func TestEffectiveBytes_PrefersAlignedSize(t *testing.T) {
	ev := Event{Size: 100, AlignedSize: 4096}
	assert.Equal(t, uint64(4096), ev.EffectiveBytes())

	ev.AlignedSize = 0
	assert.Equal(t, uint64(100), ev.EffectiveBytes())
}

func TestTruncateComm_TruncatePath(t *testing.T) {
	long := "this-is-a-command-name-much-longer-than-sixteen-bytes"
	assert.Len(t, TruncateComm(long), MaxCommLen)
	assert.Equal(t, "short", TruncateComm("short"))

	longPath := make([]byte, MaxPathLen+50)
	for i := range longPath {
		longPath[i] = 'a'
	}
	assert.Len(t, TruncatePath(string(longPath)), MaxPathLen)
}
