// Copyright The Ioamp Authors
// SPDX-License-Identifier: Apache-2.0

package ebpf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeEvent_RejectsShortBuffer(t *testing.T) {
	_, err := decodeEvent([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestCString_StopsAtFirstNUL(t *testing.T) {
	b := make([]byte, 8)
	copy(b, "abc")
	assert.Equal(t, "abc", cString(b))
}

func TestDecodeFlags(t *testing.T) {
	f := decodeFlags(flagMetadata | flagErasure)
	assert.True(t, f.IsMetadata)
	assert.True(t, f.IsErasure)
	assert.False(t, f.IsJournal)
}
