// Copyright The Ioamp Authors
// SPDX-License-Identifier: Apache-2.0

package consumer

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platformbuilds/ioamp/internal/correlator"
	"github.com/platformbuilds/ioamp/internal/events"
	"github.com/platformbuilds/ioamp/internal/ring"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestConsumer_DrainsRemainingEventsOnCancel is scenario S5 from spec.md
// §8: a graceful shutdown must not silently lose events already sitting in
// the ring at the moment of cancellation.
func TestConsumer_DrainsRemainingEventsOnCancel(t *testing.T) {
	r := ring.New(16)
	for i := 0; i < 5; i++ {
		require.True(t, r.TryReserve(events.Event{Layer: events.LayerApplication, Size: uint64(i + 1)}))
	}

	corr := correlator.New(false, 10, nil)
	c := New(r, corr, nil, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // already cancelled: Run should drain then return immediately

	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	assert.Equal(t, uint64(5), c.Received())
	assert.Equal(t, uint64(15), corr.LayerStats(events.LayerApplication).TotalBytes)
}
