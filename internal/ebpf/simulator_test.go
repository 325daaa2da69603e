// Copyright The Ioamp Authors
// SPDX-License-Identifier: Apache-2.0

package ebpf

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platformbuilds/ioamp/internal/classify"
	"github.com/platformbuilds/ioamp/internal/config"
	"github.com/platformbuilds/ioamp/internal/correlator"
	"github.com/platformbuilds/ioamp/internal/events"
	"github.com/platformbuilds/ioamp/internal/ring"
	"github.com/platformbuilds/ioamp/internal/selftelemetry"
)

func drainAll(r *ring.Ring, c *correlator.Correlator) int {
	n := 0
	for {
		ev, ok := r.Pop()
		if !ok {
			return n
		}
		c.Ingest(ev)
		n++
	}
}

// TestSimulator_ProducesFullLayerChain covers the shape of scenario S1/S2
// from spec.md §8: a target write must yield a request_id-correlated chain
// spanning application through device, with OS-layer alignment and a
// journal-tagged small device submit.
func TestSimulator_ProducesFullLayerChain(t *testing.T) {
	cfg := config.Default()
	cfg.TraceMode = classify.ModeAll
	cfg.TraceMetadata = true
	cfg.JournalThresholdBytes = 8 * 1024
	r := ring.New(4096)
	clf := classify.New(cfg.TraceMode, cfg.TargetComm, cfg.TargetPIDs, "ioamp")
	reqTable := NewRequestTable(cfg.RequestTableCapacity, cfg.ContextMaxAge)
	bioTable := NewBioTable(cfg.BioTableCapacity, cfg.ContextMaxAge)

	sim := NewSimulator(cfg, clf, reqTable, bioTable, r, nil, discardLogger(), 1)
	for i := 0; i < 20; i++ {
		sim.emitOneRequest()
	}

	corr := correlator.New(true, 1000, nil)
	n := drainAll(r, corr)
	require.Greater(t, n, 0)

	app := corr.LayerStats(events.LayerApplication)
	dev := corr.LayerStats(events.LayerDevice)
	assert.Greater(t, app.TotalEvents, uint64(0))
	assert.Greater(t, dev.TotalEvents, uint64(0))
	assert.Greater(t, dev.JournalOps, uint64(0), "small writes below the journal threshold must be tagged is_journal")

	flows := corr.Flows().All()
	require.NotEmpty(t, flows)
	for _, f := range flows {
		assert.NotZero(t, f.RequestID)
		assert.Greater(t, f.AppBytes, uint64(0))
	}
}

// TestSimulator_RequestTableSaturationEmitsZeroIDEvent is scenario S6 from
// spec.md §8: once the request-context table is full, the application
// layer must still emit an event for the overflow population, tagged
// request_id=0, rather than silently dropping the request.
func TestSimulator_RequestTableSaturationEmitsZeroIDEvent(t *testing.T) {
	cfg := config.Default()
	cfg.TraceMode = classify.ModeAll
	cfg.RequestTableCapacity = 1
	r := ring.New(1024)
	clf := classify.New(cfg.TraceMode, cfg.TargetComm, cfg.TargetPIDs, "ioamp")
	reqTable := NewRequestTable(cfg.RequestTableCapacity, cfg.ContextMaxAge)
	bioTable := NewBioTable(cfg.BioTableCapacity, cfg.ContextMaxAge)
	st := selftelemetry.NewMetrics("ioamp_test_saturation")

	// Occupy the table's single slot so the simulator's own Create fails.
	require.True(t, reqTable.Create(999999, RequestContext{RequestID: 1, ParentRequestID: 1}))

	sim := NewSimulator(cfg, clf, reqTable, bioTable, r, st, discardLogger(), 2)
	sim.emitOneRequest()

	ev, ok := r.Pop()
	require.True(t, ok)
	assert.Equal(t, uint64(0), ev.RequestID)
	assert.Equal(t, events.LayerApplication, ev.Layer)
}

// TestLoader_FallsBackToSimulatorWhenObjectUnattachable exercises the
// graceful-degradation contract spec.md §4.3/§9 requires: with no working
// compiled probe object available, Start must never return an error and
// must report Simulated()==true.
func TestLoader_FallsBackToSimulatorWhenObjectUnattachable(t *testing.T) {
	cfg := config.Default()
	cfg.TraceMode = classify.ModeAll
	r := ring.New(256)
	clf := classify.New(cfg.TraceMode, cfg.TargetComm, cfg.TargetPIDs, "ioamp")
	reqTable := NewRequestTable(cfg.RequestTableCapacity, cfg.ContextMaxAge)
	bioTable := NewBioTable(cfg.BioTableCapacity, cfg.ContextMaxAge)
	st := selftelemetry.NewMetrics("ioamp_test_loader")

	loader := NewLoader(cfg, clf, reqTable, bioTable, r, st, discardLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	stop, err := loader.Start(ctx)
	require.NoError(t, err)
	require.True(t, loader.Simulated())
	<-ctx.Done()
	stop()
}
