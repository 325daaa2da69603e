// Copyright The Ioamp Authors
// SPDX-License-Identifier: Apache-2.0

package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platformbuilds/ioamp/internal/correlator"
	"github.com/platformbuilds/ioamp/internal/events"
)

func seedCorrelator(t *testing.T) *correlator.Correlator {
	t.Helper()
	c := correlator.New(true, 10, nil)
	c.Ingest(events.Event{Layer: events.LayerApplication, Kind: events.KindAppWrite, Size: 1, RequestID: 1, ParentRequestID: 1, TimestampNS: 10})
	c.Ingest(events.Event{Layer: events.LayerOS, Kind: events.KindOSVFSWrite, Size: 1, AlignedSize: 4096, RequestID: 1, ParentRequestID: 1, TimestampNS: 20})
	c.Ingest(events.Event{Layer: events.LayerFilesystem, Kind: events.KindFSSync, RequestID: 1, ParentRequestID: 1, TimestampNS: 30, Flags: events.Flags{IsMetadata: true}})
	c.Ingest(events.Event{Layer: events.LayerDevice, Kind: events.KindDevBioComplete, Size: 4096, AlignedSize: 4096, RequestID: 1, ParentRequestID: 1, TimestampNS: 40, Flags: events.Flags{IsJournal: true}})
	return c
}

// TestWriteSummary_HeadlineAmplificationPresent checks that the summary
// contains its title, the total-amplification headline, and the
// per-request table with the seeded request's id. It does not check where
// in the output the headline appears.
func TestWriteSummary_HeadlineAmplificationPresent(t *testing.T) {
	c := seedCorrelator(t)
	var buf bytes.Buffer
	WriteSummary(&buf, c, true, 0, 0, 0, 0)

	out := buf.String()
	assert.Contains(t, out, "I/O AMPLIFICATION ANALYSIS")
	assert.Contains(t, out, "*** TOTAL AMPLIFICATION:")
	assert.Contains(t, out, "Per-Request Amplification (Top 10):")
	assert.Contains(t, out, "0000000000000001")
}

func TestWriteSummary_IsIdempotentGivenTheSameCorrelatorState(t *testing.T) {
	c := seedCorrelator(t)
	var a, b bytes.Buffer
	WriteSummary(&a, c, true, 0, 0, 0, 0)
	WriteSummary(&b, c, true, 0, 0, 0, 0)
	assert.Equal(t, a.String(), b.String())
}

func TestWriteSummary_DropAndEvictionCountersSurface(t *testing.T) {
	c := seedCorrelator(t)
	var buf bytes.Buffer
	WriteSummary(&buf, c, true, 3, 2, 5, 1)
	out := buf.String()
	assert.Contains(t, out, "3 events dropped")
	assert.Contains(t, out, "2 flows evicted")
}

// TestWriteSummary_SaturationCountersSurface is scenario S6 from spec.md
// §8: the request-context table saturation count must be observable from
// the printed summary, not only from a Prometheus scrape.
func TestWriteSummary_SaturationCountersSurface(t *testing.T) {
	c := seedCorrelator(t)
	var buf bytes.Buffer
	WriteSummary(&buf, c, true, 0, 0, 7, 2)
	out := buf.String()
	assert.Contains(t, out, "7 requests hard-dropped")
	assert.Contains(t, out, "2 bio submissions untimed")
}

func TestWriteCSV_HeaderAndSingleAggregatedRow(t *testing.T) {
	c := seedCorrelator(t)
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, c))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2, "header + one flow row")
	assert.Equal(t, "size,operation,count,os_bytes,device_bytes,os_amp,device_amp,metadata_count", lines[0])
	assert.Contains(t, lines[1], "app_write")
}
