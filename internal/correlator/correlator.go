// Copyright The Ioamp Authors
// SPDX-License-Identifier: Apache-2.0

package correlator

import (
	"sync"

	"github.com/platformbuilds/ioamp/internal/events"
	"github.com/platformbuilds/ioamp/internal/selftelemetry"
)

// LayerStats is the per-layer accumulator spec.md §4.6/§8 reports on: total
// events, raw and aligned byte counts, the three flag-derived op counters,
// and the MinIO-specific sub-counters original_source prints indented
// under a layer whenever minio_events > 0.
type LayerStats struct {
	TotalEvents uint64
	TotalBytes  uint64
	AlignedBytes uint64
	MetadataOps uint64
	JournalOps  uint64
	CacheHits   uint64

	MinioEvents  uint64
	MinioBytes   uint64
	XLMetaOps    uint64
}

// AmplificationFactor is AlignedBytes / appBytes, computed relative to the
// application layer's total, per spec.md §4.6 ("amplification factor per
// layer = layer_bytes / application_bytes").
func (s LayerStats) AmplificationFactor(appBytes uint64) float64 {
	if appBytes == 0 {
		return 0
	}
	return float64(s.AlignedBytes) / float64(appBytes)
}

// Correlator is the event consumer's downstream aggregator: every ingested
// event updates the global per-layer statistics, and — when correlation
// mode is enabled and the event carries a non-zero request_id — the
// per-request flow table from flow.go.
type Correlator struct {
	mu     sync.Mutex
	layers [6]LayerStats // indexed by events.Layer

	correlationEnabled bool
	flows              *Table

	st *selftelemetry.Metrics
}

func New(correlationEnabled bool, flowTableCapacity int, st *selftelemetry.Metrics) *Correlator {
	return &Correlator{
		correlationEnabled: correlationEnabled,
		flows:              NewTable(flowTableCapacity),
		st:                 st,
	}
}

// Ingest updates global layer statistics and, if applicable, the flow
// table, for a single event. Safe for concurrent use, though in practice a
// single consumer goroutine calls this serially (spec.md §4.5).
func (c *Correlator) Ingest(ev events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ls := &c.layers[ev.Layer]
	ls.TotalEvents++
	ls.TotalBytes += ev.Size
	ls.AlignedBytes += ev.EffectiveBytes()
	if ev.Flags.IsMetadata {
		ls.MetadataOps++
	}
	if ev.Flags.IsJournal {
		ls.JournalOps++
	}
	if ev.Flags.CacheHit {
		ls.CacheHits++
	}
	if ev.System == events.SystemMinio {
		ls.MinioEvents++
		ls.MinioBytes += ev.EffectiveBytes()
		if ev.Flags.IsMetadata && ev.Layer == events.LayerStorageService {
			ls.XLMetaOps++
		}
	}

	if !c.correlationEnabled || ev.RequestID == 0 {
		return
	}

	evictedBefore := c.flows.Evicted()
	rec := c.flows.getOrCreate(ev.RequestID)
	if evictedAfter := c.flows.Evicted(); c.st != nil && evictedAfter > evictedBefore {
		c.st.FlowTableEvictions.Add(float64(evictedAfter - evictedBefore))
	}
	c.updateFlow(rec, ev)
}

// updateFlow applies one event to a flow record's running accumulators.
// First-sight fields (ParentRequestID, System, OpKind, Path) are filled on
// the first event that carries them and never overwritten afterward — the
// "first non-empty value wins" tie-break spec.md §4.6 specifies for fields
// that should be stable across a request's lifetime.
func (c *Correlator) updateFlow(rec *FlowRecord, ev events.Event) {
	if rec.ParentRequestID == 0 {
		rec.ParentRequestID = ev.ParentRequestID
	}
	if rec.System == events.SystemUnknown {
		rec.System = ev.System
	}
	if rec.Path == "" && ev.Path != "" {
		rec.Path = ev.Path
	}
	if rec.StartNS == 0 || ev.TimestampNS < rec.StartNS {
		rec.StartNS = ev.TimestampNS
	}
	if ev.TimestampNS > rec.EndNS {
		rec.EndNS = ev.TimestampNS
	}
	if ev.BranchCount > rec.BranchCount {
		rec.BranchCount = ev.BranchCount
	}
	rec.BranchesSeen[ev.BranchID] = struct{}{}

	if ev.BranchCount > 1 {
		bs, ok := rec.Branches[ev.BranchID]
		if !ok {
			bs = &BranchStat{}
			rec.Branches[ev.BranchID] = bs
		}
		switch {
		case ev.Layer == events.LayerOS:
			bs.VFSOps++
		case ev.Layer == events.LayerDevice && ev.Kind == events.KindDevBioSubmit:
			bs.BioSubmits++
		case ev.Layer == events.LayerDevice && ev.Kind == events.KindDevBioComplete:
			bs.BioCompletes++
		}
		if ev.Flags.IsMetadata {
			bs.MetadataOps++
		}
		if ev.Flags.IsJournal {
			bs.JournalOps++
		}
	}

	switch ev.Layer {
	case events.LayerApplication:
		rec.AppBytes += ev.Size
		if rec.OpKind == events.KindUnknown {
			rec.OpKind = ev.Kind
		}
	case events.LayerStorageService:
		rec.StorageBytes += ev.EffectiveBytes()
	case events.LayerOS:
		rec.OSBytes += ev.EffectiveBytes()
	case events.LayerFilesystem:
		rec.FSBytes += ev.EffectiveBytes()
	case events.LayerDevice:
		if ev.Kind == events.KindDevBioComplete {
			rec.DeviceBytes += ev.EffectiveBytes()
			if _, seen := rec.branchesCompleted[ev.BranchID]; !seen {
				rec.branchesCompleted[ev.BranchID] = struct{}{}
				rec.CompletedBranches++
			}
		}
	}
	if ev.Flags.IsMetadata {
		rec.MetadataOps++
	}
	if ev.Flags.IsJournal {
		rec.JournalOps++
	}
	if ev.Flags.CacheHit {
		rec.CacheHits++
	}
	if ev.System == events.SystemMinio {
		rec.IsMinio = true
	}
}

// LayerStats returns a snapshot of the accumulator for layer.
func (c *Correlator) LayerStats(layer events.Layer) LayerStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.layers[layer]
}

// AppBytesTotal returns the application layer's total byte count, the
// denominator every amplification factor is computed against.
func (c *Correlator) AppBytesTotal() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.layers[events.LayerApplication].TotalBytes
}

// Flows returns the flow table for report generation.
func (c *Correlator) Flows() *Table { return c.flows }

// FlowTableEvictions reports how many flows were evicted for capacity.
// Ingest also adds each eviction to the self-telemetry FlowTableEvictions
// counter when metrics are configured.
func (c *Correlator) FlowTableEvictions() uint64 { return c.flows.Evicted() }
