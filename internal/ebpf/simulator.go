// Copyright The Ioamp Authors
// SPDX-License-Identifier: Apache-2.0

package ebpf

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync/atomic"
	"time"

	"github.com/platformbuilds/ioamp/internal/classify"
	"github.com/platformbuilds/ioamp/internal/config"
	"github.com/platformbuilds/ioamp/internal/events"
	"github.com/platformbuilds/ioamp/internal/ring"
	"github.com/platformbuilds/ioamp/internal/selftelemetry"
)

const (
	pageSize   = 4096
	sectorSize = 512
	dataShards = 2
	parityShards = 2
)

// Simulator produces the same typed event stream a real attached probe set
// would, without ever touching the kernel — the fallback path spec.md
// §4.3/§9 requires when the object cannot be loaded or attached (no
// privilege, no BTF, no compiled program). It walks a single synthetic
// request at a time through every layer, in the order original_source's
// probes fire for a MinIO PUT/GET: application entry, storage-service
// metadata/erasure touches, OS VFS read/write, filesystem sync, device bio
// submit/complete.
type Simulator struct {
	cfg        config.Config
	classifier *classify.Classifier
	reqTable   *RequestTable
	bioTable   *BioTable
	ring       *ring.Ring
	st         *selftelemetry.Metrics
	log        *slog.Logger
	rng        *rand.Rand

	nextTaskID atomic.Uint64
	nextBio    atomic.Uint64
	simClockNS atomic.Uint64
}

func NewSimulator(cfg config.Config, classifier *classify.Classifier, reqTable *RequestTable, bioTable *BioTable, r *ring.Ring, st *selftelemetry.Metrics, log *slog.Logger, seed int64) *Simulator {
	s := &Simulator{
		cfg:        cfg,
		classifier: classifier,
		reqTable:   reqTable,
		bioTable:   bioTable,
		ring:       r,
		st:         st,
		log:        log.With("component", "ebpf_simulator"),
		rng:        rand.New(rand.NewSource(seed)),
	}
	s.simClockNS.Store(uint64(time.Now().UnixNano()))
	return s
}

// Run drives the simulator until ctx is cancelled, emitting a new request
// roughly every interval. It never returns an error: a saturated table or a
// full ring are expected, counted operating conditions, not faults.
func (s *Simulator) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 20 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info("event simulator running", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.emitOneRequest()
		}
	}
}

func (s *Simulator) now() uint64 {
	return s.simClockNS.Add(uint64(50_000 + s.rng.Intn(200_000)))
}

func (s *Simulator) simComm() string {
	switch s.classifier.Mode() {
	case classify.ModeByName:
		return events.TruncateComm(s.cfg.TargetComm)
	default:
		return "minio"
	}
}

// emitOneRequest synthesizes one application-level GET or PUT and every
// downstream layer event it causes, per original_source's per-layer probe
// bodies.
func (s *Simulator) emitOneRequest() {
	taskID := s.nextTaskID.Add(1)
	pid := uint32(20000 + taskID%5000)
	comm := s.simComm()

	system, isTarget := s.classifier.Classify(comm, pid)
	if !isTarget {
		return
	}

	op := OpGet
	if s.rng.Intn(2) == 0 {
		op = OpPut
	}
	appSize := uint64(4096 + s.rng.Intn(256*1024))
	startNS := s.now()
	requestID := (taskID << 32) | (startNS & 0xFFFFFFFF)

	ctx := RequestContext{
		RequestID:       requestID,
		ParentRequestID: requestID,
		OriginalSize:    appSize,
		StartNS:         startNS,
		System:          system,
		OpKind:          op,
		IsTarget:        true,
	}
	if !s.reqTable.Create(taskID, ctx) {
		if s.st != nil {
			s.st.IncRequestTableSaturated()
		}
		s.publish(events.Event{
			TimestampNS: startNS, PID: pid, TID: pid,
			Layer: events.LayerApplication, Kind: appKind(op), System: system,
			Size: appSize, Comm: comm, RequestID: 0,
		})
		return
	}

	objectPath := s.objectPath(comm)
	s.publish(events.Event{
		TimestampNS: startNS, PID: pid, TID: pid,
		Layer: events.LayerApplication, Kind: appKind(op), System: system,
		Size: appSize, Comm: comm, Path: objectPath,
		RequestID: requestID, ParentRequestID: requestID,
	})

	if s.cfg.TraceMetadata && op == OpPut {
		s.emitMetadataTouch(taskID, pid, comm, system, requestID, objectPath)
	}

	if s.cfg.TraceErasure && op == OpPut {
		s.emitErasureShards(taskID, pid, comm, system, requestID, appSize, objectPath)
	} else {
		s.emitOSAndBelow(pid, comm, system, requestID, requestID, 0, 1, op, appSize, objectPath, false)
	}

	s.reqTable.Delete(taskID)
}

func (s *Simulator) objectPath(comm string) string {
	base := s.cfg.DataDir
	if base == "" {
		base = "/data/bucket"
	}
	return events.TruncatePath(fmt.Sprintf("%s/object-%d/part.1", base, s.rng.Intn(1000)))
}

func (s *Simulator) emitMetadataTouch(taskID uint64, pid uint32, comm string, system events.SystemTag, requestID uint64, objectPath string) {
	metaPath := events.TruncatePath(strings.TrimSuffix(objectPath, "/part.1") + "/xl.meta")
	ts := s.now()
	s.publish(events.Event{
		TimestampNS: ts, PID: pid, TID: pid,
		Layer: events.LayerStorageService, Kind: events.KindStorageMetadataTouch, System: system,
		Size: 512, AlignedSize: pageSize, Comm: comm, Path: metaPath,
		RequestID: requestID, ParentRequestID: requestID,
		Flags: events.Flags{IsMetadata: true, InlineMetadata: true},
	})
	s.emitOSAndBelow(pid, comm, system, requestID, requestID, 0, 1, OpPut, 512, metaPath, true)
}

// emitErasureShards fans an object write out across dataShards+parityShards,
// each recorded as a branch of the parent request context — the
// "request-context branching" spec.md §4.2/§9 describes for erasure-coded
// writes.
func (s *Simulator) emitErasureShards(taskID uint64, pid uint32, comm string, system events.SystemTag, requestID uint64, appSize uint64, objectPath string) {
	total := dataShards + parityShards
	shardSize := appSize / uint64(dataShards)
	if shardSize == 0 {
		shardSize = 1
	}

	for i := 0; i < total; i++ {
		_, branchID, ok := s.reqTable.Branch(taskID)
		if !ok {
			break
		}
		branchCount, _ := func() (uint32, bool) {
			c, ok := s.reqTable.Get(taskID)
			return c.BranchCount, ok
		}()

		shardPath := events.TruncatePath(fmt.Sprintf("%s.shard%d", objectPath, i))
		isParity := i >= dataShards
		ts := s.now()
		s.publish(events.Event{
			TimestampNS: ts, PID: pid, TID: pid + uint32(i) + 1,
			Layer: events.LayerStorageService, Kind: events.KindStorageErasureTouch, System: system,
			Size: shardSize, Comm: comm, Path: shardPath,
			RequestID: requestID, ParentRequestID: requestID,
			BranchID: branchID - 1, BranchCount: branchCount,
			Flags: events.Flags{IsErasure: true, IsParity: isParity},
		})

		s.emitOSAndBelow(pid+uint32(i)+1, comm, system, requestID, requestID, branchID-1, branchCount, OpPut, shardSize, shardPath, false)
	}
}

// emitOSAndBelow emits the VFS, filesystem-sync, and device-layer events for
// a single logical write/read of size bytes at path, tagging the branch
// fields through so the correlator can attribute device bytes back to the
// right shard.
func (s *Simulator) emitOSAndBelow(pid uint32, comm string, system events.SystemTag, requestID, parentID uint64, branchID, branchCount uint32, op OpKind, size uint64, path string, metaOnly bool) {
	aligned := roundUp(size, pageSize)
	inode := uint64(900000) + uint64(pid)

	osKind := events.KindOSVFSWrite
	if op == OpGet {
		osKind = events.KindOSVFSRead
	}
	ts := s.now()
	s.publish(events.Event{
		TimestampNS: ts, PID: pid, TID: pid,
		Layer: events.LayerOS, Kind: osKind, System: system,
		Size: size, AlignedSize: aligned, Inode: inode, Comm: comm, Path: path,
		RequestID: requestID, ParentRequestID: parentID, BranchID: branchID, BranchCount: branchCount,
		Flags: events.Flags{IsMetadata: metaOnly},
	})

	if op == OpPut {
		ts = s.now()
		s.publish(events.Event{
			TimestampNS: ts, PID: pid, TID: pid,
			Layer: events.LayerFilesystem, Kind: events.KindFSSync, System: system,
			Inode: inode, Comm: comm, Path: path,
			RequestID: requestID, ParentRequestID: parentID, BranchID: branchID, BranchCount: branchCount,
			Flags: events.Flags{IsMetadata: true},
		})
	}

	devAligned := roundUp(aligned, sectorSize)
	isJournal := devAligned < s.cfg.JournalThresholdBytes

	bioHandle := s.nextBio.Add(1)
	submitNS := s.now()
	if !s.bioTable.Submit(bioHandle, BioTimingRecord{SubmitNS: submitNS}) {
		if s.st != nil {
			s.st.IncBioTableSaturated()
		}
		s.publish(events.Event{
			TimestampNS: submitNS, PID: pid, TID: pid,
			Layer: events.LayerDevice, Kind: events.KindDevBioSubmit, System: system,
			Size: devAligned, AlignedSize: devAligned, Comm: comm, Path: path,
			RequestID: requestID, ParentRequestID: parentID, BranchID: branchID, BranchCount: branchCount,
			DevMajor: 8, DevMinor: 1,
			Flags: events.Flags{IsJournal: isJournal, IsMetadata: metaOnly},
		})
		return
	}

	s.publish(events.Event{
		TimestampNS: submitNS, PID: pid, TID: pid,
		Layer: events.LayerDevice, Kind: events.KindDevBioSubmit, System: system,
		Size: devAligned, AlignedSize: devAligned, Comm: comm, Path: path,
		RequestID: requestID, ParentRequestID: parentID, BranchID: branchID, BranchCount: branchCount,
		DevMajor: 8, DevMinor: 1,
		Flags: events.Flags{IsJournal: isJournal, IsMetadata: metaOnly},
	})

	rec, ok := s.bioTable.Complete(bioHandle)
	completeNS := s.now()
	var latency uint64
	if ok {
		latency = completeNS - rec.SubmitNS
	} else {
		latency = 1
	}
	s.publish(events.Event{
		TimestampNS: completeNS, PID: pid, TID: pid,
		Layer: events.LayerDevice, Kind: events.KindDevBioComplete, System: system,
		Size: devAligned, AlignedSize: devAligned, LatencyNS: latency, Comm: comm, Path: path,
		RequestID: requestID, ParentRequestID: parentID, BranchID: branchID, BranchCount: branchCount,
		DevMajor: 8, DevMinor: 1,
		Flags: events.Flags{IsJournal: isJournal, IsMetadata: metaOnly},
	})
}

func (s *Simulator) publish(ev events.Event) {
	if err := ev.Validate(); err != nil {
		s.log.Warn("dropping invalid synthesized event", "error", err)
		return
	}
	if !s.ring.TryReserve(ev) && s.st != nil {
		s.st.RingEventsDropped.Inc()
	}
}

func appKind(op OpKind) events.Kind {
	if op == OpGet {
		return events.KindAppRead
	}
	return events.KindAppWrite
}

func roundUp(n, align uint64) uint64 {
	if align == 0 {
		return n
	}
	return (n + align - 1) / align * align
}
