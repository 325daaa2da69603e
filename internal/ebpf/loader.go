// Copyright The Ioamp Authors
// SPDX-License-Identifier: Apache-2.0

package ebpf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	cilebpf "github.com/cilium/ebpf"
	"github.com/cilium/ebpf/ringbuf"

	loaderbpf "github.com/platformbuilds/ioamp/internal/ebpf/bpf"

	"github.com/platformbuilds/ioamp/internal/classify"
	"github.com/platformbuilds/ioamp/internal/config"
	"github.com/platformbuilds/ioamp/internal/ring"
	"github.com/platformbuilds/ioamp/internal/selftelemetry"
)

// hookSpec names one real-attach point: a kprobe symbol or a tracepoint
// group:name, plus the program name the collection is expected to export
// for it. hooks is the closed probe set spec.md §4.3 names: application
// read/write/openat, the OS VFS layer, filesystem fsync, the device bio
// submit/complete pair, and the scheduler's process-exit tracepoint.
type hookSpec struct {
	progName    string
	kprobe      string
	tpGroup     string
	tpName      string
}

var hooks = []hookSpec{
	{progName: "trace_sys_enter_read", tpGroup: "syscalls", tpName: "sys_enter_read"},
	{progName: "trace_sys_enter_write", tpGroup: "syscalls", tpName: "sys_enter_write"},
	{progName: "trace_sys_enter_openat", tpGroup: "syscalls", tpName: "sys_enter_openat"},
	{progName: "trace_vfs_read", kprobe: "vfs_read"},
	{progName: "trace_vfs_write", kprobe: "vfs_write"},
	{progName: "trace_vfs_fsync_range", kprobe: "vfs_fsync_range"},
	{progName: "trace_submit_bio", kprobe: "submit_bio"},
	{progName: "trace_bio_endio", kprobe: "bio_endio"},
	{progName: "trace_process_exit", tpGroup: "sched", tpName: "sched_process_exit"},
}

// Loader is the entry point spec.md §4.3's "Layer Probes" component
// resolves to: on Start it attempts a real eBPF attach of every hook in
// hooks, and on any failure — missing privilege, missing BTF, a collection
// that fails to parse (guaranteed in this build, since Object carries no
// compiled bytecode) — it falls back to the in-process Simulator, which
// produces the identical events.Event stream. This mirrors the teacher's
// internal/capture/ebpf/loader.go graceful-degradation strategy.
type Loader struct {
	cfg        config.Config
	classifier *classify.Classifier
	reqTable   *RequestTable
	bioTable   *BioTable
	ring       *ring.Ring
	st         *selftelemetry.Metrics
	log        *slog.Logger

	manager   *Manager
	simulated bool
	eventsRd  *ringbuf.Reader
}

func NewLoader(cfg config.Config, classifier *classify.Classifier, reqTable *RequestTable, bioTable *BioTable, r *ring.Ring, st *selftelemetry.Metrics, log *slog.Logger) *Loader {
	return &Loader{
		cfg:        cfg,
		classifier: classifier,
		reqTable:   reqTable,
		bioTable:   bioTable,
		ring:       r,
		st:         st,
		log:        log.With("component", "ebpf_loader"),
	}
}

// Start attempts the real attach path and falls back to the simulator on
// any failure. The returned stop function detaches every probe (or stops
// the simulator) and should be called exactly once.
func (l *Loader) Start(ctx context.Context) (stop func(), err error) {
	if err := l.tryRealAttach(); err != nil {
		l.log.Warn("real eBPF attach unavailable, falling back to event simulator",
			"error", err)
		if l.st != nil {
			l.st.EBPFSimulated.Set(1)
		}
		l.simulated = true
		return l.startSimulator(ctx), nil
	}

	if l.st != nil {
		l.st.EBPFSimulated.Set(0)
	}
	l.simulated = false
	mgr := l.manager

	readCtx, cancelRead := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.readKernelRing(readCtx)
	}()

	return func() {
		cancelRead()
		if err := mgr.Stop(5 * time.Second); err != nil {
			l.log.Error("error stopping eBPF manager", "error", err)
		}
		<-done
	}, nil
}

// readKernelRing decodes every record the kernel ring buffer delivers and
// publishes it onto the same events.Ring the simulator writes to, so the
// consumer/correlator/report pipeline is identical for both real and
// simulated attach. Mirrors the teacher's CPUProfiler.processRingBuffer
// read loop (internal/profiler/profilers.go).
func (l *Loader) readKernelRing(ctx context.Context) {
	l.log.Info("reading kernel event ring buffer")
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		record, err := l.eventsRd.Read()
		if err != nil {
			if errors.Is(err, ringbuf.ErrClosed) {
				return
			}
			l.log.Warn("ring buffer read error", "error", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}

		ev, err := decodeEvent(record.RawSample)
		if err != nil {
			l.log.Warn("dropping undecodable kernel event", "error", err)
			continue
		}
		if err := ev.Validate(); err != nil {
			l.log.Warn("dropping invalid kernel event", "error", err)
			continue
		}
		if !l.ring.TryReserve(ev) {
			if l.st != nil {
				l.st.RingEventsDropped.Inc()
			}
		}
	}
}

// Simulated reports whether the loader fell back to the synthetic producer.
func (l *Loader) Simulated() bool { return l.simulated }

func (l *Loader) tryRealAttach() error {
	if len(loaderbpf.Object) == 0 {
		return fmt.Errorf("no compiled probe object embedded in this build")
	}

	spec, err := cilebpf.LoadCollectionSpecFromReader(bytes.NewReader(loaderbpf.Object))
	if err != nil {
		return fmt.Errorf("parse embedded probe object: %w", err)
	}

	mgr, err := NewManager(DefaultManagerConfig(), l.log, l.st)
	if err != nil {
		return fmt.Errorf("init eBPF manager: %w", err)
	}

	if _, err := mgr.LoadCollection(spec); err != nil {
		return err
	}

	for _, h := range hooks {
		var attachErr error
		switch {
		case h.kprobe != "":
			_, attachErr = mgr.AttachKprobe(h.progName, h.kprobe)
		case h.tpGroup != "":
			_, attachErr = mgr.AttachTracepoint(h.progName, h.tpGroup, h.tpName)
		}
		if attachErr != nil {
			_ = mgr.Stop(time.Second)
			return fmt.Errorf("attach %s: %w", h.progName, attachErr)
		}
	}

	rd, err := mgr.OpenEventsReader()
	if err != nil {
		_ = mgr.Stop(time.Second)
		return fmt.Errorf("open events ring buffer: %w", err)
	}

	l.manager = mgr
	l.eventsRd = rd
	return nil
}

func (l *Loader) startSimulator(ctx context.Context) func() {
	sim := NewSimulator(l.cfg, l.classifier, l.reqTable, l.bioTable, l.ring, l.st, l.log, time.Now().UnixNano())
	simCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		sim.Run(simCtx, 20*time.Millisecond)
	}()
	return func() {
		cancel()
		<-done
	}
}
