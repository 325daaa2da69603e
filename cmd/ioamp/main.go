// Copyright The Ioamp Authors
// SPDX-License-Identifier: Apache-2.0

// Command ioamp is the I/O amplification tracer's entry point: it parses
// CLI flags over a YAML config file, starts the (real-or-simulated) probe
// set, drains the event ring through the correlator and reporter, and
// prints the three-part summary on shutdown. Flag letters and semantics
// are carried over from original_source/multilayer_io_tracer.c's argp
// table, generalized from MinIO-only to the full storage-system
// enumeration spec.md §4.1 names.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/platformbuilds/ioamp/internal/classify"
	"github.com/platformbuilds/ioamp/internal/config"
	"github.com/platformbuilds/ioamp/internal/consumer"
	"github.com/platformbuilds/ioamp/internal/correlator"
	ebpfpkg "github.com/platformbuilds/ioamp/internal/ebpf"
	"github.com/platformbuilds/ioamp/internal/report"
	"github.com/platformbuilds/ioamp/internal/ring"
	"github.com/platformbuilds/ioamp/internal/selftelemetry"
	"github.com/platformbuilds/ioamp/internal/version"
)

func main() {
	os.Exit(run())
}

// pidListFlag supports the repeatable -p flag (spec.md §6): each occurrence
// appends a target PID rather than overwriting the previous one.
type pidListFlag []uint32

func (p *pidListFlag) String() string {
	strs := make([]string, len(*p))
	for i, v := range *p {
		strs[i] = strconv.FormatUint(uint64(v), 10)
	}
	return strings.Join(strs, ",")
}

func (p *pidListFlag) Set(v string) error {
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return fmt.Errorf("invalid PID %q: %w", v, err)
	}
	*p = append(*p, uint32(n))
	return nil
}

func run() int {
	var (
		configPath   = flag.String("config", "", "path to a YAML config file")
		verbose      = flag.Bool("v", false, "verbose debug output")
		jsonOutput   = flag.Bool("j", false, "output in JSON format")
		duration     = flag.Int("d", 0, "trace for specified duration (seconds), 0 = until interrupted")
		outputFile   = flag.String("o", "", "output to file instead of stdout")
		quiet        = flag.Bool("q", false, "disable real-time output, only show summary")
		correlate    = flag.Bool("c", false, "enable request correlation mode")
		system       = flag.String("s", "", "trace specific storage system (minio/ceph/etcd/postgres/gluster)")
		minioOnly    = flag.Bool("M", false, "trace only application processes for the configured system")
		autoDetect   = flag.Bool("A", false, "trace every process with a non-empty command name (no PID discovery; the configured system is not used as a filter)")
		dataDir      = flag.String("D", "", "target data directory to monitor")
		traceErasure = flag.Bool("E", false, "trace erasure coding operations")
		traceMeta    = flag.Bool("T", false, "trace metadata operations (xl.meta)")
		showVersion  = flag.Bool("version", false, "print version and exit")
	)
	var targetPIDs pidListFlag
	flag.Var(&targetPIDs, "p", "trace a specific target PID (repeatable)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ioamp %s (commit %s, built %s)\n", version.Version(), version.Commit(), version.BuildDate())
		return 0
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("failed to load config", "error", err)
		return 1
	}

	applyFlags(&cfg, flagOverrides{
		jsonOutput: *jsonOutput, duration: *duration, outputFile: *outputFile,
		quiet: *quiet, correlate: *correlate, system: *system,
		minioOnly: *minioOnly, autoDetect: *autoDetect, targetPIDs: targetPIDs,
		dataDir: *dataDir, traceErasure: *traceErasure, traceMeta: *traceMeta,
	})

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		return 1
	}

	return runTracer(log, cfg)
}

type flagOverrides struct {
	jsonOutput   bool
	duration     int
	outputFile   string
	quiet        bool
	correlate    bool
	system       string
	minioOnly    bool
	autoDetect   bool
	targetPIDs   []uint32
	dataDir      string
	traceErasure bool
	traceMeta    bool
}

// applyFlags layers CLI flags over the loaded config — flags override file
// defaults, per spec.md §4.7's documented precedence.
func applyFlags(cfg *config.Config, f flagOverrides) {
	if f.jsonOutput {
		cfg.OutputFormat = config.OutputJSON
	}
	if f.duration > 0 {
		cfg.DurationSeconds = f.duration
	}
	if f.outputFile != "" {
		cfg.OutputPath = f.outputFile
	}
	if f.quiet {
		cfg.Quiet = true
	}
	if f.correlate {
		cfg.CorrelationEnabled = true
	}
	if f.system != "" {
		cfg.SystemFilter = strings.ToLower(f.system)
		if cfg.SystemFilter == "minio" {
			f.minioOnly = true
		} else {
			cfg.TraceMode = classify.ModeByName
			cfg.TargetComm = cfg.SystemFilter
		}
	}
	if f.minioOnly {
		cfg.TraceMode = classify.ModeByName
		if cfg.TargetComm == "" {
			cfg.TargetComm = "minio"
		}
	}
	if f.autoDetect {
		cfg.TraceMode = classify.ModeAll
	}
	if len(f.targetPIDs) > 0 {
		cfg.TraceMode = classify.ModeByPID
		cfg.TargetPIDs = append(cfg.TargetPIDs, f.targetPIDs...)
	}
	if f.dataDir != "" {
		cfg.DataDir = f.dataDir
	}
	if f.traceErasure {
		cfg.TraceErasure = true
	}
	if f.traceMeta {
		cfg.TraceMetadata = true
	}
}

func runTracer(log *slog.Logger, cfg config.Config) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.DurationSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.DurationSeconds)*time.Second)
		defer cancel()
	}

	mux := http.NewServeMux()
	st := selftelemetry.InstallHandlers(mux, "ioamp")
	srv := &http.Server{Addr: cfg.SelfTelemetryListen, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("self-telemetry server exited", "error", err)
		}
	}()
	defer srv.Close()

	selfComm := filepath.Base(os.Args[0])
	clf := classify.New(cfg.TraceMode, cfg.TargetComm, cfg.TargetPIDs, selfComm)

	reqTable := ebpfpkg.NewRequestTable(cfg.RequestTableCapacity, cfg.ContextMaxAge)
	bioTable := ebpfpkg.NewBioTable(cfg.BioTableCapacity, cfg.ContextMaxAge)
	evRing := ring.NewForBytes(cfg.RingCapacityBytes, 256)

	loader := ebpfpkg.NewLoader(cfg, clf, reqTable, bioTable, evRing, st, log)
	stopProbes, err := loader.Start(ctx)
	if err != nil {
		log.Error("failed to start probes", "error", err)
		return 1
	}
	defer stopProbes()
	st.SetReady(true)

	corr := correlator.New(cfg.CorrelationEnabled, cfg.FlowTableCapacity, st)

	out := os.Stdout
	if cfg.OutputPath != "" {
		f, err := os.Create(cfg.OutputPath)
		if err != nil {
			log.Error("failed to open output file", "error", err)
			return 1
		}
		defer f.Close()
		out = f
	}

	var streamer *report.Streamer
	if !cfg.Quiet {
		format := report.FormatHuman
		if cfg.OutputFormat == config.OutputJSON {
			format = report.FormatJSON
		}
		streamer = report.NewStreamer(out, format, cfg.CorrelationEnabled)
	}

	cons := consumer.New(evRing, corr, streamer, st, log)

	sweepTicker := time.NewTicker(5 * time.Second)
	defer sweepTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sweepTicker.C:
				reqTable.Sweep(time.Now())
				bioTable.Sweep(time.Now())
			}
		}
	}()

	log.Info("tracer started", "trace_mode", cfg.TraceMode, "simulated", loader.Simulated())
	cons.Run(ctx)
	st.SetReady(false)

	report.WriteSummary(out, corr, cfg.CorrelationEnabled, evRing.Dropped(), corr.FlowTableEvictions(),
		st.RequestTableSaturatedCount(), st.BioTableSaturatedCount())

	if cfg.CSVExportPath != "" {
		f, err := os.Create(cfg.CSVExportPath)
		if err != nil {
			log.Error("failed to open CSV export file", "error", err)
			return 1
		}
		defer f.Close()
		if err := report.WriteCSV(f, corr); err != nil {
			log.Error("failed to write CSV export", "error", err)
			return 1
		}
	}

	return 0
}
