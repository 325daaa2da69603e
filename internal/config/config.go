// Copyright The Ioamp Authors
// SPDX-License-Identifier: Apache-2.0

// Package config holds the tracer's global configuration and filter
// settings (spec.md §4.7). A YAML file sets defaults; CLI flags parsed in
// cmd/ioamp override them — the same "file then flags" layering the
// teacher codebase uses in internal/config/config.go + cmd/telegen/main.go.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platformbuilds/ioamp/internal/classify"
)

// OutputFormat selects the streaming output encoding.
type OutputFormat string

const (
	OutputHuman OutputFormat = "human"
	OutputJSON  OutputFormat = "json"
)

// Config is installed once by the consumer at startup and read from every
// probe on entry (spec.md §4.7, §9 "global mutable configuration"). It is
// never mutated after Start — no synchronization is required to read it
// from probe goroutines.
type Config struct {
	TraceMode    classify.Mode `yaml:"trace_mode"`
	TargetComm   string        `yaml:"target_comm"`
	TargetPIDs   []uint32      `yaml:"target_pids"`
	TraceErasure bool          `yaml:"trace_erasure"`
	TraceMetadata bool         `yaml:"trace_metadata"`

	DurationSeconds     int  `yaml:"duration_seconds"`
	CorrelationEnabled  bool `yaml:"correlation_enabled"`

	OutputFormat OutputFormat `yaml:"output_format"`
	OutputPath   string       `yaml:"output_path"`
	Quiet        bool         `yaml:"quiet"`

	SystemFilter string `yaml:"system_filter"`

	// DataDir is the -D data directory (the flag from
	// original_source/multilayer_io_tracer.c). The simulator uses it as
	// the base of the object paths it synthesizes ("/data/bucket" when
	// empty); no path-pattern matching is scoped by it.
	DataDir string `yaml:"data_dir"`

	// MetadataPatterns / ErasurePatterns hold the metadata and erasure
	// path substrings (spec.md §4.3, §9 "path-pattern based, treated as
	// configuration not a contract"). No code in this module reads them:
	// the simulator emits its xl.meta and part.N touches directly, and
	// decodeEvent does not reclassify kernel events by path.
	MetadataPatterns []string `yaml:"metadata_patterns"`
	ErasurePatterns  []string `yaml:"erasure_patterns"`

	// JournalThresholdBytes is the small-write heuristic boundary for
	// tagging a device submit is_journal (spec.md §4.3, §9).
	JournalThresholdBytes uint64 `yaml:"journal_threshold_bytes"`

	// RingCapacityBytes sizes the event ring (spec.md §4.4).
	RingCapacityBytes int `yaml:"ring_capacity_bytes"`

	// Kernel table capacities (spec.md §5 memory budget).
	RequestTableCapacity int           `yaml:"request_table_capacity"`
	BioTableCapacity     int           `yaml:"bio_table_capacity"`
	ContextMaxAge        time.Duration `yaml:"context_max_age"`

	// FlowTableCapacity bounds the correlator's flow table (spec.md §4.6).
	FlowTableCapacity int `yaml:"flow_table_capacity"`

	CSVExportPath string `yaml:"csv_export_path"`

	SelfTelemetryListen string `yaml:"self_telemetry_listen"`
}

// Default returns the spec's documented defaults (spec.md §5, §6).
func Default() Config {
	return Config{
		TraceMode:             classify.ModeOff,
		TraceErasure:          false,
		TraceMetadata:         false,
		DurationSeconds:       0,
		CorrelationEnabled:    false,
		OutputFormat:          OutputHuman,
		MetadataPatterns:      []string{"xl.meta"},
		ErasurePatterns:       []string{"part."},
		JournalThresholdBytes: 8 * 1024,
		RingCapacityBytes:     1024 * 1024,
		RequestTableCapacity:  10240,
		BioTableCapacity:      10240,
		ContextMaxAge:         30 * time.Second,
		FlowTableCapacity:     10000,
		SelfTelemetryListen:   ":19090",
	}
}

// Load reads a YAML config file over the compiled-in defaults. An empty
// path is valid and simply returns the defaults — the teacher's
// config.Load degrades the same way when no file is supplied.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the fields CLI flags and YAML can both set.
func (c Config) Validate() error {
	switch c.TraceMode {
	case classify.ModeOff, classify.ModeByName, classify.ModeByPID, classify.ModeAll:
	default:
		return fmt.Errorf("config: invalid trace_mode %q", c.TraceMode)
	}
	if c.TraceMode == classify.ModeByName && c.TargetComm == "" {
		return fmt.Errorf("config: trace_mode=by_name requires target_comm")
	}
	if c.TraceMode == classify.ModeByPID && len(c.TargetPIDs) == 0 {
		return fmt.Errorf("config: trace_mode=by_pid requires at least one target pid")
	}
	if c.RingCapacityBytes <= 0 {
		return fmt.Errorf("config: ring_capacity_bytes must be > 0")
	}
	if c.FlowTableCapacity <= 0 {
		return fmt.Errorf("config: flow_table_capacity must be > 0")
	}
	return nil
}
