// Copyright The Ioamp Authors
// SPDX-License-Identifier: Apache-2.0

// Package report renders the tracer's external interfaces: the per-event
// streaming line (human or newline-delimited JSON, spec.md §6), the
// three-part summary printed at shutdown, and the optional CSV export.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/platformbuilds/ioamp/internal/events"
)

// Format selects the streaming encoding.
type Format string

const (
	FormatHuman Format = "human"
	FormatJSON  Format = "json"
)

// Streamer writes one line per event as it is consumed, per spec.md §6's
// "External Interfaces" streaming output. Quiet mode (spec.md's -q flag)
// is implemented by never constructing a Streamer at all, not by a runtime
// check here.
type Streamer struct {
	w      io.Writer
	format Format
	correlationEnabled bool
}

func NewStreamer(w io.Writer, format Format, correlationEnabled bool) *Streamer {
	return &Streamer{w: w, format: format, correlationEnabled: correlationEnabled}
}

// Write renders one event as a line (plus, in human mode, a path
// continuation line when the event carries a path).
func (s *Streamer) Write(ev events.Event) error {
	switch s.format {
	case FormatJSON:
		return s.writeJSON(ev)
	default:
		return s.writeHuman(ev)
	}
}

type jsonEvent struct {
	TimestampNS     uint64 `json:"timestamp_ns"`
	PID             uint32 `json:"pid"`
	TID             uint32 `json:"tid"`
	Layer           string `json:"layer"`
	Kind            string `json:"kind"`
	System          string `json:"system"`
	Size            uint64 `json:"size"`
	AlignedSize     uint64 `json:"aligned_size,omitempty"`
	LatencyNS       uint64 `json:"latency_ns,omitempty"`
	Comm            string `json:"comm"`
	Path            string `json:"path,omitempty"`
	RequestID       string `json:"request_id,omitempty"`
	ParentRequestID string `json:"parent_request_id,omitempty"`
	BranchID        uint32 `json:"branch_id,omitempty"`
	BranchCount     uint32 `json:"branch_count,omitempty"`
	IsMetadata      bool   `json:"is_metadata,omitempty"`
	IsJournal       bool   `json:"is_journal,omitempty"`
	CacheHit        bool   `json:"cache_hit,omitempty"`
	IsErasure       bool   `json:"is_erasure,omitempty"`
	IsParity        bool   `json:"is_parity,omitempty"`
}

func (s *Streamer) writeJSON(ev events.Event) error {
	je := jsonEvent{
		TimestampNS: ev.TimestampNS, PID: ev.PID, TID: ev.TID,
		Layer: ev.Layer.String(), Kind: ev.Kind.String(), System: ev.System.String(),
		Size: ev.Size, AlignedSize: ev.AlignedSize, LatencyNS: ev.LatencyNS,
		Comm: ev.Comm, Path: ev.Path,
		BranchID: ev.BranchID, BranchCount: ev.BranchCount,
		IsMetadata: ev.Flags.IsMetadata, IsJournal: ev.Flags.IsJournal,
		CacheHit: ev.Flags.CacheHit, IsErasure: ev.Flags.IsErasure, IsParity: ev.Flags.IsParity,
	}
	if s.correlationEnabled && ev.RequestID != 0 {
		je.RequestID = fmt.Sprintf("%08x", ev.RequestID)
		if ev.ParentRequestID != 0 {
			je.ParentRequestID = fmt.Sprintf("%08x", ev.ParentRequestID)
		}
	}
	b, err := json.Marshal(je)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(s.w, "%s\n", b)
	return err
}

// writeHuman renders the bracket-tagged single line format: flag brackets
// first ([META] [JRNL] [HIT] [TARGET] [METAFILE]), then correlation
// brackets when correlation mode is on ([REQ:xxxxxxxx] [BRANCH i/n]
// [CHILD OF yyyyyyyy]), followed by a path continuation line.
func (s *Streamer) writeHuman(ev events.Event) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%-12s %-20s pid=%-7d size=%-8d", ev.Layer.String(), ev.Kind.String(), ev.PID, ev.Size)

	if ev.Flags.IsMetadata {
		b.WriteString(" [META]")
	}
	if ev.Flags.IsJournal {
		b.WriteString(" [JRNL]")
	}
	if ev.Flags.CacheHit {
		b.WriteString(" [HIT]")
	}
	if ev.System != events.SystemUnknown && ev.System != events.SystemApplication {
		b.WriteString(" [TARGET]")
	}
	if ev.Flags.InlineMetadata {
		b.WriteString(" [METAFILE]")
	}

	if s.correlationEnabled && ev.RequestID != 0 {
		fmt.Fprintf(&b, " [REQ:%08x]", ev.RequestID)
		if ev.BranchCount > 0 {
			fmt.Fprintf(&b, " [BRANCH %d/%d]", ev.BranchID+1, ev.BranchCount)
		}
		if ev.ParentRequestID != 0 && ev.ParentRequestID != ev.RequestID {
			fmt.Fprintf(&b, " [CHILD OF %08x]", ev.ParentRequestID)
		}
	}

	if _, err := fmt.Fprintln(s.w, b.String()); err != nil {
		return err
	}
	if ev.Path != "" {
		_, err := fmt.Fprintf(s.w, "    -> %s\n", ev.Path)
		return err
	}
	return nil
}
