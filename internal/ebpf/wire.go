// Copyright The Ioamp Authors
// SPDX-License-Identifier: Apache-2.0

package ebpf

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/platformbuilds/ioamp/internal/events"
)

// wireEventSize is the length of the record layout that mirrors struct
// multilayer_io_event from
// original_source/multilayer_io_tracer.bpf.c field-for-field: fixed-width,
// no pointers, comm/path as fixed byte arrays, matching what a verifier
// would accept written into a BPF ring buffer reservation. decodeEvent below
// is the counterpart to the teacher's ringbuf.go ReadU32/ReadU64/ReadBytes/
// ReadCString helpers, used on the real-attach path once a ring buffer
// record arrives; the simulator never goes through this decoder since it
// builds events.Event values directly.
const wireEventSize = 8 + 4 + 4 + 1 + 1 + 1 + 8 + 8 + 8 + 8 + 4 + 4 + 4 + 8 + 8 + 8 + 4 + 4 + 1 + events.MaxCommLen + events.MaxPathLen

// decodeEvent decodes a fixed-layout record produced by a real attached
// probe into an events.Event. Returns an error if raw is short or malformed
// rather than panicking, since the source is untrusted kernel memory.
func decodeEvent(raw []byte) (events.Event, error) {
	if len(raw) < wireEventSize {
		return events.Event{}, fmt.Errorf("ebpf: short event record: %d < %d bytes", len(raw), wireEventSize)
	}
	r := bytes.NewReader(raw)

	var ev events.Event
	var layer, kind, system uint8
	var flags uint8
	var comm [events.MaxCommLen]byte
	var path [events.MaxPathLen]byte

	fields := []any{
		&ev.TimestampNS, &ev.PID, &ev.TID,
		&layer, &kind, &system,
		&ev.Size, &ev.AlignedSize, &ev.Offset, &ev.LatencyNS,
		&ev.DevMajor, &ev.DevMinor, &ev.Retval, &ev.Inode,
		&ev.RequestID, &ev.ParentRequestID, &ev.BranchID, &ev.BranchCount,
		&flags,
	}
	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return events.Event{}, fmt.Errorf("ebpf: decode event: %w", err)
		}
	}

	if _, err := r.Read(comm[:]); err != nil {
		return events.Event{}, fmt.Errorf("ebpf: decode comm: %w", err)
	}
	if _, err := r.Read(path[:]); err != nil {
		return events.Event{}, fmt.Errorf("ebpf: decode path: %w", err)
	}

	ev.Layer = events.Layer(layer)
	ev.Kind = events.Kind(kind)
	ev.System = events.SystemTag(system)
	ev.Comm = cString(comm[:])
	ev.Path = cString(path[:])
	ev.Flags = decodeFlags(flags)
	return ev, nil
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

const (
	flagMetadata = 1 << iota
	flagJournal
	flagCacheHit
	flagErasure
	flagParity
	flagInlineMetadata
)

func decodeFlags(b uint8) events.Flags {
	return events.Flags{
		IsMetadata:     b&flagMetadata != 0,
		IsJournal:      b&flagJournal != 0,
		CacheHit:       b&flagCacheHit != 0,
		IsErasure:      b&flagErasure != 0,
		IsParity:       b&flagParity != 0,
		InlineMetadata: b&flagInlineMetadata != 0,
	}
}
