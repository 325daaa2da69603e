// Copyright The Ioamp Authors
// SPDX-License-Identifier: Apache-2.0

// Package classify implements the process classifier: given a task's short
// command name, it returns a storage-system tag plus a target-or-not
// decision, per spec.md §4.1.
package classify

import (
	"strings"

	"github.com/platformbuilds/ioamp/internal/events"
)

// Mode selects the classifier's targeting policy.
type Mode string

const (
	ModeOff    Mode = "off"
	ModeByName Mode = "by_name"
	ModeByPID  Mode = "by_pid"
	ModeAll    Mode = "all"
)

// Classifier resolves a task's command name (and, in by_pid mode, its pid)
// to a system tag and a target decision. It is intentionally
// allocation-free and branch-predictable on the hot path: a fixed sequence
// of substring scans over the closed system enumeration, the same shape a
// verifier-checked BPF program would use (see is_minio_process /
// detect_system_type in original_source/multilayer_io_tracer.bpf.c, which
// this type generalizes from a single hardcoded "minio" check to the full
// enumeration spec.md §4.1 names).
type Classifier struct {
	mode       Mode
	targetComm string
	targetPIDs map[uint32]struct{}
	selfComm   string
}

// New builds a Classifier. selfComm is the tracer's own short command name
// (spec.md §9 "self-feedback exclusion"): it is never reported as a target,
// in any mode.
func New(mode Mode, targetComm string, targetPIDs []uint32, selfComm string) *Classifier {
	pids := make(map[uint32]struct{}, len(targetPIDs))
	for _, p := range targetPIDs {
		pids[p] = struct{}{}
	}
	return &Classifier{
		mode:       mode,
		targetComm: strings.ToLower(targetComm),
		targetPIDs: pids,
		selfComm:   events.TruncateComm(selfComm),
	}
}

// knownSubstring maps the closed enumeration of storage systems to the
// substring classify scans a comm string for. Order matters only in that
// the first match wins; the set here is disjoint in practice.
var knownSubstring = []struct {
	tag events.SystemTag
	sub string
}{
	{events.SystemMinio, "minio"},
	{events.SystemCeph, "ceph"},
	{events.SystemEtcd, "etcd"},
	{events.SystemPostgres, "post"}, // matches postgres/postmaster
	{events.SystemGluster, "glus"},
}

// detectSystem scans comm for a known substring, falling back to
// "application" for any non-empty command that matched nothing, and
// "unknown" for an empty/blank comm — the same fallback ladder
// detect_system_type uses in the original BPF program.
func detectSystem(comm string) events.SystemTag {
	lc := strings.ToLower(comm)
	for _, k := range knownSubstring {
		if strings.Contains(lc, k.sub) {
			return k.tag
		}
	}
	trimmed := strings.TrimSpace(comm)
	if trimmed != "" {
		return events.SystemApplication
	}
	return events.SystemUnknown
}

// Classify returns the system tag for comm and whether the currently
// configured mode marks (comm, pid) as a target. The tracer's own comm is
// always excluded, independent of mode — this is mandatory, not a policy
// knob, per spec.md §4.1 and §9.
func (c *Classifier) Classify(comm string, pid uint32) (events.SystemTag, bool) {
	comm = events.TruncateComm(comm)
	tag := detectSystem(comm)

	if comm == c.selfComm {
		return tag, false
	}

	switch c.mode {
	case ModeOff:
		return tag, false
	case ModeAll:
		return tag, strings.TrimSpace(comm) != ""
	case ModeByPID:
		_, ok := c.targetPIDs[pid]
		return tag, ok
	case ModeByName:
		if c.targetComm == "" {
			return tag, false
		}
		return tag, strings.Contains(strings.ToLower(comm), c.targetComm)
	default:
		return tag, false
	}
}

// AddTargetPID adds a pid to the by_pid target set after construction.
func (c *Classifier) AddTargetPID(pid uint32) {
	c.targetPIDs[pid] = struct{}{}
}

// Mode returns the classifier's configured mode.
func (c *Classifier) Mode() Mode { return c.mode }
