// Copyright The Ioamp Authors
// SPDX-License-Identifier: Apache-2.0

// Package bpf embeds the compiled probe object the loader attempts to load
// before falling back to the simulator. This build carries no working
// bytecode — there is no BPF C toolchain in this environment to produce
// one — so Object is a stub that fails ebpf.LoadCollectionSpecFromReader by
// design. The teacher codebase's bpf/bpfcore placeholder package follows
// the same "keep the real attach code path exercised, fail predictably"
// convention for builds without a real object file.
package bpf

import _ "embed"

//go:embed probes.o
var Object []byte
