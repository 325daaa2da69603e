// Copyright The Ioamp Authors
// SPDX-License-Identifier: Apache-2.0

package version

var (
	version   = "v0.1.0"
	commit    = "none"
	buildDate = "unknown"
)

func Version() string   { return version }
func Commit() string    { return commit }
func BuildDate() string { return buildDate }
