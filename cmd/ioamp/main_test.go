// Copyright The Ioamp Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/platformbuilds/ioamp/internal/classify"
	"github.com/platformbuilds/ioamp/internal/config"
)

func TestApplyFlags_TargetPIDsRepeatable(t *testing.T) {
	var pids pidListFlag
	require := func(err error) {
		if err != nil {
			t.Fatal(err)
		}
	}
	require(pids.Set("100"))
	require(pids.Set("200"))

	cfg := config.Default()
	applyFlags(&cfg, flagOverrides{targetPIDs: pids})

	assert.Equal(t, classify.ModeByPID, cfg.TraceMode)
	assert.Equal(t, []uint32{100, 200}, cfg.TargetPIDs)
}

func TestApplyFlags_NonMinioSystemEnablesByNameMode(t *testing.T) {
	cfg := config.Default()
	applyFlags(&cfg, flagOverrides{system: "ceph"})

	assert.Equal(t, classify.ModeByName, cfg.TraceMode)
	assert.Equal(t, "ceph", cfg.TargetComm)
}

func TestPidListFlag_StringFormatsCommaSeparated(t *testing.T) {
	var pids pidListFlag
	_ = pids.Set("1")
	_ = pids.Set("2")
	assert.Equal(t, "1,2", pids.String())
}
