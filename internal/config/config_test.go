// Copyright The Ioamp Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platformbuilds/ioamp/internal/classify"
)

func TestDefault_MatchesDocumentedDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, classify.ModeOff, cfg.TraceMode)
	assert.Equal(t, []string{"xl.meta"}, cfg.MetadataPatterns)
	assert.Equal(t, []string{"part."}, cfg.ErasurePatterns)
	assert.Equal(t, uint64(8*1024), cfg.JournalThresholdBytes)
	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("trace_mode: by_name\ntarget_comm: minio\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, classify.ModeByName, cfg.TraceMode)
	assert.Equal(t, "minio", cfg.TargetComm)
	require.NoError(t, cfg.Validate())
}

func TestValidate_RejectsByNameWithoutTargetComm(t *testing.T) {
	cfg := Default()
	cfg.TraceMode = classify.ModeByName
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsByPIDWithoutTargets(t *testing.T) {
	cfg := Default()
	cfg.TraceMode = classify.ModeByPID
	assert.Error(t, cfg.Validate())
}
