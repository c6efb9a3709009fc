package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ModeELF, cfg.Mode)
	assert.Equal(t, "a.out", cfg.Output)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, "mode: RAW\ndata_segment: 3072\ntrace: true\nmax_steps: 1000\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ModeRaw, cfg.Mode)
	assert.Equal(t, uint32(3072), cfg.DataSegment)
	assert.True(t, cfg.Trace)
	assert.Equal(t, uint64(1000), cfg.MaxSteps)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, "mdoe: elf\n"))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Mode = "coff"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidMode)

	cfg = Default()
	cfg.DataSegment = 16
	assert.ErrorIs(t, cfg.Validate(), ErrDataSegmentWithELF)

	cfg = Default()
	cfg.PageSize = 3000
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidPageSize)
}
