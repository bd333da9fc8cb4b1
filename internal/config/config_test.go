package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "output", cfg.OutputDir)
	assert.Equal(t, 20, cfg.Generation.SetsPerUnit)
	assert.Equal(t, 25, cfg.Generation.MCQPerSet)
	assert.Equal(t, 5, cfg.Generation.FRQPerSet)
	assert.Equal(t, 4, cfg.Generation.MaxRepairRounds)
	assert.Equal(t, 60, cfg.Generation.TextConcurrency)
	assert.Equal(t, 5, cfg.Images.Concurrency)
	assert.Equal(t, time.Second, cfg.Images.Spacing)
	assert.Equal(t, 10*time.Second, cfg.Images.PollInterval)
	assert.Equal(t, "degrade", cfg.Images.Mode)
	assert.Equal(t, []string{"ap_statistics"}, cfg.Courses)
	assert.Empty(t, cfg.LLM.Provider)
	assert.Equal(t, 5*time.Minute, cfg.LLM.Timeout)
	assert.Equal(t, 3, cfg.LLM.MaxAttempts)
	assert.False(t, cfg.PublishEnabled())
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "apgen.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
output_dir: /tmp/out
units: [3, 7]
llm:
  provider: anthropic
  temperature: 0.3
generation:
  sets_per_unit: 2
  max_repair_rounds: 1
images:
  spacing: 250ms
  mode: strict
publish:
  endpoint: localhost:9000
  bucket: practice
`), 0o644))

	t.Setenv("APGEN_GENERATION_SETS_PER_UNIT", "3")
	t.Setenv("MINIO_ACCESS_KEY", "minio")
	t.Setenv("APGEN_LLM_MODEL", "claude-sonnet")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/out", cfg.OutputDir)
	assert.Equal(t, 3, cfg.Generation.SetsPerUnit)
	assert.Equal(t, 1, cfg.Generation.MaxRepairRounds)
	assert.Equal(t, 250*time.Millisecond, cfg.Images.Spacing)
	assert.Equal(t, "strict", cfg.Images.Mode)
	assert.Equal(t, "minio", cfg.Publish.AccessKey)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "claude-sonnet", cfg.LLM.Model)
	assert.InDelta(t, 0.3, cfg.LLM.Temperature, 1e-9)
	assert.True(t, cfg.PublishEnabled())

	assert.True(t, cfg.WantsUnit(2))
	assert.True(t, cfg.WantsUnit(6))
	assert.False(t, cfg.WantsUnit(0))
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)

	bad := *cfg
	bad.Images.Mode = "lenient"
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Units = []int{0}
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Generation.SetsPerUnit = 0
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.LLM.MaxAttempts = 0
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.LLM.Temperature = 3
	assert.Error(t, bad.Validate())
}
