package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_MatchesSpecDefaults(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	assert.Equal(t, 300, cfg.Chunker.TargetTokens)
	assert.Equal(t, 450, cfg.Chunker.HardMaxTokens)
	assert.Equal(t, 50, cfg.Chunker.OverlapTokens)
	assert.Equal(t, "v1", cfg.Chunker.Version)

	assert.Equal(t, 200, cfg.Limiter.Global)
	assert.Equal(t, 50, cfg.Limiter.PerTool["search"])
	assert.Equal(t, 8, cfg.Limiter.PerTool["sync"])

	assert.Equal(t, 5, cfg.Breaker.ErrorThreshold)
	assert.Equal(t, 30, cfg.Breaker.WindowSeconds)

	require.Len(t, cfg.Job.RetryBackoff, 3)
	assert.Equal(t, 5*time.Second, cfg.Job.RetryBackoff[0])
	assert.Equal(t, 15*time.Second, cfg.Job.RetryBackoff[1])
	assert.Equal(t, 45*time.Second, cfg.Job.RetryBackoff[2])

	assert.Equal(t, 300, cfg.Search.CacheTTLSeconds)
	assert.Equal(t, 1000, cfg.Search.CacheCapacity)
	assert.False(t, cfg.Search.CacheEnabled)

	assert.Equal(t, 5000, cfg.Ready.ProbeTimeoutMS)
	assert.Equal(t, 5000, cfg.Ready.CacheTTLMS)

	assert.Equal(t, 1, cfg.Watermark.DefaultOverlapDays)
}

func TestLoad_NoFileReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.Limiter.Global)
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.Limiter.Global)
}

func TestLoad_FileOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "biomcp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
limiter:
  global: 500
  per_tool:
    search: 75
chunker:
  target_tokens: 250
  hard_max_tokens: 400
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 500, cfg.Limiter.Global)
	assert.Equal(t, 75, cfg.Limiter.PerTool["search"])
	assert.Equal(t, 250, cfg.Chunker.TargetTokens)
	assert.Equal(t, 400, cfg.Chunker.HardMaxTokens)
	// Untouched keys keep their defaults.
	assert.Equal(t, 8, cfg.Limiter.PerTool["sync"])
	assert.Equal(t, 5, cfg.Breaker.ErrorThreshold)
}

func TestLoad_EnvironmentOverridesFileAndDefaults(t *testing.T) {
	t.Setenv("BIOMCP_LIMITER_GLOBAL", "999")
	t.Setenv("BIOMCP_SERVER_PORT", "9090")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 999, cfg.Limiter.Global)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestValidate_RejectsHardMaxBelowTarget(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)
	cfg.Chunker.HardMaxTokens = 100
	cfg.Chunker.TargetTokens = 300

	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsOverlapDaysOutOfRange(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)
	cfg.Watermark.DefaultOverlapDays = 31

	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsZeroGlobalLimiter(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)
	cfg.Limiter.Global = 0

	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsEmptyRetryBackoff(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)
	cfg.Job.RetryBackoff = nil

	assert.Error(t, cfg.Validate())
}
