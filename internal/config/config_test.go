package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/star/orbitwatch/internal/risk"
)

var testLogger = slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "orbitwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", testLogger)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 10*time.Second, cfg.Clock.DenseInterval)
	assert.Equal(t, 10*time.Minute, cfg.Clock.CoarseInterval)
	assert.Equal(t, 2000, cfg.Clock.CoarseThreshold)
	assert.Equal(t, time.Hour, cfg.Risk.Horizon)
	assert.Equal(t, risk.Sampling{Policy: risk.Endpoint}, cfg.Risk.Sampling())
	assert.Equal(t, 120, cfg.History.Size)
	assert.False(t, cfg.Tracing.Enabled)

	lvl, err := cfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
log:
  level: info
http:
  addr: ":9090"
catalog:
  source_url: https://example.test/active.txt
  extra_urls: []
  refresh_interval: 30m
  verify_checksum: true
clock:
  start: "2024-04-09T12:00:00Z"
  coarse_threshold: 500
risk:
  policy: uniform
  samples: 12
  z_threshold_km: 200
stream:
  keepalive_interval: 15s
history:
  size: 30
`)
	cfg, err := Load(path, testLogger)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, "https://example.test/active.txt", cfg.Catalog.SourceURL)
	assert.Empty(t, cfg.Catalog.ExtraURLs)
	assert.Equal(t, 30*time.Minute, cfg.Catalog.RefreshInterval)
	assert.True(t, cfg.Catalog.VerifyChecksum)
	assert.True(t, cfg.Catalog.DetectDebris, "unset keys keep defaults")
	assert.Equal(t, 500, cfg.Clock.CoarseThreshold)
	assert.Equal(t, time.Date(2024, 4, 9, 12, 0, 0, 0, time.UTC), cfg.StartTime(time.Now()))
	assert.Equal(t, risk.Sampling{Policy: risk.Uniform, Samples: 12}, cfg.Risk.Sampling())
	assert.Equal(t, 200.0, cfg.Risk.ZThresholdKm)
	assert.Equal(t, 15*time.Second, cfg.Stream.KeepaliveInterval)
	assert.Equal(t, 30, cfg.History.Size)

	lvl, err := cfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, lvl)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "http:\n  addr: \":9090\"\nhistory:\n  size: 30\n")
	t.Setenv("ORBITWATCH_HTTP_ADDR", ":7070")
	t.Setenv("ORBITWATCH_HISTORY_SIZE", "64")
	t.Setenv("ORBITWATCH_REFRESH_INTERVAL", "3600")
	t.Setenv("ORBITWATCH_RISK_EVERY", "5m")
	t.Setenv("ORBITWATCH_RISK_POLICY", "stepped")
	t.Setenv("ORBITWATCH_RISK_STEP", "120")
	t.Setenv("ORBITWATCH_EXTRA_URLS", "https://a.test/x, ,https://b.test/y")
	t.Setenv("ORBITWATCH_TRACING_ENABLED", "true")
	t.Setenv("ORBITWATCH_TRACING_SAMPLE_RATIO", "0.25")

	cfg, err := Load(path, testLogger)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.HTTP.Addr)
	assert.Equal(t, 64, cfg.History.Size)
	assert.Equal(t, time.Hour, cfg.Catalog.RefreshInterval)
	assert.Equal(t, 5*time.Minute, cfg.Risk.EvaluateEvery)
	assert.Equal(t, risk.Sampling{Policy: risk.Stepped, Step: 2 * time.Minute}, cfg.Risk.Sampling())
	assert.Equal(t, []string{"https://a.test/x", "https://b.test/y"}, cfg.Catalog.ExtraURLs)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, 0.25, cfg.Tracing.SampleRatio)
}

func TestInvalidEnvKeepsDefault(t *testing.T) {
	t.Setenv("ORBITWATCH_HISTORY_SIZE", "-3")
	t.Setenv("ORBITWATCH_PROP_WORKERS", "many")
	t.Setenv("ORBITWATCH_CLOCK_DENSE_INTERVAL", "0")
	t.Setenv("ORBITWATCH_RISK_POLICY", "random")
	t.Setenv("ORBITWATCH_AUTH_ENABLED", "maybe")
	t.Setenv("ORBITWATCH_TRACING_SAMPLE_RATIO", "2")

	cfg, err := Load("", testLogger)
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def.History.Size, cfg.History.Size)
	assert.Equal(t, def.Propagation.Workers, cfg.Propagation.Workers)
	assert.Equal(t, def.Clock.DenseInterval, cfg.Clock.DenseInterval)
	assert.Equal(t, "endpoint", cfg.Risk.Policy)
	assert.False(t, cfg.HTTP.AuthEnabled)
	assert.Equal(t, 1.0, cfg.Tracing.SampleRatio)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), testLogger)
	assert.Error(t, err)

	_, err = Load(writeFile(t, "http: [unclosed"), testLogger)
	assert.Error(t, err)

	_, err = Load(writeFile(t, "risk:\n  policy: random\n"), testLogger)
	assert.ErrorContains(t, err, "risk.policy")

	_, err = Load(writeFile(t, "clock:\n  start: yesterday\n"), testLogger)
	assert.ErrorContains(t, err, "clock.start")

	t.Setenv("ORBITWATCH_AUTH_ENABLED", "true")
	_, err = Load("", testLogger)
	assert.ErrorContains(t, err, "ORBITWATCH_AUTH_TOKEN")

	t.Setenv("ORBITWATCH_AUTH_TOKEN", "s3cret")
	cfg, err := Load("", testLogger)
	require.NoError(t, err)
	assert.True(t, cfg.HTTP.AuthEnabled)
}

func TestStartTimeDefaultsToNow(t *testing.T) {
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, now, Default().StartTime(now))
}
