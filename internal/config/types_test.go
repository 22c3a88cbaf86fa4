package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefang-labs/taskgraph/internal/config"
)

func validConfig() config.Config {
	return config.Config{
		Backend: config.BackendConfig{
			DataDir:            "./data",
			Workers:            4,
			StartupCacheBudget: "64MB",
			SnapshotInterval:   "5s",
		},
		Telemetry: config.TelemetryConfig{
			LogLevel:    "info",
			MetricsAddr: ":9090",
		},
	}
}

func TestConfig_ValidateAcceptsZeroValues(t *testing.T) {
	cfg := config.Config{}
	assert.NoError(t, cfg.Validate())
}

func TestConfig_ValidateRejectsNegativeWorkers(t *testing.T) {
	cfg := validConfig()
	cfg.Backend.Workers = -1

	assert.ErrorIs(t, cfg.Validate(), config.ErrInvalidWorkers)
}

func TestConfig_ResolveParsesSizesAndDurations(t *testing.T) {
	cfg := validConfig()

	resolved, err := cfg.Resolve()
	require.NoError(t, err)

	assert.Equal(t, int64(64*1000*1000), resolved.StartupCacheBudget)
	assert.Equal(t, 5*time.Second, resolved.SnapshotInterval)
	assert.Equal(t, "./data", resolved.DataDir)
	assert.Equal(t, 4, resolved.Workers)
}

func TestConfig_ResolveLeavesUnsetSizeAndDurationAtZero(t *testing.T) {
	cfg := config.Config{}

	resolved, err := cfg.Resolve()
	require.NoError(t, err)

	assert.Zero(t, resolved.StartupCacheBudget)
	assert.Zero(t, resolved.SnapshotInterval)
}

func TestConfig_ResolveRejectsMalformedSize(t *testing.T) {
	cfg := validConfig()
	cfg.Backend.StartupCacheBudget = "not-a-size"

	_, err := cfg.Resolve()
	assert.ErrorIs(t, err, config.ErrInvalidSizeFormat)
}

func TestConfig_ResolveRejectsMalformedDuration(t *testing.T) {
	cfg := validConfig()
	cfg.Backend.SnapshotInterval = "not-a-duration"

	_, err := cfg.Resolve()
	assert.ErrorIs(t, err, config.ErrInvalidSnapshotInterval)
}
