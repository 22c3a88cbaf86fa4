// Package config loads the engine's viper-backed configuration: the
// backend's storage and worker knobs, and the telemetry exporters it wires
// on startup. Byte-size and duration fields are accepted in human-readable
// form ("256MB", "1GiB", "5s") and parsed via Resolve, the same
// humanize.ParseBytes convention the teacher's own config layer uses for
// memory budgets.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// Config is the top-level configuration struct.
type Config struct {
	Backend   BackendConfig   `mapstructure:"backend"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// BackendConfig holds the taskgraph backend's resource and storage knobs.
type BackendConfig struct {
	// DataDir is the base directory ResolveVersionedDir resolves a
	// concrete versioned database directory under.
	DataDir string `mapstructure:"data_dir"`

	// Workers bounds how many task executions the host may run
	// concurrently; zero means "caller decides", since the backend itself
	// does not own a worker pool (spec.md PURPOSE & SCOPE: scheduling is
	// external).
	Workers int `mapstructure:"workers"`

	// StartupCacheBudget bounds the backingstore.StartupCache overlay, in
	// humanize byte notation. Empty disables the overlay.
	StartupCacheBudget string `mapstructure:"startup_cache_budget"`

	// SnapshotInterval is how often `taskgraphd run`'s ticker calls
	// RunBackendJob to take a snapshot, in time.ParseDuration notation.
	SnapshotInterval string `mapstructure:"snapshot_interval"`

	// DisableVersioning and IgnoreDirty mirror backingstore.ResolveVersionedDir's
	// DISABLE_VERSIONING/IGNORE_DIRTY env toggles as config fields, so a
	// deployment can pin them in a config file instead of process
	// environment; LoadConfig exports them back into the process
	// environment at load time (see loader.go) since ResolveVersionedDir
	// only ever consults the environment.
	DisableVersioning bool `mapstructure:"disable_versioning"`
	IgnoreDirty       bool `mapstructure:"ignore_dirty"`
}

// TelemetryConfig holds exporter endpoints and the log level.
type TelemetryConfig struct {
	LogLevel     string `mapstructure:"log_level"`
	MetricsAddr  string `mapstructure:"metrics_addr"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// Resolved is Config with every humanize/duration string field parsed, the
// form the rest of the engine actually consumes.
type Resolved struct {
	DataDir            string
	Workers            int
	StartupCacheBudget int64
	SnapshotInterval   time.Duration
	DisableVersioning  bool
	IgnoreDirty        bool

	LogLevel     string
	MetricsAddr  string
	OTLPEndpoint string
}

// Sentinel errors for configuration validation.
var (
	ErrInvalidWorkers          = errors.New("backend.workers must be non-negative")
	ErrInvalidSizeFormat       = errors.New("invalid size format")
	ErrInvalidSnapshotInterval = errors.New("invalid snapshot_interval format")
)

// Validate checks Config invariants that don't require parsing a size or
// duration string (Resolve performs those checks as a side effect of
// parsing).
func (c *Config) Validate() error {
	if c.Backend.Workers < 0 {
		return ErrInvalidWorkers
	}

	return nil
}

// Resolve parses every humanize/duration field, returning the first parse
// error encountered.
func (c *Config) Resolve() (Resolved, error) {
	r := Resolved{
		DataDir:           c.Backend.DataDir,
		Workers:           c.Backend.Workers,
		DisableVersioning: c.Backend.DisableVersioning,
		IgnoreDirty:       c.Backend.IgnoreDirty,
		LogLevel:          c.Telemetry.LogLevel,
		MetricsAddr:       c.Telemetry.MetricsAddr,
		OTLPEndpoint:      c.Telemetry.OTLPEndpoint,
	}

	if c.Backend.StartupCacheBudget != "" {
		budget, err := humanize.ParseBytes(c.Backend.StartupCacheBudget)
		if err != nil {
			return Resolved{}, fmt.Errorf("%w for startup_cache_budget: %s", ErrInvalidSizeFormat, c.Backend.StartupCacheBudget)
		}

		r.StartupCacheBudget = int64(budget) //nolint:gosec // humanize bounds this well under int64 range
	}

	if c.Backend.SnapshotInterval != "" {
		interval, err := time.ParseDuration(c.Backend.SnapshotInterval)
		if err != nil {
			return Resolved{}, fmt.Errorf("%w: %s", ErrInvalidSnapshotInterval, c.Backend.SnapshotInterval)
		}

		r.SnapshotInterval = interval
	}

	return r, nil
}
