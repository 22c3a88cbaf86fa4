package telemetry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefang-labs/taskgraph/internal/telemetry"
)

func TestInit_NoopWhenNoEndpointOrMetricsAddr(t *testing.T) {
	t.Parallel()

	cfg := telemetry.DefaultConfig()

	providers, err := telemetry.Init(cfg)
	require.NoError(t, err)

	assert.NotNil(t, providers.Tracer)
	assert.NotNil(t, providers.Meter)
	assert.NotNil(t, providers.Logger)
	assert.NotNil(t, providers.Shutdown)

	_, hasHandler := providers.MetricsHandler()
	assert.False(t, hasHandler)

	assert.NoError(t, providers.Shutdown(context.Background()))
}

func TestInit_NoopSpanIsValid(t *testing.T) {
	t.Parallel()

	cfg := telemetry.DefaultConfig()

	providers, err := telemetry.Init(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, providers.Shutdown(context.Background())) })

	ctx, span := providers.Tracer.Start(context.Background(), "test-op")
	defer span.End()

	assert.NotNil(t, ctx)
	assert.NotNil(t, span)
}

func TestInit_WithResourceAttributes(t *testing.T) {
	t.Parallel()

	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = "1.2.3"
	cfg.Environment = "test"
	cfg.Mode = telemetry.ModeGC

	providers, err := telemetry.Init(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, providers.Shutdown(context.Background())) })

	assert.NotNil(t, providers.Tracer)
	assert.NotNil(t, providers.Meter)
}

func TestInit_MetricsAddrSelectsPrometheusPath(t *testing.T) {
	t.Parallel()

	cfg := telemetry.DefaultConfig()
	cfg.MetricsAddr = ":0"

	providers, err := telemetry.Init(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, providers.Shutdown(context.Background())) })

	handler, hasHandler := providers.MetricsHandler()
	assert.True(t, hasHandler)
	assert.NotNil(t, handler)
}

func TestInit_LoggerIsUsable(t *testing.T) {
	t.Parallel()

	cfg := telemetry.DefaultConfig()
	cfg.LogJSON = true

	providers, err := telemetry.Init(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, providers.Shutdown(context.Background())) })

	assert.NotNil(t, providers.Logger)
	providers.Logger.Info("telemetry initialized", "mode", string(cfg.Mode))
}

func TestParseOTLPHeaders(t *testing.T) {
	t.Parallel()

	assert.Nil(t, telemetry.ParseOTLPHeaders(""))
	assert.Equal(t, map[string]string{"authorization": "Bearer token"}, telemetry.ParseOTLPHeaders("authorization=Bearer token"))
	assert.Equal(t,
		map[string]string{"a": "1", "b": "2"},
		telemetry.ParseOTLPHeaders(" a=1 , b=2 "),
	)
}
