package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestNewManagerDisabledByDefault(t *testing.T) {
	cfg := &Config{}
	m, err := NewManager(context.Background(), cfg)
	require.NoError(t, err)
	assert.False(t, m.TracingEnabled())
	assert.False(t, m.MetricsEnabled())
}

func TestNewManagerNilConfig(t *testing.T) {
	m, err := NewManager(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, m.TracingEnabled())
	assert.False(t, m.MetricsEnabled())
	assert.NoError(t, m.Shutdown(context.Background()))
}

func TestNewManagerMetricsEnabled(t *testing.T) {
	cfg := &Config{Metrics: MetricsConfig{Enabled: true}}
	m, err := NewManager(context.Background(), cfg)
	require.NoError(t, err)
	assert.True(t, m.MetricsEnabled())
	assert.NotNil(t, m.Metrics())
}

func TestNewManagerRejectsInvalidSamplingRate(t *testing.T) {
	cfg := &Config{Tracing: TracingConfig{Enabled: true, SamplingRate: 2.0}}
	_, err := NewManager(context.Background(), cfg)
	require.Error(t, err)
}

func TestNoopMetricsIsSafeToCall(t *testing.T) {
	var metrics Recorder = NoopMetrics{}

	assert.NotPanics(t, func() {
		metrics.RecordTransition("a", "b")
		metrics.RecordFailure("type", "severity")
		metrics.RecordRecoveryStrategy("strategy", true)
	})
}

func TestNoopTracerIsSafeToCall(t *testing.T) {
	tracer := NoopTracer{}
	ctx := context.Background()

	assert.NotPanics(t, func() {
		newCtx, span := tracer.Start(ctx, "op")
		tracer.RecordError(span, assert.AnError)
		assert.NoError(t, tracer.Shutdown(newCtx))
	})
}

var _ = trace.SpanFromContext // keep the trace import exercised by NoopTracer's signature

func TestConfigSetDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()
	assert.Equal(t, DefaultServiceName, cfg.Tracing.ServiceName)
	assert.Equal(t, DefaultSamplingRate, cfg.Tracing.SamplingRate)
	assert.Equal(t, DefaultMetricsPath, cfg.Metrics.Endpoint)
	assert.Equal(t, "pipeline_orchestrator", cfg.Metrics.Namespace)
}
