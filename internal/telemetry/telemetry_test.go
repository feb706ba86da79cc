package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/fyrsmithlabs/latentd/internal/config"
)

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)

	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	assert.False(t, tel.IsEnabled())
	assert.Equal(t, HealthStatus{Healthy: true}, tel.Health())
	require.NoError(t, tel.ForceFlush(context.Background()))
	require.NoError(t, tel.Shutdown(context.Background()))
	assert.False(t, tel.Health().Healthy)
}

func TestNew_InvalidConfig(t *testing.T) {
	tel, err := New(context.Background(), &Config{Enabled: true})
	require.Error(t, err)
	assert.Nil(t, tel)
	assert.Contains(t, err.Error(), "invalid telemetry config")
}

func TestNew_InjectedPipeline(t *testing.T) {
	t.Cleanup(resetGlobals)

	cfg := NewDefaultConfig()
	cfg.Enabled = true
	recorder := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()

	tel, err := New(context.Background(), cfg, WithSpanProcessor(recorder), WithMetricReader(reader))
	require.NoError(t, err)
	assert.True(t, tel.IsEnabled())
	assert.False(t, tel.Health().Degraded)

	_, span := otel.Tracer("latentd/test").Start(context.Background(), "workspace.switch_model")
	span.End()
	require.Len(t, recorder.Ended(), 1, "New installs the tracer provider globally")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, tel.Shutdown(ctx))
	assert.False(t, tel.IsEnabled())
}

func TestShutdown_UsesConfiguredTimeout(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Shutdown.Timeout = config.Duration(50 * time.Millisecond)

	tel, err := New(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, tel.Shutdown(context.Background()))
}

func TestTelemetry_NilSafe(t *testing.T) {
	var tel *Telemetry

	assert.NotPanics(t, func() {
		_ = tel.Tracer("test")
		_ = tel.Meter("test")
		_ = tel.LoggerProvider()
		tel.SetLoggerProvider(nil)
		_ = tel.IsEnabled()
		_ = tel.Shutdown(context.Background())
		_ = tel.ForceFlush(context.Background())
	})
	assert.Equal(t, HealthStatus{Degraded: true}, tel.Health())
}

func TestTelemetry_DegradedReason(t *testing.T) {
	tel := &Telemetry{config: NewDefaultConfig()}
	tel.healthy.Store(true)

	tel.setDegraded("tracer provider failed: %v", "boom")
	tel.setDegraded("meter provider failed: %v", "later")

	health := tel.Health()
	assert.True(t, health.Healthy)
	assert.True(t, health.Degraded)
	assert.Equal(t, "tracer provider failed: boom", health.Reason)
}

func TestTestTelemetry_Spans(t *testing.T) {
	tt := NewTestTelemetry()
	tracer := tt.Tracer("test")

	_, first := tracer.Start(context.Background(), "reconcile.encode")
	first.SetAttributes(attribute.Int("batch", 1))
	first.End()
	_, second := tracer.Start(context.Background(), "reconcile.encode")
	second.SetAttributes(attribute.Int("batch", 2), attribute.String("model", "vae-a"))
	second.End()

	assert.Len(t, tt.Spans(), 2)
	assert.Nil(t, tt.SpanByName("missing"))
	tt.AssertSpan(t, "reconcile.encode", attribute.Int("batch", 2), attribute.String("model", "vae-a"))
}

func TestTestTelemetry_Metrics(t *testing.T) {
	tt := NewTestTelemetry()
	ctx := context.Background()

	counter, err := tt.Meter("test").Int64Counter("latentd.saves")
	require.NoError(t, err)
	counter.Add(ctx, 2, metricOpt("driver", "sqlite"))
	counter.Add(ctx, 3, metricOpt("driver", "file"))

	assert.Equal(t, int64(5), tt.Int64Sum(ctx, "latentd.saves"))
	assert.Zero(t, tt.Int64Sum(ctx, "latentd.missing"))

	_, ok := tt.Metric(ctx, "latentd.saves")
	assert.True(t, ok)
}

func TestTestTelemetry_Install(t *testing.T) {
	tt := NewTestTelemetry()

	t.Run("installed", func(t *testing.T) {
		tt.Install(t)

		_, span := otel.Tracer("global").Start(context.Background(), "via-global")
		span.End()
		tt.AssertSpan(t, "via-global")
	})

	_, span := otel.Tracer("global").Start(context.Background(), "after-cleanup")
	span.End()
	assert.Nil(t, tt.SpanByName("after-cleanup"))
}

func metricOpt(k, v string) metric.AddOption {
	return metric.WithAttributes(attribute.String(k, v))
}
