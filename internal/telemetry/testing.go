package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// TestTelemetry records spans and metrics in memory.
type TestTelemetry struct {
	*Telemetry

	recorder *tracetest.SpanRecorder
	reader   *sdkmetric.ManualReader
}

// NewTestTelemetry returns an enabled Telemetry backed by an in-memory span
// recorder and a manual metric reader. Unlike New it leaves the otel
// globals alone; see Install.
func NewTestTelemetry() *TestTelemetry {
	cfg := NewDefaultConfig()
	cfg.Enabled = true

	recorder := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()

	tel := &Telemetry{
		config:         cfg,
		tracerProvider: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)),
		meterProvider:  sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	}
	tel.healthy.Store(true)
	return &TestTelemetry{Telemetry: tel, recorder: recorder, reader: reader}
}

// Install makes the test providers the otel globals until tb ends, so
// components that call otel.Tracer or otel.Meter report here. Components
// must be constructed after Install. The globals are reset to no-op
// providers afterwards; the default delegating ones cannot be restored.
func (t *TestTelemetry) Install(tb testing.TB) {
	tb.Helper()
	otel.SetTracerProvider(t.tracerProvider)
	otel.SetMeterProvider(t.meterProvider)
	tb.Cleanup(resetGlobals)
}

func resetGlobals() {
	otel.SetTracerProvider(tracenoop.NewTracerProvider())
	otel.SetMeterProvider(metricnoop.NewMeterProvider())
}

// Spans returns the ended spans.
func (t *TestTelemetry) Spans() []sdktrace.ReadOnlySpan {
	return t.recorder.Ended()
}

// SpanByName returns the last ended span called name, or nil.
func (t *TestTelemetry) SpanByName(name string) sdktrace.ReadOnlySpan {
	spans := t.Spans()
	for i := len(spans) - 1; i >= 0; i-- {
		if spans[i].Name() == name {
			return spans[i]
		}
	}
	return nil
}

// AssertSpan fails tb unless a span called name ended carrying every
// attribute in want.
func (t *TestTelemetry) AssertSpan(tb testing.TB, name string, want ...attribute.KeyValue) {
	tb.Helper()
	span := t.SpanByName(name)
	if span == nil {
		names := make([]string, 0, len(t.Spans()))
		for _, s := range t.Spans() {
			names = append(names, s.Name())
		}
		tb.Errorf("span %q not recorded, have %v", name, names)
		return
	}

	got := attribute.NewSet(span.Attributes()...)
	for _, kv := range want {
		v, ok := got.Value(kv.Key)
		switch {
		case !ok:
			tb.Errorf("span %q: missing attribute %q", name, kv.Key)
		case v != kv.Value:
			tb.Errorf("span %q: attribute %q = %v, want %v", name, kv.Key, v.Emit(), kv.Value.Emit())
		}
	}
}

// Collect reads the current metric state.
func (t *TestTelemetry) Collect(ctx context.Context) (metricdata.ResourceMetrics, error) {
	var rm metricdata.ResourceMetrics
	err := t.reader.Collect(ctx, &rm)
	return rm, err
}

// Metric returns the collected metric called name, if any.
func (t *TestTelemetry) Metric(ctx context.Context, name string) (metricdata.Metrics, bool) {
	rm, err := t.Collect(ctx)
	if err != nil {
		return metricdata.Metrics{}, false
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

// Int64Sum adds up every data point of the int64 counter called name.
func (t *TestTelemetry) Int64Sum(ctx context.Context, name string) int64 {
	m, ok := t.Metric(ctx, name)
	if !ok {
		return 0
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		return 0
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}
