package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry owns the trace and metric providers of the daemon.
//
// Exporter failures never stop the daemon: the instance is marked degraded
// and Tracer and Meter fall back to the global (no-op) providers.
type Telemetry struct {
	config *Config

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	logProvider    log.LoggerProvider

	healthy  atomic.Bool
	degraded atomic.Bool
	reason   atomic.Value // string, first failure only
}

// New builds the providers described by cfg and installs them as the otel
// globals. A disabled config yields an instance that only hands out no-op
// tracers and meters.
func New(ctx context.Context, cfg *Config, opts ...Option) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	t := &Telemetry{config: cfg}
	t.healthy.Store(true)
	if !cfg.Enabled {
		return t, nil
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	res := newResource(cfg)

	if tp, err := newTracerProvider(ctx, cfg, res, &o); err != nil {
		t.setDegraded("tracer provider failed: %v", err)
	} else {
		t.tracerProvider = tp
		otel.SetTracerProvider(tp)
	}

	if mp, err := newMeterProvider(ctx, cfg, res, &o); err != nil {
		t.setDegraded("meter provider failed: %v", err)
	} else if mp != nil {
		t.meterProvider = mp
		otel.SetMeterProvider(mp)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return t, nil
}

// Tracer returns a tracer from the owned provider, or the global one when
// tracing is off.
func (t *Telemetry) Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	if t == nil || t.tracerProvider == nil {
		return otel.GetTracerProvider().Tracer(name, opts...)
	}
	return t.tracerProvider.Tracer(name, opts...)
}

// Meter returns a meter from the owned provider, or the global one when
// metrics are off.
func (t *Telemetry) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if t == nil || t.meterProvider == nil {
		return otel.GetMeterProvider().Meter(name, opts...)
	}
	return t.meterProvider.Meter(name, opts...)
}

// LoggerProvider is the provider the zap bridge writes to. Nil unless set.
func (t *Telemetry) LoggerProvider() log.LoggerProvider {
	if t == nil {
		return nil
	}
	return t.logProvider
}

// SetLoggerProvider sets the provider returned by LoggerProvider.
func (t *Telemetry) SetLoggerProvider(lp log.LoggerProvider) {
	if t != nil {
		t.logProvider = lp
	}
}

// Shutdown flushes and stops the providers. Without a deadline on ctx the
// configured shutdown timeout applies.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok && t.config != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.Shutdown.Timeout.Duration())
		defer cancel()
	}

	err := t.each(ctx, "shutdown",
		func(ctx context.Context) error { return t.tracerProvider.Shutdown(ctx) },
		func(ctx context.Context) error { return t.meterProvider.Shutdown(ctx) },
	)
	t.healthy.Store(false)
	return err
}

// ForceFlush exports everything pending without stopping the providers.
func (t *Telemetry) ForceFlush(ctx context.Context) error {
	if t == nil {
		return nil
	}
	return t.each(ctx, "flush",
		func(ctx context.Context) error { return t.tracerProvider.ForceFlush(ctx) },
		func(ctx context.Context) error { return t.meterProvider.ForceFlush(ctx) },
	)
}

// each runs the trace step and the metric step for the providers that exist.
func (t *Telemetry) each(ctx context.Context, what string, traces, metrics func(context.Context) error) error {
	var errs []error
	if t.tracerProvider != nil {
		if err := traces(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace %s: %w", what, err))
		}
	}
	if t.meterProvider != nil {
		if err := metrics(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter %s: %w", what, err))
		}
	}
	return errors.Join(errs...)
}

// HealthStatus reports whether the providers are up. Reason holds the
// first failure seen while degraded.
type HealthStatus struct {
	Healthy  bool
	Degraded bool
	Reason   string
}

// Health returns the current status. A nil Telemetry is degraded.
func (t *Telemetry) Health() HealthStatus {
	if t == nil {
		return HealthStatus{Degraded: true}
	}
	reason, _ := t.reason.Load().(string)
	return HealthStatus{
		Healthy:  t.healthy.Load(),
		Degraded: t.degraded.Load(),
		Reason:   reason,
	}
}

// IsEnabled reports whether telemetry was requested and not shut down.
func (t *Telemetry) IsEnabled() bool {
	if t == nil || t.config == nil {
		return false
	}
	return t.config.Enabled && t.healthy.Load()
}

func (t *Telemetry) setDegraded(format string, args ...any) {
	t.degraded.Store(true)
	t.reason.CompareAndSwap(nil, fmt.Sprintf(format, args...))
}
