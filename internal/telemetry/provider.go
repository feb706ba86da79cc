package telemetry

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc/credentials"
)

const (
	protocolGRPC = "grpc"
	protocolHTTP = "http/protobuf"
)

// newResource describes this process. The instance id changes on every
// start so two daemons sharing a service name stay distinguishable.
func newResource(cfg *Config) *resource.Resource {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		attribute.String("service.instance.id", uuid.NewString()),
	}
	if host, err := os.Hostname(); err == nil {
		attrs = append(attrs, semconv.HostName(host))
	}
	// Standalone resource: resource.Default() carries a different schema URL.
	return resource.NewWithAttributes(semconv.SchemaURL, attrs...)
}

// exportTLS returns the client TLS config when verification is skipped, or
// nil to use the exporter defaults.
func exportTLS(cfg *Config) *tls.Config {
	if cfg.Insecure || !cfg.TLSSkipVerify {
		return nil
	}
	return &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for private CAs
}

func newSpanExporter(ctx context.Context, cfg *Config) (sdktrace.SpanExporter, error) {
	tlsCfg := exportTLS(cfg)
	if cfg.protocol() == protocolHTTP {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(stripScheme(cfg.Endpoint))}
		switch {
		case cfg.Insecure:
			opts = append(opts, otlptracehttp.WithInsecure())
		case tlsCfg != nil:
			opts = append(opts, otlptracehttp.WithTLSClientConfig(tlsCfg))
		}
		return otlptracehttp.New(ctx, opts...)
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	switch {
	case cfg.Insecure:
		opts = append(opts, otlptracegrpc.WithInsecure())
	case tlsCfg != nil:
		opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewTLS(tlsCfg)))
	}
	return otlptracegrpc.New(ctx, opts...)
}

// cumulative keeps counters monotonic for Prometheus-style backends,
// whatever OTEL_EXPORTER_OTLP_METRICS_TEMPORALITY_PREFERENCE says.
func cumulative(sdkmetric.InstrumentKind) metricdata.Temporality {
	return metricdata.CumulativeTemporality
}

func newMetricExporter(ctx context.Context, cfg *Config) (sdkmetric.Exporter, error) {
	tlsCfg := exportTLS(cfg)
	if cfg.protocol() == protocolHTTP {
		opts := []otlpmetrichttp.Option{
			otlpmetrichttp.WithEndpoint(stripScheme(cfg.Endpoint)),
			otlpmetrichttp.WithTemporalitySelector(cumulative),
		}
		switch {
		case cfg.Insecure:
			opts = append(opts, otlpmetrichttp.WithInsecure())
		case tlsCfg != nil:
			opts = append(opts, otlpmetrichttp.WithTLSClientConfig(tlsCfg))
		}
		return otlpmetrichttp.New(ctx, opts...)
	}

	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
		otlpmetricgrpc.WithTemporalitySelector(cumulative),
	}
	switch {
	case cfg.Insecure:
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	case tlsCfg != nil:
		opts = append(opts, otlpmetricgrpc.WithTLSCredentials(credentials.NewTLS(tlsCfg)))
	}
	return otlpmetricgrpc.New(ctx, opts...)
}

// sampler samples root spans at the configured rate and follows the parent
// decision otherwise.
func sampler(rate float64) sdktrace.Sampler {
	var root sdktrace.Sampler
	switch {
	case rate >= 1:
		root = sdktrace.AlwaysSample()
	case rate <= 0:
		root = sdktrace.NeverSample()
	default:
		root = sdktrace.TraceIDRatioBased(rate)
	}
	return sdktrace.ParentBased(root)
}

func newTracerProvider(ctx context.Context, cfg *Config, res *resource.Resource, o *options) (*sdktrace.TracerProvider, error) {
	popts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.Sampling.Rate)),
	}
	switch {
	case o.spanProcessor != nil:
		popts = append(popts, sdktrace.WithSpanProcessor(o.spanProcessor))
	case o.spanExporter != nil:
		popts = append(popts, sdktrace.WithSyncer(o.spanExporter))
	default:
		exp, err := newSpanExporter(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("creating trace exporter: %w", err)
		}
		popts = append(popts, sdktrace.WithBatcher(exp))
	}
	return sdktrace.NewTracerProvider(popts...), nil
}

// newMeterProvider returns nil when metrics export is off and no reader was
// injected.
func newMeterProvider(ctx context.Context, cfg *Config, res *resource.Resource, o *options) (*sdkmetric.MeterProvider, error) {
	reader := o.metricReader
	if reader == nil {
		if !cfg.Metrics.Enabled {
			return nil, nil
		}
		exp, err := newMetricExporter(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("creating metric exporter: %w", err)
		}
		reader = sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(cfg.Metrics.ExportInterval.Duration()))
	}
	return sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(reader)), nil
}

// stripScheme turns a URL into the host:port the HTTP exporters expect.
func stripScheme(endpoint string) string {
	if _, rest, ok := strings.Cut(endpoint, "://"); ok {
		return rest
	}
	return endpoint
}

// Option customises New.
type Option func(*options)

type options struct {
	spanExporter  sdktrace.SpanExporter
	spanProcessor sdktrace.SpanProcessor
	metricReader  sdkmetric.Reader
}

// WithSpanExporter sends spans synchronously to exp instead of OTLP.
func WithSpanExporter(exp sdktrace.SpanExporter) Option {
	return func(o *options) { o.spanExporter = exp }
}

// WithSpanProcessor registers p instead of an OTLP exporter.
func WithSpanProcessor(p sdktrace.SpanProcessor) Option {
	return func(o *options) { o.spanProcessor = p }
}

// WithMetricReader collects metrics through r instead of a periodic OTLP
// export.
func WithMetricReader(r sdkmetric.Reader) Option {
	return func(o *options) { o.metricReader = r }
}
