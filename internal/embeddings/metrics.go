package embeddings

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/latentd/internal/latent"
)

const embeddingsInstrumentationName = "github.com/fyrsmithlabs/latentd/internal/embeddings"

// Embedding service operations, used as the "op" attribute.
const (
	opSessionStart = "session_start"
	opSessionEnd   = "session_end"
	opEncode       = "encode"
	opDecode       = "decode"
	opListModels   = "list_models"
)

// callMetrics times embedding service calls and counts failures by class.
type callMetrics struct {
	latency  metric.Float64Histogram
	items    metric.Int64Histogram
	failures metric.Int64Counter
}

func newCallMetrics(meter metric.Meter) (*callMetrics, error) {
	var m callMetrics
	var err, errs error

	m.latency, err = meter.Float64Histogram("latentd.embedding.call.duration",
		metric.WithDescription("Embedding service call latency by operation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60))
	errs = errors.Join(errs, err)

	m.items, err = meter.Int64Histogram("latentd.embedding.call.items",
		metric.WithDescription("Sequences encoded or points decoded per call."),
		metric.WithUnit("{item}"),
		metric.WithExplicitBucketBoundaries(1, 4, 16, 64, 256, 1024, 4096))
	errs = errors.Join(errs, err)

	m.failures, err = meter.Int64Counter("latentd.embedding.call.failures",
		metric.WithDescription("Failed embedding service calls by operation and error class."),
		metric.WithUnit("{call}"))
	errs = errors.Join(errs, err)

	return &m, errs
}

func defaultCallMetrics(logger *zap.Logger) *callMetrics {
	m, err := newCallMetrics(otel.Meter(embeddingsInstrumentationName))
	if err != nil {
		logger.Warn("embedding metrics partially unavailable", zap.Error(err))
	}
	return m
}

// errorClass buckets err into the engine's error kinds.
func errorClass(err error) string {
	switch {
	case errors.Is(err, latent.ErrStaleSession):
		return "stale_session"
	case errors.Is(err, latent.ErrValidation):
		return "validation"
	case errors.Is(err, latent.ErrUnknownKey):
		return "unknown_key"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "service"
	}
}

// track starts timing op over n items. Call the result with the outcome.
func (m *callMetrics) track(ctx context.Context, op string, n int) func(error) {
	start := time.Now()
	return func(err error) {
		opAttr := attribute.String("op", op)
		if m.latency != nil {
			m.latency.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(opAttr))
		}
		if n > 0 && m.items != nil {
			m.items.Record(ctx, int64(n), metric.WithAttributes(opAttr))
		}
		if err != nil && m.failures != nil {
			m.failures.Add(ctx, 1, metric.WithAttributes(opAttr, attribute.String("class", errorClass(err))))
		}
	}
}
