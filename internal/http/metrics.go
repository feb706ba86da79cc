package http

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/latentd/internal/notify"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/latentd/internal/http"

// apiMetrics records request and event stream metrics. Instruments that
// failed to register stay nil and are skipped.
type apiMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
	streams  metric.Int64UpDownCounter
	events   metric.Int64Counter
}

func newAPIMetrics(meter metric.Meter) (*apiMetrics, error) {
	var m apiMetrics
	var errs []error
	var err error

	m.requests, err = meter.Int64Counter("latentd.http.requests",
		metric.WithDescription("API requests by route template, method and status class."),
		metric.WithUnit("{request}"))
	errs = append(errs, err)

	m.duration, err = meter.Float64Histogram("latentd.http.request.duration",
		metric.WithDescription("API request latency. Event streams are excluded."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30))
	errs = append(errs, err)

	m.streams, err = meter.Int64UpDownCounter("latentd.http.event_streams",
		metric.WithDescription("Open server-sent event streams."),
		metric.WithUnit("{stream}"))
	errs = append(errs, err)

	m.events, err = meter.Int64Counter("latentd.http.events_sent",
		metric.WithDescription("Change events written to event streams, by kind."),
		metric.WithUnit("{event}"))
	errs = append(errs, err)

	return &m, errors.Join(errs...)
}

// mustAPIMetrics logs instrument failures instead of failing the server.
func mustAPIMetrics(logger *zap.Logger) *apiMetrics {
	m, err := newAPIMetrics(otel.Meter(httpInstrumentationName))
	if err != nil {
		logger.Warn("http metrics partially unavailable", zap.Error(err))
	}
	return m
}

// routeLabel is the matched route template, so experiment ids never become
// label values.
func routeLabel(c echo.Context) string {
	if p := c.Path(); p != "" {
		return p
	}
	return "unmatched"
}

func statusClass(status int) string {
	return strconv.Itoa(status/100) + "xx"
}

func (m *apiMetrics) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				// Resolve the final status before recording.
				c.Error(err)
			}

			attrs := metric.WithAttributes(
				attribute.String("route", routeLabel(c)),
				attribute.String("method", c.Request().Method),
				attribute.String("status_class", statusClass(c.Response().Status)),
			)
			ctx := c.Request().Context()
			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.duration != nil && !isEventStream(c) {
				m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			return nil
		}
	}
}

func isEventStream(c echo.Context) bool {
	return c.Response().Header().Get(echo.HeaderContentType) == "text/event-stream"
}

// streamOpened counts an event stream and returns the matching close.
func (m *apiMetrics) streamOpened(ctx context.Context) func() {
	if m.streams == nil {
		return func() {}
	}
	m.streams.Add(ctx, 1)
	return func() { m.streams.Add(context.WithoutCancel(ctx), -1) }
}

func (m *apiMetrics) eventSent(ctx context.Context, kind notify.Kind) {
	if m.events != nil {
		m.events.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
	}
}
