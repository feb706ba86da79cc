package logging

import (
	"context"
	"regexp"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// correlation identifies one id carried in a context. The value doubles as
// the context key and the log field name.
type correlation string

const (
	experimentID correlation = "experiment_id"
	sessionID    correlation = "session_id"
	requestID    correlation = "request_id"
)

// correlations is the order ids appear in log entries.
var correlations = [...]correlation{experimentID, sessionID, requestID}

const maxIDLen = 128

// Ids arrive from clients and backends; anything outside this alphabet is
// dropped before it can reach a log line.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

func (k correlation) with(ctx context.Context, id string) context.Context {
	if !idPattern.MatchString(id) {
		return ctx
	}
	return context.WithValue(ctx, k, id)
}

func (k correlation) from(ctx context.Context) string {
	id, _ := ctx.Value(k).(string)
	return id
}

// ContextFields returns the trace and correlation fields found in ctx, ready
// to append to a log call.
func ContextFields(ctx context.Context) []zap.Field {
	var fields []zap.Field

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.Stringer("trace_id", sc.TraceID()),
			zap.Stringer("span_id", sc.SpanID()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	for _, k := range correlations {
		if id := k.from(ctx); id != "" {
			fields = append(fields, zap.String(string(k), id))
		}
	}
	return fields
}

// WithExperimentID tags ctx with the experiment a call works on.
func WithExperimentID(ctx context.Context, id string) context.Context {
	return experimentID.with(ctx, id)
}

func ExperimentIDFromContext(ctx context.Context) string { return experimentID.from(ctx) }

// WithSessionID tags ctx with the embedding session a call runs under.
func WithSessionID(ctx context.Context, id string) context.Context {
	return sessionID.with(ctx, id)
}

func SessionIDFromContext(ctx context.Context) string { return sessionID.from(ctx) }

// WithRequestID tags ctx with the inbound HTTP request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return requestID.with(ctx, id)
}

func RequestIDFromContext(ctx context.Context) string { return requestID.from(ctx) }
