package logging

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"

	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a zap logger whose methods take a context. Ids stored in the
// context with WithExperimentID and friends, and the active trace, are
// attached to every entry.
type Logger struct {
	zap    *zap.Logger
	level  *zap.AtomicLevel // nil for loggers built around a bare core
	config *Config
}

// Option customises NewLogger.
type Option func(*buildOptions)

type buildOptions struct {
	out zapcore.WriteSyncer
}

// WithWriter sends the encoded output to w instead of stdout.
func WithWriter(w zapcore.WriteSyncer) Option {
	return func(o *buildOptions) { o.out = w }
}

// NewLogger builds a logger from cfg. A nil otelProvider disables the OTLP
// output even when cfg asks for it.
func NewLogger(cfg *Config, otelProvider log.LoggerProvider, opts ...Option) (*Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	bo := buildOptions{out: zapcore.Lock(os.Stdout)}
	for _, opt := range opts {
		opt(&bo)
	}

	level := zap.NewAtomicLevelAt(cfg.Level)
	core, err := buildCore(cfg, level, bo.out, otelProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create core: %w", err)
	}

	zl := zap.New(core, zapOptions(cfg)...)
	if len(cfg.Fields) > 0 {
		fields := make([]zap.Field, 0, len(cfg.Fields))
		for k, v := range cfg.Fields {
			fields = append(fields, zap.String(k, v))
		}
		zl = zl.With(fields...)
	}
	return &Logger{zap: zl, level: &level, config: cfg}, nil
}

func zapOptions(cfg *Config) []zap.Option {
	var opts []zap.Option
	if cfg.Caller.Enabled {
		// One extra frame for Logger.write.
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(cfg.Caller.Skip+1))
	}
	if cfg.Stacktrace.Level != 0 {
		opts = append(opts, zap.AddStacktrace(cfg.Stacktrace.Level))
	}
	return opts
}

func newEncoder(format string) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "ts"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeLevel = encodeLevel
	if format == "console" {
		return zapcore.NewConsoleEncoder(ec)
	}
	return zapcore.NewJSONEncoder(ec)
}

// encodeLevel writes "trace" for TraceLevel, which zap would print as
// "Level(-2)".
func encodeLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(LevelName(l))
}

// write collects context fields only for entries that will be written.
func (l *Logger) write(ctx context.Context, lvl zapcore.Level, msg string, fields []zap.Field) {
	if ce := l.zap.Check(lvl, msg); ce != nil {
		ce.Write(append(ContextFields(ctx), fields...)...)
	}
}

func (l *Logger) Trace(ctx context.Context, msg string, fields ...zap.Field) {
	l.write(ctx, TraceLevel, msg, fields)
}

func (l *Logger) Debug(ctx context.Context, msg string, fields ...zap.Field) {
	l.write(ctx, zapcore.DebugLevel, msg, fields)
}

func (l *Logger) Info(ctx context.Context, msg string, fields ...zap.Field) {
	l.write(ctx, zapcore.InfoLevel, msg, fields)
}

func (l *Logger) Warn(ctx context.Context, msg string, fields ...zap.Field) {
	l.write(ctx, zapcore.WarnLevel, msg, fields)
}

func (l *Logger) Error(ctx context.Context, msg string, fields ...zap.Field) {
	l.write(ctx, zapcore.ErrorLevel, msg, fields)
}

// With returns a child sharing l's level.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{zap: l.zap.With(fields...), level: l.level, config: l.config}
}

// Named returns a child with name appended to the logger name.
func (l *Logger) Named(name string) *Logger {
	return &Logger{zap: l.zap.Named(name), level: l.level, config: l.config}
}

func (l *Logger) Enabled(level zapcore.Level) bool {
	return l.zap.Core().Enabled(level)
}

// Level returns the current stdout level.
func (l *Logger) Level() zapcore.Level {
	if l.level == nil {
		return l.config.Level
	}
	return l.level.Level()
}

// SetLevel changes the stdout level of l and every logger derived from it.
// It is a no-op for loggers not created by NewLogger.
func (l *Logger) SetLevel(level zapcore.Level) {
	if l.level != nil {
		l.level.SetLevel(level)
	}
}

// Sync flushes buffered entries. EINVAL and ENOTTY from syncing a terminal
// or pipe are ignored.
func (l *Logger) Sync() error {
	err := l.zap.Sync()
	var errno syscall.Errno
	if errors.As(err, &errno) && (errno == syscall.EINVAL || errno == syscall.ENOTTY) {
		return nil
	}
	return err
}

// Underlying returns the zap logger for packages that take a *zap.Logger.
// Context fields are not added automatically there.
func (l *Logger) Underlying() *zap.Logger {
	return l.zap
}
