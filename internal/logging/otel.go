package logging

import (
	"errors"
	"fmt"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap/zapcore"
)

// buildCore tees the redacted text output with the OTLP bridge and wraps
// the result in the sampler. Only the text output follows level; the bridge
// keeps every entry for the collector to filter.
func buildCore(cfg *Config, level zapcore.LevelEnabler, out zapcore.WriteSyncer, otelProvider log.LoggerProvider) (zapcore.Core, error) {
	var cores []zapcore.Core

	if cfg.Output.Stdout {
		enc, err := NewRedactingEncoder(newEncoder(cfg.Format), cfg.Redaction)
		if err != nil {
			return nil, fmt.Errorf("failed to create redacting encoder: %w", err)
		}
		cores = append(cores, zapcore.NewCore(enc, out, level))
	}

	if cfg.Output.OTEL && otelProvider != nil {
		scope := cfg.Fields["service"]
		if scope == "" {
			scope = "latentd"
		}
		cores = append(cores, otelzap.NewCore(scope, otelzap.WithLoggerProvider(otelProvider)))
	}

	if len(cores) == 0 {
		return nil, errors.New("at least one output must be enabled and available")
	}
	return newSampledCore(zapcore.NewTee(cores...), cfg.Sampling), nil
}
