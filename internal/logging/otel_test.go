package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/log/noop"
	"go.uber.org/zap/zapcore"
)

func TestBuildCore(t *testing.T) {
	tests := []struct {
		name     string
		stdout   bool
		otel     bool
		provider bool
		wantErr  bool
	}{
		{"stdout only", true, false, false, false},
		{"stdout and otel", true, true, true, false},
		{"otel only", false, true, true, false},
		{"otel without provider", false, true, false, true},
		{"nothing", false, false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			cfg.Output.Stdout = tt.stdout
			cfg.Output.OTEL = tt.otel
			var buf bytes.Buffer

			var core zapcore.Core
			var err error
			if tt.provider {
				core, err = buildCore(cfg, cfg.Level, zapcore.AddSync(&buf), noop.NewLoggerProvider())
			} else {
				core, err = buildCore(cfg, cfg.Level, zapcore.AddSync(&buf), nil)
			}
			if tt.wantErr {
				assert.ErrorContains(t, err, "at least one output")
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, core)
		})
	}
}
