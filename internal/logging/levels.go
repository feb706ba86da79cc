package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

// TraceLevel sits below Debug. latentd uses it for per-batch encode/decode
// detail and raw backend payload sizes.
const TraceLevel = zapcore.Level(-2)

// LevelFromString parses a level name. Matching ignores case and
// surrounding space, and "trace" selects TraceLevel.
func LevelFromString(level string) (zapcore.Level, error) {
	name := strings.ToLower(strings.TrimSpace(level))
	if name == "trace" {
		return TraceLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
	return l, nil
}

// LevelName is the inverse of LevelFromString.
func LevelName(l zapcore.Level) string {
	if l == TraceLevel {
		return "trace"
	}
	return l.String()
}
