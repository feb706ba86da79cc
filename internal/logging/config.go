package logging

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/latentd/internal/config"
)

// Config holds logging configuration.
type Config struct {
	Level      zapcore.Level     `koanf:"level"`
	Format     string            `koanf:"format"` // json or console
	Output     OutputConfig      `koanf:"output"`
	Sampling   SamplingConfig    `koanf:"sampling"`
	Caller     CallerConfig      `koanf:"caller"`
	Stacktrace StacktraceConfig  `koanf:"stacktrace"`
	Fields     map[string]string `koanf:"fields"` // added to every entry
	Redaction  RedactionConfig   `koanf:"redaction"`
}

// OutputConfig selects the text output and the OTLP log bridge.
type OutputConfig struct {
	Stdout bool `koanf:"stdout"`
	OTEL   bool `koanf:"otel"`
}

// SamplingConfig limits entries per Tick, separately for each level.
type SamplingConfig struct {
	Enabled bool                                  `koanf:"enabled"`
	Tick    config.Duration                       `koanf:"tick"`
	Levels  map[zapcore.Level]LevelSamplingConfig `koanf:"levels"`
}

// LevelSamplingConfig keeps the first Initial entries with the same message
// per tick, then every Thereafter-th. Thereafter 0 drops the rest.
type LevelSamplingConfig struct {
	Initial    int `koanf:"initial"`
	Thereafter int `koanf:"thereafter"`
}

type CallerConfig struct {
	Enabled bool `koanf:"enabled"`
	Skip    int  `koanf:"skip"`
}

// StacktraceConfig attaches stack traces at Level and above.
type StacktraceConfig struct {
	Level zapcore.Level `koanf:"level"`
}

// RedactionConfig controls what the text output scrubs.
type RedactionConfig struct {
	Enabled  bool     `koanf:"enabled"`
	Fields   []string `koanf:"fields"`   // keys, case-insensitive
	Patterns []string `koanf:"patterns"` // regexps matched against values

	// MaxValueLen truncates longer string values, such as whole sequence
	// batches. Zero disables truncation.
	MaxValueLen int `koanf:"max_value_len"`
}

// NewDefaultConfig returns the daemon's logging defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  zapcore.InfoLevel,
		Format: "json",
		Output: OutputConfig{Stdout: true},
		Sampling: SamplingConfig{
			Enabled: true,
			Tick:    config.Duration(time.Second),
			Levels:  DefaultLevelSamplingConfig(),
		},
		Caller:     CallerConfig{Enabled: true, Skip: 1},
		Stacktrace: StacktraceConfig{Level: zapcore.ErrorLevel},
		Fields:     map[string]string{"service": "latentd"},
		Redaction: RedactionConfig{
			Enabled: true,
			Fields: []string{
				"password", "secret", "token", "api_key",
				"authorization", "bearer", "credential", "private_key",
			},
			Patterns: []string{
				`(?i)bearer\s+\S+`,
				`(?i)api[_-]?key[=:]\s*\S+`,
			},
			MaxValueLen: 512,
		},
	}
}

// DefaultLevelSamplingConfig samples trace and debug hard and leaves room
// for request logs. Error and above are never sampled.
func DefaultLevelSamplingConfig() map[zapcore.Level]LevelSamplingConfig {
	return map[zapcore.Level]LevelSamplingConfig{
		TraceLevel:         {Initial: 1},
		zapcore.DebugLevel: {Initial: 10},
		zapcore.InfoLevel:  {Initial: 100, Thereafter: 10},
		zapcore.WarnLevel:  {Initial: 100, Thereafter: 100},
	}
}

// Validate reports every problem in c.
func (c *Config) Validate() error {
	var errs []error

	if c.Format != "json" && c.Format != "console" {
		errs = append(errs, fmt.Errorf("format must be 'json' or 'console', got %q", c.Format))
	}
	if !c.Output.Stdout && !c.Output.OTEL {
		errs = append(errs, errors.New("at least one output must be enabled (stdout or otel)"))
	}
	if c.Sampling.Enabled && c.Sampling.Tick.Duration() <= 0 {
		errs = append(errs, errors.New("sampling tick must be > 0 when sampling enabled"))
	}
	if c.Caller.Enabled && c.Caller.Skip < 0 {
		errs = append(errs, fmt.Errorf("caller skip must be >= 0, got %d", c.Caller.Skip))
	}

	if c.Redaction.Enabled {
		for _, p := range c.Redaction.Patterns {
			if len(p) > maxPatternLen {
				errs = append(errs, fmt.Errorf("redaction pattern too long (max %d chars): %.32q", maxPatternLen, p))
				continue
			}
			if _, err := regexp.Compile(p); err != nil {
				errs = append(errs, fmt.Errorf("invalid redaction pattern %q: %w", p, err))
			}
		}
		if c.Redaction.MaxValueLen < 0 {
			errs = append(errs, fmt.Errorf("redaction max_value_len must be >= 0, got %d", c.Redaction.MaxValueLen))
		}
	}

	for k, v := range c.Fields {
		switch {
		case k == "":
			errs = append(errs, errors.New("field key cannot be empty"))
		case v == "":
			errs = append(errs, fmt.Errorf("field %q has empty value", k))
		}
	}

	return errors.Join(errs...)
}

// FromObservability derives the daemon's logging config. Entries also go
// to the OTLP bridge when telemetry is enabled.
func FromObservability(obs config.ObservabilityConfig) (*Config, error) {
	cfg := NewDefaultConfig()

	if obs.LogLevel != "" {
		level, err := LevelFromString(obs.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", obs.LogLevel, err)
		}
		cfg.Level = level
	}
	if obs.LogFormat != "" {
		cfg.Format = obs.LogFormat
	}
	if obs.ServiceName != "" {
		cfg.Fields["service"] = obs.ServiceName
	}
	cfg.Output.OTEL = obs.EnableTelemetry

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
