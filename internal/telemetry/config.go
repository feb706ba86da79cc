package telemetry

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/fyrsmithlabs/latentd/internal/config"
)

// Config describes the OTLP trace and metric pipelines.
type Config struct {
	Enabled        bool           `koanf:"enabled"`
	Endpoint       string         `koanf:"endpoint"` // host:port, or a URL for http/protobuf
	ServiceName    string         `koanf:"service_name"`
	ServiceVersion string         `koanf:"service_version"`
	Insecure       bool           `koanf:"insecure"` // plaintext, local endpoints only
	Protocol       string         `koanf:"protocol"` // grpc (default) or http/protobuf
	TLSSkipVerify  bool           `koanf:"tls_skip_verify"`
	Sampling       SamplingConfig `koanf:"sampling"`
	Metrics        MetricsConfig  `koanf:"metrics"`
	Shutdown       ShutdownConfig `koanf:"shutdown"`
}

// SamplingConfig sets the head sampling ratio for root spans.
type SamplingConfig struct {
	Rate float64 `koanf:"rate"` // 0.0-1.0
}

type MetricsConfig struct {
	Enabled        bool            `koanf:"enabled"`
	ExportInterval config.Duration `koanf:"export_interval"`
}

type ShutdownConfig struct {
	Timeout config.Duration `koanf:"timeout"`
}

// NewDefaultConfig returns a disabled config pointing at a local collector.
func NewDefaultConfig() *Config {
	return &Config{
		Endpoint:       "localhost:4317",
		ServiceName:    "latentd",
		ServiceVersion: "dev",
		Insecure:       true,
		Sampling:       SamplingConfig{Rate: 1},
		Metrics: MetricsConfig{
			Enabled:        true,
			ExportInterval: config.Duration(15 * time.Second),
		},
		Shutdown: ShutdownConfig{Timeout: config.Duration(5 * time.Second)},
	}
}

// Validate checks an enabled config. A disabled one is always valid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	var errs []error
	if c.Endpoint == "" {
		errs = append(errs, errors.New("endpoint is required when telemetry is enabled"))
	} else if c.Insecure && !c.isLocalEndpoint() {
		errs = append(errs, fmt.Errorf("insecure export to %q is not allowed; set insecure=false or use a loopback endpoint", c.Endpoint))
	}
	if c.ServiceName == "" {
		errs = append(errs, errors.New("service_name is required when telemetry is enabled"))
	}
	if c.ServiceVersion == "" {
		errs = append(errs, errors.New("service_version is required when telemetry is enabled"))
	}
	switch c.Protocol {
	case "", protocolGRPC, protocolHTTP:
	default:
		errs = append(errs, fmt.Errorf("protocol must be %s or %s, got %q", protocolGRPC, protocolHTTP, c.Protocol))
	}
	if c.Sampling.Rate < 0 || c.Sampling.Rate > 1 {
		errs = append(errs, fmt.Errorf("sampling.rate must be between 0 and 1, got %g", c.Sampling.Rate))
	}
	if c.Metrics.Enabled && c.Metrics.ExportInterval.Duration() <= 0 {
		errs = append(errs, errors.New("metrics.export_interval must be positive when metrics enabled"))
	}
	if c.Shutdown.Timeout.Duration() <= 0 {
		errs = append(errs, errors.New("shutdown.timeout must be positive"))
	}
	return errors.Join(errs...)
}

func (c *Config) protocol() string {
	if c.Protocol == "" {
		return protocolGRPC
	}
	return c.Protocol
}

// isLocalEndpoint reports whether the endpoint host is localhost or a
// loopback address. The port and URL scheme are optional.
func (c *Config) isLocalEndpoint() bool {
	host := stripScheme(c.Endpoint)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// FromObservability derives the telemetry config from the daemon settings.
func FromObservability(obs config.ObservabilityConfig, version string) *Config {
	cfg := NewDefaultConfig()
	cfg.Enabled = obs.EnableTelemetry
	cfg.Insecure = obs.Insecure
	cfg.Protocol = obs.Protocol
	if obs.Endpoint != "" {
		cfg.Endpoint = obs.Endpoint
	}
	if obs.ServiceName != "" {
		cfg.ServiceName = obs.ServiceName
	}
	if version != "" {
		cfg.ServiceVersion = version
	}
	if obs.SampleRate != nil {
		cfg.Sampling.Rate = *obs.SampleRate
	}
	return cfg
}
