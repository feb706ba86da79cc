// Package config provides configuration loading for latentd.
//
// Configuration is assembled from hardcoded defaults, an optional YAML file
// and LATENTD_ prefixed environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Storage drivers.
const (
	StorageSQLite = "sqlite"
	StorageFile   = "file"
)

// Config holds the complete latentd configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Backend       BackendConfig       `koanf:"backend"`
	Reconcile     ReconcileConfig     `koanf:"reconcile"`
	Storage       StorageConfig       `koanf:"storage"`
	NATS          NATSConfig          `koanf:"nats"`
	Observability ObservabilityConfig `koanf:"observability"`
	Optimization  OptimizationConfig  `koanf:"optimization"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"http_host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	Heartbeat       Duration `koanf:"heartbeat"`
}

// BackendConfig describes the model service that encodes, decodes and
// optimizes.
type BackendConfig struct {
	BaseURL string   `koanf:"base_url"`
	Timeout Duration `koanf:"timeout"`
	Rate    float64  `koanf:"rate"`
	Burst   int      `koanf:"burst"`
}

// ReconcileConfig bounds the fan-out of batch encode/decode calls.
type ReconcileConfig struct {
	BatchSize   int `koanf:"batch_size"`
	Concurrency int `koanf:"concurrency"`
}

// StorageConfig selects where experiment snapshots are kept.
type StorageConfig struct {
	Driver string `koanf:"driver"` // sqlite or file
	Path   string `koanf:"path"`
}

// NATSConfig controls publication of workspace change events.
type NATSConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
	Prefix  string `koanf:"prefix"`
	Token   Secret `koanf:"token"`
}

// ObservabilityConfig holds logging and OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
	Endpoint        string `koanf:"endpoint"`
	Insecure        bool   `koanf:"insecure"`
	Protocol        string `koanf:"protocol"` // grpc or http/protobuf
	LogLevel        string `koanf:"log_level"`
	LogFormat       string `koanf:"log_format"` // json or console

	// SampleRate is the trace head sampling ratio. Unset means sample all.
	SampleRate *float64 `koanf:"sample_rate"`
}

// OptimizationConfig holds the optimization settings new experiments start with.
type OptimizationConfig struct {
	Method string  `koanf:"method"`
	Budget int     `koanf:"budget"`
	Bound  float64 `koanf:"bound"` // symmetric latent-space half-width
	Step   float64 `koanf:"step"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8088,
			ShutdownTimeout: Duration(10 * time.Second),
			Heartbeat:       Duration(30 * time.Second),
		},
		Backend: BackendConfig{
			BaseURL: "http://localhost:18042/api",
			Timeout: Duration(30 * time.Second),
			Rate:    20,
			Burst:   10,
		},
		Reconcile: ReconcileConfig{
			BatchSize:   256,
			Concurrency: 4,
		},
		Storage: StorageConfig{
			Driver: StorageSQLite,
			Path:   defaultDataDir(),
		},
		NATS: NATSConfig{
			URL:    "nats://localhost:4222",
			Prefix: "latentd",
		},
		Observability: ObservabilityConfig{
			ServiceName: "latentd",
			Endpoint:    "localhost:4317",
			Insecure:    true,
			LogLevel:    "info",
			LogFormat:   "json",
		},
		Optimization: OptimizationConfig{
			Method: "qEI",
			Budget: 3,
			Bound:  3.5,
			Step:   0.1,
		},
	}
}

// Load loads configuration from defaults and LATENTD_ environment variables.
//
// Environment variables:
//   - LATENTD_SERVER_HTTP_PORT: HTTP server port (default: 8088)
//   - LATENTD_SERVER_SHUTDOWN_TIMEOUT: Graceful shutdown timeout (default: 10s)
//   - LATENTD_BACKEND_BASE_URL: Model service URL (default: http://localhost:18042/api)
//   - LATENTD_STORAGE_DRIVER: sqlite or file (default: sqlite)
//   - LATENTD_STORAGE_PATH: Experiment data directory (default: ~/.local/share/latentd)
//   - LATENTD_NATS_ENABLED: Publish change events to NATS (default: false)
//   - LATENTD_OBSERVABILITY_ENABLE_TELEMETRY: Enable OpenTelemetry (default: false)
//
// Example:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    return err
//	}
//	fmt.Println("Server port:", cfg.Server.Port)
func Load() (*Config, error) {
	k, err := newKoanf(nil, nil)
	if err != nil {
		return nil, err
	}
	return unmarshal(k)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.http_port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be positive"))
	}
	if c.Server.Heartbeat.Duration() <= 0 {
		errs = append(errs, errors.New("server.heartbeat must be positive"))
	}

	if u, err := url.Parse(c.Backend.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("backend.base_url %q is not an absolute URL", c.Backend.BaseURL))
	}
	if c.Backend.Rate < 0 {
		errs = append(errs, errors.New("backend.rate must not be negative"))
	}
	if c.Backend.Rate > 0 && c.Backend.Burst < 1 {
		errs = append(errs, errors.New("backend.burst must be positive when backend.rate is set"))
	}

	if c.Reconcile.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("reconcile.batch_size must be positive, got %d", c.Reconcile.BatchSize))
	}
	if c.Reconcile.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("reconcile.concurrency must be positive, got %d", c.Reconcile.Concurrency))
	}

	switch c.Storage.Driver {
	case StorageSQLite, StorageFile:
	default:
		errs = append(errs, fmt.Errorf("storage.driver must be %q or %q, got %q", StorageSQLite, StorageFile, c.Storage.Driver))
	}
	if c.Storage.Path == "" {
		errs = append(errs, errors.New("storage.path is required"))
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		errs = append(errs, errors.New("nats.url is required when nats is enabled"))
	}

	if c.Observability.ServiceName == "" {
		errs = append(errs, errors.New("observability.service_name is required"))
	}
	switch c.Observability.Protocol {
	case "", "grpc", "http/protobuf":
	default:
		errs = append(errs, fmt.Errorf("observability.protocol must be grpc or http/protobuf, got %q", c.Observability.Protocol))
	}
	if r := c.Observability.SampleRate; r != nil && (*r < 0 || *r > 1) {
		errs = append(errs, fmt.Errorf("observability.sample_rate must be between 0 and 1, got %g", *r))
	}

	if c.Optimization.Budget < 1 {
		errs = append(errs, fmt.Errorf("optimization.budget must be positive, got %d", c.Optimization.Budget))
	}
	if c.Optimization.Bound <= 0 || c.Optimization.Step <= 0 {
		errs = append(errs, errors.New("optimization.bound and optimization.step must be positive"))
	}

	return errors.Join(errs...)
}
