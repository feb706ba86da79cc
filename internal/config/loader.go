package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment variable latentd reads.
const EnvPrefix = "LATENTD_"

const (
	maxFileBytes = 1 << 20
	systemDir    = "/etc/latentd"
)

// Errors returned for configuration files latentd refuses to read.
var (
	ErrDisallowedPath = errors.New("config file must live in ~/.config/latentd or /etc/latentd")
	ErrInsecureFile   = errors.New("config file must be mode 0600 or 0400")
	ErrFileTooLarge   = errors.New("config file exceeds 1MiB")
)

// LoadWithFile layers defaults, the file at configPath and LATENTD_
// environment variables, later sources winning. An empty configPath means
// ~/.config/latentd/config.yaml. A file ending in .toml is parsed as TOML,
// anything else as YAML. A missing file is not an error.
//
// The file must sit under ~/.config/latentd or /etc/latentd (after symlinks
// are resolved), be private to its owner and be at most 1MiB.
//
// Environment variables name a section and a field, split at the first
// underscore after the prefix:
//
//	LATENTD_SERVER_HTTP_PORT -> server.http_port
//	LATENTD_BACKEND_BASE_URL -> backend.base_url
func LoadWithFile(configPath string) (*Config, error) {
	if configPath == "" {
		p, err := defaultConfigFile()
		if err != nil {
			return nil, err
		}
		configPath = p
	}
	if err := allowedPath(configPath); err != nil {
		return nil, err
	}

	raw, err := readPrivateFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", configPath, err)
	}

	k, err := newKoanf(raw, parserFor(configPath))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", configPath, err)
	}
	return unmarshal(k)
}

// readPrivateFile returns the file's bytes, or nil when it does not exist.
// Checks run against the open descriptor so the file cannot be swapped
// between check and read.
func readPrivateFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if err := checkFileInfo(info); err != nil {
		return nil, err
	}
	return io.ReadAll(io.LimitReader(f, maxFileBytes+1))
}

func checkFileInfo(info fs.FileInfo) error {
	// Windows has no unix permission bits.
	if perm := info.Mode().Perm(); runtime.GOOS != "windows" && perm != 0o600 && perm != 0o400 {
		return fmt.Errorf("%w, got %04o", ErrInsecureFile, perm)
	}
	if info.Size() > maxFileBytes {
		return fmt.Errorf("%w: %d bytes", ErrFileTooLarge, info.Size())
	}
	return nil
}

// allowedPath rejects files outside the config directories. It holds for
// paths that do not exist yet.
func allowedPath(path string) error {
	p, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", path, err)
	}
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		p = resolved
	}

	userDir, err := userConfigDir()
	if err != nil {
		return err
	}
	for _, dir := range [...]string{userDir, systemDir} {
		if strings.HasPrefix(p, dir+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrDisallowedPath, path)
}

func parserFor(path string) koanf.Parser {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return tomlParser{}
	}
	return yaml.Parser()
}

// newKoanf loads raw (when non-nil) and then the environment over it.
func newKoanf(raw []byte, parser koanf.Parser) (*koanf.Koanf, error) {
	k := koanf.New(".")
	if raw != nil {
		if err := k.Load(rawbytes.Provider(raw), parser); err != nil {
			return nil, err
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}
	return k, nil
}

// envKey maps LATENTD_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	section, field, ok := strings.Cut(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_")
	if !ok {
		return section
	}
	return section + "." + field
}

func unmarshal(k *koanf.Koanf) (*Config, error) {
	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	restoreEmpty(cfg, Default())
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// restoreEmpty puts back defaults for required strings a source set to "".
func restoreEmpty(cfg, def *Config) {
	for _, f := range []struct{ got, def *string }{
		{&cfg.Server.Host, &def.Server.Host},
		{&cfg.Storage.Driver, &def.Storage.Driver},
		{&cfg.Storage.Path, &def.Storage.Path},
		{&cfg.NATS.Prefix, &def.NATS.Prefix},
		{&cfg.Observability.ServiceName, &def.Observability.ServiceName},
		{&cfg.Observability.LogLevel, &def.Observability.LogLevel},
		{&cfg.Optimization.Method, &def.Optimization.Method},
	} {
		if *f.got == "" {
			*f.got = *f.def
		}
	}
}

// EnsureConfigDir creates ~/.config/latentd with mode 0700.
func EnsureConfigDir() error {
	dir, err := userConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o700)
}

func userConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locating home directory: %w", err)
	}
	return filepath.Join(home, ".config", "latentd"), nil
}

func defaultConfigFile() (string, error) {
	dir, err := userConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "latentd")
	}
	return filepath.Join(os.TempDir(), "latentd")
}
