// Package config loads the weavequery TOML configuration.
//
// Every key is optional. A missing file yields Default(), and keys absent
// from a file keep their default values. Command-line flags override the
// loaded values; Validate runs after overrides are applied.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"weavequery/internal/logging"
	"weavequery/internal/memo"
)

// Settings store types.
const (
	SettingsSQLite = "sqlite"
	SettingsMemory = "memory"
)

// Log formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Config is the full configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Cache    CacheConfig    `toml:"cache"`
	Resolver ResolverConfig `toml:"resolver"`
	Settings SettingsConfig `toml:"settings"`
	Log      LogConfig      `toml:"log"`
	Serve    ServeConfig    `toml:"serve"`
}

// ServerConfig describes the remote trace server.
type ServerConfig struct {
	// BaseURL of the trace server. Empty means no remote server; commands
	// that need one must be given fixtures instead.
	BaseURL   string `toml:"base_url"`
	ProjectID string `toml:"project_id"`
	// Timeout per request, as a Go duration string ("30s").
	Timeout string `toml:"timeout"`
	// RateLimit caps requests per second. Zero disables limiting.
	RateLimit float64 `toml:"rate_limit"`
	Burst     int     `toml:"burst"`
}

// TimeoutDuration returns the parsed timeout, zero when unset or invalid.
func (s ServerConfig) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(s.Timeout)
	return d
}

// CacheConfig sizes the ref fetch cache.
type CacheConfig struct {
	MaxSize int `toml:"max_size"`
}

// ResolverConfig controls ref expansion.
type ResolverConfig struct {
	AutoExpand bool `toml:"auto_expand"`
}

// SettingsConfig selects the persisted grid-state store.
type SettingsConfig struct {
	Type string `toml:"type"`
	// Path of the sqlite database. Empty means <home>/settings.db.
	Path string `toml:"path"`
}

// LogConfig configures the root logger.
type LogConfig struct {
	Level      string            `toml:"level"`
	Format     string            `toml:"format"`
	Components map[string]string `toml:"components"`
}

// ServeConfig configures the fixture server.
type ServeConfig struct {
	Addr     string `toml:"addr"`
	Fixtures string `toml:"fixtures"`
	Watch    bool   `toml:"watch"`
	// RateLimit is per client, in requests per second. Zero disables it.
	RateLimit float64 `toml:"rate_limit"`
	Burst     int     `toml:"burst"`
	// TLSCert and TLSKey are PEM files. Both set enables HTTPS; the pair is
	// reloaded when either file changes.
	TLSCert string `toml:"tls_cert"`
	TLSKey  string `toml:"tls_key"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Timeout: "30s",
			Burst:   1,
		},
		Cache:    CacheConfig{MaxSize: memo.DefaultMaxSize},
		Resolver: ResolverConfig{AutoExpand: true},
		Settings: SettingsConfig{Type: SettingsSQLite},
		Log: LogConfig{
			Level:  "info",
			Format: FormatText,
		},
		Serve: ServeConfig{
			Addr:  "127.0.0.1:8741",
			Burst: 1,
		},
	}
}

// Load reads path over the defaults. A missing file is not an error.
// Unknown keys are rejected so that typos do not silently fall back to
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("parse config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// Validate reports every invalid value at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.BaseURL != "" {
		u, err := url.Parse(c.Server.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("server.base_url: %q is not an http(s) URL", c.Server.BaseURL))
		}
	}
	if c.Server.Timeout != "" {
		if d, err := time.ParseDuration(c.Server.Timeout); err != nil || d < 0 {
			errs = append(errs, fmt.Errorf("server.timeout: invalid duration %q", c.Server.Timeout))
		}
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("server.rate_limit: must not be negative"))
	}
	if c.Server.Burst < 0 {
		errs = append(errs, fmt.Errorf("server.burst: must not be negative"))
	}
	if c.Cache.MaxSize <= 0 {
		errs = append(errs, fmt.Errorf("cache.max_size: must be positive, got %d", c.Cache.MaxSize))
	}
	if !slices.Contains([]string{SettingsSQLite, SettingsMemory}, c.Settings.Type) {
		errs = append(errs, fmt.Errorf("settings.type: unknown store %q", c.Settings.Type))
	}
	if !slices.Contains([]string{FormatText, FormatJSON}, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	for name, level := range c.Log.Components {
		if _, err := logging.ParseLevel(level); err != nil {
			errs = append(errs, fmt.Errorf("log.components.%s: %w", name, err))
		}
	}
	if c.Serve.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("serve.rate_limit: must not be negative"))
	}
	if (c.Serve.TLSCert == "") != (c.Serve.TLSKey == "") {
		errs = append(errs, fmt.Errorf("serve.tls_cert and serve.tls_key: set both or neither"))
	}
	return errors.Join(errs...)
}

// LogOptions converts the log section for logging.New.
func (c *Config) LogOptions() logging.Options {
	return logging.Options{
		Format:     c.Log.Format,
		Level:      c.Log.Level,
		Components: c.Log.Components,
	}
}

// WriteDefault writes a commented default config file to path unless one
// exists. It reports whether a file was written.
func WriteDefault(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return false, fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultFile), 0o640); err != nil { //nolint:gosec // G306: config is not secret
		return false, fmt.Errorf("write config file: %w", err)
	}
	return true, nil
}

const defaultFile = `# weavequery configuration. Every key is optional.

[server]
# base_url = "https://trace.example.com"
# project_id = "entity/project"
timeout = "30s"
# Requests per second to the trace server; 0 disables limiting.
rate_limit = 0.0
burst = 1

[cache]
max_size = 1000

[resolver]
auto_expand = true

[settings]
# "sqlite" or "memory". path defaults to settings.db in the home directory.
type = "sqlite"

[log]
level = "info"
format = "text"

# [log.components]
# resolver = "debug"

[serve]
addr = "127.0.0.1:8741"
# fixtures = "calls.yaml"    # relative paths resolve under <home>/fixtures
watch = false
# tls_cert = "tls.crt"
# tls_key = "tls.key"
`
