// Package config loads koinonia settings from a YAML file, the environment
// and built-in defaults, in increasing order of precedence:
// defaults < config file < KOINONIA_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. KOINONIA_REMOTE_URL.
const EnvPrefix = "KOINONIA"

// Config is the full set of settings. It is built once at startup and
// passed down explicitly.
type Config struct {
	Store     StoreConfig     `mapstructure:"store"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Log       LogConfig       `mapstructure:"log"`
}

// StoreConfig selects the local queue backend.
type StoreConfig struct {
	// DSN is a kv.Open data source: memory://, file://path, sqlite://path
	// or badger://dir. A bare path means a JSON file.
	DSN string `mapstructure:"dsn"`
}

// RemoteConfig locates the remote devotional store.
type RemoteConfig struct {
	// URL is either a postgres:// DSN or the https:// base of a REST
	// gateway.
	URL         string        `mapstructure:"url"`
	APIKey      string        `mapstructure:"api_key"`
	AccessToken string        `mapstructure:"access_token"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Breaker     BreakerConfig `mapstructure:"breaker"`
}

// BreakerConfig tunes the circuit breaker around the remote store.
type BreakerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
	OpenTimeout      time.Duration `mapstructure:"open_timeout"`
}

// SyncConfig tunes probing and drain scheduling.
type SyncConfig struct {
	SaveProbeAttempts    int           `mapstructure:"save_probe_attempts"`
	StartupProbeAttempts int           `mapstructure:"startup_probe_attempts"`
	ProbeTimeout         time.Duration `mapstructure:"probe_timeout"`
	ProbeInterval        time.Duration `mapstructure:"probe_interval"`
	StabilizeDelay       time.Duration `mapstructure:"stabilize_delay"`
}

// DashboardConfig configures the daemon's HTTP dashboard.
type DashboardConfig struct {
	// Addr is the listen address; empty disables the dashboard.
	Addr string `mapstructure:"addr"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // console or json
	File   string `mapstructure:"file"`   // empty logs to stderr
}

// SetDefaults registers the built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("store.dsn", "sqlite://"+filepath.Join(defaultDir(), "offline.db"))

	v.SetDefault("remote.url", "")
	v.SetDefault("remote.api_key", "")
	v.SetDefault("remote.access_token", "")
	v.SetDefault("remote.timeout", 10*time.Second)
	v.SetDefault("remote.breaker.enabled", true)
	v.SetDefault("remote.breaker.failure_threshold", 3)
	v.SetDefault("remote.breaker.open_timeout", 30*time.Second)

	v.SetDefault("sync.save_probe_attempts", 2)
	v.SetDefault("sync.startup_probe_attempts", 2)
	v.SetDefault("sync.probe_timeout", 5*time.Second)
	v.SetDefault("sync.probe_interval", 15*time.Second)
	v.SetDefault("sync.stabilize_delay", time.Second)

	v.SetDefault("dashboard.addr", "127.0.0.1:7777")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")
}

// Load reads configuration. If path is non-empty that file must exist;
// otherwise koinonia.yaml is searched for in the working directory and in
// ~/.koinonia, and a missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("koinonia")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(defaultDir())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required")
	}
	if c.Sync.SaveProbeAttempts < 1 {
		return fmt.Errorf("sync.save_probe_attempts must be at least 1 (got %d)", c.Sync.SaveProbeAttempts)
	}
	if c.Sync.StartupProbeAttempts < 1 {
		return fmt.Errorf("sync.startup_probe_attempts must be at least 1 (got %d)", c.Sync.StartupProbeAttempts)
	}
	durations := map[string]time.Duration{
		"remote.timeout":              c.Remote.Timeout,
		"remote.breaker.open_timeout": c.Remote.Breaker.OpenTimeout,
		"sync.probe_timeout":          c.Sync.ProbeTimeout,
		"sync.probe_interval":         c.Sync.ProbeInterval,
		"sync.stabilize_delay":        c.Sync.StabilizeDelay,
	}
	for key, d := range durations {
		if d < 0 {
			return fmt.Errorf("%s must not be negative (got %s)", key, d)
		}
	}
	switch c.Log.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json (got %q)", c.Log.Format)
	}
	return nil
}

// RemoteConfigured reports whether a remote store is set up.
func (c *Config) RemoteConfigured() bool {
	return c.Remote.URL != ""
}

func defaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".koinonia"
	}
	return filepath.Join(home, ".koinonia")
}
