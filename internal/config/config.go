// Package config loads pointd settings from file, environment, and
// defaults.
//
// Precedence, highest first: command-line flags (applied by the CLI),
// POINTD_* environment variables, the config file, built-in defaults.
// The config file lives at ~/.pointd/config.toml unless overridden
// with --config. Nested keys map to env vars with underscores, so
// sync.max_retries becomes POINTD_SYNC_MAX_RETRIES.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full daemon and CLI configuration.
type Config struct {
	// DBPath is the SQLite queue database location.
	DBPath string `mapstructure:"db_path"`

	// ServerURL is the remote backend base URL.
	ServerURL string `mapstructure:"server_url"`

	// ProbeURL overrides the connectivity probe target.
	// Empty means ServerURL + /health.
	ProbeURL string `mapstructure:"probe_url"`

	// ProbeInterval is how often the connectivity probe runs.
	ProbeInterval time.Duration `mapstructure:"probe_interval"`

	// CredentialsPath overrides the bearer-token file location.
	CredentialsPath string `mapstructure:"credentials_path"`

	Sync      SyncConfig      `mapstructure:"sync"`
	Spool     SpoolConfig     `mapstructure:"spool"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Log       LogConfig       `mapstructure:"log"`
}

// SyncConfig tunes the sync engine.
type SyncConfig struct {
	MaxRetries    int           `mapstructure:"max_retries"`
	BaseDelay     time.Duration `mapstructure:"base_delay"`
	MaxDelay      time.Duration `mapstructure:"max_delay"`
	Retention     time.Duration `mapstructure:"retention"`
	PurgeInterval time.Duration `mapstructure:"purge_interval"`
}

// SpoolConfig tunes drop-file intake. An empty Dir disables the
// watcher.
type SpoolConfig struct {
	Dir      string        `mapstructure:"dir"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// DashboardConfig tunes the WebSocket dashboard. Port 0 disables it.
type DashboardConfig struct {
	Port int `mapstructure:"port"`
}

// AgentConfig tunes the background sync trigger.
type AgentConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// LogConfig tunes daemon log output. An empty File logs to stderr;
// otherwise output rotates through the named file.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// DefaultDir returns the pointd home directory (~/.pointd).
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".pointd"), nil
}

// DefaultPath returns the default config file location.
func DefaultPath() (string, error) {
	dir, err := DefaultDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Default returns the built-in configuration. DBPath is left to the
// loader, which anchors it under the pointd home directory.
func Default() *Config {
	return &Config{
		ProbeInterval: 30 * time.Second,
		Sync: SyncConfig{
			MaxRetries:    3,
			BaseDelay:     2 * time.Second,
			MaxDelay:      5 * time.Minute,
			Retention:     24 * time.Hour,
			PurgeInterval: time.Hour,
		},
		Spool: SpoolConfig{
			Debounce: 200 * time.Millisecond,
		},
		Agent: AgentConfig{
			Interval: 15 * time.Minute,
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
	}
}

// Load reads configuration from the given file plus POINTD_* env vars
// on top of the defaults. An empty path uses the default location; a
// missing file at the default location is not an error, a missing file
// at an explicit path is.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("POINTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		defaultPath, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = defaultPath
	}
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if cfg.DBPath == "" {
		dir, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		cfg.DBPath = filepath.Join(dir, "pointd.db")
	}

	return cfg, nil
}

// setDefaults mirrors Default() into viper so file and env values
// merge on top of it.
func setDefaults(v *viper.Viper) {
	def := Default()

	v.SetDefault("db_path", "")
	v.SetDefault("server_url", "")
	v.SetDefault("probe_url", "")
	v.SetDefault("probe_interval", def.ProbeInterval.String())
	v.SetDefault("credentials_path", "")

	v.SetDefault("sync.max_retries", def.Sync.MaxRetries)
	v.SetDefault("sync.base_delay", def.Sync.BaseDelay.String())
	v.SetDefault("sync.max_delay", def.Sync.MaxDelay.String())
	v.SetDefault("sync.retention", def.Sync.Retention.String())
	v.SetDefault("sync.purge_interval", def.Sync.PurgeInterval.String())

	v.SetDefault("spool.dir", "")
	v.SetDefault("spool.debounce", def.Spool.Debounce.String())

	v.SetDefault("dashboard.port", 0)

	v.SetDefault("agent.interval", def.Agent.Interval.String())

	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", def.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", def.Log.MaxBackups)
	v.SetDefault("log.max_age_days", def.Log.MaxAgeDays)
}

// ProbeTarget returns the URL the connectivity probe should hit.
func (c *Config) ProbeTarget() string {
	if c.ProbeURL != "" {
		return c.ProbeURL
	}
	if c.ServerURL == "" {
		return ""
	}
	return strings.TrimRight(c.ServerURL, "/") + "/health"
}

// Write persists the configuration as TOML at the given path, creating
// parent directories. Used by pointd init.
func Write(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigType("toml")

	v.Set("db_path", cfg.DBPath)
	v.Set("server_url", cfg.ServerURL)
	v.Set("probe_url", cfg.ProbeURL)
	v.Set("probe_interval", cfg.ProbeInterval.String())
	v.Set("credentials_path", cfg.CredentialsPath)

	v.Set("sync.max_retries", cfg.Sync.MaxRetries)
	v.Set("sync.base_delay", cfg.Sync.BaseDelay.String())
	v.Set("sync.max_delay", cfg.Sync.MaxDelay.String())
	v.Set("sync.retention", cfg.Sync.Retention.String())
	v.Set("sync.purge_interval", cfg.Sync.PurgeInterval.String())

	v.Set("spool.dir", cfg.Spool.Dir)
	v.Set("spool.debounce", cfg.Spool.Debounce.String())

	v.Set("dashboard.port", cfg.Dashboard.Port)

	v.Set("agent.interval", cfg.Agent.Interval.String())

	v.Set("log.file", cfg.Log.File)
	v.Set("log.max_size_mb", cfg.Log.MaxSizeMB)
	v.Set("log.max_backups", cfg.Log.MaxBackups)
	v.Set("log.max_age_days", cfg.Log.MaxAgeDays)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	return nil
}
