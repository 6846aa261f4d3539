// Package config loads plog settings from a config file, environment
// variables, and defaults, in that order of increasing precedence for
// the environment.
//
// The file is YAML, found at --config, ./.plog.yaml, or ~/.plog.yaml.
// Environment variables use the PLOG_ prefix with underscores, e.g.
// PLOG_REMOTE_URL.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable the commands share.
type Config struct {
	// ServerAddr is the listen address for `plog serve`.
	ServerAddr string `mapstructure:"server_addr"`

	// DataFile is the server's JSON store file.
	DataFile string `mapstructure:"data_file"`

	// CachePath is the device-local SQLite cache.
	CachePath string `mapstructure:"cache_path"`

	// RemoteURL is the server base URL for client commands.
	RemoteURL string `mapstructure:"remote_url"`

	// ProbeWindow is how long an availability answer is cached.
	ProbeWindow time.Duration `mapstructure:"probe_window"`

	// ProbeTimeout bounds a single availability probe.
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`

	// PushTimeout bounds bulk pushes and fetches.
	PushTimeout time.Duration `mapstructure:"push_timeout"`

	// SyncInterval is the daemon's periodic reconcile/probe cadence.
	SyncInterval time.Duration `mapstructure:"sync_interval"`

	// LogFile enables rotating file logs for serve/daemon when set.
	LogFile string `mapstructure:"log_file"`

	// LogMaxSizeMB and LogMaxBackups tune rotation.
	LogMaxSizeMB  int `mapstructure:"log_max_size_mb"`
	LogMaxBackups int `mapstructure:"log_max_backups"`
}

// Load reads configuration. cfgFile may be empty to use the search path.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server_addr", ":8080")
	v.SetDefault("data_file", ".plog/store.json")
	v.SetDefault("cache_path", ".plog/cache.db")
	v.SetDefault("remote_url", "http://localhost:8080")
	v.SetDefault("probe_window", 30*time.Second)
	v.SetDefault("probe_timeout", 2*time.Second)
	v.SetDefault("push_timeout", 10*time.Second)
	v.SetDefault("sync_interval", 60*time.Second)
	v.SetDefault("log_file", "")
	v.SetDefault("log_max_size_mb", 10)
	v.SetDefault("log_max_backups", 3)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(".plog")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
	}

	v.SetEnvPrefix("PLOG")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// No config file is fine; defaults and env apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
