// Package config loads histsync configuration.
//
// Configuration comes from a TOML, YAML or JSON file (chosen by extension),
// then HISTSYNC_* environment variables, and is validated against an
// embedded CUE schema. A missing file at the default location is not an
// error: the defaults are complete.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the full configuration for the client commands and the relay.
type Config struct {
	Client  ClientConfig  `toml:"client" yaml:"client" json:"client"`
	Server  ServerConfig  `toml:"server" yaml:"server" json:"server"`
	Logging LoggingConfig `toml:"logging" yaml:"logging" json:"logging"`
}

// ClientConfig configures the local store and sync.
type ClientConfig struct {
	DBPath         string   `toml:"db_path" yaml:"db_path" json:"db_path"`
	HistoryDBPath  string   `toml:"history_db_path" yaml:"history_db_path" json:"history_db_path"`
	KeyPath        string   `toml:"key_path" yaml:"key_path" json:"key_path"`
	HostIDPath     string   `toml:"host_id_path" yaml:"host_id_path" json:"host_id_path"`
	SyncAddress    string   `toml:"sync_address" yaml:"sync_address" json:"sync_address"`
	Token          string   `toml:"token" yaml:"token" json:"token"`
	PageSize       int      `toml:"page_size" yaml:"page_size" json:"page_size"`
	Workers        int      `toml:"workers" yaml:"workers" json:"workers"`
	Retries        int      `toml:"retries" yaml:"retries" json:"retries"`
	Backoff        Duration `toml:"backoff" yaml:"backoff" json:"backoff"`
	Timeout        Duration `toml:"timeout" yaml:"timeout" json:"timeout"`
	ConnectTimeout Duration `toml:"connect_timeout" yaml:"connect_timeout" json:"connect_timeout"`
}

// ServerConfig configures the relay.
type ServerConfig struct {
	Listen         string            `toml:"listen" yaml:"listen" json:"listen"`
	DataDir        string            `toml:"data_dir" yaml:"data_dir" json:"data_dir"`
	MaxRecordSize  int               `toml:"max_record_size" yaml:"max_record_size" json:"max_record_size"`
	PageSize       int               `toml:"page_size" yaml:"page_size" json:"page_size"`
	Tokens         map[string]string `toml:"tokens" yaml:"tokens" json:"tokens"`
	RateLimit      float64           `toml:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
	RateBurst      int               `toml:"rate_burst" yaml:"rate_burst" json:"rate_burst"`
	StatusCacheTTL Duration          `toml:"status_cache_ttl" yaml:"status_cache_ttl" json:"status_cache_ttl"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level" json:"level"`
	Format string `toml:"format" yaml:"format" json:"format"`
}

// Duration is a time.Duration written as a string such as "30s".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", b, err)
	}
	d.Duration = v
	return nil
}

// DataDir returns the default directory for local state:
// $XDG_DATA_HOME/histsync, else ~/.local/share/histsync.
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "histsync")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".histsync"
	}
	return filepath.Join(home, ".local", "share", "histsync")
}

// ConfigDir returns the default directory for the config file:
// $XDG_CONFIG_HOME/histsync, else ~/.config/histsync.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "histsync")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".histsync"
	}
	return filepath.Join(home, ".config", "histsync")
}

// DefaultPath is where Load looks when no path is given.
func DefaultPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// DefaultConfig returns a complete configuration rooted at dataDir.
func DefaultConfig() *Config {
	return defaultsIn(DataDir())
}

func defaultsIn(dataDir string) *Config {
	return &Config{
		Client: ClientConfig{
			DBPath:         filepath.Join(dataDir, "records.db"),
			HistoryDBPath:  filepath.Join(dataDir, "history.db"),
			KeyPath:        filepath.Join(dataDir, "key"),
			HostIDPath:     filepath.Join(dataDir, "host_id"),
			SyncAddress:    "http://127.0.0.1:8888",
			PageSize:       100,
			Workers:        4,
			Retries:        3,
			Backoff:        Duration{500 * time.Millisecond},
			Timeout:        Duration{30 * time.Second},
			ConnectTimeout: Duration{5 * time.Second},
		},
		Server: ServerConfig{
			Listen:         "127.0.0.1:8888",
			DataDir:        filepath.Join(dataDir, "relay"),
			MaxRecordSize:  0,
			PageSize:       100,
			Tokens:         map[string]string{},
			StatusCacheTTL: Duration{30 * time.Second},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
