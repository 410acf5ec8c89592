package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Load reads the configuration at path over the defaults, applies
// environment overrides and validates the result. An empty path means
// DefaultPath, which may be absent.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	cfg := DefaultConfig()
	err := loadConfigFromFile(path, cfg)
	switch {
	case err == nil:
	case !explicit && errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}

// loadConfigFromFile decodes path into cfg, leaving unset fields alone.
func loadConfigFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("parse TOML config %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse YAML config %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse JSON config %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format %q", ext)
	}
	return nil
}

// ApplyEnvOverrides applies HISTSYNC_* environment variables.
func (c *Config) ApplyEnvOverrides() error {
	// Client overrides
	if v := os.Getenv("HISTSYNC_DB_PATH"); v != "" {
		c.Client.DBPath = v
	}
	if v := os.Getenv("HISTSYNC_HISTORY_DB_PATH"); v != "" {
		c.Client.HistoryDBPath = v
	}
	if v := os.Getenv("HISTSYNC_KEY_PATH"); v != "" {
		c.Client.KeyPath = v
	}
	if v := os.Getenv("HISTSYNC_HOST_ID_PATH"); v != "" {
		c.Client.HostIDPath = v
	}
	if v := os.Getenv("HISTSYNC_SYNC_ADDRESS"); v != "" {
		c.Client.SyncAddress = v
	}
	// Tokens from env keep secrets out of config files.
	if v := os.Getenv("HISTSYNC_TOKEN"); v != "" {
		c.Client.Token = v
	}

	// Server overrides
	if v := os.Getenv("HISTSYNC_LISTEN"); v != "" {
		c.Server.Listen = v
	}
	if v := os.Getenv("HISTSYNC_SERVER_DATA_DIR"); v != "" {
		c.Server.DataDir = v
	}
	if v := os.Getenv("HISTSYNC_MAX_RECORD_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HISTSYNC_MAX_RECORD_SIZE: %w", err)
		}
		c.Server.MaxRecordSize = n
	}

	// Logging overrides
	if v := os.Getenv("HISTSYNC_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("HISTSYNC_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	return nil
}
