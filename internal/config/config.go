package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel string `json:"log_level" yaml:"log_level" env:"GODEC_LOG_LEVEL"`
	Quiet    bool   `json:"quiet" yaml:"quiet" env:"GODEC_QUIET"`
	Session  struct {
		LaneDepth         int   `json:"lane_depth" yaml:"lane_depth" env:"GODEC_LANE_DEPTH"`
		MaxConcurrent     int64 `json:"max_concurrent" yaml:"max_concurrent" env:"GODEC_MAX_CONCURRENT"`
		StreamDepth       int   `json:"stream_depth" yaml:"stream_depth" env:"GODEC_STREAM_DEPTH"`
		PullTimeoutMs     int   `json:"pull_timeout_ms" yaml:"pull_timeout_ms" env:"GODEC_PULL_TIMEOUT_MS"`
		ShutdownTimeoutMs int   `json:"shutdown_timeout_ms" yaml:"shutdown_timeout_ms" env:"GODEC_SHUTDOWN_TIMEOUT_MS"`
	} `json:"session" yaml:"session"`
	Metrics struct {
		Addr string `json:"addr" yaml:"addr" env:"GODEC_METRICS_ADDR"`
	} `json:"metrics" yaml:"metrics"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{LogLevel: "info"}
	cfg.Session.LaneDepth = 64
	cfg.Session.MaxConcurrent = 4
	cfg.Session.PullTimeoutMs = 1000
	return cfg
}

// PullTimeout and ShutdownTimeout convert the millisecond settings. A zero
// shutdown timeout means wait forever.
func (c *Config) PullTimeout() time.Duration {
	return time.Duration(c.Session.PullTimeoutMs) * time.Millisecond
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Session.ShutdownTimeoutMs) * time.Millisecond
}

func (c *Config) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level %q: want debug, info, warn or error", c.LogLevel)
	}
	if c.Session.LaneDepth <= 0 {
		return fmt.Errorf("session.lane_depth must be positive, got %d", c.Session.LaneDepth)
	}
	if c.Session.MaxConcurrent <= 0 {
		return fmt.Errorf("session.max_concurrent must be positive, got %d", c.Session.MaxConcurrent)
	}
	if c.Session.StreamDepth < 0 {
		return fmt.Errorf("session.stream_depth must not be negative, got %d", c.Session.StreamDepth)
	}
	if c.Session.PullTimeoutMs < 0 || c.Session.ShutdownTimeoutMs < 0 {
		return fmt.Errorf("session timeouts must not be negative")
	}
	return nil
}

// Load reads defaults, then the file at path if it exists, then GODEC_*
// environment variables (highest precedence). A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := readFile(path, cfg); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func readFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// Save writes cfg atomically, as YAML or JSON depending on the extension.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}
