// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the variable [Load] reads the config path
// from.
const EnvironmentVariable = "BUREAU_LAUNCHER_CONFIG"

// MaxErrorMessageLimit bounds launcher.max_error_message. It leaves
// 1 KiB of the 64 KiB channel message for the response envelope.
const MaxErrorMessageLimit = 63 * 1024

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the launcher configuration.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment" json:"environment"`

	// Launcher configures the launcher socket and sessions.
	Launcher LauncherConfig `yaml:"launcher" json:"launcher"`

	// Log configures the structured logger.
	Log LogConfig `yaml:"log" json:"log"`

	// Per-environment overrides, applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty" json:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty" json:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty" json:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Launcher *LauncherConfig `yaml:"launcher,omitempty" json:"launcher,omitempty"`
	Log      *LogConfig      `yaml:"log,omitempty" json:"log,omitempty"`
}

// LauncherConfig configures the launcher service.
type LauncherConfig struct {
	// SocketPath is the SOCK_SEQPACKET socket clients connect to.
	// Default: /run/bureau/launcher.sock
	SocketPath string `yaml:"socket_path" json:"socket_path"`

	// SocketMode is the octal permission mode applied to the socket.
	// Default: 0600
	SocketMode string `yaml:"socket_mode" json:"socket_mode"`

	// DrainBatch bounds how many queued messages one readiness signal
	// drains before the session re-arms its wait.
	// Default: 64
	DrainBatch uint64 `yaml:"drain_batch" json:"drain_batch"`

	// MaxErrorMessage is the byte limit for error messages in launch
	// responses.
	// Default: 4096. At most MaxErrorMessageLimit.
	MaxErrorMessage int `yaml:"max_error_message" json:"max_error_message"`

	// LoaderTimeout bounds each loader service request, as a Go
	// duration. Empty means no limit.
	LoaderTimeout string `yaml:"loader_timeout" json:"loader_timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	// Default: info
	Level string `yaml:"level" json:"level"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Environment: Development,
		Launcher: LauncherConfig{
			SocketPath:      "/run/bureau/launcher.sock",
			SocketMode:      "0600",
			DrainBatch:      64,
			MaxErrorMessage: 4096,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load loads configuration from the file named by
// BUREAU_LAUNCHER_CONFIG. It fails if the variable is not set.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your launcher config file, or use --config flag", EnvironmentVariable)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path. Files ending
// in .json or .jsonc are parsed as JSON with comments; anything else
// is YAML.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		return json.Unmarshal(jsonc.ToJSON(data), c)
	default:
		return yaml.Unmarshal(data, c)
	}
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}

	if overrides == nil {
		return
	}

	if overrides.Launcher != nil {
		if overrides.Launcher.SocketPath != "" {
			c.Launcher.SocketPath = overrides.Launcher.SocketPath
		}
		if overrides.Launcher.SocketMode != "" {
			c.Launcher.SocketMode = overrides.Launcher.SocketMode
		}
		if overrides.Launcher.DrainBatch != 0 {
			c.Launcher.DrainBatch = overrides.Launcher.DrainBatch
		}
		if overrides.Launcher.MaxErrorMessage != 0 {
			c.Launcher.MaxErrorMessage = overrides.Launcher.MaxErrorMessage
		}
		if overrides.Launcher.LoaderTimeout != "" {
			c.Launcher.LoaderTimeout = overrides.Launcher.LoaderTimeout
		}
	}

	if overrides.Log != nil && overrides.Log.Level != "" {
		c.Log.Level = overrides.Log.Level
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Launcher.SocketPath = expandVars(c.Launcher.SocketPath, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Launcher.SocketPath == "" {
		errs = append(errs, fmt.Errorf("launcher.socket_path is required"))
	} else if !filepath.IsAbs(c.Launcher.SocketPath) {
		errs = append(errs, fmt.Errorf("launcher.socket_path must be absolute: %s", c.Launcher.SocketPath))
	}
	if _, err := c.SocketFileMode(); err != nil {
		errs = append(errs, err)
	}
	if c.Launcher.DrainBatch == 0 {
		errs = append(errs, fmt.Errorf("launcher.drain_batch must be positive"))
	}
	if c.Launcher.MaxErrorMessage <= 0 {
		errs = append(errs, fmt.Errorf("launcher.max_error_message must be positive"))
	} else if c.Launcher.MaxErrorMessage > MaxErrorMessageLimit {
		errs = append(errs, fmt.Errorf("launcher.max_error_message must be at most %d, got %d",
			MaxErrorMessageLimit, c.Launcher.MaxErrorMessage))
	}
	if _, err := c.LoaderTimeout(); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// SocketFileMode parses launcher.socket_mode.
func (c *Config) SocketFileMode() (os.FileMode, error) {
	mode, err := strconv.ParseUint(c.Launcher.SocketMode, 8, 32)
	if err != nil || mode > 0o777 {
		return 0, fmt.Errorf("launcher.socket_mode must be an octal permission mode: %q", c.Launcher.SocketMode)
	}
	return os.FileMode(mode), nil
}

// LoaderTimeout parses launcher.loader_timeout. Zero means no limit.
func (c *Config) LoaderTimeout() (time.Duration, error) {
	if c.Launcher.LoaderTimeout == "" {
		return 0, nil
	}
	timeout, err := time.ParseDuration(c.Launcher.LoaderTimeout)
	if err != nil || timeout < 0 {
		return 0, fmt.Errorf("launcher.loader_timeout must be a non-negative duration: %q", c.Launcher.LoaderTimeout)
	}
	return timeout, nil
}

// ParseLevel maps a log.level value to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("log.level must be one of debug, info, warn, error: %q", level)
	}
}
