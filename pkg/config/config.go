// Package config loads the bot configuration from YAML with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/small-frappuccino/teamlists/pkg/util"
)

// Missing team role policies.
const (
	MissingRoleSilent = "silent"
	MissingRoleWarn   = "warn"
)

// Config is the full bot configuration.
type Config struct {
	// TokenEnv names the environment variable holding the bot token.
	TokenEnv          string         `yaml:"token_env"`
	Prefix            string         `yaml:"prefix"`
	AnnounceOnStartup bool           `yaml:"announce_on_startup"`
	Theme             string         `yaml:"theme"`
	Storage           StorageConfig  `yaml:"storage"`
	Render            RenderConfig   `yaml:"render"`
	Commands          CommandsConfig `yaml:"commands"`
	Control           ControlConfig  `yaml:"control"`
	Log               LogConfig      `yaml:"log"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"`
	// Path defaults to the state file in the cache directory for the driver.
	Path string `yaml:"path"`
}

type RenderConfig struct {
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	Freshness         time.Duration `yaml:"freshness"`
	Pause             time.Duration `yaml:"pause"`
	MissingRolePolicy string        `yaml:"missing_role_policy"`
}

type CommandsConfig struct {
	// DeleteInvocations removes the triggering prefix-command message after handling.
	DeleteInvocations bool `yaml:"delete_invocations"`
	// PrivateErrors sends slash command errors as ephemeral replies.
	PrivateErrors bool `yaml:"private_errors"`
}

type ControlConfig struct {
	// Addr is the control server listen address; empty disables the server.
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Dir        string `yaml:"dir"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		TokenEnv: "DISCORD_TOKEN",
		Prefix:   "!",
		Storage:  StorageConfig{Driver: "json"},
		Render: RenderConfig{
			SweepInterval:     5 * time.Minute,
			Freshness:         240 * time.Second,
			Pause:             750 * time.Millisecond,
			MissingRolePolicy: MissingRoleSilent,
		},
		Commands: CommandsConfig{PrivateErrors: true},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
	}
}

// DefaultPath returns $TEAMLISTS_CONFIG, or config.yaml in the user config directory.
func DefaultPath() string {
	if p := strings.TrimSpace(os.Getenv("TEAMLISTS_CONFIG")); p != "" {
		return p
	}
	return util.ConfigFilePath()
}

// Load reads path, applies environment overrides and fills derived defaults.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	cfg.fillDerived()
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() error {
	c.Prefix = util.EnvString("TEAMLISTS_PREFIX", c.Prefix)
	c.Storage.Driver = util.EnvString("TEAMLISTS_STORAGE_DRIVER", c.Storage.Driver)
	c.Storage.Path = util.EnvString("TEAMLISTS_STORAGE_PATH", c.Storage.Path)
	c.Control.Addr = util.EnvString("TEAMLISTS_CONTROL_ADDR", c.Control.Addr)
	c.Log.Level = util.EnvString("TEAMLISTS_LOG_LEVEL", c.Log.Level)

	interval, err := util.EnvDuration("TEAMLISTS_SWEEP_INTERVAL", c.Render.SweepInterval)
	if err != nil {
		return err
	}
	c.Render.SweepInterval = interval
	return nil
}

func (c *Config) fillDerived() {
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	c.Render.MissingRolePolicy = strings.ToLower(strings.TrimSpace(c.Render.MissingRolePolicy))
	if c.Storage.Path == "" {
		c.Storage.Path = util.StateFilePath(c.Storage.Driver)
	}
	if c.Log.Dir == "" {
		c.Log.Dir = util.LogDir()
	}
	if c.TokenEnv == "" {
		c.TokenEnv = "DISCORD_TOKEN"
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Prefix) == "" {
		return fmt.Errorf("prefix must not be empty")
	}
	switch c.Storage.Driver {
	case "json", "sqlite":
	default:
		return fmt.Errorf("invalid storage driver: %q (valid: json, sqlite)", c.Storage.Driver)
	}
	switch c.Render.MissingRolePolicy {
	case MissingRoleSilent, MissingRoleWarn:
	default:
		return fmt.Errorf("invalid missing_role_policy: %q (valid: %s, %s)", c.Render.MissingRolePolicy, MissingRoleSilent, MissingRoleWarn)
	}
	if c.Render.SweepInterval <= 0 {
		return fmt.Errorf("render.sweep_interval must be positive")
	}
	if c.Render.Freshness <= 0 {
		return fmt.Errorf("render.freshness must be positive")
	}
	if c.Render.Freshness >= c.Render.SweepInterval {
		return fmt.Errorf("render.freshness (%s) must be shorter than render.sweep_interval (%s)", c.Render.Freshness, c.Render.SweepInterval)
	}
	if c.Render.Pause < 0 {
		return fmt.Errorf("render.pause must not be negative")
	}
	return nil
}
