package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Version is the teamlists release embedded in botinfo and the CLI.
const Version = "v1.4.0"

const defaultAppName = "teamlists"

// appName controls the directory segment used by every path helper.
var appName = defaultAppName

// SetAppName overrides the directory segment used for config, cache and log paths.
func SetAppName(name string) {
	if strings.TrimSpace(name) == "" {
		return
	}
	appName = sanitizeAppNameForPath(name)
}

// AppName returns the effective application name.
func AppName() string { return appName }

// ConfigDir returns the base path for configuration files:
//   - Linux/Unix:  ~/.config/<AppName>
//   - macOS:       ~/Library/Preferences/<AppName>
//   - Windows:     %APPDATA%/<AppName>
func ConfigDir() string {
	if dir := strings.TrimSpace(platformConfigDir(appName)); dir != "" {
		return dir
	}
	return filepath.Join(".", "config", appName)
}

// CacheDir returns the base path for persisted state.
func CacheDir() string {
	if dir := strings.TrimSpace(platformCacheDir(appName)); dir != "" {
		return dir
	}
	return filepath.Join(".", "cache", appName)
}

// LogDir returns the directory holding rotated log files.
func LogDir() string {
	if dir := strings.TrimSpace(platformLogDir(appName)); dir != "" {
		return dir
	}
	return filepath.Join(".", "logs", appName)
}

// ConfigFilePath returns <ConfigDir>/config.yaml.
func ConfigFilePath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// StateFilePath returns the default state location for a storage driver.
func StateFilePath(driver string) string {
	if driver == "sqlite" {
		return filepath.Join(CacheDir(), "state.sqlite")
	}
	return filepath.Join(CacheDir(), "state.json")
}

// EnsureDirs creates the parent directories of every given path.
func EnsureDirs(paths ...string) error {
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		dir := filepath.Dir(p)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
