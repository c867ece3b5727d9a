//go:build darwin

package util

import (
	"os"
	"path/filepath"
	"strings"
)

// macOS layout:
//   - Config: ~/Library/Preferences/<AppName>
//   - Cache:  ~/Library/Caches/<AppName>
//   - Logs:   ~/Library/Logs/<AppName>

func platformConfigDir(appName string) string {
	return filepath.Join(darwinHomeDir(), "Library", "Preferences", sanitizeAppNameForPath(appName))
}

func platformCacheDir(appName string) string {
	return filepath.Join(darwinHomeDir(), "Library", "Caches", sanitizeAppNameForPath(appName))
}

func platformLogDir(appName string) string {
	return filepath.Join(darwinHomeDir(), "Library", "Logs", sanitizeAppNameForPath(appName))
}

func darwinHomeDir() string {
	if h, err := os.UserHomeDir(); err == nil && strings.TrimSpace(h) != "" {
		return h
	}
	if h := strings.TrimSpace(os.Getenv("HOME")); h != "" {
		return h
	}
	return "."
}
