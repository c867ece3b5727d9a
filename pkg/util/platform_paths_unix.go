//go:build !windows && !darwin

package util

import (
	"os"
	"path/filepath"
	"strings"
)

// Unix/Linux layout:
//   - Config: ~/.config/<AppName>
//   - Cache:  ~/.cache/<AppName>
//   - Logs:   ~/.log/<AppName>

func platformConfigDir(appName string) string {
	return filepath.Join(platformHomeDir(), ".config", sanitizeAppNameForPath(appName))
}

func platformCacheDir(appName string) string {
	return filepath.Join(platformHomeDir(), ".cache", sanitizeAppNameForPath(appName))
}

func platformLogDir(appName string) string {
	return filepath.Join(platformHomeDir(), ".log", sanitizeAppNameForPath(appName))
}

// platformHomeDir prefers $HOME so service accounts can relocate state.
func platformHomeDir() string {
	if h := strings.TrimSpace(os.Getenv("HOME")); h != "" {
		return h
	}
	if h, err := os.UserHomeDir(); err == nil && strings.TrimSpace(h) != "" {
		return h
	}
	return "."
}
