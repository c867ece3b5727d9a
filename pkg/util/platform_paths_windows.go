//go:build windows

package util

import (
	"os"
	"path/filepath"
	"strings"
)

// Windows layout:
//   - Config: %APPDATA%/<AppName>
//   - Cache:  %APPDATA%/<AppName>/Cache
//   - Logs:   %APPDATA%/<AppName>/Logs

func platformConfigDir(appName string) string {
	return filepath.Join(windowsAppDataBase(), sanitizeAppNameForPath(appName))
}

func platformCacheDir(appName string) string {
	return filepath.Join(platformConfigDir(appName), "Cache")
}

func platformLogDir(appName string) string {
	return filepath.Join(platformConfigDir(appName), "Logs")
}

func windowsAppDataBase() string {
	if v := strings.TrimSpace(os.Getenv("APPDATA")); v != "" {
		return v
	}
	// Typical location: C:\Users\<User>\AppData\Roaming
	if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
		return filepath.Join(home, "AppData", "Roaming")
	}
	return "."
}
