package util

import "strings"

// Filesystem layout per OS lives in platform_paths_{unix,darwin,windows}.go.
// Each file provides platformConfigDir, platformCacheDir and platformLogDir,
// returning base directories only; callers create them as needed.

// sanitizeAppNameForPath keeps the name usable as one directory segment on every OS.
func sanitizeAppNameForPath(name string) string {
	n := strings.NewReplacer(
		"/", "-", "\\", "-", "<", "-", ">", "-", ":", "-",
		"\"", "-", "|", "-", "?", "-", "*", "-", "\x00", "",
	).Replace(strings.TrimSpace(name))
	n = strings.TrimRight(n, " .")
	if n == "" {
		return defaultAppName
	}
	return n
}
