package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadEnvWithLocalBinFallback returns the value of tokenEnvName.
//
// Variables already present in the process environment always win. Missing ones are
// filled, without overwriting, from ./.env and then $HOME/.local/bin/.env when those
// files exist. An error is returned when the variable is still unset afterwards.
func LoadEnvWithLocalBinFallback(tokenEnvName string) (string, error) {
	candidates := []string{".env"}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		candidates = append(candidates, filepath.Join(home, ".local", "bin", ".env"))
	}

	var tried []string
	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		tried = append(tried, path)
		// godotenv.Load does not override variables that are already set.
		_ = godotenv.Load(path)
	}

	if v := strings.TrimSpace(os.Getenv(tokenEnvName)); v != "" {
		return v, nil
	}
	if len(tried) == 0 {
		return "", fmt.Errorf("environment variable %q not set and no .env file found", tokenEnvName)
	}
	return "", fmt.Errorf("environment variable %q not set; checked %s", tokenEnvName, strings.Join(tried, ", "))
}

// EnvString returns the trimmed value of key, or def when it is blank.
func EnvString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// EnvBool reports whether key holds a truthy value (1, true, yes, on).
func EnvBool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

// EnvInt64 parses key as a base-10 integer, falling back to def.
func EnvInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

// EnvDuration parses key as a Go duration. Invalid or non-positive values return def
// along with the parse error so callers can warn about it.
func EnvDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
	if d <= 0 {
		return def, fmt.Errorf("invalid %s=%q: must be positive", key, v)
	}
	return d, nil
}
