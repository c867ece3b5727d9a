//go:build !windows && !darwin

package util

import (
	"path/filepath"
	"testing"
)

func TestPlatformPathsUnix(t *testing.T) {
	t.Setenv("HOME", "/home/bot")

	if got := platformConfigDir("teamlists"); got != filepath.Join("/home/bot", ".config", "teamlists") {
		t.Fatalf("unexpected config dir: %q", got)
	}
	if got := platformCacheDir("teamlists"); got != filepath.Join("/home/bot", ".cache", "teamlists") {
		t.Fatalf("unexpected cache dir: %q", got)
	}
	if got := platformLogDir("teamlists"); got != filepath.Join("/home/bot", ".log", "teamlists") {
		t.Fatalf("unexpected log dir: %q", got)
	}
}
