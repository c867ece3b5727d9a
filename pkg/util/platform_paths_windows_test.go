//go:build windows

package util

import (
	"path/filepath"
	"testing"
)

func TestPlatformPathsWindows(t *testing.T) {
	t.Setenv("APPDATA", `C:\AppData\Roaming`)

	want := filepath.Join(`C:\AppData\Roaming`, "Team-Lists")
	if got := platformConfigDir("Team:Lists "); got != want {
		t.Fatalf("unexpected config dir: %q", got)
	}
	if got := platformCacheDir("Team:Lists "); got != filepath.Join(want, "Cache") {
		t.Fatalf("unexpected cache dir: %q", got)
	}
	if got := platformLogDir("Team:Lists "); got != filepath.Join(want, "Logs") {
		t.Fatalf("unexpected log dir: %q", got)
	}
}
