package util

import (
	"path/filepath"
	"testing"
)

func TestSanitizeAppNameForPath(t *testing.T) {
	tests := map[string]string{
		"teamlists":   "teamlists",
		"Team:Lists ": "Team-Lists",
		"a/b\\c":      "a-b-c",
		"  ..  ":      defaultAppName,
		"":            defaultAppName,
	}
	for in, want := range tests {
		if got := sanitizeAppNameForPath(in); got != want {
			t.Fatalf("sanitizeAppNameForPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStateFilePathByDriver(t *testing.T) {
	if got := filepath.Base(StateFilePath("sqlite")); got != "state.sqlite" {
		t.Fatalf("unexpected sqlite path: %q", got)
	}
	if got := filepath.Base(StateFilePath("json")); got != "state.json" {
		t.Fatalf("unexpected json path: %q", got)
	}
}
