package util

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONManager reads and writes one JSON document on disk.
// Saves go to a sibling temp file which is fsynced and renamed over the target,
// so a crash mid-write leaves the previous document intact.
type JSONManager struct {
	filePath string
	mu       sync.RWMutex
}

// NewJSONManager creates a new JSONManager.
func NewJSONManager(filePath string) *JSONManager {
	return &JSONManager{filePath: filePath}
}

// Path returns the managed file path.
func (m *JSONManager) Path() string { return m.filePath }

// Load unmarshals the file into data. A missing file leaves data untouched and returns os.ErrNotExist
// wrapped, so callers can tell "fresh install" apart from success.
func (m *JSONManager) Load(data any) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	fileData, err := os.ReadFile(m.filePath)
	if err != nil {
		return fmt.Errorf("read %s: %w", m.filePath, err)
	}
	if len(fileData) == 0 {
		return nil
	}
	if err := json.Unmarshal(fileData, data); err != nil {
		return fmt.Errorf("unmarshal %s: %w", m.filePath, err)
	}
	return nil
}

// Save marshals data and atomically replaces the file.
func (m *JSONManager) Save(data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fileData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	dir := filepath.Dir(m.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(m.filePath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(fileData); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, m.filePath); err != nil {
		cleanup()
		return fmt.Errorf("replace %s: %w", m.filePath, err)
	}
	return nil
}
