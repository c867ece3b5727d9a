// Package errutil runs fallible startup steps and logs their failures in one place.
package errutil

import (
	"fmt"

	"github.com/small-frappuccino/teamlists/pkg/log"
)

var errNilFunc = fmt.Errorf("nil function provided")

// HandleDiscordError runs fn and logs a failure against the Discord logger.
// The error is returned unchanged so callers can still classify it.
func HandleDiscordError(operation string, fn func() error) error {
	if fn == nil {
		return errNilFunc
	}
	err := fn()
	if err == nil {
		return nil
	}
	log.DiscordLogger().Error("Discord operation failed", "operation", operation, "err", err)
	return err
}

// HandleConfigError runs fn and wraps a failure with the operation and path.
func HandleConfigError(operation, path string, fn func() error) error {
	if fn == nil {
		return errNilFunc
	}
	err := fn()
	if err == nil {
		return nil
	}
	log.ApplicationLogger().Error("Config operation failed", "operation", operation, "path", path, "err", err)
	return fmt.Errorf("config %s %s: %w", operation, path, err)
}

// HandleStoreError runs fn and wraps a failure with the operation and backend.
func HandleStoreError(operation, backend string, fn func() error) error {
	if fn == nil {
		return errNilFunc
	}
	err := fn()
	if err == nil {
		return nil
	}
	log.DatabaseLogger().Error("Store operation failed", "operation", operation, "backend", backend, "err", err)
	return fmt.Errorf("store %s (%s): %w", operation, backend, err)
}
