// Package store persists the team list registry as one document.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/small-frappuccino/teamlists/pkg/teamlist"
)

// Drivers accepted by Open.
const (
	DriverJSON   = "json"
	DriverSQLite = "sqlite"
)

// Store loads and saves a full registry snapshot. Every Save overwrites the previous document.
type Store interface {
	// Load returns the persisted state, or an empty state when nothing was saved yet.
	Load(ctx context.Context) (teamlist.State, error)
	Save(ctx context.Context, st teamlist.State) error
	Close() error
}

// Open returns the store for driver rooted at path.
func Open(driver, path string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverJSON, "":
		return NewJSONStore(path), nil
	case DriverSQLite:
		s := NewSQLiteStore(path)
		if err := s.Init(); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
