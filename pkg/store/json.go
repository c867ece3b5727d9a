package store

import (
	"context"
	"errors"
	"io/fs"
	"time"

	"github.com/small-frappuccino/teamlists/pkg/teamlist"
	"github.com/small-frappuccino/teamlists/pkg/util"
)

// JSONStore keeps the document in a single JSON file, replaced atomically on save.
type JSONStore struct {
	file *util.JSONManager
	now  func() time.Time
}

// NewJSONStore returns a store backed by path.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{file: util.NewJSONManager(path), now: time.Now}
}

// Path returns the document location.
func (s *JSONStore) Path() string { return s.file.Path() }

func (s *JSONStore) Load(ctx context.Context) (teamlist.State, error) {
	if err := ctx.Err(); err != nil {
		return teamlist.State{}, err
	}
	var doc Document
	if err := s.file.Load(&doc); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return teamlist.State{}, nil
		}
		return teamlist.State{}, err
	}
	return doc.State(), nil
}

func (s *JSONStore) Save(ctx context.Context, st teamlist.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.file.Save(NewDocument(st, s.now()))
}

func (s *JSONStore) Close() error { return nil }
