package store

import (
	"context"
	"sync"

	"github.com/small-frappuccino/teamlists/pkg/log"
	"github.com/small-frappuccino/teamlists/pkg/metrics"
	"github.com/small-frappuccino/teamlists/pkg/teamlist"
)

// Persister writes the registry to a store after each mutation.
// Saves are serialized so an older snapshot never overwrites a newer one.
type Persister struct {
	mu       sync.Mutex
	registry *teamlist.Registry
	store    Store
}

// NewPersister binds registry to st.
func NewPersister(registry *teamlist.Registry, st Store) *Persister {
	return &Persister{registry: registry, store: st}
}

// Save snapshots the registry and overwrites the stored document.
func (p *Persister) Save(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := p.registry.Snapshot()
	err := p.store.Save(ctx, snap)
	metrics.StoreSaves.WithLabelValues(metrics.ResultLabel(err)).Inc()
	metrics.TrackedLists.Set(float64(len(snap.Lists)))
	if err != nil {
		log.DatabaseLogger().Error("Failed to save state", "lists", len(snap.Lists), "err", err)
		return err
	}
	return nil
}

// Restore loads the stored document into the registry.
func (p *Persister) Restore(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, err := p.store.Load(ctx)
	if err != nil {
		return err
	}
	if err := p.registry.Restore(st); err != nil {
		return err
	}
	metrics.TrackedLists.Set(float64(len(st.Lists)))
	log.DatabaseLogger().Info("State restored", "lists", len(st.Lists), "guilds_with_ranks", len(st.RankRoles))
	return nil
}
