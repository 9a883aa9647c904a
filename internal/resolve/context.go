// Package resolve maps a free-text job title within a coarse unit to the
// most specific taxonomy node it can justify.
package resolve

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dubedad/jobforge/internal/metrics"
	"github.com/dubedad/jobforge/internal/model"
	"github.com/dubedad/jobforge/internal/taxonomy"
)

// Context is the read-only view of one unit used by the cascade.
type Context struct {
	Unit          model.CoarseUnit
	Labels        []model.Label
	Examples      []model.ExampleTitle
	IsSingleLabel bool

	// Normalised texts, parallel to Labels and Examples.
	labelKeys   []string
	exampleKeys []string
}

// Index builds and caches resolution contexts keyed by dataset version and
// unit id. Concurrent first access to the same key builds once.
type Index struct {
	mu    sync.RWMutex
	store taxonomy.Store
	cache map[string]*Context
	gen   uint64
	group singleflight.Group
}

// NewIndex returns an empty index over the store.
func NewIndex(store taxonomy.Store) *Index {
	return &Index{
		store: store,
		cache: make(map[string]*Context),
	}
}

// Build returns the cached context for unitID, constructing it on first use.
// Unknown units fail with model.ErrNotFound.
func (ix *Index) Build(ctx context.Context, unitID string) (*Context, error) {
	ix.mu.RLock()
	store, gen := ix.store, ix.gen
	key := store.Version() + "\x00" + unitID
	c, ok := ix.cache[key]
	ix.mu.RUnlock()
	if ok {
		return c, nil
	}

	v, err, _ := ix.group.Do(key, func() (any, error) {
		ix.mu.RLock()
		c, ok := ix.cache[key]
		ix.mu.RUnlock()
		if ok {
			return c, nil
		}

		c, err := buildContext(ctx, store, unitID)
		if err != nil {
			return nil, err
		}
		metrics.RecordContextBuild()

		ix.mu.Lock()
		// Skip caching when the index was invalidated mid-build.
		if ix.gen == gen {
			ix.cache[key] = c
		}
		ix.mu.Unlock()
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Context), nil
}

// Invalidate drops every cached context.
func (ix *Index) Invalidate() {
	ix.mu.Lock()
	ix.cache = make(map[string]*Context)
	ix.gen++
	ix.mu.Unlock()
}

// Swap replaces the backing store after a reload and drops cached contexts.
func (ix *Index) Swap(store taxonomy.Store) {
	ix.mu.Lock()
	old := ix.store.Version()
	ix.store = store
	ix.cache = make(map[string]*Context)
	ix.gen++
	ix.mu.Unlock()
	zap.L().Info("resolve: taxonomy swapped",
		zap.String("old_version", old),
		zap.String("new_version", store.Version()),
	)
}

// Store returns the current backing store.
func (ix *Index) Store() taxonomy.Store {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.store
}

// Len reports the number of cached contexts.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.cache)
}

func buildContext(ctx context.Context, store taxonomy.Store, unitID string) (*Context, error) {
	unit, err := store.Unit(ctx, unitID)
	if err != nil {
		return nil, eris.Wrapf(err, "resolve: build context for %q", unitID)
	}
	labels, err := store.Labels(ctx, unitID)
	if err != nil {
		return nil, eris.Wrapf(err, "resolve: labels for %q", unitID)
	}
	examples, err := store.Examples(ctx, unitID)
	if err != nil {
		return nil, eris.Wrapf(err, "resolve: examples for %q", unitID)
	}

	c := &Context{
		Unit:          unit,
		Labels:        labels,
		Examples:      examples,
		IsSingleLabel: len(labels) == 1,
		labelKeys:     make([]string, len(labels)),
		exampleKeys:   make([]string, len(examples)),
	}
	for i, l := range labels {
		c.labelKeys[i] = NormalizeTitle(l.Text)
	}
	for i, e := range examples {
		c.exampleKeys[i] = NormalizeTitle(e.Text)
	}
	return c, nil
}
