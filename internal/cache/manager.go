// Package cache keeps one Collection per parent id, created the first time
// the parent is opened and kept until evicted.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kilupskalvis/modsync/internal/collection"
	"github.com/kilupskalvis/modsync/internal/mutation"
	"github.com/kilupskalvis/modsync/internal/order"
	"golang.org/x/sync/errgroup"
)

const prefetchWorkers = 4

// Manager maps parent ids to their cached collections.
type Manager[T order.Item[T], F mutation.Fields[T], P mutation.Patch[T]] struct {
	remote mutation.Remote[T, F, P]
	opts   []mutation.Option
	logger *slog.Logger

	mu          sync.RWMutex
	collections map[string]*Collection[T, F, P]
}

// NewManager creates an empty cache. opts are passed to every Coordinator
// the cache creates; a WithLogger option is added from logger.
func NewManager[T order.Item[T], F mutation.Fields[T], P mutation.Patch[T]](remote mutation.Remote[T, F, P], logger *slog.Logger, opts ...mutation.Option) *Manager[T, F, P] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager[T, F, P]{
		remote:      remote,
		opts:        append([]mutation.Option{mutation.WithLogger(logger)}, opts...),
		logger:      logger,
		collections: make(map[string]*Collection[T, F, P]),
	}
}

// Open returns the collection for parentID, fetching it on first use.
func (m *Manager[T, F, P]) Open(ctx context.Context, parentID string) (*Collection[T, F, P], error) {
	if c, ok := m.Get(parentID); ok {
		return c, nil
	}
	if parentID == "" {
		return nil, fmt.Errorf("open collection: empty parent id")
	}

	// Fetch outside the lock so that opening one parent does not stall others.
	coord := mutation.New(parentID, collection.New[T](), m.remote, m.opts...)
	if err := coord.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("open collection: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock.
	if c, ok := m.collections[parentID]; ok {
		return c, nil
	}
	c := newCollection(coord, m.logger)
	m.collections[parentID] = c
	m.logger.Debug("opened collection", "parent_id", parentID, "items", coord.Store().Len())
	return c, nil
}

// Get returns the collection for parentID if it is cached.
func (m *Manager[T, F, P]) Get(parentID string) (*Collection[T, F, P], bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[parentID]
	return c, ok
}

// Prefetch opens every listed parent concurrently.
func (m *Manager[T, F, P]) Prefetch(ctx context.Context, parentIDs ...string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(prefetchWorkers)

	for _, id := range parentIDs {
		g.Go(func() error {
			_, err := m.Open(ctx, id)
			return err
		})
	}
	return g.Wait()
}

// Evict drops the collection for parentID, cancelling any drag on it.
func (m *Manager[T, F, P]) Evict(parentID string) bool {
	m.mu.Lock()
	c, ok := m.collections[parentID]
	delete(m.collections, parentID)
	m.mu.Unlock()

	if ok {
		c.Drag().Cancel()
		m.logger.Debug("evicted collection", "parent_id", parentID)
	}
	return ok
}

// EvictAll empties the cache.
func (m *Manager[T, F, P]) EvictAll() {
	m.mu.Lock()
	old := m.collections
	m.collections = make(map[string]*Collection[T, F, P])
	m.mu.Unlock()

	for _, c := range old {
		c.Drag().Cancel()
	}
}

// Len returns the number of cached collections.
func (m *Manager[T, F, P]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.collections)
}
