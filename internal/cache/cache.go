// Package cache mirrors the watched collections locally so dashboards can
// count and list entities without querying the document store.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"tourapp-admin/internal/docstore"
	"tourapp-admin/internal/logging"
	"tourapp-admin/internal/realtime"
)

// ErrMiss is returned by Get when the entity is not cached
var ErrMiss = errors.New("cache miss")

// Cache holds the latest known body of every entity per collection
type Cache interface {
	// Apply folds one change event into the cache
	Apply(ctx context.Context, event realtime.Event) error
	Get(ctx context.Context, collection, id string) (map[string]interface{}, error)
	// List returns the collection's entities sorted by id
	List(ctx context.Context, collection string) ([]docstore.Document, error)
	Count(ctx context.Context, collection string) (int, error)
	// Stats returns entity counts for the named collections
	Stats(ctx context.Context, collections ...string) (map[string]int, error)
	Clear(ctx context.Context, collection string) error
	Close() error
}

// Follow feeds every registry change event into c. Apply errors are logged
// and do not stop the feed.
func Follow(registry *realtime.Registry, c Cache, logger *logging.Logger) realtime.Unsubscribe {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return registry.OnChange("*", func(event realtime.Event) {
		if err := c.Apply(context.Background(), event); err != nil {
			logger.WithFields(map[string]interface{}{
				"collection": event.Collection,
				"id":         event.ID,
				"error":      err.Error(),
			}).Warn("Failed to update collection cache")
		}
	})
}

// MemoryCache is an in-process Cache
type MemoryCache struct {
	mu          sync.RWMutex
	collections map[string]map[string]map[string]interface{}
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache creates an empty cache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{collections: make(map[string]map[string]map[string]interface{})}
}

func (m *MemoryCache) Apply(ctx context.Context, event realtime.Event) error {
	if event.Collection == "" || event.ID == "" {
		return fmt.Errorf("event without collection or id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch event.Kind {
	case docstore.ChangeRemoved:
		delete(m.collections[event.Collection], event.ID)
	case docstore.ChangeAdded, docstore.ChangeModified:
		coll := m.collections[event.Collection]
		if coll == nil {
			coll = make(map[string]map[string]interface{})
			m.collections[event.Collection] = coll
		}
		coll[event.ID] = copyEntity(event.Entity)
	default:
		return fmt.Errorf("unknown change kind %q", event.Kind)
	}
	return nil
}

func (m *MemoryCache) Get(ctx context.Context, collection, id string) (map[string]interface{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.collections[collection][id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrMiss)
	}
	return copyEntity(data), nil
}

func (m *MemoryCache) List(ctx context.Context, collection string) ([]docstore.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	docs := make([]docstore.Document, 0, len(m.collections[collection]))
	for id, data := range m.collections[collection] {
		docs = append(docs, docstore.Document{ID: id, Data: copyEntity(data)})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

func (m *MemoryCache) Count(ctx context.Context, collection string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.collections[collection]), nil
}

func (m *MemoryCache) Stats(ctx context.Context, collections ...string) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[string]int, len(collections))
	for _, collection := range collections {
		stats[collection] = len(m.collections[collection])
	}
	return stats, nil
}

func (m *MemoryCache) Clear(ctx context.Context, collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, collection)
	return nil
}

func (m *MemoryCache) Close() error {
	return nil
}

// copyEntity copies the top level of an entity. Nested values are shared and
// must be treated as read-only.
func copyEntity(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}
