package cache

import (
	"context"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.mongodb.org/mongo-driver/mongo"
)

// ModelCache is a bounded cache of materialized collection handles, keyed by
// "<db>/<collection>". Handles are cheap but the materialization sits on the
// model hot path, so the cache keeps chains allocation-free.
type ModelCache struct {
	cache *lru.Cache[string, *mongo.Collection]
	mu    sync.RWMutex
}

func NewModelCache(size int) (*ModelCache, error) {
	cache, err := lru.New[string, *mongo.Collection](size)
	if err != nil {
		return nil, err
	}
	return &ModelCache{cache: cache}, nil
}

func modelKey(dbName, collection string) string {
	return dbName + "/" + collection
}

// GetOrMaterialize returns the cached handle for (db, collection), building
// and caching it on a miss.
func (m *ModelCache) GetOrMaterialize(dbName, collection string, build func() *mongo.Collection) *mongo.Collection {
	key := modelKey(dbName, collection)

	// Fast path: read lock only.
	m.mu.RLock()
	if coll, ok := m.cache.Get(key); ok {
		m.mu.RUnlock()
		return coll
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock.
	if coll, ok := m.cache.Get(key); ok {
		return coll
	}

	coll := build()
	m.cache.Add(key, coll)
	return coll
}

// PurgeDB drops every handle belonging to dbName. Called when its
// connection closes so stale handles never resurface.
func (m *ModelCache) PurgeDB(dbName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := dbName + "/"
	for _, key := range m.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			m.cache.Remove(key)
		}
	}
}

// Purge drops every handle.
func (m *ModelCache) Purge() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Purge()
}

// Collection resolves (dbName, collection) to a driver collection handle on
// the cached connection, dialing on a miss.
func (c *Cache) Collection(ctx context.Context, dbName, collection string) (*mongo.Collection, error) {
	cn, err := c.Get(ctx, dbName)
	if err != nil {
		return nil, err
	}
	return c.models.GetOrMaterialize(dbName, collection, func() *mongo.Collection {
		return cn.Database(dbName).Collection(collection)
	}), nil
}
