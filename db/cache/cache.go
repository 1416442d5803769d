// Package cache holds a context scoped cache of raw documents, used to
// avoid loading the same referenced entity more than once per request.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/evergreen-ci/utility/ttlcache"
	"go.mongodb.org/mongo-driver/bson"
)

type (
	// Using a custom type to avoid collisions with other context keys.
	cacheContextKey string
)

const (
	documentsCache cacheContextKey = "documents"

	// DefaultLifetime is how long a cached document stays valid.
	DefaultLifetime = time.Second
)

type documentCache struct {
	cache    ttlcache.Cache[bson.Raw]
	lifetime time.Duration
}

// Embed returns a context carrying a document cache. A lifetime of zero
// uses DefaultLifetime. Contexts that already carry one are returned as is.
func Embed(ctx context.Context, namePrefix string, lifetime time.Duration) context.Context {
	if ctx.Value(documentsCache) != nil {
		return ctx
	}
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	cacheName := fmt.Sprintf("%s-db-cache-%s", namePrefix, documentsCache)
	cache := &documentCache{
		cache:    ttlcache.WithOtel(ttlcache.NewInMemory[bson.Raw](), cacheName),
		lifetime: lifetime,
	}
	return context.WithValue(ctx, documentsCache, cache)
}

// Enabled reports whether ctx carries a document cache.
func Enabled(ctx context.Context) bool {
	_, ok := getCache(ctx)
	return ok
}

// Get returns the cached document with id from collection.
func Get(ctx context.Context, collection string, id any) (bson.Raw, bool) {
	cache, ok := getCache(ctx)
	if !ok {
		return nil, false
	}
	return cache.cache.Get(ctx, key(collection, id), 0)
}

// Put caches doc as the document with id in collection.
func Put(ctx context.Context, collection string, id any, doc bson.Raw) {
	cache, ok := getCache(ctx)
	if !ok {
		return
	}
	cache.cache.Put(ctx, key(collection, id), doc, time.Now().Add(cache.lifetime))
}

func getCache(ctx context.Context) (*documentCache, bool) {
	cache, ok := ctx.Value(documentsCache).(*documentCache)
	return cache, ok
}

func key(collection string, id any) string {
	return fmt.Sprintf("%s/%v", collection, id)
}
