package snapshot

import (
	"context"
	"time"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// lruCache is a dataloader.Cache with a size bound and an expiry, so snapshots of idle
// sessions age out.
type lruCache[K comparable, V any] struct {
	lru *expirable.LRU[K, dataloader.Thunk[V]]
}

// onEvict runs for expired, evicted and deleted keys alike.
func newLRUCache[K comparable, V any](size int, ttl time.Duration, onEvict func(K)) *lruCache[K, V] {
	evicted := func(key K, _ dataloader.Thunk[V]) { onEvict(key) }
	return &lruCache[K, V]{lru: expirable.NewLRU[K, dataloader.Thunk[V]](size, evicted, ttl)}
}

func (c *lruCache[K, V]) Get(_ context.Context, key K) (dataloader.Thunk[V], bool) {
	return c.lru.Get(key)
}

func (c *lruCache[K, V]) Set(_ context.Context, key K, thunk dataloader.Thunk[V]) {
	c.lru.Add(key, thunk)
}

func (c *lruCache[K, V]) Delete(_ context.Context, key K) bool {
	return c.lru.Remove(key)
}

func (c *lruCache[K, V]) Clear() {
	c.lru.Purge()
}
