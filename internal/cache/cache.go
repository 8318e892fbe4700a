// package cache provides a process-local, best-effort read cache.
//
// The cache is never authoritative: it is not shared across replicas, it has
// no invalidation guarantee beyond "overwritten on next put", and losing it
// wholesale only costs redundant re-reads of the durable store. Callers must
// treat a miss and a stale entry identically.
package cache

import lru "github.com/hashicorp/golang-lru/v2"

// Cache is a bounded LRU keyed by K.
type Cache[K comparable, V any] struct {
	lru *lru.Cache[K, V]
}

// New returns a cache holding at most size entries.
func New[K comparable, V any](size int) *Cache[K, V] {
	c, err := lru.New[K, V](size)
	if err != nil {
		// lru.New only fails on a non-positive size.
		panic(err)
	}
	return &Cache[K, V]{lru: c}
}

func (c *Cache[K, V]) Get(key K) (V, bool) {
	return c.lru.Get(key)
}

func (c *Cache[K, V]) Put(key K, value V) {
	c.lru.Add(key, value)
}

func (c *Cache[K, V]) Remove(key K) {
	c.lru.Remove(key)
}

func (c *Cache[K, V]) Len() int {
	return c.lru.Len()
}
