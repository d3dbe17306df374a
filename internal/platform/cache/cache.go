package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultSize = 10000
	DefaultTTL  = 24 * time.Hour
)

// TTL is a bounded, expiring cache. Capacity and TTL are fixed by the owner at
// construction; there is no package-level instance.
type TTL[K comparable, V any] struct {
	lru *expirable.LRU[K, V]
}

func NewTTL[K comparable, V any](size int, ttl time.Duration) *TTL[K, V] {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &TTL[K, V]{lru: expirable.NewLRU[K, V](size, nil, ttl)}
}

func (c *TTL[K, V]) Get(key K) (V, bool) { return c.lru.Get(key) }

func (c *TTL[K, V]) Set(key K, value V) { c.lru.Add(key, value) }

func (c *TTL[K, V]) Delete(key K) { c.lru.Remove(key) }

func (c *TTL[K, V]) Len() int { return c.lru.Len() }

func (c *TTL[K, V]) Purge() { c.lru.Purge() }
