// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package containers

import (
	lru "github.com/hashicorp/golang-lru"
)

// LRUCache is a bounded, thread-safe cache with Least Recently Used
// eviction.  A zero LRUCache is not usable; it must be initialized
// with NewLRUCache.
type LRUCache[K comparable, V any] struct {
	inner *lru.Cache
}

// NewLRUCache returns a cache that holds at most `size` entries.
//
// It is a panic to call NewLRUCache with a non-positive size.
func NewLRUCache[K comparable, V any](size int) *LRUCache[K, V] {
	inner, err := lru.New(size)
	if err != nil {
		panic(err)
	}
	return &LRUCache[K, V]{inner: inner}
}

// Add stores a key/value pair, evicting the least recently used
// entry if the cache is full.  It returns whether an eviction
// happened.
func (c *LRUCache[K, V]) Add(key K, value V) (evicted bool) {
	return c.inner.Add(key, value)
}

// Get loads an entry, recording a "use" for the purposes of eviction.
func (c *LRUCache[K, V]) Get(key K) (value V, ok bool) {
	_value, ok := c.inner.Get(key)
	if ok {
		//nolint:forcetypeassert // Typed wrapper around untyped lib.
		value = _value.(V)
	}
	return value, ok
}

func (c *LRUCache[K, V]) Len() int {
	return c.inner.Len()
}

// GetOrElse returns the cached value for key, calling fn to compute
// (and then store) it on a miss.  fn may be called concurrently for
// the same key by racing callers; it should be pure.
func (c *LRUCache[K, V]) GetOrElse(key K, fn func() V) V {
	if value, ok := c.Get(key); ok {
		return value
	}
	value := fn()
	c.Add(key, value)
	return value
}
