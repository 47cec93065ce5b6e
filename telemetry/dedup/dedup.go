/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package dedup provides a bounded membership cache that stops the same
// (trace_id, span_id) pair from being exported twice.
package dedup

import (
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// DefaultMaxSize bounds the cache when no size is given.
const DefaultMaxSize = 10_000

// Cache is an insertion-ordered set of span identities. When full, the oldest
// key is evicted before a new one is inserted. Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries *simplelru.LRU[string, struct{}]
	maxSize int
	evicted uint64
}

// New creates a cache holding at most maxSize keys. A non-positive size
// selects DefaultMaxSize.
func New(maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	c := &Cache{maxSize: maxSize}
	// NewLRU only fails for non-positive sizes.
	c.entries, _ = simplelru.NewLRU[string, struct{}](maxSize, func(string, struct{}) {
		c.evicted++
	})
	return c
}

// Key returns the dedup key for a span identity, or "" when either component
// is missing.
func Key(traceID, spanID string) string {
	if traceID == "" || spanID == "" {
		return ""
	}
	return traceID + ":" + spanID
}

// Add records the identity and reports whether it was new. Identities missing
// either component always pass and are never recorded.
func (c *Cache) Add(traceID, spanID string) bool {
	key := Key(traceID, spanID)
	if key == "" {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Contains does not refresh recency, so eviction follows insertion order.
	if c.entries.Contains(key) {
		return false
	}
	c.entries.Add(key, struct{}{})
	return true
}

// Contains reports whether the identity is currently recorded.
func (c *Cache) Contains(traceID, spanID string) bool {
	key := Key(traceID, spanID)
	if key == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Contains(key)
}

// Len returns the number of recorded identities.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Evictions returns how many identities have been evicted so far.
func (c *Cache) Evictions() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evicted
}

// MaxSize returns the configured bound.
func (c *Cache) MaxSize() int {
	return c.maxSize
}
