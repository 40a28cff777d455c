// Package cache provides the bounded insertion-ordered maps used for
// recently seen keys: reply targets that skip the durable store, and
// validated-name memoization.
package cache

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Map is a bounded LRU map. Get bumps recency; Add inserts or updates and
// bumps recency, evicting the least-recently-used entry on overflow.
type Map[K comparable, V any] struct {
	inner *lru.Cache[K, V]
}

// New creates a Map with the given capacity.
func New[K comparable, V any](capacity int) (*Map[K, V], error) {
	inner, err := lru.New[K, V](capacity)
	if err != nil {
		return nil, fmt.Errorf("cache: capacity %d: %w", capacity, err)
	}
	return &Map[K, V]{inner: inner}, nil
}

// Get returns the value for key and bumps its recency.
func (m *Map[K, V]) Get(key K) (V, bool) {
	return m.inner.Get(key)
}

// Add inserts or updates key and bumps its recency.
func (m *Map[K, V]) Add(key K, value V) {
	m.inner.Add(key, value)
}

// Len returns the number of cached entries.
func (m *Map[K, V]) Len() int {
	return m.inner.Len()
}
