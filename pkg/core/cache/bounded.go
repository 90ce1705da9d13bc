// Package cache provides a fixed-capacity keyed store with strict FIFO
// eviction and merge-on-update semantics.
package cache

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Bounded is an insertion-ordered map holding at most capacity entries.
// Inserting beyond capacity evicts the single earliest-inserted entry. Reads
// never refresh recency, so eviction order is strictly first-in first-out,
// not LRU.
//
// Bounded is not safe for concurrent use; callers serialize access.
type Bounded[K comparable, V any] struct {
	capacity int
	entries  *orderedmap.OrderedMap[K, V]
}

// NewBounded creates an empty cache with the given fixed capacity. A capacity
// below one is raised to one.
func NewBounded[K comparable, V any](capacity int) *Bounded[K, V] {
	if capacity < 1 {
		capacity = 1
	}
	return &Bounded[K, V]{
		capacity: capacity,
		entries:  orderedmap.New[K, V](),
	}
}

// Set inserts or overwrites the value for key. Overwriting keeps the key's
// original insertion position. If the insert pushes the cache over capacity,
// the earliest-inserted entry is evicted.
func (c *Bounded[K, V]) Set(key K, value V) {
	c.entries.Set(key, value)
	for c.entries.Len() > c.capacity {
		oldest := c.entries.Oldest()
		c.entries.Delete(oldest.Key)
	}
}

// Get returns the value for key.
func (c *Bounded[K, V]) Get(key K) (V, bool) {
	return c.entries.Get(key)
}

// Has reports whether key is present.
func (c *Bounded[K, V]) Has(key K) bool {
	_, ok := c.entries.Get(key)
	return ok
}

// Delete removes key and reports whether it was present.
func (c *Bounded[K, V]) Delete(key K) bool {
	_, ok := c.entries.Delete(key)
	return ok
}

// Update applies merge to the existing value for key and stores the result.
// If key is absent, Update is a no-op and returns false.
func (c *Bounded[K, V]) Update(key K, merge func(V) V) bool {
	v, ok := c.entries.Get(key)
	if !ok {
		return false
	}
	c.entries.Set(key, merge(v))
	return true
}

// SetOrUpdate inserts factory() under key when absent (subject to eviction),
// then applies merge and returns the stored value. The key is guaranteed to
// exist afterward; a violation is an internal invariant failure and panics.
func (c *Bounded[K, V]) SetOrUpdate(key K, factory func() V, merge func(V) V) V {
	if !c.Has(key) {
		c.Set(key, factory())
	}
	if !c.Update(key, merge) {
		panic("cache: SetOrUpdate lost its entry")
	}
	v, _ := c.entries.Get(key)
	return v
}

// Pop removes and returns the most recently inserted entry. With a non-nil
// pred it scans from most recent to oldest and removes the first match.
// Returns false when the cache is empty or nothing matches.
func (c *Bounded[K, V]) Pop(pred func(K, V) bool) (K, V, bool) {
	for pair := c.entries.Newest(); pair != nil; pair = pair.Prev() {
		if pred == nil || pred(pair.Key, pair.Value) {
			c.entries.Delete(pair.Key)
			return pair.Key, pair.Value, true
		}
	}
	var zeroK K
	var zeroV V
	return zeroK, zeroV, false
}

// PopIf removes and returns the OLDEST entry when pred is nil; with a non-nil
// pred it scans from most recent to oldest exactly like Pop. The differing
// nil-pred defaults of Pop and PopIf are inherited behavior that callers rely
// on; do not align them without checking every call site.
func (c *Bounded[K, V]) PopIf(pred func(K, V) bool) (K, V, bool) {
	if pred != nil {
		return c.Pop(pred)
	}
	pair := c.entries.Oldest()
	if pair == nil {
		var zeroK K
		var zeroV V
		return zeroK, zeroV, false
	}
	c.entries.Delete(pair.Key)
	return pair.Key, pair.Value, true
}

// Clear removes every entry. Capacity is unchanged.
func (c *Bounded[K, V]) Clear() {
	c.entries = orderedmap.New[K, V]()
}

// Len returns the number of entries.
func (c *Bounded[K, V]) Len() int {
	return c.entries.Len()
}

// Cap returns the fixed capacity.
func (c *Bounded[K, V]) Cap() int {
	return c.capacity
}

// Keys returns the keys in insertion order.
func (c *Bounded[K, V]) Keys() []K {
	keys := make([]K, 0, c.entries.Len())
	for pair := c.entries.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Values returns the values in insertion order.
func (c *Bounded[K, V]) Values() []V {
	values := make([]V, 0, c.entries.Len())
	for pair := c.entries.Oldest(); pair != nil; pair = pair.Next() {
		values = append(values, pair.Value)
	}
	return values
}

// Range calls fn for each entry in insertion order until fn returns false.
func (c *Bounded[K, V]) Range(fn func(K, V) bool) {
	for pair := c.entries.Oldest(); pair != nil; pair = pair.Next() {
		if !fn(pair.Key, pair.Value) {
			return
		}
	}
}
