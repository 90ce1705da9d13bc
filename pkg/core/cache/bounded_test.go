package cache

import (
	"testing"
)

func TestBounded_EvictsOldestOnOverflow(t *testing.T) {
	c := NewBounded[int, string](3)
	c.Set(1, "a")
	c.Set(2, "b")
	c.Set(3, "c")

	// Reads must not refresh recency: touching the oldest key should not
	// save it from eviction.
	if v, ok := c.Get(1); !ok || v != "a" {
		t.Fatalf("Get(1) = %q, %v, want a, true", v, ok)
	}

	c.Set(4, "d")
	if c.Len() != 3 {
		t.Fatalf("len = %d, want 3", c.Len())
	}
	if c.Has(1) {
		t.Fatal("key 1 should have been evicted (FIFO, not LRU)")
	}
	for _, k := range []int{2, 3, 4} {
		if !c.Has(k) {
			t.Fatalf("key %d should survive eviction", k)
		}
	}
	wantKeys := []int{2, 3, 4}
	for i, k := range c.Keys() {
		if k != wantKeys[i] {
			t.Fatalf("keys[%d] = %d, want %d", i, k, wantKeys[i])
		}
	}
}

func TestBounded_SetOverwriteKeepsPosition(t *testing.T) {
	c := NewBounded[int, string](2)
	c.Set(1, "a")
	c.Set(2, "b")
	c.Set(1, "a2") // overwrite, key 1 stays oldest

	c.Set(3, "c")
	if c.Has(1) {
		t.Fatal("overwritten key 1 should still be oldest and evicted first")
	}
	if v, _ := c.Get(2); v != "b" {
		t.Fatalf("Get(2) = %q, want b", v)
	}
}

func TestBounded_UpdateMissingKeyIsNoop(t *testing.T) {
	c := NewBounded[string, int](4)
	called := false
	if ok := c.Update("missing", func(v int) int { called = true; return v + 1 }); ok {
		t.Fatal("Update on a missing key should return false")
	}
	if called {
		t.Fatal("merge must not run for a missing key")
	}
}

func TestBounded_SetOrUpdate(t *testing.T) {
	c := NewBounded[string, []int](4)
	factoryCalls := 0

	v := c.SetOrUpdate("k",
		func() []int { factoryCalls++; return []int{1} },
		func(v []int) []int { return append(v, 2) },
	)
	if factoryCalls != 1 {
		t.Fatalf("factory calls = %d, want 1", factoryCalls)
	}
	if len(v) != 2 || v[0] != 1 || v[1] != 2 {
		t.Fatalf("value = %v, want [1 2]", v)
	}

	// Second call must not re-invoke the factory and must keep prior state.
	v = c.SetOrUpdate("k",
		func() []int { factoryCalls++; return []int{9} },
		func(v []int) []int { return append(v, 3) },
	)
	if factoryCalls != 1 {
		t.Fatalf("factory calls after second SetOrUpdate = %d, want 1", factoryCalls)
	}
	if len(v) != 3 || v[2] != 3 {
		t.Fatalf("value = %v, want [1 2 3]", v)
	}
}

func TestBounded_PopPopIfAsymmetry(t *testing.T) {
	c := NewBounded[int, string](8)
	c.Set(1, "oldest")
	c.Set(2, "middle")
	c.Set(3, "newest")

	// Pop with no predicate removes the newest entry.
	k, v, ok := c.Pop(nil)
	if !ok || k != 3 || v != "newest" {
		t.Fatalf("Pop(nil) = %d, %q, %v, want 3, newest, true", k, v, ok)
	}

	// PopIf with no predicate removes the oldest entry. This asymmetry is
	// intentional; see the PopIf doc comment.
	k, v, ok = c.PopIf(nil)
	if !ok || k != 1 || v != "oldest" {
		t.Fatalf("PopIf(nil) = %d, %q, %v, want 1, oldest, true", k, v, ok)
	}

	if c.Len() != 1 || !c.Has(2) {
		t.Fatalf("remaining keys = %v, want [2]", c.Keys())
	}
}

func TestBounded_PopWithPredicateScansNewestFirst(t *testing.T) {
	c := NewBounded[int, int](8)
	for i := 1; i <= 5; i++ {
		c.Set(i, i*10)
	}

	// Both 2 and 4 match; the newest match wins.
	k, v, ok := c.Pop(func(k, v int) bool { return k%2 == 0 })
	if !ok || k != 4 || v != 40 {
		t.Fatalf("Pop(even) = %d, %d, %v, want 4, 40, true", k, v, ok)
	}

	// PopIf with a predicate behaves like Pop.
	k, v, ok = c.PopIf(func(k, v int) bool { return k%2 == 0 })
	if !ok || k != 2 || v != 20 {
		t.Fatalf("PopIf(even) = %d, %d, %v, want 2, 20, true", k, v, ok)
	}

	if _, _, ok := c.Pop(func(k, v int) bool { return k > 100 }); ok {
		t.Fatal("Pop with no matching entry should return false")
	}
}

func TestBounded_PopEmpty(t *testing.T) {
	c := NewBounded[int, int](2)
	if _, _, ok := c.Pop(nil); ok {
		t.Fatal("Pop on empty cache should return false")
	}
	if _, _, ok := c.PopIf(nil); ok {
		t.Fatal("PopIf on empty cache should return false")
	}
}

func TestBounded_ClearAndRange(t *testing.T) {
	c := NewBounded[int, string](4)
	c.Set(1, "a")
	c.Set(2, "b")
	c.Set(3, "c")

	var seen []int
	c.Range(func(k int, v string) bool {
		seen = append(seen, k)
		return k < 2 // stop after key 2
	})
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Fatalf("ranged keys = %v, want [1 2]", seen)
	}

	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("len after Clear = %d, want 0", c.Len())
	}
	if c.Cap() != 4 {
		t.Fatalf("cap after Clear = %d, want 4", c.Cap())
	}
	c.Set(9, "z")
	if !c.Has(9) {
		t.Fatal("cache should be reusable after Clear")
	}
}

func TestBounded_MinimumCapacity(t *testing.T) {
	c := NewBounded[int, int](0)
	c.Set(1, 1)
	c.Set(2, 2)
	if c.Len() != 1 || !c.Has(2) {
		t.Fatalf("capacity-clamped cache should hold only the newest entry, keys = %v", c.Keys())
	}
}
