package cmap

import (
	"fmt"
	"sync"
	"testing"
)

func TestNew(t *testing.T) {
	m := New[int]()
	if m == nil {
		t.Fatal("New() returned nil")
	}
	if len(m.shards) != DefaultShardCount {
		t.Errorf("shard count = %d, want %d", len(m.shards), DefaultShardCount)
	}
}

func TestNewWithShards(t *testing.T) {
	tests := []struct {
		input    int
		expected int
	}{
		{0, DefaultShardCount},
		{-1, DefaultShardCount},
		{3, DefaultShardCount},
		{1, 1},
		{2, 2},
		{8, 8},
		{32, 32},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("shards=%d", tt.input), func(t *testing.T) {
			m := NewWithShards[int](tt.input)
			if len(m.shards) != tt.expected {
				t.Errorf("NewWithShards(%d) shard count = %d, want %d",
					tt.input, len(m.shards), tt.expected)
			}
		})
	}
}

func TestSetGetDelete(t *testing.T) {
	m := New[int]()

	m.Set("a", 1)
	m.Set("b", 2)

	if v, ok := m.Get("a"); !ok || v != 1 {
		t.Errorf("Get(a) = (%d, %v), want (1, true)", v, ok)
	}
	if _, ok := m.Get("missing"); ok {
		t.Error("Get(missing) should not exist")
	}
	if m.Count() != 2 {
		t.Errorf("Count() = %d, want 2", m.Count())
	}

	m.Delete("a")
	if m.Has("a") {
		t.Error("Has(a) after Delete = true")
	}
	m.Delete("missing")

	m.Clear()
	if m.Count() != 0 {
		t.Errorf("Count() after Clear = %d, want 0", m.Count())
	}
}

func TestSetIfAbsent(t *testing.T) {
	m := New[string]()

	if !m.SetIfAbsent("k", "first") {
		t.Fatal("SetIfAbsent on empty key = false")
	}
	if m.SetIfAbsent("k", "second") {
		t.Error("SetIfAbsent on existing key = true")
	}
	if v, _ := m.Get("k"); v != "first" {
		t.Errorf("Get(k) = %q, want first", v)
	}
}

func TestPopAndPopIf(t *testing.T) {
	m := New[int]()
	m.Set("x", 10)
	m.Set("y", 20)

	if v, ok := m.Pop("x"); !ok || v != 10 {
		t.Errorf("Pop(x) = (%d, %v), want (10, true)", v, ok)
	}
	if _, ok := m.Pop("x"); ok {
		t.Error("second Pop(x) should fail")
	}

	if _, ok := m.PopIf("y", func(v int) bool { return v > 100 }); ok {
		t.Error("PopIf with false predicate removed the key")
	}
	if !m.Has("y") {
		t.Fatal("y should still exist")
	}
	if v, ok := m.PopIf("y", func(v int) bool { return v == 20 }); !ok || v != 20 {
		t.Errorf("PopIf(y) = (%d, %v), want (20, true)", v, ok)
	}
	if m.Has("y") {
		t.Error("y should be removed")
	}
}

func TestCompute(t *testing.T) {
	m := New[int]()

	v, kept := m.Compute("n", func(cur int, exists bool) (int, bool) {
		if exists {
			t.Error("exists = true for new key")
		}
		return cur + 1, true
	})
	if !kept || v != 1 {
		t.Errorf("Compute() = (%d, %v), want (1, true)", v, kept)
	}

	m.Compute("n", func(cur int, _ bool) (int, bool) { return cur + 1, true })
	if v, _ := m.Get("n"); v != 2 {
		t.Errorf("Get(n) = %d, want 2", v)
	}

	if _, kept := m.Compute("n", func(int, bool) (int, bool) { return 0, false }); kept {
		t.Error("Compute with keep=false reported kept")
	}
	if m.Has("n") {
		t.Error("Compute with keep=false should delete key")
	}
}

func TestRangeKeysValues(t *testing.T) {
	m := New[int]()
	for i := 0; i < 50; i++ {
		m.Set(fmt.Sprintf("k%d", i), i)
	}

	if len(m.Keys()) != 50 {
		t.Errorf("len(Keys()) = %d, want 50", len(m.Keys()))
	}
	sum := 0
	for _, v := range m.Values() {
		sum += v
	}
	if sum != 49*50/2 {
		t.Errorf("sum(Values()) = %d, want %d", sum, 49*50/2)
	}

	visited := 0
	m.Range(func(string, int) bool {
		visited++
		return visited < 5
	})
	if visited != 5 {
		t.Errorf("Range stopped after %d, want 5", visited)
	}
}

func TestRemoveIf(t *testing.T) {
	m := New[int]()
	for i := 0; i < 20; i++ {
		m.Set(fmt.Sprintf("k%d", i), i)
	}

	removed := m.RemoveIf(func(_ string, v int) bool { return v%2 == 0 })
	if len(removed) != 10 {
		t.Errorf("removed %d, want 10", len(removed))
	}
	if m.Count() != 10 {
		t.Errorf("Count() = %d, want 10", m.Count())
	}
	if _, ok := removed["k4"]; !ok {
		t.Error("k4 should have been removed")
	}
}

func TestConcurrentAccess(t *testing.T) {
	m := New[int]()
	var wg sync.WaitGroup

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				key := fmt.Sprintf("g%d-%d", g, i)
				m.Set(key, i)
				m.Get(key)
				m.Compute("shared", func(cur int, _ bool) (int, bool) { return cur + 1, true })
			}
		}(g)
	}
	wg.Wait()

	if m.Count() != 8*500+1 {
		t.Errorf("Count() = %d, want %d", m.Count(), 8*500+1)
	}
	if v, _ := m.Get("shared"); v != 8*500 {
		t.Errorf("shared = %d, want %d", v, 8*500)
	}
}

func BenchmarkGet(b *testing.B) {
	m := New[int]()
	for i := 0; i < 1000; i++ {
		m.Set(fmt.Sprintf("k%d", i), i)
	}
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			m.Get(fmt.Sprintf("k%d", i%1000))
			i++
		}
	})
}
