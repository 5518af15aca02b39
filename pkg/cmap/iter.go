package cmap

// Range iterates over all key-value pairs.
//
// The callback returns false to stop iteration. The callback must not call
// back into the map for a key in the shard being visited.
func (m *Map[V]) Range(fn func(key string, value V) bool) {
	for _, s := range m.shards {
		s.mu.RLock()
		for k, v := range s.items {
			if !fn(k, v) {
				s.mu.RUnlock()
				return
			}
		}
		s.mu.RUnlock()
	}
}

// Keys returns all keys.
func (m *Map[V]) Keys() []string {
	keys := make([]string, 0, m.Count())
	m.Range(func(key string, _ V) bool {
		keys = append(keys, key)
		return true
	})
	return keys
}

// Values returns all values.
func (m *Map[V]) Values() []V {
	values := make([]V, 0, m.Count())
	m.Range(func(_ string, value V) bool {
		values = append(values, value)
		return true
	})
	return values
}

// Pop removes and returns the value for key.
func (m *Map[V]) Pop(key string) (V, bool) {
	s := m.getShard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[key]
	if ok {
		delete(s.items, key)
	}
	return v, ok
}

// PopIf removes the value for key when pred reports true, holding the shard
// lock across the check and the removal.
func (m *Map[V]) PopIf(key string, pred func(V) bool) (V, bool) {
	s := m.getShard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[key]
	if !ok || !pred(v) {
		var zero V
		return zero, false
	}
	delete(s.items, key)
	return v, true
}

// Compute atomically reads, transforms and writes back the value for key.
//
// fn receives the current value and whether it exists. It returns the new
// value and whether to keep it; keep=false deletes the key.
func (m *Map[V]) Compute(key string, fn func(value V, exists bool) (V, bool)) (V, bool) {
	s := m.getShard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, exists := s.items[key]
	next, keep := fn(cur, exists)
	if !keep {
		delete(s.items, key)
		var zero V
		return zero, false
	}
	s.items[key] = next
	return next, true
}

// RemoveIf deletes every entry for which pred reports true and returns the
// removed entries. Each shard is locked once.
func (m *Map[V]) RemoveIf(pred func(key string, value V) bool) map[string]V {
	removed := make(map[string]V)
	for _, s := range m.shards {
		s.mu.Lock()
		for k, v := range s.items {
			if pred(k, v) {
				removed[k] = v
				delete(s.items, k)
			}
		}
		s.mu.Unlock()
	}
	return removed
}
