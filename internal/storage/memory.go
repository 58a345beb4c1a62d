package storage

import (
	"context"
	"maps"
	"slices"
	"sync"
)

// MemoryStore is an in-process RecordStore for tests, replays and dry runs.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[Namespace]map[string][]byte
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[Namespace]map[string][]byte)}
}

// Get implements KV.
func (m *MemoryStore) Get(ctx context.Context, ns Namespace, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return memView{data: m.data}.Get(ctx, ns, key)
}

// Put implements KV.
func (m *MemoryStore) Put(ctx context.Context, ns Namespace, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memView{data: m.data}.Put(ctx, ns, key, value)
}

// Delete implements KV.
func (m *MemoryStore) Delete(ctx context.Context, ns Namespace, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memView{data: m.data}.Delete(ctx, ns, key)
}

// List implements KV.
func (m *MemoryStore) List(ctx context.Context, ns Namespace, offset, limit int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return memView{data: m.data}.List(ctx, ns, offset, limit)
}

// Count implements KV.
func (m *MemoryStore) Count(ctx context.Context, ns Namespace) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data[ns]), nil
}

// Update implements RecordStore. fn works on a copy of the store that replaces
// the live data only when fn succeeds.
func (m *MemoryStore) Update(ctx context.Context, fn func(tx KV) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	staged := make(map[Namespace]map[string][]byte, len(m.data))
	for ns, entries := range m.data {
		staged[ns] = maps.Clone(entries)
	}
	if err := fn(memView{data: staged}); err != nil {
		return err
	}
	m.data = staged
	return nil
}

// memView operates on a namespace map without locking; callers hold the lock.
type memView struct {
	data map[Namespace]map[string][]byte
}

func (v memView) Get(_ context.Context, ns Namespace, key string) ([]byte, bool, error) {
	value, ok := v.data[ns][key]
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(value), true, nil
}

func (v memView) Put(_ context.Context, ns Namespace, key string, value []byte) error {
	entries, ok := v.data[ns]
	if !ok {
		entries = make(map[string][]byte)
		v.data[ns] = entries
	}
	entries[key] = slices.Clone(value)
	return nil
}

func (v memView) Delete(_ context.Context, ns Namespace, key string) (bool, error) {
	entries := v.data[ns]
	if _, ok := entries[key]; !ok {
		return false, nil
	}
	delete(entries, key)
	return true, nil
}

func (v memView) List(_ context.Context, ns Namespace, offset, limit int) ([]Entry, error) {
	var keys []string
	for k := range v.data[ns] {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	if offset < 0 {
		offset = 0
	}
	if offset > len(keys) {
		offset = len(keys)
	}
	keys = keys[offset:]
	if limit > 0 && limit < len(keys) {
		keys = keys[:limit]
	}

	entries := make([]Entry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, Entry{Key: k, Value: slices.Clone(v.data[ns][k])})
	}
	return entries, nil
}

func (v memView) Count(_ context.Context, ns Namespace) (int, error) {
	return len(v.data[ns]), nil
}

var (
	_ RecordStore = (*MemoryStore)(nil)
	_ KV          = memView{}
)
