package cache

import (
	"context"
	"sync"
)

// MemoryStore 是进程内实现，读写都做深拷贝，调用方拿到的对象可以随意修改。
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Response
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Response)}
}

func (m *MemoryStore) Lookup(ctx context.Context, key string) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return entry.Clone(), nil
}

func (m *MemoryStore) Write(ctx context.Context, key string, resp *Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = resp.Clone()
	return nil
}

// Len returns the number of stored entries.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
