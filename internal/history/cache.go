package history

import (
	"context"
	"sync"
)

// Cache stores snapshots by thread id.
type Cache interface {
	Get(ctx context.Context, threadID string) (Snapshot, bool)
	Put(ctx context.Context, snap Snapshot)
	Invalidate(ctx context.Context, threadID string)
}

type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]Snapshot
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]Snapshot)}
}

func (m *MemoryCache) Get(_ context.Context, threadID string) (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.entries[threadID]
	return snap, ok
}

func (m *MemoryCache) Put(_ context.Context, snap Snapshot) {
	if snap.ThreadID == "" {
		return
	}
	m.mu.Lock()
	m.entries[snap.ThreadID] = snap
	m.mu.Unlock()
}

func (m *MemoryCache) Invalidate(_ context.Context, threadID string) {
	m.mu.Lock()
	delete(m.entries, threadID)
	m.mu.Unlock()
}
