package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// memoryEntry is one cached value plus the bookkeeping the LRU needs.
type memoryEntry struct {
	key       string
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// MemoryStorage is a bounded in-memory Storage with TTL expiry and LRU
// eviction. A read of an expired entry is treated as absent and evicts
// the entry; when the entry count exceeds the bound, the least recently
// accessed entry is evicted first. Safe for concurrent use.
type MemoryStorage struct {
	mu         sync.Mutex
	maxEntries int
	entries    map[string]*list.Element
	// lru orders elements most-recently-accessed first.
	lru *list.List
	now func() time.Time
}

// NewMemoryStorage creates a storage bounded to maxEntries entries.
// maxEntries <= 0 means unbounded.
func NewMemoryStorage(maxEntries int) *MemoryStorage {
	return &MemoryStorage{
		maxEntries: maxEntries,
		entries:    make(map[string]*list.Element),
		lru:        list.New(),
		now:        time.Now,
	}
}

// Write stores value under key. A ttl of zero means no expiry.
func (m *MemoryStorage) Write(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = m.now().Add(ttl)
	}

	if el, ok := m.entries[key]; ok {
		ent := el.Value.(*memoryEntry)
		ent.value = value
		ent.expiresAt = expiresAt
		m.lru.MoveToFront(el)
		return nil
	}

	el := m.lru.PushFront(&memoryEntry{key: key, value: value, expiresAt: expiresAt})
	m.entries[key] = el

	for m.maxEntries > 0 && m.lru.Len() > m.maxEntries {
		oldest := m.lru.Back()
		if oldest == nil {
			break
		}
		m.removeElement(oldest)
	}
	return nil
}

// Read returns the value for key, updating its recency. Expired entries
// read as absent and are evicted.
func (m *MemoryStorage) Read(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	ent := el.Value.(*memoryEntry)
	if !ent.expiresAt.IsZero() && !m.now().Before(ent.expiresAt) {
		m.removeElement(el)
		return nil, false, nil
	}
	m.lru.MoveToFront(el)
	return ent.value, true, nil
}

// Delete removes one key. Missing keys are a no-op.
func (m *MemoryStorage) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.entries[key]; ok {
		m.removeElement(el)
	}
	return nil
}

// DeleteMatching removes every key accepted by pred.
func (m *MemoryStorage) DeleteMatching(_ context.Context, pred func(key string) bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var next *list.Element
	for el := m.lru.Front(); el != nil; el = next {
		next = el.Next()
		if pred(el.Value.(*memoryEntry).key) {
			m.removeElement(el)
		}
	}
	return nil
}

// Clear removes all entries.
func (m *MemoryStorage) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*list.Element)
	m.lru.Init()
	return nil
}

// Len returns the current entry count, counting expired entries not yet
// swept or read.
func (m *MemoryStorage) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lru.Len()
}

// Sweep evicts every expired entry and returns how many were removed.
// The janitor calls this on its schedule.
func (m *MemoryStorage) Sweep(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	var next *list.Element
	for el := m.lru.Front(); el != nil; el = next {
		next = el.Next()
		ent := el.Value.(*memoryEntry)
		if !ent.expiresAt.IsZero() && !now.Before(ent.expiresAt) {
			m.removeElement(el)
			removed++
		}
	}
	return removed, nil
}

// removeElement must be called with the lock held.
func (m *MemoryStorage) removeElement(el *list.Element) {
	m.lru.Remove(el)
	delete(m.entries, el.Value.(*memoryEntry).key)
}
