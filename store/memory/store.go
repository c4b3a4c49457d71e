// Package memory provides fully in-memory storage backends. Safe for
// concurrent access. Intended for unit testing, development, and
// single-process deployments that tolerate losing the offline queue on
// restart.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/helixrun/conduit"
	"github.com/helixrun/conduit/id"
	"github.com/helixrun/conduit/offline"
)

var _ offline.Storage = (*Store)(nil)

// Store is an in-memory offline.Storage.
type Store struct {
	mu      sync.RWMutex
	records map[string]*offline.Record // key: record ID string
	byDedup map[string]string          // dedup key -> record ID string
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		records: make(map[string]*offline.Record),
		byDedup: make(map[string]string),
	}
}

// SaveJob persists a record, upserting by dedup key: a save with a key
// already on file replaces the earlier record so the queue never holds
// two records for one deduplicated action.
func (m *Store) SaveJob(_ context.Context, rec *offline.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.byDedup[rec.DedupKey]; ok && prev != rec.ID.String() {
		delete(m.records, prev)
	}

	cp := *rec
	key := rec.ID.String()
	m.records[key] = &cp
	m.byDedup[rec.DedupKey] = key
	return nil
}

// GetJob returns a copy of the record with the given ID.
func (m *Store) GetJob(_ context.Context, recID id.RecordID) (*offline.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[recID.String()]
	if !ok {
		return nil, conduit.ErrRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

// GetJobByDedupKey returns a copy of the record holding the key.
func (m *Store) GetJobByDedupKey(_ context.Context, key string) (*offline.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recKey, ok := m.byDedup[key]
	if !ok {
		return nil, conduit.ErrRecordNotFound
	}
	rec, ok := m.records[recKey]
	if !ok {
		return nil, conduit.ErrRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

// GetAllJobs returns copies of all records, oldest first.
func (m *Store) GetAllJobs(_ context.Context) ([]*offline.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*offline.Record, 0, len(m.records))
	for _, rec := range m.records {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// UpdateJob replaces the stored record.
func (m *Store) UpdateJob(_ context.Context, rec *offline.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := rec.ID.String()
	if _, ok := m.records[key]; !ok {
		return conduit.ErrRecordNotFound
	}
	cp := *rec
	m.records[key] = &cp
	return nil
}

// RemoveJob deletes the record with the given ID.
func (m *Store) RemoveJob(_ context.Context, recID id.RecordID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := recID.String()
	rec, ok := m.records[key]
	if !ok {
		return conduit.ErrRecordNotFound
	}
	delete(m.byDedup, rec.DedupKey)
	delete(m.records, key)
	return nil
}

// ClearAll removes every record.
func (m *Store) ClearAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = make(map[string]*offline.Record)
	m.byDedup = make(map[string]string)
	return nil
}
