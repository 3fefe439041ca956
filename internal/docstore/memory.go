package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
)

// MemoryStore is an in-process Store. Documents are deep-copied through JSON
// so callers observe the same value types as with SQLiteStore.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string]Document

	// FailWith, when set, is returned by every operation.
	FailWith error
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string]Document)}
}

func (m *MemoryStore) fail() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.FailWith
}

// SetFailure makes every subsequent call return err (nil clears it).
func (m *MemoryStore) SetFailure(err error) {
	m.mu.Lock()
	m.FailWith = err
	m.mu.Unlock()
}

func (m *MemoryStore) Get(_ context.Context, collection, id string) (Document, error) {
	if err := m.fail(); err != nil {
		return nil, err
	}
	if err := validateKey(collection, id); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.data[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneDocument(doc)
}

func (m *MemoryStore) Set(_ context.Context, collection, id string, data Document, merge bool) error {
	if err := m.fail(); err != nil {
		return err
	}
	if err := validateKey(collection, id); err != nil {
		return err
	}
	doc, err := cloneDocument(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[collection] == nil {
		m.data[collection] = make(map[string]Document)
	}
	if existing, ok := m.data[collection][id]; ok && merge {
		doc = mergeDocuments(existing, doc)
	}
	m.data[collection][id] = doc
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, collection, id string) error {
	if err := m.fail(); err != nil {
		return err
	}
	if err := validateKey(collection, id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[collection], id)
	return nil
}

func (m *MemoryStore) QueryByField(_ context.Context, collection, field string, value any) ([]Record, error) {
	if err := m.fail(); err != nil {
		return nil, err
	}
	if err := validateField(field); err != nil {
		return nil, err
	}
	want, err := normalizeValue(value)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for id, doc := range m.data[collection] {
		if got, ok := doc[field]; ok && reflect.DeepEqual(got, want) {
			cp, err := cloneDocument(doc)
			if err != nil {
				return nil, err
			}
			out = append(out, Record{ID: id, Data: cp})
		}
	}
	sortRecords(out)
	return out, nil
}

// Len returns the number of documents in collection.
func (m *MemoryStore) Len(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data[collection])
}

func cloneDocument(doc Document) (Document, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return decodeDocument(string(raw))
}

// normalizeValue maps value onto the types produced by decoding JSON.
func normalizeValue(value any) (any, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode query value: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode query value: %w", err)
	}
	return out, nil
}
