package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/garyjia/docledger/internal/application/port"
)

// MemoryItemStore implements port.ItemStore in process memory. It backs the CLI and tests;
// data handed in and out is copied so callers cannot alias stored bytes.
type MemoryItemStore struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
}

type memoryCollection struct {
	order []string
	items map[string]memoryItem
}

type memoryItem struct {
	data   []byte
	status string
}

// NewMemoryItemStore creates an empty store
func NewMemoryItemStore() *MemoryItemStore {
	return &MemoryItemStore{collections: make(map[string]*memoryCollection)}
}

// Create stores a new item
func (s *MemoryItemStore) Create(_ context.Context, collection, id string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[collection]
	if !ok {
		c = &memoryCollection{items: make(map[string]memoryItem)}
		s.collections[collection] = c
	}
	if _, exists := c.items[id]; exists {
		return fmt.Errorf("item %s/%s: %w", collection, id, port.ErrAlreadyExists)
	}
	c.items[id] = memoryItem{data: clone(data), status: statusOf(data)}
	c.order = append(c.order, id)
	return nil
}

// Read returns a copy of one item's data
func (s *MemoryItemStore) Read(_ context.Context, collection, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.collections[collection]; ok {
		if it, ok := c.items[id]; ok {
			return clone(it.data), nil
		}
	}
	return nil, fmt.Errorf("item %s/%s: %w", collection, id, port.ErrNotFound)
}

// Update replaces an existing item's data
func (s *MemoryItemStore) Update(_ context.Context, collection, id string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[collection]
	if !ok {
		return fmt.Errorf("item %s/%s: %w", collection, id, port.ErrNotFound)
	}
	if _, exists := c.items[id]; !exists {
		return fmt.Errorf("item %s/%s: %w", collection, id, port.ErrNotFound)
	}
	c.items[id] = memoryItem{data: clone(data), status: statusOf(data)}
	return nil
}

// List returns items in insertion order
func (s *MemoryItemStore) List(_ context.Context, collection string, limit, offset int) ([]port.Item, error) {
	return s.list(collection, func(memoryItem) bool { return true }, limit, offset), nil
}

// ListByStatus returns items whose top-level status matches
func (s *MemoryItemStore) ListByStatus(_ context.Context, collection, status string, limit, offset int) ([]port.Item, error) {
	return s.list(collection, func(it memoryItem) bool { return it.status == status }, limit, offset), nil
}

func (s *MemoryItemStore) list(collection string, keep func(memoryItem) bool, limit, offset int) []port.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[collection]
	if !ok {
		return nil
	}

	var out []port.Item
	skipped := 0
	for _, id := range c.order {
		it := c.items[id]
		if !keep(it) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, port.Item{ID: id, Collection: collection, Data: clone(it.data)})
	}
	return out
}

func statusOf(data []byte) string {
	var probe struct {
		Status string `json:"status"`
	}
	_ = json.Unmarshal(data, &probe)
	return probe.Status
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}

var _ port.ItemStore = (*MemoryItemStore)(nil)
