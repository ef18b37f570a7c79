package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/garyjia/docledger/internal/application/port"
	"github.com/garyjia/docledger/internal/domain/entity"
)

// Collection names in the item store
const (
	CollectionDocuments      = "documents"
	CollectionJournalEntries = "journal_entries"
)

// DocumentRepository implements port.DocumentRepository over an item store
type DocumentRepository struct {
	store port.ItemStore
}

// NewDocumentRepository creates a document repository
func NewDocumentRepository(store port.ItemStore) *DocumentRepository {
	return &DocumentRepository{store: store}
}

// Save creates the record or replaces an existing one with the same id
func (r *DocumentRepository) Save(ctx context.Context, rec *port.DocumentRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode document %s: %w", rec.ID, err)
	}
	err = r.store.Create(ctx, CollectionDocuments, rec.ID, data)
	if errors.Is(err, port.ErrAlreadyExists) {
		return r.store.Update(ctx, CollectionDocuments, rec.ID, data)
	}
	return err
}

// Get loads one record
func (r *DocumentRepository) Get(ctx context.Context, id string) (*port.DocumentRecord, error) {
	data, err := r.store.Read(ctx, CollectionDocuments, id)
	if err != nil {
		return nil, err
	}
	var rec port.DocumentRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", id, err)
	}
	return &rec, nil
}

// List returns records in insertion order, optionally filtered by status
func (r *DocumentRepository) List(ctx context.Context, status string, limit, offset int) ([]*port.DocumentRecord, error) {
	var (
		items []port.Item
		err   error
	)
	if status == "" {
		items, err = r.store.List(ctx, CollectionDocuments, limit, offset)
	} else {
		items, err = r.store.ListByStatus(ctx, CollectionDocuments, status, limit, offset)
	}
	if err != nil {
		return nil, err
	}

	out := make([]*port.DocumentRecord, 0, len(items))
	for _, it := range items {
		var rec port.DocumentRecord
		if err := json.Unmarshal(it.Data, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode document %s: %w", it.ID, err)
		}
		out = append(out, &rec)
	}
	return out, nil
}

// JournalRepository implements port.JournalRepository over an item store
type JournalRepository struct {
	store port.ItemStore
}

// NewJournalRepository creates a journal repository
func NewJournalRepository(store port.ItemStore) *JournalRepository {
	return &JournalRepository{store: store}
}

// Create stores a new entry
func (r *JournalRepository) Create(ctx context.Context, entry *entity.JournalEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode journal entry %s: %w", entry.ID, err)
	}
	return r.store.Create(ctx, CollectionJournalEntries, entry.ID, data)
}

// Get loads one entry
func (r *JournalRepository) Get(ctx context.Context, id string) (*entity.JournalEntry, error) {
	data, err := r.store.Read(ctx, CollectionJournalEntries, id)
	if err != nil {
		return nil, err
	}
	var entry entity.JournalEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode journal entry %s: %w", id, err)
	}
	return &entry, nil
}

// Update replaces an existing entry
func (r *JournalRepository) Update(ctx context.Context, entry *entity.JournalEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode journal entry %s: %w", entry.ID, err)
	}
	return r.store.Update(ctx, CollectionJournalEntries, entry.ID, data)
}

// List returns all entries in insertion order; an empty status returns every entry
func (r *JournalRepository) List(ctx context.Context, status entity.EntryStatus) ([]*entity.JournalEntry, error) {
	var (
		items []port.Item
		err   error
	)
	if status == "" {
		items, err = r.store.List(ctx, CollectionJournalEntries, 0, 0)
	} else {
		items, err = r.store.ListByStatus(ctx, CollectionJournalEntries, string(status), 0, 0)
	}
	if err != nil {
		return nil, err
	}

	out := make([]*entity.JournalEntry, 0, len(items))
	for _, it := range items {
		var entry entity.JournalEntry
		if err := json.Unmarshal(it.Data, &entry); err != nil {
			return nil, fmt.Errorf("failed to decode journal entry %s: %w", it.ID, err)
		}
		out = append(out, &entry)
	}
	return out, nil
}

var (
	_ port.DocumentRepository = (*DocumentRepository)(nil)
	_ port.JournalRepository  = (*JournalRepository)(nil)
)
