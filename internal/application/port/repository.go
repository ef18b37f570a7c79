package port

import (
	"context"
	"errors"

	"github.com/garyjia/docledger/internal/domain/entity"
)

// Store errors
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// Item is one stored JSON document of a collection
type Item struct {
	ID         string
	Collection string
	Data       []byte
}

// ItemStore is a collection-keyed JSON document store. Items are listed in insertion order;
// a limit <= 0 means no limit. ListByStatus filters on the top-level "status" field of the data.
type ItemStore interface {
	Create(ctx context.Context, collection, id string, data []byte) error
	Read(ctx context.Context, collection, id string) ([]byte, error)
	Update(ctx context.Context, collection, id string, data []byte) error
	List(ctx context.Context, collection string, limit, offset int) ([]Item, error)
	ListByStatus(ctx context.Context, collection, status string, limit, offset int) ([]Item, error)
}

// DocumentRecord is a processed document with everything derived from it
type DocumentRecord struct {
	ID         string                  `json:"id"`
	Document   entity.RawDocument      `json:"document"`
	Direction  entity.Direction        `json:"direction"`
	Fields     entity.ExtractedFields  `json:"fields"`
	Amounts    *entity.DocumentAmounts `json:"amounts,omitempty"`
	Validation entity.ValidationResult `json:"validation"`
	Issues     []entity.ErrorKind      `json:"issues,omitempty"`
	EntryID    string                  `json:"entry_id,omitempty"`
	Status     string                  `json:"status"`
}

// Document statuses
const (
	DocumentAccepted = "ACCEPTED"
	DocumentRejected = "REJECTED"
	DocumentBooked   = "BOOKED"
)

// DocumentRepository persists processed documents
type DocumentRepository interface {
	Save(ctx context.Context, rec *DocumentRecord) error
	Get(ctx context.Context, id string) (*DocumentRecord, error)
	List(ctx context.Context, status string, limit, offset int) ([]*DocumentRecord, error)
}

// JournalRepository persists journal entries
type JournalRepository interface {
	Create(ctx context.Context, entry *entity.JournalEntry) error
	Get(ctx context.Context, id string) (*entity.JournalEntry, error)
	Update(ctx context.Context, entry *entity.JournalEntry) error
	List(ctx context.Context, status entity.EntryStatus) ([]*entity.JournalEntry, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
