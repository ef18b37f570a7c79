package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/garyjia/docledger/internal/application/port"
	"github.com/garyjia/docledger/internal/infrastructure/persistence/sqlite"
	sqlite3 "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// ItemRepository implements port.ItemStore on the items table
type ItemRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewItemRepository creates a new SQLite item store
func NewItemRepository(db *sqlite.DB, logger *zap.Logger) *ItemRepository {
	return &ItemRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new item; an existing (collection, id) yields port.ErrAlreadyExists
func (r *ItemRepository) Create(ctx context.Context, collection, id string, data []byte) error {
	query := `
		INSERT INTO items (collection, id, data, status)
		VALUES (?, ?, ?, COALESCE(json_extract(?, '$.status'), ''))
	`

	_, err := r.db.Executor(ctx).ExecContext(ctx, query, collection, id, string(data), string(data))
	if err != nil {
		var sqlErr sqlite3.Error
		if errors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return fmt.Errorf("item %s/%s: %w", collection, id, port.ErrAlreadyExists)
		}
		r.logger.Error("Failed to create item",
			zap.String("collection", collection),
			zap.String("id", id),
			zap.Error(err))
		return fmt.Errorf("failed to create item: %w", err)
	}
	return nil
}

// Read returns the data of one item
func (r *ItemRepository) Read(ctx context.Context, collection, id string) ([]byte, error) {
	query := `SELECT data FROM items WHERE collection = ? AND id = ?`

	var data string
	err := r.db.Executor(ctx).QueryRowContext(ctx, query, collection, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %s/%s: %w", collection, id, port.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("Failed to read item",
			zap.String("collection", collection),
			zap.String("id", id),
			zap.Error(err))
		return nil, fmt.Errorf("failed to read item: %w", err)
	}
	return []byte(data), nil
}

// Update replaces the data of an existing item
func (r *ItemRepository) Update(ctx context.Context, collection, id string, data []byte) error {
	query := `
		UPDATE items
		SET data = ?, status = COALESCE(json_extract(?, '$.status'), ''), updated_at = CURRENT_TIMESTAMP
		WHERE collection = ? AND id = ?
	`

	result, err := r.db.Executor(ctx).ExecContext(ctx, query, string(data), string(data), collection, id)
	if err != nil {
		r.logger.Error("Failed to update item",
			zap.String("collection", collection),
			zap.String("id", id),
			zap.Error(err))
		return fmt.Errorf("failed to update item: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("item %s/%s: %w", collection, id, port.ErrNotFound)
	}
	return nil
}

// List returns the items of a collection in insertion order
func (r *ItemRepository) List(ctx context.Context, collection string, limit, offset int) ([]port.Item, error) {
	query := `
		SELECT id, data FROM items
		WHERE collection = ?
		ORDER BY rowid ASC
		LIMIT ? OFFSET ?
	`
	return r.query(ctx, collection, query, collection, sqlLimit(limit), max(offset, 0))
}

// ListByStatus returns the items of a collection whose status matches
func (r *ItemRepository) ListByStatus(ctx context.Context, collection, status string, limit, offset int) ([]port.Item, error) {
	query := `
		SELECT id, data FROM items
		WHERE collection = ? AND status = ?
		ORDER BY rowid ASC
		LIMIT ? OFFSET ?
	`
	return r.query(ctx, collection, query, collection, status, sqlLimit(limit), max(offset, 0))
}

func (r *ItemRepository) query(ctx context.Context, collection, query string, args ...interface{}) ([]port.Item, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list items", zap.String("collection", collection), zap.Error(err))
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var items []port.Item
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, port.Item{ID: id, Collection: collection, Data: []byte(data)})
	}
	return items, rows.Err()
}

// sqlLimit maps "no limit" to SQLite's -1
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

var _ port.ItemStore = (*ItemRepository)(nil)
