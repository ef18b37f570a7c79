package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/garyjia/docledger/internal/application/port"
	"github.com/garyjia/docledger/internal/domain/entity"
	"github.com/garyjia/docledger/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/docledger/pkg/database"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newSQLiteStore(t *testing.T) (*ItemRepository, *sqlite.DB) {
	t.Helper()
	logger := zap.NewNop()
	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "items.db")}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.NewMigrator(db, logger).RunMigrations(database.Migrations()))

	txdb := sqlite.NewDB(db.DB, logger)
	return NewItemRepository(txdb, logger), txdb
}

func stores(t *testing.T) map[string]port.ItemStore {
	sqliteStore, _ := newSQLiteStore(t)
	return map[string]port.ItemStore{
		"sqlite": sqliteStore,
		"memory": NewMemoryItemStore(),
	}
}

func TestItemStore_CRUD(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, store.Create(ctx, "documents", "a", []byte(`{"status":"ACCEPTED"}`)))
			err := store.Create(ctx, "documents", "a", []byte(`{}`))
			assert.ErrorIs(t, err, port.ErrAlreadyExists)

			require.NoError(t, store.Create(ctx, "journal_entries", "a", []byte(`{"status":"DRAFT"}`)),
				"ids are scoped per collection")

			data, err := store.Read(ctx, "documents", "a")
			require.NoError(t, err)
			assert.JSONEq(t, `{"status":"ACCEPTED"}`, string(data))

			_, err = store.Read(ctx, "documents", "missing")
			assert.ErrorIs(t, err, port.ErrNotFound)

			require.NoError(t, store.Update(ctx, "documents", "a", []byte(`{"status":"BOOKED"}`)))
			data, err = store.Read(ctx, "documents", "a")
			require.NoError(t, err)
			assert.JSONEq(t, `{"status":"BOOKED"}`, string(data))

			err = store.Update(ctx, "documents", "missing", []byte(`{}`))
			assert.ErrorIs(t, err, port.ErrNotFound)
		})
	}
}

func TestItemStore_ListPaging(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 5; i++ {
				status := "ACCEPTED"
				if i%2 == 1 {
					status = "REJECTED"
				}
				data := []byte(fmt.Sprintf(`{"n":%d,"status":%q}`, i, status))
				require.NoError(t, store.Create(ctx, "documents", fmt.Sprintf("doc-%d", i), data))
			}

			all, err := store.List(ctx, "documents", 0, 0)
			require.NoError(t, err)
			assert.Equal(t, []string{"doc-0", "doc-1", "doc-2", "doc-3", "doc-4"}, ids(all))

			page, err := store.List(ctx, "documents", 2, 1)
			require.NoError(t, err)
			assert.Equal(t, []string{"doc-1", "doc-2"}, ids(page))

			rejected, err := store.ListByStatus(ctx, "documents", "REJECTED", 0, 0)
			require.NoError(t, err)
			assert.Equal(t, []string{"doc-1", "doc-3"}, ids(rejected))

			accepted, err := store.ListByStatus(ctx, "documents", "ACCEPTED", 1, 1)
			require.NoError(t, err)
			assert.Equal(t, []string{"doc-2"}, ids(accepted))

			empty, err := store.List(ctx, "nothing", 0, 0)
			require.NoError(t, err)
			assert.Empty(t, empty)
		})
	}
}

func TestMemoryItemStore_CopiesData(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryItemStore()
	data := []byte(`{"status":"DRAFT"}`)
	require.NoError(t, store.Create(ctx, "c", "1", data))
	data[2] = 'X'

	got, err := store.Read(ctx, "c", "1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"DRAFT"}`, string(got))
}

func TestItemRepository_TransactionRollback(t *testing.T) {
	store, db := newSQLiteStore(t)
	ctx := context.Background()

	err := db.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := store.Create(txCtx, "documents", "tx-1", []byte(`{}`)); err != nil {
			return err
		}
		return fmt.Errorf("abort")
	})
	require.EqualError(t, err, "abort")

	_, err = store.Read(ctx, "documents", "tx-1")
	assert.ErrorIs(t, err, port.ErrNotFound)

	require.NoError(t, db.WithTransaction(ctx, func(txCtx context.Context) error {
		return store.Create(txCtx, "documents", "tx-2", []byte(`{}`))
	}))
	_, err = store.Read(ctx, "documents", "tx-2")
	assert.NoError(t, err)
}

func TestTypedRepositories(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			docs := NewDocumentRepository(store)
			journal := NewJournalRepository(store)

			rec := &port.DocumentRecord{
				ID:        "doc-1",
				Document:  entity.RawDocument{ID: "doc-1", Text: "Total CHF 108.10", Language: entity.LangGerman},
				Direction: entity.DirectionPurchase,
				Amounts: &entity.DocumentAmounts{
					Net:      decimal.RequireFromString("100.00"),
					VAT:      decimal.RequireFromString("8.10"),
					Gross:    decimal.RequireFromString("108.10"),
					Currency: "CHF",
				},
				Validation: entity.ValidationResult{Valid: true},
				Status:     port.DocumentAccepted,
			}
			require.NoError(t, docs.Save(ctx, rec))

			rec.Status = port.DocumentBooked
			rec.EntryID = "entry-1"
			require.NoError(t, docs.Save(ctx, rec), "save replaces")

			got, err := docs.Get(ctx, "doc-1")
			require.NoError(t, err)
			assert.Equal(t, port.DocumentBooked, got.Status)
			assert.Equal(t, "entry-1", got.EntryID)
			require.NotNil(t, got.Amounts)
			assert.True(t, got.Amounts.Gross.Equal(decimal.RequireFromString("108.10")))

			booked, err := docs.List(ctx, port.DocumentBooked, 0, 0)
			require.NoError(t, err)
			assert.Len(t, booked, 1)
			accepted, err := docs.List(ctx, port.DocumentAccepted, 0, 0)
			require.NoError(t, err)
			assert.Empty(t, accepted)

			_, err = docs.Get(ctx, "missing")
			assert.ErrorIs(t, err, port.ErrNotFound)

			entry := &entity.JournalEntry{
				ID:     "entry-1",
				Date:   time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
				Status: entity.EntryDraft,
				Lines: []entity.JournalLine{
					{AccountNumber: "4400", Debit: decimal.RequireFromString("100.00"), Credit: decimal.Zero},
					{AccountNumber: "2000", Debit: decimal.Zero, Credit: decimal.RequireFromString("100.00")},
				},
			}
			require.NoError(t, journal.Create(ctx, entry))
			assert.ErrorIs(t, journal.Create(ctx, entry), port.ErrAlreadyExists)

			entry.Status = entity.EntryValidated
			require.NoError(t, journal.Update(ctx, entry))

			validated, err := journal.List(ctx, entity.EntryValidated)
			require.NoError(t, err)
			require.Len(t, validated, 1)
			assert.Equal(t, "entry-1", validated[0].ID)
			assert.True(t, validated[0].Date.Equal(entry.Date))

			all, err := journal.List(ctx, "")
			require.NoError(t, err)
			assert.Len(t, all, 1)
		})
	}
}

func ids(items []port.Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}
