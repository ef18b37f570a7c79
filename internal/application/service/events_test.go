package service

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/garyjia/docledger/internal/application/dispatcher"
	"github.com/garyjia/docledger/internal/application/port"
	"github.com/garyjia/docledger/internal/domain/entity"
	"github.com/garyjia/docledger/internal/domain/event"
	"github.com/garyjia/docledger/internal/infrastructure/persistence/repository"
)

func TestAutoBookHandler_BooksAcceptedDocuments(t *testing.T) {
	store := repository.NewMemoryItemStore()
	events := dispatcher.NewDispatcher()
	docs := NewDocumentService(DocumentServiceDeps{
		Documents: repository.NewDocumentRepository(store),
		Journal:   repository.NewJournalRepository(store),
		Events:    events,
	}, zap.NewNop())
	events.SubscribeNamed(event.TypeDocumentAccepted, "auto-book", AutoBookHandler(docs))

	ctx := context.Background()
	_, err := docs.ProcessDocument(ctx, ProcessRequest{
		Document: entity.RawDocument{ID: "inv-1", Text: electricianInvoice},
	})
	require.NoError(t, err)
	_, err = docs.ProcessDocument(ctx, ProcessRequest{
		Document: entity.RawDocument{ID: "kiosk", Text: "Kiosk\nTotal CHF 108.10\n"},
	})
	require.NoError(t, err)
	require.NoError(t, events.Close())

	booked, err := docs.GetDocument(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, port.DocumentBooked, booked.Status)
	assert.NotEmpty(t, booked.EntryID)

	rejected, err := docs.GetDocument(ctx, "kiosk")
	require.NoError(t, err)
	assert.Equal(t, port.DocumentRejected, rejected.Status)
}

func TestAutoBookHandler_IgnoresAlreadyBooked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.docs.ProcessDocument(ctx, ProcessRequest{
		Document: entity.RawDocument{ID: "inv-1", Text: electricianInvoice},
	})
	require.NoError(t, err)
	_, err = f.docs.CreateJournalEntry(ctx, "inv-1")
	require.NoError(t, err)

	handler := AutoBookHandler(f.docs)
	assert.NoError(t, handler(ctx, event.NewEvent(event.TypeDocumentAccepted, "inv-1", nil)))
	assert.Error(t, handler(ctx, event.NewEvent(event.TypeDocumentAccepted, "missing", nil)))
}

func TestAuditHandler_LogsPayload(t *testing.T) {
	var buf bytes.Buffer
	core := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), zapcore.AddSync(&buf), zapcore.InfoLevel)

	handler := AuditHandler(zap.New(core))
	evt := event.NewEvent(event.TypeDocumentBooked, "inv-1", map[string]any{"entry_id": "je-1"})
	require.NoError(t, handler(context.Background(), evt))

	assert.Contains(t, buf.String(), `"event_type":"document.booked"`)
	assert.Contains(t, buf.String(), `"document_id":"inv-1"`)
	assert.Contains(t, buf.String(), `"entry_id":"je-1"`)
}
