package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/garyjia/docledger/internal/application/port"
	"github.com/garyjia/docledger/internal/domain/entity"
	"github.com/garyjia/docledger/internal/domain/event"
	"github.com/garyjia/docledger/internal/invoice"
	"github.com/garyjia/docledger/internal/metrics"
	"github.com/garyjia/docledger/internal/validation"
	"github.com/garyjia/docledger/internal/voucher"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrDocumentNotAccepted is returned when booking a document that failed validation
	ErrDocumentNotAccepted = errors.New("document not accepted")
	// ErrDocumentBooked is returned when booking a document a second time
	ErrDocumentBooked = errors.New("document already booked")
	// ErrEmptyDocument is returned for documents without text
	ErrEmptyDocument = errors.New("document text is empty")
)

// ProcessRequest is one document to run through the pipeline
type ProcessRequest struct {
	Document  entity.RawDocument
	Direction entity.Direction
}

// DocumentRecorder receives one call per processed document
type DocumentRecorder interface {
	RecordDocument(d metrics.Document)
}

// DocumentService runs documents through extraction, resolution and validation and books
// accepted ones as journal entries
type DocumentService interface {
	ProcessDocument(ctx context.Context, req ProcessRequest) (*port.DocumentRecord, error)
	IngestDocument(ctx context.Context, documentID string, direction entity.Direction) (*port.DocumentRecord, error)
	GetDocument(ctx context.Context, id string) (*port.DocumentRecord, error)
	ListDocuments(ctx context.Context, status string, limit, offset int) ([]*port.DocumentRecord, error)
	CreateJournalEntry(ctx context.Context, documentID string) (*entity.JournalEntry, error)
}

type documentServiceImpl struct {
	extractor *invoice.Extractor
	resolver  *invoice.Resolver
	validator *validation.Validator
	builder   *voucher.JournalBuilder
	source    port.DocumentTextSource
	documents port.DocumentRepository
	journal   port.JournalRepository
	txManager port.TransactionManager
	recorder  DocumentRecorder
	events    EventPublisher
	retry     RetryPolicy
	bookings  *keyedMutex
	logger    *zap.Logger
}

// DocumentServiceDeps groups the collaborators of the document service. Source, Recorder
// and Events are optional.
type DocumentServiceDeps struct {
	Extractor *invoice.Extractor
	Resolver  *invoice.Resolver
	Validator *validation.Validator
	Builder   *voucher.JournalBuilder
	Source    port.DocumentTextSource
	Documents port.DocumentRepository
	Journal   port.JournalRepository
	TxManager port.TransactionManager
	Recorder  DocumentRecorder
	Events    EventPublisher
	Retry     RetryPolicy
}

// NewDocumentService creates a new DocumentService
func NewDocumentService(deps DocumentServiceDeps, logger *zap.Logger) DocumentService {
	s := &documentServiceImpl{
		extractor: deps.Extractor,
		resolver:  deps.Resolver,
		validator: deps.Validator,
		builder:   deps.Builder,
		source:    deps.Source,
		documents: deps.Documents,
		journal:   deps.Journal,
		txManager: deps.TxManager,
		recorder:  deps.Recorder,
		events:    deps.Events,
		retry:     deps.Retry.withDefaults(),
		bookings:  newKeyedMutex(),
		logger:    logger,
	}
	if s.extractor == nil {
		s.extractor = invoice.NewExtractor(nil)
	}
	if s.resolver == nil {
		s.resolver = invoice.NewResolver(nil, nil)
	}
	if s.validator == nil {
		s.validator = validation.NewValidator()
	}
	if s.builder == nil {
		s.builder = voucher.NewJournalBuilder(nil)
	}
	if s.txManager == nil {
		s.txManager = noTransaction{}
	}
	return s
}

// ProcessDocument extracts, resolves and validates the document and stores the result.
// A rejected document is stored too; only store failures are returned as errors.
func (s *documentServiceImpl) ProcessDocument(ctx context.Context, req ProcessRequest) (*port.DocumentRecord, error) {
	doc := req.Document
	if strings.TrimSpace(doc.Text) == "" {
		return nil, ErrEmptyDocument
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.Language == entity.LangUnknown {
		doc.Language = invoice.DetectLanguage(doc.Text)
	}
	direction := req.Direction
	if !direction.IsValid() {
		direction = entity.DirectionPurchase
	}

	fields := s.extractor.ExtractFields(doc)
	amounts, resolution := s.resolver.ResolveAmountsFor(fields, direction)
	result := s.validator.Validate(amounts, validation.RequiredFieldsFrom(fields, resolution.Issues))

	rec := &port.DocumentRecord{
		ID:         doc.ID,
		Document:   doc,
		Direction:  direction,
		Fields:     fields,
		Amounts:    amounts,
		Validation: result,
		Issues:     resolution.Issues,
		Status:     port.DocumentRejected,
	}
	if result.Valid {
		rec.Status = port.DocumentAccepted
	}

	if err := s.documents.Save(ctx, rec); err != nil {
		s.logger.Error("Failed to save document", zap.String("document_id", doc.ID), zap.Error(err))
		return nil, fmt.Errorf("save document: %w", err)
	}

	s.record(rec, resolution)
	eventType := event.TypeDocumentRejected
	if rec.Status == port.DocumentAccepted {
		eventType = event.TypeDocumentAccepted
	}
	s.publish(ctx, event.NewEvent(eventType, rec.ID, map[string]any{
		"status":        rec.Status,
		"total_outcome": string(resolution.Total.Outcome),
		"errors":        len(result.Errors),
		"warnings":      len(result.Warnings),
	}))
	s.logger.Info("Document processed",
		zap.String("document_id", rec.ID),
		zap.String("status", rec.Status),
		zap.String("language", string(doc.Language)),
		zap.String("total_outcome", string(resolution.Total.Outcome)),
		zap.Int("errors", len(result.Errors)),
		zap.Int("warnings", len(result.Warnings)))
	return rec, nil
}

// IngestDocument fetches the document text from the text source and processes it. Fetching
// is retried with exponential backoff; each attempt has its own timeout.
func (s *documentServiceImpl) IngestDocument(ctx context.Context, documentID string, direction entity.Direction) (*port.DocumentRecord, error) {
	if s.source == nil {
		return nil, fmt.Errorf("ingest %s: no document text source configured", documentID)
	}

	var doc entity.RawDocument
	err := retry(ctx, s.retry, s.logger, "fetch document text", func(ctx context.Context) error {
		var err error
		doc, err = s.source.FetchText(ctx, documentID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ingest %s: %w", documentID, err)
	}
	if doc.ID == "" {
		doc.ID = documentID
	}
	return s.ProcessDocument(ctx, ProcessRequest{Document: doc, Direction: direction})
}

// GetDocument loads one processed document
func (s *documentServiceImpl) GetDocument(ctx context.Context, id string) (*port.DocumentRecord, error) {
	rec, err := s.documents.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return rec, nil
}

// ListDocuments lists processed documents, optionally by status
func (s *documentServiceImpl) ListDocuments(ctx context.Context, status string, limit, offset int) ([]*port.DocumentRecord, error) {
	recs, err := s.documents.List(ctx, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return recs, nil
}

// CreateJournalEntry books an accepted document as a draft journal entry and marks the
// document as booked, both in one transaction. Calls for the same document run one at a
// time, so a store without transactions cannot book a document twice.
func (s *documentServiceImpl) CreateJournalEntry(ctx context.Context, documentID string) (*entity.JournalEntry, error) {
	unlock := s.bookings.Lock(documentID)
	defer unlock()

	var created *entity.JournalEntry
	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		rec, err := s.documents.Get(ctx, documentID)
		if err != nil {
			return err
		}
		switch rec.Status {
		case port.DocumentAccepted:
		case port.DocumentBooked:
			return fmt.Errorf("%w: entry %s", ErrDocumentBooked, rec.EntryID)
		default:
			return fmt.Errorf("%w: status %s", ErrDocumentNotAccepted, rec.Status)
		}

		booking := voucher.Booking{
			DocumentID:       rec.ID,
			DocumentNumber:   rec.Fields.DocumentNumber(),
			Supplier:         rec.Fields.SupplierName,
			SupplierCategory: rec.Fields.SupplierCategory,
			Direction:        rec.Direction,
			Amounts:          rec.Amounts,
		}
		if date, ok := rec.Fields.FirstDate(); ok {
			booking.Date = date
		}

		entry, err := s.builder.Build(booking)
		if err != nil {
			return err
		}
		if err := s.journal.Create(ctx, &entry); err != nil {
			return fmt.Errorf("create journal entry: %w", err)
		}

		rec.Status = port.DocumentBooked
		rec.EntryID = entry.ID
		if err := s.documents.Save(ctx, rec); err != nil {
			return fmt.Errorf("save document: %w", err)
		}
		created = &entry
		return nil
	})
	if err != nil {
		s.logger.Warn("Failed to book document", zap.String("document_id", documentID), zap.Error(err))
		return nil, fmt.Errorf("book document %s: %w", documentID, err)
	}

	s.logger.Info("Document booked",
		zap.String("document_id", documentID),
		zap.String("entry_id", created.ID))
	s.publish(ctx, event.NewEvent(event.TypeDocumentBooked, documentID, map[string]any{
		"entry_id": created.ID,
	}))
	return created, nil
}

func (s *documentServiceImpl) record(rec *port.DocumentRecord, res invoice.Resolution) {
	if s.recorder == nil {
		return
	}
	d := metrics.Document{
		Status:    rec.Status,
		Ambiguous: res.Total.Outcome == invoice.OutcomeAmbiguous,
	}
	if rec.Amounts != nil {
		d.Currency = rec.Amounts.Currency
		d.Gross = rec.Amounts.Gross
		d.LowConfidence = rec.Amounts.LowConfidence
	}
	s.recorder.RecordDocument(d)
}

// noTransaction runs fn directly for stores without transactions
type noTransaction struct{}

func (noTransaction) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
