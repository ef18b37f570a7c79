package port

import (
	"context"

	"github.com/garyjia/docledger/internal/domain/entity"
)

// DocumentTextSource turns a stored document into plain text
type DocumentTextSource interface {
	FetchText(ctx context.Context, documentID string) (entity.RawDocument, error)
}

// PageImage is one rendered page handed to a transcriber
type PageImage struct {
	Page     int
	MimeType string
	Data     []byte
}

// Transcriber reads the text of scanned pages that carry no text layer
type Transcriber interface {
	Transcribe(ctx context.Context, pages []PageImage) (string, error)
}
