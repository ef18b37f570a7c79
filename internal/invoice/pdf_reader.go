package invoice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/garyjia/docledger/internal/application/port"
	"github.com/garyjia/docledger/internal/domain/entity"
	"github.com/gen2brain/go-fitz"
	"go.uber.org/zap"
)

// ErrUnsupportedDocument is returned for files that are neither PDF, image nor text
var ErrUnsupportedDocument = errors.New("unsupported document type")

// ErrNoText is returned when a document yields no text and no transcriber is configured
var ErrNoText = errors.New("document has no text layer")

// Defaults for PDFReader
const (
	DefaultMaxPages    = 4
	DefaultMinTextRune = 40
)

var documentExtensions = []string{".pdf", ".txt", ".png", ".jpg", ".jpeg"}

// PDFReader implements port.DocumentTextSource over stored PDF, image and text files.
// The PDF text layer is read with MuPDF; pages without usable text are rendered and
// handed to the transcriber.
type PDFReader struct {
	storage     port.FileStorage
	transcriber port.Transcriber
	maxPages    int
	minText     int
	logger      *zap.Logger
}

// NewPDFReader creates a reader; transcriber may be nil to disable scanned-page fallback
func NewPDFReader(storage port.FileStorage, transcriber port.Transcriber, maxPages int, logger *zap.Logger) *PDFReader {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	return &PDFReader{
		storage:     storage,
		transcriber: transcriber,
		maxPages:    maxPages,
		minText:     DefaultMinTextRune,
		logger:      logger,
	}
}

// FetchText implements port.DocumentTextSource.
// documentID is either a stored path or a bare id looked up with the known extensions.
func (r *PDFReader) FetchText(ctx context.Context, documentID string) (entity.RawDocument, error) {
	path, err := r.locate(ctx, documentID)
	if err != nil {
		return entity.RawDocument{}, err
	}

	data, err := r.storage.Read(ctx, path)
	if err != nil {
		return entity.RawDocument{}, fmt.Errorf("failed to read document %s: %w", documentID, err)
	}

	var text string
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".txt":
		text = string(data)
	case ".pdf":
		text, err = r.readPDF(ctx, data)
	case ".png":
		text, err = r.transcribe(ctx, []port.PageImage{{Page: 1, MimeType: "image/png", Data: data}})
	case ".jpg", ".jpeg":
		text, err = r.transcribe(ctx, []port.PageImage{{Page: 1, MimeType: "image/jpeg", Data: data}})
	default:
		return entity.RawDocument{}, fmt.Errorf("%w: %s", ErrUnsupportedDocument, ext)
	}
	if err != nil {
		return entity.RawDocument{}, err
	}

	r.logger.Info("Document text fetched",
		zap.String("document_id", documentID),
		zap.String("path", path),
		zap.Int("text_length", len(text)))

	return entity.RawDocument{
		ID:       strings.TrimSuffix(filepath.Base(documentID), filepath.Ext(documentID)),
		Text:     text,
		Language: DetectLanguage(text),
	}, nil
}

func (r *PDFReader) locate(ctx context.Context, documentID string) (string, error) {
	if filepath.Ext(documentID) != "" && r.storage.Exists(ctx, documentID) {
		return documentID, nil
	}
	for _, ext := range documentExtensions {
		if p := documentID + ext; r.storage.Exists(ctx, p) {
			return p, nil
		}
	}
	return "", fmt.Errorf("document %s: %w", documentID, port.ErrNotFound)
}

// readPDF concatenates the text layer of the first pages; if it is too thin the same pages
// are rendered to JPEG and transcribed instead.
func (r *PDFReader) readPDF(ctx context.Context, data []byte) (string, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	pages := doc.NumPage()
	if pages > r.maxPages {
		pages = r.maxPages
	}

	var sb strings.Builder
	for n := 0; n < pages; n++ {
		text, err := doc.Text(n)
		if err != nil {
			r.logger.Warn("Failed to read page text", zap.Int("page", n), zap.Error(err))
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(text)
	}

	text := sb.String()
	if utf8.RuneCountInString(strings.TrimSpace(text)) >= r.minText || r.transcriber == nil {
		if strings.TrimSpace(text) == "" {
			return "", ErrNoText
		}
		return text, nil
	}

	r.logger.Debug("PDF text layer too thin, rendering pages", zap.Int("pages", pages))

	var images []port.PageImage
	for n := 0; n < pages; n++ {
		img, err := doc.Image(n)
		if err != nil {
			r.logger.Warn("Failed to render page", zap.Int("page", n), zap.Error(err))
			continue
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
			r.logger.Warn("Failed to encode page to JPEG", zap.Int("page", n), zap.Error(err))
			continue
		}
		images = append(images, port.PageImage{Page: n + 1, MimeType: "image/jpeg", Data: buf.Bytes()})
	}
	if len(images) == 0 {
		return "", fmt.Errorf("no pages rendered from PDF")
	}
	return r.transcribe(ctx, images)
}

func (r *PDFReader) transcribe(ctx context.Context, pages []port.PageImage) (string, error) {
	if r.transcriber == nil {
		return "", ErrNoText
	}
	text, err := r.transcriber.Transcribe(ctx, pages)
	if err != nil {
		return "", fmt.Errorf("failed to transcribe document: %w", err)
	}
	return text, nil
}
