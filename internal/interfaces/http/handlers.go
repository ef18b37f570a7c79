package http

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/garyjia/docledger/internal/application/port"
	"github.com/garyjia/docledger/internal/application/service"
	"github.com/garyjia/docledger/internal/domain/entity"
	"github.com/garyjia/docledger/internal/domain/workflow"
	"github.com/garyjia/docledger/internal/infrastructure/worker"
	"github.com/garyjia/docledger/internal/invoice"
	"github.com/garyjia/docledger/internal/ledger"
	"github.com/garyjia/docledger/internal/validation"
	"github.com/garyjia/docledger/internal/vat"
	"github.com/garyjia/docledger/internal/voucher"
)

// Version is reported by the health check
const Version = "1.0.0"

const healthCheckTimeout = 2 * time.Second

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var uploadExtensions = map[string]bool{".pdf": true, ".txt": true, ".png": true, ".jpg": true, ".jpeg": true}

// Handlers contains all HTTP request handlers
type Handlers struct {
	deps   Dependencies
	logger *zap.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(deps Dependencies, logger *zap.Logger) *Handlers {
	return &Handlers{deps: deps, logger: logger}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// NormalizeRequest is the body of POST /normalize: one literal in Raw or a batch in Values
type NormalizeRequest struct {
	Raw    string   `json:"raw"`
	Values []string `json:"values"`
}

// NormalizedAmount is one normalization result
type NormalizedAmount struct {
	Raw   string           `json:"raw"`
	Value *decimal.Decimal `json:"value,omitempty"`
	Error string           `json:"error,omitempty"`
}

// IdentifiersRequest is the body of POST /identifiers/validate. The single fields are
// checked ahead of the lists.
type IdentifiersRequest struct {
	BusinessID  string   `json:"business_id"`
	IBAN        string   `json:"iban"`
	BusinessIDs []string `json:"business_ids"`
	IBANs       []string `json:"ibans"`
}

// BusinessIDResult is the check result of one UID
type BusinessIDResult struct {
	Raw        string `json:"raw"`
	Normalized string `json:"normalized"`
	Valid      bool   `json:"valid"`
}

// IBANResult is the check result of one IBAN
type IBANResult struct {
	Raw           string `json:"raw"`
	IBAN          string `json:"iban"`
	FormatValid   bool   `json:"format_valid"`
	ChecksumValid bool   `json:"checksum_valid"`
}

// IdentifiersResponse groups the identifier check results
type IdentifiersResponse struct {
	BusinessIDs []BusinessIDResult `json:"business_ids"`
	IBANs       []IBANResult       `json:"ibans"`
}

// DocumentRequest carries document text for extraction or processing
type DocumentRequest struct {
	ID        string           `json:"id"`
	Text      string           `json:"text" binding:"required"`
	Language  entity.Lang      `json:"language"`
	Direction entity.Direction `json:"direction"`
}

// ExtractResponse is the unpersisted result of running the pipeline over one text
type ExtractResponse struct {
	Fields     entity.ExtractedFields  `json:"fields"`
	Amounts    *entity.DocumentAmounts `json:"amounts,omitempty"`
	Resolution invoice.Resolution      `json:"resolution"`
	Validation entity.ValidationResult `json:"validation"`
}

// VATRequest is the body of the from-net and from-gross calculations. The rate is either
// RateCode or the Category in force on Date (2006-01-02, today when empty). Direction is optional.
type VATRequest struct {
	Amount    decimal.Decimal     `json:"amount"`
	RateCode  string              `json:"rate_code"`
	Category  entity.RateCategory `json:"category"`
	Direction entity.Direction    `json:"direction"`
	Date      string              `json:"date"`
}

// DetectRequest is the body of POST /vat/detect. Date is optional, formatted 2006-01-02.
type DetectRequest struct {
	Direction entity.Direction `json:"direction" binding:"required"`
	Percent   decimal.Decimal  `json:"percent"`
	Date      string           `json:"date"`
}

// UploadResponse names a stored upload
type UploadResponse struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

// ListDocumentsRequest represents query parameters for listing documents
type ListDocumentsRequest struct {
	Status string `form:"status"`
	Limit  int    `form:"limit"`
	Offset int    `form:"offset"`
}

// HealthCheck handles GET /health. A failing dependency check answers 503.
func (h *Handlers) HealthCheck(c *gin.Context) {
	health := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   Version,
	}
	code := http.StatusOK

	if len(h.deps.Checks) > 0 {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
		defer cancel()

		health.Checks = make(map[string]string, len(h.deps.Checks))
		for name, check := range h.deps.Checks {
			if err := check(ctx); err != nil {
				h.logger.Warn("Health check failed", zap.String("check", name), zap.Error(err))
				health.Checks[name] = err.Error()
				health.Status = "unhealthy"
				code = http.StatusServiceUnavailable
				continue
			}
			health.Checks[name] = "ok"
		}
	}

	c.JSON(code, Response{Success: code == http.StatusOK, Data: health})
}

// Normalize handles POST /api/v1/normalize
func (h *Handlers) Normalize(c *gin.Context) {
	var req NormalizeRequest
	if !h.bind(c, &req) {
		return
	}

	if len(req.Values) == 0 {
		if req.Raw == "" {
			fail(c, http.StatusBadRequest, "raw or values is required")
			return
		}
		v, err := invoice.NormalizeAmount(req.Raw)
		if err != nil {
			fail(c, http.StatusUnprocessableEntity, err.Error())
			return
		}
		ok(c, http.StatusOK, NormalizedAmount{Raw: req.Raw, Value: &v})
		return
	}

	out := make([]NormalizedAmount, 0, len(req.Values))
	for _, raw := range req.Values {
		res := NormalizedAmount{Raw: raw}
		if v, err := invoice.NormalizeAmount(raw); err != nil {
			res.Error = err.Error()
		} else {
			res.Value = &v
		}
		out = append(out, res)
	}
	ok(c, http.StatusOK, out)
}

// ValidateIdentifiers handles POST /api/v1/identifiers/validate
func (h *Handlers) ValidateIdentifiers(c *gin.Context) {
	var req IdentifiersRequest
	if !h.bind(c, &req) {
		return
	}

	ids := req.BusinessIDs
	if req.BusinessID != "" {
		ids = append([]string{req.BusinessID}, ids...)
	}
	ibans := req.IBANs
	if req.IBAN != "" {
		ibans = append([]string{req.IBAN}, ibans...)
	}
	if len(ids) == 0 && len(ibans) == 0 {
		fail(c, http.StatusBadRequest, "no identifier given")
		return
	}

	resp := IdentifiersResponse{
		BusinessIDs: make([]BusinessIDResult, 0, len(ids)),
		IBANs:       make([]IBANResult, 0, len(ibans)),
	}
	for _, id := range ids {
		resp.BusinessIDs = append(resp.BusinessIDs, BusinessIDResult{
			Raw:        id,
			Normalized: invoice.NormalizeBusinessID(id),
			Valid:      invoice.ValidateBusinessID(id),
		})
	}
	for _, iban := range ibans {
		resp.IBANs = append(resp.IBANs, IBANResult{
			Raw:           iban,
			IBAN:          invoice.CompactIBAN(iban),
			FormatValid:   invoice.ValidateBankAccount(iban),
			ChecksumValid: invoice.IBANChecksumValid(iban),
		})
	}
	ok(c, http.StatusOK, resp)
}

// Extract handles POST /api/v1/extract. Nothing is stored.
func (h *Handlers) Extract(c *gin.Context) {
	var req DocumentRequest
	if !h.bind(c, &req) {
		return
	}
	doc, direction := req.document()

	fields := h.deps.Extractor.ExtractFields(doc)
	amounts, res := h.deps.Resolver.ResolveAmountsFor(fields, direction)
	result := h.deps.Validator.Validate(amounts, validation.RequiredFieldsFrom(fields, res.Issues))

	ok(c, http.StatusOK, ExtractResponse{
		Fields:     fields,
		Amounts:    amounts,
		Resolution: res,
		Validation: result,
	})
}

// VATFromNet handles POST /api/v1/vat/from-net
func (h *Handlers) VATFromNet(c *gin.Context) {
	h.calculate(c, vat.FromNet)
}

// VATFromGross handles POST /api/v1/vat/from-gross
func (h *Handlers) VATFromGross(c *gin.Context) {
	h.calculate(c, vat.FromGross)
}

func (h *Handlers) calculate(c *gin.Context, compute func(decimal.Decimal, entity.RateCode) entity.DocumentAmounts) {
	var req VATRequest
	if !h.bind(c, &req) {
		return
	}
	table := h.deps.Rates.Load()

	var code entity.RateCode
	switch {
	case req.RateCode != "":
		var found bool
		if code, found = table.Lookup(req.RateCode); !found {
			fail(c, http.StatusUnprocessableEntity, "unknown rate code "+req.RateCode)
			return
		}
	case req.Category != "":
		if !req.Category.IsValid() {
			fail(c, http.StatusBadRequest, "unknown rate category "+string(req.Category))
			return
		}
		if req.Direction != "" && !req.Direction.IsValid() {
			fail(c, http.StatusBadRequest, "direction must be SALE or PURCHASE")
			return
		}
		var err error
		date := time.Now()
		if req.Date != "" {
			if date, err = time.Parse("2006-01-02", req.Date); err != nil {
				fail(c, http.StatusBadRequest, "date must be formatted YYYY-MM-DD")
				return
			}
		}
		if code, err = table.CodeForCategory(date, req.Category, req.Direction); err != nil {
			fail(c, http.StatusUnprocessableEntity, err.Error())
			return
		}
	default:
		fail(c, http.StatusBadRequest, "rate_code or category is required")
		return
	}
	ok(c, http.StatusOK, compute(req.Amount, code))
}

// DetectRate handles POST /api/v1/vat/detect
func (h *Handlers) DetectRate(c *gin.Context) {
	var req DetectRequest
	if !h.bind(c, &req) {
		return
	}
	if !req.Direction.IsValid() {
		fail(c, http.StatusBadRequest, "direction must be SALE or PURCHASE")
		return
	}

	table := h.deps.Rates.Load()
	if req.Date == "" {
		ok(c, http.StatusOK, table.DetectRateCode(req.Direction, req.Percent))
		return
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		fail(c, http.StatusBadRequest, "date must be formatted YYYY-MM-DD")
		return
	}
	ok(c, http.StatusOK, table.DetectRateCodeOn(req.Direction, req.Percent, date))
}

// ProcessDocument handles POST /api/v1/documents
func (h *Handlers) ProcessDocument(c *gin.Context) {
	var req DocumentRequest
	if !h.bind(c, &req) {
		return
	}
	doc, direction := req.document()

	rec, err := h.deps.Documents.ProcessDocument(c.Request.Context(), service.ProcessRequest{
		Document:  doc,
		Direction: direction,
	})
	if err != nil {
		h.fail(c, "Failed to process document", err)
		return
	}
	ok(c, http.StatusCreated, rec)
}

// UploadDocument handles POST /api/v1/documents/upload (multipart field "file").
// The stored file can then be ingested under the returned id.
func (h *Handlers) UploadDocument(c *gin.Context) {
	if h.deps.Storage == nil {
		fail(c, http.StatusServiceUnavailable, "document storage not configured")
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		fail(c, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !uploadExtensions[ext] {
		fail(c, http.StatusUnsupportedMediaType, "unsupported document type "+ext)
		return
	}

	f, err := header.Open()
	if err != nil {
		h.fail(c, "Failed to open upload", err)
		return
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		h.fail(c, "Failed to read upload", err)
		return
	}

	id := c.PostForm("id")
	if id == "" {
		id = uuid.NewString()
	}
	if strings.ContainsAny(id, `/\`) {
		fail(c, http.StatusBadRequest, "id must not contain path separators")
		return
	}
	path := id + ext
	if err := h.deps.Storage.Save(c.Request.Context(), path, content); err != nil {
		h.fail(c, "Failed to store upload", err)
		return
	}

	h.logger.Info("Document uploaded",
		zap.String("document_id", id),
		zap.String("filename", header.Filename),
		zap.Int("size", len(content)))
	ok(c, http.StatusCreated, UploadResponse{ID: id, Path: path})
}

// ListUploads handles GET /api/v1/uploads
func (h *Handlers) ListUploads(c *gin.Context) {
	paths, err := h.deps.Storage.List(c.Request.Context())
	if err != nil {
		h.fail(c, "Failed to list uploads", err)
		return
	}
	uploads := make([]UploadResponse, 0, len(paths))
	for _, p := range paths {
		uploads = append(uploads, UploadResponse{ID: strings.TrimSuffix(p, filepath.Ext(p)), Path: p})
	}
	ok(c, http.StatusOK, uploads)
}

// ListDocuments handles GET /api/v1/documents
func (h *Handlers) ListDocuments(c *gin.Context) {
	var req ListDocumentsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid query parameters")
		return
	}
	if req.Limit <= 0 || req.Limit > 100 {
		req.Limit = 20
	}
	if req.Offset < 0 {
		req.Offset = 0
	}

	docs, err := h.deps.Documents.ListDocuments(c.Request.Context(), strings.ToUpper(req.Status), req.Limit, req.Offset)
	if err != nil {
		h.fail(c, "Failed to list documents", err)
		return
	}
	ok(c, http.StatusOK, docs)
}

// GetDocument handles GET /api/v1/documents/:id
func (h *Handlers) GetDocument(c *gin.Context) {
	rec, err := h.deps.Documents.GetDocument(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to get document", err)
		return
	}
	ok(c, http.StatusOK, rec)
}

// IngestDocument handles POST /api/v1/documents/:id/ingest.
// With ?async=true the document is queued and 202 is returned.
func (h *Handlers) IngestDocument(c *gin.Context) {
	id := c.Param("id")
	direction := entity.Direction(strings.ToUpper(c.Query("direction")))
	if direction != "" && !direction.IsValid() {
		fail(c, http.StatusBadRequest, "direction must be SALE or PURCHASE")
		return
	}

	if async, _ := strconv.ParseBool(c.Query("async")); async {
		if h.deps.Queue == nil {
			fail(c, http.StatusServiceUnavailable, "ingest queue not configured")
			return
		}
		if err := h.deps.Queue.Enqueue(worker.DocumentJob{DocumentID: id, Direction: direction}); err != nil {
			h.fail(c, "Failed to queue document", err)
			return
		}
		status, _ := h.deps.Queue.Status(id)
		ok(c, http.StatusAccepted, status)
		return
	}

	rec, err := h.deps.Documents.IngestDocument(c.Request.Context(), id, direction)
	if err != nil {
		h.fail(c, "Failed to ingest document", err)
		return
	}
	ok(c, http.StatusOK, rec)
}

// IngestStatus handles GET /api/v1/documents/:id/ingest
func (h *Handlers) IngestStatus(c *gin.Context) {
	if h.deps.Queue == nil {
		fail(c, http.StatusServiceUnavailable, "ingest queue not configured")
		return
	}
	status, found := h.deps.Queue.Status(c.Param("id"))
	if !found {
		fail(c, http.StatusNotFound, "no ingest job for document")
		return
	}
	ok(c, http.StatusOK, status)
}

// BookDocument handles POST /api/v1/documents/:id/journal-entry
func (h *Handlers) BookDocument(c *gin.Context) {
	entry, err := h.deps.Documents.CreateJournalEntry(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to book document", err)
		return
	}
	ok(c, http.StatusCreated, entry)
}

// CreateEntry handles POST /api/v1/journal-entries
func (h *Handlers) CreateEntry(c *gin.Context) {
	var entry entity.JournalEntry
	if !h.bind(c, &entry) {
		return
	}
	if err := h.deps.Ledger.CreateEntry(c.Request.Context(), &entry); err != nil {
		h.fail(c, "Failed to create journal entry", err)
		return
	}
	ok(c, http.StatusCreated, entry)
}

// ListEntries handles GET /api/v1/journal-entries?status=
func (h *Handlers) ListEntries(c *gin.Context) {
	status := entity.EntryStatus(strings.ToUpper(c.Query("status")))
	entries, err := h.deps.Ledger.ListEntries(c.Request.Context(), status)
	if err != nil {
		h.fail(c, "Failed to list journal entries", err)
		return
	}
	ok(c, http.StatusOK, entries)
}

// GetEntry handles GET /api/v1/journal-entries/:id
func (h *Handlers) GetEntry(c *gin.Context) {
	entry, err := h.deps.Ledger.GetEntry(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to get journal entry", err)
		return
	}
	ok(c, http.StatusOK, entry)
}

// ValidateEntry handles POST /api/v1/journal-entries/:id/validate
func (h *Handlers) ValidateEntry(c *gin.Context) {
	entry, err := h.deps.Ledger.ValidateEntry(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to validate journal entry", err)
		return
	}
	ok(c, http.StatusOK, entry)
}

// CancelEntry handles POST /api/v1/journal-entries/:id/cancel
func (h *Handlers) CancelEntry(c *gin.Context) {
	entry, err := h.deps.Ledger.CancelEntry(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to cancel journal entry", err)
		return
	}
	ok(c, http.StatusOK, entry)
}

// Balances handles GET /api/v1/balances?rollup=true
func (h *Handlers) Balances(c *gin.Context) {
	rollUp, _ := strconv.ParseBool(c.Query("rollup"))
	report, err := h.deps.Ledger.Balances(c.Request.Context(), rollUp)
	if err != nil {
		h.fail(c, "Failed to compute balances", err)
		return
	}
	ok(c, http.StatusOK, report)
}

// ExportBalances handles GET /api/v1/balances/export and streams an XLSX workbook
func (h *Handlers) ExportBalances(c *gin.Context) {
	var buf bytes.Buffer
	if err := h.deps.Ledger.ExportWorkbook(c.Request.Context(), &buf); err != nil {
		h.fail(c, "Failed to export balances", err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="balances.xlsx"`)
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

// Stats handles GET /api/v1/stats
func (h *Handlers) Stats(c *gin.Context) {
	if h.deps.Stats == nil {
		fail(c, http.StatusServiceUnavailable, "statistics disabled")
		return
	}
	ok(c, http.StatusOK, h.deps.Stats.Snapshot())
}

// ResetStats handles POST /api/v1/stats/reset and returns the flushed statistics
func (h *Handlers) ResetStats(c *gin.Context) {
	if h.deps.Stats == nil {
		fail(c, http.StatusServiceUnavailable, "statistics disabled")
		return
	}
	ok(c, http.StatusOK, h.deps.Stats.Reset())
}

func (r DocumentRequest) document() (entity.RawDocument, entity.Direction) {
	lang := r.Language
	if !lang.IsValid() || lang == entity.LangUnknown {
		lang = invoice.DetectLanguage(r.Text)
	}
	direction := entity.Direction(strings.ToUpper(string(r.Direction)))
	return entity.RawDocument{ID: r.ID, Text: r.Text, Language: lang}, direction
}

func (h *Handlers) bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		h.logger.Debug("Invalid request body", zap.String("path", c.FullPath()), zap.Error(err))
		fail(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// fail logs err and answers with the status it maps to
func (h *Handlers) fail(c *gin.Context, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, zap.String("path", c.Request.URL.Path), zap.Error(err))
	} else {
		h.logger.Info(msg, zap.String("path", c.Request.URL.Path), zap.Error(err))
	}
	fail(c, status, err.Error())
}

func statusFor(err error) int {
	var parseErr *invoice.ParseError
	switch {
	case errors.Is(err, port.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, port.ErrAlreadyExists),
		errors.Is(err, service.ErrDocumentNotAccepted),
		errors.Is(err, service.ErrDocumentBooked):
		return http.StatusConflict
	case errors.Is(err, worker.ErrQueueFull), errors.Is(err, worker.ErrNotRunning):
		return http.StatusServiceUnavailable
	case errors.Is(err, service.ErrEmptyDocument),
		errors.Is(err, invoice.ErrUnsupportedDocument):
		return http.StatusBadRequest
	case errors.Is(err, workflow.ErrInvalidTransition),
		errors.Is(err, workflow.ErrGuardFailed),
		errors.Is(err, ledger.ErrUnbalancedEntry),
		errors.Is(err, ledger.ErrUnknownAccount),
		errors.Is(err, ledger.ErrInvalidLine),
		errors.Is(err, service.ErrNotDraft),
		errors.Is(err, voucher.ErrNoAmounts),
		errors.Is(err, voucher.ErrZeroAmount),
		errors.Is(err, voucher.ErrUnknownDirection),
		errors.Is(err, vat.ErrNoRate),
		errors.Is(err, invoice.ErrNoText),
		errors.As(err, &parseErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func ok(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{Success: true, Data: data})
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, Response{Success: false, Error: msg})
}
