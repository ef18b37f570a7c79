package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/garyjia/docledger/internal/application/port"
	"github.com/garyjia/docledger/internal/domain/entity"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrQueueFull is returned by Enqueue when the bounded queue has no room
	ErrQueueFull = errors.New("ingest queue full")
	// ErrNotRunning is returned by Enqueue before Start or after Stop
	ErrNotRunning = errors.New("document worker not running")
)

// Ingester is the part of the document service the worker drives
type Ingester interface {
	IngestDocument(ctx context.Context, documentID string, direction entity.Direction) (*port.DocumentRecord, error)
}

// Job states
const (
	JobQueued  = "QUEUED"
	JobRunning = "RUNNING"
	JobDone    = "DONE"
	JobFailed  = "FAILED"
)

// DocumentJob asks for one stored document to be ingested
type DocumentJob struct {
	DocumentID string           `json:"document_id"`
	Direction  entity.Direction `json:"direction"`
}

// JobStatus is the last known state of a job
type JobStatus struct {
	DocumentID     string    `json:"document_id"`
	State          string    `json:"state"`
	DocumentStatus string    `json:"document_status,omitempty"`
	Error          string    `json:"error,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// DocumentWorkerConfig holds configuration for the document worker
type DocumentWorkerConfig struct {
	Concurrency int
	QueueSize   int
	// JobTimeout bounds one ingestion including its retries
	JobTimeout time.Duration
}

// DefaultDocumentWorkerConfig returns default configuration
func DefaultDocumentWorkerConfig() DocumentWorkerConfig {
	return DocumentWorkerConfig{
		Concurrency: 2,
		QueueSize:   100,
		JobTimeout:  2 * time.Minute,
	}
}

// DocumentWorker ingests queued documents with a fixed number of goroutines
type DocumentWorker struct {
	config   DocumentWorkerConfig
	ingester Ingester
	logger   *zap.Logger
	queue    chan DocumentJob

	mu             sync.RWMutex
	cancel         context.CancelFunc
	group          *errgroup.Group
	isRunning      bool
	jobs           map[string]JobStatus
	processedCount int
	failedCount    int
}

// NewDocumentWorker creates a new document worker
func NewDocumentWorker(config DocumentWorkerConfig, ingester Ingester, logger *zap.Logger) *DocumentWorker {
	def := DefaultDocumentWorkerConfig()
	if config.Concurrency <= 0 {
		config.Concurrency = def.Concurrency
	}
	if config.QueueSize <= 0 {
		config.QueueSize = def.QueueSize
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = def.JobTimeout
	}
	return &DocumentWorker{
		config:   config,
		ingester: ingester,
		logger:   logger,
		queue:    make(chan DocumentJob, config.QueueSize),
		jobs:     make(map[string]JobStatus),
	}
}

// Start launches the worker goroutines
func (w *DocumentWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.isRunning {
		return fmt.Errorf("document worker already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.group = &errgroup.Group{}
	w.isRunning = true

	for i := 0; i < w.config.Concurrency; i++ {
		id := i
		w.group.Go(func() error {
			w.loop(runCtx, id)
			return nil
		})
	}

	w.logger.Info("DocumentWorker started",
		zap.Int("concurrency", w.config.Concurrency),
		zap.Int("queue_size", w.config.QueueSize))
	return nil
}

// Stop cancels running jobs and waits for the goroutines to exit.
// Jobs still queued stay QUEUED.
func (w *DocumentWorker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	cancel, group := w.cancel, w.group
	w.mu.Unlock()

	cancel()
	err := group.Wait()

	w.mu.RLock()
	w.logger.Info("DocumentWorker stopped",
		zap.Int("processed_count", w.processedCount),
		zap.Int("failed_count", w.failedCount),
		zap.Int("queued", len(w.queue)))
	w.mu.RUnlock()
	return err
}

// Name returns the worker name for identification
func (w *DocumentWorker) Name() string {
	return "DocumentWorker"
}

// Enqueue adds a job without blocking
func (w *DocumentWorker) Enqueue(job DocumentJob) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.isRunning {
		return ErrNotRunning
	}

	select {
	case w.queue <- job:
	default:
		return ErrQueueFull
	}
	w.jobs[job.DocumentID] = JobStatus{DocumentID: job.DocumentID, State: JobQueued, UpdatedAt: time.Now()}
	w.logger.Debug("Document queued", zap.String("document_id", job.DocumentID))
	return nil
}

// Status returns the last state of the job for documentID
func (w *DocumentWorker) Status(documentID string) (JobStatus, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	st, ok := w.jobs[documentID]
	return st, ok
}

// Counts returns processed, failed and currently queued job counts
func (w *DocumentWorker) Counts() (processed, failed, queued int) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.processedCount, w.failedCount, len(w.queue)
}

func (w *DocumentWorker) loop(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("Worker loop context cancelled", zap.Int("worker", id))
			return
		case job := <-w.queue:
			w.process(ctx, job)
		}
	}
}

func (w *DocumentWorker) process(ctx context.Context, job DocumentJob) {
	w.setStatus(JobStatus{DocumentID: job.DocumentID, State: JobRunning})

	jobCtx, cancel := context.WithTimeout(ctx, w.config.JobTimeout)
	defer cancel()

	start := time.Now()
	rec, err := w.ingester.IngestDocument(jobCtx, job.DocumentID, job.Direction)
	if err != nil {
		w.logger.Error("Failed to ingest document",
			zap.String("document_id", job.DocumentID),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		w.setStatus(JobStatus{DocumentID: job.DocumentID, State: JobFailed, Error: err.Error()})
		return
	}

	w.logger.Info("Document ingested",
		zap.String("document_id", job.DocumentID),
		zap.String("status", rec.Status),
		zap.Duration("elapsed", time.Since(start)))
	w.setStatus(JobStatus{DocumentID: job.DocumentID, State: JobDone, DocumentStatus: rec.Status})
}

func (w *DocumentWorker) setStatus(st JobStatus) {
	st.UpdatedAt = time.Now()
	w.mu.Lock()
	defer w.mu.Unlock()
	w.jobs[st.DocumentID] = st
	switch st.State {
	case JobDone:
		w.processedCount++
	case JobFailed:
		w.failedCount++
	}
}
