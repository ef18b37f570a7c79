package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrNotStarted is reported by Check before StartAll or after StopAll
var ErrNotStarted = errors.New("workers not running")

// Worker is a background component started and stopped with the server
type Worker interface {
	Start(ctx context.Context) error
	Stop() error
	Name() string
}

// WorkerManager starts and stops the registered workers together and remembers which
// of them failed to start
type WorkerManager struct {
	logger *zap.Logger

	mu      sync.RWMutex
	workers []Worker
	failed  map[string]error
	cancel  context.CancelFunc
}

// NewWorkerManager creates a new worker manager
func NewWorkerManager(logger *zap.Logger) *WorkerManager {
	return &WorkerManager{logger: logger}
}

// Register adds a worker; it is started by the next StartAll
func (m *WorkerManager) Register(worker Worker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workers = append(m.workers, worker)
}

// StartAll starts every registered worker under a context cancelled by StopAll. A worker
// that fails to start does not keep the others from running; the joined start errors
// are returned.
func (m *WorkerManager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return errors.New("workers already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.failed = make(map[string]error)

	var errs []error
	for _, w := range m.workers {
		if err := w.Start(runCtx); err != nil {
			m.logger.Error("Failed to start worker", zap.String("worker_name", w.Name()), zap.Error(err))
			m.failed[w.Name()] = err
			errs = append(errs, fmt.Errorf("%s: %w", w.Name(), err))
			continue
		}
		m.logger.Info("Worker started", zap.String("worker_name", w.Name()))
	}
	return errors.Join(errs...)
}

// StopAll cancels the run context and stops the workers that started. Stopping twice is a no-op.
func (m *WorkerManager) StopAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel == nil {
		return nil
	}
	m.cancel()
	m.cancel = nil

	var errs []error
	for _, w := range m.workers {
		if _, failed := m.failed[w.Name()]; failed {
			continue
		}
		if err := w.Stop(); err != nil {
			m.logger.Error("Failed to stop worker", zap.String("worker_name", w.Name()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", w.Name(), err))
		}
	}
	m.failed = nil

	if len(errs) > 0 {
		return fmt.Errorf("failed to stop %d workers: %w", len(errs), errors.Join(errs...))
	}
	m.logger.Info("All workers stopped", zap.Int("count", len(m.workers)))
	return nil
}

// Check fails when the workers are not running or one of them failed to start
func (m *WorkerManager) Check(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cancel == nil {
		return ErrNotStarted
	}
	var errs []error
	for name, err := range m.failed {
		errs = append(errs, fmt.Errorf("worker %s: %w", name, err))
	}
	return errors.Join(errs...)
}

// Count returns the number of registered workers
func (m *WorkerManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.workers)
}
