package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Worker defines the interface for background workers
type Worker interface {
	Start(ctx context.Context) error
	Stop() error
	Name() string
}

// Status reports whether a registered worker is running
type Status struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
}

// WorkerManager runs the sweep and delivery workers as one unit. Either all
// of them start or none stay running; they stop in reverse start order.
type WorkerManager struct {
	logger *zap.Logger

	mu      sync.RWMutex
	workers []Worker
	started []Worker
	cancel  context.CancelFunc
}

// NewWorkerManager creates a new worker manager
func NewWorkerManager(logger *zap.Logger) *WorkerManager {
	return &WorkerManager{logger: logger}
}

// Register adds a worker to be managed
func (m *WorkerManager) Register(worker Worker) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.workers = append(m.workers, worker)
	m.logger.Info("Worker registered",
		zap.String("worker_name", worker.Name()),
		zap.Int("total_workers", len(m.workers)))
}

// StartAll starts the registered workers in registration order. If one
// fails, the ones already started are stopped again and the error returned.
func (m *WorkerManager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return fmt.Errorf("workers already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.logger.Info("Starting all workers", zap.Int("count", len(m.workers)))

	started := make([]Worker, 0, len(m.workers))
	for _, w := range m.workers {
		if err := w.Start(runCtx); err != nil {
			m.logger.Error("Failed to start worker",
				zap.String("worker_name", w.Name()),
				zap.Error(err))
			cancel()
			if stopErr := stopReverse(started, m.logger); stopErr != nil {
				err = errors.Join(err, stopErr)
			}
			return fmt.Errorf("failed to start %s: %w", w.Name(), err)
		}
		started = append(started, w)
	}

	m.started = started
	m.cancel = cancel
	return nil
}

// StopAll cancels the shared context and stops every started worker
func (m *WorkerManager) StopAll() error {
	m.mu.Lock()
	cancel, started := m.cancel, m.started
	m.cancel, m.started = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		m.logger.Debug("Workers not running, nothing to stop")
		return nil
	}

	m.logger.Info("Stopping all workers", zap.Int("count", len(started)))
	cancel()
	return stopReverse(started, m.logger)
}

func stopReverse(workers []Worker, logger *zap.Logger) error {
	var errs []error
	for i := len(workers) - 1; i >= 0; i-- {
		w := workers[i]
		if err := w.Stop(); err != nil {
			logger.Error("Failed to stop worker", zap.String("worker_name", w.Name()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", w.Name(), err))
			continue
		}
		logger.Info("Worker stopped", zap.String("worker_name", w.Name()))
	}
	return errors.Join(errs...)
}

// GetWorkerCount returns the number of registered workers
func (m *WorkerManager) GetWorkerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.workers)
}

// IsRunning returns whether workers are running
func (m *WorkerManager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cancel != nil
}

// Status lists every registered worker in registration order
func (m *WorkerManager) Status() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	running := make(map[Worker]bool, len(m.started))
	for _, w := range m.started {
		running[w] = true
	}
	out := make([]Status, 0, len(m.workers))
	for _, w := range m.workers {
		out = append(out, Status{Name: w.Name(), Running: running[w]})
	}
	return out
}
