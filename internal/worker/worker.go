package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/sof-extractor/internal/domain"
	"github.com/google/uuid"
)

// TaskHandler runs one orchestration task to its terminal state
type TaskHandler interface {
	Process(ctx context.Context, task domain.Task) error
}

// Config holds worker configuration
type Config struct {
	Logger      *slog.Logger
	Handler     TaskHandler
	Concurrency int
	QueueSize   int
	JobTimeout  time.Duration // 0 means no deadline
}

// Worker owns the task queue and the goroutines draining it
type Worker struct {
	logger      *slog.Logger
	handler     TaskHandler
	workerID    string
	concurrency int
	jobTimeout  time.Duration

	tasksChan chan domain.Task
	stopChan  chan struct{}
	stopOnce  sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	queueSize := cfg.QueueSize
	if queueSize < 0 {
		queueSize = 0
	}

	return &Worker{
		logger:      cfg.Logger,
		handler:     cfg.Handler,
		workerID:    "worker-" + uuid.NewString()[:8],
		concurrency: concurrency,
		jobTimeout:  cfg.JobTimeout,
		tasksChan:   make(chan domain.Task, queueSize),
		stopChan:    make(chan struct{}),
	}
}

// Start spawns the pool; tasks run under a context detached from request lifetimes
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Int("queue_size", cap(w.tasksChan)),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	poolCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.cancel = cancel
	w.spawnWorkerPool(poolCtx)
}

// Enqueue schedules a task, waiting for queue space until ctx is done
func (w *Worker) Enqueue(ctx context.Context, task domain.Task) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return domain.ErrQueueClosed
	}

	select {
	case w.tasksChan <- task:
		w.logger.Debug("Task queued",
			slog.String("job_id", task.JobID),
			slog.Int("files", len(task.Files)),
			slog.Int("queue_depth", len(w.tasksChan)),
		)
		return nil
	case <-w.stopChan:
		return domain.ErrQueueClosed
	case <-ctx.Done():
		return fmt.Errorf("failed to queue job %s: %w", task.JobID, ctx.Err())
	}
}

// Stop closes the queue and waits for queued tasks to drain. When ctx expires
// first, in-flight tasks are canceled and the remaining queue is abandoned.
func (w *Worker) Stop(ctx context.Context) error {
	w.logger.Info("Stopping worker...", slog.Int("queued", len(w.tasksChan)))

	// Unblock enqueuers waiting on a full queue before taking the write lock
	w.signalStop()

	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.tasksChan)
	}
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.release()
		w.logger.Info("Worker stopped")
		return nil
	case <-ctx.Done():
		w.release()
		<-done
		w.logger.Warn("Worker stopped before the queue drained",
			slog.Int("abandoned", len(w.tasksChan)),
		)
		return fmt.Errorf("worker shutdown: %w", ctx.Err())
	}
}

func (w *Worker) signalStop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
}

func (w *Worker) release() {
	if w.cancel != nil {
		w.cancel()
	}
}
