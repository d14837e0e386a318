package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/recarr/internal/models"
	"github.com/jmylchreest/recarr/internal/repository"
)

var errNoTasks = errors.New("no tasks available")

// Runner owns the worker pool of one queue. Workers poll the task
// table, claim one row at a time, and hand it to the executor.
type Runner struct {
	queue        models.TaskQueue
	workers      int
	pollInterval time.Duration
	workerID     string

	tasks    repository.TaskRepository
	executor *Executor
	logger   *slog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a runner for one queue.
func NewRunner(queue models.TaskQueue, workers int, pollInterval time.Duration, tasks repository.TaskRepository, executor *Executor, logger *slog.Logger) *Runner {
	if workers < 1 {
		workers = 1
	}
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		queue:        queue,
		workers:      workers,
		pollInterval: pollInterval,
		workerID:     fmt.Sprintf("%s-%s", queue, models.NewULID()),
		tasks:        tasks,
		executor:     executor,
		logger:       logger,
	}
}

// Start launches the worker pool.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ctx != nil {
		return fmt.Errorf("runner for queue %s already started", r.queue)
	}
	r.ctx, r.cancel = context.WithCancel(ctx)

	for i := 0; i < r.workers; i++ {
		workerID := fmt.Sprintf("%s-%d", r.workerID, i)
		r.wg.Add(1)
		go r.worker(workerID)
	}

	r.logger.Info("queue runner started",
		slog.String("queue", string(r.queue)),
		slog.Int("workers", r.workers),
		slog.Duration("poll_interval", r.pollInterval),
	)
	return nil
}

// Stop halts the pool and waits for in-flight tasks.
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()

	r.wg.Wait()

	r.mu.Lock()
	r.ctx = nil
	r.cancel = nil
	r.mu.Unlock()
}

// Queue returns the queue this runner serves.
func (r *Runner) Queue() models.TaskQueue { return r.queue }

// Workers returns the pool size.
func (r *Runner) Workers() int { return r.workers }

func (r *Runner) worker(workerID string) {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		default:
			err := r.processOne(workerID)
			if err == nil {
				// Task handled; claim the next immediately.
				continue
			}
			if !errors.Is(err, errNoTasks) {
				r.logger.Error("worker error",
					slog.String("worker_id", workerID),
					slog.String("queue", string(r.queue)),
					slog.Any("error", err),
				)
			}
			select {
			case <-r.ctx.Done():
				return
			case <-time.After(r.pollInterval):
			}
		}
	}
}

func (r *Runner) processOne(workerID string) error {
	task, err := r.tasks.Claim(r.ctx, r.queue, workerID)
	if err != nil {
		return fmt.Errorf("claiming task: %w", err)
	}
	if task == nil {
		return errNoTasks
	}
	return r.executor.Execute(r.ctx, task)
}
