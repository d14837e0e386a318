package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/recarr/internal/config"
	"github.com/jmylchreest/recarr/internal/metrics"
	"github.com/jmylchreest/recarr/internal/models"
	"github.com/jmylchreest/recarr/internal/repository"
)

// Dispatcher owns the executor, one runner per queue, and the janitor
// that recovers stale locks. Enqueue is the single entry point for new
// work: it applies the queue's retry policy and deduplicates
// per-recording submissions.
type Dispatcher struct {
	cfg      config.QueuesConfig
	tasks    repository.TaskRepository
	executor *Executor
	runners  []*Runner
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher creates the dispatcher with one runner per queue.
func NewDispatcher(cfg config.QueuesConfig, tasks repository.TaskRepository, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	executor := NewExecutor(tasks, logger)

	d := &Dispatcher{
		cfg:      cfg,
		tasks:    tasks,
		executor: executor,
		logger:   logger,
	}
	for _, queue := range models.AllQueues {
		policy := cfg.ByQueue(string(queue))
		d.runners = append(d.runners,
			NewRunner(queue, policy.Workers, cfg.PollInterval, tasks, executor, logger))
	}
	return d
}

// RegisterHandler registers a handler for a task type.
func (d *Dispatcher) RegisterHandler(taskType models.TaskType, handler Handler) {
	d.executor.RegisterHandler(taskType, handler)
}

// RegisterFunc registers a function handler for a task type.
func (d *Dispatcher) RegisterFunc(taskType models.TaskType, fn HandlerFunc) {
	d.executor.RegisterFunc(taskType, fn)
}

// Executor exposes the executor for callers that run tasks inline
// (tests, the automation dry-run path).
func (d *Dispatcher) Executor() *Executor { return d.executor }

// Enqueue persists a new task, stamping the queue's retry policy onto
// unset fields. When the task targets a recording and an identical
// live task already exists, the existing task is returned instead of
// creating a duplicate.
func (d *Dispatcher) Enqueue(ctx context.Context, task *models.Task) (*models.Task, error) {
	if task.Queue == "" {
		return nil, fmt.Errorf("enqueue: task has no queue")
	}

	if task.RecordingID != nil {
		existing, err := d.tasks.FindDuplicatePending(ctx, task.Type, *task.RecordingID, payloadPlatform(task))
		if err != nil {
			return nil, fmt.Errorf("checking for duplicate task: %w", err)
		}
		if existing != nil {
			d.logger.Debug("duplicate task submission, reusing live task",
				slog.String("task_id", existing.ID.String()),
				slog.String("type", string(task.Type)),
				slog.Int64("recording_id", *task.RecordingID),
			)
			return existing, nil
		}
	}

	policy := d.cfg.ByQueue(string(task.Queue))
	if task.MaxAttempts == 0 {
		task.MaxAttempts = policy.MaxAttempts
	}
	if task.BackoffSeconds == 0 {
		task.BackoffSeconds = int(policy.Backoff / time.Second)
	}
	if task.SoftTimeoutSeconds == 0 {
		task.SoftTimeoutSeconds = int(policy.SoftTimeout / time.Second)
	}
	if task.HardTimeoutSeconds == 0 {
		task.HardTimeoutSeconds = int(policy.HardTimeout / time.Second)
	}
	if task.Priority == 0 {
		task.Priority = models.PriorityDefault
	}

	if err := d.tasks.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("enqueueing %s task: %w", task.Type, err)
	}
	return task, nil
}

// payloadPlatform extracts the platform discriminator from a task's
// payload so per-platform fan-out tasks never dedupe across platforms.
func payloadPlatform(task *models.Task) string {
	if task.Payload == nil {
		return ""
	}
	if p, ok := task.Payload["platform"].(string); ok {
		return p
	}
	return ""
}

// CancelPendingForRecording cancels every not-yet-claimed task of a
// recording. Running tasks finish naturally; with the chain state gone
// they do not enqueue successors.
func (d *Dispatcher) CancelPendingForRecording(ctx context.Context, recordingID int64, userID models.ULID) (int64, error) {
	return d.tasks.CancelPendingByRecording(ctx, recordingID, userID)
}

// Start launches every runner and the stale-lock janitor.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancel != nil {
		return fmt.Errorf("dispatcher already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	for _, runner := range d.runners {
		if err := runner.Start(runCtx); err != nil {
			cancel()
			return err
		}
	}

	d.wg.Add(1)
	go d.janitor(runCtx)

	d.logger.Info("dispatcher started", slog.Int("queues", len(d.runners)))
	return nil
}

// Stop halts the janitor and every runner, waiting for in-flight work.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.mu.Unlock()

	d.wg.Wait()
	for _, runner := range d.runners {
		runner.Stop()
	}
	d.logger.Info("dispatcher stopped")
}

// janitor returns tasks with expired locks to pending. Workers die
// mid-task on crashes and deploys; their claims must not stay stuck.
func (d *Dispatcher) janitor(ctx context.Context) {
	defer d.wg.Done()

	interval := d.cfg.LockTimeout / 2
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			recovered, err := d.tasks.RecoverStale(ctx, d.cfg.LockTimeout)
			if err != nil {
				d.logger.Error("stale task recovery failed", slog.Any("error", err))
				continue
			}
			if recovered > 0 {
				d.logger.Warn("recovered stale tasks", slog.Int64("count", recovered))
			}
			d.sampleDepth(ctx)
		}
	}
}

// sampleDepth refreshes the per-queue backlog gauge.
func (d *Dispatcher) sampleDepth(ctx context.Context) {
	for _, queue := range models.AllQueues {
		depth, err := d.tasks.CountPendingByQueue(ctx, queue)
		if err != nil {
			d.logger.Debug("queue depth sample failed",
				slog.String("queue", string(queue)),
				slog.Any("error", err),
			)
			continue
		}
		metrics.QueueDepth.WithLabelValues(string(queue)).Set(float64(depth))
	}
}
