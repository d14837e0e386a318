// Package queue dispatches durable tasks to named worker pools. Task
// rows are claimed with row-level locking so several processes can
// share one database; each queue carries its own concurrency, retry,
// and timeout policy.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jmylchreest/recarr/internal/metrics"
	"github.com/jmylchreest/recarr/internal/models"
	"github.com/jmylchreest/recarr/internal/recerr"
	"github.com/jmylchreest/recarr/internal/repository"
)

// Handler executes one task type and returns its result map.
type Handler interface {
	Execute(ctx context.Context, task *models.Task) (models.JSONMap, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, task *models.Task) (models.JSONMap, error)

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, task *models.Task) (models.JSONMap, error) {
	return f(ctx, task)
}

// Executor runs claimed tasks through their registered handlers and
// persists the outcome: completion, scheduled retry, or terminal
// failure.
type Executor struct {
	mu       sync.RWMutex
	handlers map[models.TaskType]Handler
	tasks    repository.TaskRepository
	logger   *slog.Logger
}

// NewExecutor creates a task executor.
func NewExecutor(tasks repository.TaskRepository, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		handlers: make(map[models.TaskType]Handler),
		tasks:    tasks,
		logger:   logger,
	}
}

// RegisterHandler registers a handler for a task type.
func (e *Executor) RegisterHandler(taskType models.TaskType, handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[taskType] = handler
}

// RegisterFunc registers a function handler for a task type.
func (e *Executor) RegisterFunc(taskType models.TaskType, fn HandlerFunc) {
	e.RegisterHandler(taskType, fn)
}

// Execute runs one claimed task and persists its outcome. The soft
// timeout is a context deadline whose expiry schedules a retry; the
// hard timeout marks the task failed without one.
func (e *Executor) Execute(ctx context.Context, task *models.Task) error {
	e.mu.RLock()
	handler, ok := e.handlers[task.Type]
	e.mu.RUnlock()
	if !ok {
		task.MarkFailed(fmt.Errorf("no handler registered for task type %s", task.Type))
		return e.persist(ctx, task)
	}

	e.logger.Info("executing task",
		slog.String("task_id", task.ID.String()),
		slog.String("queue", string(task.Queue)),
		slog.String("type", string(task.Type)),
		slog.Int("attempt", task.AttemptCount),
	)

	runCtx := ctx
	var cancels []context.CancelFunc
	var hardCtx context.Context
	if hard := task.HardTimeout(); hard > 0 {
		var cancel context.CancelFunc
		hardCtx, cancel = context.WithTimeout(runCtx, hard)
		runCtx = hardCtx
		cancels = append(cancels, cancel)
	}
	if soft := task.SoftTimeout(); soft > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, soft)
		cancels = append(cancels, cancel)
	}
	defer func() {
		for _, cancel := range cancels {
			cancel()
		}
	}()

	result, err := handler.Execute(runCtx, task)
	e.settle(task, result, err, hardCtx)
	metrics.ObserveTask(task)
	return e.persist(ctx, task)
}

// settle maps the handler outcome onto the task row.
func (e *Executor) settle(task *models.Task, result models.JSONMap, err error, hardCtx context.Context) {
	if err == nil {
		task.MarkCompleted(result)
		e.logger.Info("task completed",
			slog.String("task_id", task.ID.String()),
			slog.String("type", string(task.Type)),
			slog.Int64("duration_ms", task.DurationMs),
		)
		return
	}

	switch {
	case recerr.Is(err, recerr.KindRace):
		// The original request won; this attempt is a clean no-op.
		e.logger.Info("task aborted on race, original request wins",
			slog.String("task_id", task.ID.String()),
			slog.String("error", err.Error()),
		)
		task.MarkCompleted(models.JSONMap{"ok": true, "status": "noop", "reason": "state changed"})
		return

	case recerr.Is(err, recerr.KindCascadeSkip):
		// Config turned a transcription-family failure into a skip.
		task.MarkCompleted(models.JSONMap{"ok": true, "status": "skipped", "reason": err.Error()})
		return
	}

	hardExpired := hardCtx != nil && hardCtx.Err() != nil
	softExpired := !hardExpired && errors.Is(err, context.DeadlineExceeded)

	task.MarkFailed(err)

	switch {
	case hardExpired:
		e.logger.Error("task killed at hard timeout",
			slog.String("task_id", task.ID.String()),
			slog.String("type", string(task.Type)),
		)

	case softExpired || recerr.Retryable(err):
		if task.CanRetry() {
			task.ScheduleRetry()
			e.logger.Warn("task failed, retry scheduled",
				slog.String("task_id", task.ID.String()),
				slog.String("type", string(task.Type)),
				slog.Int("attempt", task.AttemptCount),
				slog.Int("max_attempts", task.MaxAttempts),
				slog.String("error", err.Error()),
			)
		} else {
			e.logger.Error("task failed, retries exhausted",
				slog.String("task_id", task.ID.String()),
				slog.String("type", string(task.Type)),
				slog.String("error", err.Error()),
			)
		}

	default:
		e.logger.Error("task failed terminally",
			slog.String("task_id", task.ID.String()),
			slog.String("type", string(task.Type)),
			slog.String("kind", recerr.KindOf(err).String()),
			slog.String("error", err.Error()),
		)
	}
}

// persist saves the task and, when it reached a terminal status,
// records a history row.
func (e *Executor) persist(ctx context.Context, task *models.Task) error {
	if err := e.tasks.Update(ctx, task); err != nil {
		return fmt.Errorf("updating task %s: %w", task.ID, err)
	}
	if !task.IsFinished() {
		return nil
	}

	history := &models.TaskHistory{
		TaskID:        task.ID,
		Queue:         task.Queue,
		Type:          task.Type,
		UserID:        task.UserID,
		RecordingID:   task.RecordingID,
		Status:        task.Status,
		StartedAt:     task.StartedAt,
		CompletedAt:   task.CompletedAt,
		DurationMs:    task.DurationMs,
		AttemptNumber: task.AttemptCount,
		Error:         task.LastError,
	}
	if err := e.tasks.CreateHistory(ctx, history); err != nil {
		e.logger.Error("failed to record task history",
			slog.String("task_id", task.ID.String()),
			slog.Any("error", err),
		)
	}
	return nil
}
