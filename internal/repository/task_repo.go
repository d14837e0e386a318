package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jmylchreest/recarr/internal/models"
)

// ErrTaskNotCancellable is returned when cancelling a task that already
// started or finished.
var ErrTaskNotCancellable = errors.New("task is not cancellable")

// taskRepo implements TaskRepository using GORM.
type taskRepo struct {
	db *gorm.DB
}

// NewTaskRepository creates a task repository.
func NewTaskRepository(db *gorm.DB) *taskRepo {
	return &taskRepo{db: db}
}

var _ TaskRepository = (*taskRepo)(nil)

func (r *taskRepo) Create(ctx context.Context, task *models.Task) error {
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("creating task: %w", err)
	}
	return nil
}

func (r *taskRepo) GetByID(ctx context.Context, id models.ULID) (*models.Task, error) {
	var task models.Task
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting task: %w", err)
	}
	return &task, nil
}

func (r *taskRepo) GetForUser(ctx context.Context, id, userID models.ULID) (*models.Task, error) {
	var task models.Task
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting task: %w", err)
	}
	return &task, nil
}

func (r *taskRepo) Update(ctx context.Context, task *models.Task) error {
	if err := r.db.WithContext(ctx).Save(task).Error; err != nil {
		return fmt.Errorf("updating task: %w", err)
	}
	return nil
}

// Claim atomically claims the next runnable task of a queue. SKIP LOCKED
// lets concurrent workers on PostgreSQL pass over rows another worker is
// claiming; on SQLite the single-writer lock serialises claims anyway.
func (r *taskRepo) Claim(ctx context.Context, queue models.TaskQueue, workerID string) (*models.Task, error) {
	var task *models.Task

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := models.Now()

		var candidate models.Task
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("queue = ?", queue).
			Where("status IN ?", []models.TaskStatus{models.TaskStatusPending, models.TaskStatusScheduled}).
			Where("next_run_at IS NULL OR next_run_at <= ?", now).
			Order("priority DESC, next_run_at ASC, created_at ASC").
			Limit(1).
			First(&candidate).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("finding claimable task: %w", err)
		}

		candidate.MarkRunning(workerID)
		if err := tx.Save(&candidate).Error; err != nil {
			return fmt.Errorf("claiming task: %w", err)
		}

		task = &candidate
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// Release returns a claimed task to pending. Raw column updates keep the
// model hooks out of a path that runs during shutdown.
func (r *taskRepo) Release(ctx context.Context, id models.ULID) error {
	err := r.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ? AND status = ?", id, models.TaskStatusRunning).
		UpdateColumns(map[string]interface{}{
			"status":     models.TaskStatusPending,
			"locked_by":  "",
			"locked_at":  nil,
			"started_at": nil,
			"updated_at": models.Now(),
		}).Error
	if err != nil {
		return fmt.Errorf("releasing task: %w", err)
	}
	return nil
}

func (r *taskRepo) FindDuplicatePending(ctx context.Context, taskType models.TaskType, recordingID int64, platform string) (*models.Task, error) {
	var task models.Task
	err := r.db.WithContext(ctx).
		Where("type = ? AND recording_id = ?", taskType, recordingID).
		Where("COALESCE(json_extract(payload, '$.platform'), '') = ?", platform).
		Where("status IN ?", []models.TaskStatus{
			models.TaskStatusPending,
			models.TaskStatusScheduled,
			models.TaskStatusRunning,
		}).
		Order("created_at ASC").
		First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding duplicate task: %w", err)
	}
	return &task, nil
}

func (r *taskRepo) Cancel(ctx context.Context, id, userID models.ULID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var task models.Task
		err := tx.Where("id = ? AND user_id = ?", id, userID).First(&task).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return gorm.ErrRecordNotFound
		}
		if err != nil {
			return fmt.Errorf("getting task: %w", err)
		}
		if !task.IsPending() {
			return ErrTaskNotCancellable
		}

		task.MarkCancelled()
		if err := tx.Save(&task).Error; err != nil {
			return fmt.Errorf("cancelling task: %w", err)
		}
		return nil
	})
}

// CancelPendingByRecording cancels every not-yet-claimed task targeting
// the recording. Running tasks finish naturally; they never enqueue
// successors once the chain state is gone.
func (r *taskRepo) CancelPendingByRecording(ctx context.Context, recordingID int64, userID models.ULID) (int64, error) {
	now := models.Now()
	res := r.db.WithContext(ctx).Model(&models.Task{}).
		Where("recording_id = ? AND user_id = ?", recordingID, userID).
		Where("status IN ?", []models.TaskStatus{
			models.TaskStatusPending,
			models.TaskStatusScheduled,
		}).
		UpdateColumns(map[string]interface{}{
			"status":       models.TaskStatusCancelled,
			"completed_at": now,
			"locked_by":    "",
			"locked_at":    nil,
			"updated_at":   now,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("cancelling recording tasks: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *taskRepo) CountRunningByUser(ctx context.Context, userID models.ULID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Task{}).
		Where("user_id = ?", userID).
		Where("status IN ?", []models.TaskStatus{
			models.TaskStatusPending,
			models.TaskStatusScheduled,
			models.TaskStatusRunning,
		}).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("counting live tasks: %w", err)
	}
	return count, nil
}

// CountPendingByQueue counts the runnable backlog of one queue for the
// depth gauge.
func (r *taskRepo) CountPendingByQueue(ctx context.Context, queue models.TaskQueue) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Task{}).
		Where("queue = ?", queue).
		Where("status IN ?", []models.TaskStatus{
			models.TaskStatusPending,
			models.TaskStatusScheduled,
		}).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("counting queue backlog: %w", err)
	}
	return count, nil
}

// RecoverStale returns running tasks whose lock is older than staleAfter
// to pending, so work survives a worker crash.
func (r *taskRepo) RecoverStale(ctx context.Context, staleAfter time.Duration) (int64, error) {
	cutoff := models.Now().Add(-staleAfter)
	res := r.db.WithContext(ctx).Model(&models.Task{}).
		Where("status = ? AND locked_at IS NOT NULL AND locked_at < ?", models.TaskStatusRunning, cutoff).
		UpdateColumns(map[string]interface{}{
			"status":     models.TaskStatusPending,
			"locked_by":  "",
			"locked_at":  nil,
			"started_at": nil,
			"updated_at": models.Now(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("recovering stale tasks: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *taskRepo) Prune(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status IN ?", []models.TaskStatus{
			models.TaskStatusCompleted,
			models.TaskStatusFailed,
			models.TaskStatusCancelled,
		}).
		Where("completed_at IS NOT NULL AND completed_at < ?", before).
		Delete(&models.Task{})
	if res.Error != nil {
		return 0, fmt.Errorf("pruning tasks: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *taskRepo) ListByChain(ctx context.Context, chainID models.ULID) ([]*models.Task, error) {
	var tasks []*models.Task
	err := r.db.WithContext(ctx).
		Where("chain_id = ?", chainID).
		Order("created_at ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("listing chain tasks: %w", err)
	}
	return tasks, nil
}

func (r *taskRepo) CreateHistory(ctx context.Context, history *models.TaskHistory) error {
	if err := r.db.WithContext(ctx).Create(history).Error; err != nil {
		return fmt.Errorf("creating task history: %w", err)
	}
	return nil
}

func (r *taskRepo) PruneHistory(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("created_at < ?", before).
		Delete(&models.TaskHistory{})
	if res.Error != nil {
		return 0, fmt.Errorf("pruning task history: %w", res.Error)
	}
	return res.RowsAffected, nil
}
