package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/jmylchreest/recarr/internal/models"
)

// automationRepo implements AutomationRepository using GORM.
type automationRepo struct {
	db *gorm.DB
}

// NewAutomationRepository creates an automation job repository.
func NewAutomationRepository(db *gorm.DB) *automationRepo {
	return &automationRepo{db: db}
}

var _ AutomationRepository = (*automationRepo)(nil)

func (r *automationRepo) Create(ctx context.Context, job *models.AutomationJob) error {
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("creating automation job: %w", err)
	}
	return nil
}

func (r *automationRepo) GetByID(ctx context.Context, id, userID models.ULID) (*models.AutomationJob, error) {
	var job models.AutomationJob
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting automation job: %w", err)
	}
	return &job, nil
}

func (r *automationRepo) ListByUser(ctx context.Context, userID models.ULID) ([]*models.AutomationJob, error) {
	var jobs []*models.AutomationJob
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("listing automation jobs: %w", err)
	}
	return jobs, nil
}

// ListDue returns active jobs whose next fire time has passed, across all
// tenants — the scheduler beat works the whole table.
func (r *automationRepo) ListDue(ctx context.Context, now time.Time) ([]*models.AutomationJob, error) {
	var jobs []*models.AutomationJob
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Where("next_run_at IS NOT NULL AND next_run_at <= ?", now).
		Order("next_run_at ASC").
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("listing due automation jobs: %w", err)
	}
	return jobs, nil
}

func (r *automationRepo) ListActive(ctx context.Context) ([]*models.AutomationJob, error) {
	var jobs []*models.AutomationJob
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("created_at ASC").
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("listing active automation jobs: %w", err)
	}
	return jobs, nil
}

func (r *automationRepo) Update(ctx context.Context, job *models.AutomationJob) error {
	if err := r.db.WithContext(ctx).Save(job).Error; err != nil {
		return fmt.Errorf("updating automation job: %w", err)
	}
	return nil
}

func (r *automationRepo) Delete(ctx context.Context, id, userID models.ULID) error {
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&models.AutomationJob{}).Error
	if err != nil {
		return fmt.Errorf("deleting automation job: %w", err)
	}
	return nil
}

func (r *automationRepo) MarkRun(ctx context.Context, id models.ULID, ranAt time.Time, nextRun *time.Time) error {
	err := r.db.WithContext(ctx).Model(&models.AutomationJob{}).
		Where("id = ?", id).
		UpdateColumns(map[string]interface{}{
			"last_run_at": ranAt,
			"run_count":   gorm.Expr("run_count + 1"),
			"next_run_at": nextRun,
			"updated_at":  models.Now(),
		}).Error
	if err != nil {
		return fmt.Errorf("marking automation run: %w", err)
	}
	return nil
}
