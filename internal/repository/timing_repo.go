package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/jmylchreest/recarr/internal/models"
)

// timingRepo implements TimingRepository using GORM. Timings are append
// only; nothing updates or deletes them short of the recording going away.
type timingRepo struct {
	db *gorm.DB
}

// NewTimingRepository creates a stage timing repository.
func NewTimingRepository(db *gorm.DB) *timingRepo {
	return &timingRepo{db: db}
}

var _ TimingRepository = (*timingRepo)(nil)

func (r *timingRepo) Create(ctx context.Context, timing *models.StageTiming) error {
	if err := r.db.WithContext(ctx).Create(timing).Error; err != nil {
		return fmt.Errorf("creating stage timing: %w", err)
	}
	return nil
}

func (r *timingRepo) ListByRecording(ctx context.Context, rid int64) ([]*models.StageTiming, error) {
	var timings []*models.StageTiming
	err := r.db.WithContext(ctx).
		Where("recording_id = ?", rid).
		Order("started_at ASC").
		Find(&timings).Error
	if err != nil {
		return nil, fmt.Errorf("listing stage timings: %w", err)
	}
	return timings, nil
}

// NextAttempt returns 1 + the highest recorded attempt of a stage, so a
// retried stage numbers its timing rows consecutively.
func (r *timingRepo) NextAttempt(ctx context.Context, rid int64, stageType string) (int, error) {
	var max int
	err := r.db.WithContext(ctx).Model(&models.StageTiming{}).
		Where("recording_id = ? AND stage_type = ?", rid, stageType).
		Select("COALESCE(MAX(attempt), 0)").
		Scan(&max).Error
	if err != nil {
		return 0, fmt.Errorf("finding max attempt: %w", err)
	}
	return max + 1, nil
}
