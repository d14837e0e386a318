package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/jmylchreest/recarr/internal/models"
)

// sourceRepo implements InputSourceRepository using GORM.
type sourceRepo struct {
	db *gorm.DB
}

// NewInputSourceRepository creates an input source repository.
func NewInputSourceRepository(db *gorm.DB) *sourceRepo {
	return &sourceRepo{db: db}
}

var _ InputSourceRepository = (*sourceRepo)(nil)

func (r *sourceRepo) Create(ctx context.Context, src *models.InputSource) error {
	if err := r.db.WithContext(ctx).Create(src).Error; err != nil {
		return fmt.Errorf("creating input source: %w", err)
	}
	return nil
}

func (r *sourceRepo) GetByID(ctx context.Context, id, userID models.ULID) (*models.InputSource, error) {
	var src models.InputSource
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&src).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting input source: %w", err)
	}
	return &src, nil
}

func (r *sourceRepo) ListByUser(ctx context.Context, userID models.ULID) ([]*models.InputSource, error) {
	var srcs []*models.InputSource
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&srcs).Error
	if err != nil {
		return nil, fmt.Errorf("listing input sources: %w", err)
	}
	return srcs, nil
}

func (r *sourceRepo) ListEnabled(ctx context.Context, userID models.ULID) ([]*models.InputSource, error) {
	var srcs []*models.InputSource
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND enabled = ?", userID, true).
		Order("created_at ASC").
		Find(&srcs).Error
	if err != nil {
		return nil, fmt.Errorf("listing enabled input sources: %w", err)
	}
	return srcs, nil
}

func (r *sourceRepo) Update(ctx context.Context, src *models.InputSource) error {
	if err := r.db.WithContext(ctx).Save(src).Error; err != nil {
		return fmt.Errorf("updating input source: %w", err)
	}
	return nil
}

func (r *sourceRepo) Delete(ctx context.Context, id, userID models.ULID) error {
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&models.InputSource{}).Error
	if err != nil {
		return fmt.Errorf("deleting input source: %w", err)
	}
	return nil
}

func (r *sourceRepo) TouchSync(ctx context.Context, id models.ULID, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&models.InputSource{}).
		Where("id = ?", id).
		UpdateColumn("last_sync_at", at).Error
	if err != nil {
		return fmt.Errorf("touching sync time: %w", err)
	}
	return nil
}
