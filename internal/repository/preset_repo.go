package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/jmylchreest/recarr/internal/models"
)

// presetRepo implements PresetRepository using GORM.
type presetRepo struct {
	db *gorm.DB
}

// NewPresetRepository creates an output preset repository.
func NewPresetRepository(db *gorm.DB) *presetRepo {
	return &presetRepo{db: db}
}

var _ PresetRepository = (*presetRepo)(nil)

func (r *presetRepo) Create(ctx context.Context, preset *models.OutputPreset) error {
	if err := r.db.WithContext(ctx).Create(preset).Error; err != nil {
		return fmt.Errorf("creating preset: %w", err)
	}
	return nil
}

func (r *presetRepo) GetByID(ctx context.Context, id, userID models.ULID) (*models.OutputPreset, error) {
	var preset models.OutputPreset
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&preset).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting preset: %w", err)
	}
	return &preset, nil
}

func (r *presetRepo) GetByIDs(ctx context.Context, ids []models.ULID, userID models.ULID) ([]*models.OutputPreset, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var presets []*models.OutputPreset
	err := r.db.WithContext(ctx).
		Where("id IN ? AND user_id = ?", ids, userID).
		Find(&presets).Error
	if err != nil {
		return nil, fmt.Errorf("getting presets: %w", err)
	}
	return presets, nil
}

func (r *presetRepo) ListByUser(ctx context.Context, userID models.ULID) ([]*models.OutputPreset, error) {
	var presets []*models.OutputPreset
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&presets).Error
	if err != nil {
		return nil, fmt.Errorf("listing presets: %w", err)
	}
	return presets, nil
}

// FindForPlatform returns the first enabled preset for a platform among
// ids, preserving the caller's id order (the output config lists presets
// in priority order).
func (r *presetRepo) FindForPlatform(ctx context.Context, ids []models.ULID, userID models.ULID, platform string) (*models.OutputPreset, error) {
	presets, err := r.GetByIDs(ctx, ids, userID)
	if err != nil {
		return nil, err
	}
	byID := make(map[models.ULID]*models.OutputPreset, len(presets))
	for _, p := range presets {
		byID[p.ID] = p
	}
	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			continue
		}
		if p.Platform == platform && p.IsEnabled() {
			return p, nil
		}
	}
	return nil, nil
}

func (r *presetRepo) Update(ctx context.Context, preset *models.OutputPreset) error {
	if err := r.db.WithContext(ctx).Save(preset).Error; err != nil {
		return fmt.Errorf("updating preset: %w", err)
	}
	return nil
}

func (r *presetRepo) Delete(ctx context.Context, id, userID models.ULID) error {
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&models.OutputPreset{}).Error
	if err != nil {
		return fmt.Errorf("deleting preset: %w", err)
	}
	return nil
}
