package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/jmylchreest/recarr/internal/models"
)

// templateRepo implements TemplateRepository using GORM.
type templateRepo struct {
	db *gorm.DB
}

// NewTemplateRepository creates a template repository.
func NewTemplateRepository(db *gorm.DB) *templateRepo {
	return &templateRepo{db: db}
}

var _ TemplateRepository = (*templateRepo)(nil)

func (r *templateRepo) Create(ctx context.Context, tmpl *models.RecordingTemplate) error {
	if err := r.db.WithContext(ctx).Create(tmpl).Error; err != nil {
		return fmt.Errorf("creating template: %w", err)
	}
	return nil
}

func (r *templateRepo) GetByID(ctx context.Context, id, userID models.ULID) (*models.RecordingTemplate, error) {
	var tmpl models.RecordingTemplate
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&tmpl).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting template: %w", err)
	}
	return &tmpl, nil
}

func (r *templateRepo) GetByIDs(ctx context.Context, ids []models.ULID, userID models.ULID) ([]*models.RecordingTemplate, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var tmpls []*models.RecordingTemplate
	err := r.db.WithContext(ctx).
		Where("id IN ? AND user_id = ?", ids, userID).
		Find(&tmpls).Error
	if err != nil {
		return nil, fmt.Errorf("getting templates: %w", err)
	}
	return tmpls, nil
}

// ListMatchable returns the matcher's input: active non-draft templates,
// oldest first so the first created template wins ties.
func (r *templateRepo) ListMatchable(ctx context.Context, userID models.ULID) ([]*models.RecordingTemplate, error) {
	var tmpls []*models.RecordingTemplate
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_draft = ? AND is_active = ?", userID, false, true).
		Order("created_at ASC").
		Find(&tmpls).Error
	if err != nil {
		return nil, fmt.Errorf("listing matchable templates: %w", err)
	}
	return tmpls, nil
}

func (r *templateRepo) ListByUser(ctx context.Context, userID models.ULID) ([]*models.RecordingTemplate, error) {
	var tmpls []*models.RecordingTemplate
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&tmpls).Error
	if err != nil {
		return nil, fmt.Errorf("listing templates: %w", err)
	}
	return tmpls, nil
}

func (r *templateRepo) Update(ctx context.Context, tmpl *models.RecordingTemplate) error {
	if err := r.db.WithContext(ctx).Save(tmpl).Error; err != nil {
		return fmt.Errorf("updating template: %w", err)
	}
	return nil
}

func (r *templateRepo) Delete(ctx context.Context, id, userID models.ULID) error {
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&models.RecordingTemplate{}).Error
	if err != nil {
		return fmt.Errorf("deleting template: %w", err)
	}
	return nil
}

func (r *templateRepo) RecordUse(ctx context.Context, id models.ULID) error {
	err := r.db.WithContext(ctx).Model(&models.RecordingTemplate{}).
		Where("id = ?", id).
		UpdateColumns(map[string]interface{}{
			"used_count":   gorm.Expr("used_count + 1"),
			"last_used_at": models.Now(),
		}).Error
	if err != nil {
		return fmt.Errorf("recording template use: %w", err)
	}
	return nil
}
