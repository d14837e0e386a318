package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/jmylchreest/recarr/internal/models"
)

// quotaRepo implements QuotaRepository using GORM.
type quotaRepo struct {
	db *gorm.DB
}

// NewQuotaRepository creates a quota repository.
func NewQuotaRepository(db *gorm.DB) *quotaRepo {
	return &quotaRepo{db: db}
}

var _ QuotaRepository = (*quotaRepo)(nil)

func (r *quotaRepo) GetDefaultPlan(ctx context.Context) (*models.SubscriptionPlan, error) {
	var plan models.SubscriptionPlan
	err := r.db.WithContext(ctx).
		Where("is_default = ?", true).
		First(&plan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting default plan: %w", err)
	}
	return &plan, nil
}

func (r *quotaRepo) GetPlanByName(ctx context.Context, name string) (*models.SubscriptionPlan, error) {
	var plan models.SubscriptionPlan
	err := r.db.WithContext(ctx).
		Where("name = ?", name).
		First(&plan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting plan: %w", err)
	}
	return &plan, nil
}

func (r *quotaRepo) CreatePlan(ctx context.Context, plan *models.SubscriptionPlan) error {
	if err := r.db.WithContext(ctx).Create(plan).Error; err != nil {
		return fmt.Errorf("creating plan: %w", err)
	}
	return nil
}

func (r *quotaRepo) GetSubscription(ctx context.Context, userID models.ULID) (*models.UserSubscription, error) {
	var sub models.UserSubscription
	err := r.db.WithContext(ctx).
		Preload("Plan").
		Where("user_id = ?", userID).
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting subscription: %w", err)
	}
	return &sub, nil
}

func (r *quotaRepo) SaveSubscription(ctx context.Context, sub *models.UserSubscription) error {
	if err := r.db.WithContext(ctx).Save(sub).Error; err != nil {
		return fmt.Errorf("saving subscription: %w", err)
	}
	return nil
}

// GetOrCreateUsage returns the usage row of (user, period), creating a
// zero row on first touch of a new month.
func (r *quotaRepo) GetOrCreateUsage(ctx context.Context, userID models.ULID, period string) (*models.QuotaUsage, error) {
	var usage models.QuotaUsage
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND period = ?", userID, period).
		First(&usage).Error
	if err == nil {
		return &usage, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("finding quota usage: %w", err)
	}

	usage = models.QuotaUsage{UserID: userID, Period: period}
	err = r.db.WithContext(ctx).Create(&usage).Error
	if err == nil {
		return &usage, nil
	}
	// A concurrent admission may have created the row between the lookup
	// and the insert; the unique index turns that into a retryable read.
	var retry models.QuotaUsage
	if ferr := r.db.WithContext(ctx).
		Where("user_id = ? AND period = ?", userID, period).
		First(&retry).Error; ferr == nil {
		return &retry, nil
	}
	return nil, fmt.Errorf("creating quota usage: %w", err)
}

func (r *quotaRepo) IncrementRecordings(ctx context.Context, userID models.ULID, period string, delta int) error {
	if _, err := r.GetOrCreateUsage(ctx, userID, period); err != nil {
		return err
	}
	err := r.db.WithContext(ctx).Model(&models.QuotaUsage{}).
		Where("user_id = ? AND period = ?", userID, period).
		UpdateColumn("recordings_count", gorm.Expr("recordings_count + ?", delta)).Error
	if err != nil {
		return fmt.Errorf("incrementing recordings count: %w", err)
	}
	return nil
}

// IncrementOverage bumps a rejection counter; kind is "recordings" or
// "tasks".
func (r *quotaRepo) IncrementOverage(ctx context.Context, userID models.ULID, period string, kind string) error {
	var column string
	switch kind {
	case "recordings":
		column = "recordings_overage_count"
	case "tasks":
		column = "tasks_overage_count"
	default:
		return fmt.Errorf("unknown overage kind: %s", kind)
	}
	if _, err := r.GetOrCreateUsage(ctx, userID, period); err != nil {
		return err
	}
	err := r.db.WithContext(ctx).Model(&models.QuotaUsage{}).
		Where("user_id = ? AND period = ?", userID, period).
		UpdateColumn(column, gorm.Expr(column+" + 1")).Error
	if err != nil {
		return fmt.Errorf("incrementing overage count: %w", err)
	}
	return nil
}

func (r *quotaRepo) SetStorageBytes(ctx context.Context, userID models.ULID, period string, bytes int64) error {
	if _, err := r.GetOrCreateUsage(ctx, userID, period); err != nil {
		return err
	}
	err := r.db.WithContext(ctx).Model(&models.QuotaUsage{}).
		Where("user_id = ? AND period = ?", userID, period).
		UpdateColumn("storage_bytes", bytes).Error
	if err != nil {
		return fmt.Errorf("setting storage bytes: %w", err)
	}
	return nil
}
