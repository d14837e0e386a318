package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/jmylchreest/recarr/internal/models"
)

// userRepo implements UserRepository using GORM.
type userRepo struct {
	db *gorm.DB
}

// NewUserRepository creates a user repository.
func NewUserRepository(db *gorm.DB) *userRepo {
	return &userRepo{db: db}
}

var _ UserRepository = (*userRepo)(nil)

func (r *userRepo) Create(ctx context.Context, user *models.User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

func (r *userRepo) GetByID(ctx context.Context, id models.ULID) (*models.User, error) {
	return r.getOne(ctx, "id = ?", id)
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getOne(ctx, "email = ?", email)
}

func (r *userRepo) GetByAPIKeyHash(ctx context.Context, hash string) (*models.User, error) {
	if hash == "" {
		return nil, nil
	}
	return r.getOne(ctx, "api_key_hash = ?", hash)
}

func (r *userRepo) GetBySlug(ctx context.Context, slug int) (*models.User, error) {
	return r.getOne(ctx, "slug = ?", slug)
}

func (r *userRepo) getOne(ctx context.Context, query string, arg interface{}) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Where(query, arg).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return &user, nil
}

func (r *userRepo) ListEnabled(ctx context.Context) ([]*models.User, error) {
	var users []*models.User
	err := r.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("slug ASC").
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return users, nil
}

func (r *userRepo) Update(ctx context.Context, user *models.User) error {
	if err := r.db.WithContext(ctx).Save(user).Error; err != nil {
		return fmt.Errorf("updating user: %w", err)
	}
	return nil
}

// NextSlug returns the next unused filesystem ordinal. Slugs are never
// reused, so deleted users leave gaps.
func (r *userRepo) NextSlug(ctx context.Context) (int, error) {
	var max int
	err := r.db.WithContext(ctx).Model(&models.User{}).
		Select("COALESCE(MAX(slug), 0)").
		Scan(&max).Error
	if err != nil {
		return 0, fmt.Errorf("finding max slug: %w", err)
	}
	return max + 1, nil
}

func (r *userRepo) GetConfig(ctx context.Context, userID models.ULID) (*models.UserConfig, error) {
	var cfg models.UserConfig
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting user config: %w", err)
	}
	return &cfg, nil
}

func (r *userRepo) SaveConfig(ctx context.Context, cfg *models.UserConfig) error {
	if !cfg.ID.IsZero() {
		if err := r.db.WithContext(ctx).Save(cfg).Error; err != nil {
			return fmt.Errorf("saving user config: %w", err)
		}
		return nil
	}

	existing, err := r.GetConfig(ctx, cfg.UserID)
	if err != nil {
		return err
	}
	if existing != nil {
		cfg.ID = existing.ID
		cfg.CreatedAt = existing.CreatedAt
		if err := r.db.WithContext(ctx).Save(cfg).Error; err != nil {
			return fmt.Errorf("saving user config: %w", err)
		}
		return nil
	}
	if err := r.db.WithContext(ctx).Create(cfg).Error; err != nil {
		return fmt.Errorf("creating user config: %w", err)
	}
	return nil
}
