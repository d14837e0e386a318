package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/jmylchreest/recarr/internal/models"
)

// credentialRepo implements CredentialRepository using GORM.
type credentialRepo struct {
	db *gorm.DB
}

// NewCredentialRepository creates a credential repository.
func NewCredentialRepository(db *gorm.DB) *credentialRepo {
	return &credentialRepo{db: db}
}

var _ CredentialRepository = (*credentialRepo)(nil)

func (r *credentialRepo) Create(ctx context.Context, cred *models.Credential) error {
	if err := r.db.WithContext(ctx).Create(cred).Error; err != nil {
		return fmt.Errorf("creating credential: %w", err)
	}
	return nil
}

func (r *credentialRepo) GetByID(ctx context.Context, id, userID models.ULID) (*models.Credential, error) {
	var cred models.Credential
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting credential: %w", err)
	}
	return &cred, nil
}

func (r *credentialRepo) GetByIdentity(ctx context.Context, userID models.ULID, platform, accountName string) (*models.Credential, error) {
	var cred models.Credential
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND platform = ? AND account_name = ?", userID, platform, accountName).
		First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting credential: %w", err)
	}
	return &cred, nil
}

func (r *credentialRepo) ListByUser(ctx context.Context, userID models.ULID) ([]*models.Credential, error) {
	var creds []*models.Credential
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("platform ASC, account_name ASC").
		Find(&creds).Error
	if err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}
	return creds, nil
}

func (r *credentialRepo) Update(ctx context.Context, cred *models.Credential) error {
	if err := r.db.WithContext(ctx).Save(cred).Error; err != nil {
		return fmt.Errorf("updating credential: %w", err)
	}
	return nil
}

func (r *credentialRepo) Delete(ctx context.Context, id, userID models.ULID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("credential_id = ?", id).
			Delete(&models.RefreshToken{}).Error; err != nil {
			return fmt.Errorf("deleting refresh tokens: %w", err)
		}
		if err := tx.Where("id = ? AND user_id = ?", id, userID).
			Delete(&models.Credential{}).Error; err != nil {
			return fmt.Errorf("deleting credential: %w", err)
		}
		return nil
	})
}

func (r *credentialRepo) SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if err := r.db.WithContext(ctx).Save(token).Error; err != nil {
		return fmt.Errorf("saving refresh token: %w", err)
	}
	return nil
}

func (r *credentialRepo) DeleteExpiredTokens(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at < ?", before).
		Delete(&models.RefreshToken{})
	if res.Error != nil {
		return 0, fmt.Errorf("deleting expired tokens: %w", res.Error)
	}
	return res.RowsAffected, nil
}
