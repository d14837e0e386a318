package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jmylchreest/recarr/internal/models"
)

// joinRepo implements JoinRepository using GORM.
type joinRepo struct {
	db *gorm.DB
}

// NewJoinRepository creates a pipeline join repository.
func NewJoinRepository(db *gorm.DB) *joinRepo {
	return &joinRepo{db: db}
}

var _ JoinRepository = (*joinRepo)(nil)

func (r *joinRepo) Create(ctx context.Context, join *models.PipelineJoin) error {
	if err := r.db.WithContext(ctx).Create(join).Error; err != nil {
		return fmt.Errorf("creating pipeline join: %w", err)
	}
	return nil
}

func (r *joinRepo) GetByChain(ctx context.Context, chainID models.ULID) (*models.PipelineJoin, error) {
	var join models.PipelineJoin
	err := r.db.WithContext(ctx).
		Where("chain_id = ?", chainID).
		First(&join).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting pipeline join: %w", err)
	}
	return &join, nil
}

// CompleteMember increments the join counter under a row lock and reports
// whether this member completed the group. Exactly one caller observes the
// counter reach the expected count with the tail not yet enqueued; that
// caller gets shouldEnqueueTail = true and the flag is set in the same
// transaction.
func (r *joinRepo) CompleteMember(ctx context.Context, chainID models.ULID) (*models.PipelineJoin, bool, error) {
	var join *models.PipelineJoin
	shouldEnqueueTail := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.PipelineJoin
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("chain_id = ?", chainID).
			First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return gorm.ErrRecordNotFound
		}
		if err != nil {
			return fmt.Errorf("locking pipeline join: %w", err)
		}

		row.CompletedCount++
		cols := map[string]interface{}{
			"completed_count": row.CompletedCount,
			"updated_at":      models.Now(),
		}
		if row.Complete() && !row.TailEnqueued {
			row.TailEnqueued = true
			cols["tail_enqueued"] = true
			shouldEnqueueTail = true
		}
		if err := tx.Model(&models.PipelineJoin{}).
			Where("chain_id = ?", chainID).
			UpdateColumns(cols).Error; err != nil {
			return fmt.Errorf("updating pipeline join: %w", err)
		}
		join = &row
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return join, shouldEnqueueTail, nil
}
