package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/abyssmine/abyss-backend/model"
)

type AttemptRepository struct {
	db *gorm.DB
}

func NewAttemptRepository(db *gorm.DB) *AttemptRepository {
	return &AttemptRepository{db: db}
}

func (r *AttemptRepository) FindByAttemptID(ctx context.Context, attemptID string) (*model.MiningAttempt, error) {
	var attempt model.MiningAttempt
	if err := r.db.WithContext(ctx).Where("attempt_id = ?", attemptID).First(&attempt).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (r *AttemptRepository) Create(ctx context.Context, attempt *model.MiningAttempt) error {
	return r.db.WithContext(ctx).Create(attempt).Error
}

// Annotate adds fraud-review flags to an existing attempt row. This is the
// only permitted post-insert mutation.
func (r *AttemptRepository) Annotate(ctx context.Context, attemptID string, reasonsJSON string) error {
	return r.db.WithContext(ctx).Model(&model.MiningAttempt{}).
		Where("attempt_id = ?", attemptID).
		Updates(map[string]interface{}{"suspicious": true, "suspicion_reasons": reasonsJSON}).Error
}

func (r *AttemptRepository) CreateReviewFlag(ctx context.Context, flag *model.ReviewFlag) error {
	return r.db.WithContext(ctx).Create(flag).Error
}
