package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/abyssmine/abyss-backend/model"
)

type ClaimRepository struct {
	db *gorm.DB
}

func NewClaimRepository(db *gorm.DB) *ClaimRepository {
	return &ClaimRepository{db: db}
}

// FindActive returns the pending/signed row for a (wallet, nonce) slot, if
// one exists. Expired and claimed rows are excluded so a freed slot can be
// re-reserved.
func (r *ClaimRepository) FindActive(ctx context.Context, wallet string, nonce uint64) (*model.ClaimSignature, error) {
	var claim model.ClaimSignature
	err := r.db.WithContext(ctx).
		Where("wallet = ? AND nonce = ? AND status IN ?",
			wallet, nonce, []string{model.ClaimPending, model.ClaimSigned}).
		First(&claim).Error
	if err != nil {
		return nil, err
	}
	return &claim, nil
}

// FindSlot returns the row at (wallet, nonce) regardless of status.
func (r *ClaimRepository) FindSlot(ctx context.Context, wallet string, nonce uint64) (*model.ClaimSignature, error) {
	var claim model.ClaimSignature
	err := r.db.WithContext(ctx).Where("wallet = ? AND nonce = ?", wallet, nonce).First(&claim).Error
	if err != nil {
		return nil, err
	}
	return &claim, nil
}

// Rereserve flips an expired row back to pending for a new amount and TTL.
// The status guard makes concurrent re-reservation attempts resolve to one
// winner; the caller treats zero rows affected as contention.
func (r *ClaimRepository) Rereserve(ctx context.Context, id uint, amount string, deadline int64, expiresAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.ClaimSignature{}).
		Where("id = ? AND status = ?", id, model.ClaimExpired).
		Updates(map[string]interface{}{
			"status":     model.ClaimPending,
			"amount":     amount,
			"deadline":   deadline,
			"expires_at": expiresAt,
			"signature":  "",
			"signed_at":  nil,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *ClaimRepository) Create(ctx context.Context, claim *model.ClaimSignature) error {
	return r.db.WithContext(ctx).Create(claim).Error
}

func (r *ClaimRepository) Save(ctx context.Context, claim *model.ClaimSignature) error {
	return r.db.WithContext(ctx).Save(claim).Error
}

// ExpireStale flips pending/signed rows past their TTL to expired, freeing
// their nonce slots. Returns the number of rows swept.
func (r *ClaimRepository) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.ClaimSignature{}).
		Where("status IN ? AND expires_at <= ?", []string{model.ClaimPending, model.ClaimSigned}, now).
		Update("status", model.ClaimExpired)
	return res.RowsAffected, res.Error
}

func (r *ClaimRepository) FindVoucher(ctx context.Context, claimID string) (*model.RewardClaim, error) {
	var claim model.RewardClaim
	if err := r.db.WithContext(ctx).Where("id = ?", claimID).First(&claim).Error; err != nil {
		return nil, err
	}
	return &claim, nil
}

func (r *ClaimRepository) CreateVoucher(ctx context.Context, claim *model.RewardClaim) error {
	return r.db.WithContext(ctx).Create(claim).Error
}

// PurgeExpiredVouchers deletes unused vouchers past their expiry. Used
// vouchers stay for the audit trail.
func (r *ClaimRepository) PurgeExpiredVouchers(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("used = ? AND expires_at <= ?", false, now).
		Delete(&model.RewardClaim{})
	return res.RowsAffected, res.Error
}
