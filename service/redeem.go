package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/abyssmine/abyss-backend/model"
	"github.com/abyssmine/abyss-backend/repository"
)

// RedeemService consumes pre-staged reward vouchers exactly once, crediting
// the player's token balance in the same transaction that marks the voucher
// used.
type RedeemService struct {
	db         *gorm.DB
	claims     *repository.ClaimRepository
	players    *repository.PlayerRepository
	claimLocks *keyedLocks
	log        *logrus.Logger
}

func NewRedeemService(db *gorm.DB, claims *repository.ClaimRepository, players *repository.PlayerRepository, log *logrus.Logger) *RedeemService {
	return &RedeemService{
		db:         db,
		claims:     claims,
		players:    players,
		claimLocks: newKeyedLocks(),
		log:        log,
	}
}

// Redeem validates and consumes a voucher. Checks run in order: existence
// and expiry, wallet binding, exact amount, replay. Concurrent calls against
// one claim id serialize on the claim lock; exactly one wins, the rest see
// the used flag.
func (s *RedeemService) Redeem(ctx context.Context, claimID, wallet, requestedAmount string) (newBalance string, err error) {
	// Blocking acquire: a loser should observe the winner's committed state,
	// not an ambiguous in-flight one.
	release := s.claimLocks.Acquire(claimID)
	defer release()

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var claim model.RewardClaim
		if ferr := lockForUpdate(tx).Where("id = ?", claimID).First(&claim).Error; ferr != nil {
			if errors.Is(ferr, gorm.ErrRecordNotFound) {
				return errAuthorization(CodeClaimExpired, ErrClaimNotFound)
			}
			return fmt.Errorf("lookup claim: %w", ferr)
		}

		now := time.Now()
		if claim.Expired(now) {
			return errAuthorization(CodeClaimExpired, ErrClaimExpired)
		}
		if claim.Wallet != wallet {
			return errAuthorization(CodeUnauthorizedWallet, ErrUnauthorizedWallet)
		}
		if claim.Amount != requestedAmount {
			return errAuthorization(CodeAmountMismatch, ErrAmountMismatch)
		}
		if claim.Used {
			return errAuthorization(CodeClaimUsed, ErrClaimAlreadyUsed)
		}

		claim.Used = true
		claim.UsedAt = &now
		if serr := tx.Save(&claim).Error; serr != nil {
			return fmt.Errorf("mark claim used: %w", serr)
		}

		var player model.Player
		if ferr := lockForUpdate(tx).Where("wallet = ?", wallet).First(&player).Error; ferr != nil {
			if errors.Is(ferr, gorm.ErrRecordNotFound) {
				player = model.Player{Wallet: wallet, SubmarineTier: 1, TokenBalance: "0"}
				if cerr := tx.Create(&player).Error; cerr != nil {
					return fmt.Errorf("create player: %w", cerr)
				}
			} else {
				return fmt.Errorf("lookup player: %w", ferr)
			}
		}

		balance, ok := new(big.Int).SetString(player.TokenBalance, 10)
		if !ok {
			balance = big.NewInt(0)
		}
		amount, ok := new(big.Int).SetString(claim.Amount, 10)
		if !ok {
			return fmt.Errorf("malformed claim amount %q", claim.Amount)
		}
		player.TokenBalance = new(big.Int).Add(balance, amount).String()
		if serr := tx.Save(&player).Error; serr != nil {
			return fmt.Errorf("credit balance: %w", serr)
		}

		newBalance = player.TokenBalance
		return nil
	})
	if txErr != nil {
		var appErr *Error
		if errors.As(txErr, &appErr) {
			return "", txErr
		}
		s.log.WithError(txErr).WithField("claim", claimID).Error("redemption transaction failed")
		return "", errInternal(txErr)
	}

	s.log.WithFields(logrus.Fields{
		"claim":  claimID,
		"wallet": wallet,
	}).Info("claim redeemed")
	return newBalance, nil
}
