package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/abyssmine/abyss-backend/model"
	"github.com/abyssmine/abyss-backend/repository"
)

func newRedeemService(t *testing.T) (*RedeemService, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	svc := NewRedeemService(db,
		repository.NewClaimRepository(db),
		repository.NewPlayerRepository(db),
		testLogger())
	return svc, db
}

func seedVoucher(t *testing.T, db *gorm.DB, wallet, amount string, expiresAt time.Time) string {
	t.Helper()
	id := uuid.NewString()
	claims := repository.NewClaimRepository(db)
	require.NoError(t, claims.CreateVoucher(context.Background(), &model.RewardClaim{
		ID:        id,
		Wallet:    wallet,
		Amount:    amount,
		ExpiresAt: expiresAt,
	}))
	return id
}

func TestRedeemCreditsBalanceOnce(t *testing.T) {
	svc, db := newRedeemService(t)
	wallet := "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B"
	require.NoError(t, db.Create(&model.Player{
		Wallet: wallet, SubmarineTier: 1, TokenBalance: "500",
	}).Error)
	id := seedVoucher(t, db, wallet, "1500", time.Now().Add(time.Hour))

	balance, err := svc.Redeem(context.Background(), id, wallet, "1500")
	require.NoError(t, err)
	assert.Equal(t, "2000", balance)

	claim, err := repository.NewClaimRepository(db).FindVoucher(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, claim.Used)
	require.NotNil(t, claim.UsedAt)

	_, err = svc.Redeem(context.Background(), id, wallet, "1500")
	require.Error(t, err)
	assert.Equal(t, CodeClaimUsed, CodeOf(err))
	assert.ErrorContains(t, err, "already been used")
}

func TestRedeemConcurrentSingleWinner(t *testing.T) {
	svc, db := newRedeemService(t)
	wallet := "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B"
	require.NoError(t, db.Create(&model.Player{
		Wallet: wallet, SubmarineTier: 1, TokenBalance: "0",
	}).Error)
	id := seedVoucher(t, db, wallet, "1000", time.Now().Add(time.Hour))

	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Redeem(context.Background(), id, wallet, "1000")
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.Equal(t, CodeClaimUsed, CodeOf(err))
		}
	}
	assert.Equal(t, 1, wins, "exactly one redemption may succeed")

	var player model.Player
	require.NoError(t, db.First(&player, "wallet = ?", wallet).Error)
	assert.Equal(t, "1000", player.TokenBalance, "balance credited exactly once")
}

func TestRedeemUnauthorizedWallet(t *testing.T) {
	svc, db := newRedeemService(t)
	id := seedVoucher(t, db, "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B", "1000", time.Now().Add(time.Hour))

	_, err := svc.Redeem(context.Background(), id, "0x0000000000000000000000000000000000000bad", "1000")
	require.Error(t, err)
	assert.Equal(t, CodeUnauthorizedWallet, CodeOf(err))
	assert.ErrorContains(t, err, "Unauthorized wallet")
}

func TestRedeemAmountMismatch(t *testing.T) {
	svc, db := newRedeemService(t)
	wallet := "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B"
	id := seedVoucher(t, db, wallet, "1000", time.Now().Add(time.Hour))

	_, err := svc.Redeem(context.Background(), id, wallet, "999")
	require.Error(t, err)
	assert.Equal(t, CodeAmountMismatch, CodeOf(err))
	assert.ErrorContains(t, err, "Amount mismatch")

	// The failed attempt must not consume the voucher.
	var claim model.RewardClaim
	require.NoError(t, db.First(&claim, "id = ?", id).Error)
	assert.False(t, claim.Used)
}

func TestRedeemExpiredVoucher(t *testing.T) {
	svc, db := newRedeemService(t)
	wallet := "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B"
	id := seedVoucher(t, db, wallet, "1000", time.Now().Add(-time.Minute))

	_, err := svc.Redeem(context.Background(), id, wallet, "1000")
	require.Error(t, err)
	assert.Equal(t, CodeClaimExpired, CodeOf(err))
	assert.ErrorContains(t, err, "expired")
}

func TestRedeemExpiredVoucherAfterSweep(t *testing.T) {
	svc, db := newRedeemService(t)
	wallet := "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B"
	id := seedVoucher(t, db, wallet, "1000", time.Now().Add(-time.Minute))

	sweeper := NewSweeper(db, repository.NewClaimRepository(db),
		repository.NewNodeRepository(db), time.Minute, testLogger())
	require.NoError(t, sweeper.SweepOnce(context.Background()))

	// The purged voucher must fail with the same contract string an
	// unswept expired one does.
	_, err := svc.Redeem(context.Background(), id, wallet, "1000")
	require.Error(t, err)
	assert.Equal(t, CodeClaimExpired, CodeOf(err))
	assert.ErrorContains(t, err, "expired")
}

func TestVoucherPurgeSweep(t *testing.T) {
	svc, db := newRedeemService(t)
	wallet := "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B"
	stale := seedVoucher(t, db, wallet, "1000", time.Now().Add(-time.Minute))
	live := seedVoucher(t, db, wallet, "1000", time.Now().Add(time.Hour))
	redeemed := seedVoucher(t, db, wallet, "500", time.Now().Add(time.Hour))
	_, err := svc.Redeem(context.Background(), redeemed, wallet, "500")
	require.NoError(t, err)

	sweeper := NewSweeper(db, repository.NewClaimRepository(db),
		repository.NewNodeRepository(db), time.Minute, testLogger())
	require.NoError(t, sweeper.SweepOnce(context.Background()))

	var count int64
	require.NoError(t, db.Model(&model.RewardClaim{}).Count(&count).Error)
	assert.Equal(t, int64(2), count, "only the stale unused voucher is purged")
	assert.NoError(t, db.First(&model.RewardClaim{}, "id = ?", live).Error)
	assert.NoError(t, db.First(&model.RewardClaim{}, "id = ?", redeemed).Error)
	assert.ErrorContains(t, db.First(&model.RewardClaim{}, "id = ?", stale).Error, "record not found")
}

func TestRedeemUnknownVoucher(t *testing.T) {
	svc, _ := newRedeemService(t)

	_, err := svc.Redeem(context.Background(), uuid.NewString(), "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B", "1000")
	require.Error(t, err)
	assert.Equal(t, CodeClaimExpired, CodeOf(err))
}
