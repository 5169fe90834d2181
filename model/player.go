package model

import (
	"time"

	"gorm.io/gorm"
)

// Player is keyed by wallet address. TokenBalance is the accumulated
// off-chain value (wei, decimal string) that claim signing draws against and
// voucher redemption credits.
type Player struct {
	Wallet        string `gorm:"primaryKey;size:64"`
	SubmarineTier int    `gorm:"not null;default:1"`
	TokenBalance  string `gorm:"type:text;not null;default:0"`
	LastAttemptAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PlayerResource holds mined resource balances, one row per (wallet, resource).
type PlayerResource struct {
	ID       uint   `gorm:"primaryKey"`
	Wallet   string `gorm:"size:64;not null;index:idx_wallet_resource,unique"`
	Resource string `gorm:"size:32;not null;index:idx_wallet_resource,unique"`
	Amount   int64  `gorm:"not null;default:0"`
}

// helper: create tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&ResourceNode{},
		&MiningAttempt{},
		&ReviewFlag{},
		&ClaimSignature{},
		&RewardClaim{},
		&Player{},
		&PlayerResource{},
	)
}
