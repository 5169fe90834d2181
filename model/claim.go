package model

import "time"

const (
	ClaimPending = "pending"
	ClaimSigned  = "signed"
	ClaimClaimed = "claimed"
	ClaimExpired = "expired"
)

// ClaimSignature mirrors one slot of the settlement contract's per-wallet
// nonce counter. The unique (wallet, nonce) index is the replay defense: at
// most one live row can ever exist for a slot, and a duplicate request
// echoes the stored signature instead of producing a second one.
type ClaimSignature struct {
	ID        uint   `gorm:"primaryKey"`
	Wallet    string `gorm:"size:64;not null;index:idx_wallet_nonce,unique"`
	Nonce     uint64 `gorm:"not null;index:idx_wallet_nonce,unique"`
	Amount    string `gorm:"type:text;not null"` // wei, decimal string
	Signature string `gorm:"type:text"`          // 65-byte sig, hex
	Status    string `gorm:"size:16;not null;default:pending;index"`
	Deadline  int64  `gorm:"not null"` // unix seconds, baked into the signed payload
	SignedAt  *time.Time
	ClaimedAt *time.Time
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time
}

// RewardClaim is a pre-staged, time-boxed voucher redeemed through the
// redemption processor, distinct from the nonce-ledger flow.
type RewardClaim struct {
	ID        string `gorm:"primaryKey;size:64"`
	Wallet    string `gorm:"size:64;index;not null"`
	Amount    string `gorm:"type:text;not null"` // wei, decimal string
	Used      bool   `gorm:"not null;default:false;index"`
	UsedAt    *time.Time
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time
}

func (c *RewardClaim) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
