package model

import "time"

// MiningAttempt is the append-only audit row for one mining action. The
// attempt id is the caller-chosen idempotency key; the unique index is what
// makes resubmission a no-op. Rows are never updated after creation except
// for fraud-review annotations.
type MiningAttempt struct {
	ID               uint    `gorm:"primaryKey"`
	AttemptID        string  `gorm:"size:128;uniqueIndex;not null"`
	Wallet           string  `gorm:"size:64;index;not null"`
	SourceIP         string  `gorm:"size:64"`
	UserAgent        string  `gorm:"size:256"`
	NodeID           string  `gorm:"size:64;index;not null"`
	PosX             float64 `gorm:"column:pos_x"`
	PosY             float64 `gorm:"column:pos_y"`
	PosZ             float64 `gorm:"column:pos_z"`
	Success          bool    `gorm:"index"`
	ResourceType     string  `gorm:"size:32"`
	Amount           int64
	FailureReason    string `gorm:"size:64"`
	Suspicious       bool   `gorm:"index"`
	SuspicionReasons string `gorm:"type:text"` // JSON array, written by the fraud detector
	CreatedAt        time.Time
}

// ReviewFlag escalates an attempt that tripped two or more distinct
// suspicion heuristics. The review consumer is out of band.
type ReviewFlag struct {
	ID        uint   `gorm:"primaryKey"`
	AttemptID string `gorm:"size:128;index;not null"`
	Wallet    string `gorm:"size:64;index;not null"`
	Reasons   string `gorm:"type:text"`
	CreatedAt time.Time
}
