package model

import (
	"math"
	"time"
)

// Node status lifecycle: available -> claimed -> (available | depleted),
// depleted -> respawning -> available. Only the mining executor and the
// respawn sweep move a node between states.
const (
	NodeAvailable  = "available"
	NodeClaimed    = "claimed"
	NodeDepleted   = "depleted"
	NodeRespawning = "respawning"
)

type ResourceNode struct {
	ID             string     `gorm:"primaryKey;size:64" json:"id"`
	X              float64    `gorm:"column:pos_x;not null" json:"x"`
	Y              float64    `gorm:"column:pos_y;not null" json:"y"`
	Z              float64    `gorm:"column:pos_z;not null" json:"z"`
	ResourceType   string     `gorm:"size:32;not null;index" json:"resource_type"`
	ResourceAmount int64      `gorm:"not null" json:"resource_amount"`
	MaxAmount      int64      `gorm:"not null" json:"max_amount"`
	RarityTier     string     `gorm:"size:16;not null" json:"rarity_tier"`
	Status         string     `gorm:"size:16;not null;default:available;index" json:"status"`
	ClaimedBy      *string    `gorm:"size:64" json:"claimed_by,omitempty"`
	RespawnAt      *time.Time `json:"respawn_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// DistanceTo returns the 3D Euclidean distance from the node to a position.
func (n *ResourceNode) DistanceTo(x, y, z float64) float64 {
	dx, dy, dz := n.X-x, n.Y-y, n.Z-z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}
