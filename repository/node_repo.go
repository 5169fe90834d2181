package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/abyssmine/abyss-backend/model"
)

type NodeRepository struct {
	db *gorm.DB
}

func NewNodeRepository(db *gorm.DB) *NodeRepository {
	return &NodeRepository{db: db}
}

func (r *NodeRepository) FindByID(ctx context.Context, nodeID string) (*model.ResourceNode, error) {
	var node model.ResourceNode
	if err := r.db.WithContext(ctx).Where("id = ?", nodeID).First(&node).Error; err != nil {
		return nil, err
	}
	return &node, nil
}

func (r *NodeRepository) Create(ctx context.Context, node *model.ResourceNode) error {
	return r.db.WithContext(ctx).Create(node).Error
}

func (r *NodeRepository) ListAvailable(ctx context.Context) ([]*model.ResourceNode, error) {
	var nodes []*model.ResourceNode
	if err := r.db.WithContext(ctx).Where("status = ?", model.NodeAvailable).Find(&nodes).Error; err != nil {
		return nil, err
	}
	return nodes, nil
}

// RespawnDue returns nodes whose respawn deadline has elapsed.
func (r *NodeRepository) RespawnDue(ctx context.Context, now time.Time, limit int) ([]*model.ResourceNode, error) {
	var nodes []*model.ResourceNode
	err := r.db.WithContext(ctx).
		Where("status IN ? AND respawn_at IS NOT NULL AND respawn_at <= ?",
			[]string{model.NodeClaimed, model.NodeDepleted, model.NodeRespawning}, now).
		Limit(limit).
		Find(&nodes).Error
	if err != nil {
		return nil, err
	}
	return nodes, nil
}
