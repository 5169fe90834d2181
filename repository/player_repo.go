package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/abyssmine/abyss-backend/model"
)

type PlayerRepository struct {
	db *gorm.DB
}

func NewPlayerRepository(db *gorm.DB) *PlayerRepository {
	return &PlayerRepository{db: db}
}

func (r *PlayerRepository) FindByWallet(ctx context.Context, wallet string) (*model.Player, error) {
	var player model.Player
	if err := r.db.WithContext(ctx).Where("wallet = ?", wallet).First(&player).Error; err != nil {
		return nil, err
	}
	return &player, nil
}

// FindOrCreate returns the player row, creating a tier-1 one on first contact.
func (r *PlayerRepository) FindOrCreate(ctx context.Context, wallet string) (*model.Player, error) {
	player := model.Player{Wallet: wallet, SubmarineTier: 1, TokenBalance: "0"}
	if err := r.db.WithContext(ctx).Where("wallet = ?", wallet).FirstOrCreate(&player).Error; err != nil {
		return nil, err
	}
	return &player, nil
}

func (r *PlayerRepository) Resources(ctx context.Context, wallet string) ([]*model.PlayerResource, error) {
	var list []*model.PlayerResource
	if err := r.db.WithContext(ctx).Where("wallet = ?", wallet).Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}
