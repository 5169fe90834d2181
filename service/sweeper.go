package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/abyssmine/abyss-backend/model"
	"github.com/abyssmine/abyss-backend/repository"
)

// Sweeper is the single scheduled maintenance task: it expires stale claim
// signatures (freeing their nonce slots) and returns claimed/depleted nodes
// to the world once their respawn deadline passes. It runs decoupled from
// request handling and stops when its context is cancelled.
type Sweeper struct {
	db       *gorm.DB
	claims   *repository.ClaimRepository
	nodes    *repository.NodeRepository
	interval time.Duration
	log      *logrus.Logger
}

func NewSweeper(db *gorm.DB, claims *repository.ClaimRepository, nodes *repository.NodeRepository,
	interval time.Duration, log *logrus.Logger) *Sweeper {
	return &Sweeper{db: db, claims: claims, nodes: nodes, interval: interval, log: log}
}

func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.SweepOnce(ctx); err != nil {
				s.log.WithError(err).Warn("sweep pass failed")
			}
		}
	}
}

// SweepOnce runs one maintenance pass. Exported so tests and admin tooling
// can trigger it directly.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	now := time.Now()

	expired, err := s.claims.ExpireStale(ctx, now)
	if err != nil {
		return err
	}
	if expired > 0 {
		s.log.WithField("count", expired).Info("expired stale claim signatures")
	}

	purged, err := s.claims.PurgeExpiredVouchers(ctx, now)
	if err != nil {
		return err
	}
	if purged > 0 {
		s.log.WithField("count", purged).Info("purged expired vouchers")
	}

	nodes, err := s.nodes.RespawnDue(ctx, now, 200)
	if err != nil {
		return err
	}
	for _, node := range nodes {
		if err := s.respawn(ctx, node.ID); err != nil {
			s.log.WithError(err).WithField("node", node.ID).Warn("respawn failed")
		}
	}
	return nil
}

// respawn resets one node under the same lock discipline as the executor.
func (s *Sweeper) respawn(ctx context.Context, nodeID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var node model.ResourceNode
		if err := lockForUpdate(tx).Where("id = ?", nodeID).First(&node).Error; err != nil {
			return err
		}
		if node.RespawnAt == nil || node.RespawnAt.After(time.Now()) {
			return nil
		}
		if node.Status == model.NodeDepleted || node.Status == model.NodeRespawning {
			node.ResourceAmount = node.MaxAmount
		}
		node.Status = model.NodeAvailable
		node.ClaimedBy = nil
		node.RespawnAt = nil
		return tx.Save(&node).Error
	})
}
