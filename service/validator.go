package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/abyssmine/abyss-backend/model"
	"github.com/abyssmine/abyss-backend/repository"
)

// Position is a claimed player location in world units.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// ValidationResult is the validator's verdict. When Valid is false, Reason
// carries the wire code; when a prior attempt exists for the idempotency
// key, Prior carries its recorded outcome.
type ValidationResult struct {
	Valid          bool
	Reason         string
	Node           *model.ResourceNode
	Player         *model.Player
	DistanceToNode float64
	Prior          *model.MiningAttempt
}

// Validator runs the stateless prerequisite gate for a mining attempt. It
// has no side effects; all mutation happens in the executor.
type Validator struct {
	nodes    *repository.NodeRepository
	attempts *repository.AttemptRepository
	players  *repository.PlayerRepository
	cooldown time.Duration
	maxRange float64
}

func NewValidator(nodes *repository.NodeRepository, attempts *repository.AttemptRepository,
	players *repository.PlayerRepository, cooldown time.Duration, maxRange float64) *Validator {
	return &Validator{
		nodes:    nodes,
		attempts: attempts,
		players:  players,
		cooldown: cooldown,
		maxRange: maxRange,
	}
}

// Validate runs the checks in short-circuit order: idempotency, cooldown,
// node availability, range.
func (v *Validator) Validate(ctx context.Context, wallet string, pos Position, nodeID, attemptID string) (*ValidationResult, error) {
	prior, err := v.attempts.FindByAttemptID(ctx, attemptID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errInternal(fmt.Errorf("lookup attempt: %w", err))
	}
	if prior != nil {
		return &ValidationResult{Valid: false, Reason: ReasonDuplicateAttempt, Prior: prior}, nil
	}

	player, err := v.players.FindOrCreate(ctx, wallet)
	if err != nil {
		return nil, errInternal(fmt.Errorf("lookup player: %w", err))
	}
	if player.LastAttemptAt != nil && time.Since(*player.LastAttemptAt) < v.cooldown {
		return &ValidationResult{Valid: false, Reason: ReasonCooldownActive, Player: player}, nil
	}

	node, err := v.nodes.FindByID(ctx, nodeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &ValidationResult{Valid: false, Reason: ReasonNodeNotFound, Player: player}, nil
		}
		return nil, errInternal(fmt.Errorf("lookup node: %w", err))
	}
	if node.Status != model.NodeAvailable {
		return &ValidationResult{Valid: false, Reason: ReasonNodeClaimed, Node: node, Player: player}, nil
	}

	dist := node.DistanceTo(pos.X, pos.Y, pos.Z)
	if dist > v.maxRange {
		return &ValidationResult{Valid: false, Reason: ReasonOutOfRange, Node: node, Player: player, DistanceToNode: dist}, nil
	}

	return &ValidationResult{Valid: true, Node: node, Player: player, DistanceToNode: dist}, nil
}
