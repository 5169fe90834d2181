package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/abyssmine/abyss-backend/model"
	"github.com/abyssmine/abyss-backend/repository"
)

// MineRequest is one mining action as received from the session layer.
type MineRequest struct {
	Wallet    string
	NodeID    string
	AttemptID string
	SourceIP  string
	UserAgent string
	Position  Position
}

// MineResult is reported back to the requester. NodeUnavailable signals the
// session layer to broadcast the node claim to other participants.
type MineResult struct {
	Success         bool
	ResourceType    string
	Amount          int64
	Reason          string
	NodeUnavailable bool
}

// MiningService wires the validator, the outcome generator and the atomic
// executor behind the rate limiter. All node/player/attempt mutation in the
// system flows through here.
type MiningService struct {
	db        *gorm.DB
	nodes     *repository.NodeRepository
	attempts  *repository.AttemptRepository
	players   *repository.PlayerRepository
	validator *Validator
	generator OutcomeSource
	limiter   *RateLimiter
	detector  *FraudDetector
	nodeLocks *keyedLocks

	claimHold   time.Duration
	respawnTime time.Duration

	log *logrus.Logger
}

func NewMiningService(db *gorm.DB, nodes *repository.NodeRepository, attempts *repository.AttemptRepository,
	players *repository.PlayerRepository, validator *Validator, generator OutcomeSource,
	limiter *RateLimiter, detector *FraudDetector, claimHold, respawnTime time.Duration,
	log *logrus.Logger) *MiningService {
	return &MiningService{
		db:          db,
		nodes:       nodes,
		attempts:    attempts,
		players:     players,
		validator:   validator,
		generator:   generator,
		limiter:     limiter,
		detector:    detector,
		nodeLocks:   newKeyedLocks(),
		claimHold:   claimHold,
		respawnTime: respawnTime,
		log:         log,
	}
}

// Mine resolves one attempt end to end: rate limit, prerequisite gate,
// outcome roll, atomic commit, fraud annotation.
func (s *MiningService) Mine(ctx context.Context, req MineRequest) (*MineResult, error) {
	if s.limiter != nil && !s.limiter.Allow(req.Wallet, req.SourceIP) {
		return &MineResult{Success: false, Reason: ReasonRateLimited}, nil
	}

	validation, err := s.validator.Validate(ctx, req.Wallet, req.Position, req.NodeID, req.AttemptID)
	if err != nil {
		return nil, err
	}

	if validation.Prior != nil {
		// Idempotent replay: echo the recorded outcome, no new row.
		prior := validation.Prior
		res := &MineResult{Success: prior.Success, Reason: prior.FailureReason}
		if prior.Success {
			res.ResourceType = prior.ResourceType
			res.Amount = prior.Amount
		}
		return res, nil
	}

	if !validation.Valid {
		if err := s.recordFailure(ctx, req, validation.Reason); err != nil {
			return nil, err
		}
		s.observe(ctx, req, false)
		return &MineResult{Success: false, Reason: validation.Reason}, nil
	}

	outcome, err := s.generator.Generate(validation.Node.ResourceType, validation.Node.RarityTier, validation.Player.SubmarineTier)
	if err != nil {
		return nil, errInternal(fmt.Errorf("outcome roll: %w", err))
	}

	if !outcome.Success {
		if err := s.recordFailure(ctx, req, ReasonNoYield); err != nil {
			return nil, err
		}
		s.observe(ctx, req, false)
		return &MineResult{Success: false, Reason: ReasonNoYield}, nil
	}

	result, err := s.commitWin(ctx, req, validation.Node, outcome)
	if err != nil {
		return nil, err
	}
	s.observe(ctx, req, result.Success)
	return result, nil
}

// commitWin is the atomic executor. The in-process try-lock makes the node a
// fail-fast critical section; on postgres the row is additionally locked
// with FOR UPDATE NOWAIT and re-checked before any mutation.
func (s *MiningService) commitWin(ctx context.Context, req MineRequest, node *model.ResourceNode, outcome Outcome) (*MineResult, error) {
	release, ok := s.nodeLocks.TryAcquire(node.ID)
	if !ok {
		if err := s.recordFailure(ctx, req, ReasonNodeClaimed); err != nil {
			return nil, err
		}
		return &MineResult{Success: false, Reason: ReasonNodeClaimed}, nil
	}
	defer release()

	var result MineResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Node row first, player row second. Any transaction touching both
		// must keep this order.
		var fresh model.ResourceNode
		if err := lockForUpdate(tx).Where("id = ?", node.ID).First(&fresh).Error; err != nil {
			if isLockNotAvailable(err) {
				// NOWAIT refused the row lock: another writer holds it.
				return errContention(ReasonNodeClaimed, ErrNodeContended)
			}
			return fmt.Errorf("relock node: %w", err)
		}
		if fresh.Status != model.NodeAvailable {
			return errContention(ReasonNodeClaimed, ErrNodeContended)
		}

		yield := outcome.Amount
		if yield > fresh.ResourceAmount {
			yield = fresh.ResourceAmount
		}
		now := time.Now()
		wallet := req.Wallet

		fresh.ResourceAmount -= yield
		fresh.ClaimedBy = &wallet
		if fresh.ResourceAmount <= 0 {
			fresh.Status = model.NodeDepleted
			t := now.Add(s.respawnTime)
			fresh.RespawnAt = &t
		} else {
			fresh.Status = model.NodeClaimed
			t := now.Add(s.claimHold)
			fresh.RespawnAt = &t
		}
		if err := tx.Save(&fresh).Error; err != nil {
			return fmt.Errorf("save node: %w", err)
		}

		var player model.Player
		if err := lockForUpdate(tx).Where("wallet = ?", wallet).First(&player).Error; err != nil {
			return fmt.Errorf("relock player: %w", err)
		}
		player.LastAttemptAt = &now
		if err := tx.Save(&player).Error; err != nil {
			return fmt.Errorf("save player: %w", err)
		}

		if err := creditResource(tx, wallet, fresh.ResourceType, yield); err != nil {
			return err
		}

		attempt := model.MiningAttempt{
			AttemptID:    req.AttemptID,
			Wallet:       wallet,
			SourceIP:     req.SourceIP,
			UserAgent:    req.UserAgent,
			NodeID:       fresh.ID,
			PosX:         req.Position.X,
			PosY:         req.Position.Y,
			PosZ:         req.Position.Z,
			Success:      true,
			ResourceType: fresh.ResourceType,
			Amount:       yield,
		}
		if err := tx.Create(&attempt).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errValidation(ReasonDuplicateAttempt, errors.New("attempt id already recorded"))
			}
			return fmt.Errorf("insert attempt: %w", err)
		}

		result = MineResult{
			Success:         true,
			ResourceType:    fresh.ResourceType,
			Amount:          yield,
			NodeUnavailable: true,
		}
		return nil
	})
	if err != nil {
		var appErr *Error
		if errors.As(err, &appErr) && appErr.Kind == KindContention {
			// another transaction won first
			if rerr := s.recordFailure(ctx, req, ReasonNodeClaimed); rerr != nil {
				return nil, rerr
			}
			return &MineResult{Success: false, Reason: ReasonNodeClaimed}, nil
		}
		if errors.As(err, &appErr) && appErr.Code == ReasonDuplicateAttempt {
			return &MineResult{Success: false, Reason: ReasonDuplicateAttempt}, nil
		}
		s.log.WithError(err).WithFields(logrus.Fields{
			"wallet": req.Wallet,
			"node":   req.NodeID,
		}).Error("mining transaction failed")
		return nil, errInternal(err)
	}

	s.log.WithFields(logrus.Fields{
		"wallet":   req.Wallet,
		"node":     req.NodeID,
		"resource": result.ResourceType,
		"amount":   result.Amount,
	}).Info("mining succeeded")
	return &result, nil
}

// recordFailure writes the failed audit row and stamps the cooldown clock in
// one transaction. Duplicate attempt ids are swallowed: the first writer's
// row stands.
func (s *MiningService) recordFailure(ctx context.Context, req MineRequest, reason string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		attempt := model.MiningAttempt{
			AttemptID:     req.AttemptID,
			Wallet:        req.Wallet,
			SourceIP:      req.SourceIP,
			UserAgent:     req.UserAgent,
			NodeID:        req.NodeID,
			PosX:          req.Position.X,
			PosY:          req.Position.Y,
			PosZ:          req.Position.Z,
			Success:       false,
			FailureReason: reason,
		}
		if err := tx.Create(&attempt).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return nil
			}
			return err
		}
		return tx.Model(&model.Player{}).Where("wallet = ?", req.Wallet).
			Update("last_attempt_at", now).Error
	})
	if err != nil {
		return errInternal(fmt.Errorf("record failed attempt: %w", err))
	}
	return nil
}

// observe feeds the fraud detector and persists any annotations. Advisory:
// the attempt is already resolved when this runs, and the client never
// learns about it.
func (s *MiningService) observe(ctx context.Context, req MineRequest, success bool) {
	if s.detector == nil {
		return
	}
	reasons := s.detector.Observe(req.Wallet, req.Position, success)
	if len(reasons) == 0 {
		return
	}
	reasonsJSON := encodeReasons(reasons)
	if err := s.attempts.Annotate(ctx, req.AttemptID, reasonsJSON); err != nil {
		s.log.WithError(err).Warn("annotate attempt failed")
	}
	if len(reasons) >= 2 {
		flag := model.ReviewFlag{AttemptID: req.AttemptID, Wallet: req.Wallet, Reasons: reasonsJSON}
		if err := s.attempts.CreateReviewFlag(ctx, &flag); err != nil {
			s.log.WithError(err).Warn("review escalation failed")
		}
	}
}

func creditResource(tx *gorm.DB, wallet, resource string, amount int64) error {
	var pr model.PlayerResource
	err := tx.Where("wallet = ? AND resource = ?", wallet, resource).First(&pr).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		pr = model.PlayerResource{Wallet: wallet, Resource: resource, Amount: amount}
		return tx.Create(&pr).Error
	}
	if err != nil {
		return fmt.Errorf("lookup resource balance: %w", err)
	}
	pr.Amount += amount
	return tx.Save(&pr).Error
}

// lockForUpdate applies a non-waiting row lock where the dialect supports
// it. sqlite serializes writers at the database level, so the in-process
// node lock carries the fail-fast semantics there.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "NOWAIT"})
	}
	return tx
}

// isLockNotAvailable reports whether err is postgres refusing a NOWAIT row
// lock (SQLSTATE 55P03).
func isLockNotAvailable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "55P03"
}
