package service

import (
	"fmt"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/abyssmine/abyss-backend/model"
	"github.com/abyssmine/abyss-backend/repository"
)

var testDBSeq atomic.Int64

// newTestDB opens an isolated in-memory sqlite database. A single pooled
// connection serializes writers, which is what makes the concurrency tests
// deterministic without postgres.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_test_%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, model.AutoMigrate(db))
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// fixedOutcome always returns the same roll; tests that exercise the
// executor need the randomness out of the way.
type fixedOutcome struct {
	outcome Outcome
}

func (f fixedOutcome) Generate(string, string, int) (Outcome, error) { return f.outcome, nil }

type miningStack struct {
	db       *gorm.DB
	nodes    *repository.NodeRepository
	attempts *repository.AttemptRepository
	players  *repository.PlayerRepository
	svc      *MiningService
}

func newMiningStack(t *testing.T, generator OutcomeSource) *miningStack {
	t.Helper()
	db := newTestDB(t)
	nodes := repository.NewNodeRepository(db)
	attempts := repository.NewAttemptRepository(db)
	players := repository.NewPlayerRepository(db)
	validator := NewValidator(nodes, attempts, players, 2*time.Second, 50)
	svc := NewMiningService(db, nodes, attempts, players, validator, generator,
		nil, nil, 30*time.Second, 5*time.Minute, testLogger())
	return &miningStack{db: db, nodes: nodes, attempts: attempts, players: players, svc: svc}
}

func seedNode(t *testing.T, db *gorm.DB, id string, amount int64) *model.ResourceNode {
	t.Helper()
	node := &model.ResourceNode{
		ID:             id,
		ResourceType:   "iron",
		ResourceAmount: amount,
		MaxAmount:      amount,
		RarityTier:     "common",
		Status:         model.NodeAvailable,
	}
	require.NoError(t, db.Create(node).Error)
	return node
}
