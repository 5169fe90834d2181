package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/abyssmine/abyss-backend/config"
	"github.com/abyssmine/abyss-backend/handler"
	"github.com/abyssmine/abyss-backend/keystore"
	"github.com/abyssmine/abyss-backend/model"
	"github.com/abyssmine/abyss-backend/repository"
	"github.com/abyssmine/abyss-backend/router"
	"github.com/abyssmine/abyss-backend/service"
	"github.com/abyssmine/abyss-backend/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}

	log := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	db := initDB(cfg, log)

	nodeRepo := repository.NewNodeRepository(db)
	attemptRepo := repository.NewAttemptRepository(db)
	playerRepo := repository.NewPlayerRepository(db)
	claimRepo := repository.NewClaimRepository(db)

	authority, err := keystore.Load(cfg.AuthorityPrivateKey, cfg.AuthorityMnemonic)
	if err != nil {
		log.Fatalf("load authority key: %v", err)
	}
	log.WithField("address", authority.Address.Hex()).Info("authority key loaded")

	var oracle service.NonceOracle
	if cfg.ChainRPCURL != "" {
		oracle, err = service.NewChainNonceOracle(cfg.ChainRPCURL, common.HexToAddress(cfg.ClaimContract))
		if err != nil {
			log.Fatalf("chain nonce oracle: %v", err)
		}
	} else {
		log.Warn("no CHAIN_RPC_URL configured, using ledger nonce oracle")
		oracle = service.NewLedgerNonceOracle(db, claimRepo)
	}

	validator := service.NewValidator(nodeRepo, attemptRepo, playerRepo, cfg.MiningCooldown, cfg.MaxMiningRange)
	generator := service.NewOutcomeGenerator()
	limiter := service.NewRateLimiter(cfg.WalletRatePerMin, cfg.IPRatePerMin)
	detector := service.NewFraudDetector(cfg.SuspectAttempts, cfg.SuspectDropSlack, cfg.MaxTravelUnits, cfg.MaxTravelWindow)
	miningSvc := service.NewMiningService(db, nodeRepo, attemptRepo, playerRepo,
		validator, generator, limiter, detector, cfg.NodeClaimHold, cfg.NodeRespawnTime, log)

	claimSvc := service.NewClaimService(db, claimRepo, playerRepo, oracle, authority.Key,
		cfg.ChainID, common.HexToAddress(cfg.ClaimContract), cfg.ClaimTTL, log)
	redeemSvc := service.NewRedeemService(db, claimRepo, playerRepo, log)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	sweeper := service.NewSweeper(db, claimRepo, nodeRepo, cfg.SweepInterval, log)
	go sweeper.Run(sweepCtx)

	claimHandler := handler.NewClaimHandler(claimSvc, redeemSvc, playerRepo, log)
	nodeHandler := handler.NewNodeHandler(nodeRepo, log)
	wsServer := ws.NewServer(miningSvc, cfg.MaxTravelUnits, cfg.MaxTravelWindow, log)

	r := router.SetupRouter(claimHandler, nodeHandler, wsServer)

	server := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.ServerAddr).Info("abyssmine backend listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	stopSweep()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	log.Info("server exited")
}

func initDB(cfg *config.Config, log *logrus.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	return db
}
