package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseDSN string

	ServerAddr string

	ChainRPCURL   string
	ChainID       int64
	ClaimContract string

	AuthorityPrivateKey string
	AuthorityMnemonic   string

	MiningCooldown  time.Duration
	MaxMiningRange  float64
	NodeClaimHold   time.Duration
	NodeRespawnTime time.Duration

	WalletRatePerMin int
	IPRatePerMin     int

	ClaimTTL      time.Duration
	SweepInterval time.Duration

	MaxTravelUnits   float64
	MaxTravelWindow  time.Duration
	SuspectAttempts  int
	SuspectDropSlack float64

	LogLevel string
}

func Load() (*Config, error) {
	godotenv.Load("config.env")

	cfg := &Config{
		DatabaseDSN: getEnvString("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=abyssmine port=5432 sslmode=disable"),

		ServerAddr: getEnvString("SERVER_ADDR", ":8080"),

		ChainRPCURL:   getEnvString("CHAIN_RPC_URL", ""),
		ChainID:       int64(getEnvInt("CHAIN_ID", 8453)),
		ClaimContract: getEnvString("CLAIM_CONTRACT", "0x0000000000000000000000000000000000000000"),

		AuthorityPrivateKey: getEnvString("AUTHORITY_PRIVATE_KEY", ""),
		AuthorityMnemonic:   getEnvString("AUTHORITY_MNEMONIC", ""),

		MiningCooldown:  getEnvDuration("MINING_COOLDOWN_MS", 2000) * time.Millisecond,
		MaxMiningRange:  getEnvFloat("MAX_MINING_RANGE", 50),
		NodeClaimHold:   getEnvDuration("NODE_CLAIM_HOLD_SECONDS", 30) * time.Second,
		NodeRespawnTime: getEnvDuration("NODE_RESPAWN_SECONDS", 300) * time.Second,

		WalletRatePerMin: getEnvInt("RATE_LIMIT_WALLET_PER_MIN", 30),
		IPRatePerMin:     getEnvInt("RATE_LIMIT_IP_PER_MIN", 60),

		ClaimTTL:      getEnvDuration("CLAIM_TTL_MINUTES", 60) * time.Minute,
		SweepInterval: getEnvDuration("SWEEP_INTERVAL_SECONDS", 30) * time.Second,

		MaxTravelUnits:   getEnvFloat("MAX_TRAVEL_UNITS", 500),
		MaxTravelWindow:  getEnvDuration("MAX_TRAVEL_WINDOW_SECONDS", 10) * time.Second,
		SuspectAttempts:  getEnvInt("SUSPECT_ATTEMPTS_PER_MIN", 10),
		SuspectDropSlack: getEnvFloat("SUSPECT_DROP_SLACK", 0.15),

		LogLevel: getEnvString("LOG_LEVEL", "info"),
	}

	return cfg, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvInt(key, defaultValue))
}
