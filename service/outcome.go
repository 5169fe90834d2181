package service

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
)

// DropConfig holds the server-side drop table for one resource type. Amounts
// are drawn uniformly from [MinAmount, MaxAmount] before tier scaling.
type DropConfig struct {
	Probability float64
	MinAmount   int64
	MaxAmount   int64
}

// Drop tables are authoritative server configuration; nothing here is
// negotiable by the client.
var dropTable = map[string]DropConfig{
	"iron":    {Probability: 0.80, MinAmount: 5, MaxAmount: 15},
	"copper":  {Probability: 0.60, MinAmount: 4, MaxAmount: 12},
	"silver":  {Probability: 0.40, MinAmount: 3, MaxAmount: 8},
	"gold":    {Probability: 0.25, MinAmount: 2, MaxAmount: 6},
	"crystal": {Probability: 0.10, MinAmount: 1, MaxAmount: 3},
}

// Submarine tier multipliers, tier 1 through 14. Monotonically increasing;
// anything out of range clamps to 1.0x.
var tierMultipliers = [14]float64{
	1.0, 1.2, 1.4, 1.6, 1.8, 2.0, 2.2,
	2.4, 2.6, 2.8, 3.0, 3.2, 3.4, 3.6,
}

func TierMultiplier(tier int) float64 {
	if tier < 1 || tier > len(tierMultipliers) {
		return 1.0
	}
	return tierMultipliers[tier-1]
}

// Node rarity scales yield, not odds: a rich vein pays more per successful
// strike but is no easier to hit.
var rarityBonus = map[string]float64{
	"common":    1.0,
	"uncommon":  1.25,
	"rare":      1.5,
	"epic":      2.0,
	"legendary": 3.0,
}

func RarityBonus(rarity string) float64 {
	if b, ok := rarityBonus[rarity]; ok {
		return b
	}
	return 1.0
}

func DropConfigFor(resource string) (DropConfig, bool) {
	cfg, ok := dropTable[resource]
	return cfg, ok
}

// Outcome is the generator's decision for one attempt.
type Outcome struct {
	Success bool
	Amount  int64
}

// OutcomeSource decides success and yield for an attempt. Implementations
// must not accept any client-supplied input; resource type and rarity come
// from the node row, tier from the player row.
type OutcomeSource interface {
	Generate(resourceType, rarity string, tier int) (Outcome, error)
}

// OutcomeGenerator decides success and yield from a cryptographically secure
// randomness source. Its inputs are server state only: no client-supplied
// value can influence the roll.
type OutcomeGenerator struct{}

func NewOutcomeGenerator() *OutcomeGenerator {
	return &OutcomeGenerator{}
}

// Generate rolls the drop for a resource type and node rarity at a
// submarine tier.
func (g *OutcomeGenerator) Generate(resourceType, rarity string, tier int) (Outcome, error) {
	cfg, ok := dropTable[resourceType]
	if !ok {
		return Outcome{}, fmt.Errorf("unknown resource type %q", resourceType)
	}

	roll, err := secureFloat()
	if err != nil {
		return Outcome{}, err
	}
	if roll >= cfg.Probability {
		return Outcome{Success: false}, nil
	}

	amount, err := secureRange(cfg.MinAmount, cfg.MaxAmount)
	if err != nil {
		return Outcome{}, err
	}
	scaled := int64(math.Floor(float64(amount) * TierMultiplier(tier) * RarityBonus(rarity)))
	if scaled < 1 {
		scaled = 1
	}
	return Outcome{Success: true, Amount: scaled}, nil
}

// secureFloat draws a uniform float in [0, 1) from crypto/rand.
func secureFloat() (float64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("rng read: %w", err)
	}
	// 53 bits of mantissa
	u := binary.BigEndian.Uint64(buf[:]) >> 11
	return float64(u) / (1 << 53), nil
}

// secureRange draws a uniform int64 in [min, max] inclusive.
func secureRange(min, max int64) (int64, error) {
	if max <= min {
		return min, nil
	}
	n, err := rand.Int(rand.Reader, big.NewInt(max-min+1))
	if err != nil {
		return 0, fmt.Errorf("rng int: %w", err)
	}
	return min + n.Int64(), nil
}
