package service

import (
	"encoding/json"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter keeps independent token buckets per wallet and per source IP.
// A breach short-circuits before the executor is ever touched.
type RateLimiter struct {
	mu      sync.Mutex
	wallets map[string]*rate.Limiter
	ips     map[string]*rate.Limiter

	walletPerMin int
	ipPerMin     int
}

func NewRateLimiter(walletPerMin, ipPerMin int) *RateLimiter {
	return &RateLimiter{
		wallets:      make(map[string]*rate.Limiter),
		ips:          make(map[string]*rate.Limiter),
		walletPerMin: walletPerMin,
		ipPerMin:     ipPerMin,
	}
}

func (l *RateLimiter) Allow(wallet, ip string) bool {
	l.mu.Lock()
	wl, ok := l.wallets[wallet]
	if !ok {
		wl = rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.walletPerMin)), l.walletPerMin)
		l.wallets[wallet] = wl
	}
	il, ok := l.ips[ip]
	if !ok {
		il = rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.ipPerMin)), l.ipPerMin)
		l.ips[ip] = il
	}
	l.mu.Unlock()

	// Both buckets must admit the attempt. Order matters: consume the wallet
	// token first so an IP breach does not silently drain wallet budget.
	if !wl.Allow() {
		return false
	}
	return il.Allow()
}

const (
	SuspicionHighFrequency = "high_frequency"
	SuspicionSuccessRate   = "implausible_success_rate"
	SuspicionTravelSpeed   = "implausible_travel_speed"
	suspicionWindow        = time.Minute
	suspicionMinSample     = 20
)

type fraudObservation struct {
	at      time.Time
	pos     Position
	success bool
}

// FraudDetector is an advisory, in-memory heuristic over recent attempts per
// wallet. It never blocks an attempt; its output is write-only annotation
// for out-of-band review.
type FraudDetector struct {
	mu     sync.Mutex
	window map[string][]fraudObservation

	maxAttemptsPerMin int
	dropCeiling       float64 // highest configured drop probability
	dropSlack         float64
	maxTravelUnits    float64
	maxTravelWindow   time.Duration

	now func() time.Time
}

func NewFraudDetector(maxAttemptsPerMin int, dropSlack, maxTravelUnits float64, maxTravelWindow time.Duration) *FraudDetector {
	ceiling := 0.0
	for _, cfg := range dropTable {
		if cfg.Probability > ceiling {
			ceiling = cfg.Probability
		}
	}
	return &FraudDetector{
		window:            make(map[string][]fraudObservation),
		maxAttemptsPerMin: maxAttemptsPerMin,
		dropCeiling:       ceiling,
		dropSlack:         dropSlack,
		maxTravelUnits:    maxTravelUnits,
		maxTravelWindow:   maxTravelWindow,
		now:               time.Now,
	}
}

// Observe records one resolved attempt and returns the distinct suspicion
// reasons it trips, if any.
func (d *FraudDetector) Observe(wallet string, pos Position, success bool) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	obs := append(d.window[wallet], fraudObservation{at: now, pos: pos, success: success})

	// drop everything older than the window
	cutoff := now.Add(-suspicionWindow)
	trimmed := obs[:0]
	for _, o := range obs {
		if o.at.After(cutoff) {
			trimmed = append(trimmed, o)
		}
	}
	d.window[wallet] = trimmed

	var reasons []string

	if len(trimmed) > d.maxAttemptsPerMin {
		reasons = append(reasons, SuspicionHighFrequency)
	}

	if len(trimmed) >= suspicionMinSample {
		successes := 0
		for _, o := range trimmed {
			if o.success {
				successes++
			}
		}
		if float64(successes)/float64(len(trimmed)) > d.dropCeiling+d.dropSlack {
			reasons = append(reasons, SuspicionSuccessRate)
		}
	}

	if n := len(trimmed); n >= 2 {
		prev := trimmed[n-2]
		elapsed := now.Sub(prev.at)
		if elapsed > 0 && elapsed <= d.maxTravelWindow {
			if distance(prev.pos, pos) > d.maxTravelUnits {
				reasons = append(reasons, SuspicionTravelSpeed)
			}
		}
	}

	return reasons
}

func distance(a, b Position) float64 {
	dx, dy, dz := a.X-b.X, a.Y-b.Y, a.Z-b.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

func encodeReasons(reasons []string) string {
	b, _ := json.Marshal(reasons)
	return string(b)
}
