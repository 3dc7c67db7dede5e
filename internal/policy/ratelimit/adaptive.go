package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Defaults applied by NewAdaptive for zero-valued fields.
const (
	DefaultBaseDelay        = 500 * time.Millisecond
	DefaultMaxDelay         = 60 * time.Second
	DefaultMultiplier       = 2.0
	DefaultBreakerThreshold = 5
	DefaultRelaxFactor      = 0.9
)

// AdaptiveConfig tunes the adaptive controller.
type AdaptiveConfig struct {
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	Multiplier       float64
	BreakerThreshold int
	RelaxFactor      float64
}

// Adaptive tracks the politeness delay for a single crawl session. Repeated
// 429 responses grow the delay geometrically up to MaxDelay and eventually
// open a circuit breaker; successes relax it back toward BaseDelay.
//
// An Adaptive is owned by one session and is never shared across stores.
type Adaptive struct {
	mu             sync.Mutex
	cfg            AdaptiveConfig
	current        time.Duration
	consecutive429 int
	open           bool
}

// NewAdaptive builds a controller in its reset state.
func NewAdaptive(cfg AdaptiveConfig) *Adaptive {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = DefaultMultiplier
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = DefaultBreakerThreshold
	}
	if cfg.RelaxFactor <= 0 || cfg.RelaxFactor >= 1 {
		cfg.RelaxFactor = DefaultRelaxFactor
	}
	return &Adaptive{cfg: cfg, current: cfg.BaseDelay}
}

// Delay returns the current inter-request delay.
func (a *Adaptive) Delay() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// Open reports whether the breaker has tripped.
func (a *Adaptive) Open() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.open
}

// Consecutive429 returns the current run of 429 responses.
func (a *Adaptive) Consecutive429() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.consecutive429
}

// Reset restores the base delay and closes the breaker.
func (a *Adaptive) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = a.cfg.BaseDelay
	a.consecutive429 = 0
	a.open = false
}

// ReportThrottled records a 429. retryAfter is the server hint, zero when
// absent. It returns how long to wait before the next attempt and whether
// this response tripped the breaker.
func (a *Adaptive) ReportThrottled(retryAfter time.Duration) (time.Duration, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.consecutive429++

	var wait time.Duration
	if retryAfter > 0 {
		wait = min(retryAfter, a.cfg.MaxDelay)
	} else {
		factor := math.Pow(a.cfg.Multiplier, float64(a.consecutive429))
		grown := float64(a.current) * factor
		if math.IsInf(grown, 0) || grown > float64(a.cfg.MaxDelay) {
			wait = a.cfg.MaxDelay
		} else {
			wait = time.Duration(grown)
		}
	}
	a.current = wait
	if a.consecutive429 >= a.cfg.BreakerThreshold {
		a.open = true
	}
	return wait, a.open
}

// ReportSuccess records a 2xx response.
func (a *Adaptive) ReportSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.consecutive429 = 0
	a.open = false
	if a.current > a.cfg.BaseDelay {
		relaxed := time.Duration(float64(a.current) * a.cfg.RelaxFactor)
		a.current = max(a.cfg.BaseDelay, relaxed)
	}
}

// ReportNotFound records a 404, which ends any 429 streak.
func (a *Adaptive) ReportNotFound() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.consecutive429 = 0
}
