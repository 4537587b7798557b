package policy

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt.
// All strategies are stateless and safe for concurrent use.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	// Attempt 1 is the first retry after the initial failure.
	Delay(attempt int) time.Duration
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential grows the delay geometrically.
// Delay = min(Base * Multiplier^(attempt-1), Cap).
type Exponential struct {
	Base       time.Duration
	Multiplier float64
	Cap        time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(base time.Duration, multiplier float64, capDelay time.Duration) *Exponential {
	return &Exponential{Base: base, Multiplier: multiplier, Cap: capDelay}
}

// Delay returns Base * Multiplier^(attempt-1), capped at Cap.
func (e *Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(e.Base) * math.Pow(e.Multiplier, float64(attempt-1)))
	if e.Cap > 0 && d > e.Cap {
		return e.Cap
	}
	return d
}

// ──────────────────────────────────────────────────
// Jitter
// ──────────────────────────────────────────────────

// Jitter spreads a base strategy's delay by up to ±Fraction to avoid
// thundering-herd re-execution when many retries land together.
type Jitter struct {
	Base     Strategy
	Fraction float64
}

// NewJitter wraps a strategy with ±fraction equal jitter.
func NewJitter(base Strategy, fraction float64) *Jitter {
	return &Jitter{Base: base, Fraction: fraction}
}

// Delay returns a random duration in [d*(1-Fraction), d*(1+Fraction)]
// where d is the base strategy's delay.
func (j *Jitter) Delay(attempt int) time.Duration {
	d := float64(j.Base.Delay(attempt))
	spread := 1 - j.Fraction + 2*j.Fraction*rand.Float64() //nolint:gosec // jitter intentionally uses non-crypto rand
	return time.Duration(d * spread)
}
