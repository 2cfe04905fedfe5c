// Package retry computes exponential backoff durations for remedy and
// timer retries. Duration scaling is done in decimal arithmetic so
// repeated multiplication of millisecond counts never drifts the way
// float64 would over many retries.
package retry

import (
	"time"

	"github.com/shopspring/decimal"
)

// Policy configures exponential backoff with jitter.
type Policy struct {
	// Base is the first retry delay.
	Base time.Duration
	// Multiplier scales the delay after each attempt; 2.0 doubles it.
	Multiplier float64
	// Max caps the computed delay regardless of attempt count.
	Max time.Duration
	// Jitter is the fraction (0..1) of the computed delay randomised
	// above and below the midpoint, e.g. 0.2 for +/-20%.
	Jitter float64
}

// DefaultPolicy is a 1s base doubling up to 30s.
var DefaultPolicy = Policy{
	Base:       time.Second,
	Multiplier: 2.0,
	Max:        30 * time.Second,
	Jitter:     0.2,
}

// Delay returns the backoff duration for the given zero-based attempt
// number, before jitter is applied by the caller via Jittered.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := decimal.NewFromInt(int64(p.Base))
	mult := decimal.NewFromFloat(p.Multiplier)
	scaled := base
	for i := 0; i < attempt; i++ {
		scaled = scaled.Mul(mult)
	}
	max := decimal.NewFromInt(int64(p.Max))
	if p.Max > 0 && scaled.GreaterThan(max) {
		scaled = max
	}
	return time.Duration(scaled.IntPart())
}

// Jittered applies the policy's jitter fraction to d using r, a value in
// [0, 1) supplied by the caller (tests pass deterministic values; callers
// typically pass rand.Float64()).
func (p Policy) Jittered(d time.Duration, r float64) time.Duration {
	if p.Jitter <= 0 {
		return d
	}
	if r < 0 {
		r = 0
	}
	if r > 1 {
		r = 1
	}
	dd := decimal.NewFromInt(int64(d))
	jitterFrac := decimal.NewFromFloat(p.Jitter)
	// spans [1-jitter, 1+jitter), centred on r=0.5
	offset := decimal.NewFromFloat(r).Sub(decimal.NewFromFloat(0.5)).Mul(decimal.NewFromInt(2))
	factor := decimal.NewFromInt(1).Add(offset.Mul(jitterFrac))
	scaled := dd.Mul(factor)
	if scaled.Sign() < 0 {
		scaled = decimal.Zero
	}
	return time.Duration(scaled.IntPart())
}
