// Package exchange supplies the USD→INR rate frozen on an invoice at save time.
package exchange

import (
	"context"
	"errors"
	"math/rand/v2"

	"github.com/shopspring/decimal"
)

// DefaultRate is used when no rate has been configured.
var DefaultRate = decimal.NewFromInt(82)

// ErrNonPositiveRate is returned by a source configured with a rate ≤ 0.
var ErrNonPositiveRate = errors.New("exchange rate must be positive")

// RateSource returns a positive USD→INR rate.
type RateSource interface {
	Rate(ctx context.Context) (decimal.Decimal, error)
}

// Fixed always returns the same rate.
type Fixed struct {
	value decimal.Decimal
}

// NewFixed creates a Fixed source. A zero value falls back to DefaultRate.
func NewFixed(value decimal.Decimal) *Fixed {
	if value.IsZero() {
		value = DefaultRate
	}
	return &Fixed{value: value}
}

// Rate returns the configured rate.
func (f *Fixed) Rate(ctx context.Context) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	if !f.value.IsPositive() {
		return decimal.Zero, ErrNonPositiveRate
	}
	return f.value, nil
}

// Simulated returns Base plus a uniform jitter in [-Spread, +Spread],
// rounded to two decimal places. It stands in for a live rate feed.
type Simulated struct {
	base   decimal.Decimal
	spread decimal.Decimal
	float  func() float64
}

// NewSimulated creates a source around 82 ± 2.
func NewSimulated() *Simulated {
	return NewSimulatedWithDeps(DefaultRate, decimal.NewFromInt(2), rand.Float64)
}

// NewSimulatedWithDeps creates a Simulated source with a custom random source for testing.
func NewSimulatedWithDeps(base, spread decimal.Decimal, float func() float64) *Simulated {
	return &Simulated{
		base:   base,
		spread: spread,
		float:  float,
	}
}

// Rate returns a jittered rate.
func (s *Simulated) Rate(ctx context.Context) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	// float() is in [0, 1); map it to [-1, 1)
	jitter := decimal.NewFromFloat(s.float()*2 - 1).Mul(s.spread)
	rate := s.base.Add(jitter).Round(2)
	if !rate.IsPositive() {
		return decimal.Zero, ErrNonPositiveRate
	}
	return rate, nil
}
