package models

import "math"

// Percentage is a share of a quota window in [0, 100]. Keeping it as a
// distinct type prevents mixing percentages with absolute counts when
// normalizing heterogeneous payloads.
type Percentage float64

// Clamp returns the percentage clamped to [0, 100].
func (p Percentage) Clamp() Percentage {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Round returns the percentage rounded to the nearest integer.
func (p Percentage) Round() Percentage {
	return Percentage(math.Round(float64(p.Clamp())))
}

// Absolute converts the percentage into an absolute count against a
// known ceiling.
func (p Percentage) Absolute(ceiling uint64) uint64 {
	return uint64(math.Round(float64(p.Clamp()) / 100 * float64(ceiling)))
}

// PercentageOf returns used/limit as a clamped percentage. A zero limit
// yields zero.
func PercentageOf(used, limit uint64) Percentage {
	if limit == 0 {
		return 0
	}
	return Percentage(float64(used) / float64(limit) * 100).Clamp()
}

// TokenCount is an absolute number of tokens, distinct from request
// counts and from plain integers.
type TokenCount uint64

// Add returns the sum of two token counts.
func (t TokenCount) Add(other TokenCount) TokenCount {
	return t + other
}

// CostUSD is a currency estimate in US dollars.
type CostUSD float64

// Round returns the cost rounded to 2 decimal places.
func (c CostUSD) Round() CostUSD {
	return CostUSD(math.Round(float64(c)*100) / 100)
}
