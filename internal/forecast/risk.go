// Package forecast turns a trained model bundle into price forecasts. It owns
// the bundle format, the hot-swappable bundle store, the deterministic risk
// penalty applied on top of the learned growth, and the request-level service
// that combines snapshot statistics with live hazard readings.
package forecast

import "math"

// Annual growth drag at the top of each 0-10 hazard scale.
const (
	MaxFloodPenalty = 0.015
	MaxCrimePenalty = 0.010
)

// RiskPenalty is the growth deducted for a horizon of h years. The annual
// drag scales linearly with each hazard and with h; it is not compounded.
// Negative inputs count as zero.
func RiskPenalty(flood, crime float64, h int) float64 {
	flood = math.Max(flood, 0)
	crime = math.Max(crime, 0)
	annual := flood/10*MaxFloodPenalty + crime/10*MaxCrimePenalty
	return annual * float64(max(h, 0))
}

// round2 rounds to two decimal places.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
