// Package fraud implements the synchronous per-transaction fraud checks.
//
// Two independent checks run for every transaction: a velocity check over a
// trailing time window and an amount z-score against the customer's running
// distribution of completed amounts. The RiskScorer merges their results with
// the customer's cumulative risk into a verdict with a normalized score in
// [0, 1] and a risk tier.
package fraud

import (
	"fmt"

	"github.com/akylbek/payment-system/fraud-engine/internal/models"
)

// Defaults for the fraud checks.
const (
	DefaultVelocityWindowMinutes = 60
	DefaultVelocityThreshold     = 5
	DefaultZScoreThreshold       = 2.0
	DefaultMinHistory            = 3
	DefaultTriggerIncrement      = 0.5
	DefaultSaturatedIncrement    = 1.0
	DefaultTierMedium            = 0.4
	DefaultTierHigh              = 0.7

	// ZScoreSentinel stands in for an infinite z-score when the customer's
	// amounts have zero spread.
	ZScoreSentinel = 1000.0
)

const (
	ReasonVelocity         = "High transaction velocity"
	ReasonAmount           = "Unusual transaction amount"
	ReasonCumulativeRisk   = "High cumulative customer risk"
	noteHistoryUnavailable = "Velocity check inconclusive: transaction history unavailable"
	noteStatsUnavailable   = "Amount check inconclusive: customer statistics unavailable"
	noteColdStart          = "Insufficient transaction history"
)

// TierBands maps normalized scores onto tiers. Scores below Medium are low,
// scores below High are medium, everything else is high.
type TierBands struct {
	Medium float64
	High   float64
}

func (b TierBands) Tier(score float64) models.RiskTier {
	switch {
	case score >= b.High:
		return models.TierHigh
	case score >= b.Medium:
		return models.TierMedium
	default:
		return models.TierLow
	}
}

// Config carries every tunable of the fraud checks. It is passed explicitly
// at construction so scoring stays deterministic.
type Config struct {
	VelocityWindowMinutes int
	VelocityThreshold     int
	ZScoreThreshold       float64
	MinHistory            int
	TriggerIncrement      float64
	SaturatedIncrement    float64
	Tiers                 TierBands
}

func DefaultConfig() Config {
	return Config{
		VelocityWindowMinutes: DefaultVelocityWindowMinutes,
		VelocityThreshold:     DefaultVelocityThreshold,
		ZScoreThreshold:       DefaultZScoreThreshold,
		MinHistory:            DefaultMinHistory,
		TriggerIncrement:      DefaultTriggerIncrement,
		SaturatedIncrement:    DefaultSaturatedIncrement,
		Tiers:                 TierBands{Medium: DefaultTierMedium, High: DefaultTierHigh},
	}
}

func (c Config) Validate() error {
	if c.VelocityWindowMinutes <= 0 {
		return fmt.Errorf("velocity window must be positive, got %d", c.VelocityWindowMinutes)
	}
	if c.VelocityThreshold < 0 {
		return fmt.Errorf("velocity threshold must not be negative, got %d", c.VelocityThreshold)
	}
	if c.ZScoreThreshold <= 0 {
		return fmt.Errorf("z-score threshold must be positive, got %v", c.ZScoreThreshold)
	}
	if c.MinHistory < 2 {
		// a sample standard deviation needs at least two points
		return fmt.Errorf("minimum history must be at least 2, got %d", c.MinHistory)
	}
	if c.TriggerIncrement <= 0 || c.SaturatedIncrement < c.TriggerIncrement {
		return fmt.Errorf("invalid increments: trigger %v, saturated %v", c.TriggerIncrement, c.SaturatedIncrement)
	}
	if c.Tiers.Medium <= 0 || c.Tiers.High <= c.Tiers.Medium || c.Tiers.High > 1 {
		return fmt.Errorf("invalid tier bands: medium %v, high %v", c.Tiers.Medium, c.Tiers.High)
	}
	return nil
}
