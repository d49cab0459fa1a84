package fraud

import (
	"math"

	"github.com/akylbek/payment-system/fraud-engine/internal/models"
)

// RiskScorer merges check results into a verdict.
type RiskScorer struct {
	increment float64
	saturated float64
	tiers     TierBands
}

func NewRiskScorer(cfg Config) *RiskScorer {
	return &RiskScorer{
		increment: cfg.TriggerIncrement,
		saturated: cfg.SaturatedIncrement,
		tiers:     cfg.Tiers,
	}
}

// TriggerScore is the raw score contributed by the triggered checks.
func (s *RiskScorer) TriggerScore(velocity models.VelocityCheckResult, amount models.AmountCheckResult) float64 {
	var raw float64
	if velocity.Triggered {
		raw += s.increment
	}
	if amount.Triggered {
		if amount.Saturated {
			raw += s.saturated
		} else {
			raw += s.increment
		}
	}
	return raw
}

// Score builds the verdict for one transaction. priorRiskScore is the
// customer's raw cumulative score before this transaction.
func (s *RiskScorer) Score(velocity models.VelocityCheckResult, amount models.AmountCheckResult, priorRiskScore float64) *models.FraudVerdict {
	if priorRiskScore < 0 || math.IsNaN(priorRiskScore) {
		priorRiskScore = 0
	}
	raw := s.TriggerScore(velocity, amount)
	score := Normalize(priorRiskScore + raw)
	tier := s.tiers.Tier(score)

	reasons := make([]string, 0, 3)
	if velocity.Triggered {
		reasons = append(reasons, ReasonVelocity)
	}
	if amount.Triggered {
		reasons = append(reasons, ReasonAmount)
	}
	triggered := len(reasons) > 0
	if !triggered && tier == models.TierHigh {
		reasons = append(reasons, ReasonCumulativeRisk)
	}
	if velocity.Inconclusive && velocity.Note == noteHistoryUnavailable {
		reasons = append(reasons, velocity.Note)
	}
	if amount.Inconclusive && amount.Note == noteStatsUnavailable {
		reasons = append(reasons, amount.Note)
	}

	return &models.FraudVerdict{
		IsSuspicious: triggered || tier == models.TierHigh,
		Reasons:      reasons,
		RiskScore:    score,
		RiskTier:     tier,
		Details: models.VerdictDetail{
			VelocityCheck: velocity,
			AmountCheck:   amount,
		},
	}
}

// Tier maps a raw cumulative score to its tier.
func (s *RiskScorer) Tier(rawScore float64) models.RiskTier {
	return s.tiers.Tier(Normalize(rawScore))
}

// Normalize saturates a raw score into [0, 1] with 3 decimal places.
func Normalize(raw float64) float64 {
	if raw <= 0 || math.IsNaN(raw) {
		return 0
	}
	if raw > 1 {
		raw = 1
	}
	return math.Round(raw*1000) / 1000
}

// NextProfileScore is the customer's raw cumulative score after a
// transaction contributing raw. The result never drops below prior.
func NextProfileScore(prior, raw float64) float64 {
	if prior < 0 || math.IsNaN(prior) {
		prior = 0
	}
	if raw <= 0 || math.IsNaN(raw) {
		return prior
	}
	return prior + raw
}
