package models

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// CustomerRiskProfile is the running statistical summary of a customer's
// completed transaction amounts plus the cumulative risk score.
//
// Mean and M2 follow Welford's online algorithm; M2 is the sum of squared
// deviations from the running mean.
type CustomerRiskProfile struct {
	CustomerID       string          `json:"customer_id"`
	Email            string          `json:"email,omitempty"`
	TransactionCount int64           `json:"transaction_count"`
	AmountMean       float64         `json:"amount_mean"`
	AmountM2         float64         `json:"-"`
	TotalSpent       decimal.Decimal `json:"total_spent"`
	RiskScore        float64         `json:"risk_score"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Observe folds a completed transaction amount into the running statistics.
func (p *CustomerRiskProfile) Observe(amount decimal.Decimal) {
	x := amount.InexactFloat64()
	p.TransactionCount++
	delta := x - p.AmountMean
	p.AmountMean += delta / float64(p.TransactionCount)
	p.AmountM2 += delta * (x - p.AmountMean)
	if p.AmountM2 < 0 {
		p.AmountM2 = 0
	}
	p.TotalSpent = p.TotalSpent.Add(amount)
}

// Variance is the sample variance of completed amounts, 0 below two samples.
func (p *CustomerRiskProfile) Variance() float64 {
	if p.TransactionCount < 2 {
		return 0
	}
	return p.AmountM2 / float64(p.TransactionCount-1)
}

func (p *CustomerRiskProfile) StdDev() float64 {
	return math.Sqrt(p.Variance())
}

// AddRisk accumulates a transaction's risk contribution. Negative deltas are
// ignored; only an explicit recalculation may lower the score.
func (p *CustomerRiskProfile) AddRisk(delta float64) {
	if delta > 0 {
		p.RiskScore += delta
	}
}

// Reset clears statistics and risk ahead of a recalculation.
func (p *CustomerRiskProfile) Reset() {
	p.TransactionCount = 0
	p.AmountMean = 0
	p.AmountM2 = 0
	p.TotalSpent = decimal.Zero
	p.RiskScore = 0
}

// CustomerRiskView is the API shape of a profile.
type CustomerRiskView struct {
	CustomerRiskProfile
	AmountStdDev float64  `json:"amount_std_dev"`
	RiskTier     RiskTier `json:"risk_tier"`
}
