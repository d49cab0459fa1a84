package fraud

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/akylbek/payment-system/fraud-engine/internal/models"
)

// AmountAnomalyDetector compares a new amount with the customer's running
// distribution of completed amounts.
type AmountAnomalyDetector struct {
	threshold  float64
	minHistory int
}

func NewAmountAnomalyDetector(cfg Config) *AmountAnomalyDetector {
	return &AmountAnomalyDetector{
		threshold:  cfg.ZScoreThreshold,
		minHistory: cfg.MinHistory,
	}
}

// Evaluate scores amount against profile. A nil profile means the statistics
// could not be loaded and the check is inconclusive.
func (d *AmountAnomalyDetector) Evaluate(profile *models.CustomerRiskProfile, amount decimal.Decimal) models.AmountCheckResult {
	result := models.AmountCheckResult{Threshold: d.threshold}

	if profile == nil {
		result.Inconclusive = true
		result.Note = noteStatsUnavailable
		return result
	}

	mean := profile.AmountMean
	stdDev := profile.StdDev()
	result.CustomerMean = Round2(mean)
	result.CustomerStdDev = Round2(stdDev)

	if profile.TransactionCount < int64(d.minHistory) {
		// cold start is expected and never a signal on its own
		result.Inconclusive = true
		result.Note = noteColdStart
		return result
	}

	z := ZScore(mean, stdDev, amount.InexactFloat64())
	result.ZScore = Round2(z)
	result.Saturated = z >= ZScoreSentinel
	result.Triggered = math.Abs(z) >= d.threshold
	return result
}

// ZScore is the number of standard deviations x lies from mean. With zero
// spread any deviation is reported as ZScoreSentinel.
func ZScore(mean, stdDev, x float64) float64 {
	if stdDev == 0 || math.IsNaN(stdDev) {
		if x == mean {
			return 0
		}
		return ZScoreSentinel
	}
	z := (x - mean) / stdDev
	return math.Max(-ZScoreSentinel, math.Min(ZScoreSentinel, z))
}

// Round2 rounds to 2 decimal places for reporting.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
