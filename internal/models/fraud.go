package models

type RiskTier string

const (
	TierLow    RiskTier = "low"
	TierMedium RiskTier = "medium"
	TierHigh   RiskTier = "high"
)

// FraudVerdict is the immutable outcome of one fraud evaluation.
type FraudVerdict struct {
	IsSuspicious bool          `json:"is_suspicious"`
	Reasons      []string      `json:"reasons"`
	RiskScore    float64       `json:"risk_score"`
	RiskTier     RiskTier      `json:"risk_tier"`
	Details      VerdictDetail `json:"details"`
}

type VerdictDetail struct {
	VelocityCheck VelocityCheckResult `json:"velocity_check"`
	AmountCheck   AmountCheckResult   `json:"amount_check"`
}

type VelocityCheckResult struct {
	WindowMinutes    int `json:"window_minutes"`
	TransactionCount int `json:"transaction_count"`
	Threshold        int `json:"threshold"`

	Triggered    bool   `json:"-"`
	Inconclusive bool   `json:"-"`
	Note         string `json:"-"`
}

type AmountCheckResult struct {
	ZScore         float64 `json:"z_score"`
	CustomerMean   float64 `json:"customer_mean"`
	CustomerStdDev float64 `json:"customer_std_dev"`
	Threshold      float64 `json:"threshold"`

	Triggered    bool   `json:"-"`
	Saturated    bool   `json:"-"`
	Inconclusive bool   `json:"-"`
	Note         string `json:"-"`
}

// Clone returns a deep copy so stored verdicts cannot be mutated by callers.
func (v *FraudVerdict) Clone() *FraudVerdict {
	if v == nil {
		return nil
	}
	c := *v
	c.Reasons = append(make([]string, 0, len(v.Reasons)), v.Reasons...)
	return &c
}
