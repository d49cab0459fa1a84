package models

import "time"

type AlertType string

const (
	AlertSuspiciousTransaction AlertType = "suspicious_transaction"
	AlertLowStock              AlertType = "low_stock"
	AlertSystem                AlertType = "system"
)

func (t AlertType) Valid() bool {
	switch t {
	case AlertSuspiciousTransaction, AlertLowStock, AlertSystem:
		return true
	}
	return false
}

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError:
		return true
	}
	return false
}

type Alert struct {
	ID         string        `json:"id"`
	Type       AlertType     `json:"type"`
	Message    string        `json:"message"`
	Severity   Severity      `json:"severity"`
	Metadata   AlertMetadata `json:"alert_metadata"`
	CreatedAt  time.Time     `json:"created_at"`
	ResolvedAt *time.Time    `json:"resolved_at,omitempty"`
}

type AlertMetadata struct {
	TransactionID string   `json:"transaction_id"`
	Amount        string   `json:"amount"`
	CustomerID    string   `json:"customer_id"`
	RiskScore     float64  `json:"risk_score"`
	Reasons       []string `json:"reasons,omitempty"`
}

// AlertFilter narrows alert listings. Zero values mean "any".
type AlertFilter struct {
	Type     AlertType
	Severity Severity
	Since    time.Time
	Limit    int
	Offset   int
}
