package fraud

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/akylbek/payment-system/fraud-engine/internal/models"
)

// HistoryCounter counts a customer's persisted transactions in [from, to].
type HistoryCounter interface {
	CountInWindow(ctx context.Context, customerID string, from, to time.Time) (int, error)
}

// VelocityMonitor flags customers submitting too many transactions inside a
// trailing window.
type VelocityMonitor struct {
	history   HistoryCounter
	window    int
	threshold int
	logger    *zap.Logger
}

func NewVelocityMonitor(history HistoryCounter, cfg Config, logger *zap.Logger) *VelocityMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VelocityMonitor{
		history:   history,
		window:    cfg.VelocityWindowMinutes,
		threshold: cfg.VelocityThreshold,
		logger:    logger,
	}
}

// CountRecent returns the number of persisted transactions for the customer
// with a timestamp in [now - windowMinutes, now].
func (m *VelocityMonitor) CountRecent(ctx context.Context, customerID string, windowMinutes int, now time.Time) (int, error) {
	from := now.Add(-time.Duration(windowMinutes) * time.Minute)
	return m.history.CountInWindow(ctx, customerID, from, now)
}

// Check evaluates a transaction that has not been persisted yet, so the
// count is the persisted history plus the transaction itself.
func (m *VelocityMonitor) Check(ctx context.Context, customerID string, now time.Time) models.VelocityCheckResult {
	result := models.VelocityCheckResult{
		WindowMinutes: m.window,
		Threshold:     m.threshold,
	}

	prior, err := m.CountRecent(ctx, customerID, m.window, now)
	if err != nil {
		m.logger.Warn("velocity check inconclusive",
			zap.String("customer_id", customerID),
			zap.Error(err),
		)
		result.Inconclusive = true
		result.Note = noteHistoryUnavailable
		return result
	}

	result.TransactionCount = prior + 1
	result.Triggered = result.TransactionCount > m.threshold
	return result
}
