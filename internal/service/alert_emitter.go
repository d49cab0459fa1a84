package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/fraud-engine/internal/interfaces"
	"github.com/akylbek/payment-system/fraud-engine/internal/metrics"
	"github.com/akylbek/payment-system/fraud-engine/internal/models"
)

const (
	DefaultAlertLimit = 50
	MaxAlertLimit     = 100
)

// AlertEmitter records one alert per suspicious transaction and notifies
// live subscribers about newly created ones.
type AlertEmitter struct {
	repo     interfaces.AlertRepository
	notifier interfaces.AlertNotifier
	logger   *zap.Logger
	now      func() time.Time
	backoff  func() backoff.BackOff
}

func NewAlertEmitter(repo interfaces.AlertRepository, notifier interfaces.AlertNotifier, logger *zap.Logger) *AlertEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlertEmitter{
		repo:     repo,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 25 * time.Millisecond
			b.MaxElapsedTime = 2 * time.Second
			return b
		},
	}
}

// Emit stores the alert for a suspicious transaction and notifies
// subscribers when it is new. Emitting twice for the same transaction
// returns the alert stored the first time.
func (e *AlertEmitter) Emit(ctx context.Context, tx *models.Transaction, verdict *models.FraudVerdict) (*models.Alert, error) {
	alert, created, err := e.Record(ctx, tx, verdict)
	if err != nil {
		return nil, err
	}
	if created {
		e.Notify(ctx, alert)
	}
	return alert, nil
}

// Record upserts the alert by transaction id without notifying anyone.
// created reports whether this call stored it.
func (e *AlertEmitter) Record(ctx context.Context, tx *models.Transaction, verdict *models.FraudVerdict) (*models.Alert, bool, error) {
	if tx == nil || verdict == nil {
		return nil, false, fmt.Errorf("%w: transaction and verdict are required", models.ErrInvalidInput)
	}

	severity := models.SeverityWarning
	if verdict.RiskTier == models.TierHigh {
		severity = models.SeverityError
	}

	alert := &models.Alert{
		ID:       uuid.NewString(),
		Type:     models.AlertSuspiciousTransaction,
		Severity: severity,
		Message:  alertMessage(tx, verdict),
		Metadata: models.AlertMetadata{
			TransactionID: tx.ID,
			Amount:        tx.Amount.StringFixed(2),
			CustomerID:    tx.CustomerID,
			RiskScore:     verdict.RiskScore,
			Reasons:       append([]string(nil), verdict.Reasons...),
		},
		CreatedAt: e.now().UTC(),
	}

	var (
		stored  *models.Alert
		created bool
	)
	op := func() error {
		var err error
		stored, created, err = e.repo.UpsertAlert(ctx, alert)
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(e.backoff(), ctx)); err != nil {
		return nil, false, fmt.Errorf("%w: store alert for transaction %s: %v", models.ErrStorageUnavailable, tx.ID, err)
	}

	if created {
		metrics.AlertsEmittedTotal.WithLabelValues(string(stored.Severity)).Inc()
		e.logger.Info("Fraud alert emitted",
			zap.String("alert_id", stored.ID),
			zap.String("transaction_id", tx.ID),
			zap.String("customer_id", tx.CustomerID),
			zap.String("severity", string(stored.Severity)),
			zap.Float64("risk_score", verdict.RiskScore),
		)
	}
	return stored, created, nil
}

// Notify pushes a stored alert to live subscribers. Failures are logged.
func (e *AlertEmitter) Notify(ctx context.Context, alert *models.Alert) {
	if e.notifier == nil || alert == nil {
		return
	}
	if err := e.notifier.NotifyAlert(ctx, alert); err != nil {
		e.logger.Warn("Failed to notify alert subscribers",
			zap.String("alert_id", alert.ID),
			zap.Error(err),
		)
	}
}

// List returns alerts matching the filter, newest first.
func (e *AlertEmitter) List(ctx context.Context, filter models.AlertFilter) ([]*models.Alert, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown alert type %q", models.ErrInvalidInput, filter.Type)
	}
	if filter.Severity != "" && !filter.Severity.Valid() {
		return nil, fmt.Errorf("%w: unknown severity %q", models.ErrInvalidInput, filter.Severity)
	}
	if filter.Offset < 0 {
		return nil, fmt.Errorf("%w: offset must not be negative", models.ErrInvalidInput)
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = DefaultAlertLimit
	case filter.Limit > MaxAlertLimit:
		filter.Limit = MaxAlertLimit
	}
	return e.repo.ListAlerts(ctx, filter)
}

// Resolve marks an alert resolved. Resolving twice keeps the first timestamp.
func (e *AlertEmitter) Resolve(ctx context.Context, id string) (*models.Alert, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: alert id is required", models.ErrInvalidInput)
	}
	return e.repo.ResolveAlert(ctx, id, e.now().UTC())
}

func alertMessage(tx *models.Transaction, verdict *models.FraudVerdict) string {
	msg := fmt.Sprintf("Suspicious transaction %s for customer %s (%s)",
		tx.ID, tx.CustomerID, tx.Amount.StringFixed(2))
	if len(verdict.Reasons) > 0 {
		msg += ": " + strings.Join(verdict.Reasons, ", ")
	}
	return msg
}
