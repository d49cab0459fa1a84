// Package service holds the fraud-check orchestration and alert handling.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/akylbek/payment-system/fraud-engine/internal/fraud"
	"github.com/akylbek/payment-system/fraud-engine/internal/interfaces"
	"github.com/akylbek/payment-system/fraud-engine/internal/metrics"
	"github.com/akylbek/payment-system/fraud-engine/internal/models"
	"github.com/akylbek/payment-system/fraud-engine/internal/telemetry"
)

const (
	DefaultLockTimeout       = 5 * time.Second
	DefaultCommitMaxElapsed  = 3 * time.Second
	DefaultCommitInitialWait = 50 * time.Millisecond
	DefaultSuspiciousLimit   = 1000
)

// Options tunes the orchestration around the fraud checks.
type Options struct {
	LockTimeout       time.Duration
	CommitMaxElapsed  time.Duration
	CommitInitialWait time.Duration
	// SuspiciousLimit caps ListSuspicious results.
	SuspiciousLimit int
}

func (o Options) withDefaults() Options {
	if o.LockTimeout <= 0 {
		o.LockTimeout = DefaultLockTimeout
	}
	if o.CommitMaxElapsed <= 0 {
		o.CommitMaxElapsed = DefaultCommitMaxElapsed
	}
	if o.CommitInitialWait <= 0 {
		o.CommitInitialWait = DefaultCommitInitialWait
	}
	if o.SuspiciousLimit <= 0 {
		o.SuspiciousLimit = DefaultSuspiciousLimit
	}
	return o
}

type Orchestrator struct {
	transactions interfaces.TransactionRepository
	profiles     interfaces.ProfileRepository
	locker       interfaces.CustomerLocker
	alerts       *AlertEmitter
	publisher    interfaces.EventPublisher

	velocity *fraud.VelocityMonitor
	amount   *fraud.AmountAnomalyDetector
	scorer   *fraud.RiskScorer

	opts   Options
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

func NewOrchestrator(
	transactions interfaces.TransactionRepository,
	profiles interfaces.ProfileRepository,
	locker interfaces.CustomerLocker,
	alerts *AlertEmitter,
	cfg fraud.Config,
	opts Options,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		transactions: transactions,
		profiles:     profiles,
		locker:       locker,
		alerts:       alerts,
		velocity:     fraud.NewVelocityMonitor(transactions, cfg, logger),
		amount:       fraud.NewAmountAnomalyDetector(cfg),
		scorer:       fraud.NewRiskScorer(cfg),
		opts:         opts.withDefaults(),
		logger:       logger,
		now:          time.Now,
		newID:        uuid.NewString,
	}
}

// WithPublisher attaches a best-effort verdict publisher.
func (o *Orchestrator) WithPublisher(p interfaces.EventPublisher) *Orchestrator {
	o.publisher = p
	return o
}

func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// CreateTransaction evaluates and records one purchase. Suspicious
// transactions are stored with their verdict, never rejected.
func (o *Orchestrator) CreateTransaction(ctx context.Context, req *models.CreateTransactionRequest) (*models.Transaction, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "fraud.CreateTransaction")
	defer span.End()

	if req == nil {
		return nil, fmt.Errorf("%w: request body is required", models.ErrInvalidInput)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	started := time.Now()

	tx := &models.Transaction{
		ID:            o.newID(),
		CustomerID:    req.CustomerID,
		ProductID:     req.ProductID,
		Quantity:      req.Quantity,
		Price:         req.Price,
		Amount:        req.Amount(),
		PaymentMethod: req.PaymentMethod,
		Status:        models.StatusPending,
	}
	span.SetAttributes(
		attribute.String("transaction.id", tx.ID),
		attribute.String("customer.id", tx.CustomerID),
	)

	unlock, err := o.lockCustomer(ctx, tx.CustomerID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	locked := true
	release := func() {
		if locked {
			locked = false
			unlock()
		}
	}
	defer release()

	// Stamped under the lock: a customer's timestamps must follow commit order.
	tx.Timestamp = o.now().UTC()

	profile, err := o.profiles.GetProfile(ctx, tx.CustomerID)
	switch {
	case errors.Is(err, models.ErrCustomerNotFound):
		return nil, fmt.Errorf("%w: %w: %s", models.ErrInvalidInput, models.ErrCustomerNotFound, tx.CustomerID)
	case err != nil:
		o.logger.Warn("Customer statistics unavailable",
			zap.String("customer_id", tx.CustomerID),
			zap.Error(err),
		)
		profile = nil
	}

	velocity, amount, err := o.runChecks(ctx, tx, profile)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var prior float64
	if profile != nil {
		prior = profile.RiskScore
	}
	verdict := o.scorer.Score(velocity, amount, prior)
	tx.FraudCheckResult = verdict
	tx.RiskContribution = o.scorer.TriggerScore(velocity, amount)
	tx.Status = resolveStatus(verdict)

	// The verdict is final from here on; the caller going away must not
	// leave it half recorded.
	detached := context.WithoutCancel(ctx)

	if err := o.commit(detached, tx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		return nil, err
	}

	var (
		alert        *models.Alert
		alertCreated bool
	)
	if verdict.IsSuspicious && o.alerts != nil {
		alert, alertCreated, err = o.alerts.Record(detached, tx, verdict)
		if err != nil {
			o.logger.Error("Failed to emit fraud alert",
				zap.String("transaction_id", tx.ID),
				zap.Error(err),
			)
		}
	}

	// Broker calls run outside the customer lock.
	release()

	if alertCreated {
		o.alerts.Notify(detached, alert)
	}
	if o.publisher != nil {
		if err := o.publisher.PublishVerdict(detached, tx); err != nil {
			o.logger.Warn("Failed to publish fraud verdict",
				zap.String("transaction_id", tx.ID),
				zap.Error(err),
			)
		}
	}

	o.observe(tx, velocity, amount, time.Since(started))
	span.SetAttributes(
		attribute.Bool("fraud.suspicious", verdict.IsSuspicious),
		attribute.Float64("fraud.risk_score", verdict.RiskScore),
		attribute.String("transaction.status", string(tx.Status)),
	)
	return tx.Clone(), nil
}

func (o *Orchestrator) runChecks(ctx context.Context, tx *models.Transaction, profile *models.CustomerRiskProfile) (models.VelocityCheckResult, models.AmountCheckResult, error) {
	var (
		velocity models.VelocityCheckResult
		amount   models.AmountCheckResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sctx, span := telemetry.Tracer.Start(gctx, "fraud.velocity")
		defer span.End()
		velocity = o.velocity.Check(sctx, tx.CustomerID, tx.Timestamp)
		span.SetAttributes(
			attribute.Int("velocity.count", velocity.TransactionCount),
			attribute.Bool("velocity.triggered", velocity.Triggered),
		)
		return nil
	})
	g.Go(func() error {
		_, span := telemetry.Tracer.Start(gctx, "fraud.amount")
		defer span.End()
		amount = o.amount.Evaluate(profile, tx.Amount)
		span.SetAttributes(
			attribute.Float64("amount.z_score", amount.ZScore),
			attribute.Bool("amount.triggered", amount.Triggered),
		)
		return nil
	})
	if err := g.Wait(); err != nil {
		return velocity, amount, err
	}

	if amount.Inconclusive {
		o.logger.Debug("Amount check inconclusive",
			zap.String("transaction_id", tx.ID),
			zap.String("customer_id", tx.CustomerID),
			zap.String("note", amount.Note),
		)
	}
	return velocity, amount, nil
}

// commit stores the transaction with retries. Commit is idempotent by id so
// an attempt that landed but reported an error is not applied twice.
func (o *Orchestrator) commit(ctx context.Context, tx *models.Transaction) error {
	ctx, span := telemetry.Tracer.Start(ctx, "fraud.commit")
	defer span.End()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.opts.CommitInitialWait
	b.MaxElapsedTime = o.opts.CommitMaxElapsed

	attempts := 0
	op := func() error {
		attempts++
		applied, err := o.transactions.Commit(ctx, tx)
		if err != nil {
			if errors.Is(err, models.ErrCustomerNotFound) {
				return backoff.Permanent(err)
			}
			return err
		}
		if !applied {
			o.logger.Debug("Transaction already committed", zap.String("transaction_id", tx.ID))
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		metrics.CommitRetriesTotal.Inc()
		o.logger.Warn("Retrying transaction commit",
			zap.String("transaction_id", tx.ID),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
	span.SetAttributes(attribute.Int("commit.attempts", attempts))
	if err == nil {
		return nil
	}
	if errors.Is(err, models.ErrCustomerNotFound) {
		return fmt.Errorf("%w: %w: %s", models.ErrInvalidInput, err, tx.CustomerID)
	}
	o.logger.Error("Transaction commit failed",
		zap.String("transaction_id", tx.ID),
		zap.String("customer_id", tx.CustomerID),
		zap.Int("attempts", attempts),
		zap.Error(err),
	)
	return fmt.Errorf("%w: commit transaction %s: %v", models.ErrStorageUnavailable, tx.ID, err)
}

func (o *Orchestrator) observe(tx *models.Transaction, velocity models.VelocityCheckResult, amount models.AmountCheckResult, elapsed time.Duration) {
	result := "clean"
	if tx.FraudCheckResult.IsSuspicious {
		result = "suspicious"
	}
	metrics.ChecksTotal.WithLabelValues(result).Inc()
	metrics.CheckDuration.Observe(elapsed.Seconds())
	if velocity.Triggered {
		metrics.ChecksTriggeredTotal.WithLabelValues("velocity").Inc()
	}
	if velocity.Inconclusive {
		metrics.ChecksInconclusiveTotal.WithLabelValues("velocity").Inc()
	}
	if amount.Triggered {
		metrics.ChecksTriggeredTotal.WithLabelValues("amount").Inc()
	}
	if amount.Inconclusive {
		metrics.ChecksInconclusiveTotal.WithLabelValues("amount").Inc()
	}

	o.logger.Info("Transaction evaluated",
		zap.String("transaction_id", tx.ID),
		zap.String("customer_id", tx.CustomerID),
		zap.String("status", string(tx.Status)),
		zap.Float64("risk_score", tx.FraudCheckResult.RiskScore),
		zap.String("risk_tier", string(tx.FraudCheckResult.RiskTier)),
		zap.Strings("reasons", tx.FraudCheckResult.Reasons),
	)
}

func (o *Orchestrator) lockCustomer(ctx context.Context, customerID string) (func(), error) {
	lctx, cancel := context.WithTimeout(ctx, o.opts.LockTimeout)
	defer cancel()

	start := time.Now()
	unlock, err := o.locker.Lock(lctx, customerID)
	metrics.LockWait.Observe(time.Since(start).Seconds())
	if err != nil {
		o.logger.Warn("Failed to acquire customer lock",
			zap.String("customer_id", customerID),
			zap.Error(err),
		)
		return nil, err
	}
	return unlock, nil
}

// resolveStatus maps a verdict to the status the transaction is stored with.
func resolveStatus(v *models.FraudVerdict) models.TransactionStatus {
	switch {
	case !v.IsSuspicious:
		return models.StatusCompleted
	case v.RiskTier == models.TierHigh:
		return models.StatusFlagged
	default:
		return models.StatusSuspicious
	}
}

func (o *Orchestrator) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: transaction id is required", models.ErrInvalidInput)
	}
	return o.transactions.GetTransaction(ctx, id)
}

// ListSuspicious returns suspicious and flagged transactions created in
// [from, to], newest first, at most SuspiciousLimit of them.
func (o *Orchestrator) ListSuspicious(ctx context.Context, from, to time.Time) ([]*models.Transaction, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("%w: 'to' must not be before 'from'", models.ErrInvalidInput)
	}
	return o.transactions.ListSuspicious(ctx, models.SuspiciousFilter{From: from, To: to, Limit: o.opts.SuspiciousLimit})
}

// SuspiciousLimit is the maximum number of rows ListSuspicious returns.
func (o *Orchestrator) SuspiciousLimit() int {
	return o.opts.SuspiciousLimit
}

// RegisterCustomer creates an empty risk profile for a new customer.
func (o *Orchestrator) RegisterCustomer(ctx context.Context, customerID, email string) (*models.CustomerRiskView, error) {
	if customerID == "" {
		return nil, fmt.Errorf("%w: customer_id is required", models.ErrInvalidInput)
	}
	profile := &models.CustomerRiskProfile{
		CustomerID: customerID,
		Email:      email,
		UpdatedAt:  o.now().UTC(),
	}
	if err := o.profiles.CreateCustomer(ctx, profile); err != nil {
		return nil, err
	}
	o.logger.Info("Customer registered", zap.String("customer_id", customerID))
	return o.view(profile), nil
}

func (o *Orchestrator) GetProfile(ctx context.Context, customerID string) (*models.CustomerRiskView, error) {
	profile, err := o.profiles.GetProfile(ctx, customerID)
	if err != nil {
		return nil, err
	}
	return o.view(profile), nil
}

// RecalculateProfile rebuilds the customer's statistics and cumulative risk
// from stored history. It is the only operation that can lower a risk score.
func (o *Orchestrator) RecalculateProfile(ctx context.Context, customerID string) (*models.CustomerRiskView, error) {
	unlock, err := o.lockCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	profile, err := o.profiles.GetProfile(ctx, customerID)
	if err != nil {
		return nil, err
	}
	history, err := o.transactions.ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("%w: list transactions: %v", models.ErrStorageUnavailable, err)
	}

	previous := profile.RiskScore
	profile.Reset()
	for _, tx := range history {
		profile.RiskScore = fraud.NextProfileScore(profile.RiskScore, tx.RiskContribution)
		if tx.Status == models.StatusCompleted {
			profile.Observe(tx.Amount)
		}
	}
	profile.UpdatedAt = o.now().UTC()

	if err := o.profiles.ReplaceProfile(ctx, profile); err != nil {
		return nil, err
	}

	o.logger.Info("Customer profile recalculated",
		zap.String("customer_id", customerID),
		zap.Int64("transaction_count", profile.TransactionCount),
		zap.Float64("previous_risk_score", previous),
		zap.Float64("risk_score", profile.RiskScore),
	)
	return o.view(profile), nil
}

// UpdateStatus settles a transaction as completed or failed.
func (o *Orchestrator) UpdateStatus(ctx context.Context, id string, to models.TransactionStatus) (*models.Transaction, error) {
	if to != models.StatusCompleted && to != models.StatusFailed {
		return nil, fmt.Errorf("%w: transactions can only be settled as completed or failed, got %q", models.ErrInvalidTransition, to)
	}
	current, err := o.transactions.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}

	unlock, err := o.lockCustomer(ctx, current.CustomerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	updated, err := o.transactions.TransitionStatus(ctx, id, to)
	if err != nil {
		return nil, err
	}
	o.logger.Info("Transaction status updated",
		zap.String("transaction_id", id),
		zap.String("from_status", string(current.Status)),
		zap.String("to_status", string(to)),
	)
	return updated, nil
}

func (o *Orchestrator) view(p *models.CustomerRiskProfile) *models.CustomerRiskView {
	return &models.CustomerRiskView{
		CustomerRiskProfile: *p,
		AmountStdDev:        fraud.Round2(p.StdDev()),
		RiskTier:            o.scorer.Tier(p.RiskScore),
	}
}
