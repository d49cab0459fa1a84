package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/akylbek/payment-system/fraud-engine/internal/models"
)

type TransactionRepository struct {
	db *sql.DB
}

func NewTransactionRepository(db *sql.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

const transactionColumns = `id, customer_id, product_id, quantity, price, amount, payment_method,
	status, risk_contribution, fraud_check_result, timestamp`

func (r *TransactionRepository) CountInWindow(ctx context.Context, customerID string, from, to time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM transactions
		WHERE customer_id = $1 AND timestamp >= $2 AND timestamp <= $3
	`, customerID, from, to).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count recent transactions: %w", err)
	}
	return count, nil
}

func (r *TransactionRepository) Commit(ctx context.Context, t *models.Transaction) (bool, error) {
	verdictJSON, err := json.Marshal(t.FraudCheckResult)
	if err != nil {
		return false, fmt.Errorf("failed to marshal fraud verdict: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin commit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	profile, err := lockProfile(ctx, tx, t.CustomerID)
	if err != nil {
		return false, err
	}

	var suspicious bool
	var score float64
	if t.FraudCheckResult != nil {
		suspicious = t.FraudCheckResult.IsSuspicious
		score = t.FraudCheckResult.RiskScore
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (id, customer_id, product_id, quantity, price, amount, payment_method,
			status, is_suspicious, risk_score, risk_contribution, fraud_check_result, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING
	`, t.ID, t.CustomerID, t.ProductID, t.Quantity, t.Price, t.Amount, string(t.PaymentMethod),
		string(t.Status), suspicious, score, t.RiskContribution, verdictJSON, t.Timestamp)
	if err != nil {
		return false, fmt.Errorf("failed to insert transaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// already committed by an earlier attempt
		return false, nil
	}

	profile.AddRisk(t.RiskContribution)
	if t.Status == models.StatusCompleted {
		profile.Observe(t.Amount)
	}
	if err := saveProfile(ctx, tx, profile); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

func (r *TransactionRepository) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	t, err := scanTransaction(r.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return t, nil
}

func (r *TransactionRepository) ListSuspicious(ctx context.Context, filter models.SuspiciousFilter) ([]*models.Transaction, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	to := filter.To
	if to.IsZero() {
		to = time.Now().UTC()
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE is_suspicious AND timestamp >= $1 AND timestamp <= $2
		ORDER BY timestamp DESC
		LIMIT $3
	`, filter.From, to, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list suspicious transactions: %w", err)
	}
	return collectTransactions(rows)
}

func (r *TransactionRepository) ListByCustomer(ctx context.Context, customerID string) ([]*models.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE customer_id = $1
		ORDER BY timestamp ASC
	`, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list customer transactions: %w", err)
	}
	return collectTransactions(rows)
}

func (r *TransactionRepository) TransitionStatus(ctx context.Context, id string, to models.TransactionStatus) (*models.Transaction, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin status transition: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	t, err := scanTransaction(tx.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}
	if !t.Status.CanTransition(to) {
		return nil, fmt.Errorf("%w: %s to %s", models.ErrInvalidTransition, t.Status, to)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE transactions SET status = $1
		WHERE id = $2 AND status = $3
	`, string(to), id, string(t.Status))
	if err != nil {
		return nil, fmt.Errorf("failed to update transaction status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: %s changed concurrently", models.ErrInvalidTransition, id)
	}

	if to == models.StatusCompleted {
		profile, err := lockProfile(ctx, tx, t.CustomerID)
		if err != nil {
			return nil, err
		}
		profile.Observe(t.Amount)
		if err := saveProfile(ctx, tx, profile); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit status transition: %w", err)
	}
	t.Status = to
	return t, nil
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var (
		t           models.Transaction
		method      string
		status      string
		verdictJSON []byte
	)
	if err := row.Scan(&t.ID, &t.CustomerID, &t.ProductID, &t.Quantity, &t.Price, &t.Amount,
		&method, &status, &t.RiskContribution, &verdictJSON, &t.Timestamp); err != nil {
		return nil, err
	}
	t.PaymentMethod = models.PaymentMethod(method)
	t.Status = models.TransactionStatus(status)
	t.Timestamp = t.Timestamp.UTC()
	if len(verdictJSON) > 0 && string(verdictJSON) != "null" {
		var v models.FraudVerdict
		if err := json.Unmarshal(verdictJSON, &v); err != nil {
			return nil, fmt.Errorf("failed to decode fraud verdict: %w", err)
		}
		t.FraudCheckResult = &v
	}
	return &t, nil
}

func collectTransactions(rows *sql.Rows) ([]*models.Transaction, error) {
	defer func() { _ = rows.Close() }()

	var result []*models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}
