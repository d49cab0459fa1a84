package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/akylbek/payment-system/fraud-engine/internal/models"
)

// uniqueViolation is the Postgres SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

type CustomerRepository struct {
	db *sql.DB
}

func NewCustomerRepository(db *sql.DB) *CustomerRepository {
	return &CustomerRepository{db: db}
}

func (r *CustomerRepository) CreateCustomer(ctx context.Context, p *models.CustomerRiskProfile) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO customers (id, email, transaction_count, amount_mean, amount_m2, total_spent, risk_score)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.CustomerID, p.Email, p.TransactionCount, p.AmountMean, p.AmountM2, p.TotalSpent, p.RiskScore)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: customer %s already exists", models.ErrInvalidInput, p.CustomerID)
	}
	if err != nil {
		return fmt.Errorf("failed to create customer: %w", err)
	}
	return nil
}

func (r *CustomerRepository) GetProfile(ctx context.Context, customerID string) (*models.CustomerRiskProfile, error) {
	p, err := scanProfile(r.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(email, ''), transaction_count, amount_mean, amount_m2, total_spent, risk_score, updated_at
		FROM customers WHERE id = $1
	`, customerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load customer profile: %w", err)
	}
	return p, nil
}

func (r *CustomerRepository) ReplaceProfile(ctx context.Context, p *models.CustomerRiskProfile) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE customers
		SET transaction_count = $2, amount_mean = $3, amount_m2 = $4,
		    total_spent = $5, risk_score = $6, updated_at = NOW()
		WHERE id = $1
	`, p.CustomerID, p.TransactionCount, p.AmountMean, p.AmountM2, p.TotalSpent, p.RiskScore)
	if err != nil {
		return fmt.Errorf("failed to replace customer profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrCustomerNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*models.CustomerRiskProfile, error) {
	var p models.CustomerRiskProfile
	if err := row.Scan(&p.CustomerID, &p.Email, &p.TransactionCount, &p.AmountMean,
		&p.AmountM2, &p.TotalSpent, &p.RiskScore, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// lockProfile reads the profile row under FOR UPDATE inside tx.
func lockProfile(ctx context.Context, tx *sql.Tx, customerID string) (*models.CustomerRiskProfile, error) {
	p, err := scanProfile(tx.QueryRowContext(ctx, `
		SELECT id, COALESCE(email, ''), transaction_count, amount_mean, amount_m2, total_spent, risk_score, updated_at
		FROM customers WHERE id = $1
		FOR UPDATE
	`, customerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock customer profile: %w", err)
	}
	return p, nil
}

func saveProfile(ctx context.Context, tx *sql.Tx, p *models.CustomerRiskProfile) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE customers
		SET transaction_count = $2, amount_mean = $3, amount_m2 = $4,
		    total_spent = $5, risk_score = $6, updated_at = NOW()
		WHERE id = $1
	`, p.CustomerID, p.TransactionCount, p.AmountMean, p.AmountM2, p.TotalSpent, p.RiskScore)
	if err != nil {
		return fmt.Errorf("failed to update customer profile: %w", err)
	}
	return nil
}
