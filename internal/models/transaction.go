package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	StatusPending    TransactionStatus = "pending"
	StatusCompleted  TransactionStatus = "completed"
	StatusFailed     TransactionStatus = "failed"
	StatusSuspicious TransactionStatus = "suspicious"
	StatusFlagged    TransactionStatus = "flagged"
)

// Terminal reports whether no further status transition is allowed.
func (s TransactionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether a transaction in status s may move to next.
func (s TransactionStatus) CanTransition(next TransactionStatus) bool {
	if s.Terminal() || s == next {
		return false
	}
	switch next {
	case StatusCompleted, StatusFailed:
		return true
	case StatusSuspicious, StatusFlagged:
		return s == StatusPending
	}
	return false
}

func ParseTransactionStatus(v string) (TransactionStatus, error) {
	switch s := TransactionStatus(v); s {
	case StatusPending, StatusCompleted, StatusFailed, StatusSuspicious, StatusFlagged:
		return s, nil
	}
	return "", fmt.Errorf("%w: unknown transaction status %q", ErrInvalidInput, v)
}

type PaymentMethod string

const (
	PaymentCreditCard   PaymentMethod = "credit_card"
	PaymentDebitCard    PaymentMethod = "debit_card"
	PaymentPayPal       PaymentMethod = "paypal"
	PaymentBankTransfer PaymentMethod = "bank_transfer"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCreditCard, PaymentDebitCard, PaymentPayPal, PaymentBankTransfer:
		return true
	}
	return false
}

// Limits applied to incoming purchase requests.
const (
	MaxQuantity = 1000
)

var MaxPrice = decimal.NewFromInt(1_000_000)

// Transaction is a single purchase together with the fraud verdict computed
// when it was created.
type Transaction struct {
	ID               string            `json:"id"`
	CustomerID       string            `json:"customer_id"`
	ProductID        string            `json:"product_id"`
	Quantity         int               `json:"quantity"`
	Price            decimal.Decimal   `json:"price"`
	Amount           decimal.Decimal   `json:"total_amount"`
	PaymentMethod    PaymentMethod     `json:"payment_method"`
	Status           TransactionStatus `json:"status"`
	Timestamp        time.Time         `json:"timestamp"`
	FraudCheckResult *FraudVerdict     `json:"fraud_check_result"`

	// RiskContribution is the raw trigger score this transaction adds to the
	// customer's cumulative risk.
	RiskContribution float64 `json:"-"`
}

// Clone returns a deep copy of the transaction and its verdict.
func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	c := *t
	c.FraudCheckResult = t.FraudCheckResult.Clone()
	return &c
}

// CreateTransactionRequest is the purchase request accepted by the API.
type CreateTransactionRequest struct {
	CustomerID    string          `json:"customer_id"`
	ProductID     string          `json:"product_id"`
	Quantity      int             `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
}

// Validate rejects requests that must never reach fraud evaluation.
func (r *CreateTransactionRequest) Validate() error {
	if r.CustomerID == "" {
		return fmt.Errorf("%w: customer_id is required", ErrInvalidInput)
	}
	if r.ProductID == "" {
		return fmt.Errorf("%w: product_id is required", ErrInvalidInput)
	}
	if r.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be greater than 0", ErrInvalidInput)
	}
	if r.Quantity > MaxQuantity {
		return fmt.Errorf("%w: quantity cannot exceed %d units per transaction", ErrInvalidInput, MaxQuantity)
	}
	if !r.Price.IsPositive() {
		return fmt.Errorf("%w: price must be greater than 0", ErrInvalidInput)
	}
	if !r.Price.Equal(r.Price.Round(2)) {
		return fmt.Errorf("%w: price must have at most 2 decimal places", ErrInvalidInput)
	}
	if r.Price.GreaterThan(MaxPrice) {
		return fmt.Errorf("%w: price cannot exceed %s per transaction", ErrInvalidInput, MaxPrice.String())
	}
	if !r.PaymentMethod.Valid() {
		return fmt.Errorf("%w: unsupported payment method %q", ErrInvalidInput, r.PaymentMethod)
	}
	return nil
}

// Amount is the total charged for the request.
func (r *CreateTransactionRequest) Amount() decimal.Decimal {
	return r.Price.Mul(decimal.NewFromInt(int64(r.Quantity)))
}

// SuspiciousFilter selects flagged transactions inside [From, To].
type SuspiciousFilter struct {
	From  time.Time
	To    time.Time
	Limit int
}
