package interfaces

import (
	"context"
	"time"

	"github.com/akylbek/payment-system/fraud-engine/internal/models"
)

// TransactionRepository defines the contract for transaction data access
type TransactionRepository interface {
	CountInWindow(ctx context.Context, customerID string, from, to time.Time) (int, error)
	// Commit stores the transaction and folds it into the customer's profile
	// in one unit of work. It is idempotent by transaction id: a repeated call
	// reports applied=false and changes nothing.
	Commit(ctx context.Context, tx *models.Transaction) (applied bool, err error)
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	ListSuspicious(ctx context.Context, filter models.SuspiciousFilter) ([]*models.Transaction, error)
	ListByCustomer(ctx context.Context, customerID string) ([]*models.Transaction, error)
	// TransitionStatus moves a transaction out of a non-terminal status. A move
	// to completed updates the customer's spend statistics in the same unit
	// of work.
	TransitionStatus(ctx context.Context, id string, to models.TransactionStatus) (*models.Transaction, error)
}

// ProfileRepository defines the contract for customer risk profile access
type ProfileRepository interface {
	CreateCustomer(ctx context.Context, profile *models.CustomerRiskProfile) error
	GetProfile(ctx context.Context, customerID string) (*models.CustomerRiskProfile, error)
	ReplaceProfile(ctx context.Context, profile *models.CustomerRiskProfile) error
}

// AlertRepository defines the contract for alert storage
type AlertRepository interface {
	// UpsertAlert stores the alert unless one already exists for the same
	// transaction, in which case the stored alert is returned.
	UpsertAlert(ctx context.Context, alert *models.Alert) (stored *models.Alert, created bool, err error)
	ListAlerts(ctx context.Context, filter models.AlertFilter) ([]*models.Alert, error)
	ResolveAlert(ctx context.Context, id string, at time.Time) (*models.Alert, error)
}
