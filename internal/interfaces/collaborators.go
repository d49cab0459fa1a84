package interfaces

import (
	"context"

	"github.com/akylbek/payment-system/fraud-engine/internal/models"
)

// CustomerLocker provides an exclusive scope per customer. The returned
// unlock function must be called on every exit path.
type CustomerLocker interface {
	Lock(ctx context.Context, customerID string) (unlock func(), err error)
}

// EventPublisher broadcasts evaluated transactions to downstream consumers.
type EventPublisher interface {
	PublishVerdict(ctx context.Context, tx *models.Transaction) error
}

// AlertNotifier pushes newly created alerts to live subscribers.
type AlertNotifier interface {
	NotifyAlert(ctx context.Context, alert *models.Alert) error
}
