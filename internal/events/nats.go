package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/akylbek/payment-system/fraud-engine/internal/models"
)

const DefaultAlertSubject = "fraud.alerts"

// MsgPublisher is the subset of *nats.Conn used by the notifier.
type MsgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// NATSNotifier pushes new alerts to live subscribers on a NATS subject.
type NATSNotifier struct {
	conn    MsgPublisher
	subject string
}

func NewNATSNotifier(conn MsgPublisher, subject string) *NATSNotifier {
	if subject == "" {
		subject = DefaultAlertSubject
	}
	return &NATSNotifier{conn: conn, subject: subject}
}

func (n *NATSNotifier) NotifyAlert(ctx context.Context, alert *models.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	msg := nats.NewMsg(n.subject + "." + string(alert.Severity))
	msg.Data = data
	msg.Header.Set("Alert-Id", alert.ID)
	msg.Header.Set("Alert-Type", string(alert.Type))
	if err := n.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish alert notification: %w", err)
	}
	return nil
}
