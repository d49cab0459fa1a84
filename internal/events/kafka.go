// Package events publishes fraud outcomes to the message brokers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/akylbek/payment-system/fraud-engine/internal/models"
)

const (
	DefaultVerdictTopic = "fraud.verdicts"
	// verdictBatchTimeout replaces kafka-go's 1s default batch window.
	verdictBatchTimeout = 10 * time.Millisecond
)

// MessageWriter is the subset of *kafka.Writer used by the publisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// VerdictEvent is the payload published for every evaluated transaction.
type VerdictEvent struct {
	TransactionID string                   `json:"transaction_id"`
	CustomerID    string                   `json:"customer_id"`
	Amount        string                   `json:"amount"`
	Status        models.TransactionStatus `json:"status"`
	IsSuspicious  bool                     `json:"is_suspicious"`
	RiskScore     float64                  `json:"risk_score"`
	RiskTier      models.RiskTier          `json:"risk_tier"`
	Reasons       []string                 `json:"reasons"`
	Timestamp     time.Time                `json:"timestamp"`
}

type KafkaPublisher struct {
	writer MessageWriter
}

// NewKafkaPublisher writes to topic on the comma-separated brokers. Messages
// are keyed by customer so one customer's verdicts stay ordered.
func NewKafkaPublisher(brokers, topic string) *KafkaPublisher {
	if topic == "" {
		topic = DefaultVerdictTopic
	}
	return NewKafkaPublisherWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(strings.Split(brokers, ",")...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: verdictBatchTimeout,
	})
}

func NewKafkaPublisherWithWriter(w MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

func (p *KafkaPublisher) PublishVerdict(ctx context.Context, tx *models.Transaction) error {
	event := VerdictEvent{
		TransactionID: tx.ID,
		CustomerID:    tx.CustomerID,
		Amount:        tx.Amount.StringFixed(2),
		Status:        tx.Status,
		Timestamp:     tx.Timestamp,
		Reasons:       []string{},
	}
	if v := tx.FraudCheckResult; v != nil {
		event.IsSuspicious = v.IsSuspicious
		event.RiskScore = v.RiskScore
		event.RiskTier = v.RiskTier
		event.Reasons = v.Reasons
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal verdict event: %w", err)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(tx.CustomerID),
		Value: payload,
	}); err != nil {
		return fmt.Errorf("failed to publish verdict event: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
