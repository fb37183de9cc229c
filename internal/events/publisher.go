package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"ledger-api/internal/config"
	"ledger-api/internal/models"
)

// Publisher fans ledger and dispute lifecycle events out to the platform.
// Consumers (notifications, compliance, analytics) bind their own queues.
type Publisher interface {
	PublishEntryRecorded(ctx context.Context, entry *models.LedgerEntry) error
	PublishMutationBlocked(ctx context.Context, entry *models.LedgerEntry, record *models.DisputeRecord) error
	PublishDisputeOpened(ctx context.Context, record *models.DisputeRecord) error
	PublishDisputeResolved(ctx context.Context, record *models.DisputeRecord) error
	Close() error
}

// EntryEvent is the wire form of a ledger entry event.
type EntryEvent struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	EntryID       string    `json:"entry_id"`
	UserID        int64     `json:"user_id"`
	Category      string    `json:"category"`
	Direction     string    `json:"direction"`
	Amount        int64     `json:"amount"`
	BalanceAfter  int64     `json:"balance_after"`
	Flagged       bool      `json:"flagged"`
	FlagReason    string    `json:"flag_reason,omitempty"`
	BlockedReason string    `json:"blocked_reason,omitempty"`
	DisputeID     string    `json:"dispute_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// DisputeEvent is the wire form of a dispute lifecycle event.
type DisputeEvent struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	DisputeID   string    `json:"dispute_id"`
	UserID      int64     `json:"user_id"`
	Type        string    `json:"type"`
	Severity    string    `json:"severity"`
	Status      string    `json:"status"`
	RiskScore   int       `json:"risk_score"`
	AutoFlagged bool      `json:"auto_flagged"`
	Timestamp   time.Time `json:"timestamp"`
}

type publisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	cfg     config.RabbitMQConfig
}

const publishRetries = 3

// NewPublisher connects to the broker and declares the topic exchange.
func NewPublisher(cfg config.RabbitMQConfig) (Publisher, error) {
	p := &publisher{cfg: cfg}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *publisher) connect() error {
	conn, err := amqp.Dial(p.cfg.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		p.cfg.Exchange, // name
		"topic",        // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange %s: %w", p.cfg.Exchange, err)
	}

	p.conn = conn
	p.channel = channel
	return nil
}

func (p *publisher) PublishEntryRecorded(ctx context.Context, entry *models.LedgerEntry) error {
	event := entryEvent(entry, "recorded")
	routingKey := fmt.Sprintf("ledger.entry.%s", entry.Category)
	return p.publish(ctx, routingKey, event)
}

func (p *publisher) PublishMutationBlocked(ctx context.Context, entry *models.LedgerEntry, record *models.DisputeRecord) error {
	event := entryEvent(entry, "blocked")
	event.BlockedReason = entry.FlagReason
	if record != nil {
		event.DisputeID = record.DisputeID
	}
	return p.publish(ctx, "ledger.mutation.blocked", event)
}

func (p *publisher) PublishDisputeOpened(ctx context.Context, record *models.DisputeRecord) error {
	routingKey := fmt.Sprintf("dispute.opened.%s", record.Severity)
	return p.publish(ctx, routingKey, disputeEvent(record, "opened"))
}

func (p *publisher) PublishDisputeResolved(ctx context.Context, record *models.DisputeRecord) error {
	routingKey := fmt.Sprintf("dispute.%s", record.Status)
	return p.publish(ctx, routingKey, disputeEvent(record, string(record.Status)))
}

func (p *publisher) publish(ctx context.Context, routingKey string, message interface{}) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		Timestamp:    time.Now(),
		DeliveryMode: amqp.Persistent,
	}

	pubCtx := ctx
	if p.cfg.PublishTimeout > 0 {
		var cancel context.CancelFunc
		pubCtx, cancel = context.WithTimeout(ctx, p.cfg.PublishTimeout)
		defer cancel()
	}

	var publishErr error
	for attempt := 0; attempt < publishRetries; attempt++ {
		publishErr = p.channel.PublishWithContext(pubCtx, p.cfg.Exchange, routingKey, false, false, publishing)
		if publishErr == nil {
			return nil
		}

		if p.conn.IsClosed() {
			if err := p.connect(); err != nil {
				logrus.WithError(err).Warn("Failed to reconnect to RabbitMQ")
			}
		}
	}

	return fmt.Errorf("failed to publish %s after %d attempts: %w", routingKey, publishRetries, publishErr)
}

func (p *publisher) Close() error {
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			return fmt.Errorf("failed to close channel: %w", err)
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			return fmt.Errorf("failed to close connection: %w", err)
		}
	}
	return nil
}

func entryEvent(entry *models.LedgerEntry, eventType string) *EntryEvent {
	return &EntryEvent{
		EventID:      fmt.Sprintf("entry_event_%s_%d", entry.EntryID, time.Now().UnixNano()),
		EventType:    eventType,
		EntryID:      entry.EntryID,
		UserID:       entry.UserID,
		Category:     string(entry.Category),
		Direction:    string(entry.Direction),
		Amount:       entry.Amount,
		BalanceAfter: entry.BalanceAfter,
		Flagged:      entry.Flagged,
		FlagReason:   entry.FlagReason,
		Timestamp:    time.Now(),
	}
}

func disputeEvent(record *models.DisputeRecord, eventType string) *DisputeEvent {
	return &DisputeEvent{
		EventID:     fmt.Sprintf("dispute_event_%s_%d", record.DisputeID, time.Now().UnixNano()),
		EventType:   eventType,
		DisputeID:   record.DisputeID,
		UserID:      record.UserID,
		Type:        string(record.Type),
		Severity:    string(record.Severity),
		Status:      string(record.Status),
		RiskScore:   record.RiskScore,
		AutoFlagged: record.AutoFlagged,
		Timestamp:   time.Now(),
	}
}

// NopPublisher drops every event. Used when the broker is disabled.
type NopPublisher struct{}

func (NopPublisher) PublishEntryRecorded(context.Context, *models.LedgerEntry) error { return nil }
func (NopPublisher) PublishMutationBlocked(context.Context, *models.LedgerEntry, *models.DisputeRecord) error {
	return nil
}
func (NopPublisher) PublishDisputeOpened(context.Context, *models.DisputeRecord) error   { return nil }
func (NopPublisher) PublishDisputeResolved(context.Context, *models.DisputeRecord) error { return nil }
func (NopPublisher) Close() error                                                        { return nil }
