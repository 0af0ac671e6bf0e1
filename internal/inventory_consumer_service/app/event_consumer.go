package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/nats-io/nats.go/jetstream"

	coreDomain "github.com/ordermesh/eventrelay/internal/core_event/domain"
	"github.com/ordermesh/eventrelay/internal/core_event/events"
	"github.com/ordermesh/eventrelay/internal/core_event/schema"
	"github.com/ordermesh/eventrelay/internal/inventory_consumer_service/repository"
)

// Disposition tells the transport layer what to do with a delivery.
type Disposition int

const (
	// DispositionAck acknowledges the delivery; the broker stops redelivering.
	// Duplicates and dead-lettered messages are acked too, so they do not
	// loop forever.
	DispositionAck Disposition = iota
	// DispositionNak requests redelivery after a transient failure. Nothing
	// was committed, so reprocessing is safe.
	DispositionNak
)

// TxBeginner opens database transactions; *pgxpool.Pool satisfies it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// DeadLetterPublisher routes envelopes the consumer cannot understand.
type DeadLetterPublisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// ConsumerConfig holds the consumer tunables.
type ConsumerConfig struct {
	DeadLetterSubject string
	SourceService     string

	// RedeliveryDelay spaces out redeliveries after a Nak. Without it a
	// persistently failing effect (consumer database down) hot-loops against
	// the broker.
	RedeliveryDelay time.Duration
}

// EventConsumer applies inventory events to the local projection, exactly
// once per messageId. The idempotency record and the business effect commit
// in one transaction; on any failure both roll back and the delivery is
// redelivered.
type EventConsumer struct {
	db         TxBeginner
	processed  repository.ProcessedMessageRepository
	projection repository.StockProjectionRepository
	registry   *schema.Registry
	dlq        DeadLetterPublisher
	logger     *slog.Logger
	config     ConsumerConfig
}

func NewEventConsumer(
	db TxBeginner,
	processed repository.ProcessedMessageRepository,
	projection repository.StockProjectionRepository,
	registry *schema.Registry,
	dlq DeadLetterPublisher,
	logger *slog.Logger,
	cfg ConsumerConfig,
) *EventConsumer {
	return &EventConsumer{
		db:         db,
		processed:  processed,
		projection: projection,
		registry:   registry,
		dlq:        dlq,
		logger:     logger,
		config:     cfg,
	}
}

// HandleDelivery decodes a raw broker message and processes it.
func (c *EventConsumer) HandleDelivery(ctx context.Context, data []byte) Disposition {
	var env coreDomain.DeliveryEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		// Not an envelope at all; route to the dead-letter path so it is
		// never silently dropped, then stop redelivery.
		c.logger.ErrorContext(ctx, "undecodable delivery", "error", err)
		c.sendToDeadLetter(ctx, data, "undecodable envelope")
		return DispositionAck
	}
	return c.HandleEnvelope(ctx, env)
}

// HandleEnvelope processes one delivery envelope.
func (c *EventConsumer) HandleEnvelope(ctx context.Context, env coreDomain.DeliveryEnvelope) Disposition {
	if !c.registry.Supports(env.EventType, env.PayloadVersion) {
		unsupportedVersionCounter.WithLabelValues(env.EventType, env.PayloadVersion).Inc()
		c.logger.WarnContext(ctx, "unsupported event version, dead-lettering",
			"message_id", env.MessageID,
			"event_type", env.EventType,
			"payload_version", env.PayloadVersion,
		)
		data, err := json.Marshal(env)
		if err == nil {
			c.sendToDeadLetter(ctx, data, "unsupported version")
		}
		return DispositionAck
	}

	if err := c.registry.Validate(env.EventType, env.PayloadVersion, env.Payload); err != nil {
		unsupportedVersionCounter.WithLabelValues(env.EventType, env.PayloadVersion).Inc()
		c.logger.WarnContext(ctx, "invalid payload, dead-lettering",
			"message_id", env.MessageID, "error", err)
		data, merr := json.Marshal(env)
		if merr == nil {
			c.sendToDeadLetter(ctx, data, "invalid payload")
		}
		return DispositionAck
	}

	err := c.applyOnce(ctx, env)
	switch {
	case err == nil:
		eventsProcessedCounter.WithLabelValues(env.EventType, "applied").Inc()
		return DispositionAck
	case errors.Is(err, coreDomain.ErrDuplicateMessage):
		eventsProcessedCounter.WithLabelValues(env.EventType, "duplicate").Inc()
		c.logger.DebugContext(ctx, "duplicate delivery skipped", "message_id", env.MessageID)
		return DispositionAck
	default:
		eventsProcessedCounter.WithLabelValues(env.EventType, "failed").Inc()
		c.logger.ErrorContext(ctx, "event processing failed, requesting redelivery",
			"message_id", env.MessageID, "error", err)
		return DispositionNak
	}
}

// applyOnce runs the idempotency guard and the business effect in a single
// transaction. A duplicate messageId surfaces ErrDuplicateMessage with
// nothing written; an effect failure rolls back the guard row too, so the
// redelivered message can be retried cleanly.
func (c *EventConsumer) applyOnce(ctx context.Context, env coreDomain.DeliveryEnvelope) error {
	tx, err := c.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", coreDomain.ErrPersistence, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	inserted, err := c.processed.Insert(ctx, tx, env.MessageID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("%w: %v", coreDomain.ErrPersistence, err)
	}
	if !inserted {
		return coreDomain.ErrDuplicateMessage
	}

	if err := c.applyEffect(ctx, tx, env); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %v", coreDomain.ErrPersistence, err)
	}
	return nil
}

func (c *EventConsumer) applyEffect(ctx context.Context, tx repository.Querier, env coreDomain.DeliveryEnvelope) error {
	switch env.EventType {
	case events.EventTypeStockAdjusted:
		var payload events.StockAdjustedPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return fmt.Errorf("decoding stock-adjusted payload: %w", err)
		}
		return c.projection.ApplyAdjustment(ctx, tx, payload.ItemID, payload.Delta, time.Now().UTC())
	default:
		// Supports() admitted it, so a miss here is a wiring defect.
		return fmt.Errorf("no effect handler for event type %q", env.EventType)
	}
}

func (c *EventConsumer) sendToDeadLetter(ctx context.Context, data []byte, reason string) {
	subject := fmt.Sprintf("%s.%s", c.config.DeadLetterSubject, c.config.SourceService)
	if err := c.dlq.Publish(ctx, subject, data); err != nil {
		c.logger.ErrorContext(ctx, "dead-letter publish failed", "reason", reason, "error", err)
	}
}

// JetStreamHandler adapts HandleDelivery to a JetStream subscription.
func (c *EventConsumer) JetStreamHandler(ctx context.Context) func(msg jetstream.Msg) {
	return func(msg jetstream.Msg) {
		switch c.HandleDelivery(ctx, msg.Data()) {
		case DispositionAck:
			if err := msg.Ack(); err != nil {
				c.logger.ErrorContext(ctx, "ack failed", "error", err)
			}
		case DispositionNak:
			var err error
			if c.config.RedeliveryDelay > 0 {
				err = msg.NakWithDelay(c.config.RedeliveryDelay)
			} else {
				err = msg.Nak()
			}
			if err != nil {
				c.logger.ErrorContext(ctx, "nak failed", "error", err)
			}
		}
	}
}
