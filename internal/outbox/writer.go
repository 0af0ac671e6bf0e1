// Package outbox provides the transactional writer used by producing
// services. Appending an outbox record happens inside the caller's own
// database transaction, next to the business mutation it describes, so the
// two can never diverge: no ghost state, no lost event.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ordermesh/eventrelay/internal/core_event/domain"
	"github.com/ordermesh/eventrelay/internal/core_event/schema"
)

// Querier is the subset of pgx.Tx the writer needs. Accepting the interface
// keeps the writer inside the caller's transaction and makes it testable
// without a database.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const appendQuery = `
	INSERT INTO outbox_records (
		id, aggregate_id, event_type, payload_version, payload,
		status, attempt_count, correlation_id, created_at, next_attempt_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
`

type Option func(*appendParams)

// WithCorrelationID propagates a request correlation ID into the envelope.
func WithCorrelationID(id string) Option {
	return func(p *appendParams) {
		if id != "" {
			p.correlationID = &id
		}
	}
}

type appendParams struct {
	correlationID *string
}

// Writer appends outbox records. When constructed with a schema registry it
// rejects payloads the producer itself could never publish, before they are
// committed.
type Writer struct {
	registry *schema.Registry
}

// NewWriter creates a Writer. registry may be nil to skip producer-side
// schema validation.
func NewWriter(registry *schema.Registry) *Writer {
	return &Writer{registry: registry}
}

// Append serializes payload and inserts a PENDING outbox record using the
// caller-supplied transaction. It performs no network I/O. Any storage failure
// (including an inactive transaction) wraps domain.ErrPersistence so the
// caller aborts the business transaction.
func (w *Writer) Append(
	ctx context.Context,
	tx Querier,
	aggregateID string,
	eventType string,
	payloadVersion string,
	payload any,
	opts ...Option,
) (*domain.OutboxRecord, error) {
	if tx == nil {
		return nil, fmt.Errorf("%w: transaction is required", domain.ErrPersistence)
	}
	if strings.TrimSpace(aggregateID) == "" {
		return nil, fmt.Errorf("aggregate id is required")
	}
	if strings.TrimSpace(eventType) == "" {
		return nil, fmt.Errorf("event type is required")
	}
	if _, _, err := domain.ParseVersion(payloadVersion); err != nil {
		return nil, err
	}

	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("serializing payload: %w", err)
	}

	if w.registry != nil {
		if err := w.registry.Validate(eventType, payloadVersion, raw); err != nil {
			return nil, err
		}
	}

	var params appendParams
	for _, opt := range opts {
		opt(&params)
	}

	rec := &domain.OutboxRecord{
		ID:             uuid.NewString(),
		AggregateID:    aggregateID,
		EventType:      eventType,
		PayloadVersion: payloadVersion,
		Payload:        raw,
		Status:         domain.StatusPending,
		CorrelationID:  params.correlationID,
		CreatedAt:      time.Now().UTC(),
	}
	rec.NextAttemptAt = rec.CreatedAt

	_, err = tx.Exec(ctx, appendQuery,
		rec.ID, rec.AggregateID, rec.EventType, rec.PayloadVersion, rec.Payload,
		rec.Status, rec.AttemptCount, rec.CorrelationID, rec.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: inserting outbox record: %v", domain.ErrPersistence, err)
	}

	return rec, nil
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, fmt.Errorf("raw payload is not valid JSON")
		}
		return p, nil
	case []byte:
		if !json.Valid(p) {
			return nil, fmt.Errorf("raw payload is not valid JSON")
		}
		return json.RawMessage(p), nil
	default:
		return json.Marshal(payload)
	}
}
