package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// DeliveryEnvelope is the wire representation of an outbox record. MessageID
// equals the record ID and is stable across retries; it is the consumer-side
// deduplication key.
type DeliveryEnvelope struct {
	MessageID      string          `json:"messageId"`
	AggregateID    string          `json:"aggregateId"`
	EventType      string          `json:"eventType"`
	PayloadVersion string          `json:"payloadVersion"`
	Timestamp      time.Time       `json:"timestamp"`
	SourceService  string          `json:"sourceService"`
	CorrelationID  string          `json:"correlationId,omitempty"`
	Payload        json.RawMessage `json:"payload"`
}

// NewEnvelope builds the envelope for a claimed record.
func NewEnvelope(rec *OutboxRecord, sourceService string) DeliveryEnvelope {
	env := DeliveryEnvelope{
		MessageID:      rec.ID,
		AggregateID:    rec.AggregateID,
		EventType:      rec.EventType,
		PayloadVersion: rec.PayloadVersion,
		Timestamp:      rec.CreatedAt.UTC(),
		SourceService:  sourceService,
		Payload:        rec.Payload,
	}
	if rec.CorrelationID != nil {
		env.CorrelationID = *rec.CorrelationID
	}
	return env
}

// Subject derives the routing identity for the envelope. The payload major
// version is part of the subject, so a breaking schema change is published
// under a distinguishable identity instead of silently replacing the old one.
func (e DeliveryEnvelope) Subject(root string) (string, error) {
	major, _, err := ParseVersion(e.PayloadVersion)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s.%s.%s.v%d", root, e.SourceService, e.EventType, major), nil
}
