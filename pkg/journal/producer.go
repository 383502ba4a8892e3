package journal

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Producer validates raw events against the catalog and appends them to the
// durable log. It has no side effects beyond the append: dedup, readiness and
// notification state are owned by the pipeline's cartridges.
type Producer struct {
	catalog *Catalog
	client  *Client
}

// NewProducer creates a producer backed by the given catalog and journal client.
func NewProducer(catalog *Catalog, client *Client) *Producer {
	return &Producer{catalog: catalog, client: client}
}

// EmitOption customises a single emit call.
type EmitOption func(*EventEnvelope)

// WithLevel overrides the schema's default level for this event.
func WithLevel(level Level) EmitOption {
	return func(e *EventEnvelope) { e.Level = level }
}

// Emit validates the payload against the registered schema, derives the
// idempotency key, and appends the event atomically to the durable log.
// Returns the envelope with its assigned offset.
//
// Fails with ErrUnknownEventType if no schema is registered for eventType,
// and with a field error if a declared idempotency field is missing from the
// payload.
func (p *Producer) Emit(ctx context.Context, eventType string, payload map[string]string, source string, opts ...EmitOption) (*EventEnvelope, error) {
	schema, err := p.catalog.Get(eventType)
	if err != nil {
		return nil, err
	}

	key, err := ComputeIdempotencyKey(schema, payload)
	if err != nil {
		return nil, err
	}

	if payload == nil {
		payload = map[string]string{}
	}

	envelope := &EventEnvelope{
		EventType:      schema.EventType,
		Domain:         schema.Domain,
		Level:          schema.DefaultLevel,
		Payload:        payload,
		IdempotencyKey: key,
		Source:         source,
		EmittedAtMs:    time.Now().UnixMilli(),
	}

	for _, opt := range opts {
		opt(envelope)
	}

	if err := envelope.Validate(); err != nil {
		return nil, fmt.Errorf("invalid event: %w", err)
	}

	offset, err := p.client.AppendEvent(ctx, envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to append event: %w", err)
	}
	envelope.Offset = offset

	return envelope, nil
}

// ComputeIdempotencyKey derives the deterministic duplicate-detection key for
// a payload: sha256 over the event type and the values of the schema's
// declared idempotency fields, in declaration order. Every declared field
// must be present in the payload.
func ComputeIdempotencyKey(schema *EventSchema, payload map[string]string) (string, error) {
	h := sha256.New()
	h.Write([]byte(schema.EventType))
	for _, field := range schema.IdempotencyFields {
		value, ok := payload[field]
		if !ok {
			return "", fmt.Errorf("payload missing idempotency field %q for %s", field, schema.EventType)
		}
		// NUL separators keep ("ab","c") distinct from ("a","bc").
		h.Write([]byte{0})
		h.Write([]byte(value))
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
