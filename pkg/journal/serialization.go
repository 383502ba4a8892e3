package journal

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Serialization helpers for converting between Go structs and Redis value maps
//
// Stream entries and hashes store string-to-string maps. Complex fields like
// the event payload and meaningful-field snapshots are JSON-encoded into a
// single field. This keeps individual fields queryable while leaving room for
// structured data.

// EnvelopeToStreamValues converts an EventEnvelope to XADD field values.
// The Offset is not stored: the stream ID is the offset.
func EnvelopeToStreamValues(e *EventEnvelope) (map[string]interface{}, error) {
	payloadJSON, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	return map[string]interface{}{
		"event_type":      e.EventType,
		"domain":          e.Domain,
		"level":           string(e.Level),
		"payload":         string(payloadJSON),
		"idempotency_key": e.IdempotencyKey,
		"source":          e.Source,
		"emitted_at_ms":   e.EmittedAtMs,
	}, nil
}

// StreamValuesToEnvelope converts a stream entry back to an EventEnvelope.
// The stream ID becomes the envelope's Offset.
func StreamValuesToEnvelope(id string, values map[string]interface{}) (*EventEnvelope, error) {
	str := func(field string) string {
		if v, ok := values[field].(string); ok {
			return v
		}
		return ""
	}

	var payload map[string]string
	if payloadJSON := str("payload"); payloadJSON != "" {
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
	}
	if payload == nil {
		payload = map[string]string{}
	}

	emittedAtMs, _ := strconv.ParseInt(str("emitted_at_ms"), 10, 64)

	return &EventEnvelope{
		EventType:      str("event_type"),
		Domain:         str("domain"),
		Level:          Level(str("level")),
		Payload:        payload,
		IdempotencyKey: str("idempotency_key"),
		Offset:         id,
		Source:         str("source"),
		EmittedAtMs:    emittedAtMs,
	}, nil
}

// NotificationToHash converts a NotificationRecord to a Redis hash format.
// The meaningful-field snapshot is JSON-encoded.
func NotificationToHash(n *NotificationRecord) (map[string]interface{}, error) {
	snapshotJSON, err := json.Marshal(n.LastMeaningful)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal meaningful snapshot: %w", err)
	}

	return map[string]interface{}{
		"group_key":       n.GroupKey,
		"status":          string(n.Status),
		"last_meaningful": string(snapshotJSON),
		"created_at_ms":   n.CreatedAtMs,
		"updated_at_ms":   n.UpdatedAtMs,
		"resolved_at_ms":  n.ResolvedAtMs,
	}, nil
}

// HashToNotification converts a Redis hash to a NotificationRecord.
func HashToNotification(hash map[string]string) (*NotificationRecord, error) {
	var snapshot map[string]string
	if snapshotJSON := hash["last_meaningful"]; snapshotJSON != "" {
		if err := json.Unmarshal([]byte(snapshotJSON), &snapshot); err != nil {
			return nil, fmt.Errorf("failed to unmarshal last_meaningful: %w", err)
		}
	}
	if snapshot == nil {
		snapshot = map[string]string{}
	}

	createdAtMs, _ := strconv.ParseInt(hash["created_at_ms"], 10, 64)
	updatedAtMs, _ := strconv.ParseInt(hash["updated_at_ms"], 10, 64)
	resolvedAtMs, _ := strconv.ParseInt(hash["resolved_at_ms"], 10, 64)

	return &NotificationRecord{
		GroupKey:       hash["group_key"],
		Status:         NotificationStatus(hash["status"]),
		LastMeaningful: snapshot,
		CreatedAtMs:    createdAtMs,
		UpdatedAtMs:    updatedAtMs,
		ResolvedAtMs:   resolvedAtMs,
	}, nil
}
