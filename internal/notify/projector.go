package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/dyluth/drey/pkg/journal"
)

// Projector is the notification-lifecycle cartridge. It is driven entirely by
// the schema's NotificationLifecycle declaration:
//
//   - creates: open a record for the group key if none is open
//   - updates: diff meaningful fields; unchanged diffs are pure no-ops so
//     humans are never re-notified about nothing
//   - resolves: terminal; only a fresh creates event reopens the group
//
// Its only external effect is handing the resulting delta to the Deliverer.
type Projector struct {
	client    *journal.Client
	catalog   *journal.Catalog
	deliverer Deliverer
}

// NewProjector creates the notification projector cartridge.
func NewProjector(client *journal.Client, catalog *journal.Catalog, deliverer Deliverer) *Projector {
	return &Projector{client: client, catalog: catalog, deliverer: deliverer}
}

// Name implements pipeline.Cartridge.
func (p *Projector) Name() string { return "notification-projector" }

// Process applies the event's lifecycle declaration to the notification
// store. Events without a lifecycle pass through untouched.
func (p *Projector) Process(ctx context.Context, envelope *journal.EventEnvelope) (*journal.EventEnvelope, error) {
	schema, err := p.catalog.Get(envelope.EventType)
	if err != nil {
		// Log-replayed events may predate the current catalog; nothing to project
		return envelope, nil
	}
	lifecycle := schema.Lifecycle
	if lifecycle == nil {
		return envelope, nil
	}

	groupKey := envelope.Payload[lifecycle.GroupKeyField]
	if groupKey == "" {
		return nil, fmt.Errorf("event %s missing group key field %q", envelope.Offset, lifecycle.GroupKeyField)
	}

	record, err := p.client.GetNotification(ctx, groupKey)
	if err != nil && !journal.IsNotFound(err) {
		return nil, fmt.Errorf("failed to load notification %s: %w", groupKey, err)
	}
	if journal.IsNotFound(err) {
		record = nil
	}

	nowMs := time.Now().UnixMilli()

	switch {
	case lifecycle.Creates:
		return envelope, p.create(ctx, record, groupKey, lifecycle, envelope, nowMs)
	case lifecycle.Updates:
		return envelope, p.update(ctx, record, groupKey, lifecycle, envelope, nowMs)
	case lifecycle.Resolves:
		return envelope, p.resolve(ctx, record, nowMs)
	}
	return envelope, nil
}

// create opens a record if none is open for the group key. A record that is
// already open absorbs the event silently: one group key, one open record.
func (p *Projector) create(ctx context.Context, record *journal.NotificationRecord, groupKey string, lifecycle *journal.NotificationLifecycle, envelope *journal.EventEnvelope, nowMs int64) error {
	if record != nil && record.Open() {
		return nil
	}

	fresh := &journal.NotificationRecord{
		GroupKey:       groupKey,
		Status:         journal.NotificationInProgress,
		LastMeaningful: meaningfulSnapshot(lifecycle, envelope),
		CreatedAtMs:    nowMs,
		UpdatedAtMs:    nowMs,
	}

	if err := p.client.PutNotification(ctx, fresh); err != nil {
		return err
	}
	p.publish(ctx, journal.DeltaCreated, fresh)
	return nil
}

// update diffs meaningful fields against the last snapshot. Unchanged diffs
// advance nothing visible; changed diffs bump the snapshot and reset the
// record to needs-attention. An absent record is treated as a create
// (defensive: the creating event may have been lost upstream). A resolved
// record stays resolved.
func (p *Projector) update(ctx context.Context, record *journal.NotificationRecord, groupKey string, lifecycle *journal.NotificationLifecycle, envelope *journal.EventEnvelope, nowMs int64) error {
	if record == nil {
		return p.create(ctx, record, groupKey, lifecycle, envelope, nowMs)
	}
	if !record.Open() {
		return nil
	}

	incoming := meaningfulSnapshot(lifecycle, envelope)
	if snapshotsEqual(record.LastMeaningful, incoming) {
		return nil
	}

	record.LastMeaningful = incoming
	record.UpdatedAtMs = nowMs
	record.Status = journal.NotificationUnseen

	if err := p.client.PutNotification(ctx, record); err != nil {
		return err
	}
	p.publish(ctx, journal.DeltaUpdated, record)
	return nil
}

// resolve terminally closes the open record. Resolving an absent or already
// resolved record is a no-op (replays land here).
func (p *Projector) resolve(ctx context.Context, record *journal.NotificationRecord, nowMs int64) error {
	if record == nil || !record.Open() {
		return nil
	}

	record.Status = journal.NotificationResolved
	record.ResolvedAtMs = nowMs
	record.UpdatedAtMs = nowMs

	if err := p.client.PutNotification(ctx, record); err != nil {
		return err
	}
	p.publish(ctx, journal.DeltaResolved, record)
	return nil
}

// publish hands the delta to the deliverer. Delivery failure must not poison
// the pipeline: the record is already durably written, so log and move on.
func (p *Projector) publish(ctx context.Context, kind journal.DeltaKind, record *journal.NotificationRecord) {
	if p.deliverer == nil {
		return
	}
	delta := &journal.NotificationDelta{Kind: kind, Record: *record}
	if err := p.deliverer.Deliver(ctx, delta); err != nil {
		log.Printf("[Notify] Failed to deliver %s delta for %s: %v", kind, record.GroupKey, err)
		return
	}
	p.logEvent("notification_delta", map[string]interface{}{
		"kind":      string(kind),
		"group_key": record.GroupKey,
		"status":    string(record.Status),
	})
}

// meaningfulSnapshot extracts the schema's meaningful fields from the payload.
func meaningfulSnapshot(lifecycle *journal.NotificationLifecycle, envelope *journal.EventEnvelope) map[string]string {
	snapshot := make(map[string]string, len(lifecycle.MeaningfulFields))
	for _, field := range lifecycle.MeaningfulFields {
		if value, ok := envelope.Payload[field]; ok {
			snapshot[field] = value
		}
	}
	return snapshot
}

// snapshotsEqual compares two meaningful-field snapshots.
func snapshotsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// logEvent logs a structured event in JSON format.
func (p *Projector) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "notify"
	data["event_type"] = eventType
	data["instance"] = p.client.InstanceName()

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Notify] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
