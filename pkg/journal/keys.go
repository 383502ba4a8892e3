package journal

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced by instance name to
// enable multiple Drey instances to safely coexist on a single Redis server.
//
// Key pattern: drey:{instance_name}:{entity}[:{id}]
// Channel pattern: drey:{instance_name}:{event_type}_events

// EventStreamKey returns the Redis stream key for the durable event log.
// Pattern: drey:{instance_name}:events
func EventStreamKey(instanceName string) string {
	return fmt.Sprintf("drey:%s:events", instanceName)
}

// DeadLetterStreamKey returns the Redis stream key for dead-lettered events.
// Pattern: drey:{instance_name}:deadletters
func DeadLetterStreamKey(instanceName string) string {
	return fmt.Sprintf("drey:%s:deadletters", instanceName)
}

// CursorKey returns the key holding a consumer's committed read position.
// Pattern: drey:{instance_name}:cursor:{consumer}
func CursorKey(instanceName, consumer string) string {
	return fmt.Sprintf("drey:%s:cursor:%s", instanceName, consumer)
}

// DedupKey returns the key for a processed idempotency key record.
// Pattern: drey:{instance_name}:dedup:{idempotency_key}
func DedupKey(instanceName, idempotencyKey string) string {
	return fmt.Sprintf("drey:%s:dedup:%s", instanceName, idempotencyKey)
}

// LeaseKey returns the key holding the integration lease.
// Pattern: drey:{instance_name}:lease
func LeaseKey(instanceName string) string {
	return fmt.Sprintf("drey:%s:lease", instanceName)
}

// LeaseTokenKey returns the key for the fencing token counter.
// Pattern: drey:{instance_name}:lease_token
func LeaseTokenKey(instanceName string) string {
	return fmt.Sprintf("drey:%s:lease_token", instanceName)
}

// QueueKey returns the key for the integration queue ZSET.
// Members are candidate refs, scores are ready_at timestamps.
// Pattern: drey:{instance_name}:queue
func QueueKey(instanceName string) string {
	return fmt.Sprintf("drey:%s:queue", instanceName)
}

// NotificationKey returns the key for a notification record hash.
// Pattern: drey:{instance_name}:notification:{group_key}
func NotificationKey(instanceName, groupKey string) string {
	return fmt.Sprintf("drey:%s:notification:%s", instanceName, groupKey)
}

// NotificationIndexKey returns the key for the set of known group keys.
// Pattern: drey:{instance_name}:notifications
func NotificationIndexKey(instanceName string) string {
	return fmt.Sprintf("drey:%s:notifications", instanceName)
}

// SnapshotKey returns the key for the readiness projection snapshot.
// Pattern: drey:{instance_name}:projection_snapshot
func SnapshotKey(instanceName string) string {
	return fmt.Sprintf("drey:%s:projection_snapshot", instanceName)
}

// CheckpointKey returns the key for the integrator's last-processed marker.
// Pattern: drey:{instance_name}:integrator_checkpoint
func CheckpointKey(instanceName string) string {
	return fmt.Sprintf("drey:%s:integrator_checkpoint", instanceName)
}

// IntegratorWakeChannel returns the Pub/Sub channel used to wake an already
// running integrator when new candidates become ready.
// Pattern: drey:{instance_name}:integrator_wake
func IntegratorWakeChannel(instanceName string) string {
	return fmt.Sprintf("drey:%s:integrator_wake", instanceName)
}

// NotificationEventsChannel returns the Pub/Sub channel carrying notification
// deltas to delivery transports.
// Pattern: drey:{instance_name}:notification_events
func NotificationEventsChannel(instanceName string) string {
	return fmt.Sprintf("drey:%s:notification_events", instanceName)
}
