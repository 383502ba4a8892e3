package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client provides instance-scoped Redis operations for the journal.
// All keys and channels are automatically namespaced with the instance name.
// The client is thread-safe and can be used concurrently from multiple
// goroutines.
type Client struct {
	rdb          *redis.Client
	instanceName string
}

// NewClient creates a new journal client for the specified instance.
//
// Parameters:
//   - redisOpts: Redis connection options (address, password, DB, etc.)
//   - instanceName: Drey instance identifier (must not be empty)
//
// Returns an error if instanceName is empty.
func NewClient(redisOpts *redis.Options, instanceName string) (*Client, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &Client{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// InstanceName returns the instance this client is scoped to.
func (c *Client) InstanceName() string {
	return c.instanceName
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// -----------------------------------------------------------------------------
// Durable event log (Redis stream)
// -----------------------------------------------------------------------------

// AppendEvent appends an envelope atomically to the durable log and returns
// the assigned offset (the stream ID). The append is the producer's only side
// effect; stream IDs are monotonic, so offsets give a total order.
func (c *Client) AppendEvent(ctx context.Context, e *EventEnvelope) (string, error) {
	values, err := EnvelopeToStreamValues(e)
	if err != nil {
		return "", fmt.Errorf("failed to serialize envelope: %w", err)
	}

	offset, err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: EventStreamKey(c.instanceName),
		ID:     "*",
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to append event to log: %w", err)
	}

	return offset, nil
}

// ReadEventsAfter reads up to count envelopes with offsets strictly greater
// than afterOffset, in offset order. Pass an empty afterOffset to read from
// the beginning of the log. Returns an empty slice when caught up.
func (c *Client) ReadEventsAfter(ctx context.Context, afterOffset string, count int64) ([]*EventEnvelope, error) {
	start := "-"
	if afterOffset != "" {
		next, err := nextOffset(afterOffset)
		if err != nil {
			return nil, err
		}
		start = next
	}

	messages, err := c.rdb.XRangeN(ctx, EventStreamKey(c.instanceName), start, "+", count).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read event log: %w", err)
	}

	envelopes := make([]*EventEnvelope, 0, len(messages))
	for _, msg := range messages {
		envelope, err := StreamValuesToEnvelope(msg.ID, msg.Values)
		if err != nil {
			return nil, fmt.Errorf("failed to deserialize event %s: %w", msg.ID, err)
		}
		envelopes = append(envelopes, envelope)
	}

	return envelopes, nil
}

// nextOffset returns the smallest stream ID strictly greater than offset.
// Stream IDs are "ms-seq"; incrementing the sequence part avoids depending on
// exclusive-range support in the server.
func nextOffset(offset string) (string, error) {
	ms, seq, ok := strings.Cut(offset, "-")
	if !ok {
		return "", fmt.Errorf("malformed log offset: %q", offset)
	}
	n, err := strconv.ParseUint(seq, 10, 64)
	if err != nil {
		return "", fmt.Errorf("malformed log offset: %q", offset)
	}
	return fmt.Sprintf("%s-%d", ms, n+1), nil
}

// GetCursor returns a consumer's committed read position, or "" if the
// consumer has never committed (fresh start from the log's beginning).
func (c *Client) GetCursor(ctx context.Context, consumer string) (string, error) {
	cursor, err := c.rdb.Get(ctx, CursorKey(c.instanceName, consumer)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read cursor: %w", err)
	}
	return cursor, nil
}

// CommitCursor records that the consumer has fully processed every event up
// to and including offset. Committed only after the whole cartridge chain
// completes, so a crash replays the in-flight event.
func (c *Client) CommitCursor(ctx context.Context, consumer, offset string) error {
	if err := c.rdb.Set(ctx, CursorKey(c.instanceName, consumer), offset, 0).Err(); err != nil {
		return fmt.Errorf("failed to commit cursor: %w", err)
	}
	return nil
}

// DeadLetter copies a poisoned envelope to the dead-letter stream with the
// failure reason. The caller advances its cursor regardless, so one poisoned
// event never stalls the pipeline.
func (c *Client) DeadLetter(ctx context.Context, e *EventEnvelope, reason string) error {
	values, err := EnvelopeToStreamValues(e)
	if err != nil {
		return fmt.Errorf("failed to serialize envelope: %w", err)
	}
	values["original_offset"] = e.Offset
	values["failure_reason"] = reason

	if err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: DeadLetterStreamKey(c.instanceName),
		ID:     "*",
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("failed to dead-letter event: %w", err)
	}
	return nil
}

// DeadLetterCount returns the number of dead-lettered events.
func (c *Client) DeadLetterCount(ctx context.Context) (int64, error) {
	n, err := c.rdb.XLen(ctx, DeadLetterStreamKey(c.instanceName)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count dead letters: %w", err)
	}
	return n, nil
}

// -----------------------------------------------------------------------------
// Dedup store
// -----------------------------------------------------------------------------

// InsertDedup atomically inserts a dedup record if the idempotency key is
// absent. Returns true if the record was newly inserted (first delivery) and
// false if it already existed (duplicate). This single compare-and-set is
// simultaneously the duplicate check and the mark.
func (c *Client) InsertDedup(ctx context.Context, idempotencyKey string, record *DedupRecord) (bool, error) {
	recordJSON, err := json.Marshal(record)
	if err != nil {
		return false, fmt.Errorf("failed to marshal dedup record: %w", err)
	}

	inserted, err := c.rdb.SetNX(ctx, DedupKey(c.instanceName, idempotencyKey), recordJSON, 0).Result()
	if err != nil {
		return false, fmt.Errorf("failed to insert dedup record: %w", err)
	}
	return inserted, nil
}

// GetDedup returns the dedup record for an idempotency key.
// Returns (nil, redis.Nil) if the key has never been processed.
func (c *Client) GetDedup(ctx context.Context, idempotencyKey string) (*DedupRecord, error) {
	data, err := c.rdb.Get(ctx, DedupKey(c.instanceName, idempotencyKey)).Bytes()
	if err == redis.Nil {
		return nil, redis.Nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read dedup record: %w", err)
	}

	var record DedupRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dedup record: %w", err)
	}
	return &record, nil
}

// -----------------------------------------------------------------------------
// Integration lease (fenced mutual exclusion)
// -----------------------------------------------------------------------------

// acquireLeaseScript refuses if a non-expired lease exists, otherwise bumps
// the fencing counter and writes "holder:token" with the TTL, atomically.
var acquireLeaseScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return -1
end
local token = redis.call('INCR', KEYS[2])
redis.call('SET', KEYS[1], ARGV[1] .. ':' .. token, 'PX', ARGV[2])
return token
`)

// renewLeaseScript extends the TTL only if the live lease still matches the
// caller's holder and token.
var renewLeaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
	return 1
end
return 0
`)

// releaseLeaseScript deletes the lease only if it still belongs to the caller.
var releaseLeaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	redis.call('DEL', KEYS[1])
	return 1
end
return 0
`)

// AcquireLease attempts to take the integration lease for holderID with the
// given TTL. Returns the fencing token on success. Fencing tokens strictly
// increase across acquisitions, so a holder with a lower token than the live
// lease is provably stale.
//
// Returns ErrLeaseDenied if a non-expired lease is already held.
func (c *Client) AcquireLease(ctx context.Context, holderID string, ttl time.Duration) (int64, error) {
	result, err := acquireLeaseScript.Run(ctx, c.rdb,
		[]string{LeaseKey(c.instanceName), LeaseTokenKey(c.instanceName)},
		holderID, ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to acquire lease: %w", err)
	}
	if result < 0 {
		return 0, ErrLeaseDenied
	}
	return result, nil
}

// RenewLease extends the lease expiry. Must be called well before the TTL
// elapses (the integrator renews at TTL/3 intervals).
//
// Returns ErrStaleLease if the lease expired or was taken by another holder.
func (c *Client) RenewLease(ctx context.Context, holderID string, token int64, ttl time.Duration) error {
	result, err := renewLeaseScript.Run(ctx, c.rdb,
		[]string{LeaseKey(c.instanceName)},
		leaseValue(holderID, token), ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return fmt.Errorf("failed to renew lease: %w", err)
	}
	if result == 0 {
		return ErrStaleLease
	}
	return nil
}

// ReleaseLease clears the lease early on clean shutdown.
// Returns ErrStaleLease if the lease no longer belongs to the caller, which
// is harmless at shutdown but worth logging.
func (c *Client) ReleaseLease(ctx context.Context, holderID string, token int64) error {
	result, err := releaseLeaseScript.Run(ctx, c.rdb,
		[]string{LeaseKey(c.instanceName)},
		leaseValue(holderID, token),
	).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	if result == 0 {
		return ErrStaleLease
	}
	return nil
}

// LeaseValid reports whether the caller's holder and token still match the
// live lease. The integrator re-verifies this before every side-effecting
// step so a holder that lost leadership never completes a write.
func (c *Client) LeaseValid(ctx context.Context, holderID string, token int64) (bool, error) {
	value, err := c.rdb.Get(ctx, LeaseKey(c.instanceName)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check lease: %w", err)
	}
	return value == leaseValue(holderID, token), nil
}

// LeaseHeld reports whether any non-expired lease currently exists.
// The trigger cartridge uses this to decide whether to spawn an integrator.
func (c *Client) LeaseHeld(ctx context.Context) (bool, error) {
	exists, err := c.rdb.Exists(ctx, LeaseKey(c.instanceName)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check lease existence: %w", err)
	}
	return exists > 0, nil
}

// CurrentLease returns the live lease, or (nil, redis.Nil) if none is held.
func (c *Client) CurrentLease(ctx context.Context) (*Lease, error) {
	value, err := c.rdb.Get(ctx, LeaseKey(c.instanceName)).Result()
	if err == redis.Nil {
		return nil, redis.Nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read lease: %w", err)
	}

	// holder IDs may contain ':'; the token is everything after the last one
	idx := strings.LastIndex(value, ":")
	if idx < 0 {
		return nil, fmt.Errorf("malformed lease value: %q", value)
	}
	token, err := strconv.ParseInt(value[idx+1:], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed lease token in %q: %w", value, err)
	}

	return &Lease{HolderID: value[:idx], Token: token}, nil
}

func leaseValue(holderID string, token int64) string {
	return fmt.Sprintf("%s:%d", holderID, token)
}

// -----------------------------------------------------------------------------
// Integration queue
// -----------------------------------------------------------------------------

// Enqueue adds a READY candidate to the integration queue, FIFO by ready
// time. Uses ZADD NX so re-enqueueing an already queued candidate is a no-op.
// Returns true if the entry was newly added.
func (c *Client) Enqueue(ctx context.Context, entry *QueueEntry) (bool, error) {
	if err := entry.Ref.Validate(); err != nil {
		return false, fmt.Errorf("invalid queue entry: %w", err)
	}

	added, err := c.rdb.ZAddNX(ctx, QueueKey(c.instanceName), redis.Z{
		Score:  float64(entry.ReadyAtMs),
		Member: entry.Ref.String(),
	}).Result()
	if err != nil {
		return false, fmt.Errorf("failed to enqueue candidate: %w", err)
	}
	return added > 0, nil
}

// PeekQueue returns the oldest unacked entry without removing it.
// Returns (nil, redis.Nil) if the queue is empty. A crash mid-processing
// leaves the entry visible to the next lease holder.
func (c *Client) PeekQueue(ctx context.Context) (*QueueEntry, error) {
	results, err := c.rdb.ZRangeWithScores(ctx, QueueKey(c.instanceName), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to peek queue: %w", err)
	}
	if len(results) == 0 {
		return nil, redis.Nil
	}

	member, _ := results[0].Member.(string)
	ref, err := ParseCandidateRef(member)
	if err != nil {
		return nil, fmt.Errorf("corrupt queue entry: %w", err)
	}

	return &QueueEntry{Ref: ref, ReadyAtMs: int64(results[0].Score)}, nil
}

// AckQueue removes an entry after processing completed, successfully or with
// a terminal failure. Removal only ever happens by explicit ack.
func (c *Client) AckQueue(ctx context.Context, entry *QueueEntry) error {
	if err := c.rdb.ZRem(ctx, QueueKey(c.instanceName), entry.Ref.String()).Err(); err != nil {
		return fmt.Errorf("failed to ack queue entry: %w", err)
	}
	return nil
}

// QueueEntries returns all queued entries in FIFO order. Used for status
// display; the integrator itself only ever peeks and acks.
func (c *Client) QueueEntries(ctx context.Context) ([]QueueEntry, error) {
	results, err := c.rdb.ZRangeWithScores(ctx, QueueKey(c.instanceName), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}

	entries := make([]QueueEntry, 0, len(results))
	for _, z := range results {
		member, _ := z.Member.(string)
		ref, err := ParseCandidateRef(member)
		if err != nil {
			return nil, fmt.Errorf("corrupt queue entry: %w", err)
		}
		entries = append(entries, QueueEntry{Ref: ref, ReadyAtMs: int64(z.Score)})
	}
	return entries, nil
}

// -----------------------------------------------------------------------------
// Notification records
// -----------------------------------------------------------------------------

// PutNotification writes a notification record (full replacement) and indexes
// its group key. Validates the record before writing.
func (c *Client) PutNotification(ctx context.Context, n *NotificationRecord) error {
	if err := n.Validate(); err != nil {
		return fmt.Errorf("invalid notification: %w", err)
	}

	hash, err := NotificationToHash(n)
	if err != nil {
		return fmt.Errorf("failed to serialize notification: %w", err)
	}

	key := NotificationKey(c.instanceName, n.GroupKey)
	if err := c.rdb.HSet(ctx, key, hash).Err(); err != nil {
		return fmt.Errorf("failed to write notification: %w", err)
	}
	if err := c.rdb.SAdd(ctx, NotificationIndexKey(c.instanceName), n.GroupKey).Err(); err != nil {
		return fmt.Errorf("failed to index notification: %w", err)
	}
	return nil
}

// GetNotification retrieves a notification record by group key.
// Returns (nil, redis.Nil) if no record exists. Use IsNotFound to check.
func (c *Client) GetNotification(ctx context.Context, groupKey string) (*NotificationRecord, error) {
	hashData, err := c.rdb.HGetAll(ctx, NotificationKey(c.instanceName, groupKey)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read notification: %w", err)
	}
	// HGetAll returns an empty map for non-existent keys
	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	record, err := HashToNotification(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize notification: %w", err)
	}
	return record, nil
}

// ListNotifications returns all known notification records. Order is
// unspecified; callers sort for display.
func (c *Client) ListNotifications(ctx context.Context) ([]*NotificationRecord, error) {
	groupKeys, err := c.rdb.SMembers(ctx, NotificationIndexKey(c.instanceName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}

	records := make([]*NotificationRecord, 0, len(groupKeys))
	for _, groupKey := range groupKeys {
		record, err := c.GetNotification(ctx, groupKey)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// -----------------------------------------------------------------------------
// Projection snapshot and integrator checkpoint
// -----------------------------------------------------------------------------

// SaveSnapshot persists an opaque projection snapshot. The projection is
// always rebuildable from the log alone; the snapshot only shortens replay.
func (c *Client) SaveSnapshot(ctx context.Context, snapshot []byte) error {
	if err := c.rdb.Set(ctx, SnapshotKey(c.instanceName), snapshot, 0).Err(); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the persisted projection snapshot.
// Returns (nil, redis.Nil) if no snapshot exists.
func (c *Client) LoadSnapshot(ctx context.Context) ([]byte, error) {
	data, err := c.rdb.Get(ctx, SnapshotKey(c.instanceName)).Bytes()
	if err == redis.Nil {
		return nil, redis.Nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return data, nil
}

// SaveCheckpoint records the integrator's last-processed position before it
// releases the lease and terminates.
func (c *Client) SaveCheckpoint(ctx context.Context, offset string) error {
	if err := c.rdb.Set(ctx, CheckpointKey(c.instanceName), offset, 0).Err(); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint returns the integrator's last checkpoint, or "" if none.
func (c *Client) LoadCheckpoint(ctx context.Context) (string, error) {
	offset, err := c.rdb.Get(ctx, CheckpointKey(c.instanceName)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return offset, nil
}

// -----------------------------------------------------------------------------
// Pub/Sub side channels
// -----------------------------------------------------------------------------

// PublishWake signals a running integrator that new candidates are ready.
// Safe to publish with no subscribers (the integrator drains on startup).
func (c *Client) PublishWake(ctx context.Context) error {
	if err := c.rdb.Publish(ctx, IntegratorWakeChannel(c.instanceName), "wake").Err(); err != nil {
		return fmt.Errorf("failed to publish wake: %w", err)
	}
	return nil
}

// WakeSubscription represents an active Pub/Sub subscription to integrator
// wake signals. Caller must call Close() when done.
type WakeSubscription struct {
	signals <-chan struct{}
	cancel  func()
	once    sync.Once
}

// Signals returns the channel of wake signals.
func (s *WakeSubscription) Signals() <-chan struct{} {
	return s.signals
}

// Close stops the subscription. Safe to call multiple times.
func (s *WakeSubscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeWake subscribes to integrator wake signals for this instance.
// Wake delivery is at-most-once; the integrator also drains on a timer, so a
// missed wake only adds latency.
func (c *Client) SubscribeWake(ctx context.Context) (*WakeSubscription, error) {
	pubsub := c.rdb.Subscribe(ctx, IntegratorWakeChannel(c.instanceName))

	signalsChan := make(chan struct{}, 1)
	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(signalsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				// Coalesce: one pending signal is enough
				select {
				case signalsChan <- struct{}{}:
				default:
				}
			}
		}
	}()

	return &WakeSubscription{signals: signalsChan, cancel: cancelFunc}, nil
}

// PublishDelta publishes a notification delta to the delivery fanout channel.
func (c *Client) PublishDelta(ctx context.Context, delta *NotificationDelta) error {
	deltaJSON, err := json.Marshal(delta)
	if err != nil {
		return fmt.Errorf("failed to marshal notification delta: %w", err)
	}
	if err := c.rdb.Publish(ctx, NotificationEventsChannel(c.instanceName), deltaJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish notification delta: %w", err)
	}
	return nil
}

// DeltaSubscription represents an active Pub/Sub subscription to notification
// deltas. Caller must call Close() when done.
type DeltaSubscription struct {
	deltas <-chan *NotificationDelta
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Deltas returns the channel of notification deltas.
func (s *DeltaSubscription) Deltas() <-chan *NotificationDelta {
	return s.deltas
}

// Errors returns the channel of subscription errors.
// The subscription continues after errors - malformed messages are skipped.
func (s *DeltaSubscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription. Safe to call multiple times.
func (s *DeltaSubscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeDeltas subscribes to notification deltas for this instance.
// Used by outbound delivery transports and `drey watch`.
func (c *Client) SubscribeDeltas(ctx context.Context) (*DeltaSubscription, error) {
	pubsub := c.rdb.Subscribe(ctx, NotificationEventsChannel(c.instanceName))

	deltasChan := make(chan *NotificationDelta, 10)
	errorsChan := make(chan error, 10)
	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(deltasChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var delta NotificationDelta
				if err := json.Unmarshal([]byte(msg.Payload), &delta); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal notification delta: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case deltasChan <- &delta:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &DeltaSubscription{deltas: deltasChan, errors: errorsChan, cancel: cancelFunc}, nil
}
