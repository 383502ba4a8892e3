package readiness

import (
	"context"
	"fmt"

	"github.com/dyluth/drey/pkg/journal"
)

// replayBatchSize bounds one log read during rebuild.
const replayBatchSize = 256

// Rebuild reconstructs the projection from durable state: the latest snapshot
// if one exists, then a replay of the log tail. Replay applies events to
// in-memory state only; afterwards any candidate that reached READY but has
// no queue entry is re-enqueued (ZADD NX keeps this idempotent), closing the
// crash window between the READY transition and the enqueue.
//
// Returns the log cursor the projection is caught up to; the pipeline runtime
// continues from its own committed cursor, which is at or ahead of this.
func Rebuild(ctx context.Context, client *journal.Client, projection *Projection) (string, error) {
	cursor, err := Replay(ctx, client, projection)
	if err != nil {
		return "", err
	}

	if err := reconcileQueue(ctx, client, projection); err != nil {
		return "", err
	}

	return cursor, nil
}

// Replay reconstructs projection state without touching durable state: it is
// the read-only half of Rebuild, also used by the CLI to inspect candidates
// without disturbing a running pipeline.
func Replay(ctx context.Context, client *journal.Client, projection *Projection) (string, error) {
	cursor := ""

	data, err := client.LoadSnapshot(ctx)
	if err != nil && !journal.IsNotFound(err) {
		return "", fmt.Errorf("failed to load snapshot: %w", err)
	}
	if err == nil {
		cursor, err = projection.Restore(data)
		if err != nil {
			return "", fmt.Errorf("failed to restore snapshot: %w", err)
		}
	}

	// Replay the tail. Event timestamps stand in for "now" so ready_at is
	// stable across rebuilds.
	for {
		envelopes, err := client.ReadEventsAfter(ctx, cursor, replayBatchSize)
		if err != nil {
			return "", fmt.Errorf("failed to replay log after %s: %w", cursor, err)
		}
		if len(envelopes) == 0 {
			break
		}
		for _, envelope := range envelopes {
			projection.Apply(envelope, envelope.EmittedAtMs)
			cursor = envelope.Offset
		}
	}

	return cursor, nil
}

// reconcileQueue aligns projection state with the persisted queue. READY
// candidates missing from the queue are enqueued; candidates with a live
// queue entry are marked queued.
func reconcileQueue(ctx context.Context, client *journal.Client, projection *Projection) error {
	entries, err := client.QueueEntries(ctx)
	if err != nil {
		return fmt.Errorf("failed to read queue during rebuild: %w", err)
	}

	queued := make(map[string]bool, len(entries))
	for _, entry := range entries {
		queued[entry.Ref.Slug] = true
	}

	for _, candidate := range projection.Candidates() {
		switch {
		case candidate.State.Terminal():
			// Done or set aside; its queue entry was acked
		case queued[candidate.Ref.Slug]:
			projection.MarkQueued(candidate.Ref.Slug)
		case candidate.State == journal.CandidateReady:
			if _, err := client.Enqueue(ctx, &journal.QueueEntry{
				Ref:       candidate.Ref,
				ReadyAtMs: candidate.ReadyAtMs,
			}); err != nil {
				return fmt.Errorf("failed to re-enqueue %s during rebuild: %w", candidate.Ref.Slug, err)
			}
			projection.MarkQueued(candidate.Ref.Slug)
		}
	}

	return nil
}

// SnapshotWriter adapts the projection to the pipeline's Snapshotter
// interface, persisting encoded snapshots through the journal client.
type SnapshotWriter struct {
	client     *journal.Client
	projection *Projection
}

// NewSnapshotWriter creates a snapshot writer.
func NewSnapshotWriter(client *journal.Client, projection *Projection) *SnapshotWriter {
	return &SnapshotWriter{client: client, projection: projection}
}

// Snapshot implements pipeline.Snapshotter.
func (w *SnapshotWriter) Snapshot(ctx context.Context, cursor string) error {
	data, err := w.projection.Encode(cursor)
	if err != nil {
		return err
	}
	return w.client.SaveSnapshot(ctx, data)
}
