package readiness

import (
	"context"
	"testing"

	"github.com/dyluth/drey/pkg/journal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendConditionEvent(t *testing.T, client *journal.Client, eventType, slug string, extra map[string]string) string {
	t.Helper()
	envelope := conditionEvent(eventType, slug, extra)
	envelope.EmittedAtMs = 1000
	offset, err := client.AppendEvent(context.Background(), envelope)
	require.NoError(t, err)
	return offset
}

func TestRebuildFromLogAlone(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	appendConditionEvent(t, client, journal.EventReviewApproved, "alpha", nil)
	last := appendConditionEvent(t, client, journal.EventDeploymentStarted, "alpha",
		map[string]string{"branch": "feat/a", "sha": "aaa"})

	projection := newTestProjection(t)
	cursor, err := Rebuild(ctx, client, projection)
	require.NoError(t, err)
	assert.Equal(t, last, cursor)

	// The READY candidate had no queue entry; rebuild closes that crash window
	entry, err := client.PeekQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alpha", entry.Ref.Slug)
	assert.Equal(t, journal.CandidateQueued, projection.Candidate("alpha").State)
}

func TestRebuildFromSnapshotPlusTail(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	// Events before the snapshot
	appendConditionEvent(t, client, journal.EventReviewApproved, "alpha", nil)

	original := newTestProjection(t)
	snapCursor, err := Replay(ctx, client, original)
	require.NoError(t, err)

	data, err := original.Encode(snapCursor)
	require.NoError(t, err)
	require.NoError(t, client.SaveSnapshot(ctx, data))

	// Tail events after the snapshot
	last := appendConditionEvent(t, client, journal.EventDeploymentStarted, "alpha", nil)

	rebuilt := newTestProjection(t)
	cursor, err := Rebuild(ctx, client, rebuilt)
	require.NoError(t, err)
	assert.Equal(t, last, cursor)

	candidate := rebuilt.Candidate("alpha")
	require.NotNil(t, candidate)
	assert.Equal(t, journal.CandidateQueued, candidate.State)
	assert.True(t, candidate.Conditions["review_approved"], "snapshot state must carry over")
	assert.True(t, candidate.Conditions["deployment_started"], "tail replay must apply")
}

func TestRebuildDoesNotDuplicateQueueEntries(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	appendConditionEvent(t, client, journal.EventReviewApproved, "alpha", nil)
	appendConditionEvent(t, client, journal.EventDeploymentStarted, "alpha", nil)

	// First rebuild enqueues
	first := newTestProjection(t)
	_, err := Rebuild(ctx, client, first)
	require.NoError(t, err)

	// A second rebuild (fresh process) must not add a second entry
	second := newTestProjection(t)
	_, err = Rebuild(ctx, client, second)
	require.NoError(t, err)

	entries, err := client.QueueEntries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, journal.CandidateQueued, second.Candidate("alpha").State)
}

func TestRebuildSkipsTerminalCandidates(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	appendConditionEvent(t, client, journal.EventReviewApproved, "alpha", nil)
	appendConditionEvent(t, client, journal.EventDeploymentStarted, "alpha", nil)
	appendConditionEvent(t, client, journal.EventDeploymentCompleted, "alpha", nil)

	projection := newTestProjection(t)
	_, err := Rebuild(ctx, client, projection)
	require.NoError(t, err)

	// Completed candidates are never re-enqueued
	_, err = client.PeekQueue(ctx)
	assert.True(t, journal.IsNotFound(err))
	assert.Equal(t, journal.CandidateDone, projection.Candidate("alpha").State)
}

func TestRebuildQueuesResubmittedCandidate(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	// First attempt fails, the fix is resubmitted as a new commit
	appendConditionEvent(t, client, journal.EventReviewApproved, "alpha", nil)
	appendConditionEvent(t, client, journal.EventDeploymentStarted, "alpha",
		map[string]string{"branch": "feat/a", "sha": "aaa"})
	appendConditionEvent(t, client, journal.EventDeploymentFailed, "alpha",
		map[string]string{"sha": "aaa"})
	appendConditionEvent(t, client, journal.EventDeploymentStarted, "alpha",
		map[string]string{"branch": "feat/a", "sha": "bbb"})
	appendConditionEvent(t, client, journal.EventReviewApproved, "alpha", nil)

	projection := newTestProjection(t)
	_, err := Rebuild(ctx, client, projection)
	require.NoError(t, err)

	entry, err := client.PeekQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alpha", entry.Ref.Slug)
	assert.Equal(t, "bbb", entry.Ref.SHA, "the fresh attempt is queued, not the failed one")
	assert.Equal(t, journal.CandidateQueued, projection.Candidate("alpha").State)
}

func TestSnapshotWriter(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	projection := newTestProjection(t)
	projection.Apply(conditionEvent(journal.EventReviewApproved, "alpha", nil), 100)

	writer := NewSnapshotWriter(client, projection)
	require.NoError(t, writer.Snapshot(ctx, "9-0"))

	data, err := client.LoadSnapshot(ctx)
	require.NoError(t, err)

	restored := newTestProjection(t)
	cursor, err := restored.Restore(data)
	require.NoError(t, err)
	assert.Equal(t, "9-0", cursor)
	assert.NotNil(t, restored.Candidate("alpha"))
}
