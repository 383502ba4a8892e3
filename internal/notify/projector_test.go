package notify

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/drey/pkg/journal"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestClient creates a journal client connected to a miniredis instance
func setupTestClient(t *testing.T) (*journal.Client, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := journal.NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

// captureDeliverer records delivered deltas in order
type captureDeliverer struct {
	deltas []*journal.NotificationDelta
}

func (d *captureDeliverer) Deliver(_ context.Context, delta *journal.NotificationDelta) error {
	d.deltas = append(d.deltas, delta)
	return nil
}

func newTestProjector(t *testing.T) (*Projector, *journal.Client, *captureDeliverer) {
	t.Helper()
	client, _ := setupTestClient(t)
	deliverer := &captureDeliverer{}
	return NewProjector(client, journal.DefaultCatalog(), deliverer), client, deliverer
}

func lifecycleEvent(eventType, slug string, extra map[string]string) *journal.EventEnvelope {
	payload := map[string]string{"slug": slug}
	for k, v := range extra {
		payload[k] = v
	}
	return &journal.EventEnvelope{
		EventType:      eventType,
		Domain:         "software-development",
		Level:          journal.LevelBusiness,
		Payload:        payload,
		IdempotencyKey: "k-" + eventType,
		Source:         "test",
	}
}

func TestProjectorCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("opens one record per group key", func(t *testing.T) {
		projector, client, deliverer := newTestProjector(t)

		next, err := projector.Process(ctx, lifecycleEvent(journal.EventDeploymentStarted, "alpha",
			map[string]string{"sha": "aaa"}))
		require.NoError(t, err)
		assert.NotNil(t, next)

		record, err := client.GetNotification(ctx, "alpha")
		require.NoError(t, err)
		assert.Equal(t, journal.NotificationInProgress, record.Status)

		require.Len(t, deliverer.deltas, 1)
		assert.Equal(t, journal.DeltaCreated, deliverer.deltas[0].Kind)
	})

	t.Run("second create for an open group is silent", func(t *testing.T) {
		projector, client, deliverer := newTestProjector(t)

		_, err := projector.Process(ctx, lifecycleEvent(journal.EventDeploymentStarted, "alpha",
			map[string]string{"sha": "aaa"}))
		require.NoError(t, err)
		_, err = projector.Process(ctx, lifecycleEvent(journal.EventDeploymentStarted, "alpha",
			map[string]string{"sha": "bbb"}))
		require.NoError(t, err)

		records, err := client.ListNotifications(ctx)
		require.NoError(t, err)
		assert.Len(t, records, 1)
		assert.Len(t, deliverer.deltas, 1, "no delta for the absorbed create")
	})
}

func TestProjectorUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("meaningful change resets to unseen", func(t *testing.T) {
		projector, client, deliverer := newTestProjector(t)

		_, err := projector.Process(ctx, lifecycleEvent(journal.EventDeploymentStarted, "alpha", nil))
		require.NoError(t, err)

		_, err = projector.Process(ctx, lifecycleEvent(journal.EventDeploymentFailed, "alpha",
			map[string]string{"blocked_at": "merge"}))
		require.NoError(t, err)

		record, err := client.GetNotification(ctx, "alpha")
		require.NoError(t, err)
		assert.Equal(t, journal.NotificationUnseen, record.Status)
		assert.Equal(t, "merge", record.LastMeaningful["blocked_at"])

		require.Len(t, deliverer.deltas, 2)
		assert.Equal(t, journal.DeltaUpdated, deliverer.deltas[1].Kind)
	})

	t.Run("unchanged diff is a pure no-op", func(t *testing.T) {
		projector, client, deliverer := newTestProjector(t)

		_, err := projector.Process(ctx, lifecycleEvent(journal.EventDeploymentStarted, "alpha", nil))
		require.NoError(t, err)
		_, err = projector.Process(ctx, lifecycleEvent(journal.EventDeploymentFailed, "alpha",
			map[string]string{"blocked_at": "merge"}))
		require.NoError(t, err)

		before, err := client.GetNotification(ctx, "alpha")
		require.NoError(t, err)
		deltasBefore := len(deliverer.deltas)

		// Same blocked_at again: nothing visible may move
		_, err = projector.Process(ctx, lifecycleEvent(journal.EventDeploymentFailed, "alpha",
			map[string]string{"blocked_at": "merge"}))
		require.NoError(t, err)

		after, err := client.GetNotification(ctx, "alpha")
		require.NoError(t, err)
		assert.Equal(t, before.Status, after.Status)
		assert.Equal(t, before.UpdatedAtMs, after.UpdatedAtMs)
		assert.Len(t, deliverer.deltas, deltasBefore)
	})

	t.Run("update without a record opens one defensively", func(t *testing.T) {
		projector, client, _ := newTestProjector(t)

		_, err := projector.Process(ctx, lifecycleEvent(journal.EventDeploymentFailed, "alpha",
			map[string]string{"blocked_at": "push"}))
		require.NoError(t, err)

		record, err := client.GetNotification(ctx, "alpha")
		require.NoError(t, err)
		assert.True(t, record.Open())
	})
}

func TestProjectorResolve(t *testing.T) {
	ctx := context.Background()

	t.Run("resolve closes the record terminally", func(t *testing.T) {
		projector, client, deliverer := newTestProjector(t)

		_, err := projector.Process(ctx, lifecycleEvent(journal.EventDeploymentStarted, "alpha", nil))
		require.NoError(t, err)
		_, err = projector.Process(ctx, lifecycleEvent(journal.EventDeploymentCompleted, "alpha",
			map[string]string{"merge_commit": "mmm"}))
		require.NoError(t, err)

		record, err := client.GetNotification(ctx, "alpha")
		require.NoError(t, err)
		assert.Equal(t, journal.NotificationResolved, record.Status)
		assert.NotZero(t, record.ResolvedAtMs)
		assert.Equal(t, journal.DeltaResolved, deliverer.deltas[len(deliverer.deltas)-1].Kind)

		// Late updates cannot reopen it
		_, err = projector.Process(ctx, lifecycleEvent(journal.EventDeploymentFailed, "alpha",
			map[string]string{"blocked_at": "merge"}))
		require.NoError(t, err)

		record, err = client.GetNotification(ctx, "alpha")
		require.NoError(t, err)
		assert.Equal(t, journal.NotificationResolved, record.Status)
	})

	t.Run("resolve without a record is a no-op", func(t *testing.T) {
		projector, client, deliverer := newTestProjector(t)

		_, err := projector.Process(ctx, lifecycleEvent(journal.EventDeploymentCompleted, "ghost",
			map[string]string{"merge_commit": "mmm"}))
		require.NoError(t, err)

		_, err = client.GetNotification(ctx, "ghost")
		assert.True(t, journal.IsNotFound(err))
		assert.Empty(t, deliverer.deltas)
	})

	t.Run("fresh create reopens a resolved group", func(t *testing.T) {
		projector, client, _ := newTestProjector(t)

		_, err := projector.Process(ctx, lifecycleEvent(journal.EventDeploymentStarted, "alpha", nil))
		require.NoError(t, err)
		_, err = projector.Process(ctx, lifecycleEvent(journal.EventDeploymentCompleted, "alpha",
			map[string]string{"merge_commit": "mmm"}))
		require.NoError(t, err)

		// A new delivery cycle for the same slug starts a new record
		_, err = projector.Process(ctx, lifecycleEvent(journal.EventDeploymentStarted, "alpha",
			map[string]string{"sha": "v2"}))
		require.NoError(t, err)

		record, err := client.GetNotification(ctx, "alpha")
		require.NoError(t, err)
		assert.Equal(t, journal.NotificationInProgress, record.Status)
		assert.Zero(t, record.ResolvedAtMs)
	})
}

func TestProjectorPassThrough(t *testing.T) {
	ctx := context.Background()
	projector, client, deliverer := newTestProjector(t)

	t.Run("events without a lifecycle pass through untouched", func(t *testing.T) {
		envelope := lifecycleEvent(journal.EventReviewApproved, "alpha", nil)
		next, err := projector.Process(ctx, envelope)
		require.NoError(t, err)
		assert.Same(t, envelope, next)
		assert.Empty(t, deliverer.deltas)
	})

	t.Run("unknown event types pass through", func(t *testing.T) {
		envelope := lifecycleEvent("domain.testing.retired.type", "alpha", nil)
		next, err := projector.Process(ctx, envelope)
		require.NoError(t, err)
		assert.Same(t, envelope, next)
	})

	t.Run("missing group key is an error", func(t *testing.T) {
		envelope := lifecycleEvent(journal.EventDeploymentStarted, "", nil)
		_, err := projector.Process(ctx, envelope)
		assert.Error(t, err)

		records, listErr := client.ListNotifications(ctx)
		require.NoError(t, listErr)
		assert.Empty(t, records)
	})
}
