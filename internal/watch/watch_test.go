package watch

import (
	"context"
	"errors"
	"testing"
	"time"

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

func appendEvent(t *testing.T, client *journal.Client, key string, level journal.Level) {
	t.Helper()
	_, err := client.AppendEvent(context.Background(), &journal.EventEnvelope{
		EventType:      journal.EventReviewApproved,
		Domain:         "software-development",
		Level:          level,
		Payload:        map[string]string{"slug": "alpha", "review_round": "1"},
		IdempotencyKey: key,
		Source:         "test",
		EmittedAtMs:    time.Now().UnixMilli(),
	})
	require.NoError(t, err)
}

func TestWatcherFromStart(t *testing.T) {
	client, _ := setupTestClient(t)

	appendEvent(t, client, "key-1", journal.LevelWorkflow)
	appendEvent(t, client, "key-2", journal.LevelBusiness)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var seen []string
	watcher := NewWatcher(client, Options{FromStart: true, PollInterval: 5 * time.Millisecond})
	err := watcher.Run(ctx, func(e *journal.EventEnvelope) error {
		seen = append(seen, e.IdempotencyKey)
		if len(seen) == 2 {
			cancel()
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"key-1", "key-2"}, seen)
}

func TestWatcherStartsAtLogEnd(t *testing.T) {
	client, _ := setupTestClient(t)

	// History that must not be replayed
	appendEvent(t, client, "old-1", journal.LevelWorkflow)
	appendEvent(t, client, "old-2", journal.LevelWorkflow)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seen := make(chan string, 8)
	done := make(chan error, 1)
	watcher := NewWatcher(client, Options{PollInterval: 5 * time.Millisecond})
	go func() {
		done <- watcher.Run(ctx, func(e *journal.EventEnvelope) error {
			seen <- e.IdempotencyKey
			return nil
		})
	}()

	// Give the watcher a beat to find the current end, then append
	time.Sleep(50 * time.Millisecond)
	appendEvent(t, client, "new-1", journal.LevelWorkflow)

	select {
	case key := <-seen:
		assert.Equal(t, "new-1", key)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the tail event")
	}

	cancel()
	require.NoError(t, <-done)
}

func TestWatcherLevelFilter(t *testing.T) {
	client, _ := setupTestClient(t)

	appendEvent(t, client, "key-1", journal.LevelWorkflow)
	appendEvent(t, client, "key-2", journal.LevelBusiness)
	appendEvent(t, client, "key-3", journal.LevelWorkflow)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var seen []string
	watcher := NewWatcher(client, Options{
		FromStart:    true,
		PollInterval: 5 * time.Millisecond,
		Levels:       []journal.Level{journal.LevelBusiness},
	})
	err := watcher.Run(ctx, func(e *journal.EventEnvelope) error {
		seen = append(seen, e.IdempotencyKey)
		cancel()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"key-2"}, seen)
}

func TestWatcherHandlerErrorStops(t *testing.T) {
	client, _ := setupTestClient(t)
	appendEvent(t, client, "key-1", journal.LevelWorkflow)

	boom := errors.New("display failed")
	watcher := NewWatcher(client, Options{FromStart: true, PollInterval: 5 * time.Millisecond})
	err := watcher.Run(context.Background(), func(*journal.EventEnvelope) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestDeltas(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan *journal.NotificationDelta, 1)
	done := make(chan error, 1)
	go func() {
		done <- Deltas(ctx, client, func(delta *journal.NotificationDelta) error {
			received <- delta
			return nil
		})
	}()

	// Give the subscription a moment to be established
	time.Sleep(50 * time.Millisecond)

	err := client.PublishDelta(ctx, &journal.NotificationDelta{
		Kind: journal.DeltaCreated,
		Record: journal.NotificationRecord{
			GroupKey: "alpha",
			Status:   journal.NotificationInProgress,
		},
	})
	require.NoError(t, err)

	select {
	case delta := <-received:
		assert.Equal(t, journal.DeltaCreated, delta.Kind)
		assert.Equal(t, "alpha", delta.Record.GroupKey)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the delta")
	}

	cancel()
	require.NoError(t, <-done)
}
