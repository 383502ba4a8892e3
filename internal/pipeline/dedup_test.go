package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/dyluth/drey/pkg/journal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dedupEnvelope(key, offset string) *journal.EventEnvelope {
	return &journal.EventEnvelope{
		EventType:      journal.EventReviewApproved,
		Domain:         "software-development",
		Level:          journal.LevelWorkflow,
		Payload:        map[string]string{"slug": "payments-retry", "review_round": "1"},
		IdempotencyKey: key,
		Offset:         offset,
		Source:         "test",
		EmittedAtMs:    time.Now().UnixMilli(),
	}
}

func TestDedupCartridge(t *testing.T) {
	client, _ := setupTestClient(t)
	cartridge := NewDedupCartridge(client)
	ctx := context.Background()

	t.Run("first delivery passes through", func(t *testing.T) {
		envelope := dedupEnvelope("key-1", "1-0")
		next, err := cartridge.Process(ctx, envelope)
		require.NoError(t, err)
		assert.Same(t, envelope, next)
	})

	t.Run("duplicate with different offset is dropped", func(t *testing.T) {
		// Same idempotency key appended again later in the log
		next, err := cartridge.Process(ctx, dedupEnvelope("key-1", "2-0"))
		require.NoError(t, err)
		assert.Nil(t, next, "re-emitted duplicates must be filtered")
	})

	t.Run("redelivery of the same log entry passes through", func(t *testing.T) {
		// Crash after dedup mark but before cursor commit: the same offset
		// comes around again and must not be swallowed
		envelope := dedupEnvelope("key-1", "1-0")
		next, err := cartridge.Process(ctx, envelope)
		require.NoError(t, err)
		assert.Same(t, envelope, next)
	})

	t.Run("distinct keys are independent", func(t *testing.T) {
		next, err := cartridge.Process(ctx, dedupEnvelope("key-2", "3-0"))
		require.NoError(t, err)
		assert.NotNil(t, next)
	})
}
