package journal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema() *EventSchema {
	return &EventSchema{
		EventType:         "domain.testing.thing.happened",
		Domain:            "testing",
		IdempotencyFields: []string{"slug"},
		DefaultLevel:      LevelWorkflow,
	}
}

func TestCatalogRegister(t *testing.T) {
	t.Run("registers and retrieves a schema", func(t *testing.T) {
		catalog := NewCatalog()
		require.NoError(t, catalog.Register(testSchema()))

		schema, err := catalog.Get("domain.testing.thing.happened")
		require.NoError(t, err)
		assert.Equal(t, []string{"slug"}, schema.IdempotencyFields)
	})

	t.Run("identical re-registration is a no-op", func(t *testing.T) {
		catalog := NewCatalog()
		require.NoError(t, catalog.Register(testSchema()))
		assert.NoError(t, catalog.Register(testSchema()))
		assert.Len(t, catalog.Types(), 1)
	})

	t.Run("conflicting re-registration fails", func(t *testing.T) {
		catalog := NewCatalog()
		require.NoError(t, catalog.Register(testSchema()))

		conflicting := testSchema()
		conflicting.IdempotencyFields = []string{"slug", "round"}
		err := catalog.Register(conflicting)
		assert.ErrorIs(t, err, ErrSchemaConflict)

		// First registration survives
		schema, err := catalog.Get("domain.testing.thing.happened")
		require.NoError(t, err)
		assert.Equal(t, []string{"slug"}, schema.IdempotencyFields)
	})

	t.Run("lifecycle changes also conflict", func(t *testing.T) {
		catalog := NewCatalog()
		require.NoError(t, catalog.Register(testSchema()))

		conflicting := testSchema()
		conflicting.Lifecycle = &NotificationLifecycle{Creates: true, GroupKeyField: "slug"}
		assert.ErrorIs(t, catalog.Register(conflicting), ErrSchemaConflict)
	})

	t.Run("rejects invalid schemas", func(t *testing.T) {
		catalog := NewCatalog()
		assert.Error(t, catalog.Register(&EventSchema{EventType: ""}))
		assert.Error(t, catalog.Register(&EventSchema{
			EventType:    "domain.testing.no-fields",
			DefaultLevel: LevelDebug,
		}))
	})
}

func TestCatalogGet(t *testing.T) {
	catalog := NewCatalog()

	_, err := catalog.Get("domain.testing.unknown")
	assert.ErrorIs(t, err, ErrUnknownEventType)
}

func TestDefaultCatalog(t *testing.T) {
	catalog := DefaultCatalog()

	t.Run("registers the delivery wire contract", func(t *testing.T) {
		assert.Len(t, catalog.Types(), 4)

		for _, eventType := range []string{
			EventReviewApproved,
			EventDeploymentStarted,
			EventDeploymentCompleted,
			EventDeploymentFailed,
		} {
			_, err := catalog.Get(eventType)
			assert.NoError(t, err, eventType)
		}
	})

	t.Run("deployment events drive notification lifecycle", func(t *testing.T) {
		started, err := catalog.Get(EventDeploymentStarted)
		require.NoError(t, err)
		require.NotNil(t, started.Lifecycle)
		assert.True(t, started.Lifecycle.Creates)
		assert.Equal(t, "slug", started.Lifecycle.GroupKeyField)

		failed, err := catalog.Get(EventDeploymentFailed)
		require.NoError(t, err)
		require.NotNil(t, failed.Lifecycle)
		assert.True(t, failed.Lifecycle.Updates)
		assert.Contains(t, failed.Lifecycle.MeaningfulFields, "blocked_at")

		completed, err := catalog.Get(EventDeploymentCompleted)
		require.NoError(t, err)
		require.NotNil(t, completed.Lifecycle)
		assert.True(t, completed.Lifecycle.Resolves)
	})

	t.Run("review approval stays out of notifications", func(t *testing.T) {
		approved, err := catalog.Get(EventReviewApproved)
		require.NoError(t, err)
		assert.Nil(t, approved.Lifecycle)
		assert.Equal(t, LevelWorkflow, approved.DefaultLevel)
	})
}
