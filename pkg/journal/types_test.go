package journal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandidateRef(t *testing.T) {
	t.Run("string and parse round trip", func(t *testing.T) {
		ref := CandidateRef{Slug: "payments-retry", Branch: "feat/payments", SHA: "4f2c91d"}
		parsed, err := ParseCandidateRef(ref.String())
		require.NoError(t, err)
		assert.Equal(t, ref, parsed)
	})

	t.Run("empty branch and sha survive", func(t *testing.T) {
		ref := CandidateRef{Slug: "payments-retry"}
		parsed, err := ParseCandidateRef(ref.String())
		require.NoError(t, err)
		assert.Equal(t, ref, parsed)
	})

	t.Run("rejects empty slug", func(t *testing.T) {
		assert.Error(t, CandidateRef{}.Validate())
	})

	t.Run("rejects separator in fields", func(t *testing.T) {
		assert.Error(t, CandidateRef{Slug: "a|b"}.Validate())
		assert.Error(t, CandidateRef{Slug: "a", Branch: "x|y"}.Validate())
	})

	t.Run("rejects malformed members", func(t *testing.T) {
		_, err := ParseCandidateRef("just-a-slug")
		assert.Error(t, err)
	})
}

func TestCandidateStateTerminal(t *testing.T) {
	assert.True(t, CandidateDone.Terminal())
	assert.True(t, CandidateFailed.Terminal())
	assert.False(t, CandidatePending.Terminal())
	assert.False(t, CandidateReady.Terminal())
	assert.False(t, CandidateQueued.Terminal())
	assert.False(t, CandidateProcessing.Terminal())
}

func TestEnvelopeValidate(t *testing.T) {
	valid := func() *EventEnvelope {
		return &EventEnvelope{
			EventType:      EventReviewApproved,
			Level:          LevelWorkflow,
			IdempotencyKey: "abc",
			Source:         "test",
		}
	}

	assert.NoError(t, valid().Validate())

	e := valid()
	e.EventType = ""
	assert.Error(t, e.Validate())

	e = valid()
	e.Level = "loud"
	assert.Error(t, e.Validate())

	e = valid()
	e.IdempotencyKey = ""
	assert.Error(t, e.Validate())

	e = valid()
	e.Source = ""
	assert.Error(t, e.Validate())
}

func TestNotificationRecordOpen(t *testing.T) {
	record := &NotificationRecord{GroupKey: "g", Status: NotificationInProgress}
	assert.True(t, record.Open())

	record.Status = NotificationUnseen
	assert.True(t, record.Open())

	record.Status = NotificationResolved
	assert.False(t, record.Open())
}

func TestEnvelopeSerializationRoundTrip(t *testing.T) {
	envelope := &EventEnvelope{
		EventType:      EventDeploymentFailed,
		Domain:         "software-development",
		Level:          LevelBusiness,
		Payload:        map[string]string{"slug": "payments-retry", "blocked_at": "merge"},
		IdempotencyKey: "deadbeef",
		Source:         "integrator",
		EmittedAtMs:    1234567890,
	}

	values, err := EnvelopeToStreamValues(envelope)
	require.NoError(t, err)

	// Stream values come back from Redis as strings
	stringValues := make(map[string]interface{}, len(values))
	for k, v := range values {
		switch typed := v.(type) {
		case string:
			stringValues[k] = typed
		case int64:
			stringValues[k] = "1234567890"
		}
	}

	decoded, err := StreamValuesToEnvelope("42-0", stringValues)
	require.NoError(t, err)

	assert.Equal(t, "42-0", decoded.Offset)
	assert.Equal(t, envelope.EventType, decoded.EventType)
	assert.Equal(t, envelope.Payload, decoded.Payload)
	assert.Equal(t, envelope.EmittedAtMs, decoded.EmittedAtMs)
	assert.Equal(t, envelope.Level, decoded.Level)
}
