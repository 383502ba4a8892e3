package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFields(t *testing.T) {
	t.Run("key=value pairs", func(t *testing.T) {
		payload, err := parseFields([]string{"slug=payments-retry", "review_round=2"})
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"slug": "payments-retry", "review_round": "2"}, payload)
	})

	t.Run("value may contain an equals sign", func(t *testing.T) {
		payload, err := parseFields([]string{"evidence=a=b"})
		require.NoError(t, err)
		assert.Equal(t, "a=b", payload["evidence"])
	})

	t.Run("empty value is allowed", func(t *testing.T) {
		payload, err := parseFields([]string{"branch="})
		require.NoError(t, err)
		assert.Equal(t, "", payload["branch"])
	})

	t.Run("missing separator", func(t *testing.T) {
		_, err := parseFields([]string{"slug"})
		assert.Error(t, err)
	})

	t.Run("empty key", func(t *testing.T) {
		_, err := parseFields([]string{"=value"})
		assert.Error(t, err)
	})

	t.Run("no fields", func(t *testing.T) {
		payload, err := parseFields(nil)
		require.NoError(t, err)
		assert.Empty(t, payload)
	})
}

func TestResolveInstance(t *testing.T) {
	t.Run("explicit flag wins", func(t *testing.T) {
		t.Setenv("DREY_INSTANCE_NAME", "from-env")
		assert.Equal(t, "from-flag", resolveInstance("from-flag"))
	})

	t.Run("falls back to the environment", func(t *testing.T) {
		t.Setenv("DREY_INSTANCE_NAME", "from-env")
		assert.Equal(t, "from-env", resolveInstance(""))
	})

	t.Run("defaults when neither is set", func(t *testing.T) {
		t.Setenv("DREY_INSTANCE_NAME", "")
		assert.Equal(t, "default", resolveInstance(""))
	})
}
