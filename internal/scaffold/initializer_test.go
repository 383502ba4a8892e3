package scaffold

import (
	"os"
	"strings"
	"testing"

	"github.com/dyluth/drey/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirForTest changes into dir and restores the previous working directory
// when the test ends, matching the behavior of t.Chdir (Go 1.24+).
func chdirForTest(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Errorf("restoring working directory: %v", err)
		}
	})
}

func TestInitialize(t *testing.T) {
	t.Run("creates a loadable drey.yml", func(t *testing.T) {
		chdirForTest(t, t.TempDir())

		require.NoError(t, Initialize(false))

		cfg, err := config.Load("drey.yml")
		require.NoError(t, err)
		assert.Equal(t, config.Default().Workflow.RequiredConditions, cfg.Workflow.RequiredConditions)
	})

	t.Run("scaffolded file carries the explanatory header", func(t *testing.T) {
		chdirForTest(t, t.TempDir())

		require.NoError(t, Initialize(false))

		content, err := os.ReadFile("drey.yml")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(string(content), "# drey.yml"))
	})

	t.Run("force replaces an existing file", func(t *testing.T) {
		chdirForTest(t, t.TempDir())
		require.NoError(t, os.WriteFile("drey.yml", []byte("version: \"0.1\"\n"), 0644))

		require.NoError(t, Initialize(true))

		cfg, err := config.Load("drey.yml")
		require.NoError(t, err)
		assert.Equal(t, "1.0", cfg.Version)
	})
}

func TestCheckExisting(t *testing.T) {
	t.Run("clean directory passes", func(t *testing.T) {
		chdirForTest(t, t.TempDir())
		assert.NoError(t, CheckExisting())
	})

	t.Run("existing config is rejected with a force hint", func(t *testing.T) {
		chdirForTest(t, t.TempDir())
		require.NoError(t, os.WriteFile("drey.yml", []byte("version: \"1.0\"\n"), 0644))

		err := CheckExisting()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "drey init --force")
	})
}
