package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/robalyx/rewind/internal/setup/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".toml"), []byte(content), 0o600))
}

func TestLoadConfigFrom(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeConfig(t, dir, "common", "[common]\nversion = 1\n[common.storage]\nengine = \"postgresql\"\n")
	writeConfig(t, dir, "core", `[core]
version = 1
[core.actions]
player-command = false
[core.purges]
cycle_size = 250
[[core.filters]]
name = "ores"
behavior = "ALLOW"
[core.filters.conditions]
block_tags = ["ores"]
`)

	cfg, used, err := config.LoadConfigFrom([]string{filepath.Join(dir, "missing"), dir})
	require.NoError(t, err)
	assert.Equal(t, dir, used)

	assert.Equal(t, config.EnginePostgreSQL, cfg.Common.Storage.Engine)
	assert.Equal(t, 250, cfg.Core.Purges.CycleSize)
	assert.False(t, cfg.Core.ActionEnabled("player-command"))
	assert.True(t, cfg.Core.ActionEnabled("block-break"))
	require.Len(t, cfg.Core.Filters, 1)
	assert.Equal(t, []string{"ores"}, cfg.Core.Filters[0].Conditions.BlockTags)

	// Untouched values keep their defaults
	assert.Equal(t, 4, cfg.Core.Modifications.ResultCacheSize)
	assert.Equal(t, "info", cfg.Common.Debug.LogLevel)
}

func TestLoadConfigErrors(t *testing.T) {
	t.Parallel()

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		writeConfig(t, dir, "common", "[common]\nversion = 1\n")

		_, _, err := config.LoadConfigFrom([]string{dir})
		require.ErrorIs(t, err, config.ErrConfigFileNotFound)
	})

	t.Run("missing version", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		writeConfig(t, dir, "common", "[common]\nversion = 1\n")
		writeConfig(t, dir, "core", "[core]\ndebug_filters = true\n")

		_, _, err := config.LoadConfigFrom([]string{dir})
		require.ErrorIs(t, err, config.ErrConfigVersionMissing)
	})

	t.Run("version mismatch", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		writeConfig(t, dir, "common", "[common]\nversion = 99\n")
		writeConfig(t, dir, "core", "[core]\nversion = 1\n")

		_, _, err := config.LoadConfigFrom([]string{dir})
		require.ErrorIs(t, err, config.ErrConfigVersionMismatch)
	})
}

func TestShippedConfigLoads(t *testing.T) {
	t.Parallel()

	cfg, _, err := config.LoadConfigFrom([]string{"../../../config"})
	require.NoError(t, err)
	assert.Equal(t, config.EngineSQLite, cfg.Common.Storage.Engine)
	assert.Equal(t, []string{"before:8w"}, cfg.Core.Purges.Queries)
	assert.Equal(t, "32", cfg.Core.Defaults.Parameters["r"])
}
