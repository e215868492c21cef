package telemetry_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/robalyx/rewind/internal/setup/config"
	"github.com/robalyx/rewind/internal/setup/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerWritesSessionLogs(t *testing.T) {
	t.Parallel()

	logDir := t.TempDir()
	debug := &config.Debug{LogLevel: "info", MaxLogsToKeep: 5, MaxLogLines: 100}

	manager := telemetry.NewManager(telemetry.ServiceWorker, logDir, debug, false, "purge", "1")
	assert.Equal(t, "purge_worker_1", manager.GetComponentName())
	assert.NotEmpty(t, manager.GetInstanceID())

	mainLogger, dbLogger, err := manager.GetLoggers()
	require.NoError(t, err)

	mainLogger.Info("Engine started")
	mainLogger.Debug("hidden below info")
	dbLogger.Warn("Slow query")
	manager.GetWorkerLogger("purge").Info("Purged window")
	manager.Stop()

	sessionDir := manager.GetCurrentSessionDir()
	assert.Equal(t, logDir, filepath.Dir(sessionDir))

	main, err := os.ReadFile(filepath.Join(sessionDir, "main.log"))
	require.NoError(t, err)
	assert.Contains(t, string(main), "Engine started")
	assert.Contains(t, string(main), "purge_worker_1")
	assert.NotContains(t, string(main), "hidden below info")

	db, err := os.ReadFile(filepath.Join(sessionDir, "database.log"))
	require.NoError(t, err)
	assert.Contains(t, string(db), "Slow query")

	worker, err := os.ReadFile(filepath.Join(sessionDir, "purge.log"))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(worker), "Purged window"))
}

func TestManagerRotatesSessions(t *testing.T) {
	t.Parallel()

	logDir := t.TempDir()
	old := time.Now().Add(-time.Hour)

	for i, name := range []string{"a", "b", "c"} {
		dir := filepath.Join(logDir, name)
		require.NoError(t, os.Mkdir(dir, 0o755))
		require.NoError(t, os.Chtimes(dir, old.Add(time.Duration(i)*time.Minute), old.Add(time.Duration(i)*time.Minute)))
	}

	debug := &config.Debug{LogLevel: "info", MaxLogsToKeep: 2}

	manager := telemetry.NewManager(telemetry.ServiceEngine, logDir, debug, false, "", "")
	_, _, err := manager.GetLoggers()
	require.NoError(t, err)
	manager.Stop()

	entries, err := os.ReadDir(logDir)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	names := []string{entries[0].Name(), entries[1].Name()}
	assert.Contains(t, names, "c")
	assert.Contains(t, names, filepath.Base(manager.GetCurrentSessionDir()))
}

func TestManagerRejectsInvalidLevel(t *testing.T) {
	t.Parallel()

	debug := &config.Debug{LogLevel: "loud", MaxLogsToKeep: 2}

	_, _, err := telemetry.NewManager(telemetry.ServiceMigrate, t.TempDir(), debug, false, "", "").GetLoggers()
	require.Error(t, err)
}

func TestConfigureTracingDisabled(t *testing.T) {
	t.Parallel()

	enabled, shutdown := telemetry.ConfigureTracing(&config.Telemetry{}, "engine", "dev")
	assert.False(t, enabled)
	require.NoError(t, shutdown(t.Context()))
}
