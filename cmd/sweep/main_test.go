package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dante-gpu/dante-sweep/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupLogger_WritesJSONFile(t *testing.T) {
	logDir := filepath.Join(t.TempDir(), "logs")

	logger, err := setupLogger("debug", logDir)
	require.NoError(t, err)
	logger.Info("hello from test")
	_ = logger.Sync()

	data, err := os.ReadFile(filepath.Join(logDir, "sweep.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello from test"`)
	assert.Contains(t, string(data), `"level":"info"`)
	assert.Contains(t, string(data), `"ts":`)
}

func TestOverviewDiskPath(t *testing.T) {
	cfg := config.Default()
	assert.Empty(t, overviewDiskPath(cfg))

	root := t.TempDir()
	cfg.Snapshot.Enabled = true
	cfg.Snapshot.DestRoot = root
	assert.Equal(t, root, overviewDiskPath(cfg))

	cfg.Snapshot.DestRoot = filepath.Join(root, "snaps", "nested")
	assert.Equal(t, root, overviewDiskPath(cfg), "missing destination reports on its nearest existing parent")
	assert.NoDirExists(t, filepath.Join(root, "snaps"))
}
