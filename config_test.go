package fswatch

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidatesWithPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = "/tmp"
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsEmptyPath(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.Validate()
	require.Error(t, err)
	require.ErrorIs(t, err, ErrConfiguration)
}

func TestValidateRejectsBadMoveDetectorWeights(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = "/tmp"
	cfg.MoveDetector.WeightSize = -1
	require.Error(t, cfg.Validate())
}

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	require.Equal(t, DefaultConfig().MoveDetector, cfg.MoveDetector)
}

func TestLoadConfigParsesTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fswatch.toml")
	content := `
path = "/watched"
recursive = false

[move_detector]
timeout = "250ms"
confidence_threshold = 0.8

[store]
database_path = "custom.db"
retention = "24h"
retention_interval = "30m"
overlap_optimisation_interval = "5m"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "/watched", cfg.Path)
	require.False(t, cfg.Recursive)
	require.Equal(t, "custom.db", cfg.Store.DatabasePath)
	require.InDelta(t, 0.8, cfg.MoveDetector.ConfidenceThreshold, 1e-9)
	require.Equal(t, 30*time.Minute, cfg.Store.RetentionInterval)
	require.Equal(t, 5*time.Minute, cfg.Store.OverlapOptimisationInterval)
}

func TestClassifyStoreErrorWrapsKind(t *testing.T) {
	err := classifyStoreError("op", errors.New("boom"))
	require.ErrorIs(t, err, ErrStore)
}
