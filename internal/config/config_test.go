package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadEnvDefaults(t *testing.T) {
	os.Unsetenv("CHUNK_SIZE_BYTES")
	os.Unsetenv("MAX_CONCURRENT_CHUNK_DOWNLOADS")
	os.Unsetenv("PEER_PROBE_INTERVAL_SECS")
	os.Unsetenv("STALE_HEARTBEAT_MINUTES")
	os.Unsetenv("MAX_BACKOFF_SECS")
	os.Unsetenv("RAREST_FIRST_THRESHOLD")

	tuning, err := LoadEnv()
	require.NoError(t, err)
	require.Equal(t, DefaultTuning(), tuning)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CHUNK_SIZE_BYTES", "2097152")
	t.Setenv("MAX_CONCURRENT_CHUNK_DOWNLOADS", "16")
	t.Setenv("RAREST_FIRST_THRESHOLD", "0.5")

	tuning, err := LoadEnv()
	require.NoError(t, err)
	require.Equal(t, uint64(2097152), tuning.ChunkSizeBytes)
	require.Equal(t, 16, tuning.MaxConcurrentChunkDownloads)
	require.Equal(t, 0.5, tuning.RarestFirstThreshold)
	require.Equal(t, 300, tuning.PeerProbeIntervalSecs, "unset vars keep their default")
}

func TestLoadEnvRejectsUnparsable(t *testing.T) {
	t.Setenv("MAX_BACKOFF_SECS", "not-a-number")
	_, err := LoadEnv()
	require.Error(t, err)
}

func TestLoadOpsFileMissingIsNotAnError(t *testing.T) {
	ops, err := LoadOpsFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default().Ops, ops)
}

func TestLoadOpsFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hub.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: \":9000\"\ndatabase_dsn: /var/lib/borgcore/hub.db\n"), 0o644))

	ops, err := LoadOpsFile(path)
	require.NoError(t, err)
	require.Equal(t, ":9000", ops.Listen)
	require.Equal(t, "/var/lib/borgcore/hub.db", ops.DatabaseDSN)
	require.Equal(t, "info", ops.LogLevel, "unset fields still fall back to default")
}
