package wconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesSpecDefaults(t *testing.T) {
	cfg := Default()
	require.Equal(t, 5*time.Second, time.Duration(cfg.Timeout))
	require.Equal(t, 2500*time.Millisecond, time.Duration(cfg.HandshakeRetryInterval))
	require.Equal(t, 100*time.Millisecond, time.Duration(cfg.RTOInitial))
	require.Equal(t, 1*time.Second, time.Duration(cfg.RTOMax))
	require.Equal(t, 10, cfg.MaxRetries)
	require.Equal(t, 64, cfg.AckWindow)
}

func TestLoadFileOverridesOnlySpecifiedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gnet.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
max_retries = 3
timeout = "10s"
`), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, 3, cfg.MaxRetries)
	require.Equal(t, 10*time.Second, time.Duration(cfg.Timeout))
	require.Equal(t, 100*time.Millisecond, time.Duration(cfg.RTOInitial)) // untouched, stays default
}
