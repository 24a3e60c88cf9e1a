package systemg

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func requireUnix(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

func TestLoadConfigAndNewBuildsSupervisor(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "systemg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: "1"
services:
  web:
    command: "sleep 1"
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Specs, 1)

	sup, err := New(cfg, t.TempDir())
	require.NoError(t, err)
	defer sup.Close()

	rec, ok := sup.Status("web")
	require.True(t, ok)
	require.Equal(t, "web", rec.Name)
}
