package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveStateDir_ExplicitFlagWins(t *testing.T) {
	t.Setenv("SYSTEMG_STATE_DIR", "/from/env")
	got := resolveStateDir(Flags{StateDir: "/from/flag"})
	require.Equal(t, "/from/flag", got)
}

func TestResolveStateDir_FallsBackToEnvVar(t *testing.T) {
	t.Setenv("SYSTEMG_STATE_DIR", "/from/env")
	got := resolveStateDir(Flags{})
	require.Equal(t, "/from/env", got)
}

func TestResolveLogLevel_FlagBeatsEnvBeatsDefault(t *testing.T) {
	t.Setenv("SYSTEMG_LOG_LEVEL", "debug")
	require.Equal(t, "warn", resolveLogLevel(Flags{LogLevel: "warn"}))
	require.Equal(t, "debug", resolveLogLevel(Flags{}))

	t.Setenv("SYSTEMG_LOG_LEVEL", "")
	require.Equal(t, "info", resolveLogLevel(Flags{}))
}

func TestWriteConfigHint_WritesAbsolutePath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "systemg.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("version: \"1\"\n"), 0o644))

	stateDir := filepath.Join(dir, "state")
	require.NoError(t, writeConfigHint(stateDir, configPath))

	got, err := os.ReadFile(filepath.Join(stateDir, "config_hint"))
	require.NoError(t, err)
	want, err := filepath.Abs(configPath)
	require.NoError(t, err)
	require.Equal(t, want, string(got))
}

func TestRunDaemon_RejectsMissingConfigPath(t *testing.T) {
	flags := Flags{StateDir: t.TempDir()}
	err := runDaemon(flags)
	require.Error(t, err)
	var ee *exitError
	require.ErrorAs(t, err, &ee)
	require.Equal(t, exitConfigError, ee.code)
}

func TestDaemonizeIfNeeded_ChildMarkerSkipsReexec(t *testing.T) {
	t.Setenv("SYSTEMG_DAEMON_CHILD", "1")
	isParent, err := daemonizeIfNeeded(Flags{})
	require.NoError(t, err)
	require.False(t, isParent, "a process already marked as the daemon child must not re-exec itself")
}
