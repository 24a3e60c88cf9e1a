package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	lj "gopkg.in/natefinch/lumberjack.v2"
)

func TestWriters_WithDirOnly(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Dir: dir}
	outW, errW, err := cfg.Writers("demo")
	require.NoError(t, err)
	require.NotNil(t, outW)
	require.NotNil(t, errW)

	_, _ = outW.Write([]byte("hello-out\n"))
	_, _ = errW.Write([]byte("hello-err\n"))
	require.NoError(t, outW.Close())
	require.NoError(t, errW.Close())

	require.FileExists(t, filepath.Join(dir, "demo_stdout.log"))
	require.FileExists(t, filepath.Join(dir, "demo_stderr.log"))
}

func TestWriters_WithExplicitPaths(t *testing.T) {
	dir := t.TempDir()
	sp := filepath.Join(dir, "s.out.log")
	ep := filepath.Join(dir, "s.err.log")
	cfg := Config{StdoutPath: sp, StderrPath: ep}
	outW, errW, err := cfg.Writers("ignored-name")
	require.NoError(t, err)
	_, _ = outW.Write([]byte("x"))
	_, _ = errW.Write([]byte("y"))
	require.NoError(t, outW.Close())
	require.NoError(t, errW.Close())
	require.FileExists(t, sp)
	require.FileExists(t, ep)
}

func TestWriters_NilWhenNothingConfigured(t *testing.T) {
	cfg := Config{}
	outW, errW, err := cfg.Writers("n")
	require.NoError(t, err)
	require.Nil(t, outW)
	require.Nil(t, errW)
}

func TestWriters_DefaultsAndOverrides(t *testing.T) {
	cfg := Config{StdoutPath: "x", StderrPath: "y"}
	outW, errW, err := cfg.Writers("n")
	require.NoError(t, err)
	ol, ok := outW.(*lj.Logger)
	require.True(t, ok)
	el, ok := errW.(*lj.Logger)
	require.True(t, ok)
	require.Equal(t, DefaultMaxSizeMB, ol.MaxSize)
	require.Equal(t, DefaultMaxBackups, ol.MaxBackups)
	require.Equal(t, DefaultMaxAgeDays, ol.MaxAge)
	require.Equal(t, DefaultMaxSizeMB, el.MaxSize)

	cfg = Config{StdoutPath: "x2", StderrPath: "y2", MaxSizeMB: 1, MaxBackups: 9, MaxAgeDays: 11, Compress: true}
	outW, errW, err = cfg.Writers("n")
	require.NoError(t, err)
	ol = outW.(*lj.Logger)
	el = errW.(*lj.Logger)
	require.Equal(t, 1, ol.MaxSize)
	require.Equal(t, 9, ol.MaxBackups)
	require.Equal(t, 11, ol.MaxAge)
	require.True(t, ol.Compress)
	require.Equal(t, 1, el.MaxSize)
}

func TestWriters_OnlyOneStream(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{StdoutPath: filepath.Join(dir, "only-stdout.log")}
	outW, errW, err := cfg.Writers("n")
	require.NoError(t, err)
	require.NotNil(t, outW)
	require.Nil(t, errW)
	_, _ = outW.Write([]byte("a"))
	require.NoError(t, outW.Close())
	require.FileExists(t, filepath.Join(dir, "only-stdout.log"))
}

func TestNewSupervisor_WritesRotatingLines(t *testing.T) {
	dir := t.TempDir()
	sup, err := NewSupervisor(dir, Config{})
	require.NoError(t, err)
	sup.Infof("service %s started", "web")
	sup.Warnf("retrying %s", "db")
	sup.Errorf("service %s failed: %v", "cache", os.ErrNotExist)
	require.NoError(t, sup.Close())
	require.FileExists(t, filepath.Join(dir, "supervisor.log"))
}
