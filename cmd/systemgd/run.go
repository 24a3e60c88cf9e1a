package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/systemg/systemg/internal/config"
	"github.com/systemg/systemg/internal/control"
	"github.com/systemg/systemg/internal/debugserver"
	"github.com/systemg/systemg/internal/signals"
	"github.com/systemg/systemg/internal/statestore"
	"github.com/systemg/systemg/internal/supervisor"
)

// Exit codes, spec.md §6.
const (
	exitOK              = 0
	exitGeneric         = 1
	exitConfigError     = 2
	exitNotRunning      = 3
	exitAlreadyRunning  = 4
	exitServiceNotFound = 5
)

// exitError carries the process exit code a failure should produce, so
// main can translate a returned error into os.Exit without runDaemon
// reaching for os.Exit itself (keeps it testable).
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func resolveStateDir(flags Flags) string {
	if flags.StateDir != "" {
		return flags.StateDir
	}
	if v := os.Getenv("SYSTEMG_STATE_DIR"); v != "" {
		return v
	}
	if os.Geteuid() == 0 {
		return "/var/lib/systemg"
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".local", "share", "systemg")
}

func resolveLogLevel(flags Flags) string {
	if flags.LogLevel != "" {
		return flags.LogLevel
	}
	if v := os.Getenv("SYSTEMG_LOG_LEVEL"); v != "" {
		return v
	}
	return "info"
}

// runDaemon is the full bootstrap sequence: daemonize and drop privileges
// when asked, acquire the pid lock, load config (writing config_hint),
// build the Supervisor, attach OS signals, start the control socket and
// optional debug server, and drive the tick loop until shutdown.
func runDaemon(flags Flags) error {
	stateDir := resolveStateDir(flags)
	console := newConsoleLogger(flags)

	if flags.Daemonize {
		if isParent, err := daemonizeIfNeeded(flags); err != nil {
			return &exitError{code: exitGeneric, err: fmt.Errorf("daemonize: %w", err)}
		} else if isParent {
			return nil // parent process: child has been launched, exit cleanly
		}
	}

	if flags.DropPrivileges != "" {
		if err := dropPrivileges(flags.DropPrivileges); err != nil {
			return &exitError{code: exitGeneric, err: fmt.Errorf("drop privileges: %w", err)}
		}
	}

	lock, err := statestore.AcquirePIDLock(stateDir)
	if err != nil {
		if errors.Is(err, statestore.ErrAlreadyRunning) {
			return &exitError{code: exitAlreadyRunning, err: err}
		}
		return &exitError{code: exitGeneric, err: err}
	}
	defer lock.Release()

	if flags.ConfigPath == "" {
		return &exitError{code: exitConfigError, err: fmt.Errorf("--config is required")}
	}
	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return &exitError{code: exitConfigError, err: err}
	}
	if err := writeConfigHint(stateDir, flags.ConfigPath); err != nil {
		console.Warn("write config_hint failed", "error", err)
	}

	sup, err := supervisor.New(cfg, stateDir)
	if err != nil {
		return &exitError{code: exitGeneric, err: err}
	}
	defer sup.Close()

	sigRouter := signals.NewRouter()
	defer sigRouter.Stop()
	sup.AttachSignals(sigRouter, flags.ConfigPath)

	socketPath := filepath.Join(stateDir, "control.sock")
	ctlServer, err := control.New(socketPath, sup, nil)
	if err != nil {
		return &exitError{code: exitGeneric, err: err}
	}
	defer ctlServer.Close()
	ctlErrc := make(chan error, 1)
	go func() { ctlErrc <- ctlServer.Serve() }()

	var dbgServer *debugserver.Server
	listen := flags.DebugServer
	if listen == "" && cfg.DebugServer != nil && cfg.DebugServer.Enabled {
		listen = cfg.DebugServer.Listen
	}
	dbgErrc := make(chan error, 1)
	if listen != "" {
		dbgServer = debugserver.New(listen, sup)
		dbgServer.Start(dbgErrc)
		defer func() { _ = dbgServer.Shutdown(context.Background()) }()
	}

	var watcher *fsnotify.Watcher
	if flags.Watch {
		watcher, err = fsnotify.NewWatcher()
		if err != nil {
			console.Warn("config watch disabled: failed to start fsnotify", "error", err)
		} else {
			defer watcher.Close()
			if err := watcher.Add(filepath.Dir(flags.ConfigPath)); err != nil {
				console.Warn("config watch disabled", "error", err)
			} else {
				go watchConfig(watcher, flags.ConfigPath, sigRouter, console)
			}
		}
	}

	console.Info("systemg supervisor starting", "state_dir", stateDir, "config", flags.ConfigPath)
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case err := <-ctlErrc:
			console.Error("control server stopped", "error", err)
			cancel()
		case err := <-dbgErrc:
			console.Error("debug server stopped", "error", err)
		}
	}()

	if err := sup.Run(runCtx); err != nil {
		return &exitError{code: exitGeneric, err: err}
	}
	console.Info("systemg supervisor stopped")
	return nil
}

// watchConfig forwards a config-file write to the same IntentReload path a
// SIGHUP takes, so --watch and `systemgctl reload`/SIGHUP converge on one
// reload implementation (supervisor.Reload) instead of duplicating it.
func watchConfig(w *fsnotify.Watcher, configPath string, router *signals.Router, log *slog.Logger) {
	abs, _ := filepath.Abs(configPath)
	for ev := range w.Events {
		evAbs, _ := filepath.Abs(ev.Name)
		if evAbs != abs {
			continue
		}
		if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			continue
		}
		log.Info("config file changed, requesting reload", "path", configPath)
		select {
		case router.Intents <- signals.IntentReload:
		default:
		}
	}
}

func writeConfigHint(stateDir, configPath string) error {
	if err := os.MkdirAll(stateDir, 0o750); err != nil {
		return err
	}
	abs, err := filepath.Abs(configPath)
	if err != nil {
		abs = configPath
	}
	return os.WriteFile(filepath.Join(stateDir, "config_hint"), []byte(abs), 0o600)
}
