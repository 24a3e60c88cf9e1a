// Command systemgctl is the control-plane client CLI of spec.md §6: it
// dials the running systemgd's Unix control socket and issues one
// request per invocation, mirroring the teacher's cmd/provisr command
// tree but speaking internal/control's framed protocol instead of an
// in-process provisr.Manager call.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/systemg/systemg/internal/control"
)

// Exit codes, spec.md §6 — identical enum to cmd/systemgd's.
const (
	exitOK              = 0
	exitGeneric         = 1
	exitConfigError     = 2
	exitNotRunning      = 3
	exitAlreadyRunning  = 4
	exitServiceNotFound = 5
)

// Flags decouples cobra parsing from dialing/rendering, matching
// cmd/systemgd's Flags split.
type Flags struct {
	StateDir string
	JSON     bool
	NoColor  bool
}

func resolveSocketPath(flags Flags) string {
	stateDir := flags.StateDir
	if stateDir == "" {
		stateDir = os.Getenv("SYSTEMG_STATE_DIR")
	}
	if stateDir == "" {
		if os.Geteuid() == 0 {
			stateDir = "/var/lib/systemg"
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				home = "."
			}
			stateDir = filepath.Join(home, ".local", "share", "systemg")
		}
	}
	return filepath.Join(stateDir, "control.sock")
}

func dial(flags Flags) (*control.Client, error) {
	c, err := control.Dial(resolveSocketPath(flags))
	if err != nil {
		return nil, fmt.Errorf("supervisor not running (or unreachable): %w", err)
	}
	return c, nil
}

// exitCodeFor maps a control reply's ErrKind to the exit code spec.md §6
// assigns it.
func exitCodeFor(errKind string) int {
	switch errKind {
	case "ConfigError":
		return exitConfigError
	case "ControlError":
		return exitServiceNotFound
	default:
		return exitGeneric
	}
}

func render(flags Flags, reply control.Reply) error {
	if flags.JSON {
		b, _ := json.MarshalIndent(reply, "", "  ")
		fmt.Println(string(b))
	} else {
		switch reply.Kind {
		case "ok":
			if len(reply.Payload) > 0 && string(reply.Payload) != "null" {
				var pretty any
				if err := json.Unmarshal(reply.Payload, &pretty); err == nil {
					b, _ := json.MarshalIndent(pretty, "", "  ")
					fmt.Println(string(b))
				}
			} else {
				fmt.Println("ok")
			}
		case "stream":
			for _, c := range reply.Chunks {
				fmt.Println(c)
			}
		case "err":
			fmt.Fprintf(os.Stderr, "%s: %s\n", reply.ErrKind, reply.ErrMessage)
		}
	}
	if reply.Kind == "err" {
		return &exitError{code: exitCodeFor(reply.ErrKind), err: fmt.Errorf("%s", reply.ErrMessage)}
	}
	return nil
}

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func newRootCmd() *cobra.Command {
	var flags Flags
	var all bool

	root := &cobra.Command{Use: "systemgctl", Short: "control client for the systemg supervisor"}
	root.PersistentFlags().StringVar(&flags.StateDir, "sys", "", "state directory (defaults to SYSTEMG_STATE_DIR or the per-user default)")
	root.PersistentFlags().BoolVar(&flags.JSON, "json", false, "emit raw JSON replies")
	root.PersistentFlags().BoolVar(&flags.NoColor, "no-color", false, "disable colorized output")
	root.PersistentFlags().BoolVar(&all, "all", false, "target every configured service")

	var graceful bool
	cmdStop := &cobra.Command{
		Use:   "stop [service...]",
		Short: "stop one or more services",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(flags)
			if err != nil {
				return &exitError{code: exitNotRunning, err: err}
			}
			defer c.Close()
			reply, err := c.Stop(args, graceful)
			if err != nil {
				return &exitError{code: exitGeneric, err: err}
			}
			return render(flags, reply)
		},
	}
	cmdStop.Flags().BoolVar(&graceful, "graceful", true, "send SIGTERM and wait out the grace period before SIGKILL")

	cmdStart := &cobra.Command{
		Use:   "start [service...]",
		Short: "start one or more services",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(flags)
			if err != nil {
				return &exitError{code: exitNotRunning, err: err}
			}
			defer c.Close()
			reply, err := c.Start(args)
			if err != nil {
				return &exitError{code: exitGeneric, err: err}
			}
			return render(flags, reply)
		},
	}

	var forceRolling bool
	cmdRestart := &cobra.Command{
		Use:   "restart [service...]",
		Short: "restart one or more services",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(flags)
			if err != nil {
				return &exitError{code: exitNotRunning, err: err}
			}
			defer c.Close()
			reply, err := c.Restart(args, forceRolling)
			if err != nil {
				return &exitError{code: exitGeneric, err: err}
			}
			return render(flags, reply)
		},
	}
	cmdRestart.Flags().BoolVar(&forceRolling, "rolling", false, "use the rolling-restart strategy even if the service isn't configured for it")

	cmdStatus := &cobra.Command{
		Use:   "status [service...]",
		Short: "show service status",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(flags)
			if err != nil {
				return &exitError{code: exitNotRunning, err: err}
			}
			defer c.Close()
			reply, err := c.Status(args, all || len(args) == 0)
			if err != nil {
				return &exitError{code: exitGeneric, err: err}
			}
			return render(flags, reply)
		},
	}

	var logKind string
	var logLines int
	cmdLogs := &cobra.Command{
		Use:   "logs <service>",
		Short: "print the on-disk path of a service's log stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(flags)
			if err != nil {
				return &exitError{code: exitNotRunning, err: err}
			}
			defer c.Close()
			reply, err := c.Logs(args[0], logKind, logLines)
			if err != nil {
				return &exitError{code: exitGeneric, err: err}
			}
			return render(flags, reply)
		},
	}
	cmdLogs.Flags().StringVar(&logKind, "stream", "stdout", "stdout|stderr|supervisor")
	cmdLogs.Flags().IntVar(&logLines, "lines", 0, "unused placeholder for a future tail depth (path is returned as-is today)")

	var window time.Duration
	cmdInspect := &cobra.Command{
		Use:   "inspect <service>",
		Short: "show status, cron run history, and the latest resource sample",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(flags)
			if err != nil {
				return &exitError{code: exitNotRunning, err: err}
			}
			defer c.Close()
			reply, err := c.Inspect(args[0], window)
			if err != nil {
				return &exitError{code: exitGeneric, err: err}
			}
			return render(flags, reply)
		},
	}
	cmdInspect.Flags().DurationVar(&window, "window", 0, "resource-sample averaging window")

	var spawnTTL time.Duration
	cmdSpawn := &cobra.Command{
		Use:   "spawn <name> -- <argv...>",
		Short: "run a one-off, unsupervised child process",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(flags)
			if err != nil {
				return &exitError{code: exitNotRunning, err: err}
			}
			defer c.Close()
			reply, err := c.Spawn(args[0], args[1:], spawnTTL)
			if err != nil {
				return &exitError{code: exitGeneric, err: err}
			}
			return render(flags, reply)
		},
	}
	cmdSpawn.Flags().DurationVar(&spawnTTL, "ttl", 0, "kill the spawned process after this duration (0 disables)")

	cmdPurge := &cobra.Command{
		Use:   "purge [service...]",
		Short: "clear terminal-state records so services may start again",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(flags)
			if err != nil {
				return &exitError{code: exitNotRunning, err: err}
			}
			defer c.Close()
			reply, err := c.Purge(args, all || len(args) == 0)
			if err != nil {
				return &exitError{code: exitGeneric, err: err}
			}
			return render(flags, reply)
		},
	}

	var reloadConfigPath string
	cmdReload := &cobra.Command{
		Use:   "reload",
		Short: "re-read and apply the running config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(flags)
			if err != nil {
				return &exitError{code: exitNotRunning, err: err}
			}
			defer c.Close()
			reply, err := c.Reload(reloadConfigPath)
			if err != nil {
				return &exitError{code: exitGeneric, err: err}
			}
			return render(flags, reply)
		},
	}
	cmdReload.Flags().StringVar(&reloadConfigPath, "config", "", "config path to reload from (defaults to the daemon's last-loaded path)")

	root.AddCommand(cmdStart, cmdStop, cmdRestart, cmdStatus, cmdLogs, cmdInspect, cmdSpawn, cmdPurge, cmdReload)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var ee *exitError
		if e, ok := err.(*exitError); ok {
			ee = e
			fmt.Fprintln(os.Stderr, ee.err)
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitGeneric)
	}
}
