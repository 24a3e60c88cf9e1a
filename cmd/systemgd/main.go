package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var flags Flags

	root := &cobra.Command{
		Use:   "systemgd",
		Short: "systemg process supervisor daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(flags)
		},
	}
	root.Flags().StringVar(&flags.ConfigPath, "config", "", "path to the systemg YAML config")
	root.Flags().StringVar(&flags.StateDir, "sys", "", "state directory (pid lock, control socket, logs, snapshots)")
	root.Flags().BoolVar(&flags.Daemonize, "daemonize", false, "detach into the background")
	root.Flags().StringVar(&flags.DropPrivileges, "drop-privileges", "", "user[:group] to drop privileges to at startup, before the pid lock and control socket are created")
	root.Flags().StringVar(&flags.LogLevel, "log-level", "", "debug|info|warn|error (default info)")
	root.Flags().BoolVar(&flags.JSON, "json", false, "emit structured JSON console logs")
	root.Flags().BoolVar(&flags.NoColor, "no-color", false, "disable colorized console output")
	root.Flags().BoolVar(&flags.Watch, "watch", false, "reload automatically when the config file changes")
	root.Flags().StringVar(&flags.DebugServer, "debug-server", "", "override debug_server.listen from the config")

	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			fmt.Fprintln(os.Stderr, ee.err)
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitGeneric)
	}
}
