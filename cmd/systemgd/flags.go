package main

// Flags decouples cobra's flag parsing from runDaemon so the daemon
// bootstrap sequence can be exercised without going through cobra.Execute,
// mirroring the teacher's cmd/provisr StartFlags/StatusFlags split.
type Flags struct {
	ConfigPath     string
	StateDir       string
	Daemonize      bool
	DropPrivileges string
	LogLevel       string
	JSON           bool
	NoColor        bool
	Watch          bool
	DebugServer    string // overrides config's debug_server.listen when non-empty
}
