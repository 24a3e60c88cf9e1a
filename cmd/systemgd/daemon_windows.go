//go:build windows

package main

import "fmt"

// daemonizeIfNeeded has no Windows implementation: there is no Setsid
// equivalent exercised anywhere else in this tree (internal/detector's
// Windows build already sticks to syscall.OpenProcess, nothing
// session-related), and --daemonize is a Unix-service convenience. Run
// systemgd under a Windows service manager instead.
func daemonizeIfNeeded(flags Flags) (isParent bool, err error) {
	if flags.Daemonize {
		return false, fmt.Errorf("--daemonize is not supported on windows; run systemgd under a service manager instead")
	}
	return false, nil
}
