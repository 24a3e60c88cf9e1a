//go:build windows

package main

import "fmt"

// dropPrivileges has no Windows implementation: Setuid/Setgid are
// POSIX-only and Windows privilege separation works through service
// account configuration instead, outside this process's control.
func dropPrivileges(spec string) error {
	return fmt.Errorf("--drop-privileges is not supported on windows")
}
