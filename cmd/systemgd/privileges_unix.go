//go:build !windows

package main

import (
	"fmt"
	"os/user"
	"strconv"
	"syscall"
)

// dropPrivileges implements --drop-privileges user[:group] (spec.md §6):
// runDaemon calls it right after daemonizing, before the pid lock, the
// control socket or any service command, so all of them are created and
// run under the unprivileged uid/gid. No teacher file does this (provisr never runs as root by
// design); grounded directly on os/user + syscall since no library in the
// dependency surface wraps setuid/setgid.
func dropPrivileges(spec string) error {
	userName, groupName, _ := splitUserGroup(spec)

	u, err := user.Lookup(userName)
	if err != nil {
		return fmt.Errorf("lookup user %q: %w", userName, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return fmt.Errorf("parse gid for %q: %w", userName, err)
	}
	if groupName != "" {
		g, err := user.LookupGroup(groupName)
		if err != nil {
			return fmt.Errorf("lookup group %q: %w", groupName, err)
		}
		gid, err = strconv.Atoi(g.Gid)
		if err != nil {
			return fmt.Errorf("parse gid for %q: %w", groupName, err)
		}
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return fmt.Errorf("parse uid for %q: %w", userName, err)
	}

	// Group must be dropped before uid: once uid is non-root, setgid fails.
	if err := syscall.Setgid(gid); err != nil {
		return fmt.Errorf("setgid(%d): %w", gid, err)
	}
	if err := syscall.Setuid(uid); err != nil {
		return fmt.Errorf("setuid(%d): %w", uid, err)
	}
	return nil
}

// splitUserGroup parses "user" or "user:group".
func splitUserGroup(spec string) (userName, groupName string, ok bool) {
	for i := 0; i < len(spec); i++ {
		if spec[i] == ':' {
			return spec[:i], spec[i+1:], true
		}
	}
	return spec, "", false
}
