package detector

import (
	"context"
	"errors"
	"os/exec"
	"strings"
)

// CommandDetector runs a command that should succeed if the process is
// running; it backs the Command health-probe kind (spec.md §4.8) via
// AliveContext, which internal/health.commandProbe calls directly instead
// of re-deriving shell-aware command building of its own.
type CommandDetector struct{ Command string }

// buildShellAwareCommand constructs an *exec.Cmd for a detector command
// bound to ctx, so a caller's timeout (context.WithTimeout) kills the child
// the same way exec.CommandContext always does. Avoids invoking a shell
// unless obvious shell metacharacters are present (G204 mitigation).
func buildShellAwareCommand(ctx context.Context, cmdStr string) *exec.Cmd {
	cmdStr = strings.TrimSpace(cmdStr)
	if cmdStr == "" {
		return getTrueCommand(ctx)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		return getShellCommand(ctx, cmdStr)
	}
	parts := strings.Fields(cmdStr)
	name := parts[0]
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	// #nosec G204
	return exec.CommandContext(ctx, name, args...)
}

// Alive runs the command against context.Background(), with no deadline.
func (d CommandDetector) Alive() (bool, error) { return d.AliveContext(context.Background()) }

// AliveContext runs the command bound to ctx; cancelling ctx kills the
// child. A zero exit code means alive; any other exit code means not
// alive (not an error); a failure to even start the command is an error.
func (d CommandDetector) AliveContext(ctx context.Context) (bool, error) {
	cmd := buildShellAwareCommand(ctx, d.Command)
	cmd.Stdout = nil
	cmd.Stderr = nil
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		// non-zero exit code means not alive
		return false, nil
	}
	return false, err
}

func (d CommandDetector) Describe() string { return "cmd:" + d.Command }
