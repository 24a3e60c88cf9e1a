// Package hooks fires lifecycle hook commands on state transitions,
// fire-and-forget, under a per-supervisor concurrency cap (spec.md §4.6).
// Retargeted from the teacher's internal/process/lifecycle.go, which binds
// hooks to phases (pre_start/post_start/pre_stop/post_stop); the spec binds
// them to (trigger, outcome) pairs instead (on_start/on_stop/on_restart ×
// success/error), so Dispatch takes a procspec.HookTrigger/HookOutcome.
package hooks

import (
	"context"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/systemg/systemg/internal/env"
	"github.com/systemg/systemg/internal/procspec"
)

const defaultConcurrencyCap = 16
const defaultTimeout = 30 * time.Second

// Error is the HookError taxonomy kind from spec.md §7: logged, never
// propagated to the service's own state.
type Error struct {
	Service string
	Trigger procspec.HookTrigger
	Outcome procspec.HookOutcome
	Cause   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("HookError(%s %s/%s): %v", e.Service, e.Trigger, e.Outcome, e.Cause)
}
func (e *Error) Unwrap() error { return e.Cause }

// Logger receives dispatcher diagnostics (hook failures, dropped hooks for
// exceeding the concurrency cap). Kept minimal and interface-typed so the
// supervisor can route this into the ambient structured logger.
type Logger interface {
	Warnf(format string, args ...any)
}

// Dispatcher runs hooks in fire-and-forget goroutines, bounded by a
// buffered-channel semaphore — the same idiom the teacher uses for
// serializing work through bounded channels (internal/manager/handler.go's
// ctrl channel), applied here to cap concurrency instead of serializing.
type Dispatcher struct {
	sem chan struct{}
	log Logger
}

func NewDispatcher(log Logger) *Dispatcher {
	cap := defaultConcurrencyCap
	return &Dispatcher{sem: make(chan struct{}, cap), log: log}
}

// Dispatch fires the hook bound to (trigger, outcome) for spec, if any. It
// returns immediately; the hook runs in the background and its outcome is
// only logged, never awaited by the caller (fire-and-forget per §4.6).
func (d *Dispatcher) Dispatch(spec procspec.Spec, trigger procspec.HookTrigger, outcome procspec.HookOutcome, overlay *env.Env) {
	hook, ok := spec.Hooks.Lookup(trigger, outcome)
	if !ok || hook.Command == "" {
		return
	}
	select {
	case d.sem <- struct{}{}:
	default:
		if d.log != nil {
			d.log.Warnf("hooks: dropping %s/%s hook for %s: concurrency cap reached", trigger, outcome, spec.Name)
		}
		return
	}
	go func() {
		defer func() { <-d.sem }()
		d.run(spec, trigger, outcome, hook, overlay)
	}()
}

func (d *Dispatcher) run(spec procspec.Spec, trigger procspec.HookTrigger, outcome procspec.HookOutcome, hook procspec.Hook, overlay *env.Env) {
	timeout := hook.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// #nosec G204 -- operator-controlled hook command, run via sh -c by design (§4.6).
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", hook.Command)
	cmd.Env = overlay.Merge(spec.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		if cmd.Process != nil {
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		if d.log != nil {
			d.log.Warnf("hooks: %s/%s hook for %s killed after timeout %s", trigger, outcome, spec.Name, timeout)
		}
		return
	}
	if err != nil && d.log != nil {
		d.log.Warnf("hooks: %s/%s hook for %s exited with error: %v", trigger, outcome, spec.Name, err)
	}
}
