// Package procmanager owns OS-level child handles: PIDs, process groups,
// spawning, signaling, and exit reaping (spec.md §4.2, Process Table).
package procmanager

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/systemg/systemg/internal/env"
	"github.com/systemg/systemg/internal/procspec"
)

// Entry is one managed child: the live *exec.Cmd plus the bookkeeping needed
// to serialize wait/reap against concurrent Stop/Kill callers, mirroring the
// teacher's monitoring-flag + waitDone coordination.
type Entry struct {
	spec procspec.Spec

	mu         sync.Mutex
	cmd        *exec.Cmd
	pid        int
	pgid       int
	startedAt  time.Time
	stoppedAt  time.Time
	exitErr    error
	stopping   bool
	monitoring bool
	waitDone   chan struct{}
	restarts   int

	outCloser io.WriteCloser
	errCloser io.WriteCloser
}

// NewEntry creates an unstarted table entry for spec.
func NewEntry(spec procspec.Spec) *Entry { return &Entry{spec: spec} }

// Spec returns a copy of the descriptor driving this entry.
func (e *Entry) Spec() procspec.Spec {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.spec
}

// Snapshot is the (name, pid, started_at, pgid) tuple of spec.md §4.2.
type Snapshot struct {
	Name      string
	PID       int
	PGID      int
	StartedAt time.Time
	StoppedAt time.Time
	ExitErr   error
	Restarts  int
}

func (e *Entry) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		Name:      e.spec.Name,
		PID:       e.pid,
		PGID:      e.pgid,
		StartedAt: e.startedAt,
		StoppedAt: e.stoppedAt,
		ExitErr:   e.exitErr,
		Restarts:  e.restarts,
	}
}

// Spawn forks+execs the child, places it in a new process group equal to its
// own pid, redirects stdio to writers (log collaborator output), and records
// the handle. Closing of fds above stdio and O_CLOEXEC is handled by Go's
// runtime exec path, which never inherits unrelated fds by default.
func (e *Entry) Spawn(overlay *env.Env, stdout, stderr io.WriteCloser) error {
	e.mu.Lock()
	spec := e.spec
	e.mu.Unlock()

	cmd := spec.BuildCommand()
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	merged := overlay.WithServiceName(spec.Name).Merge(spec.Env)
	cmd.Env = merged
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if stdout != nil {
		cmd.Stdout = stdout
	} else {
		null, _ := os.OpenFile(os.DevNull, os.O_RDWR, 0)
		cmd.Stdout = null
	}
	if stderr != nil {
		cmd.Stderr = stderr
	} else {
		null, _ := os.OpenFile(os.DevNull, os.O_RDWR, 0)
		cmd.Stderr = null
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn %s: %w", spec.Name, err)
	}

	e.mu.Lock()
	e.cmd = cmd
	e.pid = cmd.Process.Pid
	e.pgid = e.pid // setpgid(0,0) makes the group id equal to the child's pid
	e.startedAt = time.Now()
	e.stoppedAt = time.Time{}
	e.exitErr = nil
	e.stopping = false
	e.waitDone = make(chan struct{})
	e.outCloser, e.errCloser = stdout, stderr
	e.mu.Unlock()

	e.writePIDFile()
	return nil
}

func (e *Entry) writePIDFile() {
	e.mu.Lock()
	pidFile := e.spec.PIDFile
	pid := e.pid
	e.mu.Unlock()
	if pidFile == "" || pid == 0 {
		return
	}
	_ = os.MkdirAll(filepath.Dir(pidFile), 0o750)
	_ = os.WriteFile(pidFile, []byte(strconv.Itoa(pid)), 0o600)
}

// RemovePIDFile best-effort removes the configured pidfile.
func (e *Entry) RemovePIDFile() {
	e.mu.Lock()
	pidFile := e.spec.PIDFile
	e.mu.Unlock()
	if pidFile == "" {
		return
	}
	_ = os.Remove(pidFile)
}

// CopyCmd returns the live *exec.Cmd, or nil if never started.
func (e *Entry) CopyCmd() *exec.Cmd {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cmd
}

// MonitoringStartIfNeeded claims the single-waiter role; returns true if the
// caller is now responsible for calling cmd.Wait() and MarkExited/CloseWaitDone.
func (e *Entry) MonitoringStartIfNeeded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.monitoring {
		return false
	}
	e.monitoring = true
	return true
}

func (e *Entry) MonitoringStop() {
	e.mu.Lock()
	e.monitoring = false
	e.mu.Unlock()
}

func (e *Entry) IsMonitoring() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.monitoring
}

func (e *Entry) WaitDoneChan() chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.waitDone
}

func (e *Entry) CloseWaitDone() {
	e.mu.Lock()
	if e.waitDone != nil {
		close(e.waitDone)
		e.waitDone = nil
	}
	e.mu.Unlock()
}

func (e *Entry) MarkExited(err error) {
	e.mu.Lock()
	e.stoppedAt = time.Now()
	e.exitErr = err
	e.mu.Unlock()
}

func (e *Entry) SetStopRequested(v bool) {
	e.mu.Lock()
	e.stopping = v
	e.mu.Unlock()
}

func (e *Entry) StopRequested() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopping
}

func (e *Entry) IncRestarts() int {
	e.mu.Lock()
	e.restarts++
	v := e.restarts
	e.mu.Unlock()
	return v
}

func (e *Entry) ResetRestarts() {
	e.mu.Lock()
	e.restarts = 0
	e.mu.Unlock()
}

func (e *Entry) CloseWriters() {
	e.mu.Lock()
	if e.outCloser != nil {
		_ = e.outCloser.Close()
		e.outCloser = nil
	}
	if e.errCloser != nil {
		_ = e.errCloser.Close()
		e.errCloser = nil
	}
	e.mu.Unlock()
}

// DetectAlive probes liveness via kill(pid, 0), treating a Linux zombie as
// not-alive so a reaped-but-unwaited child isn't mistaken for live.
func (e *Entry) DetectAlive() bool {
	e.mu.Lock()
	pid := e.pid
	e.mu.Unlock()
	return PIDAlive(pid)
}

// PIDAlive probes whether pid is alive via kill(pid, 0), treating a Linux
// zombie as not-alive, for startup recovery of a snapshot's recorded pid
// (spec.md §4.3).
func PIDAlive(pid int) bool {
	if pid == 0 {
		return false
	}
	if runtime.GOOS == "linux" && isZombieLinux(pid) {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

func isZombieLinux(pid int) bool {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}

// Signal delivers signum to the entire process group (negative pid) so
// descendants (e.g. an "sh -c" wrapper's children) receive it too.
func (e *Entry) Signal(sig syscall.Signal) error {
	e.mu.Lock()
	pgid := e.pgid
	e.mu.Unlock()
	if pgid == 0 {
		return nil
	}
	return syscall.Kill(-pgid, sig)
}

// Terminate sends SIGTERM, then escalates to SIGKILL if the child has not
// exited after grace (spec.md §4.2 terminate contract). It does not itself
// perform the wait/reap — that is the Process Table's Reap() responsibility,
// driven once per tick by the supervisor loop.
func (e *Entry) Terminate(grace time.Duration) error {
	if !e.DetectAlive() {
		return nil
	}
	e.SetStopRequested(true)
	if err := e.Signal(syscall.SIGTERM); err != nil {
		return err
	}
	if grace <= 0 {
		grace = 10 * time.Second
	}
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !e.DetectAlive() {
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	if e.DetectAlive() {
		return e.Signal(syscall.SIGKILL)
	}
	return nil
}

// Kill immediately SIGKILLs the process group.
func (e *Entry) Kill() error { return e.Signal(syscall.SIGKILL) }

// TerminateAsync sends SIGTERM and returns immediately, escalating to
// SIGKILL from a background goroutine if the child is still alive after
// grace. Call sites on the supervisor's own tick goroutine must use this
// instead of Terminate: the loop "never blocks on a child's I/O" (spec.md
// §4.9, §5) and a blocking wait here would stall cron, health polling, and
// every other service's control requests for up to grace.
func (e *Entry) TerminateAsync(grace time.Duration) error {
	if !e.DetectAlive() {
		return nil
	}
	e.SetStopRequested(true)
	if err := e.Signal(syscall.SIGTERM); err != nil {
		return err
	}
	if grace <= 0 {
		grace = 10 * time.Second
	}
	go func() {
		deadline := time.Now().Add(grace)
		for time.Now().Before(deadline) {
			if !e.DetectAlive() {
				return
			}
			time.Sleep(20 * time.Millisecond)
		}
		if e.DetectAlive() {
			_ = e.Signal(syscall.SIGKILL)
		}
	}()
	return nil
}
