// Package signals maps external OS signals to supervisor intents
// (spec.md §4.11). No teacher file does this (daemon_unix.go only sets
// Setsid for daemonizing); Go's os/signal channel delivery already is the
// async-signal-safe primitive the spec describes as "a self-pipe" — the
// runtime's signal handler itself only enqueues onto a channel, so
// reimplementing a literal self-pipe with raw syscalls would just
// re-derive what os/signal already guarantees.
package signals

import (
	"os"
	"os/signal"
	"syscall"
)

// Intent is the supervisor-loop-level event a signal is translated into.
type Intent int

const (
	IntentNone Intent = iota
	IntentShutdown
	IntentReload
	IntentReap
)

// Router owns the os/signal channel and exposes a single Intents channel
// the supervisor loop selects on during its per-tick "drain signal intents"
// step (§4.9 step 2).
type Router struct {
	raw     chan os.Signal
	Intents chan Intent
	done    chan struct{}
}

// NewRouter installs handlers for SIGINT, SIGTERM, SIGHUP, SIGCHLD.
func NewRouter() *Router {
	r := &Router{
		raw:     make(chan os.Signal, 16),
		Intents: make(chan Intent, 16),
		done:    make(chan struct{}),
	}
	signal.Notify(r.raw, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGCHLD)
	go r.pump()
	return r
}

func (r *Router) pump() {
	for {
		select {
		case sig := <-r.raw:
			switch sig {
			case syscall.SIGINT, syscall.SIGTERM:
				r.emit(IntentShutdown)
			case syscall.SIGHUP:
				r.emit(IntentReload)
			case syscall.SIGCHLD:
				r.emit(IntentReap)
			}
		case <-r.done:
			return
		}
	}
}

func (r *Router) emit(i Intent) {
	select {
	case r.Intents <- i:
	default:
		// Intents channel is buffered and drained every tick; a full buffer
		// means several signals arrived faster than one 250ms tick — safe to
		// drop a duplicate SIGCHLD/SIGTERM, the loop will still act on the
		// ones already queued.
	}
}

// Stop releases the OS signal handlers and halts the pump goroutine.
func (r *Router) Stop() {
	signal.Stop(r.raw)
	close(r.done)
}
