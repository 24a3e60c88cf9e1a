package procmanager

import (
	"sync"
)

// ExitEvent is delivered once per completed run, when the single waiter
// goroutine observes cmd.Wait() returning. Entry identifies the exact
// instance that exited (not just its service name), so a consumer can tell
// a stale event for a superseded instance (e.g. a rolling-restart primary
// replaced by its shadow before the event was drained) from the current one.
type ExitEvent struct {
	Name  string
	Err   error
	Entry *Entry
}

// Table is the Process Table: the set of live/recently-exited entries,
// keyed by service name, plus the non-blocking reap channel the supervisor
// loop drains on every tick (spec.md §4.2 reap() contract, §4.9 step 1).
//
// Go cannot select on a blocking syscall wait the way a C-level self-pipe
// can; the idiomatic substitute (used throughout the teacher's manager
// package) is one goroutine per live child that blocks on cmd.Wait() and
// posts its result to a shared channel the loop polls non-blockingly.
type Table struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	exits   chan ExitEvent
}

func NewTable() *Table {
	return &Table{
		entries: make(map[string]*Entry),
		exits:   make(chan ExitEvent, 256),
	}
}

// Put registers (or replaces) the entry for a service name.
func (t *Table) Put(name string, e *Entry) {
	t.mu.Lock()
	t.entries[name] = e
	t.mu.Unlock()
}

// Get returns the entry for name, or nil.
func (t *Table) Get(name string) *Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entries[name]
}

// Remove deletes the entry for name from the table (after reap + stop).
func (t *Table) Remove(name string) {
	t.mu.Lock()
	delete(t.entries, name)
	t.mu.Unlock()
}

// RemoveIfCurrent deletes name's entry only if it is still e, returning
// whether it did. Guards against a stale exit event (drained after a
// rolling promotion or a fresh respawn already replaced the slot) tearing
// down the instance that replaced it.
func (t *Table) RemoveIfCurrent(name string, e *Entry) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.entries[name] != e {
		return false
	}
	delete(t.entries, name)
	return true
}

// SnapshotAll lists (name, pid, started_at, pgid) for every entry, per §4.2.
func (t *Table) SnapshotAll() []Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Snapshot, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e.Snapshot())
	}
	return out
}

// WatchExit starts the single waiter goroutine for name's entry, if one
// isn't already running (MonitoringStartIfNeeded guards duplicate waiters
// the same way the teacher's process.IsMonitoring flag does).
func (t *Table) WatchExit(name string, e *Entry) {
	if !e.MonitoringStartIfNeeded() {
		return
	}
	go func() {
		cmd := e.CopyCmd()
		var err error
		if cmd != nil {
			err = cmd.Wait()
		}
		e.CloseWaitDone()
		e.MarkExited(err)
		e.CloseWriters()
		e.MonitoringStop()
		t.exits <- ExitEvent{Name: name, Err: err, Entry: e}
	}()
}

// Reap drains every exit event currently buffered, without blocking. This is
// the Process Table's non-blocking reap() contract (§4.2): the supervisor
// loop calls it once per tick and routes each event into the state machine.
func (t *Table) Reap() []ExitEvent {
	var out []ExitEvent
	for {
		select {
		case ev := <-t.exits:
			out = append(out, ev)
		default:
			return out
		}
	}
}

// KillAllGroups SIGKILLs every recorded process group; used at shutdown to
// satisfy invariant 6 (no spawned process survives the supervisor).
func (t *Table) KillAllGroups() {
	t.mu.RLock()
	entries := make([]*Entry, 0, len(t.entries))
	for _, e := range t.entries {
		entries = append(entries, e)
	}
	t.mu.RUnlock()
	for _, e := range entries {
		_ = e.Kill()
	}
}
