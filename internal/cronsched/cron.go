// Package cronsched evaluates cron expressions against the wall clock and
// fires due scheduled jobs (spec.md §4.5), keeping a bounded history ring of
// run outcomes per job. Grounded on the teacher's internal/cronjob package,
// which already wraps robfig/cron/v3 with the SecondOptional parser flag
// needed to accept both 5- and 6-field expressions.
package cronsched

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// parser accepts the standard 5-field form and the extended 6-field form
// with seconds, exactly as the teacher's internal/cronjob/spec.go does.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateExpr reports whether expr parses as a valid cron schedule.
func ValidateExpr(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// RunHistoryEntry records one completed run of a scheduled job, surfaced
// through `status` per spec.md §4.5.
type RunHistoryEntry struct {
	StartedAt time.Time
	Duration  time.Duration
	ExitCode  int
	Skipped   bool
}

// job is the scheduler's private bookkeeping for one cron-enabled service.
type job struct {
	name     string
	schedule cron.Schedule
	next     time.Time
	running  bool // true while ScheduledRunning; guards non-overlap (§4.5)

	mu      sync.Mutex
	history []RunHistoryEntry
}

const defaultHistoryLimit = 20

// Scheduler keeps one (next_fire_time, service_name) pair per job (spec.md
// §4.5) in a map keyed by service name. The pairs are not kept sorted, and
// DueJobs returns due names in no defined order. It does not itself run
// jobs: each tick,
// DueJobs returns the names that should be handed to the supervisor loop to
// start, and the caller reports completion via Finished.
type Scheduler struct {
	mu           sync.Mutex
	jobs         map[string]*job
	historyLimit int
	onSkip       func(name string)
}

func NewScheduler() *Scheduler {
	return &Scheduler{jobs: make(map[string]*job), historyLimit: defaultHistoryLimit}
}

// SetSkipHandler registers a callback invoked whenever DueJobs skips a fire
// because the previous run is still ScheduledRunning, so the caller can feed
// a skip counter (e.g. a Prometheus metric) without polling history.
func (s *Scheduler) SetSkipHandler(fn func(name string)) {
	s.mu.Lock()
	s.onSkip = fn
	s.mu.Unlock()
}

// Add registers a cron-enabled service. now is the wall-clock time used to
// compute the job's first next_fire_time.
func (s *Scheduler) Add(name, expr string, now time.Time) error {
	sched, err := parser.Parse(expr)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[name] = &job{name: name, schedule: sched, next: sched.Next(now)}
	return nil
}

// Remove drops a job, e.g. on config reload removal.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	delete(s.jobs, name)
	s.mu.Unlock()
}

// DueJobs returns the names of jobs whose next_fire_time has arrived and
// that are not already ScheduledRunning. next_fire_time is recomputed from
// now forward immediately (not from the scheduled instant), so two
// overlapping fires of the same job are impossible (§4.5, testable
// property 3). A job still running when its instant arrives is skipped and
// recorded in its history as Skipped.
func (s *Scheduler) DueJobs(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []string
	for _, j := range s.jobs {
		if now.Before(j.next) {
			continue
		}
		if j.running {
			j.recordSkip(now)
			j.next = j.schedule.Next(now)
			if s.onSkip != nil {
				s.onSkip(j.name)
			}
			continue
		}
		j.running = true
		j.next = j.schedule.Next(now)
		due = append(due, j.name)
	}
	return due
}

func (j *job) recordSkip(at time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.history = append(j.history, RunHistoryEntry{StartedAt: at, Skipped: true})
	j.trimLocked(defaultHistoryLimit)
}

// Finished records the outcome of a completed run and clears the
// ScheduledRunning guard so the job may fire again.
func (s *Scheduler) Finished(name string, startedAt time.Time, dur time.Duration, exitCode int) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	limit := s.historyLimit
	s.mu.Unlock()
	if !ok {
		return
	}
	j.mu.Lock()
	j.running = false
	j.history = append(j.history, RunHistoryEntry{StartedAt: startedAt, Duration: dur, ExitCode: exitCode})
	j.trimLocked(limit)
	j.mu.Unlock()
}

func (j *job) trimLocked(limit int) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if len(j.history) > limit {
		j.history = j.history[len(j.history)-limit:]
	}
}

// IsRunning reports whether name is currently in ScheduledRunning.
func (s *Scheduler) IsRunning(name string) bool {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return false
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

// History returns a copy of name's bounded run-history ring.
func (s *Scheduler) History(name string) []RunHistoryEntry {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]RunHistoryEntry, len(j.history))
	copy(out, j.history)
	return out
}
