package supervisor

import (
	"time"

	"github.com/systemg/systemg/internal/detector"
	"github.com/systemg/systemg/internal/health"
	"github.com/systemg/systemg/internal/history"
	"github.com/systemg/systemg/internal/metrics"
	"github.com/systemg/systemg/internal/procmanager"
	"github.com/systemg/systemg/internal/procspec"
	"github.com/systemg/systemg/internal/svcstate"
)

// healthyStabilityWindow is §4.4's "reaching Healthy and staying there for
// 60 seconds" threshold before restart_count resets.
const healthyStabilityWindow = 60 * time.Second

// tick runs the fixed eight-step order of spec.md §4.9, with one extra
// step (resetStableRestarts) between steps 3 and 4.
func (s *Supervisor) tick() {
	s.reapExits()
	s.drainSignals()
	s.advanceStateMachines()
	s.resetStableRestarts()
	s.pollCron()
	s.pollHealth()
	s.tickCount++
	if s.tickCount%metricsSampleEveryNTicks == 0 {
		s.sampleMetrics()
	}
	s.serviceControlBatch()
	_ = s.store.SaveIfDirty()
}

// reapExits drains every exit event buffered since the last tick (§4.9 step 1).
func (s *Supervisor) reapExits() {
	for _, ev := range s.table.Reap() {
		s.handleExit(ev)
	}
}

func (s *Supervisor) handleExit(ev procmanager.ExitEvent) {
	name := ev.Name
	spec, ok := s.specs[name]
	if !ok {
		return
	}
	exitCode := extractExitCode(ev.Err)

	if spec.IsScheduled() {
		started := s.cronStarted[name]
		delete(s.cronStarted, name)
		s.scheduler.Finished(name, started, time.Since(started), exitCode)
		s.transition(name, svcstate.ScheduledIdle, exitCode, "cron run finished")
		return
	}

	if cur := s.table.Get(name); cur != nil && cur != ev.Entry {
		// A rolling promotion (interfaces.go's PromoteShadow) or a fresh
		// respawn already replaced this service's table entry before this
		// event was drained (§4.7: steps 1-3 run off the tick goroutine
		// and can complete inside a single 250ms tick). The service's
		// record is owned by whatever replaced it and, across a rolling
		// restart, never left Healthy — this event belongs solely to the
		// superseded instance and carries no state-machine action.
		return
	}

	stopRequested := ev.Entry != nil && ev.Entry.StopRequested()
	outcome := procspec.OutcomeSuccess
	if exitCode != 0 {
		outcome = procspec.OutcomeError
	}
	s.hookDisp.Dispatch(spec, procspec.TriggerOnStop, outcome, s.envOverlay)
	metrics.IncStop(name)

	if stopRequested {
		s.table.RemoveIfCurrent(name, ev.Entry)
		s.transition(name, svcstate.Stopped, exitCode, "stopped on request")
		return
	}

	rec, _ := s.store.Get(name)
	if s.shouldRestart(spec, rec, exitCode) {
		s.table.RemoveIfCurrent(name, ev.Entry)
		restarts := rec.RestartCount + 1
		if spec.Backoff > 0 {
			until := time.Now().Add(spec.Backoff)
			s.transitionWithRestarts(name, svcstate.Backoff, exitCode, "awaiting backoff before restart", restarts, until)
		} else {
			s.transitionWithRestarts(name, svcstate.Pending, exitCode, "restarting immediately", restarts, time.Time{})
		}
		s.hookDisp.Dispatch(spec, procspec.TriggerOnRestart, procspec.OutcomeSuccess, s.envOverlay)
		return
	}

	s.table.RemoveIfCurrent(name, ev.Entry)
	s.transition(name, svcstate.Failed, exitCode, "exited, not restarting per policy")
}

// shouldRestart implements spec.md §4.4's restart/backoff decision table.
func (s *Supervisor) shouldRestart(spec procspec.Spec, rec svcstate.Record, exitCode int) bool {
	max := spec.MaxRestartsOrUnbounded()
	if max >= 0 && rec.RestartCount >= max {
		return false
	}
	switch spec.RestartPolicy {
	case procspec.RestartAlways:
		return true
	case procspec.RestartOnFailure:
		return exitCode != 0
	default:
		return false
	}
}

// advanceStateMachines implements §4.9 step 3: pending->starting when deps
// are ready, backoff->starting when the timer has elapsed.
func (s *Supervisor) advanceStateMachines() {
	now := time.Now()
	for _, name := range s.plan.StartOrder {
		spec := s.specs[name]
		if spec.IsScheduled() {
			continue
		}
		rec, ok := s.store.Get(name)
		state := rec.State
		if !ok || state == "" {
			state = svcstate.Pending
		}
		switch state {
		case svcstate.Pending:
			if s.depsReady(name) {
				s.startService(spec)
			}
		case svcstate.Backoff:
			if !rec.BackoffUntil.IsZero() && now.After(rec.BackoffUntil) {
				s.startService(spec)
			}
		}
	}
}

// resetStableRestarts implements §4.4: a service that has stayed Healthy for
// healthyStabilityWindow has its restart_count reset to zero, independent of
// the state-transition path (a plain timer check, not a transition itself).
func (s *Supervisor) resetStableRestarts() {
	now := time.Now()
	for name := range s.specs {
		rec, ok := s.store.Get(name)
		if !ok || rec.State != svcstate.Healthy || rec.RestartCount == 0 {
			continue
		}
		if rec.HealthySince.IsZero() || now.Sub(rec.HealthySince) < healthyStabilityWindow {
			continue
		}
		rec.RestartCount = 0
		s.store.Put(rec)
	}
}

func (s *Supervisor) depsReady(name string) bool {
	spec := s.specs[name]
	if len(spec.DependsOn) == 0 {
		return true
	}
	depStates := make(map[string]svcstate.State, len(spec.DependsOn))
	depHasProbe := make(map[string]bool, len(spec.DependsOn))
	for _, dep := range spec.DependsOn {
		rec, _ := s.store.Get(dep)
		depStates[dep] = rec.State
		depHasProbe[dep] = s.specs[dep].HealthCheck != nil
	}
	return svcstate.CanAdvancePending(depStates, depHasProbe)
}

// startService spawns spec's process table entry and advances it from
// Pending straight to Starting, then to Healthy immediately if it carries
// no health check (§3: "advances straight from Starting to Healthy on
// exec").
func (s *Supervisor) startService(spec procspec.Spec) {
	entry, err := s.spawnEntry(spec)
	if err != nil {
		s.transition(spec.Name, svcstate.Failed, -1, err.Error())
		s.hookDisp.Dispatch(spec, procspec.TriggerOnStart, procspec.OutcomeError, s.envOverlay)
		return
	}
	metrics.IncStart(spec.Name)
	s.transition(spec.Name, svcstate.Starting, 0, "spawned")
	if spec.HealthCheck == nil {
		s.transition(spec.Name, svcstate.Healthy, 0, "no health check, advancing immediately")
	} else {
		s.nextProbeAt[spec.Name] = time.Now()
	}
	s.hookDisp.Dispatch(spec, procspec.TriggerOnStart, procspec.OutcomeSuccess, s.envOverlay)
	_ = entry
}

func (s *Supervisor) spawnEntry(spec procspec.Spec) (*procmanager.Entry, error) {
	outW, errW, err := s.logCfg.Writers(spec.Name)
	if err != nil {
		return nil, err
	}
	entry := procmanager.NewEntry(spec)
	if err := entry.Spawn(s.envOverlay, outW, errW); err != nil {
		return nil, err
	}
	s.table.Put(spec.Name, entry)
	s.table.WatchExit(spec.Name, entry)
	return entry, nil
}

// pollCron implements §4.9 step 4.
func (s *Supervisor) pollCron() {
	now := time.Now()
	for _, name := range s.scheduler.DueJobs(now) {
		spec, ok := s.specs[name]
		if !ok {
			continue
		}
		s.cronStarted[name] = now
		entry, err := s.spawnEntry(spec)
		if err != nil {
			s.scheduler.Finished(name, now, 0, -1)
			s.transition(name, svcstate.Failed, -1, err.Error())
			continue
		}
		metrics.IncStart(name)
		s.transition(name, svcstate.ScheduledRunning, 0, "cron fire")
		_ = entry
	}
}

// pollHealth implements §4.9 step 5: submit due probes to the worker pool,
// then drain whatever results have arrived (non-blocking, a probe started
// on a previous tick may still be in flight).
func (s *Supervisor) pollHealth() {
	now := time.Now()
	for name, probe := range s.probes {
		if probe == nil {
			continue
		}
		rec, ok := s.store.Get(name)
		if !ok || !rec.State.IsRunningLike() {
			continue
		}
		due, ok := s.nextProbeAt[name]
		if ok && now.Before(due) {
			continue
		}
		spec := s.specs[name]
		timeout := 5 * time.Second
		interval := 10 * time.Second
		if spec.HealthCheck != nil {
			if spec.HealthCheck.Timeout > 0 {
				timeout = spec.HealthCheck.Timeout
			}
			if spec.HealthCheck.Interval > 0 {
				interval = spec.HealthCheck.Interval
			}
		}
		s.nextProbeAt[name] = now.Add(interval)
		s.healthPool.Submit(name, probe, timeout, s.healthResults)
	}

	for {
		select {
		case res := <-s.healthResults:
			s.handleProbeResult(res)
		default:
			return
		}
	}
}

func (s *Supervisor) handleProbeResult(res health.ProbeResult) {
	spec, ok := s.specs[res.Service]
	if !ok {
		return
	}
	rec, _ := s.store.Get(res.Service)
	if !rec.State.IsRunningLike() {
		return
	}
	if res.Err == nil {
		s.probeFailures[res.Service] = 0
		if rec.State != svcstate.Healthy {
			s.transition(res.Service, svcstate.Healthy, 0, "probe succeeded")
		}
		return
	}

	retries := 3
	if spec.HealthCheck != nil && spec.HealthCheck.Retries > 0 {
		retries = spec.HealthCheck.Retries
	}
	s.probeFailures[res.Service]++
	if s.probeFailures[res.Service] < retries {
		return
	}
	s.probeFailures[res.Service] = 0
	s.log.Warnf("%s: probe failed %d consecutive times: %v", res.Service, retries, res.Err)
	if err := entryTerminate(s.table, res.Service, 10*time.Second); err != nil {
		s.log.Warnf("%s: terminate after probe failure: %v", res.Service, err)
	}
}

func entryTerminate(table *procmanager.Table, name string, grace time.Duration) error {
	e := table.Get(name)
	if e == nil {
		return nil
	}
	return e.TerminateAsync(grace)
}

// sampleMetrics implements §4.9 step 6, bounded to metrics.SamplerServiceCap
// services per invocation per §5.
func (s *Supervisor) sampleMetrics() {
	pids := make(map[string]int32, len(s.specs))
	for _, snap := range s.table.SnapshotAll() {
		if snap.PID != 0 {
			pids[snap.Name] = int32(snap.PID)
		}
	}
	s.sampler.SampleOnce(pids)
}

// transition records a state-machine edge: updates the in-memory state
// store, the history audit sink, Prometheus counters, and the supervisor
// log line, in that order.
func (s *Supervisor) transition(name string, to svcstate.State, exitCode int, detail string) {
	s.transitionWithRestarts(name, to, exitCode, detail, -1, time.Time{})
}

func (s *Supervisor) transitionWithRestarts(name string, to svcstate.State, exitCode int, detail string, restartCount int, backoffUntil time.Time) {
	rec, _ := s.store.Get(name)
	from := rec.State
	if from == "" {
		from = svcstate.Pending
	}
	rec.Name = name
	rec.State = to
	rec.LastTransition = time.Now().UTC()
	rec.LastExitCode = exitCode
	if restartCount >= 0 {
		rec.RestartCount = restartCount
	}
	rec.BackoffUntil = backoffUntil
	if to == svcstate.Healthy && from != svcstate.Healthy {
		rec.HealthySince = time.Now().UTC()
	}
	if e := s.table.Get(name); e != nil {
		if pid := e.Snapshot().PID; pid != rec.PID {
			rec.PID = pid
			rec.PIDStartUnix = detector.StartUnix(pid)
		}
	}
	if !to.IsRunningLike() {
		rec.PID = 0
		rec.PIDStartUnix = 0
	}
	s.store.Put(rec)

	metrics.SetCurrentState(name, string(from), false)
	metrics.SetCurrentState(name, string(to), true)
	metrics.RecordStateTransition(name, string(from), string(to))
	if to == svcstate.Pending && restartCount > 0 {
		metrics.IncRestart(name)
	}

	if s.historyW != nil {
		s.historyW.Record(history.Event{
			Service:    name,
			From:       from,
			To:         to,
			OccurredAt: rec.LastTransition,
			ExitCode:   exitCode,
			Detail:     detail,
		})
	}
	if s.log != nil {
		s.log.Infof("%s: %s -> %s (%s)", name, from, to, detail)
	}
}

// shutdown performs the ordered stop traversal of §4.11: walk stop order,
// terminate each entry with grace, and kill any remaining process groups so
// invariant 6 (no spawned process survives the supervisor) holds even if a
// child ignores SIGTERM beyond its grace window.
func (s *Supervisor) shutdown() {
	s.shuttingDown = true
	for _, name := range s.plan.StopOrder {
		entry := s.table.Get(name)
		if entry == nil {
			continue
		}
		entry.SetStopRequested(true)
		_ = entry.Terminate(10 * time.Second)
		s.transition(name, svcstate.Stopped, 0, "shutdown")
	}
	s.table.KillAllGroups()
	_ = s.store.SaveIfDirty()
}
