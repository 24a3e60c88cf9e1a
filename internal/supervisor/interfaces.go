package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/systemg/systemg/internal/env"
	"github.com/systemg/systemg/internal/metrics"
	"github.com/systemg/systemg/internal/procmanager"
	"github.com/systemg/systemg/internal/procspec"
	"github.com/systemg/systemg/internal/svcstate"
)

// AllStatus implements debugserver.StatusProvider.
func (s *Supervisor) AllStatus() map[string]svcstate.Record {
	out := s.store.All()
	for name := range s.specs {
		if _, ok := out[name]; !ok {
			out[name] = svcstate.Record{Name: name, State: svcstate.Pending}
		}
	}
	return out
}

// Status implements debugserver.StatusProvider.
func (s *Supervisor) Status(name string) (svcstate.Record, bool) {
	if _, ok := s.specs[name]; !ok {
		return svcstate.Record{}, false
	}
	rec, ok := s.store.Get(name)
	if !ok {
		return svcstate.Record{Name: name, State: svcstate.Pending}, true
	}
	return rec, true
}

// Sample implements debugserver.StatusProvider.
func (s *Supervisor) Sample(name string) (metrics.Sample, bool) {
	return s.sampler.Latest(name)
}

// SpawnShadow implements rolling.Spawner: starts a distinct-pgid instance of
// spec under a "<name>.shadow" log/process identity, leaving the primary
// slot in the process table untouched (spec.md §4.7 step 1).
func (s *Supervisor) SpawnShadow(_ context.Context, spec procspec.Spec, overlay *env.Env) (*procmanager.Entry, error) {
	shadowName := spec.Name + ".shadow"
	outW, errW, err := s.logCfg.Writers(shadowName)
	if err != nil {
		return nil, err
	}
	entry := procmanager.NewEntry(spec)
	if err := entry.Spawn(overlay, outW, errW); err != nil {
		return nil, fmt.Errorf("rolling: spawn shadow for %s: %w", spec.Name, err)
	}
	s.shadowsMu.Lock()
	s.shadows[spec.Name] = entry
	s.shadowsMu.Unlock()
	s.table.WatchExit(shadowName, entry)
	return entry, nil
}

// StopPrimary implements rolling.Spawner: terminates the currently-promoted
// instance within grace (spec.md §4.7 step 3).
func (s *Supervisor) StopPrimary(_ context.Context, spec procspec.Spec, grace time.Duration) error {
	entry := s.table.Get(spec.Name)
	if entry == nil {
		return nil
	}
	entry.SetStopRequested(true)
	return entry.Terminate(grace)
}

// PromoteShadow implements rolling.Spawner: the shadow becomes the new
// primary process-table entry and the service is observed Healthy
// throughout (spec.md §4.7: "dependents see the service as continuously
// Healthy").
func (s *Supervisor) PromoteShadow(spec procspec.Spec, shadow *procmanager.Entry) {
	s.shadowsMu.Lock()
	delete(s.shadows, spec.Name)
	s.shadowsMu.Unlock()
	s.table.Remove(spec.Name)
	s.table.Put(spec.Name, shadow)
	metrics.IncRestart(spec.Name)
	s.transition(spec.Name, svcstate.Healthy, 0, "rolling restart promoted shadow")
}
