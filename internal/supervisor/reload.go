package supervisor

import (
	"context"
	"time"

	"github.com/systemg/systemg/internal/config"
	"github.com/systemg/systemg/internal/health"
	"github.com/systemg/systemg/internal/planner"
	"github.com/systemg/systemg/internal/procspec"
	"github.com/systemg/systemg/internal/svcstate"
)

// SetConfigPath records the path a future SIGHUP-triggered reload should
// re-read, set once by the daemon entry point after the initial Load.
func (s *Supervisor) SetConfigPath(path string) { s.configPath = path }

// Reload implements spec.md §4.12: re-read path, diff against the live
// descriptor set, and apply Added/Removed/Changed. Added services enter
// Pending; Removed traverse stop order; Changed are restarted under their
// deployment strategy. The plan is rebuilt from the new descriptor set, so a
// cyclic or unknown-dependency reload is rejected before anything is
// mutated (§7: "supervisor refuses to apply; running services untouched").
func (s *Supervisor) Reload(path string) (config.Diff, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Diff{}, err
	}
	if _, err := planner.Build(cfg.Specs); err != nil {
		return config.Diff{}, err
	}

	prev := make([]procspec.Spec, 0, len(s.specs))
	for _, spec := range s.specs {
		prev = append(prev, spec)
	}
	diff := config.DiffSpecs(prev, cfg.Specs)

	for _, spec := range diff.Added {
		s.applyAddedSpec(spec)
	}
	for _, spec := range diff.Removed {
		s.applyRemovedSpec(spec)
	}
	for _, spec := range diff.Changed {
		s.applyChangedSpec(spec)
	}

	newSpecs := make([]procspec.Spec, 0, len(s.specs))
	for _, spec := range s.specs {
		newSpecs = append(newSpecs, spec)
	}
	plan, err := planner.Build(newSpecs)
	if err != nil {
		return diff, err
	}
	s.plan = plan
	s.configPath = path
	return diff, nil
}

func (s *Supervisor) applyAddedSpec(spec procspec.Spec) {
	s.specs[spec.Name] = spec
	probe, err := health.NewProbe(spec.HealthCheck)
	if err != nil {
		s.log.Warnf("reload: service %s: invalid health check: %v", spec.Name, err)
	}
	s.probes[spec.Name] = probe
	if spec.IsScheduled() {
		if err := s.scheduler.Add(spec.Name, spec.Cron, time.Now()); err != nil {
			s.log.Warnf("reload: service %s: invalid cron expression: %v", spec.Name, err)
		}
		s.transition(spec.Name, svcstate.ScheduledIdle, 0, "added by reload")
		return
	}
	s.transition(spec.Name, svcstate.Pending, 0, "added by reload")
}

func (s *Supervisor) applyRemovedSpec(spec procspec.Spec) {
	if entry := s.table.Get(spec.Name); entry != nil {
		entry.SetStopRequested(true)
		_ = entry.TerminateAsync(10 * time.Second)
		s.table.Remove(spec.Name)
	}
	s.scheduler.Remove(spec.Name)
	s.transition(spec.Name, svcstate.Stopped, 0, "removed by reload")
	delete(s.specs, spec.Name)
	delete(s.probes, spec.Name)
	delete(s.nextProbeAt, spec.Name)
}

func (s *Supervisor) applyChangedSpec(spec procspec.Spec) {
	s.specs[spec.Name] = spec
	probe, err := health.NewProbe(spec.HealthCheck)
	if err != nil {
		s.log.Warnf("reload: service %s: invalid health check: %v", spec.Name, err)
	}
	s.probes[spec.Name] = probe

	if spec.IsScheduled() {
		s.scheduler.Remove(spec.Name)
		if err := s.scheduler.Add(spec.Name, spec.Cron, time.Now()); err != nil {
			s.log.Warnf("reload: service %s: invalid cron expression: %v", spec.Name, err)
		}
		return
	}

	rolling := spec.Deployment != nil && spec.Deployment.Strategy == procspec.DeployRolling
	if rolling {
		go func() {
			res := s.rollCoord.Restart(context.Background(), spec, s.envOverlay, s, s.probes[spec.Name])
			if res.Err != nil {
				s.log.Warnf("reload: %s: rolling restart failed: %v", spec.Name, res.Err)
			}
		}()
		return
	}

	if entry := s.table.Get(spec.Name); entry != nil {
		entry.SetStopRequested(true)
		_ = entry.TerminateAsync(5 * time.Second)
		s.table.Remove(spec.Name)
	}
	s.transitionWithRestarts(spec.Name, svcstate.Pending, 0, "changed by reload", 0, time.Time{})
}
