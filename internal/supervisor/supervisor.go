// Package supervisor implements the single-threaded cooperative event loop
// that drives every other collaborator (spec.md §4.9): the process table,
// state store, cron scheduler, health prober, hook dispatcher, rolling
// coordinator, and metrics sampler all get served from one fixed-order tick.
// Grounded on the teacher's internal/manager/supervisor.go + handler.go,
// which centralizes process lifecycle behind a single owning goroutine and a
// buffered ctrl channel; this package generalizes that shape to a full state
// machine instead of a flat start/stop map.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/systemg/systemg/internal/config"
	"github.com/systemg/systemg/internal/cronsched"
	"github.com/systemg/systemg/internal/detector"
	"github.com/systemg/systemg/internal/env"
	"github.com/systemg/systemg/internal/health"
	"github.com/systemg/systemg/internal/history"
	"github.com/systemg/systemg/internal/hooks"
	"github.com/systemg/systemg/internal/logger"
	"github.com/systemg/systemg/internal/metrics"
	"github.com/systemg/systemg/internal/planner"
	"github.com/systemg/systemg/internal/procmanager"
	"github.com/systemg/systemg/internal/procspec"
	"github.com/systemg/systemg/internal/rolling"
	"github.com/systemg/systemg/internal/signals"
	"github.com/systemg/systemg/internal/statestore"
	"github.com/systemg/systemg/internal/svcstate"
)

const tickInterval = 250 * time.Millisecond

// metricsSampleEveryNTicks implements §4.9 step 6 ("sample metrics every 5 ticks").
const metricsSampleEveryNTicks = 5

// Supervisor is the single owner of process lifecycle state. All mutation of
// specs/plan/shadows happens on the loop goroutine (Run); methods called
// from other goroutines (Submit, the StatusProvider/Spawner interfaces)
// either read through the already-synchronized collaborators (store, table)
// or hand off work through ctrlQueue, never touching loop-only fields
// directly.
type Supervisor struct {
	stateDir string

	specs map[string]procspec.Spec
	plan  *planner.Plan

	table   *procmanager.Table
	store   *statestore.SnapshotStore
	backend statestore.Backend

	scheduler    *cronsched.Scheduler
	cronStarted  map[string]time.Time

	healthPool    *health.Pool
	probes        map[string]health.Probe
	nextProbeAt   map[string]time.Time
	healthResults chan health.ProbeResult
	probeFailures map[string]int

	hookDisp *hooks.Dispatcher
	rollCoord *rolling.Coordinator
	shadowsMu sync.Mutex
	shadows   map[string]*procmanager.Entry

	sampler *metrics.Sampler

	historyW *history.Writer
	logCfg   logger.Config
	log      *logger.Supervisor

	envOverlay *env.Env

	ctrlQueue chan *Request

	tickCount uint64

	shuttingDown bool

	configPath        string
	sigRouter         *signals.Router
	shutdownRequested bool
}

// New builds a Supervisor from a decoded Config and the state directory it
// owns (spec.md §6 state directory layout).
func New(cfg *config.Config, stateDir string) (*Supervisor, error) {
	plan, err := planner.Build(cfg.Specs)
	if err != nil {
		return nil, err
	}

	logCfg := logger.Config{Dir: stateDir + "/logs"}
	if cfg.Log != nil {
		logCfg = logger.Config{
			Dir:        cfg.Log.Dir,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
		}
		if logCfg.Dir == "" {
			logCfg.Dir = stateDir + "/logs"
		}
	}
	supLog, err := logger.NewSupervisor(logCfg.Dir, logCfg)
	if err != nil {
		return nil, fmt.Errorf("supervisor: build logger: %w", err)
	}

	var historyW *history.Writer
	if cfg.History != nil && cfg.History.Enabled {
		sink, err := history.NewSink(history.Config{
			ClickHouseAddr:  cfg.History.ClickHouseURL,
			ClickHouseTable: cfg.History.ClickHouseTable,
			OpenSearchURL:   cfg.History.OpenSearchURL,
			OpenSearchIndex: cfg.History.OpenSearchIndex,
		})
		if err != nil {
			return nil, fmt.Errorf("supervisor: build history sink: %w", err)
		}
		historyW = history.NewWriter(sink)
	}

	backend, err := statestore.NewBackend(cfg.StoreBackendConfig())
	if err != nil {
		return nil, fmt.Errorf("supervisor: build state backend: %w", err)
	}

	store := statestore.NewSnapshotStore(stateDir)
	if _, err := store.Load(); err != nil {
		return nil, fmt.Errorf("supervisor: load snapshot: %w", err)
	}

	globalEnv, err := cfg.GlobalEnv()
	if err != nil {
		return nil, fmt.Errorf("supervisor: resolve global env: %w", err)
	}
	overlay := env.New()
	for _, kv := range globalEnv {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			overlay = overlay.WithSet(kv[:i], kv[i+1:])
		}
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return nil, fmt.Errorf("supervisor: register metrics: %w", err)
	}
	sampler := metrics.NewSampler(0)
	if err := sampler.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		return nil, fmt.Errorf("supervisor: register sampler metrics: %w", err)
	}

	specs := make(map[string]procspec.Spec, len(cfg.Specs))
	probes := make(map[string]health.Probe, len(cfg.Specs))
	for _, spec := range cfg.Specs {
		specs[spec.Name] = spec
		p, err := health.NewProbe(spec.HealthCheck)
		if err != nil {
			return nil, fmt.Errorf("supervisor: build probe for %s: %w", spec.Name, err)
		}
		probes[spec.Name] = p
	}

	scheduler := cronsched.NewScheduler()
	scheduler.SetSkipHandler(metrics.IncCronSkip)
	now := time.Now()
	for _, spec := range cfg.Specs {
		if spec.IsScheduled() {
			if err := scheduler.Add(spec.Name, spec.Cron, now); err != nil {
				return nil, fmt.Errorf("supervisor: register cron job %s: %w", spec.Name, err)
			}
		}
	}

	s := &Supervisor{
		stateDir:      stateDir,
		specs:         specs,
		plan:          plan,
		table:         procmanager.NewTable(),
		store:         store,
		backend:       backend,
		scheduler:     scheduler,
		cronStarted:   make(map[string]time.Time),
		healthPool:    health.NewPool(),
		probes:        probes,
		nextProbeAt:   make(map[string]time.Time),
		healthResults: make(chan health.ProbeResult, 64),
		probeFailures: make(map[string]int),
		shadows:       make(map[string]*procmanager.Entry),
		sampler:       sampler,
		historyW:      historyW,
		logCfg:        logCfg,
		log:           supLog,
		envOverlay:    overlay,
		ctrlQueue:     make(chan *Request, 64),
	}
	s.hookDisp = hooks.NewDispatcher(supLog)
	s.rollCoord = rolling.NewCoordinator()
	return s, nil
}

// AttachSignals wires an already-installed signals.Router into the loop's
// per-tick drain step (§4.9 step 2 / §4.11), and records the config path a
// SIGHUP-triggered reload should re-read.
func (s *Supervisor) AttachSignals(r *signals.Router, configPath string) {
	s.sigRouter = r
	s.configPath = configPath
}

// Run drives the tick loop until ctx is cancelled or a SIGINT/SIGTERM intent
// is drained from the attached signal router, then performs an ordered
// shutdown: traverse stop order, terminate each with grace, return once all
// are reaped (spec.md §4.11).
func (s *Supervisor) Run(ctx context.Context) error {
	s.bootstrap()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case <-ticker.C:
			s.tick()
			if s.shutdownRequested {
				s.shutdown()
				return nil
			}
		}
	}
}

// drainSignals implements §4.9 step 2: translate queued signal intents into
// loop action without blocking. SIGCHLD needs no extra handling beyond
// waking the loop (reapExits already runs earlier in the same tick).
func (s *Supervisor) drainSignals() {
	if s.sigRouter == nil {
		return
	}
	for {
		select {
		case intent := <-s.sigRouter.Intents:
			switch intent {
			case signals.IntentShutdown:
				s.shutdownRequested = true
			case signals.IntentReload:
				if _, err := s.Reload(s.configPath); err != nil {
					s.log.Errorf("reload: %v", err)
				}
			}
		default:
			return
		}
	}
}

// bootstrap recovers any orphaned pid recorded in the snapshot (§4.3): a pid
// still alive, and confirmed via detector.VerifyPID to be the same process
// that last reported in (not a recycled pid wearing the old one's number),
// is adopted as Running; otherwise the service is marked Failed and its
// restart policy is applied at once (Pending, or Backoff when a backoff is
// set), so a later tick restarts it if the policy allows. The adopted entry
// is NOT re-registered in the process table: systemg never forked this pid
// in the current run, so it cannot wait(2) on it or signal its process
// group safely. It is tracked only through its state-store record; stop and
// restart requests act on process-table entries only, so they send no
// signal to an adopted pid.
func (s *Supervisor) bootstrap() {
	for _, rec := range s.store.All() {
		if _, ok := s.specs[rec.Name]; !ok || rec.PID == 0 {
			continue
		}
		alive, reused := detector.VerifyPID(rec.PID, rec.PIDStartUnix)
		if alive {
			s.log.Infof("%s: adopting live pid %d from snapshot", rec.Name, rec.PID)
			s.transition(rec.Name, svcstate.Running, 0, "adopted live pid from snapshot")
			continue
		}
		detail := "orphaned pid not alive at startup"
		if reused {
			detail = "orphaned pid now held by an unrelated process; not adopting"
		}
		s.transition(rec.Name, svcstate.Failed, -1, detail)
		spec := s.specs[rec.Name]
		if !s.shouldRestart(spec, rec, -1) {
			continue
		}
		if spec.Backoff > 0 {
			s.transitionWithRestarts(rec.Name, svcstate.Backoff, -1, "awaiting backoff before restart", rec.RestartCount+1, time.Now().Add(spec.Backoff))
		} else {
			s.transitionWithRestarts(rec.Name, svcstate.Pending, -1, "restarting per policy", rec.RestartCount+1, time.Time{})
		}
	}
}

// Close releases everything the Supervisor owns that isn't tied to ctx
// cancellation (loggers, history sink, durable backend, health pool).
func (s *Supervisor) Close() error {
	s.healthPool.Close()
	if s.historyW != nil {
		_ = s.historyW.Close()
	}
	if s.backend != nil {
		_ = s.backend.Close()
	}
	return s.log.Close()
}

func extractExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}
