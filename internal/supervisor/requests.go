package supervisor

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/systemg/systemg/internal/config"
	"github.com/systemg/systemg/internal/procspec"
	"github.com/systemg/systemg/internal/svcstate"
)

// ReqKind is one of the control-server request kinds of spec.md §4.10.
type ReqKind string

const (
	ReqStatus  ReqKind = "status"
	ReqStart   ReqKind = "start"
	ReqStop    ReqKind = "stop"
	ReqRestart ReqKind = "restart"
	ReqLogs    ReqKind = "logs"
	ReqInspect ReqKind = "inspect"
	ReqSpawn   ReqKind = "spawn"
	ReqPurge   ReqKind = "purge"
	ReqReload  ReqKind = "reload"
)

// ReplyKind is one of the three control-server reply kinds of spec.md §4.10.
type ReplyKind string

const (
	ReplyOk     ReplyKind = "ok"
	ReplyErr    ReplyKind = "err"
	ReplyStream ReplyKind = "stream"
)

// Request is a single control-server intent, serialized against the loop
// through ctrlQueue and replied to exactly once via reply.
type Request struct {
	Kind ReqKind

	Services []string
	All      bool
	Graceful bool

	ForceRolling bool

	LogKind  string // "stdout" | "stderr" | "supervisor"
	LogLines int

	Window time.Duration

	SpawnName   string
	SpawnArgv   []string
	SpawnTTL    time.Duration
	SpawnParent int

	ConfigPath string

	reply chan Reply
}

// NewRequest allocates a Request with its single-use reply channel.
func NewRequest(kind ReqKind) *Request {
	return &Request{Kind: kind, reply: make(chan Reply, 1)}
}

// Reply is the control server's one structured response per request.
type Reply struct {
	Kind       ReplyKind
	Payload    any
	ErrKind    string
	ErrMessage string
	Chunks     []string
}

// Submit enqueues req for the loop's next control-batch step and awaits its
// single reply, or ctx's cancellation. Requests are served in arrival order
// (§5: "control requests are processed in arrival order").
func (s *Supervisor) Submit(ctx context.Context, req *Request) (Reply, error) {
	select {
	case s.ctrlQueue <- req:
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
	select {
	case r := <-req.reply:
		return r, nil
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

// serviceControlBatch implements §4.9 step 7: exactly one request is
// serviced per tick so a flood of control traffic cannot starve the rest of
// the loop's per-tick work.
func (s *Supervisor) serviceControlBatch() {
	select {
	case req := <-s.ctrlQueue:
		req.reply <- s.handleRequest(req)
	default:
	}
}

func errReply(kind, msg string) Reply {
	return Reply{Kind: ReplyErr, ErrKind: kind, ErrMessage: msg}
}

func okReply(payload any) Reply {
	return Reply{Kind: ReplyOk, Payload: payload}
}

func (s *Supervisor) handleRequest(req *Request) Reply {
	switch req.Kind {
	case ReqStatus:
		return s.handleStatus(req)
	case ReqStart:
		return s.handleStart(req)
	case ReqStop:
		return s.handleStop(req)
	case ReqRestart:
		return s.handleRestart(req)
	case ReqLogs:
		return s.handleLogs(req)
	case ReqInspect:
		return s.handleInspect(req)
	case ReqSpawn:
		return s.handleSpawn(req)
	case ReqPurge:
		return s.handlePurge(req)
	case ReqReload:
		return s.handleReload(req)
	default:
		return errReply("ControlError", fmt.Sprintf("unknown request kind %q", req.Kind))
	}
}

func (s *Supervisor) targetNames(req *Request) []string {
	if req.All || len(req.Services) == 0 {
		names := make([]string, 0, len(s.specs))
		for name := range s.specs {
			names = append(names, name)
		}
		return names
	}
	return req.Services
}

func (s *Supervisor) handleStatus(req *Request) Reply {
	if !req.All && len(req.Services) == 1 {
		name := req.Services[0]
		if _, ok := s.specs[name]; !ok {
			return errReply("ControlError", fmt.Sprintf("service %q not found", name))
		}
		rec, _ := s.store.Get(name)
		return okReply(rec)
	}
	return okReply(s.AllStatus())
}

func (s *Supervisor) handleStart(req *Request) Reply {
	for _, name := range s.targetNames(req) {
		if _, ok := s.specs[name]; !ok {
			return errReply("ControlError", fmt.Sprintf("service %q not found", name))
		}
		rec, _ := s.store.Get(name)
		if rec.State.IsRunningLike() {
			continue
		}
		s.transitionWithRestarts(name, svcstate.Pending, 0, "start requested", 0, time.Time{})
	}
	return okReply(nil)
}

func (s *Supervisor) handleStop(req *Request) Reply {
	grace := 10 * time.Second
	if !req.Graceful {
		grace = 0
	}
	for _, name := range s.targetNames(req) {
		if _, ok := s.specs[name]; !ok {
			return errReply("ControlError", fmt.Sprintf("service %q not found", name))
		}
		entry := s.table.Get(name)
		if entry == nil {
			continue
		}
		entry.SetStopRequested(true)
		s.transition(name, svcstate.Stopping, 0, "stop requested")
		if err := entry.TerminateAsync(grace); err != nil {
			s.log.Warnf("%s: terminate: %v", name, err)
		}
	}
	return okReply(nil)
}

// handleRestart honors deployment.strategy == rolling via the rolling
// coordinator (spec.md §4.7); otherwise it is an immediate stop-then-start.
func (s *Supervisor) handleRestart(req *Request) Reply {
	for _, name := range s.targetNames(req) {
		spec, ok := s.specs[name]
		if !ok {
			return errReply("ControlError", fmt.Sprintf("service %q not found", name))
		}
		rolling := spec.Deployment != nil && spec.Deployment.Strategy == procspec.DeployRolling
		if rolling || req.ForceRolling {
			go func(spec procspec.Spec) {
				res := s.rollCoord.Restart(context.Background(), spec, s.envOverlay, s, s.probes[spec.Name])
				if res.Err != nil {
					s.log.Warnf("%s: rolling restart failed: %v", spec.Name, res.Err)
				}
			}(spec)
			continue
		}
		if entry := s.table.Get(name); entry != nil {
			entry.SetStopRequested(true)
			_ = entry.TerminateAsync(5 * time.Second)
			s.table.Remove(name)
		}
		s.transitionWithRestarts(name, svcstate.Pending, 0, "restart requested", 0, time.Time{})
	}
	return okReply(nil)
}

func (s *Supervisor) handleLogs(req *Request) Reply {
	if len(req.Services) != 1 {
		return errReply("ControlError", "logs requires exactly one service")
	}
	name := req.Services[0]
	var path string
	switch req.LogKind {
	case "stderr":
		path = filepath.Join(s.logCfg.Dir, fmt.Sprintf("%s_stderr.log", name))
	case "supervisor":
		path = filepath.Join(s.logCfg.Dir, "supervisor.log")
	default:
		path = filepath.Join(s.logCfg.Dir, fmt.Sprintf("%s_stdout.log", name))
	}
	return Reply{Kind: ReplyStream, Chunks: []string{path}}
}

func (s *Supervisor) handleInspect(req *Request) Reply {
	if len(req.Services) != 1 {
		return errReply("ControlError", "inspect requires exactly one service")
	}
	name := req.Services[0]
	if _, ok := s.specs[name]; !ok {
		return errReply("ControlError", fmt.Sprintf("service %q not found", name))
	}
	rec, _ := s.store.Get(name)
	payload := map[string]any{
		"status":      rec,
		"cron_runs":   s.scheduler.History(name),
		"metrics":     nil,
		"metrics_ok":  false,
	}
	if sample, ok := s.sampler.Latest(name); ok {
		payload["metrics"] = sample
		payload["metrics_ok"] = true
	}
	return okReply(payload)
}

// handleSpawn creates a one-off child tracked in the process table but
// deliberately not in the state store or specs map: it is never restarted
// and is killed after SpawnTTL if one was given (spec.md §4.10).
func (s *Supervisor) handleSpawn(req *Request) Reply {
	if req.SpawnName == "" || len(req.SpawnArgv) == 0 {
		return errReply("ControlError", "spawn requires a name and argv")
	}
	spec := procspec.Spec{Name: req.SpawnName, Command: joinArgv(req.SpawnArgv), RestartPolicy: procspec.RestartNever}
	entry, err := s.spawnEntry(spec)
	if err != nil {
		return errReply("SpawnError", err.Error())
	}
	if req.SpawnTTL > 0 {
		go func() {
			time.Sleep(req.SpawnTTL)
			_ = entry.Kill()
		}()
	}
	return okReply(map[string]any{"pid": entry.Snapshot().PID})
}

func joinArgv(argv []string) string {
	out := ""
	for i, a := range argv {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}

// handlePurge clears terminal (Stopped/Failed) records for the targeted
// services, freeing them to re-enter Pending on the next start request.
func (s *Supervisor) handlePurge(req *Request) Reply {
	for _, name := range s.targetNames(req) {
		rec, ok := s.store.Get(name)
		if !ok {
			continue
		}
		if rec.State == svcstate.Stopped || rec.State == svcstate.Failed {
			s.store.Put(svcstate.Record{Name: name, State: svcstate.Pending})
		}
	}
	return okReply(nil)
}

func (s *Supervisor) handleReload(req *Request) Reply {
	path := req.ConfigPath
	if path == "" {
		path = s.configPath
	}
	if path == "" {
		return errReply("ConfigError", "no config path known for reload")
	}
	diff, err := s.Reload(path)
	if err != nil {
		if ce, ok := err.(*config.Error); ok {
			return errReply(ce.Kind, ce.Message)
		}
		return errReply("ConfigError", err.Error())
	}
	return okReply(diff)
}
