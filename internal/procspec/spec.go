// Package procspec defines the immutable service descriptor and the small
// closed vocabularies (restart policy, deployment strategy, probe kind,
// hook trigger) that the rest of the engine switches on.
package procspec

import (
	"os/exec"
	"strings"
	"time"
)

// RestartPolicy controls whether and when a service is restarted after exit.
type RestartPolicy string

const (
	RestartAlways    RestartPolicy = "always"
	RestartOnFailure RestartPolicy = "on-failure"
	RestartNever     RestartPolicy = "never"
)

// DeploymentStrategy controls how a restart is carried out.
type DeploymentStrategy string

const (
	DeployImmediate DeploymentStrategy = "immediate"
	DeployRolling   DeploymentStrategy = "rolling"
)

// ProbeKind selects the health-check mechanism.
type ProbeKind string

const (
	ProbeCommand ProbeKind = "command"
	ProbeHTTP    ProbeKind = "http"
)

// HookTrigger names a lifecycle transition a hook can be bound to.
type HookTrigger string

const (
	TriggerOnStart   HookTrigger = "on_start"
	TriggerOnStop    HookTrigger = "on_stop"
	TriggerOnRestart HookTrigger = "on_restart"
)

// HookOutcome is the sub-key under a trigger: did the transition succeed or fail.
type HookOutcome string

const (
	OutcomeSuccess HookOutcome = "success"
	OutcomeError   HookOutcome = "error"
)

// Hook is a single shell command bound to one (trigger, outcome) pair.
type Hook struct {
	Command string        `json:"command" mapstructure:"command"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// HookMap is trigger -> outcome -> hook. Absent entries fire nothing.
type HookMap map[HookTrigger]map[HookOutcome]Hook

// Lookup returns the hook bound to (trigger, outcome), if any.
func (m HookMap) Lookup(trigger HookTrigger, outcome HookOutcome) (Hook, bool) {
	if m == nil {
		return Hook{}, false
	}
	byOutcome, ok := m[trigger]
	if !ok {
		return Hook{}, false
	}
	h, ok := byOutcome[outcome]
	return h, ok
}

// HealthCheck describes a readiness probe.
type HealthCheck struct {
	Kind     ProbeKind     `json:"kind" mapstructure:"kind"`
	Command  string        `json:"command" mapstructure:"command"`
	URL      string        `json:"url" mapstructure:"url"`
	Interval time.Duration `json:"interval" mapstructure:"interval"`
	Timeout  time.Duration `json:"timeout" mapstructure:"timeout"`
	Retries  int           `json:"retries" mapstructure:"retries"`
}

// Deployment describes how a restart of this service is carried out.
type Deployment struct {
	Strategy     DeploymentStrategy `json:"strategy" mapstructure:"strategy"`
	GracePeriod  time.Duration      `json:"grace_period" mapstructure:"grace_period"`
}

// Spec is the immutable-after-load service descriptor (spec.md §3).
type Spec struct {
	Name    string   `json:"name" mapstructure:"name"`
	Command string   `json:"command" mapstructure:"command"`
	WorkDir string   `json:"work_dir" mapstructure:"work_dir"`
	Env     []string `json:"env" mapstructure:"env"`

	DependsOn []string `json:"depends_on" mapstructure:"depends_on"`

	RestartPolicy RestartPolicy `json:"restart_policy" mapstructure:"restart_policy"`
	Backoff       time.Duration `json:"backoff" mapstructure:"backoff"`
	MaxRestarts   int           `json:"max_restarts" mapstructure:"max_restarts"` // 0 => unbounded

	Cron string `json:"cron" mapstructure:"cron"` // non-empty => scheduled job, not a long-running service

	HealthCheck *HealthCheck `json:"health_check" mapstructure:"health_check"`
	Deployment  *Deployment  `json:"deployment" mapstructure:"deployment"`
	Hooks       HookMap      `json:"hooks" mapstructure:"hooks"`

	PreStart string `json:"pre_start" mapstructure:"pre_start"`
	Skip     bool   `json:"skip" mapstructure:"skip"`

	PIDFile string `json:"pid_file" mapstructure:"pid_file"`
}

// IsScheduled reports whether this descriptor is a cron job rather than a
// long-running service. Cron and restart policy are mutually exclusive
// (spec.md §3 invariant); callers should not also honor RestartPolicy for
// scheduled jobs.
func (s *Spec) IsScheduled() bool { return strings.TrimSpace(s.Cron) != "" }

// MaxRestartsOrUnbounded returns the effective restart ceiling, with 0 or
// negative meaning "unbounded" per spec.md §9's open-question resolution.
func (s *Spec) MaxRestartsOrUnbounded() int {
	if s.MaxRestarts <= 0 {
		return -1
	}
	return s.MaxRestarts
}

// BuildCommand constructs an *exec.Cmd for s.Command, honoring an explicit
// shell invocation already present in the command string rather than
// double-wrapping it in another shell layer.
func (s *Spec) BuildCommand() *exec.Cmd {
	cmdStr := strings.TrimSpace(s.Command)
	if cmdStr == "" {
		// #nosec G204
		return exec.Command("/bin/true")
	}
	if _, afterC, ok := parseExplicitShell(cmdStr); ok {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", afterC)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", cmdStr)
	}
	parts := strings.Fields(cmdStr)
	name := parts[0]
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	// #nosec G204
	return exec.Command(name, args...)
}

// parseExplicitShell detects "sh -c <ARG>" (or absolute-path variants) at
// the start of cmdStr, returning (shellPath, afterCArg, true) when matched.
func parseExplicitShell(cmdStr string) (string, string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	candidates := []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "}
	for _, p := range candidates {
		if strings.HasPrefix(trim, p) {
			after := trim[len(p):]
			if n := len(after); n >= 2 {
				if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
					after = after[1 : n-1]
				}
			}
			return strings.Fields(p)[0], after, true
		}
	}
	return "", "", false
}
