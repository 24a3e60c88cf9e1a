// Package rolling implements the zero-downtime restart coordinator
// (spec.md §4.7): start a shadow instance, wait for it to probe healthy,
// then stop the primary within a grace period and promote the shadow.
//
// No teacher package implements this directly. The shape of "serialize
// concurrent operations against one entity through a channel" is grounded
// on the teacher's internal/manager/handler.go ctrl-channel pattern; the
// rollback-on-partial-failure idea is grounded on
// internal/process_group/group.go's Start, which tears down already-started
// members if a later one fails.
package rolling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/systemg/systemg/internal/env"
	"github.com/systemg/systemg/internal/health"
	"github.com/systemg/systemg/internal/procmanager"
	"github.com/systemg/systemg/internal/procspec"
)

// Spawner starts a new process-table entry for a descriptor and returns the
// entry. Implemented by internal/supervisor
// so rolling does not need to know how log writers are constructed.
type Spawner interface {
	SpawnShadow(ctx context.Context, spec procspec.Spec, overlay *env.Env) (*procmanager.Entry, error)
	StopPrimary(ctx context.Context, spec procspec.Spec, grace time.Duration) error
	PromoteShadow(spec procspec.Spec, shadow *procmanager.Entry)
}

// Result is what a rolling restart attempt produces.
type Result struct {
	Promoted bool
	Err      error
}

// Coordinator serializes at most one rolling transition per service
// (spec.md §4.7: "concurrent requests are serialized"), using one mutex per
// service name so unrelated services' rolling restarts never block each
// other.
type Coordinator struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewCoordinator() *Coordinator {
	return &Coordinator{locks: make(map[string]*sync.Mutex)}
}

func (c *Coordinator) lockFor(name string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[name]
	if !ok {
		l = &sync.Mutex{}
		c.locks[name] = l
	}
	return l
}

// Restart runs the four-step rolling protocol of spec.md §4.7 for spec,
// using sp to spawn/stop/promote and probe to validate shadow readiness.
func (c *Coordinator) Restart(ctx context.Context, spec procspec.Spec, overlay *env.Env, sp Spawner, probe health.Probe) Result {
	l := c.lockFor(spec.Name)
	l.Lock()
	defer l.Unlock()

	dep := spec.Deployment
	grace := 5 * time.Second
	if dep != nil && dep.GracePeriod > 0 {
		grace = dep.GracePeriod
	}

	// Step 1: allocate a shadow slot; the primary slot is untouched until
	// step 3 succeeds.
	shadow, err := sp.SpawnShadow(ctx, spec, overlay)
	if err != nil {
		return Result{Err: fmt.Errorf("rolling: spawn shadow for %s: %w", spec.Name, err)}
	}

	// Step 2: probe the shadow up to retries times.
	retries := 1
	timeout := 5 * time.Second
	if spec.HealthCheck != nil {
		if spec.HealthCheck.Retries > 0 {
			retries = spec.HealthCheck.Retries
		}
		if spec.HealthCheck.Timeout > 0 {
			timeout = spec.HealthCheck.Timeout
		}
	}

	var probeErr error
	if probe != nil {
		for i := 0; i < retries; i++ {
			probeErr = health.RunWithTimeout(spec.Name, probe, timeout)
			if probeErr == nil {
				break
			}
		}
	}

	if probeErr != nil {
		// Step 4: probe failed within retries — kill shadow, leave primary.
		_ = shadow.Kill()
		return Result{Err: fmt.Errorf("rolling: shadow for %s failed health probe: %w", spec.Name, probeErr)}
	}

	// Step 3: probe succeeded — stop the primary within grace, promote shadow.
	if err := sp.StopPrimary(ctx, spec, grace); err != nil {
		return Result{Err: fmt.Errorf("rolling: stop primary for %s: %w", spec.Name, err)}
	}
	sp.PromoteShadow(spec, shadow)
	return Result{Promoted: true}
}
