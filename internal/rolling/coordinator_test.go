package rolling

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/systemg/systemg/internal/env"
	"github.com/systemg/systemg/internal/procmanager"
	"github.com/systemg/systemg/internal/procspec"
)

// fakeSpawner records the rolling protocol's calls without touching real
// processes, so the coordinator's sequencing (spawn -> probe -> stop
// primary -> promote, or spawn -> probe fails -> kill shadow) can be
// asserted directly.
type fakeSpawner struct {
	mu         sync.Mutex
	spawned    int
	stopped    int
	promoted   bool
	spawnErr   error
	stopErr    error
}

func (f *fakeSpawner) SpawnShadow(ctx context.Context, spec procspec.Spec, overlay *env.Env) (*procmanager.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spawned++
	if f.spawnErr != nil {
		return nil, f.spawnErr
	}
	return procmanager.NewEntry(spec), nil
}

func (f *fakeSpawner) StopPrimary(ctx context.Context, spec procspec.Spec, grace time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	return f.stopErr
}

func (f *fakeSpawner) PromoteShadow(spec procspec.Spec, shadow *procmanager.Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.promoted = true
}

type fakeProbe struct{ fail bool }

func (p fakeProbe) Describe() string { return "fake" }
func (p fakeProbe) Check(ctx context.Context) error {
	if p.fail {
		return context.DeadlineExceeded
	}
	return nil
}

func TestRestart_PromotesShadowOnProbeSuccess(t *testing.T) {
	c := NewCoordinator()
	sp := &fakeSpawner{}
	spec := procspec.Spec{Name: "r", Deployment: &procspec.Deployment{Strategy: procspec.DeployRolling}}

	res := c.Restart(context.Background(), spec, env.New(), sp, fakeProbe{fail: false})
	require.NoError(t, res.Err)
	require.True(t, res.Promoted)
	require.Equal(t, 1, sp.spawned)
	require.Equal(t, 1, sp.stopped)
	require.True(t, sp.promoted)
}

func TestRestart_LeavesPrimaryOnProbeFailure(t *testing.T) {
	c := NewCoordinator()
	sp := &fakeSpawner{}
	spec := procspec.Spec{
		Name:        "r",
		Deployment:  &procspec.Deployment{Strategy: procspec.DeployRolling},
		HealthCheck: &procspec.HealthCheck{Retries: 2, Timeout: 10 * time.Millisecond},
	}

	res := c.Restart(context.Background(), spec, env.New(), sp, fakeProbe{fail: true})
	require.Error(t, res.Err)
	require.False(t, res.Promoted)
	require.Equal(t, 0, sp.stopped, "primary must be untouched when the shadow never probes healthy")
	require.False(t, sp.promoted)
}

func TestRestart_SerializesConcurrentRequestsPerService(t *testing.T) {
	c := NewCoordinator()
	sp := &fakeSpawner{}
	spec := procspec.Spec{Name: "r", Deployment: &procspec.Deployment{Strategy: procspec.DeployRolling}}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Restart(context.Background(), spec, env.New(), sp, fakeProbe{fail: false})
		}()
	}
	wg.Wait()

	sp.mu.Lock()
	defer sp.mu.Unlock()
	require.Equal(t, 5, sp.spawned, "every serialized request must still run to completion")
	require.Equal(t, 5, sp.stopped)
}
