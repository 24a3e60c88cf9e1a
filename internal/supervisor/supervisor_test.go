package supervisor

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/systemg/systemg/internal/config"
	"github.com/systemg/systemg/internal/procmanager"
	"github.com/systemg/systemg/internal/procspec"
	"github.com/systemg/systemg/internal/svcstate"
)

// newTestSupervisor builds a Supervisor over an in-memory descriptor set
// rooted at a fresh temp state directory, mirroring the teacher's pattern
// of constructing a manager straight from a []ProcessConfig in tests rather
// than round-tripping through a YAML fixture.
func newTestSupervisor(t *testing.T, specs ...procspec.Spec) *Supervisor {
	t.Helper()
	cfg := &config.Config{Specs: specs}
	sup, err := New(cfg, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sup.Close() })
	return sup
}

func sleeperSpec(name string, deps ...string) procspec.Spec {
	return procspec.Spec{
		Name:          name,
		Command:       "sleep 5",
		RestartPolicy: procspec.RestartNever,
		DependsOn:     deps,
	}
}

func TestNew_PendingBeforeFirstTick(t *testing.T) {
	sup := newTestSupervisor(t, sleeperSpec("web"))
	rec, ok := sup.Status("web")
	require.True(t, ok)
	require.Equal(t, svcstate.Pending, rec.State)
}

func TestTick_StartsIndependentServiceWithNoHealthCheck(t *testing.T) {
	sup := newTestSupervisor(t, sleeperSpec("web"))
	sup.tick()

	rec, ok := sup.Status("web")
	require.True(t, ok)
	require.Equal(t, svcstate.Healthy, rec.State)
	require.NotZero(t, rec.PID)

	entry := sup.table.Get("web")
	require.NotNil(t, entry)
	require.NoError(t, entry.Terminate(2*time.Second))
}

func TestTick_DependentStartsOnceDependencyIsHealthy(t *testing.T) {
	sup := newTestSupervisor(t, sleeperSpec("db"), sleeperSpec("web", "db"))

	// planner.Build topologically orders db before web, so
	// advanceStateMachines reaches db's dependents only after db's own
	// Pending->Healthy transition has already landed in the state store
	// within the same tick.
	sup.tick()

	dbRec, _ := sup.Status("db")
	webRec, _ := sup.Status("web")
	require.Equal(t, svcstate.Healthy, dbRec.State)
	require.Equal(t, svcstate.Healthy, webRec.State)

	require.NoError(t, entryTerminate(sup.table, "db", 2*time.Second))
	require.NoError(t, entryTerminate(sup.table, "web", 2*time.Second))
}

func TestDepsReady_FalseUntilDependencyHealthy(t *testing.T) {
	sup := newTestSupervisor(t, sleeperSpec("db"), sleeperSpec("web", "db"))
	sup.store.Put(svcstate.Record{Name: "db", State: svcstate.Starting})
	require.False(t, sup.depsReady("web"))

	sup.store.Put(svcstate.Record{Name: "db", State: svcstate.Healthy})
	require.True(t, sup.depsReady("web"))
}

func TestHandleExit_RestartAlwaysReentersPending(t *testing.T) {
	spec := procspec.Spec{Name: "flappy", Command: "/bin/true", RestartPolicy: procspec.RestartAlways}
	sup := newTestSupervisor(t, spec)
	sup.tick()

	sup.handleExit(procmanager.ExitEvent{Name: "flappy", Entry: sup.table.Get("flappy")})
	rec, ok := sup.Status("flappy")
	require.True(t, ok)
	require.Equal(t, svcstate.Pending, rec.State)
	require.Equal(t, 1, rec.RestartCount)
}

func TestHandleExit_RestartNeverEntersFailed(t *testing.T) {
	spec := procspec.Spec{Name: "oneshot", Command: "/bin/true", RestartPolicy: procspec.RestartNever}
	sup := newTestSupervisor(t, spec)
	sup.tick()

	sup.handleExit(procmanager.ExitEvent{Name: "oneshot", Entry: sup.table.Get("oneshot")})
	rec, ok := sup.Status("oneshot")
	require.True(t, ok)
	require.Equal(t, svcstate.Failed, rec.State)
}

func TestHandleExit_MaxRestartsBoundsRestartAlways(t *testing.T) {
	spec := procspec.Spec{Name: "bounded", Command: "/bin/true", RestartPolicy: procspec.RestartAlways, MaxRestarts: 1}
	sup := newTestSupervisor(t, spec)
	sup.tick()

	rec, _ := sup.store.Get("bounded")
	rec.RestartCount = 1
	sup.store.Put(rec)

	sup.handleExit(procmanager.ExitEvent{Name: "bounded", Entry: sup.table.Get("bounded")})
	after, ok := sup.Status("bounded")
	require.True(t, ok)
	require.Equal(t, svcstate.Failed, after.State, "max_restarts reached should stop further restarts")
}

func TestHandleExit_BackoffSetsResumeDeadline(t *testing.T) {
	spec := procspec.Spec{Name: "slow", Command: "/bin/true", RestartPolicy: procspec.RestartAlways, Backoff: time.Hour}
	sup := newTestSupervisor(t, spec)
	sup.tick()

	sup.handleExit(procmanager.ExitEvent{Name: "slow", Entry: sup.table.Get("slow")})
	rec, ok := sup.Status("slow")
	require.True(t, ok)
	require.Equal(t, svcstate.Backoff, rec.State)
	require.True(t, rec.BackoffUntil.After(time.Now()))
}

// submitSync pushes req onto the control queue and drains exactly one
// control batch synchronously, mirroring how a single tick services
// exactly one request (§4.9 step 7) without the timing uncertainty of
// racing a background goroutine against Submit's channel send.
func submitSync(t *testing.T, sup *Supervisor, req *Request) Reply {
	t.Helper()
	sup.ctrlQueue <- req
	sup.serviceControlBatch()
	return <-req.reply
}

func TestSubmit_StartRequestMovesStoppedServiceToPending(t *testing.T) {
	sup := newTestSupervisor(t, sleeperSpec("web"))
	sup.store.Put(svcstate.Record{Name: "web", State: svcstate.Stopped})

	req := NewRequest(ReqStart)
	req.Services = []string{"web"}
	reply := submitSync(t, sup, req)
	require.Equal(t, ReplyOk, reply.Kind)

	rec, _ := sup.Status("web")
	require.Equal(t, svcstate.Pending, rec.State)
}

func TestSubmit_UnknownServiceIsControlError(t *testing.T) {
	sup := newTestSupervisor(t, sleeperSpec("web"))

	req := NewRequest(ReqStop)
	req.Services = []string{"ghost"}
	reply := submitSync(t, sup, req)
	require.Equal(t, ReplyErr, reply.Kind)
	require.Equal(t, "ControlError", reply.ErrKind)
}

func TestReload_RejectsConfigWithDependencyCycle(t *testing.T) {
	sup := newTestSupervisor(t, sleeperSpec("web"))
	dir := t.TempDir()
	path := dir + "/systemg.yaml"
	writeYAML(t, path, `
version: "1"
services:
  a:
    command: "/bin/true"
    depends_on: ["b"]
  b:
    command: "/bin/true"
    depends_on: ["a"]
`)

	_, err := sup.Reload(path)
	require.Error(t, err)

	rec, ok := sup.Status("web")
	require.True(t, ok)
	require.Equal(t, svcstate.Pending, rec.State, "a rejected reload must leave existing services untouched")
}

func TestReload_AddedServiceEntersPending(t *testing.T) {
	sup := newTestSupervisor(t, sleeperSpec("web"))
	dir := t.TempDir()
	path := dir + "/systemg.yaml"
	writeYAML(t, path, `
version: "1"
services:
  web:
    command: "sleep 5"
  worker:
    command: "/bin/true"
`)

	diff, err := sup.Reload(path)
	require.NoError(t, err)
	require.Len(t, diff.Added, 1)
	require.Equal(t, "worker", diff.Added[0].Name)

	rec, ok := sup.Status("worker")
	require.True(t, ok)
	require.Equal(t, svcstate.Pending, rec.State)
}

func writeYAML(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}
