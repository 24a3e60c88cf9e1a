package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/systemg/systemg/internal/procspec"
)

func TestNewProbe_NilHealthCheckReturnsNilProbe(t *testing.T) {
	p, err := NewProbe(nil)
	require.NoError(t, err)
	require.Nil(t, p, "§3: a service with no health check has no probe")
}

func TestCommandProbe_ExitZeroIsHealthy(t *testing.T) {
	p, err := NewProbe(&procspec.HealthCheck{Kind: procspec.ProbeCommand, Command: "/bin/true"})
	require.NoError(t, err)
	require.NoError(t, p.Check(context.Background()))
}

func TestCommandProbe_NonZeroExitIsUnhealthy(t *testing.T) {
	p, err := NewProbe(&procspec.HealthCheck{Kind: procspec.ProbeCommand, Command: "/bin/false"})
	require.NoError(t, err)
	require.Error(t, p.Check(context.Background()))
}

func TestHTTPProbe_2xxIsHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p, err := NewProbe(&procspec.HealthCheck{Kind: procspec.ProbeHTTP, URL: srv.URL})
	require.NoError(t, err)
	require.NoError(t, p.Check(context.Background()))
}

func TestHTTPProbe_NonSuccessIsUnhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, err := NewProbe(&procspec.HealthCheck{Kind: procspec.ProbeHTTP, URL: srv.URL})
	require.NoError(t, err)
	require.Error(t, p.Check(context.Background()))
}

func TestRunWithTimeout_WrapsProbeError(t *testing.T) {
	p, err := NewProbe(&procspec.HealthCheck{Kind: procspec.ProbeCommand, Command: "/bin/false"})
	require.NoError(t, err)
	err = RunWithTimeout("svc", p, time.Second)
	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "svc", perr.Service)
}

func TestPool_SubmitDeliversResult(t *testing.T) {
	pool := NewPool()
	defer pool.Close()

	p, err := NewProbe(&procspec.HealthCheck{Kind: procspec.ProbeCommand, Command: "/bin/true"})
	require.NoError(t, err)

	out := make(chan ProbeResult, 1)
	pool.Submit("svc", p, time.Second, out)

	select {
	case res := <-out:
		require.Equal(t, "svc", res.Service)
		require.NoError(t, res.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for probe result")
	}
}

func TestNewProbe_UnknownKindErrors(t *testing.T) {
	_, err := NewProbe(&procspec.HealthCheck{Kind: "bogus"})
	require.Error(t, err)
}
