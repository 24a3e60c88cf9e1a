package control

import (
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/systemg/systemg/internal/config"
	"github.com/systemg/systemg/internal/logger"
	"github.com/systemg/systemg/internal/procspec"
	"github.com/systemg/systemg/internal/supervisor"
)

// newTestServer builds a real Supervisor, drives its tick loop in the
// background (exactly as cmd/systemgd's bootstrap does), and binds a
// control.Server over a temp-dir socket, so control-plane tests exercise
// the actual request/reply path instead of calling handler functions
// directly.
func newTestServer(t *testing.T, specs ...procspec.Spec) string {
	t.Helper()
	dir := t.TempDir()
	sup, err := supervisor.New(&config.Config{Specs: specs}, dir)
	require.NoError(t, err)

	log, err := logger.NewSupervisor(dir+"/logs", logger.Config{Dir: dir + "/logs"})
	require.NoError(t, err)

	sockPath := filepath.Join(dir, "control.sock")
	srv, err := New(sockPath, sup, log)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = sup.Run(ctx) }()
	go func() { _ = srv.Serve() }()
	t.Cleanup(func() {
		cancel()
		_ = srv.Close()
		_ = sup.Close()
	})
	return sockPath
}

func TestServer_StatusRoundTrip(t *testing.T) {
	sockPath := newTestServer(t, procspec.Spec{Name: "web", Command: "sleep 5", RestartPolicy: procspec.RestartNever})

	client, err := Dial(sockPath)
	require.NoError(t, err)
	defer client.Close()

	reply, err := client.Status([]string{"web"}, false)
	require.NoError(t, err)
	require.Equal(t, "ok", reply.Kind)
}

func TestServer_UnknownServiceReturnsControlError(t *testing.T) {
	sockPath := newTestServer(t, procspec.Spec{Name: "web", Command: "sleep 5", RestartPolicy: procspec.RestartNever})

	client, err := Dial(sockPath)
	require.NoError(t, err)
	defer client.Close()

	reply, err := client.Stop([]string{"ghost"}, true)
	require.NoError(t, err)
	require.Equal(t, "err", reply.Kind)
	require.Equal(t, "ControlError", reply.ErrKind)
}

func TestServer_EchoesCorrelationID(t *testing.T) {
	sockPath := newTestServer(t, procspec.Spec{Name: "web", Command: "sleep 5", RestartPolicy: procspec.RestartNever})

	client, err := Dial(sockPath)
	require.NoError(t, err)
	defer client.Close()

	reply, err := client.Status(nil, true)
	require.NoError(t, err)
	require.NotEmpty(t, reply.ID, "spec.md §6: every response includes a correlation id echoing the request")
}

func TestServer_MalformedFrameGetsErrReply(t *testing.T) {
	sockPath := newTestServer(t)

	conn, err := net.Dial("unix", sockPath)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, writeFrame(conn, []byte("not json")))
	frame, err := readFrame(conn)
	require.NoError(t, err)

	var reply Reply
	require.NoError(t, json.Unmarshal(frame, &reply))
	require.Equal(t, "err", reply.Kind)
}
