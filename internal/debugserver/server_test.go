package debugserver

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/systemg/systemg/internal/metrics"
	"github.com/systemg/systemg/internal/svcstate"
)

type fakeProvider struct {
	records map[string]svcstate.Record
}

func (f fakeProvider) AllStatus() map[string]svcstate.Record { return f.records }

func (f fakeProvider) Status(name string) (svcstate.Record, bool) {
	r, ok := f.records[name]
	return r, ok
}

func (f fakeProvider) Sample(name string) (metrics.Sample, bool) { return metrics.Sample{}, false }

func TestIsSafeName(t *testing.T) {
	require.True(t, isSafeName("web-1"))
	require.True(t, isSafeName("db.primary"))
	require.False(t, isSafeName(""))
	require.False(t, isSafeName("../etc"))
	require.False(t, isSafeName("a/b"))
}

func TestIsLoopback(t *testing.T) {
	require.True(t, IsLoopback("127.0.0.1:9090"))
	require.True(t, IsLoopback("localhost:9090"))
	require.False(t, IsLoopback(":9090"))
	require.False(t, IsLoopback("0.0.0.0:9090"))
	require.False(t, IsLoopback("10.0.0.5:9090"))
}

func TestNew_BuildsHandlerWithoutPanicking(t *testing.T) {
	p := fakeProvider{records: map[string]svcstate.Record{
		"web": {Name: "web", State: svcstate.Healthy},
	}}
	s := New("127.0.0.1:0", p)
	require.NotNil(t, s)
}
