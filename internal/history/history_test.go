package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/systemg/systemg/internal/svcstate"
)

func TestNewSink_NoConfigReturnsNoop(t *testing.T) {
	sink, err := NewSink(Config{})
	require.NoError(t, err)
	require.NoError(t, sink.Send(context.Background(), Event{Service: "web"}))
	require.NoError(t, sink.Close())
}

type recordingSink struct {
	events []Event
	sendErr error
	closed  bool
}

func (r *recordingSink) Send(_ context.Context, e Event) error {
	if r.sendErr != nil {
		return r.sendErr
	}
	r.events = append(r.events, e)
	return nil
}

func (r *recordingSink) Close() error {
	r.closed = true
	return nil
}

func TestFanOutSink_SendsToAllAndReturnsFirstError(t *testing.T) {
	ok := &recordingSink{}
	bad := &recordingSink{sendErr: errors.New("boom")}
	fan := fanOutSink{ok, bad}

	err := fan.Send(context.Background(), Event{Service: "api"})
	require.EqualError(t, err, "boom")
	require.Len(t, ok.events, 1, "a broken sink must not prevent delivery to the others")

	require.NoError(t, fan.Close())
	require.True(t, ok.closed)
	require.True(t, bad.closed)
}

func TestWriter_RecordDropsWhenQueueFull(t *testing.T) {
	blocker := &blockingSink{unblock: make(chan struct{})}
	w := NewWriter(blocker)
	defer func() {
		close(blocker.unblock)
		_ = w.Close()
	}()

	for i := 0; i < writerQueueSize+10; i++ {
		w.Record(Event{Service: "svc", To: svcstate.Running})
	}
	// Must not deadlock or panic; best-effort delivery is the contract.
}

type blockingSink struct {
	unblock chan struct{}
}

func (b *blockingSink) Send(ctx context.Context, e Event) error {
	select {
	case <-b.unblock:
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
	}
	return nil
}

func (b *blockingSink) Close() error { return nil }
