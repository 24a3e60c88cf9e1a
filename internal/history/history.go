// Package history exports service state transitions to external analytics
// sinks (ClickHouse, OpenSearch) — a durability tier above the write-behind
// JSON snapshot and the statestore.Backend, meant for long-term audit
// querying rather than crash recovery.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/systemg/systemg/internal/svcstate"
)

// Event is one state transition destined for an external sink.
type Event struct {
	Service    string
	From       svcstate.State
	To         svcstate.State
	OccurredAt time.Time
	ExitCode   int
	Detail     string
}

// Sink is a destination for transition events. Implementations must be
// safe for concurrent use; Send should not block the supervisor tick for
// long, so callers dispatch through a bounded async writer (see Writer).
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}

// Config selects and parameterizes the sinks to fan events out to. Any
// number of fields may be set at once; all configured sinks receive every
// event.
type Config struct {
	ClickHouseAddr  string
	ClickHouseTable string
	OpenSearchURL   string
	OpenSearchIndex string
}

// NewSink builds the configured fan-out sink. Returns a noopSink if cfg
// has no destinations set, so callers never need a nil check.
func NewSink(cfg Config) (Sink, error) {
	var sinks []Sink
	if cfg.ClickHouseAddr != "" {
		table := cfg.ClickHouseTable
		if table == "" {
			table = "service_transitions"
		}
		ch, err := NewClickHouseSink(cfg.ClickHouseAddr, table)
		if err != nil {
			return nil, fmt.Errorf("history: clickhouse sink: %w", err)
		}
		sinks = append(sinks, ch)
	}
	if cfg.OpenSearchURL != "" {
		index := cfg.OpenSearchIndex
		if index == "" {
			index = "systemg-transitions"
		}
		sinks = append(sinks, NewOpenSearchSink(cfg.OpenSearchURL, index))
	}
	if len(sinks) == 0 {
		return noopSink{}, nil
	}
	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return fanOutSink(sinks), nil
}

type noopSink struct{}

func (noopSink) Send(context.Context, Event) error { return nil }
func (noopSink) Close() error                       { return nil }

// fanOutSink sends each event to every member sink, returning the first
// error encountered (after attempting all of them, so one broken sink
// doesn't starve the others of delivery attempts).
type fanOutSink []Sink

func (f fanOutSink) Send(ctx context.Context, e Event) error {
	var firstErr error
	for _, s := range f {
		if err := s.Send(ctx, e); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f fanOutSink) Close() error {
	var firstErr error
	for _, s := range f {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

const writerQueueSize = 256

// Writer dispatches events to a Sink off the supervisor's hot path: Record
// enqueues non-blockingly and a single background goroutine drains serially,
// so a slow or unreachable external system never backs up the tick loop.
type Writer struct {
	sink   Sink
	events chan Event
	done   chan struct{}
}

// NewWriter starts the background drain goroutine.
func NewWriter(sink Sink) *Writer {
	w := &Writer{sink: sink, events: make(chan Event, writerQueueSize), done: make(chan struct{})}
	go w.run()
	return w
}

func (w *Writer) run() {
	for e := range w.events {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = w.sink.Send(ctx, e)
		cancel()
	}
	close(w.done)
}

// Record enqueues e for delivery. Drops the event (rather than blocking the
// caller) if the queue is full — audit export is best-effort, never a
// correctness dependency for the supervisor loop.
func (w *Writer) Record(e Event) {
	select {
	case w.events <- e:
	default:
	}
}

// Close stops accepting new events, drains the queue, and closes the sink.
func (w *Writer) Close() error {
	close(w.events)
	<-w.done
	return w.sink.Close()
}
