// Package statestore persists the per-service state machine: the
// write-behind JSON snapshot used for crash recovery (spec.md §4.3) and a
// pluggable durable backend for transition rows (record, per-service
// history, purge). The supervisor builds the backend from config and closes
// it on shutdown; it records no transitions into it and answers neither
// cron history nor `inspect --window` queries from it.
package statestore

import (
	"context"
	"time"

	"github.com/systemg/systemg/internal/svcstate"
)

// Transition is one durable audit row: a state-machine edge for a service,
// a cron run outcome, or a probe result. This is the domain-stack expansion
// described in SPEC_FULL.md's DOMAIN STACK (ClickHouse/OpenSearch/Postgres
// sinks) layered under the bounded in-memory history ring.
type Transition struct {
	Service   string
	From      svcstate.State
	To        svcstate.State
	At        time.Time
	ExitCode  int
	Detail    string
}

// Backend is a pluggable durable store for transitions, mirroring the
// teacher's Store interface (internal/store/store.go) but keyed on the
// state-machine transition rather than a raw process record.
type Backend interface {
	EnsureSchema(ctx context.Context) error
	RecordTransition(ctx context.Context, t Transition) error
	History(ctx context.Context, service string, limit int) ([]Transition, error)
	PurgeOlderThan(ctx context.Context, olderThan time.Time) (int64, error)
	Close() error
}

// Config selects and configures a Backend, following the teacher's
// internal/store Config/factory shape.
type Config struct {
	Type         string // "sqlite" | "postgres" | "none"
	Path         string // sqlite file path, or "" for in-memory
	DSN          string // postgres connection string
	MaxOpenConns int
	TablePrefix  string
}

// Builder constructs a Backend from Config, following the teacher's
// internal/store/factory.go registry pattern.
type Builder func(Config) (Backend, error)

var builders = map[string]Builder{}

// RegisterBackend adds a backend constructor under a type name.
func RegisterBackend(name string, b Builder) { builders[name] = b }

// NewBackend instantiates a registered Backend for cfg.Type.
func NewBackend(cfg Config) (Backend, error) {
	if cfg.Type == "" || cfg.Type == "none" {
		return noopBackend{}, nil
	}
	b, ok := builders[cfg.Type]
	if !ok {
		return nil, unsupportedTypeError(cfg.Type)
	}
	return b(cfg)
}

func stateOf(s string) svcstate.State { return svcstate.State(s) }

type unsupportedTypeError string

func (e unsupportedTypeError) Error() string { return "statestore: unsupported backend type " + string(e) }

// noopBackend discards everything; used when no durable history sink is
// configured (the write-behind JSON snapshot alone still satisfies §4.3's
// crash-recovery requirement).
type noopBackend struct{}

func (noopBackend) EnsureSchema(context.Context) error { return nil }
func (noopBackend) RecordTransition(context.Context, Transition) error { return nil }
func (noopBackend) History(context.Context, string, int) ([]Transition, error) { return nil, nil }
func (noopBackend) PurgeOlderThan(context.Context, time.Time) (int64, error) { return 0, nil }
func (noopBackend) Close() error { return nil }
