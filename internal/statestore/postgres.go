package statestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// postgresBackend is the multi-host-friendly durable backend, for
// deployments where a single sqlite file isn't appropriate (SPEC_FULL.md
// DOMAIN STACK). Grounded on the teacher's internal/store/postgres package,
// which already opens pgx through database/sql via the stdlib adapter.
type postgresBackend struct {
	db     *sql.DB
	prefix string
}

func newPostgresBackend(cfg Config) (Backend, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("statestore: postgres backend requires a DSN")
	}
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("statestore: open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(10)
	}
	prefix := cfg.TablePrefix
	if prefix == "" {
		prefix = "systemg_"
	}
	return &postgresBackend{db: db, prefix: prefix}, nil
}

func init() { RegisterBackend("postgres", newPostgresBackend) }

func (p *postgresBackend) table() string { return p.prefix + "transitions" }

func (p *postgresBackend) EnsureSchema(ctx context.Context) error {
	schema := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id BIGSERIAL PRIMARY KEY,
		service TEXT NOT NULL,
		from_state TEXT NOT NULL,
		to_state TEXT NOT NULL,
		at TIMESTAMPTZ NOT NULL,
		exit_code INTEGER NOT NULL,
		detail TEXT NOT NULL
	)`, p.table())
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("statestore: ensure schema: %w", err)
	}
	_, err := p.db.ExecContext(ctx, fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS %s ON %s(service, at)", p.prefix+"idx", p.table()))
	return err
}

func (p *postgresBackend) RecordTransition(ctx context.Context, t Transition) error {
	_, err := p.db.ExecContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (service, from_state, to_state, at, exit_code, detail) VALUES ($1,$2,$3,$4,$5,$6)", p.table()),
		t.Service, string(t.From), string(t.To), t.At.UTC(), t.ExitCode, t.Detail)
	if err != nil {
		return fmt.Errorf("statestore: record transition: %w", err)
	}
	return nil
}

func (p *postgresBackend) History(ctx context.Context, service string, limit int) ([]Transition, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT service, from_state, to_state, at, exit_code, detail FROM %s WHERE service=$1 ORDER BY at DESC LIMIT $2", p.table()),
		service, limit)
	if err != nil {
		return nil, fmt.Errorf("statestore: history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Transition
	for rows.Next() {
		var t Transition
		var from, to string
		if err := rows.Scan(&t.Service, &from, &to, &t.At, &t.ExitCode, &t.Detail); err != nil {
			return nil, fmt.Errorf("statestore: scan history row: %w", err)
		}
		t.From, t.To = stateOf(from), stateOf(to)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *postgresBackend) PurgeOlderThan(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE at < $1", p.table()), olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("statestore: purge: %w", err)
	}
	return res.RowsAffected()
}

func (p *postgresBackend) Close() error { return p.db.Close() }
