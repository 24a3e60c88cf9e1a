package statestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// sqliteBackend is the default durable transition-history backend, grounded
// on the teacher's internal/store/sqlite.go (single-connection pool, WAL
// journal, CreateTables-style schema application).
type sqliteBackend struct {
	db     *sql.DB
	prefix string
}

func newSQLiteBackend(cfg Config) (Backend, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("statestore: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	prefix := cfg.TablePrefix
	if prefix == "" {
		prefix = "systemg_"
	}
	return &sqliteBackend{db: db, prefix: prefix}, nil
}

func init() { RegisterBackend("sqlite", newSQLiteBackend) }

func (s *sqliteBackend) table() string { return s.prefix + "transitions" }

func (s *sqliteBackend) EnsureSchema(ctx context.Context) error {
	schema := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		service TEXT NOT NULL,
		from_state TEXT NOT NULL,
		to_state TEXT NOT NULL,
		at DATETIME NOT NULL,
		exit_code INTEGER NOT NULL,
		detail TEXT NOT NULL
	)`, s.table())
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("statestore: ensure schema: %w", err)
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS %s_svc_at ON %s(service, at)", s.prefix+"idx", s.table()))
	return err
}

func (s *sqliteBackend) RecordTransition(ctx context.Context, t Transition) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (service, from_state, to_state, at, exit_code, detail) VALUES (?, ?, ?, ?, ?, ?)", s.table()),
		t.Service, string(t.From), string(t.To), t.At.UTC(), t.ExitCode, t.Detail)
	if err != nil {
		return fmt.Errorf("statestore: record transition: %w", err)
	}
	return nil
}

func (s *sqliteBackend) History(ctx context.Context, service string, limit int) ([]Transition, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT service, from_state, to_state, at, exit_code, detail FROM %s WHERE service = ? ORDER BY at DESC LIMIT ?", s.table()),
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

func (s *sqliteBackend) PurgeOlderThan(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE at < ?", s.table()), olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("statestore: purge: %w", err)
	}
	return res.RowsAffected()
}

func (s *sqliteBackend) Close() error { return s.db.Close() }
