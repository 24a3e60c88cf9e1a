package history

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ClickHouseSink writes transition events using the official ClickHouse Go
// client over the native protocol, not the HTTP interface.
type ClickHouseSink struct {
	conn  driver.Conn
	table string
}

// NewClickHouseSink opens a native-protocol connection to addr and creates
// table if it does not already exist.
func NewClickHouseSink(addr, table string) (*ClickHouseSink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{Database: "default", Username: "default", Password: ""},
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse: open: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("clickhouse: ping: %w", err)
	}
	s := &ClickHouseSink{conn: conn, table: table}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *ClickHouseSink) ensureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		service String,
		from_state String,
		to_state String,
		occurred_at DateTime64(3),
		exit_code Int32,
		detail String
	) ENGINE = MergeTree()
	ORDER BY (occurred_at, service)`, s.table)
	return s.conn.Exec(ctx, ddl)
}

func (s *ClickHouseSink) Send(ctx context.Context, e Event) error {
	query := fmt.Sprintf(`INSERT INTO %s (service, from_state, to_state, occurred_at, exit_code, detail) VALUES (?, ?, ?, ?, ?, ?)`, s.table)
	if err := s.conn.Exec(ctx, query, e.Service, string(e.From), string(e.To), e.OccurredAt, e.ExitCode, e.Detail); err != nil {
		return fmt.Errorf("clickhouse: insert: %w", err)
	}
	return nil
}

func (s *ClickHouseSink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
