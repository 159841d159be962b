package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/tunnelcheck/internal/history"
)

// Sink sends scenario records to ClickHouse over the native protocol.
type Sink struct {
	conn  driver.Conn
	table string
}

func New(addr, table string) (*Sink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: "default",
			Username: "default",
			Password: "",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	return &Sink{conn: conn, table: table}, nil
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, rec history.Record) error {
	query := fmt.Sprintf(`INSERT INTO %s (scenario, started_at, finished_at, passed, rounds, rounds_passed, detail) VALUES (?, ?, ?, ?, ?, ?, ?)`, s.table)
	err := s.conn.Exec(ctx, query,
		rec.Scenario,
		rec.StartedAt,
		rec.FinishedAt,
		rec.Passed,
		rec.Rounds,
		rec.RoundsPassed,
		rec.Detail,
	)
	if err != nil {
		return fmt.Errorf("failed to insert record into ClickHouse: %w", err)
	}
	return nil
}
