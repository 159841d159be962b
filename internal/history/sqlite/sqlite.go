package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/tunnelcheck/internal/history"
)

// Sink writes scenario records to an SQLite database.
type Sink struct {
	db *sql.DB
}

// New creates a new SQLite history sink.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" (without prefix)
//   - ":memory:" (in-memory database)
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = strings.TrimPrefix(dsn, "sqlite://")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	sink := &Sink{db: db}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sink, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	// Flat audit table, one row per scenario run.
	stmt := `CREATE TABLE IF NOT EXISTS scenario_history(
		recorded_at TIMESTAMP NOT NULL DEFAULT (CURRENT_TIMESTAMP),
		scenario TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP NOT NULL,
		passed BOOLEAN NOT NULL,
		rounds INTEGER NOT NULL,
		rounds_passed INTEGER NOT NULL,
		detail TEXT
	);`
	_, err := s.db.ExecContext(ctx, stmt)
	return err
}

func (s *Sink) Send(ctx context.Context, rec history.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scenario_history(scenario, started_at, finished_at, passed, rounds, rounds_passed, detail)
		VALUES(?, ?, ?, ?, ?, ?, ?);`,
		rec.Scenario, rec.StartedAt.UTC(), rec.FinishedAt.UTC(), rec.Passed, rec.Rounds, rec.RoundsPassed, rec.Detail)
	return err
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
