package factory

import (
	"context"
	"testing"
	"time"

	"github.com/loykin/tunnelcheck/internal/history"
	"github.com/loykin/tunnelcheck/internal/history/sqlite"
)

func TestNewSinkFromDSNSQLite(t *testing.T) {
	sink, err := NewSinkFromDSN("sqlite://:memory:")
	if err != nil {
		t.Fatalf("NewSinkFromDSN: %v", err)
	}
	sq, ok := sink.(*sqlite.Sink)
	if !ok {
		t.Fatalf("expected *sqlite.Sink, got %T", sink)
	}
	defer func() { _ = sq.Close() }()

	rec := history.Record{
		Scenario:   "reconnect",
		StartedAt:  time.Now().UTC(),
		FinishedAt: time.Now().UTC(),
		Passed:     true,
		Rounds:     1,
	}
	if err := sink.Send(context.Background(), rec); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestNewSinkFromDSNBarePathIsSQLite(t *testing.T) {
	sink, err := NewSinkFromDSN(t.TempDir() + "/runs.db")
	if err != nil {
		t.Fatalf("NewSinkFromDSN: %v", err)
	}
	sq, ok := sink.(*sqlite.Sink)
	if !ok {
		t.Fatalf("expected *sqlite.Sink, got %T", sink)
	}
	_ = sq.Close()
}

func TestNewSinkFromDSNSQLPrefix(t *testing.T) {
	sink, err := NewSinkFromDSN("sql://:memory:")
	if err != nil {
		t.Fatalf("NewSinkFromDSN: %v", err)
	}
	sq, ok := sink.(*history.SQLSink)
	if !ok {
		t.Fatalf("expected *history.SQLSink, got %T", sink)
	}
	defer func() { _ = sq.Close() }()

	rec := history.Record{
		Scenario:   "termination",
		StartedAt:  time.Now().UTC(),
		FinishedAt: time.Now().UTC(),
		Passed:     true,
		Rounds:     1,
	}
	if err := sink.Send(context.Background(), rec); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestNewSinkFromDSNErrors(t *testing.T) {
	if _, err := NewSinkFromDSN(""); err == nil {
		t.Fatal("expected error for empty DSN")
	}
	if _, err := NewSinkFromDSN("redis://localhost:6379"); err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
}
