package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/loykin/tunnelcheck/internal/scenario"
)

func TestFromResult(t *testing.T) {
	started := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	res := scenario.Result{Scenario: "reconnect", Rounds: 5, Passed: 4, Duration: 90 * time.Second}

	rec := FromResult(res, started, nil)
	if !rec.Passed || rec.Scenario != "reconnect" || rec.Rounds != 5 || rec.RoundsPassed != 4 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.FinishedAt != started.Add(90*time.Second) {
		t.Fatalf("unexpected finish time: %v", rec.FinishedAt)
	}

	rec = FromResult(res, started, errors.New("only 1 of 5 rounds recovered"))
	if rec.Passed || rec.Detail == "" {
		t.Fatalf("failed run must carry detail: %+v", rec)
	}
}

func TestSQLSinkSQLiteRoundTrip(t *testing.T) {
	sink, err := NewSQLSinkFromDSN(":memory:")
	if err != nil {
		t.Fatalf("NewSQLSinkFromDSN: %v", err)
	}
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	now := time.Now().UTC()
	recs := []Record{
		{Scenario: "reconnect", StartedAt: now, FinishedAt: now.Add(time.Minute), Passed: true, Rounds: 5, RoundsPassed: 5},
		{Scenario: "termination", StartedAt: now, FinishedAt: now.Add(10 * time.Second), Passed: false, Rounds: 1, Detail: "daemon still running"},
	}
	for _, rec := range recs {
		if err := sink.Send(ctx, rec); err != nil {
			t.Fatalf("Send(%s): %v", rec.Scenario, err)
		}
	}

	var count int
	row := sink.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM scenario_history")
	if err := row.Scan(&count); err != nil {
		t.Fatalf("scan count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 rows, got %d", count)
	}

	var detail string
	row = sink.db.QueryRowContext(ctx, "SELECT detail FROM scenario_history WHERE scenario = ?", "termination")
	if err := row.Scan(&detail); err != nil {
		t.Fatalf("scan detail: %v", err)
	}
	if detail != "daemon still running" {
		t.Fatalf("unexpected detail %q", detail)
	}
}

func TestSQLSinkRejectsEmptyDSN(t *testing.T) {
	if _, err := NewSQLSinkFromDSN("  "); err == nil {
		t.Fatal("expected error")
	}
}
