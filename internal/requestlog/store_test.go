package requestlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestSQLiteWriterRoundTrip(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "attempts.db")
	w, err := NewSQLiteWriter(dsn)
	if err != nil {
		t.Fatalf("NewSQLiteWriter: %v", err)
	}
	defer func() { _ = w.Close() }()

	entry := Entry{
		AttemptID:        "a-1",
		TraceID:          "trace-1",
		Provider:         "openai",
		Model:            "gpt-4o",
		Attempt:          2,
		Outcome:          OutcomeFailure,
		LatencyMS:        812,
		PromptTokens:     120,
		CompletionTokens: 0,
		ErrorMessage:     "rate limited",
		CreatedAt:        time.Now().UTC(),
	}
	if err := w.Write(context.Background(), entry); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Write(context.Background(), Entry{
		Provider: "openai", Model: "gpt-4o", Attempt: 3,
		Outcome: OutcomeSuccess, LatencyMS: 420, CostUSD: 0.002,
	}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	var count int
	if err := w.db.QueryRow("SELECT COUNT(*) FROM attempt_logs").Scan(&count); err != nil {
		t.Fatalf("count query: %v", err)
	}
	if count != 2 {
		t.Fatalf("rows = %d, want 2", count)
	}

	var outcome, errMsg string
	var latency int64
	row := w.db.QueryRow("SELECT outcome, error_message, latency_ms FROM attempt_logs WHERE attempt_id = ?", "a-1")
	if err := row.Scan(&outcome, &errMsg, &latency); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if outcome != OutcomeFailure || errMsg != "rate limited" || latency != 812 {
		t.Fatalf("row = %s/%s/%d", outcome, errMsg, latency)
	}
}

func TestSQLiteWriterFillsCreatedAt(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "attempts.db")
	w, err := NewSQLiteWriter(dsn)
	if err != nil {
		t.Fatalf("NewSQLiteWriter: %v", err)
	}
	defer func() { _ = w.Close() }()

	if err := w.Write(context.Background(), Entry{Provider: "p", Model: "m", Attempt: 1, Outcome: OutcomeSuccess}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	var filled int
	if err := w.db.QueryRow("SELECT COUNT(*) FROM attempt_logs WHERE created_at IS NOT NULL").Scan(&filled); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if filled != 1 {
		t.Fatal("created_at should be filled for zero CreatedAt")
	}
}

func TestPostgresWriterRequiresDSN(t *testing.T) {
	if _, err := NewPostgresWriter(""); err == nil {
		t.Fatal("expected error for empty postgres dsn")
	}
}

func TestNoopWriter(t *testing.T) {
	if err := (NoopWriter{}).Write(context.Background(), Entry{}); err != nil {
		t.Fatalf("NoopWriter.Write: %v", err)
	}
}

func TestCloseNil(t *testing.T) {
	var w *SQLWriter
	if err := w.Close(); err != nil {
		t.Fatalf("Close on nil: %v", err)
	}
}
