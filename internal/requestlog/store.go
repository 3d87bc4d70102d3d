// Package requestlog persists per-attempt failover outcomes. The log is
// write-only telemetry: routing decisions read the in-memory rolling windows,
// never this table.
package requestlog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Entry records one executor attempt made during failover execution.
type Entry struct {
	AttemptID        string
	TraceID          string
	Provider         string
	Model            string
	Attempt          int // 1-based position in the failover sequence
	Outcome          string
	LatencyMS        int64
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
	ErrorMessage     string
	CreatedAt        time.Time
}

// Attempt outcome values. Rejected attempts were stopped by an open circuit
// before reaching the provider.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeRejected = "rejected"
)

// Writer persists attempt entries.
type Writer interface {
	Write(ctx context.Context, entry Entry) error
}

// NoopWriter ignores all log writes.
type NoopWriter struct{}

func (NoopWriter) Write(_ context.Context, _ Entry) error { return nil }

// SQLWriter persists entries to SQLite or Postgres.
type SQLWriter struct {
	db      *sql.DB
	dialect string
}

// NewSQLiteWriter opens (or creates) a SQLite attempt log at dsn.
func NewSQLiteWriter(dsn string) (*SQLWriter, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "modelgw-attempts.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite attempt log writer: %w", err)
	}
	w := &SQLWriter{db: db, dialect: "sqlite"}
	if err := w.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

// NewPostgresWriter opens a Postgres attempt log at dsn.
func NewPostgresWriter(dsn string) (*SQLWriter, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres attempt log writer: %w", err)
	}
	w := &SQLWriter{db: db, dialect: "postgres"}
	if err := w.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func (w *SQLWriter) init() error {
	if err := w.db.Ping(); err != nil {
		return fmt.Errorf("ping %s attempt log writer: %w", w.dialect, err)
	}

	ddl := `
CREATE TABLE IF NOT EXISTS attempt_logs (
	id INTEGER PRIMARY KEY,
	attempt_id TEXT,
	trace_id TEXT,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	attempt INTEGER NOT NULL,
	outcome TEXT NOT NULL,
	latency_ms INTEGER NOT NULL,
	prompt_tokens INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL,
	cost_usd REAL NOT NULL,
	error_message TEXT,
	created_at TIMESTAMP NOT NULL
);`

	if w.dialect == "postgres" {
		ddl = `
CREATE TABLE IF NOT EXISTS attempt_logs (
	id BIGSERIAL PRIMARY KEY,
	attempt_id TEXT,
	trace_id TEXT,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	attempt INTEGER NOT NULL,
	outcome TEXT NOT NULL,
	latency_ms BIGINT NOT NULL,
	prompt_tokens INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL,
	cost_usd DOUBLE PRECISION NOT NULL,
	error_message TEXT,
	created_at TIMESTAMPTZ NOT NULL
);`
	}

	if _, err := w.db.Exec(ddl); err != nil {
		return fmt.Errorf("initialize attempt log schema: %w", err)
	}
	return nil
}

// Write inserts one attempt entry.
func (w *SQLWriter) Write(ctx context.Context, entry Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO attempt_logs(attempt_id, trace_id, provider, model, attempt, outcome, latency_ms, prompt_tokens, completion_tokens, cost_usd, error_message, created_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if w.dialect == "postgres" {
		query = `INSERT INTO attempt_logs(attempt_id, trace_id, provider, model, attempt, outcome, latency_ms, prompt_tokens, completion_tokens, cost_usd, error_message, created_at)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	}

	_, err := w.db.ExecContext(ctx, query,
		entry.AttemptID,
		entry.TraceID,
		entry.Provider,
		entry.Model,
		entry.Attempt,
		entry.Outcome,
		entry.LatencyMS,
		entry.PromptTokens,
		entry.CompletionTokens,
		entry.CostUSD,
		entry.ErrorMessage,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("write attempt log: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (w *SQLWriter) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}
