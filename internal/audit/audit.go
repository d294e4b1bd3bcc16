// Package audit persists completed lifecycle operations and generation
// outcomes to a local SQLite database so restarts keep an operation trail.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"inferd/internal/common/fsutil"
	"inferd/pkg/types"
)

// Log is a SQLite-backed audit sink. Writes never fail the calling request;
// storage errors are logged and dropped. Safe for concurrent use.
type Log struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open creates or opens the audit database at path and bootstraps the schema.
// Missing parent directories are created.
func Open(path string, logger zerolog.Logger) (*Log, error) {
	if err := fsutil.EnsureParentDir(path); err != nil {
		return nil, fmt.Errorf("audit dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	l := &Log{db: db, log: logger}
	if err := l.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) migrate() error {
	_, err := l.db.Exec(`
CREATE TABLE IF NOT EXISTS operations (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  at DATETIME NOT NULL,
  op TEXT NOT NULL,
  model_id TEXT NOT NULL,
  outcome TEXT NOT NULL,
  detail TEXT NOT NULL DEFAULT '',
  duration_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS generations (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  at DATETIME NOT NULL,
  session_id TEXT NOT NULL,
  model_id TEXT NOT NULL,
  finish_reason TEXT NOT NULL,
  prompt_tokens INTEGER NOT NULL,
  completion_tokens INTEGER NOT NULL,
  total_tokens INTEGER NOT NULL,
  duration_ms INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_operations_at ON operations(at);
CREATE INDEX IF NOT EXISTS idx_generations_at ON generations(at);
`)
	return err
}

// RecordOp stores one completed lifecycle operation.
func (l *Log) RecordOp(op, modelID, outcome, detail string, dur time.Duration) {
	if l.db == nil {
		return
	}
	_, err := l.db.Exec(`
INSERT INTO operations(at, op, model_id, outcome, detail, duration_ms)
VALUES(?, ?, ?, ?, ?, ?);
`, time.Now().UTC(), op, modelID, outcome, detail, dur.Milliseconds())
	if err != nil {
		l.log.Warn().Err(err).Str("op", op).Str("model", modelID).Msg("audit write failed")
	}
}

// RecordGeneration stores the outcome of one generation session.
func (l *Log) RecordGeneration(sessionID, modelID, finishReason string, usage types.Usage, dur time.Duration) {
	if l.db == nil {
		return
	}
	_, err := l.db.Exec(`
INSERT INTO generations(at, session_id, model_id, finish_reason, prompt_tokens, completion_tokens, total_tokens, duration_ms)
VALUES(?, ?, ?, ?, ?, ?, ?, ?);
`, time.Now().UTC(), sessionID, modelID, finishReason, usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens, dur.Milliseconds())
	if err != nil {
		l.log.Warn().Err(err).Str("session", sessionID).Msg("audit write failed")
	}
}

// OpRecord is one row of the operations table.
type OpRecord struct {
	At       time.Time
	Op       string
	ModelID  string
	Outcome  string
	Detail   string
	Duration time.Duration
}

// GenerationRecord is one row of the generations table.
type GenerationRecord struct {
	At           time.Time
	SessionID    string
	ModelID      string
	FinishReason string
	Usage        types.Usage
	Duration     time.Duration
}

// RecentOps returns up to limit operations, newest first.
func (l *Log) RecentOps(ctx context.Context, limit int) ([]OpRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
SELECT at, op, model_id, outcome, detail, duration_ms
FROM operations ORDER BY id DESC LIMIT ?;
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OpRecord
	for rows.Next() {
		var r OpRecord
		var ms int64
		if err := rows.Scan(&r.At, &r.Op, &r.ModelID, &r.Outcome, &r.Detail, &ms); err != nil {
			return nil, err
		}
		r.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecentGenerations returns up to limit generation records, newest first.
func (l *Log) RecentGenerations(ctx context.Context, limit int) ([]GenerationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
SELECT at, session_id, model_id, finish_reason, prompt_tokens, completion_tokens, total_tokens, duration_ms
FROM generations ORDER BY id DESC LIMIT ?;
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GenerationRecord
	for rows.Next() {
		var r GenerationRecord
		var ms int64
		if err := rows.Scan(&r.At, &r.SessionID, &r.ModelID, &r.FinishReason,
			&r.Usage.PromptTokens, &r.Usage.CompletionTokens, &r.Usage.TotalTokens, &ms); err != nil {
			return nil, err
		}
		r.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (l *Log) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}
