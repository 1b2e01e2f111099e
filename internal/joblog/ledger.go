// Package joblog records per-document job outcomes in an embedded SQLite
// ledger so a re-run can resume by skipping documents that already
// succeeded. The ledger is an aid, not a source of truth: losing it only
// costs redundant work, so ledger errors are logged and never fail a batch.
package joblog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const (
	StageRoute   = "route"
	StageExtract = "extract"

	StatusStarted = "STARTED"
	StatusOK      = "OK"
	StatusFailed  = "FAILED"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS jobs (
	id          TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	stage       TEXT NOT NULL,
	status      TEXT NOT NULL,
	error_kind  TEXT,
	started_at  TIMESTAMP NOT NULL,
	finished_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_jobs_doc_stage ON jobs(document_id, stage);
`

type Ledger struct {
	db  *sql.DB
	log *slog.Logger
}

// Open opens (or creates) the ledger at path; an empty path uses an
// in-memory database, which lasts for the process only.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open job ledger: %w", err)
	}
	// One connection keeps writes serialized and keeps an in-memory
	// database from splitting across pooled connections.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init job ledger schema: %w", err)
	}
	logger.Info("joblog.opened", "path", path)
	return &Ledger{db: db, log: logger}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

// Start records a job beginning and returns its ID.
func (l *Ledger) Start(ctx context.Context, stage, documentID string) (string, error) {
	id := uuid.New().String()
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO jobs (id, document_id, stage, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, documentID, stage, StatusStarted, time.Now().UTC())
	if err != nil {
		l.log.Warn("joblog.start_failed", "stage", stage, "document", documentID, "error", err)
		return "", err
	}
	return id, nil
}

// FinishOK marks a job successful.
func (l *Ledger) FinishOK(ctx context.Context, jobID string) {
	_, err := l.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, finished_at = ? WHERE id = ?`,
		StatusOK, time.Now().UTC(), jobID)
	if err != nil {
		l.log.Warn("joblog.finish_failed", "job_id", jobID, "error", err)
	}
}

// FinishFailure marks a job failed with the failure kind.
func (l *Ledger) FinishFailure(ctx context.Context, jobID, kind string) {
	_, err := l.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error_kind = ?, finished_at = ? WHERE id = ?`,
		StatusFailed, kind, time.Now().UTC(), jobID)
	if err != nil {
		l.log.Warn("joblog.finish_failed", "job_id", jobID, "error", err)
	}
}

// Done reports whether a stage already succeeded for the document.
func (l *Ledger) Done(ctx context.Context, stage, documentID string) (bool, error) {
	var n int
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM jobs WHERE document_id = ? AND stage = ? AND status = ?`,
		documentID, stage, StatusOK).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
