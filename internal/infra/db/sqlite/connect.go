// Package sqlite opens a local run store for single-node deployments and
// tests. The repository itself is the postgres one.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/bryanwahyu/analyst-agent/internal/infra/db/postgres"
)

// Schema is the SQLite rendition of postgres.Schema.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS analysis_runs (
  id            TEXT      PRIMARY KEY,
  question      TEXT      NOT NULL,
  attachments   INTEGER   NOT NULL DEFAULT 0,
  status        TEXT      NOT NULL,
  reason        TEXT      NOT NULL DEFAULT '',
  detail        TEXT      NOT NULL DEFAULT '',
  attempts      INTEGER   NOT NULL DEFAULT 0,
  plan_digest   TEXT      NOT NULL DEFAULT '',
  payload       TEXT      NULL,
  archive_url   TEXT      NOT NULL DEFAULT '',
  elapsed_ms    INTEGER   NOT NULL DEFAULT 0,
  created_at    TIMESTAMP NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_created ON analysis_runs (created_at)`,
	`CREATE TABLE IF NOT EXISTS analysis_attempts (
  run_id        TEXT      NOT NULL,
  revision      INTEGER   NOT NULL,
  state         TEXT      NOT NULL,
  failed_at     TEXT      NOT NULL DEFAULT '',
  exit_code     INTEGER   NOT NULL DEFAULT 0,
  diagnostic    TEXT      NOT NULL DEFAULT '',
  duration_ms   INTEGER   NOT NULL DEFAULT 0,
  program_url   TEXT      NOT NULL DEFAULT '',
  created_at    TIMESTAMP NOT NULL,
  PRIMARY KEY (run_id, revision)
)`,
}

// Connect opens path (":memory:" works) and creates the tables.
func Connect(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// satu writer saja
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite pragma: %w", err)
	}
	if err := postgres.Migrate(ctx, db, Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return db, nil
}

// NewRunRepository returns the shared $n-dialect repository over db.
func NewRunRepository(db *sql.DB) *postgres.RunRepository {
	return postgres.NewRunRepository(db)
}
