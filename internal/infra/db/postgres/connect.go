package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
)

// Connect buka koneksi Postgres dan pastikan server bisa di-ping.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx2); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Schema is the DDL for the run tables.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS analysis_runs (
  id            TEXT        PRIMARY KEY,
  question      TEXT        NOT NULL,
  attachments   INTEGER     NOT NULL DEFAULT 0,
  status        TEXT        NOT NULL,
  reason        TEXT        NOT NULL DEFAULT '',
  detail        TEXT        NOT NULL DEFAULT '',
  attempts      INTEGER     NOT NULL DEFAULT 0,
  plan_digest   TEXT        NOT NULL DEFAULT '',
  payload       TEXT        NULL,
  archive_url   TEXT        NOT NULL DEFAULT '',
  elapsed_ms    BIGINT      NOT NULL DEFAULT 0,
  created_at    TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_created ON analysis_runs (created_at)`,
	`CREATE TABLE IF NOT EXISTS analysis_attempts (
  run_id        TEXT        NOT NULL,
  revision      INTEGER     NOT NULL,
  state         TEXT        NOT NULL,
  failed_at     TEXT        NOT NULL DEFAULT '',
  exit_code     INTEGER     NOT NULL DEFAULT 0,
  diagnostic    TEXT        NOT NULL DEFAULT '',
  duration_ms   BIGINT      NOT NULL DEFAULT 0,
  program_url   TEXT        NOT NULL DEFAULT '',
  created_at    TIMESTAMPTZ NOT NULL,
  PRIMARY KEY (run_id, revision)
)`,
}

// Migrate runs stmts in order; callers pass Schema or a dialect variant of it.
func Migrate(ctx context.Context, db *sql.DB, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
