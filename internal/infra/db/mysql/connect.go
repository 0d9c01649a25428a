package mysql

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// Connect buka koneksi MySQL dan pastikan server bisa di-ping.
// The DSN must carry parseTime=true.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	// test ping
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
  id            VARCHAR(64)  NOT NULL PRIMARY KEY,
  question      TEXT         NOT NULL,
  attachments   INT          NOT NULL DEFAULT 0,
  status        VARCHAR(16)  NOT NULL,
  reason        VARCHAR(48)  NOT NULL DEFAULT '',
  detail        TEXT         NOT NULL,
  attempts      INT          NOT NULL DEFAULT 0,
  plan_digest   VARCHAR(80)  NOT NULL DEFAULT '',
  payload       LONGTEXT     NULL,
  archive_url   VARCHAR(512) NOT NULL DEFAULT '',
  elapsed_ms    BIGINT       NOT NULL DEFAULT 0,
  created_at    DATETIME(6)  NOT NULL,
  KEY idx_runs_created (created_at)
)`,
	`CREATE TABLE IF NOT EXISTS analysis_attempts (
  run_id        VARCHAR(64)  NOT NULL,
  revision      INT          NOT NULL,
  state         VARCHAR(32)  NOT NULL,
  failed_at     VARCHAR(16)  NOT NULL DEFAULT '',
  exit_code     INT          NOT NULL DEFAULT 0,
  diagnostic    TEXT         NOT NULL,
  duration_ms   BIGINT       NOT NULL DEFAULT 0,
  program_url   VARCHAR(512) NOT NULL DEFAULT '',
  created_at    DATETIME(6)  NOT NULL,
  PRIMARY KEY (run_id, revision)
)`,
}

// Migrate creates the tables when missing.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range Schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
