package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	domain "github.com/bryanwahyu/analyst-agent/internal/domain/analysis"
)

// RunRepository speaks the $n placeholder dialect, which SQLite accepts too.
type RunRepository struct{ db *sql.DB }

var _ domain.RunRepository = (*RunRepository)(nil)

func NewRunRepository(db *sql.DB) *RunRepository { return &RunRepository{db: db} }

// SaveRun insert/update Run record
func (r *RunRepository) SaveRun(ctx context.Context, run *domain.Run) error {
	const q = `
INSERT INTO analysis_runs
(id, question, attachments, status, reason, detail, attempts,
 plan_digest, payload, archive_url, elapsed_ms, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,
        $8,$9,$10,$11,$12)
ON CONFLICT (id) DO UPDATE SET
 status = EXCLUDED.status,
 reason = EXCLUDED.reason,
 detail = EXCLUDED.detail,
 attempts = EXCLUDED.attempts,
 plan_digest = EXCLUDED.plan_digest,
 payload = EXCLUDED.payload,
 archive_url = EXCLUDED.archive_url,
 elapsed_ms = EXCLUDED.elapsed_ms;`

	created := run.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := r.db.ExecContext(ctx, q,
		run.ID, run.Question, run.Attachments, stringOrDash(string(run.Status)), string(run.Reason), run.Detail, run.Attempts,
		run.PlanDigest, nullPayload(run.Payload), run.ArchiveURL, run.ElapsedMS, created.UTC(),
	)
	return err
}

// SaveAttempt insert/update satu attempt
func (r *RunRepository) SaveAttempt(ctx context.Context, a *domain.AttemptRecord) error {
	const q = `
INSERT INTO analysis_attempts
(run_id, revision, state, failed_at, exit_code, diagnostic, duration_ms, program_url, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (run_id, revision) DO UPDATE SET
 state = EXCLUDED.state,
 failed_at = EXCLUDED.failed_at,
 exit_code = EXCLUDED.exit_code,
 diagnostic = EXCLUDED.diagnostic,
 duration_ms = EXCLUDED.duration_ms,
 program_url = EXCLUDED.program_url;`

	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := r.db.ExecContext(ctx, q,
		a.RunID, a.Revision, stringOrDash(string(a.State)), string(a.FailedAt), a.ExitCode, a.Diagnostic,
		a.DurationMS, a.ProgramURL, created.UTC(),
	)
	return err
}

const runColumns = `id, question, attachments, status, reason, detail, attempts,
       plan_digest, payload, archive_url, elapsed_ms, created_at`

// GetRun by ID
func (r *RunRepository) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM analysis_runs WHERE id=$1 LIMIT 1`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrRunNotFound
	}
	return run, err
}

// Latest runs, terbaru dulu
func (r *RunRepository) Latest(ctx context.Context, limit int) ([]*domain.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+runColumns+` FROM analysis_runs ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// Attempts of one run ordered by revision
func (r *RunRepository) Attempts(ctx context.Context, runID string) ([]*domain.AttemptRecord, error) {
	const q = `
SELECT run_id, revision, state, failed_at, exit_code, diagnostic, duration_ms, program_url, created_at
FROM analysis_attempts
WHERE run_id=$1
ORDER BY revision ASC;`
	rows, err := r.db.QueryContext(ctx, q, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.AttemptRecord
	for rows.Next() {
		var a domain.AttemptRecord
		if err := rows.Scan(&a.RunID, &a.Revision, &a.State, &a.FailedAt, &a.ExitCode, &a.Diagnostic,
			&a.DurationMS, &a.ProgramURL, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*domain.Run, error) {
	var run domain.Run
	var payload sql.NullString
	if err := s.Scan(&run.ID, &run.Question, &run.Attachments, &run.Status, &run.Reason, &run.Detail, &run.Attempts,
		&run.PlanDigest, &payload, &run.ArchiveURL, &run.ElapsedMS, &run.CreatedAt); err != nil {
		return nil, err
	}
	run.Payload = payloadOf(payload)
	return &run, nil
}
