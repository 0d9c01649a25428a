package sqlite

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/bryanwahyu/analyst-agent/internal/domain/analysis"
)

func newRepo(t *testing.T) domain.RunRepository {
	t.Helper()
	db, err := Connect(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRunRepository(db)
}

func TestRunRoundTrip(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	run := &domain.Run{
		ID:          "r1",
		Question:    "What is 2+2?",
		Attachments: 1,
		Status:      domain.StatusSuccess,
		Attempts:    1,
		PlanDigest:  "sha256:abc",
		Payload:     json.RawMessage(`{"answer":4}`),
		ElapsedMS:   1200,
		CreatedAt:   created,
	}
	require.NoError(t, repo.SaveRun(ctx, run))

	got, err := repo.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "What is 2+2?", got.Question)
	assert.Equal(t, domain.StatusSuccess, got.Status)
	assert.JSONEq(t, `{"answer":4}`, string(got.Payload))
	assert.Equal(t, int64(1200), got.ElapsedMS)
	assert.True(t, created.Equal(got.CreatedAt), "created_at %v", got.CreatedAt)

	// upsert overwrites the outcome
	run.ArchiveURL = "http://minio/archive/runs/r1/answer.json"
	require.NoError(t, repo.SaveRun(ctx, run))
	got, err = repo.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, run.ArchiveURL, got.ArchiveURL)
}

func TestErrorRunHasNoPayload(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.SaveRun(ctx, &domain.Run{
		ID:        "r2",
		Question:  "q",
		Status:    domain.StatusError,
		Reason:    domain.ReasonMaxAttemptsExceeded,
		Detail:    "program crashed with exit code 1",
		Attempts:  3,
		CreatedAt: time.Now(),
	}))
	got, err := repo.GetRun(ctx, "r2")
	require.NoError(t, err)
	assert.Nil(t, got.Payload)
	assert.Equal(t, domain.ReasonMaxAttemptsExceeded, got.Reason)
}

func TestGetRunNotFound(t *testing.T) {
	_, err := newRepo(t).GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestAttemptsOrderedByRevision(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	now := time.Now()
	for _, rev := range []int{3, 1, 2} {
		require.NoError(t, repo.SaveAttempt(ctx, &domain.AttemptRecord{
			RunID:     "r3",
			Revision:  rev,
			State:     domain.StateCrashed,
			FailedAt:  domain.StageExecution,
			ExitCode:  1,
			CreatedAt: now,
		}))
	}
	require.NoError(t, repo.SaveAttempt(ctx, &domain.AttemptRecord{RunID: "other", Revision: 1, State: domain.StateCompleted, CreatedAt: now}))

	got, err := repo.Attempts(ctx, "r3")
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, a := range got {
		assert.Equal(t, i+1, a.Revision)
		assert.Equal(t, domain.StateCrashed, a.State)
		assert.Equal(t, domain.StageExecution, a.FailedAt)
	}
}

func TestLatestNewestFirst(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, repo.SaveRun(ctx, &domain.Run{
			ID: id, Question: "q", Status: domain.StatusSuccess, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	got, err := repo.Latest(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
}
