package analysis

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrRunNotFound dikembalikan repository kalau run tidak ada.
var ErrRunNotFound = errors.New("run not found")

// Run is the persisted record of one request.
type Run struct {
	ID          string          `json:"id"`
	Question    string          `json:"question"`
	Attachments int             `json:"attachments"`
	Status      Status          `json:"status"`
	Reason      Reason          `json:"reason,omitempty"`
	Detail      string          `json:"detail,omitempty"`
	Attempts    int             `json:"attempts"`
	PlanDigest  string          `json:"plan_digest,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	ArchiveURL  string          `json:"archive_url,omitempty"`
	ElapsedMS   int64           `json:"elapsed_ms"`
	CreatedAt   time.Time       `json:"created_at"`
}

// AttemptRecord is the persisted record of one repair cycle.
type AttemptRecord struct {
	RunID      string    `json:"run_id"`
	Revision   int       `json:"revision"`
	State      ExecState `json:"state"`
	FailedAt   Stage     `json:"failed_at,omitempty"`
	ExitCode   int       `json:"exit_code"`
	Diagnostic string    `json:"diagnostic,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	ProgramURL string    `json:"program_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewAttemptRecord flattens an attempt for persistence.
func NewAttemptRecord(runID string, a Attempt, at time.Time) *AttemptRecord {
	rec := &AttemptRecord{
		RunID:      runID,
		Revision:   a.Program.Revision,
		FailedAt:   a.FailedAt,
		Diagnostic: a.Diagnostic,
		CreatedAt:  at,
	}
	if a.Result != nil {
		rec.State = a.Result.State
		rec.ExitCode = a.Result.ExitCode
		rec.DurationMS = a.Result.Duration.Milliseconds()
	}
	return rec
}
