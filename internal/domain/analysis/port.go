package analysis

import "context"

// BlobSource resolves attachment content by digest.
type BlobSource interface {
	Blob(d Digest) ([]byte, error)
}

// SandboxRequest is everything one isolated run needs.
type SandboxRequest struct {
	RunID       string
	Program     Program
	Attachments []Attachment
	Blobs       BlobSource
	Limits      Limits
}

// Sandbox port (eksekusi program di lingkungan terisolasi).
// An error return means the backend itself failed; program failures are
// reported through ExecutionResult.State.
type Sandbox interface {
	Run(ctx context.Context, req SandboxRequest) (ExecutionResult, error)
}

// RunRepository port (persistence untuk run records)
type RunRepository interface {
	SaveRun(ctx context.Context, r *Run) error
	SaveAttempt(ctx context.Context, a *AttemptRecord) error
	GetRun(ctx context.Context, id string) (*Run, error)
	Attempts(ctx context.Context, runID string) ([]*AttemptRecord, error)
	Latest(ctx context.Context, limit int) ([]*Run, error)
}

// ArchiveStore port (penyimpanan blob dan artefak run)
type ArchiveStore interface {
	PutBlob(ctx context.Context, d Digest, mediaType string, b []byte) (string, error)
	PutRunObject(ctx context.Context, runID, name, contentType string, b []byte) (string, error)
}
