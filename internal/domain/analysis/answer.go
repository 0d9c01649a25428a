package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Status of a final answer.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Reason classifies a failed answer.
type Reason string

const (
	ReasonNone                 Reason = ""
	ReasonInvalidInput         Reason = "InvalidInput"
	ReasonPlanGenerationFailed Reason = "PlanGenerationFailed"
	ReasonMaxAttemptsExceeded  Reason = "MaxAttemptsExceeded"
	ReasonTimeout              Reason = "Timeout"
)

// Answer is the single final response for a request: either a success with
// the validated payload or an error with a reason.
type Answer struct {
	RequestID string          `json:"request_id"`
	Status    Status          `json:"status"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Reason    Reason          `json:"reason,omitempty"`
	Detail    string          `json:"detail,omitempty"`
	Attempts  int             `json:"attempts"`
	Elapsed   time.Duration   `json:"-"`
}

// MarshalJSON renders Elapsed in milliseconds.
func (a Answer) MarshalJSON() ([]byte, error) {
	type alias Answer
	return json.Marshal(struct {
		alias
		ElapsedMS int64 `json:"elapsed_ms"`
	}{alias(a), a.Elapsed.Milliseconds()})
}

// OK reports whether the answer is a success.
func (a Answer) OK() bool { return a.Status == StatusSuccess }

// ReasonFor maps a pipeline error to its reason code. Deadline errors win
// over everything else.
func ReasonFor(err error) Reason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ReasonTimeout
	case errors.Is(err, ErrInvalidInput):
		return ReasonInvalidInput
	case errors.Is(err, ErrPlanGeneration):
		return ReasonPlanGenerationFailed
	default:
		return ReasonMaxAttemptsExceeded
	}
}
