package analysis

import "errors"

var (
	// ErrInvalidInput marks a malformed request. Never retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrPlanGeneration is returned when no usable plan could be obtained.
	ErrPlanGeneration = errors.New("plan generation failed")

	// ErrExecution marks a sandbox run that crashed, timed out or hit a limit.
	ErrExecution = errors.New("execution failed")

	// ErrValidation marks output that is present but does not match the schema.
	ErrValidation = errors.New("validation failed")

	// ErrMaxAttempts is returned when the repair loop runs out of attempts.
	ErrMaxAttempts = errors.New("max attempts exceeded")

	// ErrTimeout is returned when the request deadline elapsed.
	ErrTimeout = errors.New("deadline exceeded")
)
