package analysis

import (
	"fmt"
	"strings"
	"time"
)

// ExecState is the lifecycle state of one sandbox run.
//
//	pending → running → completed | killed_timeout | killed_resource_limit | crashed
type ExecState string

const (
	StatePending       ExecState = "pending"
	StateRunning       ExecState = "running"
	StateCompleted     ExecState = "completed"
	StateKilledTimeout ExecState = "killed_timeout"
	StateKilledLimit   ExecState = "killed_resource_limit"
	StateCrashed       ExecState = "crashed"
)

// Terminal reports whether no further transition can happen.
func (s ExecState) Terminal() bool {
	switch s {
	case StateCompleted, StateKilledTimeout, StateKilledLimit, StateCrashed:
		return true
	}
	return false
}

// Output convention shared by prompts and sandbox backends. The program
// writes its JSON result to $ANALYST_OUTPUT; stdout is diagnostic only.
const (
	EnvOutput     = "ANALYST_OUTPUT"
	EnvDataDir    = "ANALYST_DATA_DIR"
	EnvScratchDir = "ANALYST_SCRATCH_DIR"
	OutputFile    = "output.json"
)

// Limits bound a single sandbox run.
type Limits struct {
	MemoryBytes    int64
	Timeout        time.Duration
	PidsMax        int64
	MaxOutputBytes int64
	NoNetwork      bool

	// MaxArtifactBytes caps the output file; zero means DefaultMaxArtifactBytes.
	MaxArtifactBytes int64
}

// DefaultMaxArtifactBytes is the output file cap when Limits leaves it unset.
const DefaultMaxArtifactBytes = 16 << 20

// ExecutionResult is what the sandbox captured from one run.
type ExecutionResult struct {
	State           ExecState     `json:"state"`
	ExitCode        int           `json:"exit_code"`
	Stdout          string        `json:"stdout,omitempty"`
	Stderr          string        `json:"stderr,omitempty"`
	Artifact        []byte        `json:"-"`
	ArtifactPresent bool          `json:"artifact_present"`
	Duration        time.Duration `json:"duration"`
	KillReason      string        `json:"kill_reason,omitempty"`
	Truncated       bool          `json:"truncated,omitempty"`
}

// Failed reports whether the run is anything other than a clean completion
// that produced the output artifact.
func (r ExecutionResult) Failed() bool {
	return r.State != StateCompleted || !r.ArtifactPresent
}

const diagnosticTail = 2000

// Diagnostic describes a failed run for the next synthesis call.
func (r ExecutionResult) Diagnostic() string {
	var b strings.Builder
	switch r.State {
	case StateKilledTimeout:
		fmt.Fprintf(&b, "program was killed: time limit exceeded after %s", r.Duration.Round(time.Millisecond))
	case StateKilledLimit:
		b.WriteString("program was killed: resource limit exceeded")
	case StateCrashed:
		fmt.Fprintf(&b, "program crashed with exit code %d", r.ExitCode)
	case StateCompleted:
		if !r.ArtifactPresent {
			b.WriteString("program exited 0 without a usable output file at $" + EnvOutput)
		}
	default:
		fmt.Fprintf(&b, "program did not finish (state %s)", r.State)
	}
	if r.KillReason != "" {
		fmt.Fprintf(&b, " (%s)", r.KillReason)
	}
	if s := tail(r.Stderr, diagnosticTail); s != "" {
		b.WriteString("\nstderr:\n")
		b.WriteString(s)
	}
	if r.State == StateCompleted && !r.ArtifactPresent {
		if s := tail(r.Stdout, diagnosticTail/2); s != "" {
			b.WriteString("\nstdout:\n")
			b.WriteString(s)
		}
	}
	return b.String()
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
