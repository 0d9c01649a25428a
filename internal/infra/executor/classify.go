package executor

import (
	"fmt"
	"strings"
	"time"

	"github.com/bryanwahyu/analyst-agent/internal/domain/analysis"
)

// Outcome is what a backend observed when the program stopped.
type Outcome struct {
	ExitCode  int
	Signal    string // "SIGXCPU", "SIGKILL", ...; empty when the program exited
	TimedOut  bool
	OOMKilled bool
	Stderr    string
	Limits    analysis.Limits
}

// stderr markers of an allocation failure inside the interpreter
var memoryMarkers = []string{
	"MemoryError",
	"Cannot allocate memory",
	"std::bad_alloc",
	"out of memory",
}

// Exit codes of a shell or container runtime reporting death by signal (128+n).
const (
	exitSIGKILL = 128 + 9
	exitSIGXCPU = 128 + 24
	exitSIGXFSZ = 128 + 25
)

// Classify maps an outcome to a terminal state and a kill reason.
// Timeouts win over everything else.
func Classify(o Outcome) (analysis.ExecState, string) {
	switch {
	case o.TimedOut:
		if o.Limits.Timeout > 0 {
			return analysis.StateKilledTimeout, fmt.Sprintf("wall-clock limit of %s exceeded", o.Limits.Timeout.Round(time.Millisecond))
		}
		return analysis.StateKilledTimeout, "deadline exceeded"
	case o.OOMKilled:
		return analysis.StateKilledLimit, "memory limit" + mib(o.Limits.MemoryBytes) + " exceeded (OOM kill)"
	case o.Signal == "SIGXCPU" || o.ExitCode == exitSIGXCPU:
		return analysis.StateKilledLimit, "CPU time limit exceeded (SIGXCPU)"
	case o.Signal == "SIGXFSZ" || o.ExitCode == exitSIGXFSZ:
		return analysis.StateKilledLimit, "file size limit exceeded (SIGXFSZ)"
	case o.Signal == "" && o.ExitCode == 0:
		return analysis.StateCompleted, ""
	case hasMemoryMarker(o.Stderr):
		return analysis.StateKilledLimit, "memory limit" + mib(o.Limits.MemoryBytes) + " exceeded (allocation failed)"
	case o.Signal != "":
		return analysis.StateCrashed, "killed by " + o.Signal
	case o.ExitCode == exitSIGKILL:
		return analysis.StateCrashed, "killed by SIGKILL"
	default:
		return analysis.StateCrashed, ""
	}
}

func hasMemoryMarker(stderr string) bool {
	for _, m := range memoryMarkers {
		if strings.Contains(stderr, m) {
			return true
		}
	}
	return false
}

func mib(b int64) string {
	if b <= 0 {
		return ""
	}
	return fmt.Sprintf(" of %d MiB", b>>20)
}

// Finish fills the terminal fields of res from o and reads the artifact when
// the program completed.
func Finish(res *analysis.ExecutionResult, o Outcome, ws *Workspace) {
	res.State, res.KillReason = Classify(o)
	res.ExitCode = o.ExitCode
	if res.State != analysis.StateCompleted || ws == nil {
		return
	}
	data, present, err := ws.ReadArtifact(o.Limits.MaxArtifactBytes)
	if err != nil {
		res.KillReason = err.Error()
		return
	}
	res.Artifact, res.ArtifactPresent = data, present
}
