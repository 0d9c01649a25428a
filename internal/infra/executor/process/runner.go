// Package process runs programs as local child processes, confined by shell
// ulimits, a private process group and, on Linux, a Landlock ruleset that
// leaves only the scratch directory writable plus a network namespace.
// Hosts without Landlock are refused unless AllowUnconfined is set.
package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bryanwahyu/analyst-agent/internal/domain/analysis"
	"github.com/bryanwahyu/analyst-agent/internal/infra/executor"
)

// ErrIsolationUnavailable is returned when filesystem confinement or network
// isolation is required but the host cannot provide it. The runner fails
// closed.
var ErrIsolationUnavailable = errors.New("sandbox isolation unavailable")

// Config for the process backend.
type Config struct {
	Shell       string        // POSIX shell used for the ulimit wrapper
	Interpreter string        // program interpreter, resolved through PATH
	WorkDir     string        // parent of per-run workspaces
	WaitDelay   time.Duration // grace for I/O after the group is killed
	// FileSizeBytes is the per-file write cap (ulimit -f).
	FileSizeBytes int64
	// NoNetwork tells Ping that runs will ask for network isolation.
	NoNetwork bool
	// AllowUnconfined runs programs without filesystem confinement when the
	// kernel has no Landlock. Development only: the program can then write
	// anywhere the service user can.
	AllowUnconfined bool
	Log             *zap.Logger
}

// Runner implements analysis.Sandbox.
type Runner struct {
	cfg Config
}

var _ analysis.Sandbox = (*Runner)(nil)

func New(cfg Config) *Runner {
	if cfg.Shell == "" {
		cfg.Shell = "/bin/sh"
	}
	if cfg.Interpreter == "" {
		cfg.Interpreter = "python3"
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(os.TempDir(), "analyst-sandbox")
	}
	if cfg.WaitDelay <= 0 {
		cfg.WaitDelay = 2 * time.Second
	}
	if cfg.FileSizeBytes <= 0 {
		cfg.FileSizeBytes = 256 << 20
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	return &Runner{cfg: cfg}
}

// Run stages the workspace, executes the program and tears everything down.
// A non-nil error means the backend failed before the program could run.
func (r *Runner) Run(ctx context.Context, req analysis.SandboxRequest) (analysis.ExecutionResult, error) {
	limits := req.Limits
	ws, err := executor.NewWorkspace(r.cfg.WorkDir, req.RunID, req.Program, req.Attachments, req.Blobs)
	if err != nil {
		return analysis.ExecutionResult{}, fmt.Errorf("prepare workspace: %w", err)
	}
	defer func() {
		if err := ws.Cleanup(); err != nil {
			r.cfg.Log.Warn("workspace cleanup failed", zap.String("root", ws.Root), zap.Error(err))
		}
	}()

	runCtx := ctx
	if limits.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, limits.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, r.cfg.Shell, "-c", r.ulimitScript(limits), "sandbox", r.cfg.Interpreter, ws.ProgramPath)
	cmd.Dir = ws.ScratchDir
	cmd.Env = r.environ(ws)
	stdout := executor.NewLimitedBuffer(limits.MaxOutputBytes)
	stderr := executor.NewLimitedBuffer(limits.MaxOutputBytes)
	cmd.Stdout, cmd.Stderr = stdout, stderr
	cmd.WaitDelay = r.cfg.WaitDelay
	setupProcessGroup(cmd)

	if limits.NoNetwork {
		if err := isolateNetwork(cmd, r.cfg.Shell); err != nil {
			return analysis.ExecutionResult{}, err
		}
	}

	res := analysis.ExecutionResult{State: analysis.StateRunning}
	start := time.Now()
	err = r.start(cmd, ws)
	if errors.Is(err, ErrIsolationUnavailable) {
		return analysis.ExecutionResult{}, err
	}
	if err == nil {
		err = cmd.Wait()
	}
	res.Duration = time.Since(start)
	res.Stdout, res.Stderr = stdout.String(), stderr.String()
	res.Truncated = stdout.Truncated() || stderr.Truncated()

	timedOut := runCtx.Err() != nil
	if err != nil && cmd.ProcessState == nil && !timedOut {
		return analysis.ExecutionResult{}, fmt.Errorf("start program: %w", err)
	}
	out := executor.Outcome{TimedOut: timedOut, Stderr: res.Stderr, Limits: limits}
	if cmd.ProcessState != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()
		out.Signal = exitSignal(cmd.ProcessState)
	}
	executor.Finish(&res, out, ws)

	r.cfg.Log.Debug("program finished",
		zap.String("run_id", req.RunID),
		zap.Int("revision", req.Program.Revision),
		zap.String("state", string(res.State)),
		zap.Int("exit_code", res.ExitCode),
		zap.Duration("duration", res.Duration))
	return res, nil
}

// start launches cmd inside the Landlock domain, or bare when the host has
// none and AllowUnconfined is set.
func (r *Runner) start(cmd *exec.Cmd, ws *executor.Workspace) error {
	if r.cfg.AllowUnconfined && !confinementAvailable() {
		r.cfg.Log.Warn("running program without filesystem confinement", zap.String("root", ws.Root))
		return cmd.Start()
	}
	return startConfined(cmd, ws.ScratchDir)
}

// ulimitScript caps address space (KiB), CPU seconds and file size (512-byte
// blocks) before exec'ing the interpreter.
func (r *Runner) ulimitScript(l analysis.Limits) string {
	var parts []string
	if l.MemoryBytes > 0 {
		parts = append(parts, "ulimit -v "+strconv.FormatInt(l.MemoryBytes>>10, 10))
	}
	if l.Timeout > 0 {
		secs := int64(l.Timeout/time.Second) + 1
		parts = append(parts, "ulimit -t "+strconv.FormatInt(secs, 10))
	}
	parts = append(parts, "ulimit -f "+strconv.FormatInt(r.cfg.FileSizeBytes/512, 10))
	parts = append(parts, `exec "$@"`)
	return strings.Join(parts, " && ")
}

func (r *Runner) environ(ws *executor.Workspace) []string {
	env := []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + ws.ScratchDir,
		"TMPDIR=" + ws.ScratchDir,
		"MPLCONFIGDIR=" + ws.ScratchDir,
		"LANG=C.UTF-8",
		"PYTHONUNBUFFERED=1",
		"PYTHONDONTWRITEBYTECODE=1",
	}
	return append(env, executor.Env(ws.DataDir, ws.ScratchDir)...)
}

// Ping checks that the shell and interpreter can be found and that the host
// provides the isolation runs will require.
func (r *Runner) Ping(ctx context.Context) error {
	for _, bin := range []string{r.cfg.Shell, r.cfg.Interpreter} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("sandbox: %w", err)
		}
	}
	return r.Isolation(ctx)
}

// Isolation reports whether every run can be confined: Landlock for the
// filesystem and, when NoNetwork is set, user namespaces for the network.
func (r *Runner) Isolation(context.Context) error {
	if !r.cfg.AllowUnconfined && !confinementAvailable() {
		return fmt.Errorf("%w: kernel has no landlock support", ErrIsolationUnavailable)
	}
	if r.cfg.NoNetwork && !userNamespaces(r.cfg.Shell) {
		return fmt.Errorf("%w: unprivileged user namespaces are disabled", ErrIsolationUnavailable)
	}
	return nil
}
