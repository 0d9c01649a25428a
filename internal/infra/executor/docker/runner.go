package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bryanwahyu/analyst-agent/internal/domain/analysis"
	"github.com/bryanwahyu/analyst-agent/internal/infra/executor"
)

const (
	containerData    = "/data"
	containerScratch = "/scratch"
	containerProgram = "/program"

	// docker run exits 125 when the daemon could not create the container
	exitDockerError = 125
)

// Config for the docker backend.
type Config struct {
	Binary      string
	Image       string
	Interpreter string
	WorkDir     string
	User        string // uid:gid inside the container; defaults to the caller
	TmpfsSize   string
	PidsMax     int64
	Log         *zap.Logger
}

// Runner implements analysis.Sandbox with one throwaway container per run.
type Runner struct {
	cfg Config
}

var _ analysis.Sandbox = (*Runner)(nil)

func NewRunner(cfg Config) *Runner {
	if cfg.Binary == "" {
		cfg.Binary = "docker"
	}
	if cfg.Image == "" {
		cfg.Image = "python:3.12-slim"
	}
	if cfg.Interpreter == "" {
		cfg.Interpreter = "python3"
	}
	if cfg.User == "" {
		uid, gid := os.Getuid(), os.Getgid()
		if uid <= 0 {
			uid, gid = 65534, 65534
		}
		cfg.User = fmt.Sprintf("%d:%d", uid, gid)
	}
	if cfg.TmpfsSize == "" {
		cfg.TmpfsSize = "64m"
	}
	if cfg.PidsMax <= 0 {
		cfg.PidsMax = 128
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	return &Runner{cfg: cfg}
}

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

	name := containerName(req.RunID)
	// container dihapus di semua jalur, termasuk cancel
	defer r.remove(name)

	runCtx := ctx
	if limits.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, limits.Timeout)
		defer cancel()
	}

	// jalankan docker command
	cmd := exec.CommandContext(runCtx, r.cfg.Binary, r.buildArgs(name, ws, limits)...)
	stdout := executor.NewLimitedBuffer(limits.MaxOutputBytes)
	stderr := executor.NewLimitedBuffer(limits.MaxOutputBytes)
	cmd.Stdout, cmd.Stderr = stdout, stderr
	cmd.Cancel = func() error {
		r.remove(name)
		return cmd.Process.Kill()
	}
	cmd.WaitDelay = 5 * time.Second

	res := analysis.ExecutionResult{State: analysis.StateRunning}
	start := time.Now()
	err = cmd.Run()
	res.Duration = time.Since(start)
	res.Stdout, res.Stderr = stdout.String(), stderr.String()
	res.Truncated = stdout.Truncated() || stderr.Truncated()

	timedOut := runCtx.Err() != nil
	exitCode := 0
	if err != nil && !timedOut {
		// ambil exit code
		var ee *exec.ExitError
		if !errors.As(err, &ee) {
			return analysis.ExecutionResult{}, fmt.Errorf("docker run: %w", err)
		}
		exitCode = ee.ExitCode()
		if exitCode == exitDockerError {
			return analysis.ExecutionResult{}, fmt.Errorf("docker run: %s", strings.TrimSpace(res.Stderr))
		}
	}

	out := executor.Outcome{ExitCode: exitCode, TimedOut: timedOut, Stderr: res.Stderr, Limits: limits}
	if !timedOut && exitCode != 0 {
		out.OOMKilled = r.oomKilled(name)
	}
	executor.Finish(&res, out, ws)

	r.cfg.Log.Debug("container finished",
		zap.String("run_id", req.RunID),
		zap.String("container", name),
		zap.String("state", string(res.State)),
		zap.Int("exit_code", res.ExitCode),
		zap.Duration("duration", res.Duration))
	return res, nil
}

// buildArgs renders the docker run command line for one run.
func (r *Runner) buildArgs(name string, ws *executor.Workspace, l analysis.Limits) []string {
	args := []string{
		"run", "--name", name,
		"--read-only",
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges",
		"--user", r.cfg.User,
		"--pids-limit", strconv.FormatInt(r.pidsMax(l), 10),
		"--tmpfs", "/tmp:rw,noexec,nosuid,size=" + r.cfg.TmpfsSize,
		"-v", ws.DataDir + ":" + containerData + ":ro",
		"-v", ws.ProgramDir + ":" + containerProgram + ":ro",
		"-v", ws.ScratchDir + ":" + containerScratch + ":rw",
		"-w", containerScratch,
	}
	if l.NoNetwork {
		args = append(args, "--network", "none")
	}
	if l.MemoryBytes > 0 {
		mem := strconv.FormatInt(l.MemoryBytes, 10)
		args = append(args, "--memory", mem, "--memory-swap", mem)
	}
	if l.Timeout > 0 {
		secs := strconv.FormatInt(int64(l.Timeout/time.Second)+1, 10)
		args = append(args, "--ulimit", "cpu="+secs+":"+secs)
	}
	env := append([]string{
		"HOME=" + containerScratch,
		"MPLCONFIGDIR=" + containerScratch,
		"PYTHONUNBUFFERED=1",
		"PYTHONDONTWRITEBYTECODE=1",
	}, executor.Env(containerData, containerScratch)...)
	for _, e := range env {
		args = append(args, "-e", e)
	}
	return append(args, r.cfg.Image, r.cfg.Interpreter, containerProgram+"/main.py")
}

func (r *Runner) pidsMax(l analysis.Limits) int64 {
	if l.PidsMax > 0 {
		return l.PidsMax
	}
	return r.cfg.PidsMax
}

func (r *Runner) oomKilled(name string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, r.cfg.Binary, "inspect", "-f", "{{.State.OOMKilled}}", name).Output()
	if err != nil {
		r.cfg.Log.Warn("docker inspect failed", zap.String("container", name), zap.Error(err))
		return false
	}
	return strings.TrimSpace(string(out)) == "true"
}

// remove force-removes the container. It runs on a fresh context so that
// teardown still happens after the run context is cancelled.
func (r *Runner) remove(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.cfg.Binary, "rm", "-f", name)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil && !strings.Contains(stderr.String(), "No such container") {
		r.cfg.Log.Warn("docker rm failed", zap.String("container", name), zap.Error(err), zap.String("stderr", stderr.String()))
	}
}

// Ping checks that the docker daemon answers.
func (r *Runner) Ping(ctx context.Context) error {
	out, err := exec.CommandContext(ctx, r.cfg.Binary, "version", "--format", "{{.Server.Version}}").CombinedOutput()
	if err != nil {
		return fmt.Errorf("docker unavailable: %v, output=%s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func containerName(runID string) string {
	id := uuid.NewString()[:8]
	var b strings.Builder
	for _, c := range runID {
		if b.Len() >= 12 {
			break
		}
		if c >= 'a' && c <= 'z' || c >= '0' && c <= '9' {
			b.WriteRune(c)
		}
	}
	if b.Len() == 0 {
		return "analyst-" + id
	}
	return "analyst-" + b.String() + "-" + id
}
