package docker

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/analyst-agent/internal/domain/analysis"
	"github.com/bryanwahyu/analyst-agent/internal/infra/executor"
)

func TestBuildArgs(t *testing.T) {
	r := NewRunner(Config{Image: "analyst-sandbox:latest", User: "1000:1000"})
	ws := &executor.Workspace{DataDir: "/w/data", ScratchDir: "/w/scratch", ProgramDir: "/w/program"}
	args := r.buildArgs("analyst-x", ws, analysis.Limits{
		MemoryBytes: 256 << 20,
		Timeout:     30 * time.Second,
		PidsMax:     64,
		NoNetwork:   true,
	})
	joined := strings.Join(args, " ")

	for _, want := range []string{
		"run --name analyst-x",
		"--read-only",
		"--cap-drop ALL",
		"--security-opt no-new-privileges",
		"--user 1000:1000",
		"--pids-limit 64",
		"--network none",
		"--memory 268435456 --memory-swap 268435456",
		"--ulimit cpu=31:31",
		"-v /w/data:/data:ro",
		"-v /w/program:/program:ro",
		"-v /w/scratch:/scratch:rw",
		"-e ANALYST_OUTPUT=/scratch/output.json",
		"-e ANALYST_DATA_DIR=/data",
	} {
		assert.Contains(t, joined, want)
	}
	assert.Equal(t, []string{"analyst-sandbox:latest", "python3", "/program/main.py"}, args[len(args)-3:])
}

func TestBuildArgsNetworkAllowed(t *testing.T) {
	r := NewRunner(Config{})
	args := r.buildArgs("n", &executor.Workspace{}, analysis.Limits{})
	assert.NotContains(t, strings.Join(args, " "), "--network none")
	assert.Contains(t, strings.Join(args, " "), "--pids-limit 128")
}

func TestContainerName(t *testing.T) {
	n := containerName("3F2A-b7c9-4d1e-9f00-aaaaaaaaaaaa")
	assert.True(t, strings.HasPrefix(n, "analyst-32b7c94d1e9f-"), n)
	assert.NotEqual(t, n, containerName("3F2A-b7c9-4d1e-9f00-aaaaaaaaaaaa"))
	assert.True(t, strings.HasPrefix(containerName("!!"), "analyst-"))
}

// Integration tests need a docker daemon and a python image; they are opt-in.
func integrationRunner(t *testing.T) *Runner {
	t.Helper()
	if testing.Short() || os.Getenv("ANALYST_DOCKER_TESTS") == "" {
		t.Skip("set ANALYST_DOCKER_TESTS=1 to run docker sandbox tests")
	}
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not installed")
	}
	r := NewRunner(Config{WorkDir: t.TempDir(), Image: os.Getenv("ANALYST_SANDBOX_IMAGE")})
	if err := r.Ping(context.Background()); err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	return r
}

type noBlobs struct{}

func (noBlobs) Blob(analysis.Digest) ([]byte, error) { return nil, nil }

func program(src string) analysis.SandboxRequest {
	return analysis.SandboxRequest{
		RunID:   "docker-test",
		Program: analysis.Program{Revision: 1, Source: src},
		Blobs:   noBlobs{},
		Limits: analysis.Limits{
			MemoryBytes:    128 << 20,
			Timeout:        20 * time.Second,
			MaxOutputBytes: 64 << 10,
			NoNetwork:      true,
		},
	}
}

func TestDockerTwoPlusTwo(t *testing.T) {
	r := integrationRunner(t)
	res, err := r.Run(context.Background(), program(`import json, os
json.dump({"answer": 2 + 2}, open(os.environ["ANALYST_OUTPUT"], "w"))`))
	require.NoError(t, err)
	assert.Equal(t, analysis.StateCompleted, res.State)
	assert.JSONEq(t, `{"answer":4}`, string(res.Artifact))
}

func TestDockerNoWriteOutsideScratch(t *testing.T) {
	r := integrationRunner(t)
	res, err := r.Run(context.Background(), program(`open("/program/evil.txt", "w").write("x")`))
	require.NoError(t, err)
	assert.Equal(t, analysis.StateCrashed, res.State)
	assert.Contains(t, res.Stderr, "Read-only file system")

	res, err = r.Run(context.Background(), program(`open("/etc/evil.txt", "w").write("x")`))
	require.NoError(t, err)
	assert.Equal(t, analysis.StateCrashed, res.State)
}

func TestDockerNoNetwork(t *testing.T) {
	r := integrationRunner(t)
	res, err := r.Run(context.Background(), program(`import socket
socket.create_connection(("1.1.1.1", 53), timeout=3)`))
	require.NoError(t, err)
	assert.Equal(t, analysis.StateCrashed, res.State)
}

func TestDockerMemoryLimit(t *testing.T) {
	r := integrationRunner(t)
	res, err := r.Run(context.Background(), program(`x = b"a" * (1024 * 1024 * 1024)`))
	require.NoError(t, err)
	assert.Equal(t, analysis.StateKilledLimit, res.State)
}

func TestDockerTimeoutRemovesContainer(t *testing.T) {
	r := integrationRunner(t)
	req := program(`import time
time.sleep(60)`)
	req.Limits.Timeout = 2 * time.Second
	res, err := r.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, analysis.StateKilledTimeout, res.State)

	out, err := exec.Command("docker", "ps", "-a", "--filter", "name=analyst-dockertest", "-q").Output()
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(string(out)))
}
