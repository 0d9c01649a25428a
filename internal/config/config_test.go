package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaultsWhenMissing(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 180*time.Second, cfg.Pipeline.Deadline)
	assert.Equal(t, 3, cfg.Pipeline.MaxAttempts)
	assert.Equal(t, "process", cfg.Sandbox.Backend)
	assert.False(t, cfg.Sandbox.AllowUnconfined, "the process backend must be confined unless told otherwise")
	assert.Equal(t, 10*time.Second, cfg.Pipeline.PersistTimeout)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
}

func TestLoadFile(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("ANALYST_DB_PASSWORD", "from-env")
	path := writeConfig(t, `
server:
  port: 9000
  apiKeys:
    ci: abc
pipeline:
  deadline: 90s
  maxAttempts: 2
sandbox:
  backend: docker
  memoryMB: 256
  timeout: 30s
llm:
  provider: gemini
  model: gemini-2.5-pro
database:
  driver: mysql
  host: db
  user: analyst
  password: in-file
  name: analyst
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "abc", cfg.Server.APIKeys["ci"])
	assert.Equal(t, 90*time.Second, cfg.Pipeline.Deadline)
	assert.Equal(t, 2, cfg.Pipeline.MaxAttempts)
	assert.Equal(t, "docker", cfg.Sandbox.Backend)
	assert.Equal(t, 30*time.Second, cfg.Sandbox.Timeout)
	assert.Equal(t, "g-key", cfg.LLM.APIKey)
	assert.Equal(t, 3306, cfg.Database.Port)
	assert.Equal(t, "analyst:from-env@tcp(db:3306)/analyst?parseTime=true&charset=utf8mb4&loc=UTC", cfg.MySQLDSN())
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"backend", "sandbox:\n  backend: vm\n"},
		{"provider", "llm:\n  provider: claude\n"},
		{"driver", "database:\n  driver: oracle\n"},
		{"mysql without host", "database:\n  driver: mysql\n"},
		{"attempts", "pipeline:\n  maxAttempts: -1\n"},
		{"minio endpoint", "minio:\n  enabled: true\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestPostgresDSN(t *testing.T) {
	var c Config
	c.Database.Driver = "postgres"
	c.Database.Host = "pg"
	c.Database.User = "analyst"
	c.Database.Password = "p@ss word"
	c.Database.Name = "runs"
	c.applyDefaults()
	assert.Equal(t, "postgres://analyst:p%40ss%20word@pg:5432/runs?sslmode=disable", c.PostgresDSN())
}

func TestLoadRejectsBadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [unclosed"))
	assert.Error(t, err)
}
