package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/bryanwahyu/analyst-agent/internal/application"
	appai "github.com/bryanwahyu/analyst-agent/internal/application/ai"
	appanalysis "github.com/bryanwahyu/analyst-agent/internal/application/analysis"
	"github.com/bryanwahyu/analyst-agent/internal/application/intake"
	"github.com/bryanwahyu/analyst-agent/internal/config"
	domainai "github.com/bryanwahyu/analyst-agent/internal/domain/ai"
	"github.com/bryanwahyu/analyst-agent/internal/domain/analysis"
	"github.com/bryanwahyu/analyst-agent/internal/infra/ai/gemini"
	"github.com/bryanwahyu/analyst-agent/internal/infra/ai/openai"
	mysqlp "github.com/bryanwahyu/analyst-agent/internal/infra/db/mysql"
	"github.com/bryanwahyu/analyst-agent/internal/infra/db/postgres"
	"github.com/bryanwahyu/analyst-agent/internal/infra/db/sqlite"
	"github.com/bryanwahyu/analyst-agent/internal/infra/executor"
	dockerrunner "github.com/bryanwahyu/analyst-agent/internal/infra/executor/docker"
	"github.com/bryanwahyu/analyst-agent/internal/infra/executor/process"
	minioStore "github.com/bryanwahyu/analyst-agent/internal/infra/storage"
	"github.com/bryanwahyu/analyst-agent/internal/logging"
	"github.com/bryanwahyu/analyst-agent/internal/middleware"
)

// pinger is implemented by both sandbox backends and the archive store.
type pinger interface {
	Ping(ctx context.Context) error
}

// isolator is implemented by backends whose confinement depends on the host.
type isolator interface {
	Isolation(ctx context.Context) error
}

type app struct {
	cfg     *config.Config
	log     *zap.Logger
	svc     *appanalysis.Service
	pool    *executor.Pool
	sandbox pinger
	runs    analysis.RunRepository
	health  map[string]middleware.HealthChecker
	db      *sql.DB
}

// Close waits for pending run records before closing the store.
func (a *app) Close() {
	if a.svc != nil {
		a.svc.Wait()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	_ = a.log.Sync()
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("config load error: %w", err)
	}
	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	log, err := logging.New(level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// buildApp wires every collaborator from cfg. withHistory=false skips the
// database and the archive (used by the one-shot ask command).
func buildApp(ctx context.Context, cfg *config.Config, log *zap.Logger, withHistory bool) (*app, error) {
	a := &app{cfg: cfg, log: log, health: map[string]middleware.HealthChecker{}}

	llm, err := newLLM(ctx, cfg)
	if err != nil {
		return nil, err
	}

	sandbox, err := newSandbox(cfg, log)
	if err != nil {
		return nil, err
	}
	a.sandbox = sandbox.(pinger)
	a.health["sandbox"] = middleware.CheckFunc(a.sandbox.Ping)
	if iso, ok := sandbox.(isolator); ok {
		a.health["isolation"] = middleware.CheckFunc(iso.Isolation)
	}
	a.pool = executor.NewPool(sandbox, cfg.Sandbox.Workers)
	a.health["sandbox_pool"] = middleware.PoolChecker{Pool: a.pool}

	var archive analysis.ArchiveStore
	if withHistory {
		if err := a.openRuns(ctx); err != nil {
			return nil, err
		}
		if cfg.Minio.Enabled {
			store, err := minioStore.New(ctx,
				cfg.Minio.Endpoint,
				cfg.Minio.Region,
				cfg.Minio.BucketName,
				cfg.Minio.AccessKey,
				cfg.Minio.SecretKey,
				cfg.Minio.UseSSL,
			)
			if err != nil {
				a.Close()
				return nil, fmt.Errorf("minio init error: %w", err)
			}
			archive = store
			a.health["archive"] = middleware.CheckFunc(store.Ping)
		}
	}

	limits := analysis.Limits{
		MemoryBytes:    int64(cfg.Sandbox.MemoryMB) << 20,
		Timeout:        cfg.Sandbox.Timeout,
		PidsMax:        int64(cfg.Sandbox.PidsMax),
		MaxOutputBytes: int64(cfg.Sandbox.MaxOutputKB) << 10,
		NoNetwork:      !cfg.Sandbox.Network,
	}

	a.svc = &appanalysis.Service{
		Intake: intake.NewNormalizer(cfg.Intake.AllowedTypes, int64(cfg.Intake.MaxFileMB)<<20, int64(cfg.Intake.MaxTotalMB)<<20),
		Planner: &appai.PlanGenerator{
			Client:      llm,
			Attempts:    cfg.Pipeline.PlanAttempts,
			CallTimeout: cfg.Pipeline.LLMTimeout,
			Log:         log.Named("planner"),
		},
		Coder: &appai.Synthesizer{
			Client:      llm,
			CallTimeout: cfg.Pipeline.LLMTimeout,
			Log:         log.Named("synthesizer"),
		},
		Sandbox: a.pool,
		Runs:    a.runs,
		Archive: archive,
		Clock:   application.SystemClock{},
		Log:     log,
		Config: appanalysis.Config{
			Deadline:    cfg.Pipeline.Deadline,
			MaxAttempts: cfg.Pipeline.MaxAttempts,
			ExecTimeout: cfg.Sandbox.Timeout,
			Limits:         limits,
			RunLogDir:      cfg.Log.RunDir,
			PersistTimeout: cfg.Pipeline.PersistTimeout,
		},
	}
	return a, nil
}

// checkSandbox pings the backend once at startup. Missing isolation is fatal
// since every run would fail closed; other problems are only logged.
func (a *app) checkSandbox(ctx context.Context) error {
	err := a.sandbox.Ping(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, process.ErrIsolationUnavailable):
		return fmt.Errorf("sandbox: %w (use sandbox.backend docker, or sandbox.allowUnconfined for development)", err)
	default:
		a.log.Warn("sandbox not ready", zap.Error(err))
		return nil
	}
}

func newLLM(ctx context.Context, cfg *config.Config) (domainai.Client, error) {
	if cfg.LLM.APIKey == "" {
		return nil, fmt.Errorf("llm.apiKey is required for provider %s", cfg.LLM.Provider)
	}
	switch cfg.LLM.Provider {
	case "gemini":
		c, err := gemini.NewClient(ctx, cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model, cfg.LLM.CodeModel)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return openai.NewClientWithBaseURL(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model, cfg.LLM.CodeModel), nil
	}
}

func newSandbox(cfg *config.Config, log *zap.Logger) (analysis.Sandbox, error) {
	switch cfg.Sandbox.Backend {
	case "docker":
		return dockerrunner.NewRunner(dockerrunner.Config{
			Image:       cfg.Sandbox.Image,
			Interpreter: cfg.Sandbox.Interpreter,
			WorkDir:     cfg.Sandbox.WorkDir,
			PidsMax:     int64(cfg.Sandbox.PidsMax),
			Log:         log.Named("docker"),
		}), nil
	case "process":
		return process.New(process.Config{
			Interpreter:     cfg.Sandbox.Interpreter,
			WorkDir:         cfg.Sandbox.WorkDir,
			NoNetwork:       !cfg.Sandbox.Network,
			AllowUnconfined: cfg.Sandbox.AllowUnconfined,
			Log:             log.Named("process"),
		}), nil
	default:
		return nil, fmt.Errorf("unknown sandbox backend %q", cfg.Sandbox.Backend)
	}
}

// openRuns connects the run store chosen by database.driver.
func (a *app) openRuns(ctx context.Context) error {
	cfg := a.cfg
	switch cfg.Database.Driver {
	case "mysql":
		db, err := mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			return fmt.Errorf("mysql connect error: %w", err)
		}
		if err := mysqlp.Migrate(ctx, db); err != nil {
			db.Close()
			return fmt.Errorf("mysql migrate: %w", err)
		}
		a.db, a.runs = db, mysqlp.NewRunRepository(db)
	case "postgres":
		db, err := postgres.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			return fmt.Errorf("postgres connect error: %w", err)
		}
		if err := postgres.Migrate(ctx, db, postgres.Schema); err != nil {
			db.Close()
			return fmt.Errorf("postgres migrate: %w", err)
		}
		a.db, a.runs = db, postgres.NewRunRepository(db)
	case "sqlite":
		db, err := sqlite.Connect(ctx, cfg.Database.Path)
		if err != nil {
			return err
		}
		a.db, a.runs = db, sqlite.NewRunRepository(db)
	default:
		return nil
	}
	a.health["database"] = &middleware.DatabaseHealthChecker{DB: a.db}
	return nil
}
