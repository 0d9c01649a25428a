package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bryanwahyu/analyst-agent/internal/infra/httpserver"
	"github.com/bryanwahyu/analyst-agent/internal/middleware"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, log, true)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.checkSandbox(ctx); err != nil {
		return err
	}

	metrics := middleware.NewMetrics()
	metrics.SetPool(func() (int, int) { return int(a.pool.InUse()), int(a.pool.Size()) })

	var limiter *middleware.RateLimiter
	if cfg.Server.RateLimit.PerSecond > 0 {
		limiter = middleware.NewRateLimiter(cfg.Server.RateLimit.Burst, cfg.Server.RateLimit.PerSecond)
		defer limiter.Close()
	}

	handler := httpserver.NewRouter(a.svc, a.runs, httpserver.Options{
		APIKeys:      cfg.Server.APIKeys,
		CORSOrigins:  cfg.Server.CORSOrigins,
		RateLimiter:  limiter,
		MaxBodyBytes: int64(cfg.Server.MaxBodyMB) << 20,
		Health:       a.health,
		Metrics:      metrics,
		Log:          log.Named("http"),
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		// a request may run for the whole pipeline deadline
		WriteTimeout: cfg.Pipeline.Deadline + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", addr),
			zap.String("sandbox", cfg.Sandbox.Backend),
			zap.String("llm", cfg.LLM.Provider),
			zap.String("database", cfg.Database.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	// graceful shutdown
	log.Info("shutting down server...")
	ctx2, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Warn("shutdown error", zap.Error(err))
	}
	return nil
}
