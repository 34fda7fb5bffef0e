package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/heimdex/heimdex-matting/internal/api"
	"github.com/heimdex/heimdex-matting/internal/config"
	"github.com/heimdex/heimdex-matting/internal/db"
	"github.com/heimdex/heimdex-matting/internal/delivery"
	"github.com/heimdex/heimdex-matting/internal/engine"
	"github.com/heimdex/heimdex-matting/internal/logging"
	"github.com/heimdex/heimdex-matting/internal/observability"
	"github.com/heimdex/heimdex-matting/internal/orchestrator"
	"github.com/heimdex/heimdex-matting/internal/packager"
	"github.com/heimdex/heimdex-matting/internal/pathpolicy"
	"github.com/heimdex/heimdex-matting/internal/runs"
	"github.com/heimdex/heimdex-matting/internal/scratch"
	"github.com/heimdex/heimdex-matting/internal/source"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting heimdex matting",
		"version", config.Version,
		"commit", config.GitCommit,
		"data_dir", logging.SanitizePath(cfg.DataDir()),
	)

	shutdownTracing, err := observability.InitTracing("heimdex-matting", cfg.TraceExporter())
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("failed to flush traces", "error", err)
		}
	}()

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := runs.NewRepository(database.Conn())

	inputPolicy, err := pathpolicy.New(cfg.InputAllowedDirs())
	if err != nil {
		return fmt.Errorf("invalid source.allowed_dirs: %w", err)
	}
	outputPolicy, err := pathpolicy.New(cfg.OutputAllowedDirs())
	if err != nil {
		return fmt.Errorf("invalid output.allowed_dirs: %w", err)
	}
	if !inputPolicy.Restricted() {
		logger.Warn("local input paths are unrestricted; set source.allowed_dirs to limit them")
	}

	resolverOpts := source.Options{
		Timeout:     cfg.FetchTimeout(),
		MaxAttempts: cfg.FetchAttempts(),
		MaxBytes:    cfg.FetchMaxBytes(),
		Policy:      inputPolicy,
		Logger:      logger,
	}
	if storage := cfg.ObjectStorage(); storage.Enabled() {
		store, err := source.NewMinioStore(storage)
		if err != nil {
			return fmt.Errorf("failed to initialize object storage: %w", err)
		}
		resolverOpts.Objects = store
		logger.Info("object storage inputs enabled", "endpoint", storage.Endpoint)
	}
	resolver := source.NewResolver(resolverOpts)

	scratchMgr, err := scratch.NewManager(cfg.ScratchDir(), cfg.ScratchRetain(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize scratch space: %w", err)
	}
	janitor, err := scratchMgr.StartJanitor(cfg.ScratchSweepSchedule(), cfg.ScratchMaxAge())
	if err != nil {
		return fmt.Errorf("failed to start scratch janitor: %w", err)
	}
	defer janitor.Stop()

	settings := cfg.Engine()
	sub, err := engine.NewSubprocess(engine.Config{
		PythonPath:    settings.Python,
		Module:        settings.Module,
		WorkDir:       settings.WorkDir,
		Timeout:       settings.Timeout,
		DoctorTimeout: settings.DoctorTimeout,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("matting engine unavailable: %w", err)
	}
	gated := engine.NewGated(sub, logger)

	doctor := engine.NewCachedDoctor(sub, settings.Checkpoint, settings.Device, logger)
	initCtx, initCancel := context.WithTimeout(context.Background(), settings.DoctorTimeout)
	if caps, err := doctor.Refresh(initCtx); err != nil {
		logger.Warn("initial doctor probe failed", "error", err)
	} else {
		logger.Info("engine capabilities detected",
			"ready", caps.Ready,
			"cuda", caps.CUDAAvailable,
			"checkpoint_present", caps.CheckpointPresent,
		)
	}
	initCancel()

	orch := orchestrator.New(orchestrator.Deps{
		Resolver:     resolver,
		Scratch:      scratchMgr,
		Engine:       gated,
		Packager:     packager.New(logger),
		Recorder:     repo,
		OutputPolicy: outputPolicy,
		Settings:     settings,
		Logger:       logger,
	})

	apiServer := api.NewServer(api.ServerConfig{
		Host:         cfg.Host(),
		Port:         cfg.Port(),
		AuthToken:    cfg.AuthToken(),
		Orchestrator: orch,
		Streamer:     delivery.NewStreamer(logger),
		Runs:         repo,
		Doctor:       doctor,
		Gate:         gated,
		Settings:     settings,
		Logger:       logger,
		StartTime:    startTime,
	})

	if cfg.AuthToken() != "" {
		logger.Info("bearer auth enabled", "token", logging.SanitizeToken(cfg.AuthToken()))
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- apiServer.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}
