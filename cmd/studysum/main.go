package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"studysum/internal/ai"
	"studysum/internal/ai/deepseek"
	"studysum/internal/ai/mock"
	appcfg "studysum/internal/config"
	"studysum/internal/jobs"
	"studysum/internal/processor"
	"studysum/internal/server"
	"studysum/internal/storage"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	// Load config
	cfg, err := appcfg.Load("")
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	// Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)

	// Store (SQLite)
	store, err := jobs.NewSQLiteStore(cfg.Server.DatabasePath)
	if err != nil {
		logger.Error("sqlite open", "err", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	// Jobs left in processing by a previous run can never finish.
	if n, err := store.FailStaleProcessing("processing interrupted by server restart"); err != nil {
		logger.Error("reconcile stale jobs", "err", err)
		os.Exit(1)
	} else if n > 0 {
		logger.Warn("failed stale jobs from previous run", "count", n)
	}

	// File storage
	files, err := storage.New(logger, cfg.Server.StorageDir)
	if err != nil {
		logger.Error("init storage", "err", err)
		os.Exit(1)
	}

	// AI client
	var aiClient ai.Client
	switch strings.ToLower(strings.TrimSpace(cfg.AI.Provider)) {
	case "mock":
		aiClient = mock.New(cfg.AI.Mock.Delay, cfg.AI.Mock.Prefix)
	case "deepseek":
		aiClient = deepseek.New(logger, cfg.AI.DeepSeek)
	default:
		logger.Error("unsupported ai provider", "provider", cfg.AI.Provider)
		os.Exit(1)
	}

	// Worker and queue
	worker := processor.New(logger, cfg, store, aiClient, files)
	queue := jobs.NewQueue(logger, cfg.Server.QueueCapacity, cfg.Server.WorkerCount)
	rootCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := queue.Start(rootCtx, worker); err != nil {
		logger.Error("start queue", "err", err)
		os.Exit(1)
	}

	// HTTP server
	svc := &server.Service{
		Log:      logger,
		Cfg:      cfg,
		Store:    store,
		Queue:    queue,
		Uploader: files,
		AI:       aiClient,
	}
	httpSrv := server.NewHTTPServer(svc)

	// Run server in background
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", "address", cfg.Server.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err.Error() != "http: Server closed" {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error
	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", "err", err)
		}
	}

	// Graceful shutdown
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancelShutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
	// Stop workers
	queue.Shutdown(cfg.Server.ShutdownGrace)
	logger.Info("server stopped")
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
