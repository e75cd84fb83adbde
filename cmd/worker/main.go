package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"grabpic/pkg/di"
	"grabpic/pkg/logger"
)

func main() {
	// Initialize logger
	if err := logger.Init("logs", true); err != nil {
		fmt.Printf("Warning: Failed to initialize logger: %v\n", err)
	}
	logger.Startup("logger_init", "Logger initialized - logs will be written to ./logs/", nil)

	// Initialize DI container plus the worker-only pieces
	container := di.NewContainer()

	if err := container.Initialize(); err != nil {
		logger.StartupError("container_init_failed", "Failed to initialize container", err, nil)
		os.Exit(1)
	}

	if err := container.InitializeWorker(); err != nil {
		logger.StartupError("worker_init_failed", "Failed to start worker pipeline", err, nil)
		os.Exit(1)
	}

	cfg := container.GetConfig()
	logger.Startup("worker_ready", "Worker running", map[string]interface{}{
		"concurrency":           cfg.Worker.Concurrency,
		"poll_interval_seconds": cfg.Worker.PollIntervalSeconds,
		"auto_sync_enabled":     cfg.AutoSync.Enabled,
	})

	// Block until shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Startup("shutdown_started", "Gracefully shutting down", nil)
	if err := container.Cleanup(); err != nil {
		logger.StartupError("cleanup_failed", "Error during cleanup", err, nil)
	}
	logger.Startup("shutdown_complete", "Shutdown complete", nil)
}
