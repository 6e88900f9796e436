package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"election_engine/pkg/app"
	"election_engine/pkg/config"
	"election_engine/pkg/utils"
)

var (
	configFile = flag.String("config", "config.yaml", "Path to configuration file")
	debug      = flag.Bool("debug", false, "Enable debug mode")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *debug {
		cfg.Log.Debug = true
		cfg.Log.Level = "debug"
	}

	logger, err := utils.NewLogger(&cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	application := app.New(cfg, logger)

	initCtx, initCancel := context.WithTimeout(ctx, cfg.Database.Timeout+cfg.Ledger.CallTimeout)
	err = application.Start(initCtx)
	initCancel()
	if err != nil {
		logger.Error("Failed to start application", zap.Error(err))
		_ = application.Stop(context.Background())
		os.Exit(1)
	}

	logger.Info("Election engine running",
		zap.String("environment", cfg.Environment),
		zap.Duration("phaseInterval", cfg.Scheduler.PhaseInterval),
		zap.Duration("auditInterval", cfg.Scheduler.AuditInterval))

	setupGracefulShutdown(ctx, cancel, application, logger)

	<-ctx.Done()
}

func setupGracefulShutdown(ctx context.Context, cancel context.CancelFunc, application *app.App, logger *zap.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		case <-ctx.Done():
			logger.Info("Context cancelled")
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		st := application.Status(shutdownCtx)
		for name, stats := range st.Schedulers {
			logger.Info("Scheduler summary",
				zap.String("scheduler", name),
				zap.Int64("completed", stats.TasksCompleted),
				zap.Int64("failed", stats.TasksFailed),
				zap.Int64("skipped", stats.TasksSkipped),
				zap.Duration("averageLatency", stats.AverageLatency))
		}

		if err := application.Stop(shutdownCtx); err != nil {
			logger.Error("Error during shutdown", zap.Error(err))
		}

		cancel()
	}()
}
