package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	v1 "carbon-scribe/ghg-reporting/api/v1"
	"carbon-scribe/ghg-reporting/internal/config"
)

// The workers binary runs retry redelivery and scheduled reports apart from
// the API server, which is then started with -workers=false.
func main() {
	configPath := flag.String("config", "config.json", "path to the JSON config file")
	drainOnce := flag.Bool("drain-once", false, "redeliver due retry entries once and exit")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := cfg.Logging.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if !cfg.Database.UseDatabase() {
		logger.Warn("No database configured; the retry queue is in-memory and starts empty")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	api, err := v1.Setup(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to set up workers", zap.Error(err))
	}
	defer api.Close()

	if *drainOnce {
		stats, err := api.Retries.Drain(ctx)
		if err != nil {
			logger.Fatal("Retry drain failed", zap.Error(err))
		}
		logger.Info("Retry drain complete",
			zap.Int("attempted", stats.Attempted),
			zap.Int("succeeded", stats.Succeeded),
			zap.Int("failed", stats.Failed),
			zap.Int("dead", stats.Dead))
		return
	}

	if err := api.StartWorkers(); err != nil {
		logger.Fatal("Failed to start workers", zap.Error(err))
	}
	logger.Info("Workers started", zap.Int("schedules", api.Schedules.GetActiveJobs()))

	<-ctx.Done()
	logger.Info("Shutdown signal received")
	api.StopWorkers()
	logger.Info("Workers stopped")
}
