package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"whatsapp-context-scheduler/pkg/config"
	"whatsapp-context-scheduler/pkg/metrics"
	"whatsapp-context-scheduler/pkg/pipeline"
	redisClient "whatsapp-context-scheduler/pkg/redis"
	"whatsapp-context-scheduler/pkg/scheduler"
	"whatsapp-context-scheduler/pkg/server"
)

func main() {
	// Load configuration; invalid tuning values are fatal at startup
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}

	// Setup logger
	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithField("instance_id", cfg.InstanceID).Info("Starting conversation scheduler")

	// Initialize metrics
	m := metrics.NewMetrics(prometheus.DefaultRegisterer)

	// Optional Redis context store; without REDIS_URL all state is in-memory
	var store scheduler.ContextStore
	if cfg.RedisURL != "" {
		redisConfig := redisClient.DefaultConnectionConfig()
		redisConfig.URL = cfg.RedisURL

		client, err := redisClient.NewClient(redisConfig, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer client.Close()

		store = redisClient.NewContextStore(client, cfg.ActivityEvictAge(), logger, m)
	} else {
		logger.Info("No REDIS_URL configured, context state is in-memory only")
	}

	// Pipeline execution collaborator
	var pipe scheduler.Pipeline
	if cfg.PipelineURL != "" {
		pipe = pipeline.NewForwarder(cfg.PipelineURL, logger)
	} else {
		pipe = pipeline.NewLogOnly(logger)
	}

	// Assemble the scheduler and its HTTP surface
	sched := scheduler.NewScheduler(cfg, logger, m, pipe, store)
	httpServer := server.NewHTTPServer(cfg, sched, logger)
	service := scheduler.NewService(cfg, logger, sched, httpServer)

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start service
	if err := service.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start service")
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	logger.Info("Received shutdown signal")

	// Graceful shutdown; pending debounce buffers are discarded
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := service.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("Error during service shutdown")
	}

	logger.Info("Scheduler shutdown complete")
}
