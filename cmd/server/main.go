package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/dslovacek55-hash/Reality/config"
	"github.com/dslovacek55-hash/Reality/internal/api"
	"github.com/dslovacek55-hash/Reality/internal/benchmarks"
	"github.com/dslovacek55-hash/Reality/internal/database"
	"github.com/dslovacek55-hash/Reality/internal/events"
	"github.com/dslovacek55-hash/Reality/internal/geo"
	"github.com/dslovacek55-hash/Reality/internal/ingest"
	"github.com/dslovacek55-hash/Reality/internal/notify"
	"github.com/dslovacek55-hash/Reality/internal/processor"
	"github.com/dslovacek55-hash/Reality/internal/queue"
	"github.com/dslovacek55-hash/Reality/internal/scheduler"
	"github.com/dslovacek55-hash/Reality/internal/stats"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		logger.WithError(err).Fatal("Failed to create database directory")
	}
	logger.Infof("Using database at: %s", cfg.DatabasePath)

	db, err := database.NewDatabase(cfg.DatabasePath, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database")
	}
	defer db.Close()

	attributor := geo.NewAttributor(logger)
	if _, err := attributor.LoadBoundaries(cfg.KuBoundariesPath); err != nil {
		logger.WithError(err).Warn("Cadastral boundaries unavailable, attribution disabled")
		attributor = nil
	}

	publisher, err := events.NewPublisher(cfg.RedisURL, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer publisher.Close()

	notifyWorker, err := notify.NewWorker(cfg.RedisURL, notify.NewService(db, logger), db, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	notifyWorker.Start()

	resolver := ingest.NewResolver(db, attributor, publisher, ingest.ResolverConfig{
		ScoreThreshold:      cfg.Dedup.ScoreThreshold,
		MaxDistanceMeters:   cfg.Dedup.MaxDistanceMeters,
		CandidateWindowDays: cfg.Dedup.CandidateWindowDays,
	}, logger)
	runTracker := ingest.NewRunTracker(db, cfg.Staleness.MissedRunThreshold, logger)

	listingQueue := queue.NewListingQueue(cfg.BatchProcessing.QueueSize, logger)
	batchProcessor := processor.NewBatchProcessor(resolver, runTracker, listingQueue, cfg, logger)
	batchProcessor.Start()

	aggregator := stats.NewAggregator(db, stats.AggregatorConfig{
		MinSamples:  cfg.Stats.MinSamples,
		StalePolicy: cfg.Stats.StalePolicy,
		PriceM2Min:  cfg.Stats.PriceM2Min,
		PriceM2Max:  cfg.Stats.PriceM2Max,
	}, logger)

	sweeps := scheduler.NewScheduler(aggregator, resolver, cfg.Stats.CronSpec, logger)
	if err := sweeps.Start(); err != nil {
		logger.WithError(err).Fatal("Failed to start scheduler")
	}
	defer sweeps.Stop()

	reference := benchmarks.NewService(db, logger)

	router := gin.Default()
	router.Use(cors.Default())
	api.SetupRoutes(router, db, listingQueue, reference, sweeps)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Infof("Starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Forced server shutdown")
	}

	listingQueue.Close()
	batchProcessor.Stop()
	notifyWorker.Stop()
}
