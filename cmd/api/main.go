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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/BarkinBalci/lead-analytics-service/internal/config"
	"github.com/BarkinBalci/lead-analytics-service/internal/counter"
	"github.com/BarkinBalci/lead-analytics-service/internal/effects"
	"github.com/BarkinBalci/lead-analytics-service/internal/handler"
	"github.com/BarkinBalci/lead-analytics-service/internal/lead"
	"github.com/BarkinBalci/lead-analytics-service/internal/logger"
	"github.com/BarkinBalci/lead-analytics-service/internal/metrics"
	"github.com/BarkinBalci/lead-analytics-service/internal/queue/sqs"
	"github.com/BarkinBalci/lead-analytics-service/internal/reconcile"
	"github.com/BarkinBalci/lead-analytics-service/internal/repository/clickhouse"
	"github.com/BarkinBalci/lead-analytics-service/internal/repository/postgres"
	"github.com/BarkinBalci/lead-analytics-service/internal/service"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	log, err := logger.New(cfg.Service.Environment, cfg.Service.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer func(log *zap.Logger) {
		_ = log.Sync()
	}(log)

	log.Info("Starting API service",
		zap.String("environment", cfg.Service.Environment),
		zap.String("port", cfg.Service.APIPort))

	ctx := context.Background()
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Initialize SQS client
	sqsClient, err := sqs.NewClient(ctx, cfg.SQS, log)
	if err != nil {
		log.Fatal("Failed to create SQS client", zap.Error(err))
	}

	// Initialize ClickHouse client, read side of the raw event log
	clickhouseClient, err := clickhouse.NewClient(ctx, &cfg.ClickHouse, log)
	if err != nil {
		log.Fatal("Failed to create ClickHouse client", zap.Error(err))
	}
	defer func(clickhouseClient *clickhouse.Client) {
		if err := clickhouseClient.Close(); err != nil {
			log.Error("Failed to close ClickHouse client", zap.Error(err))
		}
	}(clickhouseClient)
	events := clickhouse.NewRepository(clickhouseClient, log)

	// Initialize Postgres: leads, rollups and snapshots
	db, err := postgres.NewClient(ctx, &cfg.Postgres, log)
	if err != nil {
		log.Fatal("Failed to create Postgres client", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Failed to close Postgres client", zap.Error(err))
		}
	}()
	if err := postgres.InitSchema(ctx, db); err != nil {
		log.Fatal("Failed to initialize Postgres schema", zap.Error(err))
	}

	// Initialize counter store
	backend, closeBackend, err := counter.OpenBackend(cfg)
	if err != nil {
		log.Fatal("Failed to open counter backend", zap.Error(err))
	}
	defer func() {
		if err := closeBackend(); err != nil {
			log.Error("Failed to close counter backend", zap.Error(err))
		}
	}()
	store := counter.NewStore(backend, cfg.Counter.TTL, m, log)

	// Lead aggregation; rollups run in the background on the shared runner
	runner := effects.NewRunner(cfg.Consumer.EffectWorkers, m, log)
	aggregator := lead.NewAggregator(
		postgres.NewLeadRepository(db),
		postgres.NewRollupRepository(db),
		runner,
		lead.Config{
			MaxAttempts:  cfg.Lead.MaxWriteAttempts,
			LockStripes:  cfg.Lead.LockStripes,
			RetryBackoff: cfg.Lead.RetryBackoff,
		},
		m, logger.Component(log, "lead"))

	engine := reconcile.NewEngine(events, postgres.NewSnapshotRepository(db, log), reconcile.Config{
		PageSize:       cfg.Reconcile.PageSize,
		MaxPages:       cfg.Reconcile.MaxPages,
		PagesPerSecond: cfg.Reconcile.PagesPerSecond,
	}, m, log)

	// Initialize handler
	h := handler.NewHandler(handler.Services{
		Events:    service.NewEventService(sqsClient, log),
		Leads:     service.NewLeadService(aggregator, sqsClient, log),
		Counters:  service.NewCounterService(store, log),
		Reconcile: service.NewReconcileService(engine, log),
	}, reg, log)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Service.APIPort),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("API server starting", zap.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start API server", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down API service gracefully")
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", zap.Error(err))
	}
	// let background rollups finish before connections close
	runner.Wait()
}
