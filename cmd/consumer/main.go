package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BarkinBalci/lead-analytics-service/internal/config"
	"github.com/BarkinBalci/lead-analytics-service/internal/consumer"
	"github.com/BarkinBalci/lead-analytics-service/internal/counter"
	"github.com/BarkinBalci/lead-analytics-service/internal/effects"
	"github.com/BarkinBalci/lead-analytics-service/internal/logger"
	"github.com/BarkinBalci/lead-analytics-service/internal/metrics"
	"github.com/BarkinBalci/lead-analytics-service/internal/queue/sqs"
	"github.com/BarkinBalci/lead-analytics-service/internal/repository/clickhouse"
	"github.com/BarkinBalci/lead-analytics-service/internal/repository/postgres"
)

func main() {
	// Load configuration
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

	log.Info("Starting consumer service",
		zap.String("environment", cfg.Service.Environment),
		zap.String("counter_backend", cfg.Counter.Backend))

	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	// Initialize ClickHouse client
	chClient, err := clickhouse.NewClient(ctx, &cfg.ClickHouse, log)
	if err != nil {
		log.Fatal("Failed to create ClickHouse client", zap.Error(err))
	}
	defer func() {
		if err := chClient.Close(); err != nil {
			log.Error("Failed to close ClickHouse client", zap.Error(err))
		}
	}()

	repo := clickhouse.NewRepository(chClient, log)

	// Initialize schema (create tables if not exist)
	if err := repo.InitSchema(ctx); err != nil {
		log.Fatal("Failed to initialize schema", zap.Error(err))
	}
	log.Info("Database schema initialized")

	// Initialize Postgres for aggregate snapshots
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

	processor := consumer.NewProcessor(
		store,
		postgres.NewSnapshotRepository(db, log),
		effects.NewRunner(cfg.Consumer.EffectWorkers, m, log),
		m, logger.Component(log, "processor"))

	// Initialize SQS client
	sqsClient, err := sqs.NewClient(ctx, cfg.SQS, log)
	if err != nil {
		log.Fatal("Failed to create SQS client", zap.Error(err))
	}

	c := consumer.NewConsumer(cfg, sqsClient, repo, processor, m, log)

	// Health and metrics endpoint
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := repo.Ping(r.Context()); err != nil {
			log.Warn("Health check failed", zap.Error(err))
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if err := db.PingContext(r.Context()); err != nil {
			log.Warn("Health check failed", zap.Error(err))
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	go func() {
		addr := ":" + cfg.Consumer.HealthCheckPort
		log.Info("Health check server starting", zap.String("address", addr))
		server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		if err := server.ListenAndServe(); err != nil {
			log.Error("Health check server error", zap.Error(err))
		}
	}()

	// Start consumer
	consumerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	log.Info("Consumer starting")

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := c.Start(consumerCtx); err != nil {
			log.Error("Consumer error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down consumer gracefully")
	cancel()
	<-done
}
