package main

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BarkinBalci/lead-analytics-service/internal/config"
	"github.com/BarkinBalci/lead-analytics-service/internal/logger"
	"github.com/BarkinBalci/lead-analytics-service/internal/metrics"
	"github.com/BarkinBalci/lead-analytics-service/internal/reconcile"
	"github.com/BarkinBalci/lead-analytics-service/internal/repository/clickhouse"
	"github.com/BarkinBalci/lead-analytics-service/internal/repository/postgres"
)

func main() {
	root := &cobra.Command{
		Use:   "reconciler",
		Short: "Replay raw events against stored aggregates",
		Long: `The reconciler replays the raw event log for a subject and compares the
result with the stored per-day snapshots. Corrections are written only when
requested.`,
		SilenceUsage: true,
	}
	root.AddCommand(newRunCmd(), newAllCmd(), newScheduleCmd())

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app holds the wired reconciliation components
type app struct {
	cfg       *config.Config
	log       *zap.Logger
	engine    *reconcile.Engine
	corrector *reconcile.Corrector
	auditor   *reconcile.LeadRollupAuditor
	scheduler *reconcile.Scheduler
	closers   []func() error
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Error("Failed to close resource", zap.Error(err))
		}
	}
	_ = a.log.Sync()
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.Service.Environment, cfg.Service.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	a := &app{cfg: cfg, log: log}

	m := metrics.New(prometheus.NewRegistry())

	chClient, err := clickhouse.NewClient(ctx, &cfg.ClickHouse, log)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to create ClickHouse client: %w", err)
	}
	a.closers = append(a.closers, chClient.Close)
	events := clickhouse.NewRepository(chClient, log)

	db, err := postgres.NewClient(ctx, &cfg.Postgres, log)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to create Postgres client: %w", err)
	}
	a.closers = append(a.closers, db.Close)
	if err := postgres.InitSchema(ctx, db); err != nil {
		a.close()
		return nil, fmt.Errorf("failed to initialize Postgres schema: %w", err)
	}

	snapshots := postgres.NewSnapshotRepository(db, log)
	rlog := logger.Component(log, "reconciler")
	a.engine = reconcile.NewEngine(events, snapshots, reconcile.Config{
		PageSize:       cfg.Reconcile.PageSize,
		MaxPages:       cfg.Reconcile.MaxPages,
		PagesPerSecond: cfg.Reconcile.PagesPerSecond,
	}, m, rlog)
	a.corrector = reconcile.NewCorrector(snapshots, m, rlog)
	a.auditor = reconcile.NewLeadRollupAuditor(
		postgres.NewLeadRepository(db),
		postgres.NewRollupRepository(db),
		m, rlog)
	a.scheduler = reconcile.NewScheduler(a.engine, a.corrector, a.auditor, snapshots, reconcile.SchedulerConfig{
		WindowDays:  cfg.Reconcile.WindowDays,
		MaxAttempts: cfg.Reconcile.MaxAttempts,
		ApplyFixes:  cfg.Reconcile.ApplyFixes,
	}, m, rlog)

	return a, nil
}
