package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"

	"github.com/BarkinBalci/lead-analytics-service/internal/config"
)

const pingTimeout = 5 * time.Second

// NewClient opens the Postgres pool and verifies it with a ping
func NewClient(ctx context.Context, cfg *config.Postgres, log *zap.Logger) (*sqlx.DB, error) {
	log.Info("Connecting to Postgres",
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns))

	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open Postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		log.Error("Failed to ping Postgres", zap.Error(err))
		return nil, fmt.Errorf("failed to ping Postgres: %w", err)
	}

	log.Info("Postgres connection established successfully")
	return db, nil
}

// InitSchema creates the lead, rollup and snapshot tables if they don't exist
func InitSchema(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS leads (
		id UUID PRIMARY KEY,
		context_type TEXT NOT NULL,
		context_id TEXT,
		seeker_id TEXT NOT NULL,
		lister_id TEXT NOT NULL,
		lister_type TEXT NOT NULL DEFAULT '',
		lead_actions JSONB NOT NULL DEFAULT '[]',
		total_actions INT NOT NULL DEFAULT 0,
		lead_score INT NOT NULL DEFAULT 0,
		first_action_date TIMESTAMPTZ NOT NULL,
		last_action_date TIMESTAMPTZ NOT NULL,
		last_action_type TEXT NOT NULL,
		is_anonymous BOOLEAN NOT NULL DEFAULT FALSE,
		status TEXT NOT NULL DEFAULT 'new',
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS leads_dedup_key
		ON leads (context_type, COALESCE(context_id, ''), seeker_id)`,
	`CREATE INDEX IF NOT EXISTS leads_lister ON leads (lister_id)`,
	rollupTable("listings"),
	rollupTable("developments"),
	rollupTable("lister_profiles"),
	rollupTable("lister_aggregates"),
	`CREATE TABLE IF NOT EXISTS analytics_snapshots (
		subject_type TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		day DATE NOT NULL,
		hour SMALLINT NOT NULL,
		metric TEXT NOT NULL,
		value BIGINT NOT NULL DEFAULT 0,
		version BIGINT NOT NULL DEFAULT 1,
		PRIMARY KEY (subject_type, subject_id, day, hour, metric)
	)`,
	`CREATE INDEX IF NOT EXISTS analytics_snapshots_day ON analytics_snapshots (day)`,
}

func rollupTable(name string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		total_leads BIGINT NOT NULL DEFAULT 0,
		unique_leads BIGINT NOT NULL DEFAULT 0,
		anonymous_leads BIGINT NOT NULL DEFAULT 0,
		leads_phone BIGINT NOT NULL DEFAULT 0,
		leads_message BIGINT NOT NULL DEFAULT 0,
		leads_appointment BIGINT NOT NULL DEFAULT 0,
		leads_message_whatsapp BIGINT NOT NULL DEFAULT 0,
		leads_message_direct_message BIGINT NOT NULL DEFAULT 0,
		leads_message_email BIGINT NOT NULL DEFAULT 0,
		rollup_version BIGINT NOT NULL DEFAULT 0
	)`, name)
}
