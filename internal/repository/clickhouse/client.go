package clickhouse

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/BarkinBalci/lead-analytics-service/internal/config"
	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const (
	dialTimeout = 5 * time.Second
	// replay pages scan wide time ranges
	maxExecutionTime = 120
)

// Client wraps the ClickHouse connection holding the raw event log
type Client struct {
	connection driver.Conn
	log        *zap.Logger
}

// options maps the service config onto driver options
func options(cfg *config.ClickHouse) *clickhouse.Options {
	var tlsConfig *tls.Config
	if cfg.UseTLS {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return &clickhouse.Options{
		Addr: []string{net.JoinHostPort(cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": maxExecutionTime,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{
				{Name: "lead-analytics-service", Version: "1"},
			},
		},
		TLS:              tlsConfig,
		DialTimeout:      dialTimeout,
		MaxOpenConns:     cfg.MaxOpenConns,
		MaxIdleConns:     cfg.MaxIdleConns,
		ConnMaxLifetime:  time.Duration(cfg.ConnMaxLifetime) * time.Second,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
		BlockBufferSize:  10,
	}
}

// NewClient opens and pings a ClickHouse connection
func NewClient(ctx context.Context, cfg *config.ClickHouse, log *zap.Logger) (*Client, error) {
	opts := options(cfg)

	log.Info("Connecting to ClickHouse",
		zap.Strings("addr", opts.Addr),
		zap.String("database", cfg.Database),
		zap.Bool("useTLS", cfg.UseTLS))

	connection, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := connection.Ping(ctx); err != nil {
		_ = connection.Close()
		var exception *clickhouse.Exception
		if errors.As(err, &exception) {
			return nil, fmt.Errorf("ClickHouse rejected ping [%d] %s: %w", exception.Code, exception.Message, err)
		}
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	log.Info("ClickHouse connection established")
	return &Client{connection: connection, log: log}, nil
}

// Conn returns the underlying ClickHouse connection
func (c *Client) Conn() driver.Conn {
	return c.connection
}

// Close closes the ClickHouse connection
func (c *Client) Close() error {
	if err := c.connection.Close(); err != nil {
		return fmt.Errorf("failed to close ClickHouse connection: %w", err)
	}
	c.log.Info("ClickHouse connection closed")
	return nil
}
