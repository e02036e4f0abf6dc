package db

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderdesk/pkg/config"
	pkgerrors "github.com/angelmondragon/orderdesk/pkg/errors"
	"github.com/angelmondragon/orderdesk/pkg/logger"
)

// Pinger is the readiness probe surface shared by every backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Client owns the pooled GORM connection used by the api and the workers.
type Client struct {
	conn      *gorm.DB
	dsn       string
	txRetries int
}

func New(ctx context.Context, cfg config.DBConfig, logg *logger.Logger) (*Client, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database DSN is required")
	}

	conn, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  cfg.DSN,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		Logger:                 newQueryLogger(logg, cfg.SlowQueryThreshold),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening db connection: %w", err)
	}

	pool, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql db handle: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		pool.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		pool.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		pool.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		pool.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"max_open_conns": cfg.MaxOpenConns,
			"tx_retries":     cfg.TxRetries,
		}), "database connection established")
	}
	return &Client{conn: conn, dsn: cfg.DSN, txRetries: max(cfg.TxRetries, 0)}, nil
}

// Wrap adopts an already-open connection, typically an in-memory sqlite
// database in tests.
func Wrap(conn *gorm.DB) *Client {
	return &Client{conn: conn}
}

// WithTxRetries returns a copy of c that re-runs transactions failing with a
// serialization or deadlock error up to n more times.
func (c *Client) WithTxRetries(n int) *Client {
	clone := *c
	clone.txRetries = max(n, 0)
	return &clone
}

func (c *Client) DB() *gorm.DB {
	return c.conn
}

// DSN is handed to the change feed listener, which holds its own connection.
func (c *Client) DSN() string {
	return c.dsn
}

func (c *Client) Ping(ctx context.Context) error {
	pool, err := c.conn.DB()
	if err != nil {
		return err
	}
	return pool.PingContext(ctx)
}

func (c *Client) Close() error {
	pool, err := c.conn.DB()
	if err != nil {
		return err
	}
	return pool.Close()
}

// WithTx runs fn in a transaction. fn must be safe to re-run: when postgres
// aborts the transaction with a serialization failure or deadlock the whole
// closure is retried. Panics roll back and propagate.
func (c *Client) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = c.conn.WithContext(ctx).Transaction(fn)
		if err == nil || attempt >= c.txRetries || !isTxConflict(err) || ctx.Err() != nil {
			return err
		}
	}
}

// isTxConflict matches SQLSTATE class 40, transaction rollback.
func isTxConflict(err error) bool {
	diag, ok := pkgerrors.Postgres(err)
	return ok && diag.Class() == "40"
}
