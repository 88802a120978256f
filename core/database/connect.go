package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/scwee/autogift/core/logger"
)

const connectTimeout = 5 * time.Second

// Connect opens the order-history database, configures the pool, and
// verifies connectivity before the ledger takes ownership of it.
func Connect(cfg Config) (*sqlx.DB, error) {
	cfg.Normalize()

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	attrs := func(extra ...slog.Attr) []slog.Attr {
		base := []slog.Attr{
			slog.String("driver", "postgres"),
			slog.String("host", cfg.Host),
			slog.String("port", cfg.Port),
			slog.String("db", cfg.Name),
		}
		return append(base, extra...)
	}

	start := time.Now()
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN())
	if err != nil {
		logger.Error(ctx, "db", "db.connect", attrs(
			slog.Duration("duration", logger.Took(start)),
			slog.String("err", err.Error()),
		)...)
		return nil, fmt.Errorf("db connect: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxConnections)

	logger.Info(ctx, "db", "db.connect", attrs(
		slog.Int("pool_open", cfg.MaxConnections),
		slog.Duration("duration", logger.Took(start)),
	)...)
	return db, nil
}

// WaitReady polls the database until it accepts connections or the timeout
// elapses. Used before migrations on fresh deployments where Postgres may
// still be starting.
func WaitReady(dsn string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for {
		lastErr = tryPing(dsn)
		if lastErr == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for database: %w", lastErr)
		}
		time.Sleep(2 * time.Second)
	}
}

func tryPing(dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Ping()
}
