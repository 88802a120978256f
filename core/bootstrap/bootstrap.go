// Package bootstrap composes the application: config document, gifting API
// client, history backend, conversation engine, and the operator bot.
package bootstrap

import (
	"fmt"
	"time"

	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/kelseyhightower/envconfig"

	coreconfig "github.com/scwee/autogift/core/config"
	"github.com/scwee/autogift/core/database"
	"github.com/scwee/autogift/core/engine"
	"github.com/scwee/autogift/core/funpay"
	"github.com/scwee/autogift/core/gifts"
	"github.com/scwee/autogift/core/httpclient"
	"github.com/scwee/autogift/core/ledger"
	"github.com/scwee/autogift/core/logger"
	"github.com/scwee/autogift/core/session"
	"github.com/scwee/autogift/core/store"
	"github.com/scwee/autogift/core/telegram"
)

// App holds the composed application components.
type App struct {
	Config   *coreconfig.Config
	Store    *store.Store
	Client   *gifts.Client
	Ledger   ledger.Ledger
	Sessions *session.Store
	Engine   *engine.Engine
	Bot      *telegram.Bot

	db *sqlx.DB
}

// Build wires every component. The marketplace connector is injected by the
// caller because its transport is deployment-specific.
func Build(cfg *coreconfig.Config, connector funpay.Connector) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: nil config")
	}
	if connector == nil {
		return nil, fmt.Errorf("bootstrap: nil connector")
	}
	if err := logger.InitLogger(cfg); err != nil {
		return nil, fmt.Errorf("bootstrap: logger init: %w", err)
	}

	st, err := store.Open(cfg.Fulfillment.DocumentPath)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open document: %w", err)
	}

	client := gifts.NewClient(gifts.Config{
		BaseURL:     cfg.Gifts.BaseURL,
		Credentials: resolveCredentials(cfg, st),
		HTTPClient: httpclient.New(httpclient.Options{
			Timeout:       time.Duration(cfg.Gifts.DispatchTimeoutSeconds) * time.Second,
			RetryAttempts: 3,
			Backoff:       2 * time.Second,
		}),
		AuthTimeout:     time.Duration(cfg.Gifts.AuthTimeoutSeconds) * time.Second,
		BalanceTimeout:  time.Duration(cfg.Gifts.BalanceTimeoutSeconds) * time.Second,
		DispatchTimeout: time.Duration(cfg.Gifts.DispatchTimeoutSeconds) * time.Second,
	})

	led, db, err := buildLedger(cfg, st)
	if err != nil {
		return nil, err
	}

	sessions := session.NewStore()
	eng := engine.New(engine.Options{
		Connector:  connector,
		Dispatcher: client,
		Sessions:   sessions,
		Config:     st,
		Ledger:     led,
		SessionTTL: cfg.Fulfillment.SessionTTL,
	})

	bot, err := telegram.New(telegram.Options{
		Token:           cfg.Telegram.Token,
		AdminID:         cfg.Telegram.AdminID,
		LongPollTimeout: time.Duration(cfg.Telegram.LongPollTimeoutSeconds) * time.Second,
		Store:           st,
		Ledger:          led,
		Balance:         client,
	})
	if err != nil {
		if db != nil {
			_ = db.Close()
		}
		return nil, err
	}

	logger.Info(logger.Background(), "app", "ready",
		slog.String("history_backend", cfg.Fulfillment.HistoryBackend),
		slog.Int("count", len(st.Mapping())),
	)
	return &App{
		Config:   cfg,
		Store:    st,
		Client:   client,
		Ledger:   led,
		Sessions: sessions,
		Engine:   eng,
		Bot:      bot,
		db:       db,
	}, nil
}

// resolveCredentials prefers service config over the operator document so a
// deployment env var can rotate credentials without editing the document.
func resolveCredentials(cfg *coreconfig.Config, st *store.Store) gifts.Credentials {
	creds := st.Credentials()
	if cfg.Gifts.Login != "" {
		creds.Login = cfg.Gifts.Login
	}
	if cfg.Gifts.Password != "" {
		creds.Password = cfg.Gifts.Password
	}
	return creds
}

// buildLedger selects the history backend. The Postgres backend reads its
// connection settings from DB_* environment variables and applies pending
// migrations before use.
func buildLedger(cfg *coreconfig.Config, st *store.Store) (ledger.Ledger, *sqlx.DB, error) {
	if cfg.Fulfillment.HistoryBackend != coreconfig.HistoryPostgres {
		return ledger.NewDocumentLedger(st), nil, nil
	}

	var dbCfg database.Config
	if err := envconfig.Process("", &dbCfg); err != nil {
		return nil, nil, fmt.Errorf("bootstrap: database env: %w", err)
	}
	if err := database.RunMigrations(dbCfg); err != nil {
		return nil, nil, fmt.Errorf("bootstrap: %w", err)
	}
	db, err := database.Connect(dbCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap: %w", err)
	}
	return ledger.NewPostgresLedger(db), db, nil
}

// Close flushes the operator document and releases the database handle
// before discarding in-flight buyer conversations, logging how many were
// dropped.
func (a *App) Close() error {
	var firstErr error
	if err := a.Store.Save(); err != nil {
		firstErr = err
		logger.Error(logger.Background(), "app", "shutdown",
			slog.String("err", err.Error()),
		)
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if dropped := a.Sessions.Clear(); dropped > 0 {
		logger.Warn(logger.Background(), "app", "shutdown",
			slog.Int("count", dropped),
			slog.String("cause", "sessions dropped"),
		)
	}
	return firstErr
}
