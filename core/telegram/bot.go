// Package telegram runs the operator bot: a small admin surface for stats,
// balance checks, refund policy, and the lot mapping.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	"log/slog"

	"github.com/shopspring/decimal"
	tele "gopkg.in/telebot.v4"

	"github.com/scwee/autogift/core/httpclient"
	"github.com/scwee/autogift/core/ledger"
	"github.com/scwee/autogift/core/logger"
	"github.com/scwee/autogift/core/store"
)

const defaultLongPollTimeout = 10 * time.Second

// BalanceFetcher reports the current gifting API balance.
type BalanceFetcher interface {
	GetBalance(ctx context.Context) (decimal.Decimal, error)
}

// Options wires the bot to its collaborators.
type Options struct {
	Token           string
	AdminID         int64
	LongPollTimeout time.Duration

	Store   *store.Store
	Ledger  ledger.Ledger
	Balance BalanceFetcher
}

// Bot is the operator-facing Telegram bot.
type Bot struct {
	bot  *tele.Bot
	opts Options
}

// New builds the bot with a long poller and the shared retrying HTTP client.
func New(opts Options) (*Bot, error) {
	timeout := opts.LongPollTimeout
	if timeout <= 0 {
		timeout = defaultLongPollTimeout
	}

	buildStart := time.Now()
	tb, err := tele.NewBot(tele.Settings{
		Token:  opts.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
		Client: httpclient.New(httpclient.Options{
			Timeout:       30 * time.Second,
			RetryAttempts: 3,
			Backoff:       2 * time.Second,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: bot init: %w", err)
	}

	b := &Bot{bot: tb, opts: opts}
	tb.Use(recoverMiddleware)
	tb.Use(adminOnly(opts.AdminID))
	tb.Handle("/gift_steam", b.handleCommand)

	logger.Info(logger.Background(), "tg", "mode",
		slog.String("mode", "polling"),
		slog.Int("timeout_seconds", int(timeout/time.Second)),
		slog.Duration("duration", logger.Took(buildStart)),
	)
	return b, nil
}

// Run polls for updates until ctx is done, then stops the bot.
func (b *Bot) Run(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.bot.Start()
		close(done)
	}()

	select {
	case <-ctx.Done():
		b.bot.Stop()
		<-done
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil
		}
		return ctx.Err()
	case <-done:
		return nil
	}
}
