package telegram

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"log/slog"

	tele "gopkg.in/telebot.v4"

	"github.com/scwee/autogift/core/ledger"
	"github.com/scwee/autogift/core/logger"
	"github.com/scwee/autogift/core/store"
)

const commandTimeout = 10 * time.Second

const usageText = "Команды:\n" +
	"/gift_steam stats — статистика заказов\n" +
	"/gift_steam balance — баланс API\n" +
	"/gift_steam refunds on|off — авто-возвраты\n" +
	"/gift_steam lots — настроенные лоты"

func (b *Bot) handleCommand(c tele.Context) error {
	args := c.Args()
	if len(args) == 0 {
		return c.Send(usageText)
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	ctx = logger.WithHandler(ctx, "gift_steam."+args[0])

	start := time.Now()
	err := b.runCommand(ctx, c, args)
	logger.Info(ctx, "tg", "command",
		slog.String("status", logger.Status(err)),
		slog.Duration("duration", logger.Took(start)),
	)
	return err
}

func (b *Bot) runCommand(ctx context.Context, c tele.Context, args []string) error {
	switch args[0] {
	case "stats":
		return b.replyStats(ctx, c)
	case "balance":
		return b.replyBalance(ctx, c)
	case "refunds":
		return b.replyRefunds(ctx, c, args[1:])
	case "lots":
		return c.Send(formatLots(b.opts.Store.Mapping()))
	default:
		return c.Send(usageText)
	}
}

func (b *Bot) replyStats(ctx context.Context, c tele.Context) error {
	agg, err := b.opts.Ledger.Aggregate(ctx, 5)
	if err != nil {
		logger.Error(ctx, "tg", "stats",
			slog.String("err", err.Error()),
		)
		return c.Send("Не удалось получить статистику: " + err.Error())
	}
	return c.Send(formatStats(agg))
}

func (b *Bot) replyBalance(ctx context.Context, c tele.Context) error {
	bal, err := b.opts.Balance.GetBalance(ctx)
	if err != nil {
		logger.Error(ctx, "tg", "balance",
			slog.String("err", err.Error()),
		)
		return c.Send("Не удалось получить баланс: " + err.Error())
	}
	logger.Info(ctx, "tg", "balance",
		slog.String("balance", bal.String()),
	)
	return c.Send("Баланс: " + bal.String())
}

func (b *Bot) replyRefunds(ctx context.Context, c tele.Context, args []string) error {
	if len(args) != 1 {
		return c.Send("Использование: /gift_steam refunds on|off")
	}
	enabled, ok := parseToggle(args[0])
	if !ok {
		return c.Send("Использование: /gift_steam refunds on|off")
	}
	if err := b.opts.Store.SetAutoRefunds(enabled); err != nil {
		logger.Error(ctx, "tg", "refunds",
			slog.String("err", err.Error()),
		)
		return c.Send("Не удалось сохранить настройку: " + err.Error())
	}
	logger.Info(ctx, "tg", "refunds",
		slog.Bool("enabled", enabled),
	)
	if enabled {
		return c.Send("Авто-возвраты включены")
	}
	return c.Send("Авто-возвраты выключены")
}

func parseToggle(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "on":
		return true, true
	case "off":
		return false, true
	}
	return false, false
}

func formatStats(agg ledger.Aggregate) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 Заказов: %d\n💰 Выручка: %s", agg.Orders, agg.Revenue.String())
	if len(agg.TopGames) > 0 {
		sb.WriteString("\n\n🏆 Топ игр:")
		for i, g := range agg.TopGames {
			fmt.Fprintf(&sb, "\n%d. %s — %d", i+1, g.Name, g.Count)
		}
	}
	return sb.String()
}

func formatLots(mapping map[int64]store.Product) string {
	if len(mapping) == 0 {
		return "Лоты не настроены"
	}
	ids := make([]int64, 0, len(mapping))
	for id := range mapping {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var sb strings.Builder
	sb.WriteString("Лоты:")
	for _, id := range ids {
		p := mapping[id]
		fmt.Fprintf(&sb, "\n%d — %s (%s)", id, p.Name, p.Region)
	}
	return sb.String()
}
