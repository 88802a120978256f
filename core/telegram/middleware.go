package telegram

import (
	"runtime/debug"

	"log/slog"

	tele "gopkg.in/telebot.v4"

	"github.com/scwee/autogift/core/logger"
)

// recoverMiddleware keeps a panicking handler from taking down the poller.
func recoverMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		defer func() {
			if r := recover(); r != nil {
				logger.Error(logger.Background(), "tg", "tg.panic",
					slog.Any("err", r),
					slog.String("stack", string(debug.Stack())),
				)
			}
		}()
		return next(c)
	}
}

// adminOnly drops every update not sent by the configured operator.
// A zero admin id locks the bot entirely rather than opening it up.
func adminOnly(adminID int64) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			sender := c.Sender()
			if sender == nil || sender.ID != adminID {
				return nil
			}
			return next(c)
		}
	}
}
