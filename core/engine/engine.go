// Package engine drives the buyer conversation for each paid order: collect
// a delivery target, confirm it, dispatch the gift, and settle the outcome.
package engine

import (
	"context"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/scwee/autogift/core/funpay"
	"github.com/scwee/autogift/core/gifts"
	"github.com/scwee/autogift/core/ledger"
	"github.com/scwee/autogift/core/logger"
	"github.com/scwee/autogift/core/session"
	"github.com/scwee/autogift/core/store"
)

// Dispatcher places gift orders against the remote API.
type Dispatcher interface {
	SendGift(ctx context.Context, req gifts.FulfillmentRequest) (*gifts.DispatchResult, error)
}

var affirmative = map[string]struct{}{
	"+": {}, "да": {}, "yes": {}, "confirm": {},
}

var negative = map[string]struct{}{
	"-": {}, "нет": {}, "no": {}, "cancel": {},
}

// Engine is the per-order conversation state machine.
type Engine struct {
	connector  funpay.Connector
	dispatcher Dispatcher
	sessions   *session.Store
	cfg        *store.Store
	ledger     ledger.Ledger

	sessionTTL time.Duration
	now        func() time.Time
}

// Options wire the engine's collaborators.
type Options struct {
	Connector  funpay.Connector
	Dispatcher Dispatcher
	Sessions   *session.Store
	Config     *store.Store
	Ledger     ledger.Ledger
	SessionTTL time.Duration
}

// New constructs an Engine.
func New(opts Options) *Engine {
	return &Engine{
		connector:  opts.Connector,
		dispatcher: opts.Dispatcher,
		sessions:   opts.Sessions,
		cfg:        opts.Config,
		ledger:     opts.Ledger,
		sessionTTL: opts.SessionTTL,
		now:        time.Now,
	}
}

// Sessions exposes the session store for shutdown accounting.
func (e *Engine) Sessions() *session.Store {
	return e.sessions
}

// HandleNewOrder reacts to a paid order. Orders for unmapped lots are
// ignored; a duplicate order id never overwrites in-flight buyer state.
func (e *Engine) HandleNewOrder(ctx context.Context, ev funpay.NewOrderEvent) {
	product, ok := e.cfg.Product(ev.LotID)
	if !ok {
		logger.Debug(ctx, "engine", "order.skip",
			slog.Int64("order_id", ev.OrderID),
			slog.Int64("lot_id", ev.LotID),
			slog.String("cause", "lot not configured"),
		)
		return
	}

	details, err := e.connector.GetOrder(ctx, ev.OrderID)
	if err != nil {
		logger.Error(ctx, "engine", "order.details",
			slog.Int64("order_id", ev.OrderID),
			slog.String("err", err.Error()),
		)
		return
	}
	if details.ChatID == 0 || details.BuyerID == 0 {
		logger.Error(ctx, "engine", "order.details",
			slog.Int64("order_id", ev.OrderID),
			slog.String("cause", "connector returned incomplete order"),
			slog.Int64("buyer_id", details.BuyerID),
			slog.Int64("chat_id", details.ChatID),
		)
		return
	}

	ctx = e.orderContext(ctx, ev.OrderID, details.BuyerID, details.ChatID)

	now := e.now()
	sess := &session.Session{
		OrderID:   ev.OrderID,
		BuyerID:   details.BuyerID,
		ChatID:    details.ChatID,
		GiftName:  product.Name,
		Region:    product.Region,
		Revenue:   details.Sum,
		Step:      session.StepAwaitLink,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if !e.sessions.Put(sess) {
		logger.Warn(ctx, "engine", "order.duplicate",
			slog.String("cause", "session already open for order"),
		)
		return
	}

	logger.Info(ctx, "engine", "session.open",
		slog.Int64("lot_id", ev.LotID),
		slog.String("game", product.Name),
		slog.String("region", string(product.Region)),
		slog.String("revenue", details.Sum.String()),
	)
	e.send(ctx, details.ChatID, e.cfg.Template(store.TplStart, nil))
}

// HandleNewMessage advances the conversation owned by the message author.
// Messages from buyers without an open session are ignored.
func (e *Engine) HandleNewMessage(ctx context.Context, ev funpay.NewMessageEvent) {
	text := strings.TrimSpace(logger.Sanitize(ev.Text))
	if text == "" || ev.AuthorID == 0 {
		return
	}

	sess, ok := e.sessions.ByBuyer(ev.AuthorID)
	if !ok {
		return
	}

	sess.Lock()
	defer sess.Unlock()

	// The session may have finished between lookup and lock (for example a
	// double confirmation racing the dispatch); late events are no-ops.
	if _, live := e.sessions.Get(sess.OrderID); !live {
		return
	}

	ctx = e.orderContext(ctx, sess.OrderID, sess.BuyerID, sess.ChatID)
	sess.Touch(e.now())

	switch sess.Step {
	case session.StepAwaitLink:
		e.handleAwaitLink(ctx, sess, text)
	case session.StepAwaitConfirm:
		e.handleAwaitConfirm(ctx, sess, text)
	}
}

func (e *Engine) handleAwaitLink(ctx context.Context, sess *session.Session, text string) {
	link, found := extractTarget(text)
	if !found || !validTarget(link) {
		// buyers paste all sorts of chatter here; sample the rejects
		if logger.ShouldSampleDebug() {
			logger.Debug(ctx, "engine", "link.reject",
				slog.String("step", string(sess.Step)),
			)
		}
		e.send(ctx, sess.ChatID, e.cfg.Template(store.TplInvalidLink, nil))
		return
	}

	sess.Target = link
	sess.Step = session.StepAwaitConfirm
	logger.Info(ctx, "engine", "link.accept",
		slog.String("target", link),
		slog.String("step", string(sess.Step)),
	)
	e.send(ctx, sess.ChatID, e.cfg.Template(store.TplLinkConfirmation, map[string]string{"link": link}))
}

func (e *Engine) handleAwaitConfirm(ctx context.Context, sess *session.Session, text string) {
	token := strings.ToLower(text)
	if _, ok := affirmative[token]; ok {
		e.dispatch(ctx, sess)
		return
	}
	if _, ok := negative[token]; ok {
		sess.Target = ""
		sess.Step = session.StepAwaitLink
		logger.Info(ctx, "engine", "confirm.cancel",
			slog.String("step", string(sess.Step)),
		)
		e.send(ctx, sess.ChatID, e.cfg.Template(store.TplCancelled, nil))
		return
	}
	e.send(ctx, sess.ChatID, e.cfg.Template(store.TplConfirmPrompt, nil))
}

// dispatch executes the purchase. Every outcome is terminal: the session is
// removed whether the gift went out, the remote rejected it, or the call
// failed outright.
func (e *Engine) dispatch(ctx context.Context, sess *session.Session) {
	defer e.sessions.Remove(sess.OrderID)

	attemptID := uuid.NewString()
	start := e.now()
	ctx = logger.WithHandler(ctx, "dispatch")

	e.send(ctx, sess.ChatID, e.cfg.Template(store.TplProcessing, map[string]string{"game_name": sess.GiftName}))

	res, err := e.dispatcher.SendGift(ctx, gifts.FulfillmentRequest{
		Target:   sess.Target,
		GiftName: sess.GiftName,
		Region:   sess.Region,
	})
	if err != nil {
		logger.Error(ctx, "engine", "dispatch",
			slog.String("outcome", "fail"),
			slog.String("attempt_id", attemptID),
			slog.Duration("duration", logger.Took(start)),
			slog.String("err", err.Error()),
		)
		e.send(ctx, sess.ChatID, e.cfg.Template(store.TplPurchaseError, map[string]string{"error": err.Error()}))
		return
	}

	if res.OK {
		e.settleSuccess(ctx, sess, attemptID, start)
		return
	}

	switch res.Reason {
	case gifts.ReasonInsufficientBalance:
		e.send(ctx, sess.ChatID, e.cfg.Template(store.TplInsufficientBalance, nil))
		e.tryRefund(ctx, sess.OrderID, res.Message)
		logger.Error(ctx, "engine", "dispatch",
			slog.String("outcome", "fail"),
			slog.String("attempt_id", attemptID),
			slog.String("err", res.Message),
			slog.String("err_code", string(res.Reason)),
			slog.Duration("duration", logger.Took(start)),
		)
	default:
		e.send(ctx, sess.ChatID, e.cfg.Template(store.TplPurchaseError, map[string]string{"error": res.Message}))
		logger.Error(ctx, "engine", "dispatch",
			slog.String("outcome", "fail"),
			slog.String("attempt_id", attemptID),
			slog.String("err", res.Message),
			slog.Duration("duration", logger.Took(start)),
		)
	}
}

// settleSuccess persists the order before the buyer sees the success
// message. The gift is already out, so a persist failure is logged and the
// buyer is still notified.
func (e *Engine) settleSuccess(ctx context.Context, sess *session.Session, attemptID string, start time.Time) {
	rec := ledger.OrderRecord{
		OrderID:   sess.OrderID,
		BuyerID:   sess.BuyerID,
		GameName:  sess.GiftName,
		Region:    sess.Region,
		Target:    sess.Target,
		Revenue:   sess.Revenue,
		Timestamp: e.now(),
	}
	if err := e.ledger.Append(ctx, rec); err != nil {
		logger.Error(ctx, "engine", "ledger.persist",
			slog.String("attempt_id", attemptID),
			slog.String("err", err.Error()),
		)
	}

	e.send(ctx, sess.ChatID, e.cfg.Template(store.TplPurchaseSuccess, map[string]string{"game_name": sess.GiftName}))
	logger.Info(ctx, "engine", "dispatch",
		slog.String("outcome", "ok"),
		slog.String("attempt_id", attemptID),
		slog.String("game", sess.GiftName),
		slog.String("target", sess.Target),
		slog.Duration("duration", logger.Took(start)),
	)
}

// tryRefund refunds the order when the policy allows it. Refund failures are
// logged, never retried, and never block session removal.
func (e *Engine) tryRefund(ctx context.Context, orderID int64, cause string) {
	if !e.cfg.AutoRefunds() {
		return
	}
	if err := e.connector.Refund(ctx, orderID); err != nil {
		logger.Error(ctx, "engine", "refund",
			slog.String("status", "fail"),
			slog.String("cause", cause),
			slog.String("err", err.Error()),
		)
		return
	}
	logger.Info(ctx, "engine", "refund",
		slog.String("status", "ok"),
		slog.String("outcome", "refunded"),
		slog.String("cause", cause),
	)
}

func (e *Engine) send(ctx context.Context, chatID int64, text string) {
	if err := e.connector.SendMessage(ctx, chatID, text); err != nil {
		logger.Warn(ctx, "engine", "chat.send",
			slog.String("err", err.Error()),
		)
	}
}

func (e *Engine) orderContext(ctx context.Context, orderID, buyerID, chatID int64) context.Context {
	ctx = logger.WithLogger(ctx, logger.ENG)
	ctx = logger.WithRID(ctx, logger.BuildRID(orderID, chatID, buyerID))
	return logger.WithOrderMeta(ctx, orderID, buyerID, chatID)
}

// RunJanitor sweeps abandoned sessions on the configured TTL until ctx is
// done. With a zero TTL it returns immediately.
func (e *Engine) RunJanitor(ctx context.Context) {
	if e.sessionTTL <= 0 {
		return
	}
	interval := e.sessionTTL / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired := e.sessions.SweepExpired(e.sessionTTL, e.now())
			for _, sess := range expired {
				logger.Warn(ctx, "engine", "session.expire",
					slog.Int64("order_id", sess.OrderID),
					slog.Int64("buyer_id", sess.BuyerID),
					slog.String("step", string(sess.Step)),
				)
			}
		}
	}
}
