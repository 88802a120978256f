package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scwee/autogift/core/funpay"
	"github.com/scwee/autogift/core/gifts"
	"github.com/scwee/autogift/core/ledger"
	"github.com/scwee/autogift/core/session"
	"github.com/scwee/autogift/core/store"
)

type fakeConnector struct {
	mu       sync.Mutex
	sent     []string
	orders   map[int64]funpay.OrderDetails
	orderErr error
	refunds  []int64
	refundEr error
	onSend   func()
}

func (f *fakeConnector) SendMessage(_ context.Context, _ int64, text string) error {
	if f.onSend != nil {
		f.onSend()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeConnector) GetOrder(_ context.Context, orderID int64) (funpay.OrderDetails, error) {
	if f.orderErr != nil {
		return funpay.OrderDetails{}, f.orderErr
	}
	return f.orders[orderID], nil
}

func (f *fakeConnector) Refund(_ context.Context, orderID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds = append(f.refunds, orderID)
	return f.refundEr
}

func (f *fakeConnector) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeConnector) lastMessage() string {
	msgs := f.messages()
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1]
}

type fakeDispatcher struct {
	mu     sync.Mutex
	calls  []gifts.FulfillmentRequest
	result *gifts.DispatchResult
	err    error
	onSend func()
}

func (f *fakeDispatcher) SendGift(_ context.Context, req gifts.FulfillmentRequest) (*gifts.DispatchResult, error) {
	if f.onSend != nil {
		f.onSend()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fixture struct {
	engine    *Engine
	connector *fakeConnector
	disp      *fakeDispatcher
	sessions  *session.Store
	cfg       *store.Store
	ledger    *ledger.DocumentLedger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg, err := store.Open(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)
	require.NoError(t, cfg.SetProduct(100, store.Product{Name: "Terraria", Region: gifts.RegionRU}))

	conn := &fakeConnector{orders: map[int64]funpay.OrderDetails{
		1001: {OrderID: 1001, BuyerID: 42, ChatID: 360, Sum: decimal.NewFromInt(299)},
	}}
	disp := &fakeDispatcher{result: &gifts.DispatchResult{OK: true}}
	sessions := session.NewStore()
	led := ledger.NewDocumentLedger(cfg)

	eng := New(Options{
		Connector:  conn,
		Dispatcher: disp,
		Sessions:   sessions,
		Config:     cfg,
		Ledger:     led,
	})
	return &fixture{engine: eng, connector: conn, disp: disp, sessions: sessions, cfg: cfg, ledger: led}
}

func (f *fixture) openSession(t *testing.T) {
	t.Helper()
	f.engine.HandleNewOrder(context.Background(), funpay.NewOrderEvent{OrderID: 1001, LotID: 100})
	_, ok := f.sessions.Get(1001)
	require.True(t, ok, "session must open for a mapped lot")
}

func (f *fixture) say(text string) {
	f.engine.HandleNewMessage(context.Background(), funpay.NewMessageEvent{ChatID: 360, AuthorID: 42, Text: text})
}

func TestHandleNewOrderUnmappedLot(t *testing.T) {
	f := newFixture(t)
	f.engine.HandleNewOrder(context.Background(), funpay.NewOrderEvent{OrderID: 1001, LotID: 999})

	assert.Equal(t, 0, f.sessions.Len())
	assert.Empty(t, f.connector.messages())
}

func TestHandleNewOrderOpensSession(t *testing.T) {
	f := newFixture(t)
	f.openSession(t)

	sess, ok := f.sessions.Get(1001)
	require.True(t, ok)
	assert.Equal(t, session.StepAwaitLink, sess.Step)
	assert.Equal(t, "Terraria", sess.GiftName)
	assert.Equal(t, int64(42), sess.BuyerID)
	assert.Contains(t, f.lastMessage(t), "Steam")
}

func TestHandleNewOrderDuplicateKeepsState(t *testing.T) {
	f := newFixture(t)
	f.openSession(t)
	f.say("https://steamcommunity.com/id/gaben")

	sess, _ := f.sessions.Get(1001)
	require.Equal(t, session.StepAwaitConfirm, sess.Step)

	// A replayed order event must not reset an in-flight conversation.
	f.engine.HandleNewOrder(context.Background(), funpay.NewOrderEvent{OrderID: 1001, LotID: 100})

	sess, ok := f.sessions.Get(1001)
	require.True(t, ok)
	assert.Equal(t, session.StepAwaitConfirm, sess.Step)
	assert.Equal(t, "https://steamcommunity.com/id/gaben", sess.Target)
}

func TestHandleNewOrderIncompleteDetails(t *testing.T) {
	f := newFixture(t)
	f.connector.orders[1001] = funpay.OrderDetails{OrderID: 1001, BuyerID: 42}

	f.engine.HandleNewOrder(context.Background(), funpay.NewOrderEvent{OrderID: 1001, LotID: 100})
	assert.Equal(t, 0, f.sessions.Len())
}

func TestHandleNewOrderConnectorError(t *testing.T) {
	f := newFixture(t)
	f.connector.orderErr = errors.New("marketplace down")

	f.engine.HandleNewOrder(context.Background(), funpay.NewOrderEvent{OrderID: 1001, LotID: 100})
	assert.Equal(t, 0, f.sessions.Len())
}

func TestMessageWithoutSessionIgnored(t *testing.T) {
	f := newFixture(t)
	f.say("https://steamcommunity.com/id/gaben")

	assert.Empty(t, f.connector.messages())
	assert.Empty(t, f.disp.calls)
}

func TestInvalidLinkReprompts(t *testing.T) {
	f := newFixture(t)
	f.openSession(t)

	f.say("here is my profile: steamcommunity.com/id/gaben")

	sess, _ := f.sessions.Get(1001)
	assert.Equal(t, session.StepAwaitLink, sess.Step)
	assert.Empty(t, sess.Target)
	assert.Contains(t, f.lastMessage(t), "Неверная ссылка")
}

func TestValidLinkAdvancesToConfirm(t *testing.T) {
	f := newFixture(t)
	f.openSession(t)

	f.say("вот https://steamcommunity.com/profiles/76561198000000001 спасибо")

	sess, _ := f.sessions.Get(1001)
	assert.Equal(t, session.StepAwaitConfirm, sess.Step)
	assert.Equal(t, "https://steamcommunity.com/profiles/76561198000000001", sess.Target)
	assert.Contains(t, f.lastMessage(t), sess.Target)
}

func TestConfirmDispatchesAndClosesSession(t *testing.T) {
	f := newFixture(t)
	f.openSession(t)
	f.say("https://steamcommunity.com/id/gaben")
	f.say("+")

	require.Len(t, f.disp.calls, 1)
	req := f.disp.calls[0]
	assert.Equal(t, "https://steamcommunity.com/id/gaben", req.Target)
	assert.Equal(t, "Terraria", req.GiftName)
	assert.Equal(t, gifts.RegionRU, req.Region)

	_, ok := f.sessions.Get(1001)
	assert.False(t, ok, "dispatch must close the session")

	msgs := f.connector.messages()
	require.NotEmpty(t, msgs)
	assert.Contains(t, msgs[len(msgs)-1], "успешно отправлен")

	recs := f.ledger.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, int64(1001), recs[0].OrderID)
	assert.Equal(t, "Terraria", recs[0].GameName)
	assert.True(t, decimal.NewFromInt(299).Equal(recs[0].Revenue))
}

func TestRepeatedConfirmIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.openSession(t)
	f.say("https://steamcommunity.com/id/gaben")
	f.say("yes")
	f.say("yes")

	assert.Len(t, f.disp.calls, 1, "a second confirmation must not re-dispatch")
}

func TestCancelReturnsToLinkStep(t *testing.T) {
	f := newFixture(t)
	f.openSession(t)
	f.say("https://steamcommunity.com/id/gaben")
	f.say("-")

	sess, ok := f.sessions.Get(1001)
	require.True(t, ok)
	assert.Equal(t, session.StepAwaitLink, sess.Step)
	assert.Empty(t, sess.Target)
	assert.Contains(t, f.lastMessage(t), "отменена")

	// The buyer can submit a fresh link and complete the purchase.
	f.say("https://steamcommunity.com/profiles/76561198000000001")
	f.say("да")
	require.Len(t, f.disp.calls, 1)
	assert.Equal(t, "https://steamcommunity.com/profiles/76561198000000001", f.disp.calls[0].Target)
}

func TestUnrecognizedConfirmReplyPrompts(t *testing.T) {
	f := newFixture(t)
	f.openSession(t)
	f.say("https://steamcommunity.com/id/gaben")
	f.say("maybe")

	sess, _ := f.sessions.Get(1001)
	assert.Equal(t, session.StepAwaitConfirm, sess.Step)
	assert.Empty(t, f.disp.calls)
	assert.Contains(t, f.lastMessage(t), "подтверждения")
}

func TestDispatchErrorNotifiesBuyer(t *testing.T) {
	f := newFixture(t)
	f.disp.err = errors.New("upstream timeout")
	f.openSession(t)
	f.say("https://steamcommunity.com/id/gaben")
	f.say("+")

	_, ok := f.sessions.Get(1001)
	assert.False(t, ok)
	assert.Contains(t, f.lastMessage(t), "upstream timeout")

	assert.Empty(t, f.ledger.Records(), "failed dispatch must not reach the ledger")
}

func TestInsufficientBalanceRefundsWhenEnabled(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.cfg.SetAutoRefunds(true))
	f.disp.result = &gifts.DispatchResult{
		OK:      false,
		Reason:  gifts.ReasonInsufficientBalance,
		Message: "insufficient balance",
	}

	f.openSession(t)
	f.say("https://steamcommunity.com/id/gaben")
	f.say("+")

	assert.Equal(t, []int64{1001}, f.connector.refunds)
	assert.Contains(t, f.lastMessage(t), "Недостаточно средств")
	_, ok := f.sessions.Get(1001)
	assert.False(t, ok)
}

func TestInsufficientBalanceNoRefundWhenDisabled(t *testing.T) {
	f := newFixture(t)
	f.disp.result = &gifts.DispatchResult{
		OK:      false,
		Reason:  gifts.ReasonInsufficientBalance,
		Message: "insufficient balance",
	}

	f.openSession(t)
	f.say("https://steamcommunity.com/id/gaben")
	f.say("+")

	assert.Empty(t, f.connector.refunds)
	assert.Contains(t, f.lastMessage(t), "Недостаточно средств")
}

func TestBusinessRejectionNotifiesBuyer(t *testing.T) {
	f := newFixture(t)
	f.disp.result = &gifts.DispatchResult{
		OK:      false,
		Reason:  gifts.ReasonOther,
		Message: "region locked",
	}

	f.openSession(t)
	f.say("https://steamcommunity.com/id/gaben")
	f.say("+")

	assert.Empty(t, f.connector.refunds)
	assert.Contains(t, f.lastMessage(t), "region locked")
}

func TestInvisibleCharactersStripped(t *testing.T) {
	f := newFixture(t)
	f.openSession(t)

	// U+2061 is injected by some marketplace clients.
	f.say("https://steamcommunity.com/id/gaben⁡")
	f.say("⁡+")

	require.Len(t, f.disp.calls, 1)
	assert.Equal(t, "https://steamcommunity.com/id/gaben", f.disp.calls[0].Target)
}

func TestSessionExpiryViaSweep(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	f.engine.now = func() time.Time { return base }
	f.openSession(t)

	expired := f.sessions.SweepExpired(30*time.Minute, base.Add(time.Hour))
	require.Len(t, expired, 1)
	assert.Equal(t, int64(1001), expired[0].OrderID)
	assert.Equal(t, 0, f.sessions.Len())

	// Messages after expiry fall into the no-session path.
	f.say("+")
	assert.Empty(t, f.disp.calls)
}

func TestStoreLockNeverHeldAcrossConnectorCalls(t *testing.T) {
	f := newFixture(t)
	f.openSession(t)

	// Both fakes read the session store mid-call. Holding the store lock
	// across connector or dispatcher I/O would self-deadlock here instead
	// of completing; only the dispatching order's own lock may be held.
	f.connector.onSend = func() {
		f.sessions.ByBuyer(999)
		f.sessions.Len()
	}
	f.disp.onSend = func() {
		_, _ = f.sessions.Get(1001)
		f.sessions.ByBuyer(42)
	}

	f.say("https://steamcommunity.com/id/alice")
	f.say("да")

	require.Len(t, f.disp.calls, 1)
	_, open := f.sessions.Get(1001)
	require.False(t, open, "dispatch must close the session")
}

func (f *fixture) lastMessage(t *testing.T) string {
	t.Helper()
	msg := f.connector.lastMessage()
	require.NotEmpty(t, msg)
	return msg
}
