// Package funpay declares the contract between the fulfillment core and the
// marketplace connector. Transport and polling mechanics live behind the
// Connector interface and are not part of this module.
package funpay

import (
	"context"

	"github.com/shopspring/decimal"
)

// NewOrderEvent announces a paid order.
type NewOrderEvent struct {
	OrderID int64
	LotID   int64
}

// NewMessageEvent announces an inbound chat message.
type NewMessageEvent struct {
	ChatID   int64
	AuthorID int64
	Text     string
}

// OrderDetails carries the full order metadata fetched from the marketplace.
// The connector is contractually required to populate every field; the core
// treats zero values in required fields as a connector-level error.
type OrderDetails struct {
	OrderID int64
	BuyerID int64
	ChatID  int64
	Sum     decimal.Decimal
}

// Connector is the marketplace surface consumed by the fulfillment engine.
type Connector interface {
	// SendMessage delivers text into the buyer chat.
	SendMessage(ctx context.Context, chatID int64, text string) error
	// GetOrder fetches full details for a paid order.
	GetOrder(ctx context.Context, orderID int64) (OrderDetails, error)
	// Refund returns the buyer's money for the given order.
	Refund(ctx context.Context, orderID int64) error
}
