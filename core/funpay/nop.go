package funpay

import (
	"context"
	"errors"
)

// ErrNoTransport is returned by NopConnector for every operation.
var ErrNoTransport = errors.New("funpay: no marketplace transport configured")

// NopConnector is a placeholder for deployments that embed the fulfillment
// core with their own transport. Every call fails with ErrNoTransport.
type NopConnector struct{}

func (NopConnector) SendMessage(context.Context, int64, string) error {
	return ErrNoTransport
}

func (NopConnector) GetOrder(context.Context, int64) (OrderDetails, error) {
	return OrderDetails{}, ErrNoTransport
}

func (NopConnector) Refund(context.Context, int64) error {
	return ErrNoTransport
}
