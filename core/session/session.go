// Package session tracks one buyer conversation per paid order, from the
// initial delivery-target prompt to the dispatch outcome.
package session

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/scwee/autogift/core/gifts"
)

// Step identifies the conversation state machine position.
type Step string

const (
	// StepAwaitLink means the buyer still owes us a delivery target.
	StepAwaitLink Step = "await_link"
	// StepAwaitConfirm means a target was captured and awaits confirmation.
	StepAwaitConfirm Step = "await_confirm"
)

// Session is the in-memory conversation state for one open order.
// The embedded mutex serializes event handling per order; it is held across
// the dispatch call on purpose, so confirmations for one order cannot
// interleave while unrelated orders proceed.
type Session struct {
	mu sync.Mutex

	OrderID  int64
	BuyerID  int64
	ChatID   int64
	GiftName string
	Region   gifts.Region
	Revenue  decimal.Decimal

	Step   Step
	Target string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Lock acquires the per-session event mutex.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases the per-session event mutex.
func (s *Session) Unlock() { s.mu.Unlock() }

// Touch records conversation activity for TTL accounting.
func (s *Session) Touch(now time.Time) {
	s.UpdatedAt = now
}
