package ledger

import (
	"context"
	"time"

	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/scwee/autogift/core/gifts"
	"github.com/scwee/autogift/core/logger"
	"github.com/scwee/autogift/core/store"
)

// DocumentLedger persists order history inside the operator config document.
type DocumentLedger struct {
	store *store.Store
}

// NewDocumentLedger wraps the config document store.
func NewDocumentLedger(s *store.Store) *DocumentLedger {
	return &DocumentLedger{store: s}
}

// Append writes the record into the document and saves it to disk before
// returning.
func (l *DocumentLedger) Append(ctx context.Context, rec OrderRecord) error {
	err := l.store.AppendHistory(store.HistoryRecord{
		OrderID:   rec.OrderID,
		BuyerID:   rec.BuyerID,
		GameName:  rec.GameName,
		Region:    string(rec.Region),
		Link:      rec.Target,
		Revenue:   rec.Revenue,
		Timestamp: rec.Timestamp.Format(timestampLayout),
	})
	if err != nil {
		return err
	}
	logger.Info(ctx, "ledger", "ledger.append",
		slog.Int64("order_id", rec.OrderID),
		slog.String("game", rec.GameName),
		slog.String("revenue", rec.Revenue.String()),
	)
	return nil
}

// Aggregate folds the persisted history into totals and a top-n ranking.
func (l *DocumentLedger) Aggregate(_ context.Context, topN int) (Aggregate, error) {
	history := l.store.History()

	agg := Aggregate{Revenue: decimal.Zero}
	names := make([]string, 0, len(history))
	for _, rec := range history {
		agg.Orders++
		agg.Revenue = agg.Revenue.Add(rec.Revenue)
		names = append(names, rec.GameName)
	}
	agg.TopGames = rankGames(names, topN)
	return agg, nil
}

// Records converts the persisted history back to typed records, oldest first.
func (l *DocumentLedger) Records() []OrderRecord {
	history := l.store.History()
	out := make([]OrderRecord, 0, len(history))
	for _, rec := range history {
		ts, err := time.Parse(timestampLayout, rec.Timestamp)
		if err != nil {
			ts = time.Time{}
		}
		out = append(out, OrderRecord{
			OrderID:   rec.OrderID,
			BuyerID:   rec.BuyerID,
			GameName:  rec.GameName,
			Region:    gifts.ParseRegion(rec.Region),
			Target:    rec.Link,
			Revenue:   rec.Revenue,
			Timestamp: ts,
		})
	}
	return out
}
