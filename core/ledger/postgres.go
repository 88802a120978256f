package ledger

import (
	"context"
	"fmt"

	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/scwee/autogift/core/logger"
)

// PostgresLedger persists order history in the order_history table.
// Schema is managed by the migrations directory.
type PostgresLedger struct {
	db *sqlx.DB
}

// NewPostgresLedger wraps an established database handle.
func NewPostgresLedger(db *sqlx.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

const insertOrderSQL = `
INSERT INTO order_history (order_id, buyer_id, game_name, region, link, revenue, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

// Append inserts the record; the transaction commit is the durability point.
func (l *PostgresLedger) Append(ctx context.Context, rec OrderRecord) error {
	_, err := l.db.ExecContext(ctx, insertOrderSQL,
		rec.OrderID, rec.BuyerID, rec.GameName, string(rec.Region),
		rec.Target, rec.Revenue, rec.Timestamp,
	)
	if err != nil {
		logger.Error(ctx, "ledger", "ledger.append",
			slog.Int64("order_id", rec.OrderID),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("ledger: insert order %d: %w", rec.OrderID, err)
	}
	logger.Info(ctx, "ledger", "ledger.append",
		slog.Int64("order_id", rec.OrderID),
		slog.String("game", rec.GameName),
		slog.String("revenue", rec.Revenue.String()),
	)
	return nil
}

const totalsSQL = `
SELECT COUNT(*) AS orders, COALESCE(SUM(revenue), 0) AS revenue FROM order_history`

const topGamesSQL = `
SELECT game_name, COUNT(*) AS cnt
FROM order_history
GROUP BY game_name
ORDER BY cnt DESC, MIN(id) ASC
LIMIT $1`

// Aggregate computes totals and the ranking in SQL. MIN(id) preserves the
// first-encountered tie break across restarts.
func (l *PostgresLedger) Aggregate(ctx context.Context, topN int) (Aggregate, error) {
	if topN <= 0 {
		topN = 5
	}

	var totals struct {
		Orders  int             `db:"orders"`
		Revenue decimal.Decimal `db:"revenue"`
	}
	if err := l.db.GetContext(ctx, &totals, totalsSQL); err != nil {
		return Aggregate{}, fmt.Errorf("ledger: totals: %w", err)
	}

	var rows []struct {
		GameName string `db:"game_name"`
		Count    int    `db:"cnt"`
	}
	if err := l.db.SelectContext(ctx, &rows, topGamesSQL, topN); err != nil {
		return Aggregate{}, fmt.Errorf("ledger: top games: %w", err)
	}

	agg := Aggregate{Orders: totals.Orders, Revenue: totals.Revenue}
	for _, row := range rows {
		agg.TopGames = append(agg.TopGames, GameCount{Name: row.GameName, Count: row.Count})
	}
	return agg, nil
}
