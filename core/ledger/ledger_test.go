package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/scwee/autogift/core/gifts"
	"github.com/scwee/autogift/core/store"
)

func newDocLedger(t *testing.T) (*DocumentLedger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	s, err := store.Open(path)
	require.NoError(t, err)
	return NewDocumentLedger(s), path
}

func rec(orderID int64, game, revenue string) OrderRecord {
	return OrderRecord{
		OrderID:   orderID,
		BuyerID:   orderID * 10,
		GameName:  game,
		Region:    gifts.RegionRU,
		Target:    "https://steamcommunity.com/id/buyer",
		Revenue:   decimal.RequireFromString(revenue),
		Timestamp: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}
}

func TestAppendSurvivesReopen(t *testing.T) {
	l, path := newDocLedger(t)
	ctx := context.Background()
	require.NoError(t, l.Append(ctx, rec(1001, "Game X", "499.99")))

	reopened, err := store.Open(path)
	require.NoError(t, err)
	l2 := NewDocumentLedger(reopened)

	agg, err := l2.Aggregate(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, 1, agg.Orders)
	require.True(t, agg.Revenue.Equal(decimal.RequireFromString("499.99")))
}

func TestAggregateTotalsAndRanking(t *testing.T) {
	l, _ := newDocLedger(t)
	ctx := context.Background()
	for _, r := range []OrderRecord{
		rec(1, "Game A", "100"),
		rec(2, "Game B", "50.50"),
		rec(3, "Game A", "100"),
		rec(4, "Game C", "10"),
		rec(5, "Game B", "50.50"),
		rec(6, "Game A", "100"),
	} {
		require.NoError(t, l.Append(ctx, r))
	}

	agg, err := l.Aggregate(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, 6, agg.Orders)
	require.True(t, agg.Revenue.Equal(decimal.RequireFromString("411.00")))
	require.Equal(t, []GameCount{{"Game A", 3}, {"Game B", 2}}, agg.TopGames)
}

func TestRankGamesTieBreaksByFirstAppearance(t *testing.T) {
	got := rankGames([]string{"B", "A", "B", "A", "C"}, 5)
	require.Equal(t, []GameCount{{"B", 2}, {"A", 2}, {"C", 1}}, got, "equal counts keep first-encountered order")

	got = rankGames(nil, 5)
	require.Empty(t, got)
}

func TestRecordsRoundTrip(t *testing.T) {
	l, _ := newDocLedger(t)
	require.NoError(t, l.Append(context.Background(), rec(1001, "Game X", "499.99")))

	records := l.Records()
	require.Len(t, records, 1)
	require.EqualValues(t, 1001, records[0].OrderID)
	require.Equal(t, gifts.RegionRU, records[0].Region)
	require.Equal(t, 2026, records[0].Timestamp.Year())
}
