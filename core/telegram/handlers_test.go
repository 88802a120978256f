package telegram

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/scwee/autogift/core/gifts"
	"github.com/scwee/autogift/core/ledger"
	"github.com/scwee/autogift/core/store"
)

func TestParseToggle(t *testing.T) {
	cases := []struct {
		in      string
		enabled bool
		ok      bool
	}{
		{"on", true, true},
		{"off", false, true},
		{"ON", true, true},
		{"Off", false, true},
		{"yes", false, false},
		{"", false, false},
	}
	for _, tc := range cases {
		enabled, ok := parseToggle(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.enabled, enabled, tc.in)
	}
}

func TestFormatStats(t *testing.T) {
	agg := ledger.Aggregate{
		Orders:  7,
		Revenue: decimal.RequireFromString("1499.50"),
		TopGames: []ledger.GameCount{
			{Name: "Terraria", Count: 4},
			{Name: "Stardew Valley", Count: 3},
		},
	}
	out := formatStats(agg)
	assert.Contains(t, out, "Заказов: 7")
	assert.Contains(t, out, "1499.5")
	assert.Contains(t, out, "1. Terraria — 4")
	assert.Contains(t, out, "2. Stardew Valley — 3")
}

func TestFormatStatsEmptyLedger(t *testing.T) {
	out := formatStats(ledger.Aggregate{Revenue: decimal.Zero})
	assert.Contains(t, out, "Заказов: 0")
	assert.NotContains(t, out, "Топ игр")
}

func TestFormatLots(t *testing.T) {
	out := formatLots(map[int64]store.Product{
		200: {Name: "Stardew Valley", Region: gifts.RegionUA},
		100: {Name: "Terraria", Region: gifts.RegionRU},
	})
	assert.Contains(t, out, "100 — Terraria (ru)")
	assert.Contains(t, out, "200 — Stardew Valley (ua)")
	// Sorted by lot id.
	assert.Less(t, strings.Index(out, "100"), strings.Index(out, "200"))
}

func TestFormatLotsEmpty(t *testing.T) {
	assert.Equal(t, "Лоты не настроены", formatLots(nil))
}
