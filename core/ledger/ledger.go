// Package ledger keeps the append-only record of completed dispatches and
// computes operator-facing aggregates over it.
package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/scwee/autogift/core/gifts"
)

// timestampLayout matches the legacy document format.
const timestampLayout = "2006-01-02 15:04:05"

// OrderRecord is one completed dispatch. Immutable once appended.
type OrderRecord struct {
	OrderID   int64
	BuyerID   int64
	GameName  string
	Region    gifts.Region
	Target    string
	Revenue   decimal.Decimal
	Timestamp time.Time
}

// GameCount is one row of the top-games ranking.
type GameCount struct {
	Name  string
	Count int
}

// Aggregate summarizes the ledger for reporting.
type Aggregate struct {
	Orders   int
	Revenue  decimal.Decimal
	TopGames []GameCount
}

// Ledger is the durable append-only order history.
type Ledger interface {
	// Append durably records a completed dispatch. It must return only after
	// the record survives a process restart.
	Append(ctx context.Context, rec OrderRecord) error
	// Aggregate computes totals and a top-n game ranking. Ranking ties break
	// by first appearance in the ledger.
	Aggregate(ctx context.Context, topN int) (Aggregate, error)
}

// rankGames builds the descending ranking with first-encountered tie break.
// Records must be passed in append order.
func rankGames(names []string, topN int) []GameCount {
	counts := make(map[string]int, len(names))
	firstSeen := make(map[string]int, len(names))
	var order []string
	for i, name := range names {
		if _, seen := counts[name]; !seen {
			firstSeen[name] = i
			order = append(order, name)
		}
		counts[name]++
	}
	sort.SliceStable(order, func(i, j int) bool {
		ci, cj := counts[order[i]], counts[order[j]]
		if ci != cj {
			return ci > cj
		}
		return firstSeen[order[i]] < firstSeen[order[j]]
	})
	if topN > 0 && len(order) > topN {
		order = order[:topN]
	}
	out := make([]GameCount, 0, len(order))
	for _, name := range order {
		out = append(out, GameCount{Name: name, Count: counts[name]})
	}
	return out
}
