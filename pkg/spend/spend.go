// Package spend computes how much a card has settled inside a spend-limit
// window.
package spend

import (
	"context"
	"fmt"
	"time"

	"cardctl/pkg/ledger"
	"cardctl/pkg/model"

	"github.com/shopspring/decimal"
)

// Aggregator sums settled spend for a card. Implementations are read-only.
type Aggregator interface {
	// WindowSpend returns the sum of abs(posted amount) over the card's posted
	// captures with asOf - interval.Lookback() <= created_at <= asOf.
	WindowSpend(ctx context.Context, cardID string, interval model.Interval, asOf time.Time) (decimal.Decimal, error)
}

// LedgerAggregator scans the card's transactions in the window on every call.
type LedgerAggregator struct {
	repo *ledger.Repository
}

// NewLedgerAggregator creates an aggregator over repo.
func NewLedgerAggregator(repo *ledger.Repository) *LedgerAggregator {
	return &LedgerAggregator{repo: repo}
}

// WindowStart returns the first instant counted by a window ending at asOf.
func WindowStart(interval model.Interval, asOf time.Time) time.Time {
	return asOf.Add(-interval.Lookback())
}

func (a *LedgerAggregator) WindowSpend(ctx context.Context, cardID string, interval model.Interval, asOf time.Time) (decimal.Decimal, error) {
	txns, err := a.repo.ListCardTransactions(ctx, cardID, WindowStart(interval, asOf), asOf)
	if err != nil {
		return decimal.Zero, fmt.Errorf("window spend for %s: %w", cardID, err)
	}
	return Sum(txns), nil
}

// Sum adds the settled magnitude of every posted capture in txns.
func Sum(txns []*model.Transaction) decimal.Decimal {
	total := decimal.Zero
	for _, t := range txns {
		if t.IsPostedCapture() {
			total = total.Add(t.SettledMagnitude())
		}
	}
	return total
}
