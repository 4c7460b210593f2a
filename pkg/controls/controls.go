// Package controls decides whether a card may spend.
//
// Checks run in a fixed order and the first failing one names the denial:
// card status, presentment mode, merchant allow-list, MCC allow-list,
// country allow-list, spend limit. A nil allow-list is unrestricted.
package controls

import (
	"context"
	"fmt"
	"time"

	"cardctl/pkg/model"
	"cardctl/pkg/spend"

	"github.com/shopspring/decimal"
)

// Request holds the attributes of a proposed authorization.
type Request struct {
	Amount       decimal.Decimal
	Currency     string
	MerchantName string
	MerchantID   string
	MCC          string
	Country      string
	Presentment  model.PresentmentMode
}

// Decision is the evaluator's verdict. Reason is empty when Allow is true.
type Decision struct {
	Allow  bool
	Reason model.Reason
}

// Allowed is the approving decision.
var Allowed = Decision{Allow: true}

func denied(r model.Reason) Decision {
	return Decision{Reason: r}
}

// Err returns nil for an approval and a *model.DenialError otherwise.
func (d Decision) Err() error {
	if d.Allow {
		return nil
	}
	return model.Deny(d.Reason)
}

// Evaluator applies a card's control set to a request. Ownership of the card
// is the caller's concern.
type Evaluator struct {
	spend spend.Aggregator
	clock model.Clock
}

// NewEvaluator creates an evaluator using agg for spend-limit checks.
func NewEvaluator(agg spend.Aggregator, clock model.Clock) *Evaluator {
	if clock == nil {
		clock = model.SystemClock
	}
	return &Evaluator{spend: agg, clock: clock}
}

// Evaluate returns the decision for req against card. The error is non-nil
// only when the spend lookup fails; denials are decisions, not errors.
func (e *Evaluator) Evaluate(ctx context.Context, card *model.Card, req Request) (Decision, error) {
	return e.EvaluateAt(ctx, card, req, e.clock())
}

// EvaluateAt is Evaluate with the spend window ending at asOf.
func (e *Evaluator) EvaluateAt(ctx context.Context, card *model.Card, req Request, asOf time.Time) (Decision, error) {
	c := card.Controls

	if card.Status != model.CardActive {
		return denied(model.ReasonCardInactive), nil
	}
	if !c.AllowsPresentment(req.Presentment) {
		return denied(model.ReasonPresentmentBlocked), nil
	}
	if c.MerchantAllow != nil && !contains(c.MerchantAllow, req.MerchantID) {
		return denied(model.ReasonMerchantNotWhitelisted), nil
	}
	if c.MCCAllow != nil && !contains(c.MCCAllow, req.MCC) {
		return denied(model.ReasonMCCBlocked), nil
	}
	if c.CountryAllow != nil && !contains(c.CountryAllow, req.Country) {
		return denied(model.ReasonCountryBlocked), nil
	}

	if c.HasSpendLimit() {
		used, err := e.spend.WindowSpend(ctx, card.ID, *c.SpendLimitInterval, asOf)
		if err != nil {
			return Decision{}, fmt.Errorf("spend limit check: %w", err)
		}
		// Landing exactly on the limit is allowed.
		if used.Add(req.Amount).GreaterThan(*c.SpendLimitAmount) {
			return denied(model.ReasonSpendLimitExceeded), nil
		}
	}

	return Allowed, nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
