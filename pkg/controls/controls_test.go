package controls

import (
	"context"
	"errors"
	"testing"
	"time"

	"cardctl/pkg/model"

	"github.com/shopspring/decimal"
)

// stubAggregator returns a fixed spend and records the window it was asked for.
type stubAggregator struct {
	used  decimal.Decimal
	err   error
	calls int
	asOf  time.Time
}

func (s *stubAggregator) WindowSpend(ctx context.Context, cardID string, interval model.Interval, asOf time.Time) (decimal.Decimal, error) {
	s.calls++
	s.asOf = asOf
	return s.used, s.err
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func limited(amount string, interval model.Interval) model.ControlSet {
	c := model.DefaultControls()
	a := dec(amount)
	c.SpendLimitAmount = &a
	c.SpendLimitInterval = &interval
	return c
}

func request(amount string) Request {
	return Request{
		Amount:      dec(amount),
		Currency:    "USD",
		MerchantID:  "m_1",
		MCC:         "5999",
		Country:     "US",
		Presentment: model.PresentmentOnline,
	}
}

func TestEvaluator_Order(t *testing.T) {
	restrictive := model.ControlSet{
		PresentmentModes: []model.PresentmentMode{model.PresentmentCardPresent},
		MerchantAllow:    []string{"m_other"},
		MCCAllow:         []string{"1234"},
		CountryAllow:     []string{"CA"},
	}

	tests := []struct {
		name   string
		status model.CardStatus
		mutate func(c *model.ControlSet)
		want   model.Reason
	}{
		{"frozen beats everything", model.CardFrozen, func(c *model.ControlSet) {}, model.ReasonCardInactive},
		{"closed", model.CardClosed, func(c *model.ControlSet) {}, model.ReasonCardInactive},
		{"replaced", model.CardReplaced, func(c *model.ControlSet) {}, model.ReasonCardInactive},
		{"presentment", model.CardActive, func(c *model.ControlSet) {}, model.ReasonPresentmentBlocked},
		{"merchant", model.CardActive, func(c *model.ControlSet) {
			c.PresentmentModes = []model.PresentmentMode{model.PresentmentOnline}
		}, model.ReasonMerchantNotWhitelisted},
		{"mcc", model.CardActive, func(c *model.ControlSet) {
			c.PresentmentModes = []model.PresentmentMode{model.PresentmentOnline}
			c.MerchantAllow = nil
		}, model.ReasonMCCBlocked},
		{"country", model.CardActive, func(c *model.ControlSet) {
			c.PresentmentModes = []model.PresentmentMode{model.PresentmentOnline}
			c.MerchantAllow = nil
			c.MCCAllow = nil
		}, model.ReasonCountryBlocked},
	}

	for _, tt := range tests {
		controls := restrictive.Clone()
		tt.mutate(&controls)
		card := &model.Card{ID: "card_1", Status: tt.status, Controls: controls}

		agg := &stubAggregator{}
		d, err := NewEvaluator(agg, nil).Evaluate(context.Background(), card, request("10"))
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tt.name, err)
		}
		if d.Allow || d.Reason != tt.want {
			t.Errorf("%s: expected %s, got %+v", tt.name, tt.want, d)
		}
		if agg.calls != 0 {
			t.Errorf("%s: spend should not be read before static checks pass", tt.name)
		}
	}
}

func TestEvaluator_EmptyAllowListAllowsNothing(t *testing.T) {
	controls := model.DefaultControls()
	controls.MCCAllow = []string{}
	card := &model.Card{ID: "card_1", Status: model.CardActive, Controls: controls}

	d, _ := NewEvaluator(&stubAggregator{}, nil).Evaluate(context.Background(), card, request("1"))
	if d.Reason != model.ReasonMCCBlocked {
		t.Errorf("Expected mcc_blocked for empty allow-list, got %+v", d)
	}
}

func TestEvaluator_SpendLimit(t *testing.T) {
	asOf := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	card := &model.Card{ID: "card_1", Status: model.CardActive, Controls: limited("100", model.IntervalDaily)}

	tests := []struct {
		used   string
		amount string
		allow  bool
	}{
		{"0", "100", true},
		{"60", "40", true}, // exactly at the limit
		{"60", "40.01", false},
		{"60", "50", false},
		{"100", "0.01", false},
	}

	for _, tt := range tests {
		agg := &stubAggregator{used: dec(tt.used)}
		d, err := NewEvaluator(agg, nil).EvaluateAt(context.Background(), card, request(tt.amount), asOf)
		if err != nil {
			t.Fatalf("unexpected error %v", err)
		}
		if d.Allow != tt.allow {
			t.Errorf("used=%s amount=%s: expected allow=%v, got %+v", tt.used, tt.amount, tt.allow, d)
		}
		if !tt.allow && d.Reason != model.ReasonSpendLimitExceeded {
			t.Errorf("Expected spend_limit_exceeded, got %s", d.Reason)
		}
		if !agg.asOf.Equal(asOf) {
			t.Errorf("Expected window to end at %v, got %v", asOf, agg.asOf)
		}
	}
}

func TestEvaluator_LimitNeedsAmountAndInterval(t *testing.T) {
	controls := model.DefaultControls()
	amount := dec("1")
	controls.SpendLimitAmount = &amount
	card := &model.Card{ID: "card_1", Status: model.CardActive, Controls: controls}

	agg := &stubAggregator{used: dec("1000")}
	d, _ := NewEvaluator(agg, nil).Evaluate(context.Background(), card, request("50"))
	if !d.Allow {
		t.Errorf("Expected approval without an interval, got %+v", d)
	}
	if agg.calls != 0 {
		t.Error("Expected no spend lookup without a complete limit")
	}
}

func TestEvaluator_ZeroLimitIsUnrestricted(t *testing.T) {
	card := &model.Card{ID: "card_1", Status: model.CardActive, Controls: limited("0", model.IntervalDaily)}

	agg := &stubAggregator{used: dec("0")}
	d, err := NewEvaluator(agg, nil).Evaluate(context.Background(), card, request("10"))
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if !d.Allow {
		t.Errorf("Expected approval with a zero limit, got %+v", d)
	}
	if agg.calls != 0 {
		t.Error("Expected no spend lookup for a zero limit")
	}
}

func TestEvaluator_SpendLookupFailure(t *testing.T) {
	card := &model.Card{ID: "card_1", Status: model.CardActive, Controls: limited("100", model.IntervalWeekly)}
	boom := errors.New("backend down")

	_, err := NewEvaluator(&stubAggregator{err: boom}, nil).Evaluate(context.Background(), card, request("1"))
	if !errors.Is(err, boom) {
		t.Errorf("Expected lookup error, got %v", err)
	}
}

func TestDecision_Err(t *testing.T) {
	if Allowed.Err() != nil {
		t.Error("Expected nil error for an approval")
	}

	err := Decision{Reason: model.ReasonCountryBlocked}.Err()
	if reason, ok := model.DenialReason(err); !ok || reason != model.ReasonCountryBlocked {
		t.Errorf("Expected country_blocked denial, got %v", err)
	}
	if !model.IsDenied(err) {
		t.Error("Expected IsDenied")
	}
}
