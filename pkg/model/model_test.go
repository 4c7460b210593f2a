package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{Deny(ReasonMCCBlocked), "denied"},
		{fmt.Errorf("card: %w", ErrNotFound), "not_found"},
		{Validationf("bad"), "validation"},
		{Transitionf("bad"), "invalid_transition"},
		{ErrExpired, "expired"},
		{errors.New("circuit breaker is open"), "circuit_open"},
		{errors.New("context deadline exceeded"), "timeout"},
		{errors.New("disk full"), "internal"},
	}
	for _, tt := range tests {
		if got := ClassifyError(tt.err); got != tt.want {
			t.Errorf("ClassifyError(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestDenialError(t *testing.T) {
	err := fmt.Errorf("authorize: %w", Deny(ReasonCountryBlocked))

	if !IsDenied(err) {
		t.Error("Expected wrapped denial to match ErrDenied")
	}
	reason, ok := DenialReason(err)
	if !ok || reason != ReasonCountryBlocked {
		t.Errorf("Expected country_blocked, got %q %v", reason, ok)
	}
	if _, ok := DenialReason(ErrNotFound); ok {
		t.Error("ErrNotFound is not a denial")
	}
}

func TestControlUpdate_JSON(t *testing.T) {
	var u ControlUpdate
	body := `{"mcc_allow":["5411"],"spend_limit_amount":null,"magstripe_enabled":true}`
	if err := json.Unmarshal([]byte(body), &u); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if !u.MCCAllow.Set || len(*u.MCCAllow.Value) != 1 {
		t.Errorf("mcc_allow not decoded: %+v", u.MCCAllow)
	}
	if !u.SpendLimitAmount.Set || u.SpendLimitAmount.Value != nil {
		t.Errorf("Explicit null should be set with no value: %+v", u.SpendLimitAmount)
	}
	if u.CountryAllow.Set || u.SpendLimitInterval.Set {
		t.Error("Absent fields must not be set")
	}

	amount := decimal.RequireFromString("75")
	weekly := IntervalWeekly
	current := ControlSet{
		CountryAllow:       []string{"US"},
		SpendLimitAmount:   &amount,
		SpendLimitInterval: &weekly,
		PresentmentModes:   []PresentmentMode{PresentmentOnline},
	}
	next := u.Apply(current)

	if next.SpendLimitAmount != nil || next.HasSpendLimit() {
		t.Errorf("Expected spend limit amount cleared, got %v", next.SpendLimitAmount)
	}
	if next.SpendLimitInterval == nil || *next.SpendLimitInterval != IntervalWeekly {
		t.Error("Unsupplied interval changed")
	}
	if len(next.CountryAllow) != 1 || !next.MagstripeEnabled || next.MCCAllow[0] != "5411" {
		t.Errorf("Unexpected controls: %+v", next)
	}
	if current.SpendLimitAmount == nil || current.MagstripeEnabled {
		t.Error("Apply modified its input")
	}
}

func TestControlUpdate_Validate(t *testing.T) {
	negative := decimal.RequireFromString("-1")
	tests := []struct {
		name   string
		update ControlUpdate
		valid  bool
	}{
		{"empty", ControlUpdate{}, true},
		{"allow list cleared", ControlUpdate{MCCAllow: Clear[[]string]()}, true},
		{"empty allow list", ControlUpdate{MCCAllow: SetTo([]string{})}, true},
		{"card present", ControlUpdate{PresentmentModes: SetTo([]PresentmentMode{PresentmentCardPresent})}, true},
		{"no presentment", ControlUpdate{PresentmentModes: SetTo([]PresentmentMode{})}, false},
		{"null presentment", ControlUpdate{PresentmentModes: Clear[[]PresentmentMode]()}, false},
		{"bad presentment", ControlUpdate{PresentmentModes: SetTo([]PresentmentMode{"chip"})}, false},
		{"negative limit", ControlUpdate{SpendLimitAmount: SetTo(negative)}, false},
		{"bad interval", ControlUpdate{SpendLimitInterval: SetTo(Interval("hourly"))}, false},
		{"null magstripe", ControlUpdate{MagstripeEnabled: Clear[bool]()}, false},
		{"negative offline", ControlUpdate{ContactlessOfflineLimit: SetTo(negative)}, false},
	}
	for _, tt := range tests {
		err := tt.update.Validate()
		if tt.valid && err != nil {
			t.Errorf("%s: unexpected error %v", tt.name, err)
		}
		if !tt.valid && !errors.Is(err, ErrValidation) {
			t.Errorf("%s: expected ErrValidation, got %v", tt.name, err)
		}
	}
}

func TestInterval_Lookback(t *testing.T) {
	tests := map[Interval]time.Duration{
		IntervalDaily:      24 * time.Hour,
		IntervalWeekly:     7 * 24 * time.Hour,
		IntervalMonthly:    30 * 24 * time.Hour,
		IntervalRolling30d: 30 * 24 * time.Hour,
	}
	for interval, want := range tests {
		if got := interval.Lookback(); got != want {
			t.Errorf("%s: got %v, want %v", interval, got, want)
		}
	}
}

func TestTransaction_SettledMagnitude(t *testing.T) {
	posted := decimal.RequireFromString("42")
	zero := decimal.Zero

	tests := []struct {
		name string
		txn  Transaction
		want string
	}{
		{"posted", Transaction{Amount: decimal.RequireFromString("50"), PostedAmount: &posted}, "42"},
		{"zero posted", Transaction{Amount: decimal.RequireFromString("50"), PostedAmount: &zero}, "50"},
		{"refund", Transaction{Amount: decimal.RequireFromString("-30")}, "30"},
	}
	for _, tt := range tests {
		if got := tt.txn.SettledMagnitude(); !got.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("%s: got %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestControlSet_HasSpendLimit(t *testing.T) {
	weekly := IntervalWeekly
	zero := decimal.Zero
	amount := decimal.RequireFromString("5")

	if (ControlSet{SpendLimitAmount: &zero, SpendLimitInterval: &weekly}).HasSpendLimit() {
		t.Error("A zero amount should not count as a limit")
	}
	if (ControlSet{SpendLimitAmount: &amount}).HasSpendLimit() {
		t.Error("A limit needs an interval")
	}
	if !(ControlSet{SpendLimitAmount: &amount, SpendLimitInterval: &weekly}).HasSpendLimit() {
		t.Error("Expected a limit")
	}
}

func TestControlSet_Clone(t *testing.T) {
	amount := decimal.RequireFromString("10")
	c := ControlSet{MCCAllow: []string{"5999"}, SpendLimitAmount: &amount}
	clone := c.Clone()

	clone.MCCAllow[0] = "1234"
	*clone.SpendLimitAmount = decimal.RequireFromString("99")

	if c.MCCAllow[0] != "5999" || !c.SpendLimitAmount.Equal(amount) {
		t.Error("Clone shares state with the original")
	}
	if (ControlSet{}).Clone().MCCAllow != nil {
		t.Error("Clone turned a nil allow-list into an empty one")
	}
}

func TestShareLink_Expired(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	link := ShareLink{ExpiresAt: at}

	if link.Expired(at) {
		t.Error("Link should be readable at expires_at")
	}
	if !link.Expired(at.Add(time.Nanosecond)) {
		t.Error("Link should be expired after expires_at")
	}
}

func TestCard_JSON(t *testing.T) {
	card := Card{ID: "card_1", Kind: CardSingleUse, PANLast4: "4242"}
	out, err := json.Marshal(card)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(out, &m); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if m["type"] != "single_use" {
		t.Errorf("Expected type single_use, got %v", m["type"])
	}
	if _, ok := m["replaced_by_card_id"]; ok {
		t.Error("Empty replaced_by_card_id should be omitted")
	}
	if card.MaskedPAN() != "4111 11XX XXXX 4242" {
		t.Errorf("Unexpected masked PAN %s", card.MaskedPAN())
	}
}
