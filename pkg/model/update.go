package model

import (
	"bytes"
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Field is an optional value in a partial update. Set records whether the
// field was supplied at all; a supplied null leaves Value nil and clears the
// target.
type Field[T any] struct {
	Set   bool
	Value *T
}

// SetTo returns a supplied field holding v.
func SetTo[T any](v T) Field[T] {
	return Field[T]{Set: true, Value: &v}
}

// Clear returns a supplied field holding null.
func Clear[T any]() Field[T] {
	return Field[T]{Set: true}
}

// UnmarshalJSON marks the field as supplied, including for an explicit null.
func (f *Field[T]) UnmarshalJSON(data []byte) error {
	f.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		f.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	f.Value = &v
	return nil
}

// MarshalJSON renders the value or null.
func (f Field[T]) MarshalJSON() ([]byte, error) {
	if f.Value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*f.Value)
}

// ControlUpdate enumerates each updatable control. Unsupplied fields are left
// untouched.
type ControlUpdate struct {
	MCCAllow                Field[[]string]          `json:"mcc_allow"`
	MerchantAllow           Field[[]string]          `json:"merchant_allow"`
	CountryAllow            Field[[]string]          `json:"country_allow"`
	PresentmentModes        Field[[]PresentmentMode] `json:"presentment_modes"`
	SpendLimitAmount        Field[decimal.Decimal]   `json:"spend_limit_amount"`
	SpendLimitInterval      Field[Interval]          `json:"spend_limit_interval"`
	MagstripeEnabled        Field[bool]              `json:"magstripe_enabled"`
	ContactlessOfflineLimit Field[decimal.Decimal]   `json:"contactless_offline_limit"`
}

// Validate checks every supplied field without touching any card.
func (u ControlUpdate) Validate() error {
	if u.PresentmentModes.Set {
		if u.PresentmentModes.Value == nil || len(*u.PresentmentModes.Value) == 0 {
			return Validationf("presentment_modes must not be empty")
		}
		for _, m := range *u.PresentmentModes.Value {
			if !m.Valid() {
				return Validationf("unknown presentment mode %q", m)
			}
		}
	}
	if u.SpendLimitAmount.Set && u.SpendLimitAmount.Value != nil && u.SpendLimitAmount.Value.IsNegative() {
		return Validationf("spend_limit_amount must not be negative")
	}
	if u.SpendLimitInterval.Set && u.SpendLimitInterval.Value != nil && !u.SpendLimitInterval.Value.Valid() {
		return Validationf("unknown spend_limit_interval %q", *u.SpendLimitInterval.Value)
	}
	if u.MagstripeEnabled.Set && u.MagstripeEnabled.Value == nil {
		return Validationf("magstripe_enabled must not be null")
	}
	if u.ContactlessOfflineLimit.Set && u.ContactlessOfflineLimit.Value != nil && u.ContactlessOfflineLimit.Value.IsNegative() {
		return Validationf("contactless_offline_limit must not be negative")
	}
	return nil
}

// Apply returns c with every supplied field overwritten. c is not modified.
func (u ControlUpdate) Apply(c ControlSet) ControlSet {
	out := c.Clone()
	if u.MCCAllow.Set {
		out.MCCAllow = derefStrings(u.MCCAllow.Value)
	}
	if u.MerchantAllow.Set {
		out.MerchantAllow = derefStrings(u.MerchantAllow.Value)
	}
	if u.CountryAllow.Set {
		out.CountryAllow = derefStrings(u.CountryAllow.Value)
	}
	if u.PresentmentModes.Set && u.PresentmentModes.Value != nil {
		out.PresentmentModes = append([]PresentmentMode{}, (*u.PresentmentModes.Value)...)
	}
	if u.SpendLimitAmount.Set {
		out.SpendLimitAmount = copyPtr(u.SpendLimitAmount.Value)
	}
	if u.SpendLimitInterval.Set {
		out.SpendLimitInterval = copyPtr(u.SpendLimitInterval.Value)
	}
	if u.MagstripeEnabled.Set && u.MagstripeEnabled.Value != nil {
		out.MagstripeEnabled = *u.MagstripeEnabled.Value
	}
	if u.ContactlessOfflineLimit.Set {
		out.ContactlessOfflineLimit = copyPtr(u.ContactlessOfflineLimit.Value)
	}
	return out
}

func derefStrings(v *[]string) []string {
	if v == nil {
		return nil
	}
	return append([]string{}, (*v)...)
}

func copyPtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
