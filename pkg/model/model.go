// Package model defines the card program entities shared by every layer:
// cards and their control sets, transactions, disputes, merchant tokens
// and share links.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CardStatus is the lifecycle state of a card. Exactly one holds at a time.
type CardStatus string

const (
	CardActive   CardStatus = "active"
	CardFrozen   CardStatus = "frozen"
	CardReplaced CardStatus = "replaced"
	CardClosed   CardStatus = "closed"
)

// CardKind is the instrument kind. It never changes after creation.
type CardKind string

const (
	CardPhysical  CardKind = "physical"
	CardVirtual   CardKind = "virtual"
	CardSingleUse CardKind = "single_use"
)

// Valid reports whether k is a known card kind.
func (k CardKind) Valid() bool {
	switch k {
	case CardPhysical, CardVirtual, CardSingleUse:
		return true
	}
	return false
}

// PresentmentMode is the channel a transaction is presented through.
type PresentmentMode string

const (
	PresentmentOnline      PresentmentMode = "online"
	PresentmentCardPresent PresentmentMode = "card_present"
)

// Valid reports whether m is a known presentment mode.
func (m PresentmentMode) Valid() bool {
	return m == PresentmentOnline || m == PresentmentCardPresent
}

// Interval is the spend-limit window.
type Interval string

const (
	IntervalDaily      Interval = "daily"
	IntervalWeekly     Interval = "weekly"
	IntervalMonthly    Interval = "monthly"
	IntervalRolling30d Interval = "rolling_30d"
)

// Valid reports whether i is a known spend-limit interval.
func (i Interval) Valid() bool {
	switch i {
	case IntervalDaily, IntervalWeekly, IntervalMonthly, IntervalRolling30d:
		return true
	}
	return false
}

// Lookback returns how far back from the reference instant the window starts.
// Monthly and rolling_30d both use a 30 day lookback.
func (i Interval) Lookback() time.Duration {
	switch i {
	case IntervalDaily:
		return 24 * time.Hour
	case IntervalWeekly:
		return 7 * 24 * time.Hour
	default:
		return 30 * 24 * time.Hour
	}
}

// ControlSet holds the spend controls of a card.
// A nil allow-list means unrestricted; an empty non-nil list allows nothing.
type ControlSet struct {
	MCCAllow                []string          `json:"mcc_allow"`
	MerchantAllow           []string          `json:"merchant_allow"`
	CountryAllow            []string          `json:"country_allow"`
	PresentmentModes        []PresentmentMode `json:"presentment_modes"`
	SpendLimitAmount        *decimal.Decimal  `json:"spend_limit_amount"`
	SpendLimitInterval      *Interval         `json:"spend_limit_interval"`
	MagstripeEnabled        bool              `json:"magstripe_enabled"`
	ContactlessOfflineLimit *decimal.Decimal  `json:"contactless_offline_limit"`
}

// DefaultControls returns the control set a new card starts with: online only.
func DefaultControls() ControlSet {
	return ControlSet{
		PresentmentModes: []PresentmentMode{PresentmentOnline},
	}
}

// AllowsPresentment reports whether mode is in the allowed presentment set.
func (c ControlSet) AllowsPresentment(mode PresentmentMode) bool {
	for _, m := range c.PresentmentModes {
		if m == mode {
			return true
		}
	}
	return false
}

// HasSpendLimit reports whether both a limit amount and interval are set.
// A zero amount means no limit.
func (c ControlSet) HasSpendLimit() bool {
	return c.SpendLimitAmount != nil && !c.SpendLimitAmount.IsZero() && c.SpendLimitInterval != nil
}

// Clone returns a deep copy of the control set.
func (c ControlSet) Clone() ControlSet {
	out := c
	out.MCCAllow = cloneStrings(c.MCCAllow)
	out.MerchantAllow = cloneStrings(c.MerchantAllow)
	out.CountryAllow = cloneStrings(c.CountryAllow)
	if c.PresentmentModes != nil {
		out.PresentmentModes = append([]PresentmentMode{}, c.PresentmentModes...)
	}
	if c.SpendLimitAmount != nil {
		v := *c.SpendLimitAmount
		out.SpendLimitAmount = &v
	}
	if c.SpendLimitInterval != nil {
		v := *c.SpendLimitInterval
		out.SpendLimitInterval = &v
	}
	if c.ContactlessOfflineLimit != nil {
		v := *c.ContactlessOfflineLimit
		out.ContactlessOfflineLimit = &v
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string{}, in...)
}

// Card is a spending instrument owned by exactly one user.
type Card struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	Label            string     `json:"label"`
	Status           CardStatus `json:"status"`
	Kind             CardKind   `json:"type"`
	Controls         ControlSet `json:"controls"`
	PANLast4         string     `json:"pan_last4"`
	CVVHint          string     `json:"cvv_hint"`
	ReplacedByCardID string     `json:"replaced_by_card_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// MaskedPAN renders the masked card number shown to users.
func (c *Card) MaskedPAN() string {
	return "4111 11XX XXXX " + c.PANLast4
}

// TransactionType classifies a monetary event.
type TransactionType string

const (
	TxnPreauth  TransactionType = "preauth"
	TxnCapture  TransactionType = "capture"
	TxnRefund   TransactionType = "refund"
	TxnReversal TransactionType = "reversal"
	TxnFee      TransactionType = "fee"
)

// TransactionStatus is the settlement state of a transaction.
type TransactionStatus string

const (
	TxnPending  TransactionStatus = "pending"
	TxnPosted   TransactionStatus = "posted"
	TxnReversed TransactionStatus = "reversed"
)

// Metadata keys written by the lifecycle manager.
const (
	MetaCountry         = "country"
	MetaPresentmentMode = "presentment_mode"
	MetaDisputeID       = "dispute_id"
	MetaRefundOf        = "refund_of"
)

// Transaction is one monetary event against a card. CreatedAt never changes
// and is the ordering key for spend windows.
type Transaction struct {
	ID             string            `json:"id"`
	UserID         string            `json:"user_id"`
	CardID         string            `json:"card_id"`
	MerchantName   string            `json:"merchant_name"`
	MerchantID     string            `json:"merchant_id,omitempty"`
	MCC            string            `json:"mcc,omitempty"`
	Currency       string            `json:"currency"`
	Amount         decimal.Decimal   `json:"amount"`
	Type           TransactionType   `json:"type"`
	Status         TransactionStatus `json:"status"`
	AuthHoldAmount *decimal.Decimal  `json:"auth_hold_amount,omitempty"`
	PostedAmount   *decimal.Decimal  `json:"posted_amount,omitempty"`
	Metadata       map[string]string `json:"metadata"`
	Receipts       []string          `json:"receipts"`
	CreatedAt      time.Time         `json:"created_at"`
}

// IsPostedCapture reports whether the transaction counts toward spend windows.
func (t *Transaction) IsPostedCapture() bool {
	return t.Status == TxnPosted && t.Type == TxnCapture
}

// SettledMagnitude returns abs(posted amount), falling back to abs(amount)
// when nothing was posted.
func (t *Transaction) SettledMagnitude() decimal.Decimal {
	if t.PostedAmount != nil && !t.PostedAmount.IsZero() {
		return t.PostedAmount.Abs()
	}
	return t.Amount.Abs()
}

// DisputeStatus moves strictly forward; resolved, partial_credit and
// rejected are terminal.
type DisputeStatus string

const (
	DisputeDraft         DisputeStatus = "draft"
	DisputeSubmitted     DisputeStatus = "submitted"
	DisputeResolved      DisputeStatus = "resolved"
	DisputePartialCredit DisputeStatus = "partial_credit"
	DisputeRejected      DisputeStatus = "rejected"
)

// IsResolution reports whether s is a valid terminal result.
func (s DisputeStatus) IsResolution() bool {
	return s == DisputeResolved || s == DisputePartialCredit || s == DisputeRejected
}

// Dispute is a case filed against a transaction. It never holds a balance;
// credits are refund transactions.
type Dispute struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	TxnID      string          `json:"txn_id"`
	Reason     string          `json:"reason"`
	Amount     decimal.Decimal `json:"amount"`
	Evidence   []string        `json:"evidence"`
	Status     DisputeStatus   `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty"`
}

// MerchantToken records that a card has been used at a merchant.
type MerchantToken struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	CardID       string    `json:"card_id"`
	MerchantID   string    `json:"merchant_id"`
	MerchantName string    `json:"merchant_name"`
	CreatedAt    time.Time `json:"created_at"`
}

// ShareLink is a time-boxed capability exposing masked card credentials.
type ShareLink struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CardID    string    `json:"card_id"`
	MaskedPAN string    `json:"masked_pan"`
	CVVHint   string    `json:"cvv_hint"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the link is past its expiry at now.
func (s *ShareLink) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Clock returns the current instant. Services take one so tests can pin time.
type Clock func() time.Time

// SystemClock returns the current UTC time truncated to microseconds, the
// finest precision every ledger backend stores.
func SystemClock() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
