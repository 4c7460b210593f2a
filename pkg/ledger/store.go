// Package ledger holds the entity tables of the card program behind a
// swappable Store. Backends only know about kinds, keys, index columns and
// opaque JSON bodies; Repository adds the typed view.
package ledger

import (
	"context"
	"sort"
	"time"
)

// Kind names an entity table.
type Kind string

const (
	KindCard          Kind = "cards"
	KindTransaction   Kind = "transactions"
	KindDispute       Kind = "disputes"
	KindMerchantToken Kind = "merchant_tokens"
	KindShareLink     Kind = "share_links"
)

// Kinds lists every table in a stable order.
var Kinds = []Kind{KindCard, KindTransaction, KindDispute, KindMerchantToken, KindShareLink}

// Valid reports whether k is a known table.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Store defines the interface that all ledger backends must satisfy.
type Store interface {
	// Get returns the record stored under kind/id, or ErrNotFound.
	Get(ctx context.Context, kind Kind, id string) (*Record, error)

	// Put inserts or replaces a record. CreatedAt of an existing record is
	// kept as first written.
	Put(ctx context.Context, rec *Record) error

	// Delete removes a record. Deleting a missing record is not an error.
	Delete(ctx context.Context, kind Kind, id string) error

	// Scan returns the records of kind matching filter, ordered by CreatedAt
	// and then ID.
	Scan(ctx context.Context, kind Kind, filter Filter) ([]*Record, error)

	// Name returns the identifier for this backend, used for logs and metrics.
	Name() string

	// Close releases any resources held by the backend.
	Close() error
}

// Record is one stored entity: index columns plus the JSON body.
type Record struct {
	Kind      Kind      `json:"kind"`
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	CardID    string    `json:"card_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Body      []byte    `json:"body"`
}

// Clone returns a copy that shares no memory with r.
func (r *Record) Clone() *Record {
	c := *r
	c.Body = append([]byte(nil), r.Body...)
	return &c
}

// Filter narrows a Scan. Zero fields do not filter.
type Filter struct {
	OwnerID string
	CardID  string
	// Since and Until bound CreatedAt inclusively.
	Since time.Time
	Until time.Time
}

// Match reports whether rec passes the filter.
func (f Filter) Match(rec *Record) bool {
	if f.OwnerID != "" && rec.OwnerID != f.OwnerID {
		return false
	}
	if f.CardID != "" && rec.CardID != f.CardID {
		return false
	}
	if !f.Since.IsZero() && rec.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && rec.CreatedAt.After(f.Until) {
		return false
	}
	return true
}

// SortRecords orders records by CreatedAt, breaking ties by ID, so that
// scans give the same answer regardless of backend iteration order.
func SortRecords(recs []*Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.Before(recs[j].CreatedAt)
		}
		return recs[i].ID < recs[j].ID
	})
}
