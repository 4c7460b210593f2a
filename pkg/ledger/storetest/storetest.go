// Package storetest holds the behavior every ledger.Store backend must share.
// Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"cardctl/pkg/ledger"
)

// base is a fixed, microsecond-aligned instant every backend can round-trip.
var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// Run exercises newStore against the ledger.Store contract. newStore must
// return an empty store; Run closes it.
func Run(t *testing.T, newStore func(t *testing.T) ledger.Store) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s ledger.Store)
	}{
		{"GetMissing", testGetMissing},
		{"PutGet", testPutGet},
		{"PutKeepsCreatedAt", testPutKeepsCreatedAt},
		{"Delete", testDelete},
		{"ScanFilters", testScanFilters},
		{"ScanOrder", testScanOrder},
		{"InvalidKey", testInvalidKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()
			tt.fn(t, s)
		})
	}
}

func record(kind ledger.Kind, id, owner, card string, at time.Time) *ledger.Record {
	return &ledger.Record{
		Kind:      kind,
		ID:        id,
		OwnerID:   owner,
		CardID:    card,
		CreatedAt: at,
		Body:      []byte(fmt.Sprintf(`{"id":%q}`, id)),
	}
}

func mustPut(t *testing.T, s ledger.Store, rec *ledger.Record) {
	t.Helper()
	if err := s.Put(context.Background(), rec); err != nil {
		t.Fatalf("Put %s/%s failed: %v", rec.Kind, rec.ID, err)
	}
}

func ids(recs []*ledger.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// sameJSON compares bodies semantically; JSONB backends normalize whitespace.
func sameJSON(a, b []byte) bool {
	var x, y interface{}
	if json.Unmarshal(a, &x) != nil || json.Unmarshal(b, &y) != nil {
		return false
	}
	return reflect.DeepEqual(x, y)
}

func testGetMissing(t *testing.T, s ledger.Store) {
	_, err := s.Get(context.Background(), ledger.KindCard, "card_missing")
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func testPutGet(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	rec := record(ledger.KindTransaction, "txn_1", "usr_1", "card_1", base)
	mustPut(t, s, rec)

	got, err := s.Get(ctx, ledger.KindTransaction, "txn_1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.OwnerID != "usr_1" || got.CardID != "card_1" {
		t.Errorf("Index columns not preserved: %+v", got)
	}
	if !got.CreatedAt.Equal(base) {
		t.Errorf("Expected CreatedAt %v, got %v", base, got.CreatedAt)
	}
	if !sameJSON(got.Body, rec.Body) {
		t.Errorf("Expected body %s, got %s", rec.Body, got.Body)
	}

	// Same id under another kind is a different record.
	if _, err := s.Get(ctx, ledger.KindCard, "txn_1"); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("Expected ErrNotFound across kinds, got %v", err)
	}
}

func testPutKeepsCreatedAt(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	mustPut(t, s, record(ledger.KindCard, "card_1", "usr_1", "card_1", base))

	update := record(ledger.KindCard, "card_1", "usr_1", "card_1", base.Add(time.Hour))
	update.Body = []byte(`{"id":"card_1","status":"frozen"}`)
	mustPut(t, s, update)

	got, err := s.Get(ctx, ledger.KindCard, "card_1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.CreatedAt.Equal(base) {
		t.Errorf("CreatedAt changed on update: %v", got.CreatedAt)
	}
	if !sameJSON(got.Body, update.Body) {
		t.Errorf("Body not replaced: %s", got.Body)
	}
}

func testDelete(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	mustPut(t, s, record(ledger.KindShareLink, "share_1", "usr_1", "card_1", base))

	if err := s.Delete(ctx, ledger.KindShareLink, "share_1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, ledger.KindShareLink, "share_1"); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	recs, err := s.Scan(ctx, ledger.KindShareLink, ledger.Filter{CardID: "card_1"})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("Deleted record still indexed: %v", ids(recs))
	}

	if err := s.Delete(ctx, ledger.KindShareLink, "share_1"); err != nil {
		t.Errorf("Deleting a missing record should succeed, got %v", err)
	}
}

func testScanFilters(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	mustPut(t, s, record(ledger.KindTransaction, "txn_a", "usr_1", "card_1", base))
	mustPut(t, s, record(ledger.KindTransaction, "txn_b", "usr_1", "card_1", base.Add(time.Hour)))
	mustPut(t, s, record(ledger.KindTransaction, "txn_c", "usr_1", "card_2", base.Add(2*time.Hour)))
	mustPut(t, s, record(ledger.KindTransaction, "txn_d", "usr_2", "card_3", base.Add(3*time.Hour)))

	tests := []struct {
		name   string
		filter ledger.Filter
		want   []string
	}{
		{"all", ledger.Filter{}, []string{"txn_a", "txn_b", "txn_c", "txn_d"}},
		{"owner", ledger.Filter{OwnerID: "usr_1"}, []string{"txn_a", "txn_b", "txn_c"}},
		{"card", ledger.Filter{CardID: "card_1"}, []string{"txn_a", "txn_b"}},
		{"card and owner", ledger.Filter{CardID: "card_3", OwnerID: "usr_1"}, []string{}},
		{"since inclusive", ledger.Filter{Since: base.Add(time.Hour)}, []string{"txn_b", "txn_c", "txn_d"}},
		{"until inclusive", ledger.Filter{Until: base.Add(time.Hour)}, []string{"txn_a", "txn_b"}},
		{"window on card", ledger.Filter{CardID: "card_1", Since: base.Add(time.Minute), Until: base.Add(2 * time.Hour)}, []string{"txn_b"}},
	}

	for _, tt := range tests {
		recs, err := s.Scan(ctx, ledger.KindTransaction, tt.filter)
		if err != nil {
			t.Fatalf("%s: Scan failed: %v", tt.name, err)
		}
		if got := ids(recs); !equalIDs(got, tt.want) {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, got)
		}
	}
}

func testScanOrder(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	// Inserted out of order; equal timestamps tie-break on id.
	mustPut(t, s, record(ledger.KindCard, "card_z", "usr_1", "card_z", base.Add(time.Minute)))
	mustPut(t, s, record(ledger.KindCard, "card_b", "usr_1", "card_b", base))
	mustPut(t, s, record(ledger.KindCard, "card_a", "usr_1", "card_a", base))

	recs, err := s.Scan(ctx, ledger.KindCard, ledger.Filter{OwnerID: "usr_1"})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	want := []string{"card_a", "card_b", "card_z"}
	if got := ids(recs); !equalIDs(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func testInvalidKey(t *testing.T, s ledger.Store) {
	ctx := context.Background()

	if _, err := s.Get(ctx, ledger.Kind("accounts"), "x"); !errors.Is(err, ledger.ErrInvalidKey) {
		t.Errorf("Expected ErrInvalidKey for unknown kind, got %v", err)
	}
	if _, err := s.Get(ctx, ledger.KindCard, ""); !errors.Is(err, ledger.ErrInvalidKey) {
		t.Errorf("Expected ErrInvalidKey for empty id, got %v", err)
	}
	if err := s.Put(ctx, record(ledger.KindCard, "has space", "usr_1", "", base)); !errors.Is(err, ledger.ErrInvalidKey) {
		t.Errorf("Expected ErrInvalidKey for id with space, got %v", err)
	}
}
