// Package bloom puts a Bloom filter in front of a ledger.Store so lookups of
// ids that were never written skip the backend. The lifecycle manager probes
// merchant tokens on every authorization and most probes miss.
//
// A negative answer is only trustworthy when every write to the backend goes
// through this wrapper, so it suits a single process owning its ledger. Call
// Warm after opening a store that already holds data.
package bloom

import (
	"context"
	"sync"

	"cardctl/pkg/ledger"

	"github.com/bits-and-blooms/bloom/v3"
)

// BloomStore adds probabilistic membership testing to a ledger store.
type BloomStore struct {
	store  ledger.Store
	filter *bloom.BloomFilter
	mu     sync.RWMutex

	expectedItems uint
	fpRate        float64

	totalQueries   uint64
	bloomRejected  uint64
	falsePositives uint64
}

// NewBloomStore creates a new bloom filter wrapper.
func NewBloomStore(store ledger.Store, expectedItems uint, falsePositiveRate float64) *BloomStore {
	if expectedItems == 0 {
		expectedItems = 100000
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}

	return &BloomStore{
		store:         store,
		filter:        bloom.NewWithEstimates(expectedItems, falsePositiveRate),
		expectedItems: expectedItems,
		fpRate:        falsePositiveRate,
	}
}

func filterKey(kind ledger.Kind, id string) []byte {
	return []byte(string(kind) + "/" + id)
}

// Name returns the name of the underlying store.
func (bs *BloomStore) Name() string {
	return "bloom(" + bs.store.Name() + ")"
}

// Get answers ErrNotFound without a backend call when the filter has never
// seen kind/id.
func (bs *BloomStore) Get(ctx context.Context, kind ledger.Kind, id string) (*ledger.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !kind.Valid() {
		return nil, ledger.ErrInvalidKey
	}
	if err := ledger.ValidateID(id); err != nil {
		return nil, err
	}

	bs.mu.Lock()
	bs.totalQueries++
	if !bs.filter.Test(filterKey(kind, id)) {
		bs.bloomRejected++
		bs.mu.Unlock()
		return nil, ledger.ErrNotFound
	}
	bs.mu.Unlock()

	rec, err := bs.store.Get(ctx, kind, id)
	if ledger.IsNotFound(err) {
		bs.mu.Lock()
		bs.falsePositives++
		bs.mu.Unlock()
	}
	return rec, err
}

// Put records the id in the filter before writing, so a concurrent Get can
// never miss a record that has been stored.
func (bs *BloomStore) Put(ctx context.Context, rec *ledger.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	bs.mu.Lock()
	bs.filter.Add(filterKey(rec.Kind, rec.ID))
	bs.mu.Unlock()

	return bs.store.Put(ctx, rec)
}

// Delete passes through. Bloom filters cannot forget, so the id stays a
// maybe and later lookups fall through to the store.
func (bs *BloomStore) Delete(ctx context.Context, kind ledger.Kind, id string) error {
	return bs.store.Delete(ctx, kind, id)
}

func (bs *BloomStore) Scan(ctx context.Context, kind ledger.Kind, filter ledger.Filter) ([]*ledger.Record, error) {
	return bs.store.Scan(ctx, kind, filter)
}

func (bs *BloomStore) Close() error {
	return bs.store.Close()
}

// Warm loads every existing id of every kind into the filter.
func (bs *BloomStore) Warm(ctx context.Context) (int, error) {
	loaded := 0
	for _, kind := range ledger.Kinds {
		recs, err := bs.store.Scan(ctx, kind, ledger.Filter{})
		if err != nil {
			return loaded, ledger.WrapError(err, bs.store.Name(), "warm")
		}
		bs.mu.Lock()
		for _, rec := range recs {
			bs.filter.Add(filterKey(kind, rec.ID))
		}
		bs.mu.Unlock()
		loaded += len(recs)
	}
	return loaded, nil
}

// Reset clears the filter and counters. After a reset every id reads as
// absent until Warm runs again.
func (bs *BloomStore) Reset() {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	bs.filter = bloom.NewWithEstimates(bs.expectedItems, bs.fpRate)
	bs.totalQueries = 0
	bs.bloomRejected = 0
	bs.falsePositives = 0
}

// Stats returns statistics about the bloom filter.
func (bs *BloomStore) Stats() BloomStats {
	bs.mu.RLock()
	defer bs.mu.RUnlock()

	rejectionRate := 0.0
	falsePositiveRate := 0.0

	if bs.totalQueries > 0 {
		rejectionRate = float64(bs.bloomRejected) / float64(bs.totalQueries)
		queried := bs.totalQueries - bs.bloomRejected
		if queried > 0 {
			falsePositiveRate = float64(bs.falsePositives) / float64(queried)
		}
	}

	return BloomStats{
		TotalQueries:      bs.totalQueries,
		BloomRejected:     bs.bloomRejected,
		FalsePositives:    bs.falsePositives,
		RejectionRate:     rejectionRate,
		FalsePositiveRate: falsePositiveRate,
		FilterCapacity:    uint(bs.filter.Cap()),
	}
}

// BloomStats holds statistics about bloom filter performance.
type BloomStats struct {
	TotalQueries      uint64
	BloomRejected     uint64
	FalsePositives    uint64
	RejectionRate     float64
	FalsePositiveRate float64
	FilterCapacity    uint
}
