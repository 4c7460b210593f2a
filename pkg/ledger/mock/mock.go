// Package mock provides a hook-driven ledger.Store for tests.
package mock

import (
	"context"
	"sync/atomic"

	"cardctl/pkg/ledger"
)

// MockStore is a mock implementation of ledger.Store for testing.
// It allows injecting custom behavior for each method and tracks call counts.
type MockStore struct {
	// Function hooks - set these to customize behavior
	GetFunc    func(ctx context.Context, kind ledger.Kind, id string) (*ledger.Record, error)
	PutFunc    func(ctx context.Context, rec *ledger.Record) error
	DeleteFunc func(ctx context.Context, kind ledger.Kind, id string) error
	ScanFunc   func(ctx context.Context, kind ledger.Kind, filter ledger.Filter) ([]*ledger.Record, error)
	NameFunc   func() string
	CloseFunc  func() error

	// Call tracking (must use atomic operations for race-free access)
	getCalls    int64
	putCalls    int64
	deleteCalls int64
	scanCalls   int64
	closeCalls  int64
}

// Get implements ledger.Store.Get with optional custom behavior.
// Without a hook every id is missing.
func (m *MockStore) Get(ctx context.Context, kind ledger.Kind, id string) (*ledger.Record, error) {
	atomic.AddInt64(&m.getCalls, 1)
	if m.GetFunc != nil {
		return m.GetFunc(ctx, kind, id)
	}
	return nil, ledger.ErrNotFound
}

// Put implements ledger.Store.Put with optional custom behavior.
func (m *MockStore) Put(ctx context.Context, rec *ledger.Record) error {
	atomic.AddInt64(&m.putCalls, 1)
	if m.PutFunc != nil {
		return m.PutFunc(ctx, rec)
	}
	return nil
}

// Delete implements ledger.Store.Delete with optional custom behavior.
func (m *MockStore) Delete(ctx context.Context, kind ledger.Kind, id string) error {
	atomic.AddInt64(&m.deleteCalls, 1)
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, kind, id)
	}
	return nil
}

// Scan implements ledger.Store.Scan with optional custom behavior.
func (m *MockStore) Scan(ctx context.Context, kind ledger.Kind, filter ledger.Filter) ([]*ledger.Record, error) {
	atomic.AddInt64(&m.scanCalls, 1)
	if m.ScanFunc != nil {
		return m.ScanFunc(ctx, kind, filter)
	}
	return nil, nil
}

// Name implements ledger.Store.Name with optional custom behavior.
func (m *MockStore) Name() string {
	if m.NameFunc != nil {
		return m.NameFunc()
	}
	return "mock"
}

// Close implements ledger.Store.Close with optional custom behavior.
func (m *MockStore) Close() error {
	atomic.AddInt64(&m.closeCalls, 1)
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// GetCalls returns the number of Get calls (thread-safe).
func (m *MockStore) GetCalls() int {
	return int(atomic.LoadInt64(&m.getCalls))
}

// PutCalls returns the number of Put calls (thread-safe).
func (m *MockStore) PutCalls() int {
	return int(atomic.LoadInt64(&m.putCalls))
}

// DeleteCalls returns the number of Delete calls (thread-safe).
func (m *MockStore) DeleteCalls() int {
	return int(atomic.LoadInt64(&m.deleteCalls))
}

// ScanCalls returns the number of Scan calls (thread-safe).
func (m *MockStore) ScanCalls() int {
	return int(atomic.LoadInt64(&m.scanCalls))
}

// CloseCalls returns the number of Close calls (thread-safe).
func (m *MockStore) CloseCalls() int {
	return int(atomic.LoadInt64(&m.closeCalls))
}

// NewMockStore creates a MockStore named name with default behavior.
func NewMockStore(name string) *MockStore {
	return &MockStore{
		NameFunc: func() string { return name },
	}
}

// NewFailingStore creates a MockStore whose every operation fails with err.
func NewFailingStore(name string, err error) *MockStore {
	return &MockStore{
		NameFunc: func() string { return name },
		GetFunc: func(ctx context.Context, kind ledger.Kind, id string) (*ledger.Record, error) {
			return nil, err
		},
		PutFunc: func(ctx context.Context, rec *ledger.Record) error {
			return err
		},
		DeleteFunc: func(ctx context.Context, kind ledger.Kind, id string) error {
			return err
		},
		ScanFunc: func(ctx context.Context, kind ledger.Kind, filter ledger.Filter) ([]*ledger.Record, error) {
			return nil, err
		},
	}
}
