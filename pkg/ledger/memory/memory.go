package memory

import (
	"context"
	"sync"

	"cardctl/pkg/ledger"
)

// MemoryStore is an in-memory ledger backend that satisfies the ledger.Store
// interface. It is safe for concurrent use and keeps nothing across restarts.
type MemoryStore struct {
	// tables stores records per kind, keyed by id
	tables map[ledger.Kind]map[string]*ledger.Record

	// mu protects concurrent access to tables
	mu sync.RWMutex

	config MemoryStoreConfig
	closed bool
}

// MemoryStoreConfig holds configuration for the memory store
type MemoryStoreConfig struct {
	// Name is the backend identifier
	Name string

	// MaxRecordsPerKind caps each table (0 = unlimited). Puts of new ids
	// beyond the cap fail with ledger.ErrUnavailable.
	MaxRecordsPerKind int
}

// NewMemoryStore creates a new in-memory store with the given configuration.
func NewMemoryStore(config MemoryStoreConfig) *MemoryStore {
	if config.Name == "" {
		config.Name = "memory"
	}

	tables := make(map[ledger.Kind]map[string]*ledger.Record, len(ledger.Kinds))
	for _, k := range ledger.Kinds {
		tables[k] = make(map[string]*ledger.Record)
	}

	return &MemoryStore{
		tables: tables,
		config: config,
	}
}

// Get returns a copy of the stored record.
func (s *MemoryStore) Get(ctx context.Context, kind ledger.Kind, id string) (*ledger.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validate(kind, id); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ledger.ErrUnavailable
	}

	rec, ok := s.tables[kind][id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return rec.Clone(), nil
}

// Put stores a copy of rec. An existing record keeps its original CreatedAt.
func (s *MemoryStore) Put(ctx context.Context, rec *ledger.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validate(rec.Kind, rec.ID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ledger.ErrUnavailable
	}

	table := s.tables[rec.Kind]
	stored := rec.Clone()
	if existing, ok := table[rec.ID]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else if s.config.MaxRecordsPerKind > 0 && len(table) >= s.config.MaxRecordsPerKind {
		return ledger.ErrUnavailable
	}
	table[rec.ID] = stored

	return nil
}

// Delete removes a record. Returns nil even if it doesn't exist.
func (s *MemoryStore) Delete(ctx context.Context, kind ledger.Kind, id string) error {
	if err := validate(kind, id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ledger.ErrUnavailable
	}
	delete(s.tables[kind], id)
	return nil
}

// Scan returns copies of the matching records ordered by CreatedAt then ID.
func (s *MemoryStore) Scan(ctx context.Context, kind ledger.Kind, filter ledger.Filter) ([]*ledger.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !kind.Valid() {
		return nil, ledger.ErrInvalidKey
	}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ledger.ErrUnavailable
	}
	out := make([]*ledger.Record, 0)
	for _, rec := range s.tables[kind] {
		if filter.Match(rec) {
			out = append(out, rec.Clone())
		}
	}
	s.mu.RUnlock()

	ledger.SortRecords(out)
	return out, nil
}

// Name returns the backend name.
func (s *MemoryStore) Name() string {
	return s.config.Name
}

// Close drops all data. Later calls fail with ledger.ErrUnavailable.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tables = nil
	s.closed = true
	return nil
}

// Stats returns current table sizes.
func (s *MemoryStore) Stats() MemoryStoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := MemoryStoreStats{Records: make(map[ledger.Kind]int, len(s.tables))}
	for k, t := range s.tables {
		stats.Records[k] = len(t)
	}
	return stats
}

// MemoryStoreStats holds store statistics.
type MemoryStoreStats struct {
	Records map[ledger.Kind]int // Record count per kind
}

func validate(kind ledger.Kind, id string) error {
	if !kind.Valid() {
		return ledger.ErrInvalidKey
	}
	return ledger.ValidateID(id)
}
