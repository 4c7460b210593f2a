// Package bolt provides a BoltDB-backed ledger.
//
// BoltDB is an embedded key/value store: every table is a bucket in a single
// file, so a node can keep its ledger without an external database process.
// Each bucket maps an entity id to the JSON encoding of its ledger.Record.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "github.com/boltdb/bolt"

	"cardctl/pkg/ledger"
)

// BoltStore wraps a BoltDB database and satisfies ledger.Store.
type BoltStore struct {
	db   *bolt.DB
	name string
}

// BoltStoreConfig holds the database location and open options.
type BoltStoreConfig struct {
	Name string
	// Path is the database file, created if missing.
	Path string
	// OpenTimeout bounds how long Open waits for the file lock.
	OpenTimeout time.Duration
}

// DefaultBoltStoreConfig returns a config writing to ./cardctl.db.
func DefaultBoltStoreConfig() BoltStoreConfig {
	return BoltStoreConfig{
		Name:        "bolt",
		Path:        "cardctl.db",
		OpenTimeout: time.Second,
	}
}

// NewBoltStore opens (or creates) the database and ensures one bucket per kind.
func NewBoltStore(config BoltStoreConfig) (*BoltStore, error) {
	if config.Name == "" {
		config.Name = "bolt"
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = time.Second
	}

	db, err := bolt.Open(config.Path, 0600, &bolt.Options{Timeout: config.OpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("bolt: open %s: %w", config.Path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, k := range ledger.Kinds {
			if _, err := tx.CreateBucketIfNotExists([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("bolt: create buckets: %w", err)
	}

	return &BoltStore{db: db, name: config.Name}, nil
}

// Get retrieves a single record by kind and id.
func (s *BoltStore) Get(ctx context.Context, kind ledger.Kind, id string) (*ledger.Record, error) {
	if err := validate(kind, id); err != nil {
		return nil, err
	}

	var rec ledger.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(kind)).Get([]byte(id))
		if v == nil {
			return ledger.ErrNotFound
		}
		return json.Unmarshal(v, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Put writes rec in one transaction, keeping CreatedAt of an existing record.
func (s *BoltStore) Put(ctx context.Context, rec *ledger.Record) error {
	if err := validate(rec.Kind, rec.ID); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(rec.Kind))

		stored := rec.Clone()
		if existing := b.Get([]byte(rec.ID)); existing != nil {
			var prev ledger.Record
			if err := json.Unmarshal(existing, &prev); err != nil {
				return err
			}
			stored.CreatedAt = prev.CreatedAt
		}

		data, err := json.Marshal(stored)
		if err != nil {
			return err
		}
		return b.Put([]byte(rec.ID), data)
	})
}

// Delete removes a record. Deleting a missing key is a no-op.
func (s *BoltStore) Delete(ctx context.Context, kind ledger.Kind, id string) error {
	if err := validate(kind, id); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(kind)).Delete([]byte(id))
	})
}

// Scan walks the bucket, keeps matching records and sorts them.
func (s *BoltStore) Scan(ctx context.Context, kind ledger.Kind, filter ledger.Filter) ([]*ledger.Record, error) {
	if !kind.Valid() {
		return nil, ledger.ErrInvalidKey
	}

	out := make([]*ledger.Record, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(kind)).ForEach(func(k, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec ledger.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if filter.Match(&rec) {
				out = append(out, &rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	ledger.SortRecords(out)
	return out, nil
}

// Name returns the backend name.
func (s *BoltStore) Name() string {
	return s.name
}

// Close releases the database file lock.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func validate(kind ledger.Kind, id string) error {
	if !kind.Valid() {
		return ledger.ErrInvalidKey
	}
	return ledger.ValidateID(id)
}
