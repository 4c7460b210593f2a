package main

import (
	"context"
	"fmt"

	"cardctl/pkg/config"
	"cardctl/pkg/ledger"
	"cardctl/pkg/ledger/bloom"
	"cardctl/pkg/ledger/bolt"
	"cardctl/pkg/ledger/memory"
	"cardctl/pkg/ledger/postgres"
	"cardctl/pkg/ledger/redis"
	"cardctl/pkg/logging"
	"cardctl/pkg/metrics"
	"cardctl/pkg/resilience"

	"go.uber.org/zap"
)

// openStore builds the configured backend and stacks the optional bloom
// filter and circuit breaker on top of it, innermost first.
func openStore(ctx context.Context, cfg config.StoreConfig, collector metrics.Collector, logger *logging.Logger) (ledger.Store, error) {
	var (
		store ledger.Store
		err   error
	)

	switch cfg.Backend {
	case config.BackendMemory:
		store = memory.NewMemoryStore(memory.MemoryStoreConfig{Name: "memory"})
	case config.BackendBolt:
		bc := bolt.DefaultBoltStoreConfig()
		bc.Path = cfg.Bolt.Path
		bc.OpenTimeout = cfg.Bolt.OpenTimeout
		store, err = bolt.NewBoltStore(bc)
	case config.BackendRedis:
		rc := redis.DefaultRedisStoreConfig()
		if len(cfg.Redis.ClusterAddrs) > 0 {
			rc = redis.ClusterStoreConfig("redis", cfg.Redis.ClusterAddrs, cfg.Redis.Password)
		} else {
			rc.Addr = cfg.Redis.Addr
			rc.Password = cfg.Redis.Password
			rc.DB = cfg.Redis.DB
		}
		rc.Username = cfg.Redis.Username
		if cfg.Redis.KeyPrefix != "" {
			rc.KeyPrefix = cfg.Redis.KeyPrefix
		}
		store, err = redis.NewRedisStore(rc)
	case config.BackendPostgres:
		pc := postgres.DefaultConfig()
		pc.Host = cfg.Postgres.Host
		pc.Port = cfg.Postgres.Port
		pc.User = cfg.Postgres.User
		pc.Password = cfg.Postgres.Password
		pc.Database = cfg.Postgres.Database
		pc.SSLMode = cfg.Postgres.SSLMode
		store, err = postgres.NewPostgresStore(pc)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Backend, err)
	}
	logger.Info("ledger store ready", zap.String("backend", store.Name()))

	if cfg.Bloom.Enabled {
		bs := bloom.NewBloomStore(store, cfg.Bloom.ExpectedItems, cfg.Bloom.FalsePositiveRate)
		n, err := bs.Warm(ctx)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("warm bloom filter: %w", err)
		}
		logger.Info("bloom filter warmed", zap.Int("records", n))
		store = bs
	}

	if cfg.Resilience.Enabled {
		store = resilience.NewResilientStoreWithMetrics(store, cfg.Resilience.Resilient(), collector)
	}

	return store, nil
}
