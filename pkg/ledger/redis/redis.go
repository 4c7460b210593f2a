package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"cardctl/pkg/ledger"

	"github.com/redis/rueidis"
)

// RedisStore keeps ledger records in Redis. Each record is a JSON string;
// sorted sets scored by CreatedAt (microseconds) index every kind and every
// card, so window scans only touch the card's records in the window.
type RedisStore struct {
	client rueidis.Client
	name   string
	keys   *ledger.KeyPattern
	config RedisStoreConfig
}

type RedisStoreConfig struct {
	Name string
	// Addr is the Redis server address for single node mode.
	// For cluster mode, use ClusterAddrs instead.
	Addr string
	// ClusterAddrs is a list of Redis cluster node addresses.
	// If set, cluster mode is enabled automatically.
	ClusterAddrs []string
	Username     string
	Password     string
	// DB is the Redis database number (0-15).
	// Note: In cluster mode, only DB 0 is supported.
	DB           int
	KeyPrefix    string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	// Sentinel configuration for high availability
	SentinelMasterSet string
	SentinelAddrs     []string
	SentinelUsername  string
	SentinelPassword  string
}

func DefaultRedisStoreConfig() RedisStoreConfig {
	return RedisStoreConfig{
		Name:         "redis",
		Addr:         "localhost:6379",
		DB:           0,
		KeyPrefix:    "cardctl",
		DialTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// ClusterStoreConfig returns a configuration for Redis Cluster mode.
func ClusterStoreConfig(name string, clusterAddrs []string, password string) RedisStoreConfig {
	config := DefaultRedisStoreConfig()
	config.Name = name
	config.ClusterAddrs = clusterAddrs
	config.Password = password
	config.Addr = ""
	config.DB = 0
	return config
}

func NewRedisStore(config RedisStoreConfig) (*RedisStore, error) {
	if config.Name == "" {
		config.Name = "redis"
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 5 * time.Second
	}

	var initAddress []string
	if len(config.ClusterAddrs) > 0 {
		initAddress = config.ClusterAddrs
	} else if len(config.SentinelAddrs) > 0 {
		initAddress = config.SentinelAddrs
	} else if config.Addr != "" {
		initAddress = []string{config.Addr}
	} else {
		return nil, fmt.Errorf("redis: no addresses configured (set Addr, ClusterAddrs, or SentinelAddrs)")
	}

	clientOpts := rueidis.ClientOption{
		InitAddress:      initAddress,
		Username:         config.Username,
		Password:         config.Password,
		SelectDB:         config.DB,
		ConnWriteTimeout: config.WriteTimeout,
		MaxFlushDelay:    100 * time.Microsecond,
	}

	if len(config.SentinelAddrs) > 0 {
		clientOpts.Sentinel = rueidis.SentinelOption{
			MasterSet: config.SentinelMasterSet,
			Username:  config.SentinelUsername,
			Password:  config.SentinelPassword,
		}
	}

	client, err := rueidis.NewClient(clientOpts)
	if err != nil {
		return nil, fmt.Errorf("redis: failed to create client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: failed to ping server: %w", err)
	}

	return &RedisStore{
		client: client,
		name:   config.Name,
		keys:   ledger.NewKeyPattern(config.KeyPrefix, ":"),
		config: config,
	}, nil
}

func (r *RedisStore) recordKey(kind ledger.Kind, id string) string {
	return r.keys.Build(string(kind), id)
}

func (r *RedisStore) kindIndex(kind ledger.Kind) string {
	return r.keys.Build(string(kind), "idx")
}

func (r *RedisStore) cardIndex(kind ledger.Kind, cardID string) string {
	return r.keys.Build(string(kind), "card", cardID)
}

func (r *RedisStore) Get(ctx context.Context, kind ledger.Kind, id string) (*ledger.Record, error) {
	if err := validate(kind, id); err != nil {
		return nil, err
	}

	resp := r.client.Do(ctx, r.client.B().Get().Key(r.recordKey(kind, id)).Build())
	if err := resp.Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	data, err := resp.AsBytes()
	if err != nil {
		return nil, fmt.Errorf("redis get: failed to read response: %w", err)
	}

	var rec ledger.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("redis get: failed to unmarshal: %w", err)
	}
	return &rec, nil
}

func (r *RedisStore) Put(ctx context.Context, rec *ledger.Record) error {
	if err := validate(rec.Kind, rec.ID); err != nil {
		return err
	}

	stored := rec.Clone()
	existing, err := r.Get(ctx, rec.Kind, rec.ID)
	switch {
	case err == nil:
		stored.CreatedAt = existing.CreatedAt
	case !ledger.IsNotFound(err):
		return err
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("redis put: failed to marshal: %w", err)
	}

	score := float64(stored.CreatedAt.UnixMicro())
	cmds := rueidis.Commands{
		r.client.B().Set().Key(r.recordKey(stored.Kind, stored.ID)).Value(string(data)).Build(),
		r.client.B().Zadd().Key(r.kindIndex(stored.Kind)).ScoreMember().ScoreMember(score, stored.ID).Build(),
	}
	if stored.CardID != "" {
		cmds = append(cmds, r.client.B().Zadd().Key(r.cardIndex(stored.Kind, stored.CardID)).ScoreMember().ScoreMember(score, stored.ID).Build())
	}

	var errs []error
	for _, resp := range r.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("redis put: %w", errors.Join(errs...))
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, kind ledger.Kind, id string) error {
	existing, err := r.Get(ctx, kind, id)
	if err != nil {
		if ledger.IsNotFound(err) {
			return nil
		}
		return err
	}

	cmds := rueidis.Commands{
		r.client.B().Del().Key(r.recordKey(kind, id)).Build(),
		r.client.B().Zrem().Key(r.kindIndex(kind)).Member(id).Build(),
	}
	if existing.CardID != "" {
		cmds = append(cmds, r.client.B().Zrem().Key(r.cardIndex(kind, existing.CardID)).Member(id).Build())
	}

	for _, resp := range r.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return fmt.Errorf("redis delete: %w", err)
		}
	}
	return nil
}

// Scan reads ids from the narrowest index in the CreatedAt range, then
// fetches the records in one round trip.
func (r *RedisStore) Scan(ctx context.Context, kind ledger.Kind, filter ledger.Filter) ([]*ledger.Record, error) {
	if !kind.Valid() {
		return nil, ledger.ErrInvalidKey
	}

	index := r.kindIndex(kind)
	if filter.CardID != "" {
		index = r.cardIndex(kind, filter.CardID)
	}
	min, max := "-inf", "+inf"
	if !filter.Since.IsZero() {
		min = strconv.FormatInt(filter.Since.UnixMicro(), 10)
	}
	if !filter.Until.IsZero() {
		max = strconv.FormatInt(filter.Until.UnixMicro(), 10)
	}

	resp := r.client.Do(ctx, r.client.B().Zrangebyscore().Key(index).Min(min).Max(max).Build())
	ids, err := resp.AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}

	out := make([]*ledger.Record, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	cmds := make(rueidis.Commands, len(ids))
	for i, id := range ids {
		cmds[i] = r.client.B().Get().Key(r.recordKey(kind, id)).Build()
	}

	var errs []error
	for i, resp := range r.client.DoMulti(ctx, cmds...) {
		data, err := resp.AsBytes()
		if err != nil {
			if !rueidis.IsRedisNil(err) {
				errs = append(errs, fmt.Errorf("id %s: %w", ids[i], err))
			}
			// Index entry without a record: removed between ZRANGE and GET.
			continue
		}
		var rec ledger.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			errs = append(errs, fmt.Errorf("id %s: failed to unmarshal: %w", ids[i], err))
			continue
		}
		if filter.Match(&rec) {
			out = append(out, &rec)
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("redis scan: %w", errors.Join(errs...))
	}

	ledger.SortRecords(out)
	return out, nil
}

func (r *RedisStore) Name() string {
	return r.name
}

func (r *RedisStore) Close() error {
	r.client.Close()
	return nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.client.Do(ctx, r.client.B().Ping().Build()).Error(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// FlushDB removes every key in the selected database. Tests only.
func (r *RedisStore) FlushDB(ctx context.Context) error {
	if err := r.client.Do(ctx, r.client.B().Flushdb().Build()).Error(); err != nil {
		return fmt.Errorf("redis flushdb: %w", err)
	}
	return nil
}

func validate(kind ledger.Kind, id string) error {
	if !kind.Valid() {
		return ledger.ErrInvalidKey
	}
	return ledger.ValidateID(id)
}
