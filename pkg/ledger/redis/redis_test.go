package redis

import (
	"context"
	"testing"
	"time"

	"cardctl/pkg/ledger"
	"cardctl/pkg/ledger/storetest"
)

func setupTestRedis(t *testing.T) *RedisStore {
	t.Helper()

	config := DefaultRedisStoreConfig()
	config.Name = "TestRedis"
	config.KeyPrefix = "test:cardctl"
	config.DialTimeout = 2 * time.Second

	r, err := NewRedisStore(config)
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.FlushDB(ctx); err != nil {
		r.Close()
		t.Skipf("Redis not usable: %v", err)
	}

	return r
}

func TestRedisStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ledger.Store {
		return setupTestRedis(t)
	})
}

func TestRedisStore_KeyLayout(t *testing.T) {
	r := &RedisStore{keys: ledger.NewKeyPattern("cardctl", ":")}

	if got := r.recordKey(ledger.KindCard, "card_1"); got != "cardctl:cards:card_1" {
		t.Errorf("Unexpected record key %s", got)
	}
	if got := r.kindIndex(ledger.KindTransaction); got != "cardctl:transactions:idx" {
		t.Errorf("Unexpected kind index %s", got)
	}
	if got := r.cardIndex(ledger.KindTransaction, "card_1"); got != "cardctl:transactions:card:card_1" {
		t.Errorf("Unexpected card index %s", got)
	}
}

func TestNewRedisStore_NoAddress(t *testing.T) {
	config := DefaultRedisStoreConfig()
	config.Addr = ""

	if _, err := NewRedisStore(config); err == nil {
		t.Error("Expected error without any address")
	}
}
