package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStoreTest(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return NewRedisStore(rdb, "carpool", ttl), mr
}

func TestRedisStore(t *testing.T) {
	store, _ := newRedisStoreTest(t, time.Hour)
	exerciseStore(t, store)
}

func TestRedisStore_KeyPrefixAndTTL(t *testing.T) {
	store, mr := newRedisStoreTest(t, time.Minute)
	ctx := context.Background()

	if err := store.Set(ctx, TokenKey, []byte("v")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if !mr.Exists("carpool:" + TokenKey) {
		t.Fatalf("expected prefixed key in redis, have %v", mr.Keys())
	}
	if ttl := mr.TTL("carpool:" + TokenKey); ttl != time.Minute {
		t.Errorf("TTL = %v; want 1m", ttl)
	}

	mr.FastForward(2 * time.Minute)
	if _, err := store.Get(ctx, TokenKey); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired record: err = %v; want ErrNotFound", err)
	}
}

func TestRedisStore_ConnectionError(t *testing.T) {
	store, mr := newRedisStoreTest(t, 0)
	mr.Close()

	_, err := store.Get(context.Background(), "k")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("expected connection error, got %v", err)
	}
}
