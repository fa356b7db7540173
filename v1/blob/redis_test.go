package blob

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"

	"github.com/mirkobrombin/go-blobcache/v1/clock"
)

func newTestRedis(t *testing.T, opts ...RedisOption) (*Redis, *miniredis.Miniredis, context.Context) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return NewRedis(client, opts...), mr, context.Background()
}

func TestRedisRoundTrip(t *testing.T) {
	r, _, ctx := newTestRedis(t)

	if _, err := r.Insert(ctx, "foo", []byte{1, 2, 3}).Await(ctx); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	v, err := r.Get(ctx, "foo").Await(ctx)
	if err != nil || !bytes.Equal(v, []byte{1, 2, 3}) {
		t.Fatalf("expected [1 2 3], got %v err %v", v, err)
	}

	if _, err := r.Get(ctx, "missing").Await(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRedisOverwrite(t *testing.T) {
	r, mr, ctx := newTestRedis(t)

	if _, err := r.Insert(ctx, "foo", []byte("old"), WithTypeName("Old")).Await(ctx); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := r.Insert(ctx, "foo", []byte("new")).Await(ctx); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	v, err := r.Get(ctx, "foo").Await(ctx)
	if err != nil || !bytes.Equal(v, []byte("new")) {
		t.Fatalf("expected new, got %q err %v", v, err)
	}
	if tag := mr.HGet("blob:foo", fieldTypeName); tag != "" {
		t.Fatalf("replacement must not keep the old type tag, got %q", tag)
	}
}

func TestRedisTypeName(t *testing.T) {
	r, mr, ctx := newTestRedis(t)

	if _, err := r.Insert(ctx, "user:1", []byte(`{}`), WithTypeName("User")).Await(ctx); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if tag := mr.HGet("blob:user:1", fieldTypeName); tag != "User" {
		t.Fatalf("expected type tag User, got %q", tag)
	}
}

func TestRedisExpiration(t *testing.T) {
	r, mr, ctx := newTestRedis(t)

	if _, err := r.Insert(ctx, "foo", []byte("v"), WithTTL(100*time.Millisecond)).Await(ctx); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := r.Get(ctx, "foo").Await(ctx); err != nil {
		t.Fatalf("expected foo alive, got %v", err)
	}
	mr.FastForward(200 * time.Millisecond)
	if _, err := r.Get(ctx, "foo").Await(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestRedisCreatedAt(t *testing.T) {
	start := time.Unix(1000, 0)
	r, _, ctx := newTestRedis(t, WithRedisClock(clock.NewVirtual(start)))

	if _, err := r.Insert(ctx, "foo", []byte("v")).Await(ctx); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	ts, err := r.CreatedAt(ctx, "foo").Await(ctx)
	if err != nil || ts == nil || !ts.Equal(start) {
		t.Fatalf("expected %v, got %v err %v", start, ts, err)
	}

	ts, err = r.CreatedAt(ctx, "absent").Await(ctx)
	if err != nil || ts != nil {
		t.Fatalf("expected nil for absent key, got %v err %v", ts, err)
	}
}

func TestRedisKeys(t *testing.T) {
	r, _, ctx := newTestRedis(t)

	for _, k := range []string{"a", "b", "c"} {
		if _, err := r.Insert(ctx, k, []byte(k)).Await(ctx); err != nil {
			t.Fatalf("Insert %q: %v", k, err)
		}
	}
	keys, err := r.Keys(ctx).Await(ctx)
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 3 || keys[0] != "a" || keys[1] != "b" || keys[2] != "c" {
		t.Fatalf("expected [a b c], got %v", keys)
	}
}

func TestRedisInvalidateAllKeepsForeignKeys(t *testing.T) {
	r, mr, ctx := newTestRedis(t)

	if _, err := r.Insert(ctx, "foo", []byte("v")).Await(ctx); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := mr.Set("foreign", "x"); err != nil {
		t.Fatalf("set foreign: %v", err)
	}
	if _, err := r.InvalidateAll(ctx).Await(ctx); err != nil {
		t.Fatalf("InvalidateAll: %v", err)
	}
	keys, err := r.Keys(ctx).Await(ctx)
	if err != nil || len(keys) != 0 {
		t.Fatalf("expected empty store, got %v err %v", keys, err)
	}
	if !mr.Exists("foreign") {
		t.Fatal("InvalidateAll must not touch keys outside its prefix")
	}
}

func TestRedisArgumentErrors(t *testing.T) {
	r, _, ctx := newTestRedis(t)

	if _, err := r.Insert(ctx, "", []byte("v")).Await(ctx); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}
	if _, err := r.Insert(ctx, "k", nil).Await(ctx); !errors.Is(err, ErrNilData) {
		t.Fatalf("expected ErrNilData, got %v", err)
	}
}

func TestRedisDispose(t *testing.T) {
	calls := 0
	r, _, ctx := newTestRedis(t, WithRedisOnDispose(func() { calls++ }))

	r.Dispose()
	r.Dispose()
	select {
	case <-r.Disposed():
	default:
		t.Fatal("expected shutdown channel to be closed")
	}
	if calls != 1 {
		t.Fatalf("expected release callback to run once, got %d", calls)
	}
	if _, err := r.Get(ctx, "foo").Await(ctx); !errors.Is(err, ErrDisposed) {
		t.Fatalf("expected ErrDisposed, got %v", err)
	}
	if _, err := r.Vacuum(ctx).Await(ctx); !errors.Is(err, ErrDisposed) {
		t.Fatalf("expected ErrDisposed, got %v", err)
	}
}
