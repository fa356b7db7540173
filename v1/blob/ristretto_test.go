package blob

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mirkobrombin/go-blobcache/v1/clock"
)

func newTestRistretto(t *testing.T) (*Ristretto, *clock.Virtual, context.Context) {
	t.Helper()
	vc := clock.NewVirtual(time.Unix(0, 0))
	r := NewRistretto(WithRistrettoClock(vc))
	t.Cleanup(r.Dispose)
	return r, vc, context.Background()
}

func TestRistrettoRoundTrip(t *testing.T) {
	r, _, ctx := newTestRistretto(t)

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

func TestRistrettoExpiration(t *testing.T) {
	r, vc, ctx := newTestRistretto(t)

	if _, err := r.Insert(ctx, "foo", []byte("v"), WithTTL(100*time.Millisecond)).Await(ctx); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	vc.Advance(50 * time.Millisecond)
	if _, err := r.Get(ctx, "foo").Await(ctx); err != nil {
		t.Fatalf("expected foo alive, got %v", err)
	}
	vc.Advance(100 * time.Millisecond)
	if _, err := r.Get(ctx, "foo").Await(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestRistrettoKeysAndVacuum(t *testing.T) {
	r, vc, ctx := newTestRistretto(t)

	if _, err := r.Insert(ctx, "live", []byte("a")).Await(ctx); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := r.Insert(ctx, "stale", []byte("b"), WithTTL(time.Millisecond)).Await(ctx); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	vc.Advance(time.Second)

	keys, err := r.Keys(ctx).Await(ctx)
	if err != nil || len(keys) != 1 || keys[0] != "live" {
		t.Fatalf("expected [live], got %v err %v", keys, err)
	}

	if _, err := r.Vacuum(ctx).Await(ctx); err != nil {
		t.Fatalf("Vacuum: %v", err)
	}
	r.mu.Lock()
	_, ok := r.meta["stale"]
	r.mu.Unlock()
	if ok {
		t.Fatal("expected stale index entry to be pruned")
	}
}

func TestRistrettoCreatedAt(t *testing.T) {
	r, vc, ctx := newTestRistretto(t)
	created := vc.Now()

	if _, err := r.Insert(ctx, "foo", []byte("v"), WithTTL(time.Millisecond)).Await(ctx); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	vc.Advance(time.Minute)
	ts, err := r.CreatedAt(ctx, "foo").Await(ctx)
	if err != nil || ts == nil || !ts.Equal(created) {
		t.Fatalf("expected stale entry metadata %v, got %v err %v", created, ts, err)
	}
	ts, err = r.CreatedAt(ctx, "absent").Await(ctx)
	if err != nil || ts != nil {
		t.Fatalf("expected nil for absent key, got %v err %v", ts, err)
	}
}

func TestRistrettoInvalidate(t *testing.T) {
	r, _, ctx := newTestRistretto(t)

	for _, k := range []string{"a", "b"} {
		if _, err := r.Insert(ctx, k, []byte(k)).Await(ctx); err != nil {
			t.Fatalf("Insert %q: %v", k, err)
		}
	}
	if _, err := r.Invalidate(ctx, "a").Await(ctx); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, err := r.Get(ctx, "a").Await(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := r.InvalidateAll(ctx).Await(ctx); err != nil {
		t.Fatalf("InvalidateAll: %v", err)
	}
	keys, err := r.Keys(ctx).Await(ctx)
	if err != nil || len(keys) != 0 {
		t.Fatalf("expected empty store, got %v err %v", keys, err)
	}
}

func TestRistrettoDispose(t *testing.T) {
	calls := 0
	r := NewRistretto(WithRistrettoOnDispose(func() { calls++ }))
	ctx := context.Background()

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
}
