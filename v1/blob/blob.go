package blob

import (
	"context"
	"errors"
	"time"

	"github.com/mirkobrombin/go-blobcache/v1/future"
)

var (
	// ErrNotFound is returned by Get when the key is absent or expired.
	ErrNotFound = errors.New("blob: not found")
	// ErrDisposed is returned by any operation invoked after Dispose.
	ErrDisposed = errors.New("blob: store disposed")
	// ErrEmptyKey is returned when an operation receives an empty key.
	ErrEmptyKey = errors.New("blob: empty key")
	// ErrNilData is returned by Insert when data is nil. Empty data is valid.
	ErrNilData = errors.New("blob: nil data")
)

// Store is the contract shared by every blob cache backend.
//
// Each operation returns a future that settles with exactly one value or one
// error. Argument and disposal errors settle synchronously, before the
// backing store is touched; all other outcomes, including ErrNotFound, are
// delivered through the store's clock. The context is consulted for tracing
// only: an operation runs to completion once invoked, and a caller that no
// longer wants the result discards the future.
type Store interface {
	// Insert atomically replaces any entry under key with a new one holding
	// data. Expiration and the type tag are set through options.
	Insert(ctx context.Context, key string, data []byte, opts ...InsertOption) *future.Future[future.Void]
	// Get returns the value under key, or ErrNotFound if the key is absent
	// or its entry has expired.
	Get(ctx context.Context, key string) *future.Future[[]byte]
	// CreatedAt returns the creation time of the entry under key, or nil if
	// the key is absent. Expiration is deliberately not evaluated: this is a
	// metadata query and reports stale-but-not-yet-purged entries too.
	CreatedAt(ctx context.Context, key string) *future.Future[*time.Time]
	// Keys returns the keys of all live entries, in no particular order.
	Keys(ctx context.Context) *future.Future[[]string]
	// Invalidate removes the entry under key, succeeding even if absent.
	Invalidate(ctx context.Context, key string) *future.Future[future.Void]
	// InvalidateAll empties the store, live and stale entries alike.
	InvalidateAll(ctx context.Context) *future.Future[future.Void]
	// Vacuum removes stale entries. It reclaims space only; liveness is
	// already enforced lazily on reads, so callers must not rely on Vacuum
	// for correctness.
	Vacuum(ctx context.Context) *future.Future[future.Void]
	// Flush persists pending state. Backends with nothing to persist
	// implement it as a successful no-op.
	Flush(ctx context.Context) *future.Future[future.Void]
	// Dispose releases the store. It is idempotent; every operation after
	// the first call fails with ErrDisposed.
	Dispose()
	// Disposed returns a channel closed exactly once, when the store is
	// disposed.
	Disposed() <-chan struct{}
}

// InsertOption configures a single Insert.
type InsertOption func(*insertConfig)

type insertConfig struct {
	expiresAt time.Time
	ttl       time.Duration
	typeName  string
}

// WithExpiresAt sets an absolute expiration time for the entry.
func WithExpiresAt(t time.Time) InsertOption {
	return func(c *insertConfig) {
		c.expiresAt = t
	}
}

// WithTTL sets a relative expiration, resolved against the store's clock at
// insertion time. A non-positive duration means no expiration.
func WithTTL(d time.Duration) InsertOption {
	return func(c *insertConfig) {
		c.ttl = d
	}
}

// WithTypeName tags the entry for typed layers. The tag is stored and
// otherwise ignored.
func WithTypeName(name string) InsertOption {
	return func(c *insertConfig) {
		c.typeName = name
	}
}

// expiry resolves the configured expiration against now. WithExpiresAt wins
// over WithTTL when both are given.
func (c insertConfig) expiry(now time.Time) time.Time {
	if !c.expiresAt.IsZero() {
		return c.expiresAt
	}
	if c.ttl > 0 {
		return now.Add(c.ttl)
	}
	return time.Time{}
}
