package blob

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/mirkobrombin/go-blobcache/v1/clock"
	"github.com/mirkobrombin/go-blobcache/v1/future"
	"github.com/mirkobrombin/go-blobcache/v1/metrics"
)

// Hash fields of a stored entry.
const (
	fieldValue     = "value"
	fieldCreatedAt = "created_at"
	fieldTypeName  = "type_name"
)

// defaultKeyPrefix namespaces blobcache keys so a shared Redis database is
// not clobbered by InvalidateAll.
const defaultKeyPrefix = "blob:"

// Redis implements Store on a Redis server. Each entry is a hash holding the
// value, creation time and type tag; expiration is delegated to the server,
// so liveness follows the server clock while creation times follow the
// injected one.
type Redis struct {
	client *redis.Client
	clk    clock.Clock
	prefix string

	mu        sync.Mutex
	disposed  bool
	done      chan struct{}
	onDispose func()
}

var _ Store = (*Redis)(nil)

// RedisOption configures a Redis store.
type RedisOption func(*Redis)

// WithRedisClock sets the clock used for creation timestamps and result
// delivery. The default is the system clock.
func WithRedisClock(c clock.Clock) RedisOption {
	return func(r *Redis) {
		r.clk = c
	}
}

// WithKeyPrefix sets the namespace prepended to every key.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

// WithRedisOnDispose registers a callback invoked exactly once on Dispose.
func WithRedisOnDispose(fn func()) RedisOption {
	return func(r *Redis) {
		r.onDispose = fn
	}
}

// NewRedis returns a Store backed by the provided Redis client. The caller
// retains ownership of the client; Dispose does not close it.
func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		clk:    clock.System(),
		prefix: defaultKeyPrefix,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// asyncResult runs fn off the caller's goroutine and delivers its outcome
// through the clock's execution context.
func asyncResult[T any](clk clock.Clock, fn func() (T, error)) *future.Future[T] {
	f, complete := future.New[T]()
	go func() {
		v, err := fn()
		clk.Schedule(func() { complete(v, err) })
	}()
	return f
}

func (r *Redis) isDisposed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disposed
}

// Insert implements Store.Insert.
func (r *Redis) Insert(ctx context.Context, key string, data []byte, opts ...InsertOption) *future.Future[future.Void] {
	metrics.InsertCounter.Inc()
	if key == "" {
		return future.Rejected[future.Void](ErrEmptyKey)
	}
	if data == nil {
		return future.Rejected[future.Void](ErrNilData)
	}
	if r.isDisposed() {
		return future.Rejected[future.Void](ErrDisposed)
	}
	var cfg insertConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return asyncResult(r.clk, func() (future.Void, error) {
		now := r.clk.Now()
		k := r.prefix + key
		pipe := r.client.TxPipeline()
		pipe.Del(ctx, k)
		pipe.HSet(ctx, k,
			fieldValue, data,
			fieldCreatedAt, strconv.FormatInt(now.UnixNano(), 10),
			fieldTypeName, cfg.typeName,
		)
		if exp := cfg.expiry(now); !exp.IsZero() {
			pipe.PExpireAt(ctx, k, exp)
		}
		_, err := pipe.Exec(ctx)
		return future.Void{}, err
	})
}

// Get implements Store.Get. Expired keys are reclaimed by the server itself,
// so there is no client-side purge.
func (r *Redis) Get(ctx context.Context, key string) *future.Future[[]byte] {
	metrics.GetCounter.Inc()
	if key == "" {
		return future.Rejected[[]byte](ErrEmptyKey)
	}
	if r.isDisposed() {
		return future.Rejected[[]byte](ErrDisposed)
	}
	return asyncResult(r.clk, func() ([]byte, error) {
		data, err := r.client.HGet(ctx, r.prefix+key, fieldValue).Bytes()
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		return data, nil
	})
}

// CreatedAt implements Store.CreatedAt.
func (r *Redis) CreatedAt(ctx context.Context, key string) *future.Future[*time.Time] {
	if key == "" {
		return future.Rejected[*time.Time](ErrEmptyKey)
	}
	if r.isDisposed() {
		return future.Rejected[*time.Time](ErrDisposed)
	}
	return asyncResult(r.clk, func() (*time.Time, error) {
		raw, err := r.client.HGet(ctx, r.prefix+key, fieldCreatedAt).Result()
		if err == redis.Nil {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		ns, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, err
		}
		t := time.Unix(0, ns)
		return &t, nil
	})
}

// Keys implements Store.Keys.
func (r *Redis) Keys(ctx context.Context) *future.Future[[]string] {
	if r.isDisposed() {
		return future.Rejected[[]string](ErrDisposed)
	}
	return asyncResult(r.clk, func() ([]string, error) {
		keys := []string{}
		iter := r.client.Scan(ctx, 0, r.prefix+"*", 0).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, strings.TrimPrefix(iter.Val(), r.prefix))
		}
		if err := iter.Err(); err != nil {
			return nil, err
		}
		return keys, nil
	})
}

// Invalidate implements Store.Invalidate.
func (r *Redis) Invalidate(ctx context.Context, key string) *future.Future[future.Void] {
	metrics.InvalidateCounter.Inc()
	if key == "" {
		return future.Rejected[future.Void](ErrEmptyKey)
	}
	if r.isDisposed() {
		return future.Rejected[future.Void](ErrDisposed)
	}
	return asyncResult(r.clk, func() (future.Void, error) {
		return future.Void{}, r.client.Del(ctx, r.prefix+key).Err()
	})
}

// InvalidateAll implements Store.InvalidateAll. Only keys under the store's
// prefix are removed; the database may be shared.
func (r *Redis) InvalidateAll(ctx context.Context) *future.Future[future.Void] {
	metrics.InvalidateCounter.Inc()
	if r.isDisposed() {
		return future.Rejected[future.Void](ErrDisposed)
	}
	return asyncResult(r.clk, func() (future.Void, error) {
		iter := r.client.Scan(ctx, 0, r.prefix+"*", 0).Iterator()
		for iter.Next(ctx) {
			if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
				return future.Void{}, err
			}
		}
		return future.Void{}, iter.Err()
	})
}

// Vacuum implements Store.Vacuum. The server reclaims expired keys itself,
// so there is nothing to do.
func (r *Redis) Vacuum(ctx context.Context) *future.Future[future.Void] {
	metrics.VacuumCounter.Inc()
	if r.isDisposed() {
		return future.Rejected[future.Void](ErrDisposed)
	}
	return future.Complete(r.clk, future.Void{}, nil)
}

// Flush implements Store.Flush. Durability follows the server's own
// persistence policy.
func (r *Redis) Flush(ctx context.Context) *future.Future[future.Void] {
	if r.isDisposed() {
		return future.Rejected[future.Void](ErrDisposed)
	}
	return future.Complete(r.clk, future.Void{}, nil)
}

// Dispose implements Store.Dispose. The client stays open for its owner.
func (r *Redis) Dispose() {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return
	}
	r.disposed = true
	onDispose := r.onDispose
	r.onDispose = nil
	r.mu.Unlock()
	if onDispose != nil {
		onDispose()
	}
	close(r.done)
}

// Disposed implements Store.Disposed.
func (r *Redis) Disposed() <-chan struct{} { return r.done }
