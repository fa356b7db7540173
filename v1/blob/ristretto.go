package blob

import (
	"context"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/mirkobrombin/go-blobcache/v1/clock"
	"github.com/mirkobrombin/go-blobcache/v1/future"
	"github.com/mirkobrombin/go-blobcache/v1/metrics"
)

// ristrettoMeta is the metadata kept outside ristretto, which stores only
// the value bytes and cannot enumerate keys or report timestamps.
type ristrettoMeta struct {
	createdAt time.Time
	expiresAt time.Time
	typeName  string
}

func (m ristrettoMeta) live(now time.Time) bool {
	return m.expiresAt.IsZero() || !now.After(m.expiresAt)
}

// Ristretto implements Store on a cost-bounded ristretto cache. Values live
// in ristretto, which may drop them under memory pressure; a mutex-guarded
// index carries the per-key metadata needed for Keys and CreatedAt.
// Expiration is enforced against the injected clock, not ristretto's own
// timers, so virtual-clock tests behave the same as with the memory store.
type Ristretto struct {
	c   *ristretto.Cache
	clk clock.Clock

	mu        sync.Mutex
	meta      map[string]ristrettoMeta
	disposed  bool
	done      chan struct{}
	onDispose func()
}

var _ Store = (*Ristretto)(nil)

// RistrettoOption configures a Ristretto store.
type RistrettoOption func(*ristrettoConfig)

type ristrettoConfig struct {
	cfg       *ristretto.Config
	clk       clock.Clock
	onDispose func()
}

// WithRistrettoConfig applies a custom ristretto configuration.
//
// If cfg is nil, defaults are used.
func WithRistrettoConfig(cfg *ristretto.Config) RistrettoOption {
	return func(c *ristrettoConfig) {
		if cfg == nil {
			return
		}
		c.cfg = cfg
	}
}

// WithRistrettoClock sets the clock used for timestamps, liveness checks and
// result delivery.
func WithRistrettoClock(c clock.Clock) RistrettoOption {
	return func(rc *ristrettoConfig) {
		rc.clk = c
	}
}

// WithRistrettoOnDispose registers a callback invoked exactly once on Dispose.
func WithRistrettoOnDispose(fn func()) RistrettoOption {
	return func(rc *ristrettoConfig) {
		rc.onDispose = fn
	}
}

// NewRistretto returns a Store backed by ristretto.
//
// Default configuration aims for a generous in-memory cache.
func NewRistretto(opts ...RistrettoOption) *Ristretto {
	rc := ristrettoConfig{
		cfg: &ristretto.Config{
			NumCounters: 1e4,     // number of keys to track frequency of (10k).
			MaxCost:     1 << 26, // maximum total value bytes (64MB by default).
			BufferItems: 64,      // number of keys per Get buffer.
		},
		clk: clock.System(),
	}
	for _, opt := range opts {
		opt(&rc)
	}
	c, err := ristretto.NewCache(rc.cfg)
	if err != nil {
		panic(err)
	}
	return &Ristretto{
		c:         c,
		clk:       rc.clk,
		meta:      make(map[string]ristrettoMeta),
		done:      make(chan struct{}),
		onDispose: rc.onDispose,
	}
}

// Insert implements Store.Insert. The entry cost is the value length.
func (r *Ristretto) Insert(ctx context.Context, key string, data []byte, opts ...InsertOption) *future.Future[future.Void] {
	metrics.InsertCounter.Inc()
	if key == "" {
		return future.Rejected[future.Void](ErrEmptyKey)
	}
	if data == nil {
		return future.Rejected[future.Void](ErrNilData)
	}
	var cfg insertConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return future.Rejected[future.Void](ErrDisposed)
	}
	now := r.clk.Now()
	r.c.Set(key, data, int64(len(data)))
	r.c.Wait()
	r.meta[key] = ristrettoMeta{
		createdAt: now,
		expiresAt: cfg.expiry(now),
		typeName:  cfg.typeName,
	}
	r.mu.Unlock()
	return future.Complete(r.clk, future.Void{}, nil)
}

// Get implements Store.Get. A stale or pressure-dropped entry is removed
// from the index as a side effect.
func (r *Ristretto) Get(ctx context.Context, key string) *future.Future[[]byte] {
	metrics.GetCounter.Inc()
	if key == "" {
		return future.Rejected[[]byte](ErrEmptyKey)
	}
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return future.Rejected[[]byte](ErrDisposed)
	}
	md, ok := r.meta[key]
	if ok && !md.live(r.clk.Now()) {
		r.c.Del(key)
		delete(r.meta, key)
		ok = false
	}
	var data []byte
	if ok {
		v, present := r.c.Get(key)
		if !present {
			// ristretto dropped the value under pressure
			delete(r.meta, key)
			ok = false
		} else {
			data = v.([]byte)
		}
	}
	r.mu.Unlock()
	if !ok {
		return future.Complete[[]byte](r.clk, nil, ErrNotFound)
	}
	return future.Complete(r.clk, data, nil)
}

// CreatedAt implements Store.CreatedAt. Liveness is not evaluated.
func (r *Ristretto) CreatedAt(ctx context.Context, key string) *future.Future[*time.Time] {
	if key == "" {
		return future.Rejected[*time.Time](ErrEmptyKey)
	}
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return future.Rejected[*time.Time](ErrDisposed)
	}
	md, ok := r.meta[key]
	r.mu.Unlock()
	if !ok {
		return future.Complete[*time.Time](r.clk, nil, nil)
	}
	t := md.createdAt
	return future.Complete(r.clk, &t, nil)
}

// Keys implements Store.Keys. Keys whose value ristretto has dropped are
// excluded but left for Vacuum to prune.
func (r *Ristretto) Keys(ctx context.Context) *future.Future[[]string] {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return future.Rejected[[]string](ErrDisposed)
	}
	now := r.clk.Now()
	keys := make([]string, 0, len(r.meta))
	for k, md := range r.meta {
		if !md.live(now) {
			continue
		}
		if _, present := r.c.Get(k); present {
			keys = append(keys, k)
		}
	}
	r.mu.Unlock()
	return future.Complete(r.clk, keys, nil)
}

// Invalidate implements Store.Invalidate.
func (r *Ristretto) Invalidate(ctx context.Context, key string) *future.Future[future.Void] {
	metrics.InvalidateCounter.Inc()
	if key == "" {
		return future.Rejected[future.Void](ErrEmptyKey)
	}
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return future.Rejected[future.Void](ErrDisposed)
	}
	r.c.Del(key)
	delete(r.meta, key)
	r.mu.Unlock()
	return future.Complete(r.clk, future.Void{}, nil)
}

// InvalidateAll implements Store.InvalidateAll.
func (r *Ristretto) InvalidateAll(ctx context.Context) *future.Future[future.Void] {
	metrics.InvalidateCounter.Inc()
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return future.Rejected[future.Void](ErrDisposed)
	}
	r.c.Clear()
	r.meta = make(map[string]ristrettoMeta)
	r.mu.Unlock()
	return future.Complete(r.clk, future.Void{}, nil)
}

// Vacuum implements Store.Vacuum. Prunes stale index entries and those whose
// value ristretto dropped under pressure.
func (r *Ristretto) Vacuum(ctx context.Context) *future.Future[future.Void] {
	metrics.VacuumCounter.Inc()
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return future.Rejected[future.Void](ErrDisposed)
	}
	now := r.clk.Now()
	for k, md := range r.meta {
		if md.live(now) {
			if _, present := r.c.Get(k); present {
				continue
			}
		}
		r.c.Del(k)
		delete(r.meta, k)
	}
	r.mu.Unlock()
	return future.Complete(r.clk, future.Void{}, nil)
}

// Flush implements Store.Flush by waiting for ristretto's internal buffers,
// so all accepted writes are visible.
func (r *Ristretto) Flush(ctx context.Context) *future.Future[future.Void] {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return future.Rejected[future.Void](ErrDisposed)
	}
	r.mu.Unlock()
	r.c.Wait()
	return future.Complete(r.clk, future.Void{}, nil)
}

// Dispose implements Store.Dispose.
func (r *Ristretto) Dispose() {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return
	}
	r.disposed = true
	r.meta = nil
	onDispose := r.onDispose
	r.onDispose = nil
	r.mu.Unlock()
	r.c.Close()
	if onDispose != nil {
		onDispose()
	}
	close(r.done)
}

// Disposed implements Store.Disposed.
func (r *Ristretto) Disposed() <-chan struct{} { return r.done }
