package blob

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/mirkobrombin/go-blobcache/v1/clock"
	"github.com/mirkobrombin/go-blobcache/v1/future"
	"github.com/mirkobrombin/go-blobcache/v1/metrics"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-blobcache/v1/blob")

// Memory is the reference in-memory Store. A single mutex guards the entry
// map; no operation blocks on I/O while holding it, so critical sections are
// bounded by a map operation.
type Memory struct {
	mu        sync.Mutex
	entries   map[string]Entry
	clk       clock.Clock
	id        string
	disposed  bool
	done      chan struct{}
	onDispose func()
	seed      map[string]Entry
	sf        singleflight.Group

	hits   atomic.Uint64
	misses atomic.Uint64

	hitCounter      prometheus.Counter
	missCounter     prometheus.Counter
	evictionCounter prometheus.Counter
	latencyHist     prometheus.Histogram
	traceEnabled    bool
}

var _ Store = (*Memory)(nil)

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithClock sets the clock used for entry timestamps, liveness checks and
// result delivery. The default is the system clock.
func WithClock(c clock.Clock) MemoryOption {
	return func(m *Memory) {
		m.clk = c
	}
}

// WithSeed pre-populates the store. Seed entries with a zero CreatedAt get
// the clock's current time; entries with an empty key are ignored.
func WithSeed(entries map[string]Entry) MemoryOption {
	return func(m *Memory) {
		m.seed = entries
	}
}

// WithOnDispose registers a callback invoked exactly once when the store is
// disposed, before the shutdown channel closes.
func WithOnDispose(fn func()) MemoryOption {
	return func(m *Memory) {
		m.onDispose = fn
	}
}

// WithMetrics enables Prometheus metrics collection using the provided
// registerer.
func WithMetrics(reg prometheus.Registerer) MemoryOption {
	return func(m *Memory) {
		m.hitCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blobcache_hits_total",
			Help: "Total number of cache hits",
		})
		m.missCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blobcache_misses_total",
			Help: "Total number of cache misses",
		})
		m.evictionCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blobcache_evictions_total",
			Help: "Total number of stale entries removed",
		})
		m.latencyHist = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "blobcache_latency_seconds",
			Help:    "Latency of store operations",
			Buckets: prometheus.DefBuckets,
		})
		reg.MustRegister(m.hitCounter, m.missCounter, m.evictionCounter, m.latencyHist)
	}
}

// WithTracing enables OpenTelemetry tracing for store operations.
func WithTracing() MemoryOption {
	return func(m *Memory) {
		m.traceEnabled = true
	}
}

// NewMemory returns a new in-memory Store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		entries: make(map[string]Entry),
		clk:     clock.System(),
		id:      uuid.NewString(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	now := m.clk.Now()
	for k, e := range m.seed {
		if k == "" {
			continue
		}
		if e.Value == nil {
			e.Value = []byte{}
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		m.entries[k] = e
	}
	m.seed = nil
	return m
}

// ID returns the store's instance identifier.
func (m *Memory) ID() string { return m.id }

// traced starts a span and latency measurement for op. The returned func
// ends both and must be deferred by the caller.
func (m *Memory) traced(ctx context.Context, op string) func() {
	if !m.traceEnabled && m.latencyHist == nil {
		return func() {}
	}
	start := time.Now()
	var span trace.Span
	if m.traceEnabled {
		_, span = tracer.Start(ctx, op,
			trace.WithAttributes(attribute.String("blob.store.id", m.id)))
	}
	return func() {
		latency := time.Since(start)
		if span != nil {
			span.SetAttributes(attribute.Int64("blob.latency_ms", latency.Milliseconds()))
			span.End()
		}
		if m.latencyHist != nil {
			m.latencyHist.Observe(latency.Seconds())
		}
	}
}

// Insert implements Store.Insert.
func (m *Memory) Insert(ctx context.Context, key string, data []byte, opts ...InsertOption) *future.Future[future.Void] {
	defer m.traced(ctx, "Blob.Insert")()
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
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return future.Rejected[future.Void](ErrDisposed)
	}
	now := m.clk.Now()
	m.entries[key] = Entry{
		Value:     data,
		CreatedAt: now,
		ExpiresAt: cfg.expiry(now),
		TypeName:  cfg.typeName,
	}
	m.mu.Unlock()
	return future.Complete(m.clk, future.Void{}, nil)
}

// Get implements Store.Get. A stale entry is removed as a side effect and
// reported as ErrNotFound.
func (m *Memory) Get(ctx context.Context, key string) *future.Future[[]byte] {
	defer m.traced(ctx, "Blob.Get")()
	metrics.GetCounter.Inc()
	if key == "" {
		return future.Rejected[[]byte](ErrEmptyKey)
	}
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return future.Rejected[[]byte](ErrDisposed)
	}
	ent, ok := m.entries[key]
	if ok && !ent.Live(m.clk.Now()) {
		delete(m.entries, key)
		if m.evictionCounter != nil {
			m.evictionCounter.Inc()
		}
		ok = false
	}
	m.mu.Unlock()
	if !ok {
		m.misses.Add(1)
		if m.missCounter != nil {
			m.missCounter.Inc()
		}
		return future.Complete[[]byte](m.clk, nil, ErrNotFound)
	}
	m.hits.Add(1)
	if m.hitCounter != nil {
		m.hitCounter.Inc()
	}
	return future.Complete(m.clk, ent.Value, nil)
}

// CreatedAt implements Store.CreatedAt. Liveness is not evaluated: the
// creation time of a stale-but-not-yet-purged entry is still reported, and
// the entry is left in place.
func (m *Memory) CreatedAt(ctx context.Context, key string) *future.Future[*time.Time] {
	defer m.traced(ctx, "Blob.CreatedAt")()
	if key == "" {
		return future.Rejected[*time.Time](ErrEmptyKey)
	}
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return future.Rejected[*time.Time](ErrDisposed)
	}
	ent, ok := m.entries[key]
	m.mu.Unlock()
	if !ok {
		return future.Complete[*time.Time](m.clk, nil, nil)
	}
	t := ent.CreatedAt
	return future.Complete(m.clk, &t, nil)
}

// Keys implements Store.Keys. Stale entries are excluded but not removed.
func (m *Memory) Keys(ctx context.Context) *future.Future[[]string] {
	defer m.traced(ctx, "Blob.Keys")()
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return future.Rejected[[]string](ErrDisposed)
	}
	now := m.clk.Now()
	keys := make([]string, 0, len(m.entries))
	for k, e := range m.entries {
		if e.Live(now) {
			keys = append(keys, k)
		}
	}
	m.mu.Unlock()
	return future.Complete(m.clk, keys, nil)
}

// Invalidate implements Store.Invalidate. Removing an absent key succeeds.
func (m *Memory) Invalidate(ctx context.Context, key string) *future.Future[future.Void] {
	defer m.traced(ctx, "Blob.Invalidate")()
	metrics.InvalidateCounter.Inc()
	if key == "" {
		return future.Rejected[future.Void](ErrEmptyKey)
	}
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return future.Rejected[future.Void](ErrDisposed)
	}
	delete(m.entries, key)
	m.mu.Unlock()
	return future.Complete(m.clk, future.Void{}, nil)
}

// InvalidateAll implements Store.InvalidateAll.
func (m *Memory) InvalidateAll(ctx context.Context) *future.Future[future.Void] {
	defer m.traced(ctx, "Blob.InvalidateAll")()
	metrics.InvalidateCounter.Inc()
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return future.Rejected[future.Void](ErrDisposed)
	}
	m.entries = make(map[string]Entry)
	m.mu.Unlock()
	return future.Complete(m.clk, future.Void{}, nil)
}

// Vacuum implements Store.Vacuum. Live entries, including those that never
// expire, are untouched.
func (m *Memory) Vacuum(ctx context.Context) *future.Future[future.Void] {
	defer m.traced(ctx, "Blob.Vacuum")()
	metrics.VacuumCounter.Inc()
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return future.Rejected[future.Void](ErrDisposed)
	}
	now := m.clk.Now()
	for k, e := range m.entries {
		if !e.Live(now) {
			delete(m.entries, k)
			if m.evictionCounter != nil {
				m.evictionCounter.Inc()
			}
		}
	}
	m.mu.Unlock()
	return future.Complete(m.clk, future.Void{}, nil)
}

// Flush implements Store.Flush. There is nothing to persist in memory; the
// operation exists to satisfy the shared contract with persistent backends.
func (m *Memory) Flush(ctx context.Context) *future.Future[future.Void] {
	defer m.traced(ctx, "Blob.Flush")()
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return future.Rejected[future.Void](ErrDisposed)
	}
	m.mu.Unlock()
	return future.Complete(m.clk, future.Void{}, nil)
}

// Load returns the live value under key, invoking fn on a miss to produce
// one and inserting it with the given ttl. Concurrent loads for the same key
// are collapsed into a single fn call.
func (m *Memory) Load(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) ([]byte, error)) *future.Future[[]byte] {
	defer m.traced(ctx, "Blob.Load")()
	if key == "" {
		return future.Rejected[[]byte](ErrEmptyKey)
	}
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return future.Rejected[[]byte](ErrDisposed)
	}
	ent, ok := m.entries[key]
	live := ok && ent.Live(m.clk.Now())
	m.mu.Unlock()
	if live {
		m.hits.Add(1)
		if m.hitCounter != nil {
			m.hitCounter.Inc()
		}
		return future.Complete(m.clk, ent.Value, nil)
	}
	m.misses.Add(1)
	if m.missCounter != nil {
		m.missCounter.Inc()
	}
	f, complete := future.New[[]byte]()
	go func() {
		v, err, _ := m.sf.Do(key, func() (any, error) {
			return fn(ctx)
		})
		if err != nil {
			complete(nil, err)
			return
		}
		data, _ := v.([]byte)
		if data == nil {
			complete(nil, ErrNilData)
			return
		}
		if _, err := m.Insert(ctx, key, data, WithTTL(ttl)).Await(ctx); err != nil {
			complete(nil, err)
			return
		}
		complete(data, nil)
	}()
	return f
}

// Dispose implements Store.Dispose. The first call releases the entry map,
// runs the release callback and closes the shutdown channel; later calls are
// no-ops.
func (m *Memory) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	m.entries = nil
	onDispose := m.onDispose
	m.onDispose = nil
	m.mu.Unlock()
	if onDispose != nil {
		onDispose()
	}
	close(m.done)
}

// Disposed implements Store.Disposed.
func (m *Memory) Disposed() <-chan struct{} { return m.done }

// Stats reports basic usage counters.
type Stats struct {
	Hits   uint64
	Misses uint64
	Size   int
}

// Metrics returns current usage counters for the store.
func (m *Memory) Metrics() Stats {
	m.mu.Lock()
	size := len(m.entries)
	m.mu.Unlock()
	return Stats{
		Hits:   m.hits.Load(),
		Misses: m.misses.Load(),
		Size:   size,
	}
}
