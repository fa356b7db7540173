// Package registry holds the process-wide "current cache" slots. Three named
// roles address ambient stores without a direct reference; the override
// mechanism substitutes all of them with a single in-memory engine and
// restores the previous references when that engine is disposed, which keeps
// tests deterministic without mutating true globals.
package registry

import (
	"fmt"
	"sync"

	"github.com/mirkobrombin/go-blobcache/v1/blob"
	"github.com/mirkobrombin/go-blobcache/v1/clock"
	"github.com/mirkobrombin/go-blobcache/v1/metrics"
)

// Role names an ambient cache slot.
type Role int

const (
	// Local is the general-purpose cache.
	Local Role = iota
	// User is the user-scoped cache.
	User
	// Secure is the cache for sensitive data, typically backed by an
	// encrypting store.
	Secure
)

// roles fixes the capture/restore order for overrides.
var roles = [...]Role{Local, User, Secure}

func (r Role) String() string {
	switch r {
	case Local:
		return "local"
	case User:
		return "user"
	case Secure:
		return "secure"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Registry is an explicit handle over the role slots. Prefer passing a
// Registry around; Default returns the process-wide instance for callers
// that want a single ambient one.
type Registry struct {
	mu    sync.RWMutex
	slots map[Role]blob.Store
}

// New returns a Registry with every role holding a fresh in-memory store.
func New() *Registry {
	r := &Registry{slots: make(map[Role]blob.Store, len(roles))}
	for _, role := range roles {
		r.slots[role] = blob.NewMemory()
	}
	return r
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns the process-wide registry, created on first use.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultReg = New()
	})
	return defaultReg
}

// Get returns the store currently installed for role.
func (r *Registry) Get(role Role) blob.Store {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.slots[role]
}

// Set installs s for role. Ownership of the previous reference stays with
// whoever captured it.
func (r *Registry) Set(role Role, s blob.Store) {
	r.mu.Lock()
	r.slots[role] = s
	r.mu.Unlock()
}

// OverrideOption configures Override.
type OverrideOption func(*overrideConfig)

type overrideConfig struct {
	engineOpts []blob.MemoryOption
}

// WithClock sets the clock of the override engine.
func WithClock(c clock.Clock) OverrideOption {
	return func(cfg *overrideConfig) {
		cfg.engineOpts = append(cfg.engineOpts, blob.WithClock(c))
	}
}

// WithSeed pre-populates the override engine with raw byte values.
func WithSeed(values map[string][]byte) OverrideOption {
	entries := make(map[string]blob.Entry, len(values))
	for k, v := range values {
		entries[k] = blob.Entry{Value: v}
	}
	return withSeedEntries(entries)
}

func withSeedEntries(entries map[string]blob.Entry) OverrideOption {
	return func(cfg *overrideConfig) {
		cfg.engineOpts = append(cfg.engineOpts, blob.WithSeed(entries))
	}
}

// Override captures the current reference of every role, installs a fresh
// in-memory engine into all of them and returns it. Disposing the engine
// restores the captured references, exactly once. An engine that is never
// disposed leaks the override for the rest of the process.
func Override(r *Registry, opts ...OverrideOption) *blob.Memory {
	var cfg overrideConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	r.mu.Lock()
	prev := make(map[Role]blob.Store, len(roles))
	for _, role := range roles {
		prev[role] = r.slots[role]
	}
	engineOpts := append(cfg.engineOpts, blob.WithOnDispose(func() {
		r.mu.Lock()
		for _, role := range roles {
			r.slots[role] = prev[role]
		}
		r.mu.Unlock()
		metrics.OverrideGauge.Dec()
	}))
	eng := blob.NewMemory(engineOpts...)
	for _, role := range roles {
		r.slots[role] = eng
	}
	r.mu.Unlock()
	metrics.OverrideGauge.Inc()
	return eng
}

// OverrideValues serializes each value through the codec and delegates to
// Override. The entry's type tag records the value's dynamic type for typed
// layers reading the seed back.
func OverrideValues(r *Registry, codec blob.Codec, values map[string]any, opts ...OverrideOption) (*blob.Memory, error) {
	if codec == nil {
		codec = blob.JSONCodec{}
	}
	entries := make(map[string]blob.Entry, len(values))
	for k, v := range values {
		data, err := codec.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("registry: marshal %q: %w", k, err)
		}
		entries[k] = blob.Entry{Value: data, TypeName: fmt.Sprintf("%T", v)}
	}
	return Override(r, append(opts, withSeedEntries(entries))...), nil
}
