// Package blob provides a uniform contract for caching opaque byte values
// under string keys, together with its reference in-memory engine and Redis
// and Ristretto backed implementations. Every operation returns a
// single-value future delivered through an injected clock, so expiration
// behavior can be tested deterministically with a virtual clock.
package blob
