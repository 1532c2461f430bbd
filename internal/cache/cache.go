// Package cache provides the bounded, TTL-expiring stores that sit between
// the bridge and its upstream providers. Every store is capacity-limited with
// LRU eviction so a burst of unique requests cannot grow memory without
// bound.
package cache

import (
	"context"
	"time"
)

// Cache defines the interface for the bridge's store implementations.
// The generic type T represents the value type being cached.
type Cache[T any] interface {
	// Get retrieves a live value from the cache.
	// Returns the value and whether it was found. Expired entries are
	// removed on observation and reported as absent.
	Get(ctx context.Context, key string) (T, bool)

	// Set stores a value in the cache with the store's default TTL.
	Set(ctx context.Context, key string, value T)

	// SetTTL stores a value in the cache with an expiry of its own.
	// A non-positive ttl selects the store default.
	SetTTL(ctx context.Context, key string, value T, ttl time.Duration)

	// Clear discards every entry.
	Clear(ctx context.Context)

	// SweepExpired removes entries whose TTL has lapsed, returning the
	// number removed.
	SweepExpired(ctx context.Context) int

	// Stats reports current occupancy alongside the store's fixed limits.
	Stats() Stats
}

// Admin is the maintenance subset of Cache used by the background sweep
// loop and the administrative endpoints. It is non-generic so stores with
// different value types can be handled together.
type Admin interface {
	Clear(ctx context.Context)
	SweepExpired(ctx context.Context) int
	Stats() Stats
}

// Stats describes a store at a point in time.
type Stats struct {
	Size     int
	Capacity int
	TTL      time.Duration
}

// Clock abstracts the time source used for expiry decisions. Tests
// substitute a controllable implementation to exercise TTL behaviour
// without sleeping.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
