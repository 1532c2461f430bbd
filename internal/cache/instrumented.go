package cache

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	metricsOnce     sync.Once
	cacheOperations metric.Int64Counter
	cacheDuration   metric.Float64Histogram
)

func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter("github.com/lankasat/sentinel-bridge/internal/cache")

		var err error
		cacheOperations, err = meter.Int64Counter(
			"cache.operations",
			metric.WithDescription("Total cache operations"),
		)
		if err != nil {
			otel.Handle(err)
		}

		cacheDuration, err = meter.Float64Histogram(
			"cache.operation.duration",
			metric.WithDescription("Cache operation duration"),
			metric.WithUnit("s"),
		)
		if err != nil {
			otel.Handle(err)
		}
	})
}

// Instrumented wraps a Cache with metrics instrumentation.
type Instrumented[T any] struct {
	wrapped   Cache[T]
	cacheName string
}

var _ Cache[string] = (*Instrumented[string])(nil)

// NewInstrumented creates an instrumented cache wrapper. The name
// distinguishes the bridge's stores (tokens, tiles, api) in metrics.
func NewInstrumented[T any](cache Cache[T], cacheName string) *Instrumented[T] {
	initMetrics()
	return &Instrumented[T]{
		wrapped:   cache,
		cacheName: cacheName,
	}
}

// Get retrieves a value from the cache.
func (i *Instrumented[T]) Get(ctx context.Context, key string) (T, bool) {
	start := time.Now()

	value, found := i.wrapped.Get(ctx, key)

	duration := time.Since(start)
	i.recordDuration(ctx, "get", duration)

	status := "miss"
	if found {
		status = "hit"
	}
	i.recordOperation(ctx, "get", status)
	i.setSpanAttributes(ctx, "get", status, duration)

	return value, found
}

// Set stores a value in the cache with the store's default TTL.
func (i *Instrumented[T]) Set(ctx context.Context, key string, value T) {
	i.SetTTL(ctx, key, value, 0)
}

// SetTTL stores a value in the cache with an expiry of its own.
func (i *Instrumented[T]) SetTTL(ctx context.Context, key string, value T, ttl time.Duration) {
	start := time.Now()

	i.wrapped.SetTTL(ctx, key, value, ttl)

	duration := time.Since(start)
	i.recordDuration(ctx, "set", duration)
	i.recordOperation(ctx, "set", "success")
	i.setSpanAttributes(ctx, "set", "success", duration)
}

// Clear discards every entry.
func (i *Instrumented[T]) Clear(ctx context.Context) {
	i.wrapped.Clear(ctx)
	i.recordOperation(ctx, "clear", "success")
}

// SweepExpired removes expired entries, returning the number removed.
func (i *Instrumented[T]) SweepExpired(ctx context.Context) int {
	start := time.Now()

	removed := i.wrapped.SweepExpired(ctx)

	duration := time.Since(start)
	i.recordDuration(ctx, "sweep", duration)
	i.recordOperation(ctx, "sweep", "success")

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("cache.name", i.cacheName),
		attribute.Int("cache.sweep.removed", removed),
	)

	return removed
}

// Stats reports the wrapped store's occupancy and limits.
func (i *Instrumented[T]) Stats() Stats {
	return i.wrapped.Stats()
}

func (i *Instrumented[T]) recordOperation(ctx context.Context, operation, status string) {
	if cacheOperations == nil {
		return
	}
	cacheOperations.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("cache.name", i.cacheName),
			attribute.String("cache.operation", operation),
			attribute.String("cache.status", status),
		),
	)
}

func (i *Instrumented[T]) recordDuration(ctx context.Context, operation string, duration time.Duration) {
	if cacheDuration == nil {
		return
	}
	cacheDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("cache.name", i.cacheName),
			attribute.String("cache.operation", operation),
		),
	)
}

func (i *Instrumented[T]) setSpanAttributes(ctx context.Context, operation, status string, duration time.Duration) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("cache.name", i.cacheName),
		attribute.String("cache."+operation+".status", status),
		attribute.Float64("cache."+operation+".duration", duration.Seconds()),
	)
}
