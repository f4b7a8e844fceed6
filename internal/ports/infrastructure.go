package ports

import (
	"context"
	"time"
)

// CacheStore defines the interface for caching rendered leaderboards.
// Implementations could use Redis, Memcached, or in-memory storage.
// Caching is optional: the services work unchanged without a cache.
type CacheStore interface {
	// Get retrieves a cached value by key.
	// Returns the value and true if found, or nil and false if not found.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value in the cache with an expiration time.
	// A zero duration means the item doesn't expire.
	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error

	// Delete removes values from the cache.
	// Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
}

// MetricsCollector defines the interface for collecting operational metrics.
// The production implementation is backed by Prometheus.
type MetricsCollector interface {
	// RecordLatency records the execution time of an operation.
	// The labels map provides additional context for the metric.
	RecordLatency(operation string, duration time.Duration, labels map[string]string)

	// RecordCounter increments a counter metric.
	// This is useful for tracking events like submissions, errors, etc.
	RecordCounter(metric string, value float64, labels map[string]string)

	// RecordGauge sets the current value of a gauge metric.
	// This is useful for tracking values like leaderboard sizes.
	RecordGauge(metric string, value float64, labels map[string]string)
}
