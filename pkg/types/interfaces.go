package types

import (
	"context"
	"time"
)

// Fetcher loads one item into memory. Implementations should honour ctx,
// but callers must not assume they do.
type Fetcher[K comparable, V any] interface {
	Fetch(ctx context.Context, key K) (V, error)
}

// FetcherFunc adapts an ordinary function to the Fetcher interface.
type FetcherFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

// Fetch calls f(ctx, key).
func (f FetcherFunc[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	return f(ctx, key)
}

// ItemSource produces the ordered snapshot of item identifiers.
type ItemSource interface {
	List(ctx context.Context) ([]string, error)
}

// MetricsCollector defines the metrics sink of the prefetch cache
type MetricsCollector interface {
	RecordFetch(outcome FetchOutcome, duration time.Duration)
	RecordBatch(result BatchResult, duration time.Duration)
	RecordEvictions(count int)
	RecordStaleResults(count int)
	UpdateResident(count int)
}
