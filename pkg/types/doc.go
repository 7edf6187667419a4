/*
Package types provides the interfaces and shared data structures that connect
the artfave components.

The prefetch cache in internal/cache sits between three collaborators:

	┌──────────────┐   ordered keys   ┌──────────────────┐   Fetch(key)   ┌──────────┐
	│  ItemSource  │ ───────────────▶ │  PrefetchCache   │ ─────────────▶ │ Fetcher  │
	│ (directory)  │                  │ (internal/cache) │ ◀───────────── │ (disk)   │
	└──────────────┘                  └──────────────────┘   payload/err  └──────────┘
	                                           │
	                                           ▼
	                                  ┌──────────────────┐
	                                  │ MetricsCollector │
	                                  └──────────────────┘

Fetcher is generic over the key and payload so the cache never interprets
what it holds. FetcherFunc adapts a plain function.

MetricsCollector receives one call per fetch outcome, per batch, per eviction
pass and per residency change. A nil collector is valid everywhere it is
accepted.
*/
package types
