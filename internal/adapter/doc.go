/*
Package adapter assembles artfave from a Configuration.

# Architecture Role

	┌─────────────────────────────────────────────┐
	│              cmd/artfave (cobra)            │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│              ADAPTER LAYER                  │ ← This Package
	│  • builds components from config            │
	│  • lifecycle (Start / Stop)                 │
	└─────────────────────────────────────────────┘
	        │          │            │          │
	┌───────┴───┐ ┌────┴────┐ ┌─────┴────┐ ┌───┴─────┐
	│  session  │ │ metrics │ │favorites │ │ source  │
	└───────────┘ └─────────┘ └──────────┘ └─────────┘

# Read Path

Each prefetch goes through

	cache.Preload → circuit.Guard → retry.Fetcher → disk.Backend.Fetch

The breaker trips when the folder keeps failing (for example a drive that was
unplugged) so the cache stops queueing reads against it. The retrier covers
images that fail to decode because they are still being copied in.

# Lifecycle

	a, err := adapter.New(folder, cfg, logger)
	if err != nil { ... }
	if err := a.Start(ctx); err != nil { ... }
	defer a.Stop(ctx)

	s := a.Session()
	s.Next()
*/
package adapter
