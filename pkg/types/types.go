package types

// FetchOutcome classifies how a single fetch task ended.
type FetchOutcome string

const (
	FetchSuccess FetchOutcome = "success"
	FetchTimeout FetchOutcome = "timeout"
	FetchFailed  FetchOutcome = "failed"
	// FetchAbandoned marks tasks still running when the batch deadline fired.
	FetchAbandoned FetchOutcome = "abandoned"
)

// BatchResult classifies how a preload batch settled.
type BatchResult string

const (
	BatchEmpty    BatchResult = "empty"
	BatchComplete BatchResult = "complete"
	BatchPartial  BatchResult = "partial"
	BatchTimeout  BatchResult = "timeout"
	BatchStale    BatchResult = "stale"
)

// CacheStats represents prefetch cache statistics
type CacheStats struct {
	Resident      int    `json:"resident"`
	Capacity      int    `json:"capacity"`
	Position      int    `json:"position"`
	Items         int    `json:"items"`
	Generation    uint64 `json:"generation"`
	Batches       uint64 `json:"batches"`
	Fetches       uint64 `json:"fetches"`
	FetchFailures uint64 `json:"fetch_failures"`
	FetchTimeouts uint64 `json:"fetch_timeouts"`
	Abandoned     uint64 `json:"abandoned"`
	Evictions     uint64 `json:"evictions"`
	StaleBatches  uint64 `json:"stale_batches"`
}
