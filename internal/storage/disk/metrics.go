package disk

import (
	"sync"
	"time"
)

// BackendMetrics tracks disk backend read metrics
type BackendMetrics struct {
	Requests       int64         `json:"requests"`
	Errors         int64         `json:"errors"`
	BytesRead      int64         `json:"bytes_read"`
	AverageLatency time.Duration `json:"average_latency"`
	LastError      string        `json:"last_error"`
	LastErrorTime  time.Time     `json:"last_error_time"`
}

// metricsCollector aggregates BackendMetrics under a mutex.
type metricsCollector struct {
	mu      sync.RWMutex
	metrics BackendMetrics
}

func (mc *metricsCollector) record(duration time.Duration, bytes int64, err error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.metrics.Requests++
	mc.metrics.BytesRead += bytes
	if err != nil {
		mc.metrics.Errors++
		mc.metrics.LastError = err.Error()
		mc.metrics.LastErrorTime = time.Now()
	}

	// Rolling average weighted towards history
	if mc.metrics.Requests == 1 {
		mc.metrics.AverageLatency = duration
	} else {
		mc.metrics.AverageLatency = time.Duration(
			(int64(mc.metrics.AverageLatency)*9 + int64(duration)) / 10,
		)
	}
}

func (mc *metricsCollector) snapshot() BackendMetrics {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.metrics
}
