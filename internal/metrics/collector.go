package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/project-AI39/artfave/pkg/types"
	"github.com/project-AI39/artfave/pkg/utils"
)

// Collector records prefetch cache metrics on a private Prometheus registry.
// It implements types.MetricsCollector.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry
	logger   *utils.StructuredLogger

	fetchCounter    *prometheus.CounterVec
	fetchDuration   prometheus.Histogram
	batchCounter    *prometheus.CounterVec
	batchDuration   prometheus.Histogram
	evictionCounter prometheus.Counter
	staleCounter    prometheus.Counter
	residentGauge   prometheus.Gauge
	circuitGauge    *prometheus.GaugeVec

	summary   Summary
	lastReset time.Time

	server   *http.Server
	listener net.Listener
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool              `yaml:"enabled" toml:"enabled"`
	Address   string            `yaml:"address" toml:"address"`
	Path      string            `yaml:"path" toml:"path"`
	Namespace string            `yaml:"namespace" toml:"namespace"`
	Labels    map[string]string `yaml:"labels" toml:"labels"`
}

// Summary is an in-process aggregate of what the collector has seen.
type Summary struct {
	Fetches      map[types.FetchOutcome]int64 `json:"fetches"`
	Batches      map[types.BatchResult]int64  `json:"batches"`
	Evictions    int64                        `json:"evictions"`
	StaleResults int64                        `json:"stale_results"`
	Resident     int                          `json:"resident"`
	LastBatch    time.Time                    `json:"last_batch"`
	AvgBatch     time.Duration                `json:"avg_batch"`
}

var _ types.MetricsCollector = (*Collector)(nil)

// DefaultConfig returns an enabled collector without an HTTP endpoint.
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Path:      "/metrics",
		Namespace: "artfave",
		Labels:    make(map[string]string),
	}
}

// NewCollector creates a new metrics collector
func NewCollector(config *Config, logger *utils.StructuredLogger) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Path == "" {
		config.Path = "/metrics"
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	collector := &Collector{
		config:    config,
		logger:    logger.WithComponent("metrics"),
		summary:   newSummary(),
		lastReset: time.Now(),
	}
	if !config.Enabled {
		return collector, nil
	}

	collector.registry = prometheus.NewRegistry()
	collector.initMetrics()
	if err := collector.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return collector, nil
}

func newSummary() Summary {
	return Summary{
		Fetches: make(map[types.FetchOutcome]int64),
		Batches: make(map[types.BatchResult]int64),
	}
}

// Registry exposes the underlying registry, nil when disabled.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the metrics, health and debug endpoints.
func (c *Collector) Handler() http.Handler {
	mux := http.NewServeMux()
	if c.registry != nil {
		mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}))
	}
	mux.HandleFunc("/health", c.healthHandler)
	mux.HandleFunc("/debug/cache", c.debugCacheHandler)
	return mux
}

// Start serves Handler on config.Address. It returns once the listener is
// bound; an empty address or a disabled collector is a no-op.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled || c.config.Address == "" {
		return nil
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", c.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", c.config.Address, err)
	}

	c.mu.Lock()
	c.listener = ln
	c.server = &http.Server{
		Handler:           c.Handler(),
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	server := c.server
	c.mu.Unlock()

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("metrics server stopped", map[string]interface{}{"error": err})
		}
	}()
	c.logger.Info("metrics endpoint listening", map[string]interface{}{
		"addr": ln.Addr().String(),
		"path": c.config.Path,
	})
	return nil
}

// Addr returns the bound address once Start succeeded.
func (c *Collector) Addr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.listener == nil {
		return ""
	}
	return c.listener.Addr().String()
}

// Stop stops the metrics collection server
func (c *Collector) Stop(ctx context.Context) error {
	c.mu.RLock()
	server := c.server
	c.mu.RUnlock()
	if server != nil {
		return server.Shutdown(ctx)
	}
	return nil
}

// RecordFetch implements types.MetricsCollector.
func (c *Collector) RecordFetch(outcome types.FetchOutcome, duration time.Duration) {
	c.mu.Lock()
	c.summary.Fetches[outcome]++
	c.mu.Unlock()

	if !c.config.Enabled {
		return
	}
	c.fetchCounter.With(prometheus.Labels{"outcome": string(outcome)}).Inc()
	c.fetchDuration.Observe(duration.Seconds())
}

// RecordBatch implements types.MetricsCollector.
func (c *Collector) RecordBatch(result types.BatchResult, duration time.Duration) {
	c.mu.Lock()
	c.summary.Batches[result]++
	var n int64
	for _, v := range c.summary.Batches {
		n += v
	}
	if n == 1 {
		c.summary.AvgBatch = duration
	} else {
		c.summary.AvgBatch = time.Duration((int64(c.summary.AvgBatch)*(n-1) + int64(duration)) / n)
	}
	c.summary.LastBatch = time.Now()
	c.mu.Unlock()

	if !c.config.Enabled {
		return
	}
	c.batchCounter.With(prometheus.Labels{"result": string(result)}).Inc()
	c.batchDuration.Observe(duration.Seconds())
}

// RecordEvictions implements types.MetricsCollector.
func (c *Collector) RecordEvictions(count int) {
	if count <= 0 {
		return
	}
	c.mu.Lock()
	c.summary.Evictions += int64(count)
	c.mu.Unlock()

	if c.config.Enabled {
		c.evictionCounter.Add(float64(count))
	}
}

// RecordStaleResults implements types.MetricsCollector.
func (c *Collector) RecordStaleResults(count int) {
	if count <= 0 {
		return
	}
	c.mu.Lock()
	c.summary.StaleResults += int64(count)
	c.mu.Unlock()

	if c.config.Enabled {
		c.staleCounter.Add(float64(count))
	}
}

// UpdateResident implements types.MetricsCollector.
func (c *Collector) UpdateResident(count int) {
	c.mu.Lock()
	c.summary.Resident = count
	c.mu.Unlock()

	if c.config.Enabled {
		c.residentGauge.Set(float64(count))
	}
}

// RecordCircuitState exports a breaker state (0 closed, 1 open, 2 half-open).
func (c *Collector) RecordCircuitState(name string, state int) {
	if c.config.Enabled {
		c.circuitGauge.With(prometheus.Labels{"breaker": name}).Set(float64(state))
	}
}

// GetSummary returns a copy of the in-process aggregate.
func (c *Collector) GetSummary() Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := c.summary
	out.Fetches = make(map[types.FetchOutcome]int64, len(c.summary.Fetches))
	for k, v := range c.summary.Fetches {
		out.Fetches[k] = v
	}
	out.Batches = make(map[types.BatchResult]int64, len(c.summary.Batches))
	for k, v := range c.summary.Batches {
		out.Batches[k] = v
	}
	return out
}

// ResetSummary clears the in-process aggregate. Prometheus counters are
// monotonic and are not touched.
func (c *Collector) ResetSummary() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summary = newSummary()
	c.lastReset = time.Now()
}

func (c *Collector) initMetrics() {
	ns := c.config.Namespace
	labels := prometheus.Labels(c.config.Labels)

	c.fetchCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "fetches_total",
			Help:        "Prefetch fetches by outcome",
			ConstLabels: labels,
		},
		[]string{"outcome"},
	)

	c.fetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   ns,
			Name:        "fetch_duration_seconds",
			Help:        "Duration of single fetches in seconds",
			Buckets:     prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
			ConstLabels: labels,
		},
	)

	c.batchCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "batches_total",
			Help:        "Preload batches by result",
			ConstLabels: labels,
		},
		[]string{"result"},
	)

	c.batchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   ns,
			Name:        "batch_duration_seconds",
			Help:        "Duration of preload batches in seconds",
			Buckets:     prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~40s
			ConstLabels: labels,
		},
	)

	c.evictionCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   ns,
		Name:        "evictions_total",
		Help:        "Entries evicted by cleanup",
		ConstLabels: labels,
	})

	c.staleCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   ns,
		Name:        "stale_results_total",
		Help:        "Fetched items discarded because their batch was superseded",
		ConstLabels: labels,
	})

	c.residentGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   ns,
		Name:        "resident_entries",
		Help:        "Entries currently resident in the prefetch cache",
		ConstLabels: labels,
	})

	c.circuitGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   ns,
			Name:        "circuit_state",
			Help:        "Circuit breaker state (0 closed, 1 open, 2 half-open)",
			ConstLabels: labels,
		},
		[]string{"breaker"},
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.fetchCounter,
		c.fetchDuration,
		c.batchCounter,
		c.batchDuration,
		c.evictionCounter,
		c.staleCounter,
		c.residentGauge,
		c.circuitGauge,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collector) healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy","service":"artfave-metrics"}`))
}

func (c *Collector) debugCacheHandler(w http.ResponseWriter, _ *http.Request) {
	c.mu.RLock()
	uptime := time.Since(c.lastReset)
	c.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Uptime  string  `json:"uptime"`
		Summary Summary `json:"summary"`
	}{uptime.Round(time.Millisecond).String(), c.GetSummary()})
}
