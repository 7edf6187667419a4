/*
Package metrics exports prefetch cache activity to Prometheus.

The Collector implements types.MetricsCollector and owns a private registry,
so several collectors can coexist in one process (and in tests):

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Address:   "127.0.0.1:9464",
		Namespace: "artfave",
	}, logger)
	if err != nil {
		return err
	}
	if err := collector.Start(ctx); err != nil {
		return err
	}
	defer collector.Stop(context.Background())

	c := cache.New[string, *disk.Image](fetcher, cache.Options{Metrics: collector})

# Series

	artfave_fetches_total{outcome}      success, timeout, failed, abandoned
	artfave_fetch_duration_seconds      histogram
	artfave_batches_total{result}       empty, complete, partial, timeout, stale
	artfave_batch_duration_seconds      histogram
	artfave_evictions_total
	artfave_stale_results_total
	artfave_resident_entries            gauge
	artfave_circuit_state{breaker}      0 closed, 1 open, 2 half-open

# Endpoints

Start serves /metrics (configurable path), /health and /debug/cache, the
latter a JSON dump of the in-process Summary.
*/
package metrics
