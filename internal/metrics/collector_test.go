package metrics

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/project-AI39/artfave/pkg/types"
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	c, err := NewCollector(&Config{Enabled: true, Namespace: "artfave"}, nil)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	return c
}

func TestNewCollector(t *testing.T) {
	t.Parallel()

	t.Run("nil config uses defaults", func(t *testing.T) {
		c, err := NewCollector(nil, nil)
		if err != nil {
			t.Fatalf("NewCollector(nil) error = %v", err)
		}
		if c.config.Path != "/metrics" {
			t.Errorf("default path = %q, want /metrics", c.config.Path)
		}
		if c.config.Namespace != "artfave" {
			t.Errorf("default namespace = %q, want artfave", c.config.Namespace)
		}
		if c.Registry() == nil {
			t.Error("registry is nil")
		}
	})

	t.Run("disabled collector still aggregates", func(t *testing.T) {
		c, err := NewCollector(&Config{Enabled: false}, nil)
		if err != nil {
			t.Fatalf("NewCollector() error = %v", err)
		}
		if c.Registry() != nil {
			t.Error("disabled collector should not build a registry")
		}
		c.RecordFetch(types.FetchSuccess, time.Millisecond)
		c.RecordBatch(types.BatchComplete, time.Millisecond)
		c.RecordEvictions(2)
		c.UpdateResident(3)
		c.RecordCircuitState("photos", 1)

		s := c.GetSummary()
		if s.Fetches[types.FetchSuccess] != 1 || s.Evictions != 2 || s.Resident != 3 {
			t.Errorf("summary = %+v", s)
		}
		if err := c.Start(context.Background()); err != nil {
			t.Errorf("Start() on disabled collector = %v", err)
		}
	})
}

func TestCollector_PrometheusSeries(t *testing.T) {
	t.Parallel()
	c := newTestCollector(t)

	c.RecordFetch(types.FetchSuccess, 10*time.Millisecond)
	c.RecordFetch(types.FetchSuccess, 20*time.Millisecond)
	c.RecordFetch(types.FetchTimeout, 5*time.Second)
	c.RecordBatch(types.BatchPartial, 5*time.Second)
	c.RecordEvictions(3)
	c.RecordEvictions(0)
	c.RecordStaleResults(4)
	c.UpdateResident(7)
	c.RecordCircuitState("photos", 2)

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"fetches success", testutil.ToFloat64(c.fetchCounter.WithLabelValues("success")), 2},
		{"fetches timeout", testutil.ToFloat64(c.fetchCounter.WithLabelValues("timeout")), 1},
		{"batches partial", testutil.ToFloat64(c.batchCounter.WithLabelValues("partial")), 1},
		{"evictions", testutil.ToFloat64(c.evictionCounter), 3},
		{"stale", testutil.ToFloat64(c.staleCounter), 4},
		{"resident", testutil.ToFloat64(c.residentGauge), 7},
		{"circuit", testutil.ToFloat64(c.circuitGauge.WithLabelValues("photos")), 2},
	}
	for _, tc := range checks {
		if tc.got != tc.want {
			t.Errorf("%s = %v, want %v", tc.name, tc.got, tc.want)
		}
	}

	if n := testutil.CollectAndCount(c.fetchDuration); n != 1 {
		t.Errorf("fetch duration series = %d, want 1", n)
	}
}

func TestCollector_Summary(t *testing.T) {
	t.Parallel()
	c := newTestCollector(t)

	c.RecordBatch(types.BatchComplete, 100*time.Millisecond)
	c.RecordBatch(types.BatchStale, 300*time.Millisecond)

	s := c.GetSummary()
	if s.Batches[types.BatchComplete] != 1 || s.Batches[types.BatchStale] != 1 {
		t.Errorf("batches = %v", s.Batches)
	}
	if s.AvgBatch != 200*time.Millisecond {
		t.Errorf("AvgBatch = %v, want 200ms", s.AvgBatch)
	}
	if s.LastBatch.IsZero() {
		t.Error("LastBatch not set")
	}

	s.Batches[types.BatchComplete] = 99
	if c.GetSummary().Batches[types.BatchComplete] != 1 {
		t.Error("GetSummary must return a copy")
	}

	c.ResetSummary()
	if len(c.GetSummary().Batches) != 0 {
		t.Error("ResetSummary did not clear batches")
	}
}

func TestCollector_Handler(t *testing.T) {
	t.Parallel()
	c := newTestCollector(t)
	c.RecordFetch(types.FetchFailed, time.Millisecond)
	c.UpdateResident(5)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	body := get(t, srv.URL+"/metrics")
	for _, want := range []string{
		`artfave_fetches_total{outcome="failed"} 1`,
		`artfave_resident_entries 5`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("/metrics missing %q", want)
		}
	}

	if body := get(t, srv.URL+"/health"); !strings.Contains(body, `"healthy"`) {
		t.Errorf("/health = %s", body)
	}

	var debug struct {
		Summary Summary `json:"summary"`
	}
	if err := json.Unmarshal([]byte(get(t, srv.URL+"/debug/cache")), &debug); err != nil {
		t.Fatalf("decode /debug/cache: %v", err)
	}
	if debug.Summary.Resident != 5 {
		t.Errorf("debug resident = %d, want 5", debug.Summary.Resident)
	}
}

func TestCollector_StartStop(t *testing.T) {
	t.Parallel()
	c, err := NewCollector(&Config{Enabled: true, Address: "127.0.0.1:0", Namespace: "artfave"}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	addr := c.Addr()
	if addr == "" {
		t.Fatal("Addr() empty after Start")
	}

	if body := get(t, "http://"+addr+"/health"); !strings.Contains(body, "healthy") {
		t.Errorf("/health = %s", body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Stop(ctx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func get(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read %s: %v", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", url, resp.StatusCode)
	}
	return string(b)
}
