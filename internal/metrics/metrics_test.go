package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestRegistry() *Registry {
	config := DefaultConfig()
	config.IncludeGoCollector = false
	config.IncludeProcessCollector = false
	return NewRegistry(config)
}

func TestNewRegistry(t *testing.T) {
	registry := newTestRegistry()

	if registry == nil {
		t.Fatal("expected registry to be non-nil")
	}
	if registry.Storage == nil {
		t.Error("expected Storage metrics to be initialized")
	}
	if registry.Checker == nil {
		t.Error("expected Checker metrics to be initialized")
	}
	if registry.API == nil {
		t.Error("expected API metrics to be initialized")
	}
}

func TestStorageMetrics_RecordWrite(t *testing.T) {
	registry := newTestRegistry()

	registry.Storage.RecordWrite(1024)
	registry.Storage.RecordWrite(2048)

	if got := testutil.ToFloat64(registry.Storage.BytesWritten); got != 3072 {
		t.Errorf("BytesWritten: expected 3072, got %v", got)
	}
}

func TestStorageMetrics_RecordAppend(t *testing.T) {
	registry := newTestRegistry()

	registry.Storage.RecordAppend("", nil)
	registry.Storage.RecordAppend("", nil)
	registry.Storage.RecordAppend("ridx", errors.New("disk full"))

	if got := testutil.ToFloat64(registry.Storage.Appends.WithLabelValues("ok")); got != 2 {
		t.Errorf("Appends ok: expected 2, got %v", got)
	}
	if got := testutil.ToFloat64(registry.Storage.Appends.WithLabelValues("error")); got != 1 {
		t.Errorf("Appends error: expected 1, got %v", got)
	}
	if got := testutil.ToFloat64(registry.Storage.AppendErrors.WithLabelValues("ridx")); got != 1 {
		t.Errorf("AppendErrors ridx: expected 1, got %v", got)
	}
}

func TestStorageMetrics_Gauges(t *testing.T) {
	registry := newTestRegistry()

	registry.Storage.AddSegmentsOpen(3)
	registry.Storage.AddSegmentsOpen(-1)
	registry.Storage.AddLogsOpen(1)

	if got := testutil.ToFloat64(registry.Storage.SegmentsOpen); got != 2 {
		t.Errorf("SegmentsOpen: expected 2, got %v", got)
	}
	if got := testutil.ToFloat64(registry.Storage.LogsOpen); got != 1 {
		t.Errorf("LogsOpen: expected 1, got %v", got)
	}
}

func TestStorageMetrics_NilSafe(t *testing.T) {
	var m *StorageMetrics
	m.RecordWrite(1)
	m.RecordFsync(0.1, nil)
	m.RecordReadResult("ok")
	m.AddSegmentsOpen(1)

	var c *CheckerMetrics
	c.RecordRun("check", "OK", 1, 10)
	c.RecordInconsistency("gap")
}

func TestDisabledRegistry(t *testing.T) {
	config := DefaultConfig()
	config.Enabled = false
	registry := NewRegistry(config)

	if registry.Storage != nil {
		t.Error("expected no storage metrics when disabled")
	}
	registry.Storage.RecordWrite(10)

	rec := httptest.NewRecorder()
	registry.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "disabled") {
		t.Errorf("expected disabled marker, got %q", rec.Body.String())
	}
}

func TestCheckerMetrics_RecordRun(t *testing.T) {
	registry := newTestRegistry()

	registry.Checker.RecordRun("check", "OK", 0.2, 100)
	registry.Checker.RecordRun("check", "INCONSISTENT", 0.3, 50)
	registry.Checker.RecordRun("rebuild", "REBUILT", 1.5, 50)
	registry.Checker.RecordInconsistency("ridx_offset")

	if got := testutil.ToFloat64(registry.Checker.Runs.WithLabelValues("check", "OK")); got != 1 {
		t.Errorf("Runs check/OK: expected 1, got %v", got)
	}
	if got := testutil.ToFloat64(registry.Checker.RecordsScanned); got != 200 {
		t.Errorf("RecordsScanned: expected 200, got %v", got)
	}
	if got := testutil.ToFloat64(registry.Checker.Inconsistencies.WithLabelValues("ridx_offset")); got != 1 {
		t.Errorf("Inconsistencies: expected 1, got %v", got)
	}
}

func TestAPIMetrics_RecordRequest(t *testing.T) {
	registry := newTestRegistry()

	registry.API.RecordRequest("/logs/{name}", 200, 0.001)
	registry.API.RecordRequest("/logs/{name}", 404, 0.001)

	if got := testutil.ToFloat64(registry.API.Requests.WithLabelValues("/logs/{name}", "200")); got != 1 {
		t.Errorf("Requests 200: expected 1, got %v", got)
	}
}

func TestHandler_ProducesPrometheusOutput(t *testing.T) {
	registry := newTestRegistry()

	registry.Storage.RecordWrite(3072)
	registry.Storage.RecordReadResult("ok")
	registry.Checker.RecordRun("check", "OK", 0.1, 1)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	registry.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	body := rec.Body.String()
	expectedMetrics := []string{
		"gdplogd_storage_bytes_written_total",
		"gdplogd_storage_reads_total",
		"gdplogd_checker_runs_total",
	}
	for _, metric := range expectedMetrics {
		if !strings.Contains(body, metric) {
			t.Errorf("expected metric %s in output, not found", metric)
		}
	}
}

func TestWriteTextfile(t *testing.T) {
	registry := newTestRegistry()
	registry.Checker.RecordRun("rebuild", "REBUILT", 0.5, 7)

	path := filepath.Join(t.TempDir(), "checker.prom")
	if err := registry.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `gdplogd_checker_runs_total{mode="rebuild",outcome="REBUILT"} 1`) {
		t.Errorf("unexpected textfile contents:\n%s", data)
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if !config.Enabled {
		t.Error("expected Enabled to be true by default")
	}
	if config.Namespace != "gdplogd" {
		t.Errorf("expected Namespace gdplogd, got %s", config.Namespace)
	}
}

func TestDefaultLatencyBuckets(t *testing.T) {
	buckets := DefaultConfig().HistogramBuckets

	if buckets[0] > 0.0001 {
		t.Errorf("expected first bucket below 100µs, got %v", buckets[0])
	}
	if last := buckets[len(buckets)-1]; last < 1 {
		t.Errorf("expected last bucket to be >= 1s, got %v", last)
	}
	for i := 1; i < len(buckets); i++ {
		if buckets[i] <= buckets[i-1] {
			t.Errorf("buckets not in ascending order: %v <= %v", buckets[i], buckets[i-1])
		}
	}
}
