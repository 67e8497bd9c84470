package api

// Tests go through the full router so chi URL params and the middleware
// run as in production.

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/Halliburton-Landmark/gdp-sub000/internal/metrics"
	"github.com/Halliburton-Landmark/gdp-sub000/internal/storage"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const testLog = "api-test-log"

// setupTestServer creates a store holding one log with three records
// stamped 100s, 200s and 300s past the epoch.
func setupTestServer(t *testing.T) (*Server, *storage.Store) {
	t.Helper()

	store, err := storage.Init(storage.DefaultOptions(t.TempDir()))
	if err != nil {
		t.Fatalf("Failed to init store: %v", err)
	}
	t.Cleanup(func() { store.Shutdown() })

	name, _ := storage.ParseName(testLog)
	md := storage.NewMetadata().
		Add(storage.MDCreator, []byte("tester")).
		Add(storage.MDNonce, []byte{0x00, 0xff})
	h, err := store.Create(name, md)
	if err != nil {
		t.Fatalf("Failed to create log: %v", err)
	}
	for i, p := range []string{"one", "two", "three"} {
		rec := &storage.Record{
			Timestamp: storage.Timestamp{Sec: int64(100 * (i + 1))},
			Payload:   []byte(p),
		}
		if err := h.Append(rec); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	store.Close(h)

	return NewServer(store, DefaultServerConfig(), nil), store
}

func doRequest(server *Server, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("Failed to decode %q: %v", rec.Body.String(), err)
	}
}

// =============================================================================
// PROBES
// =============================================================================

func TestHealthz(t *testing.T) {
	server, _ := setupTestServer(t)

	rec := doRequest(server, "GET", "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	server.Health().SetLive(false)
	rec = doRequest(server, "GET", "/healthz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 when not live, got %d", rec.Code)
	}
}

func TestReadyz(t *testing.T) {
	server, store := setupTestServer(t)

	rec := doRequest(server, "GET", "/readyz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 before ready, got %d", rec.Code)
	}

	server.Health().SetReady(true)
	rec = doRequest(server, "GET", "/readyz?verbose=true")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Status string                       `json:"status"`
		Checks map[string]HealthCheckResult `json:"checks"`
		Store  map[string]interface{}       `json:"store"`
	}
	decode(t, rec, &resp)
	if resp.Checks["storage"].Status != "pass" {
		t.Errorf("storage check = %+v", resp.Checks["storage"])
	}
	if resp.Store["root"] != store.Root() {
		t.Errorf("store root = %v, want %s", resp.Store["root"], store.Root())
	}
}

func TestReadyz_FailingCheck(t *testing.T) {
	server, _ := setupTestServer(t)
	server.Health().SetReady(true)
	server.Health().AddCheck("replication", func(ctx context.Context) HealthCheckResult {
		return HealthCheckResult{Status: "fail", Message: "peer unreachable"}
	})

	rec := doRequest(server, "GET", "/readyz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 with a failing check, got %d", rec.Code)
	}
}

func TestVersion(t *testing.T) {
	server, _ := setupTestServer(t)

	rec := doRequest(server, "GET", "/version")
	var resp map[string]string
	decode(t, rec, &resp)
	if resp["version"] != Version {
		t.Errorf("version = %q", resp["version"])
	}
}

// =============================================================================
// LOGS
// =============================================================================

func TestListLogs(t *testing.T) {
	server, _ := setupTestServer(t)

	rec := doRequest(server, "GET", "/logs")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var resp struct {
		Logs  []string `json:"logs"`
		Count int      `json:"count"`
	}
	decode(t, rec, &resp)

	name, _ := storage.ParseName(testLog)
	if resp.Count != 1 || len(resp.Logs) != 1 || resp.Logs[0] != name.String() {
		t.Errorf("logs = %+v, want [%s]", resp, name)
	}
}

func TestGetLog(t *testing.T) {
	server, _ := setupTestServer(t)
	name, _ := storage.ParseName(testLog)

	// Human-readable and printable names address the same log.
	for _, path := range []string{"/logs/" + testLog, "/logs/" + name.String()} {
		rec := doRequest(server, "GET", path)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", path, rec.Code, rec.Body.String())
		}

		var resp LogSummary
		decode(t, rec, &resp)
		if resp.Name != name.String() {
			t.Errorf("%s: name = %q", path, resp.Name)
		}
		if resp.RecordCount != 3 {
			t.Errorf("%s: record_count = %d, want 3", path, resp.RecordCount)
		}
		if len(resp.Metadata) != 2 {
			t.Fatalf("%s: metadata = %+v", path, resp.Metadata)
		}
		if resp.Metadata[0].ID != "0x00434944" || resp.Metadata[0].Text != "tester" {
			t.Errorf("%s: creator entry = %+v", path, resp.Metadata[0])
		}
		if resp.Metadata[1].Text != "" || string(resp.Metadata[1].Value) != "\x00\xff" {
			t.Errorf("%s: binary entry = %+v", path, resp.Metadata[1])
		}
	}
}

func TestGetLog_NotFound(t *testing.T) {
	server, _ := setupTestServer(t)

	rec := doRequest(server, "GET", "/logs/no-such-log")
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}

	var resp map[string]interface{}
	decode(t, rec, &resp)
	if !strings.Contains(resp["error"].(string), "log not found") {
		t.Errorf("error = %v", resp["error"])
	}
}

func TestGetRecord(t *testing.T) {
	server, _ := setupTestServer(t)

	rec := doRequest(server, "GET", "/logs/"+testLog+"/records/2")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp RecordResponse
	decode(t, rec, &resp)
	if resp.Recno != 2 || string(resp.Payload) != "two" {
		t.Errorf("record = %+v", resp)
	}
	if resp.Timestamp != "1970-01-01T00:03:20Z" {
		t.Errorf("timestamp = %q", resp.Timestamp)
	}
}

func TestGetRecord_Errors(t *testing.T) {
	server, _ := setupTestServer(t)

	tests := []struct {
		path string
		want int
	}{
		{"/logs/" + testLog + "/records/0", http.StatusBadRequest},
		{"/logs/" + testLog + "/records/abc", http.StatusBadRequest},
		{"/logs/" + testLog + "/records/99", http.StatusNotFound},
		{"/logs/other/records/1", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := doRequest(server, "GET", tt.path)
			if rec.Code != tt.want {
				t.Errorf("Expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestGetRecord_Expired(t *testing.T) {
	server, store := setupTestServer(t)
	name, _ := storage.ParseName(testLog)

	h, err := store.Open(name, storage.ModeReadAppend)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.NewSegment(); err != nil {
		t.Fatal(err)
	}
	if err := h.Append(&storage.Record{Timestamp: storage.Timestamp{Sec: 400}, Payload: []byte("four")}); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Retire(4); err != nil {
		t.Fatal(err)
	}
	store.Close(h)

	rec := doRequest(server, "GET", "/logs/"+testLog+"/records/1")
	if rec.Code != http.StatusGone {
		t.Errorf("Expected 410, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestFindByTime(t *testing.T) {
	server, _ := setupTestServer(t)

	tests := []struct {
		time string
		want int
		code int
	}{
		{"1970-01-01T00:03:20Z", 2, http.StatusOK},
		{"1970-01-01T00:04:00Z", 2, http.StatusOK},
		{"1970-01-01T00:00:01Z", 1, http.StatusOK},
		{"1970-01-01T01:00:00Z", 0, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.time, func(t *testing.T) {
			rec := doRequest(server, "GET", "/logs/"+testLog+"/at?time="+url.QueryEscape(tt.time))
			if rec.Code != tt.code {
				t.Fatalf("Expected %d, got %d: %s", tt.code, rec.Code, rec.Body.String())
			}
			if tt.code != http.StatusOK {
				return
			}
			var resp struct {
				Recno int `json:"recno"`
			}
			decode(t, rec, &resp)
			if resp.Recno != tt.want {
				t.Errorf("recno = %d, want %d", resp.Recno, tt.want)
			}
		})
	}
}

func TestFindByTime_BadInput(t *testing.T) {
	server, _ := setupTestServer(t)

	for _, path := range []string{
		"/logs/" + testLog + "/at",
		"/logs/" + testLog + "/at?time=yesterday",
	} {
		rec := doRequest(server, "GET", path)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, rec.Code)
		}
	}
}

// =============================================================================
// METRICS
// =============================================================================

func TestMetricsEndpointAndMiddleware(t *testing.T) {
	metrics.Init(metrics.DefaultConfig())
	server, _ := setupTestServer(t)

	doRequest(server, "GET", "/logs/"+testLog+"/records/1")

	rec := doRequest(server, "GET", "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `route="/logs/{logName}/records/{recno}"`) {
		t.Errorf("route pattern label missing from metrics output")
	}
}
