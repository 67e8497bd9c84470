package cli

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Halliburton-Landmark/gdp-sub000/internal/api"
	"github.com/Halliburton-Landmark/gdp-sub000/internal/storage"
)

const testLog = "cli-test-log"

// setupClient serves a store with one three-record log and returns a
// client pointed at it.
func setupClient(t *testing.T) *Client {
	t.Helper()

	store, err := storage.Init(storage.DefaultOptions(t.TempDir()))
	if err != nil {
		t.Fatalf("Failed to init store: %v", err)
	}
	t.Cleanup(func() { store.Shutdown() })

	name, _ := storage.ParseName(testLog)
	h, err := store.Create(name, storage.NewMetadata().Add(storage.MDCreator, []byte("cli")))
	if err != nil {
		t.Fatal(err)
	}
	payloads := [][]byte{[]byte("hello"), {0x00, 0x01, 0x02}, []byte("bye")}
	for i, p := range payloads {
		rec := &storage.Record{Timestamp: storage.Timestamp{Sec: int64(10 * (i + 1))}, Payload: p}
		if err := h.Append(rec); err != nil {
			t.Fatal(err)
		}
	}
	store.Close(h)

	server := api.NewServer(store, api.DefaultServerConfig(), nil)
	server.Health().SetReady(true)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	cfg := DefaultClientConfig()
	cfg.ServerURL = ts.URL
	return NewClient(cfg)
}

func TestClient_Logs(t *testing.T) {
	c := setupClient(t)
	ctx := context.Background()
	name, _ := storage.ParseName(testLog)

	list, err := c.ListLogs(ctx)
	if err != nil {
		t.Fatalf("ListLogs failed: %v", err)
	}
	if list.Count != 1 || list.Logs[0] != name.String() {
		t.Errorf("ListLogs = %+v", list)
	}

	info, err := c.DescribeLog(ctx, testLog)
	if err != nil {
		t.Fatalf("DescribeLog failed: %v", err)
	}
	if info.RecordCount != 3 || info.Metadata[0].Text != "cli" {
		t.Errorf("DescribeLog = %+v", info)
	}

	rec, err := c.ReadRecord(ctx, testLog, 2)
	if err != nil {
		t.Fatalf("ReadRecord failed: %v", err)
	}
	if !bytes.Equal(rec.Payload, []byte{0x00, 0x01, 0x02}) {
		t.Errorf("payload = %x", rec.Payload)
	}

	at, err := c.FindByTime(ctx, testLog, time.Unix(25, 0))
	if err != nil {
		t.Fatalf("FindByTime failed: %v", err)
	}
	if at.Recno != 2 {
		t.Errorf("FindByTime recno = %d, want 2", at.Recno)
	}
}

func TestClient_APIError(t *testing.T) {
	c := setupClient(t)

	_, err := c.ReadRecord(context.Background(), testLog, 42)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", apiErr.StatusCode)
	}
}

func TestClient_ReadyAndVersion(t *testing.T) {
	c := setupClient(t)
	ctx := context.Background()

	ready, err := c.Ready(ctx)
	if err != nil {
		t.Fatalf("Ready failed: %v", err)
	}
	if ready.Status != "pass" || ready.Checks["storage"].Status != "pass" {
		t.Errorf("Ready = %+v", ready)
	}

	v, err := c.Version(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if v.Version != api.Version {
		t.Errorf("Version = %+v", v)
	}
}

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"", OutputTable, false},
		{"TABLE", OutputTable, false},
		{"json", OutputJSON, false},
		{"yml", OutputYAML, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseOutputFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseOutputFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestFormatter_Record(t *testing.T) {
	rec := &api.RecordResponse{Recno: 2, Timestamp: "1970-01-01T00:00:20Z", Payload: []byte{0x00, 0x41}}

	var buf bytes.Buffer
	f := NewFormatter(OutputTable)
	f.SetWriter(&buf)
	if err := f.FormatRecord(rec); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "Recno:      2") || !strings.Contains(out, "00 41") {
		t.Errorf("table output = %q", out)
	}

	buf.Reset()
	f = NewFormatter(OutputJSON)
	f.SetWriter(&buf)
	if err := f.FormatRecord(rec); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"payload": "AEE="`) {
		t.Errorf("json output = %q", buf.String())
	}
}

func TestFormatter_LogInfo(t *testing.T) {
	info := &api.LogSummary{
		Name:        "abc",
		RecordCount: 7,
		ByteSize:    2048,
		Metadata: []api.MetadataEntry{
			{ID: "0x00434944", Value: []byte("me"), Text: "me"},
			{ID: "0x004e4f4e", Value: []byte{0xde, 0xad}},
		},
	}

	var buf bytes.Buffer
	f := NewFormatter(OutputTable)
	f.SetWriter(&buf)
	if err := f.FormatLogInfo(info); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Records:  7", "2.0 KB", "ID", "dead"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1536, "1.5 KB"},
		{5 << 20, "5.0 MB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.in); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
