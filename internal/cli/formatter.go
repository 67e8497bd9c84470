package cli

// Output of the logs and status subcommands. The table form is meant for a
// terminal: payloads print as text when printable and as a hex dump
// otherwise. -o json and -o yaml print the API's response bodies unchanged,
// so in JSON byte fields stay base64.

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/Halliburton-Landmark/gdp-sub000/internal/api"
)

// OutputFormat selects how a Formatter renders.
type OutputFormat string

const (
	OutputTable OutputFormat = "table"
	OutputJSON  OutputFormat = "json"
	OutputYAML  OutputFormat = "yaml"
)

// ParseOutputFormat maps the -o flag onto an OutputFormat. The empty string
// means table.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case "":
		return OutputTable, nil
	case "yml":
		return OutputYAML, nil
	case OutputTable, OutputJSON, OutputYAML:
		return f, nil
	}
	return "", fmt.Errorf("unknown output format %q (want table, json or yaml)", s)
}

// Formatter renders API responses. It writes to stdout unless SetWriter
// was called.
type Formatter struct {
	format OutputFormat
	w      io.Writer
}

func NewFormatter(format OutputFormat) *Formatter {
	return &Formatter{format: format, w: os.Stdout}
}

func (f *Formatter) SetWriter(w io.Writer) { f.w = w }

// structured encodes v when the format is JSON or YAML. It reports false
// for table output, leaving the rendering to the caller.
func (f *Formatter) structured(v interface{}) (bool, error) {
	switch f.format {
	case OutputJSON:
		enc := json.NewEncoder(f.w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case OutputYAML:
		enc := yaml.NewEncoder(f.w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return true, err
		}
		return true, enc.Close()
	}
	return false, nil
}

// table starts an aligned table with upper-cased column names. Rows are
// added with row and the table is written by flush.
type table struct{ tw *tabwriter.Writer }

func (f *Formatter) table(columns ...string) *table {
	t := &table{tw: tabwriter.NewWriter(f.w, 0, 0, 2, ' ', 0)}
	fmt.Fprintln(t.tw, strings.ToUpper(strings.Join(columns, "\t")))
	return t
}

func (t *table) row(cells ...interface{}) {
	for i, c := range cells {
		if i > 0 {
			fmt.Fprint(t.tw, "\t")
		}
		fmt.Fprint(t.tw, c)
	}
	fmt.Fprintln(t.tw)
}

func (t *table) flush() error { return t.tw.Flush() }

// FormatLogs prints log names in sorted order.
func (f *Formatter) FormatLogs(resp *ListLogsResponse) error {
	if ok, err := f.structured(resp); ok {
		return err
	}
	names := append([]string(nil), resp.Logs...)
	sort.Strings(names)

	t := f.table("name")
	for _, n := range names {
		t.row(n)
	}
	return t.flush()
}

func (f *Formatter) FormatLogInfo(info *api.LogSummary) error {
	if ok, err := f.structured(info); ok {
		return err
	}
	fmt.Fprintf(f.w, "Name:     %s\nRecords:  %d\nSize:     %s\n",
		info.Name, info.RecordCount, formatBytes(info.ByteSize))
	if len(info.Metadata) == 0 {
		return nil
	}

	fmt.Fprintln(f.w, "\nMetadata:")
	t := f.table("id", "len", "value")
	for _, m := range info.Metadata {
		t.row(m.ID, len(m.Value), formatValue(m.Value, m.Text))
	}
	return t.flush()
}

func (f *Formatter) FormatRecord(rec *api.RecordResponse) error {
	if ok, err := f.structured(rec); ok {
		return err
	}
	fmt.Fprintf(f.w, "Recno:      %d\nTimestamp:  %s\n", rec.Recno, rec.Timestamp)
	if rec.Accuracy != 0 {
		fmt.Fprintf(f.w, "Accuracy:   %g\n", rec.Accuracy)
	}
	fmt.Fprintf(f.w, "Flags:      0x%04x\nPayload:    %d bytes\n", rec.Flags, len(rec.Payload))
	if n := len(rec.Signature); n > 0 {
		fmt.Fprintf(f.w, "Signature:  %d bytes\n", n)
	}
	if len(rec.Payload) == 0 {
		return nil
	}

	fmt.Fprintln(f.w)
	if isPrintable(rec.Payload) {
		fmt.Fprintln(f.w, string(rec.Payload))
	} else {
		fmt.Fprint(f.w, hex.Dump(rec.Payload))
	}
	return nil
}

func (f *Formatter) FormatTimeLookup(res *TimeLookup) error {
	if ok, err := f.structured(res); ok {
		return err
	}
	fmt.Fprintf(f.w, "%s  record %d\n", res.Time, res.Recno)
	return nil
}

// FormatReady prints the overall status followed by one line per check.
func (f *Formatter) FormatReady(resp *ReadyResponse) error {
	if ok, err := f.structured(resp); ok {
		return err
	}
	fmt.Fprintf(f.w, "Status: %s (up %s)\n", resp.Status, resp.Uptime)

	names := make([]string, 0, len(resp.Checks))
	for n := range resp.Checks {
		names = append(names, n)
	}
	sort.Strings(names)

	t := f.table("check", "status", "message")
	for _, n := range names {
		t.row(n, resp.Checks[n].Status, resp.Checks[n].Message)
	}
	return t.flush()
}

// formatBytes renders n with a binary unit suffix: "1023 B", "1.5 KB".
func formatBytes(n int64) string {
	if n < 1024 {
		return fmt.Sprintf("%d B", n)
	}
	v, unit := float64(n)/1024, 0
	for v >= 1024 && unit < 5 {
		v /= 1024
		unit++
	}
	return fmt.Sprintf("%.1f %cB", v, "KMGTPE"[unit])
}

// formatValue abbreviates a metadata value for a table cell.
func formatValue(b []byte, text string) string {
	const width = 32
	if text != "" {
		if len(text) > width {
			return text[:width] + "..."
		}
		return text
	}
	if len(b) > width/2 {
		return hex.EncodeToString(b[:width/2]) + "..."
	}
	return hex.EncodeToString(b)
}

func isPrintable(b []byte) bool {
	for _, c := range b {
		if (c < 0x20 || c > 0x7e) && c != '\n' && c != '\t' {
			return false
		}
	}
	return true
}
