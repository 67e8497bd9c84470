// Package cli is the client side of the gdplogd logs and status commands.
// It reads from the admin API of a running daemon, which lets operators
// inspect logs while the daemon keeps serving; the checker instead needs
// exclusive access to the data root.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Halliburton-Landmark/gdp-sub000/internal/api"
)

// EnvServer names the environment variable that supplies the admin API URL
// when --server is not given.
const EnvServer = "GDPLOGD_SERVER"

type ClientConfig struct {
	ServerURL string // e.g. http://localhost:8080
	Timeout   time.Duration
}

// DefaultClientConfig points at an admin API on the local host's default
// port.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{ServerURL: "http://localhost:8080", Timeout: 30 * time.Second}
}

// Client issues read-only requests against one daemon.
type Client struct {
	base string
	hc   *http.Client
}

func NewClient(config ClientConfig) *Client {
	return &Client{base: config.ServerURL, hc: &http.Client{Timeout: config.Timeout}}
}

// APIError is a non-2xx answer from the daemon.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gdplogd returned %d: %s", e.StatusCode, e.Message)
}

// get issues GET path?query and decodes the JSON body into out. Error
// bodies of the form {"error": "..."} become an *APIError.
func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	u, err := url.JoinPath(c.base, path)
	if err != nil {
		return fmt.Errorf("bad request path %q: %w", path, err)
	}
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(body)}
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			apiErr.Message = e.Error
		}
		return apiErr
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

// ListLogsResponse is the body of GET /logs.
type ListLogsResponse struct {
	Logs  []string `json:"logs"`
	Count int      `json:"count"`
}

// ListLogs lists every log under the daemon's data root.
func (c *Client) ListLogs(ctx context.Context) (*ListLogsResponse, error) {
	var resp ListLogsResponse
	if err := c.get(ctx, "/logs", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DescribeLog returns stats and metadata of one log.
func (c *Client) DescribeLog(ctx context.Context, name string) (*api.LogSummary, error) {
	var resp api.LogSummary
	if err := c.get(ctx, "/logs/"+name, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ReadRecord reads one record.
func (c *Client) ReadRecord(ctx context.Context, name string, recno uint64) (*api.RecordResponse, error) {
	var resp api.RecordResponse
	path := "/logs/" + name + "/records/" + strconv.FormatUint(recno, 10)
	if err := c.get(ctx, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TimeLookup is the body of GET /logs/{name}/at.
type TimeLookup struct {
	Time  string `json:"time"`
	Recno uint64 `json:"recno"`
}

// FindByTime returns the record number in effect at t.
func (c *Client) FindByTime(ctx context.Context, name string, t time.Time) (*TimeLookup, error) {
	var resp TimeLookup
	query := url.Values{"time": {t.UTC().Format(time.RFC3339Nano)}}
	if err := c.get(ctx, "/logs/"+name+"/at", query, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ReadyResponse is the body of GET /readyz?verbose=true.
type ReadyResponse struct {
	Status string                           `json:"status"`
	Uptime string                           `json:"uptime,omitempty"`
	Checks map[string]api.HealthCheckResult `json:"checks,omitempty"`
}

// Ready returns the daemon's readiness. A daemon that is not ready yields
// an *APIError with status 503.
func (c *Client) Ready(ctx context.Context) (*ReadyResponse, error) {
	var resp ReadyResponse
	if err := c.get(ctx, "/readyz", url.Values{"verbose": {"true"}}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// VersionInfo is the body of GET /version.
type VersionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

// Version returns the daemon's build information.
func (c *Client) Version(ctx context.Context) (*VersionInfo, error) {
	var resp VersionInfo
	if err := c.get(ctx, "/version", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
