package celerypulse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 5 * time.Second

// ErrUnhealthy is returned by Healthz when /healthz does not answer "ok".
var ErrUnhealthy = errors.New("celerypulse: monitor is unhealthy")

// Client wraps the HTTP interactions with the monitor's admin endpoint.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// QueueDepth is the backlog of one queue at the last cycle.
type QueueDepth struct {
	Name  string `json:"name"`
	Depth int64  `json:"depth"`
}

// Status mirrors the document served at /api/v1/status.
type Status struct {
	Connected         bool         `json:"connected"`
	TrackedTasks      int          `json:"tracked_tasks"`
	PendingHeartbeats int          `json:"pending_heartbeats"`
	LastCycle         *time.Time   `json:"last_cycle,omitempty"`
	LastCycleError    string       `json:"last_cycle_error,omitempty"`
	Queues            []QueueDepth `json:"queues"`
	Workers           int          `json:"workers"`
}

// Backlog sums the depth of every reported queue.
func (s Status) Backlog() int64 {
	var total int64
	for _, q := range s.Queues {
		total += q.Depth
	}
	return total
}

// APIError represents a non-2xx answer from the admin endpoint.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("celerypulse api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the admin API. When httpClient is nil,
// a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: scheme and host are required", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Status fetches the current monitor status.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	if err := c.get(ctx, "/api/v1/status", func(body io.Reader) error {
		return json.NewDecoder(body).Decode(&st)
	}); err != nil {
		return Status{}, err
	}
	return st, nil
}

// Healthz calls the liveness endpoint.
func (c *Client) Healthz(ctx context.Context) error {
	return c.get(ctx, "/healthz", func(body io.Reader) error {
		data, err := io.ReadAll(body)
		if err != nil {
			return err
		}
		if strings.TrimSpace(string(data)) != "ok" {
			return ErrUnhealthy
		}
		return nil
	})
}

func (c *Client) get(ctx context.Context, endpoint string, read func(io.Reader) error) error {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(data))}
	}
	if err := read(resp.Body); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
