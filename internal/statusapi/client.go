package statusapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ship-commander/autoaccept/internal/coordinator"
	"github.com/ship-commander/autoaccept/internal/events"
	"github.com/ship-commander/autoaccept/internal/summary"
	"github.com/ship-commander/autoaccept/internal/surface"
)

// ErrDaemonUnreachable is returned when no daemon answers on the address.
var ErrDaemonUnreachable = errors.New("autoaccept daemon is not running")

// APIError is a non-2xx response from the daemon.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("daemon returned %d: %s", e.Status, e.Message)
}

// Client talks to a running daemon.
type Client struct {
	base string
	http *http.Client
}

// NewClient builds a client for addr, a host:port or http URL.
func NewClient(addr string) *Client {
	if addr == "" {
		addr = DefaultAddr
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &Client{
		base: strings.TrimRight(addr, "/"),
		http: &http.Client{Timeout: writeTimeout},
	}
}

// Status fetches GET /v1/status.
func (c *Client) Status(ctx context.Context) (coordinator.Status, error) {
	var status coordinator.Status
	err := c.do(ctx, http.MethodGet, "/v1/status", nil, &status)
	return status, err
}

// Stats fetches GET /v1/stats.
func (c *Client) Stats(ctx context.Context) (StatsResponse, error) {
	var out StatsResponse
	err := c.do(ctx, http.MethodGet, "/v1/stats", nil, &out)
	return out, err
}

// Summarize asks the daemon to generate a summary now.
func (c *Client) Summarize(ctx context.Context) (summary.Summary, error) {
	var out summary.Summary
	err := c.do(ctx, http.MethodPost, "/v1/summary", nil, &out)
	return out, err
}

// EnabledResponse is returned by the enable, disable and toggle endpoints.
// Warning carries a sync error when the flag was stored but no window
// could be reached.
type EnabledResponse struct {
	Enabled bool   `json:"enabled"`
	Warning string `json:"warning,omitempty"`
}

// Enable turns automation on through the daemon.
func (c *Client) Enable(ctx context.Context) (EnabledResponse, error) {
	var out EnabledResponse
	err := c.do(ctx, http.MethodPost, "/v1/enable", nil, &out)
	return out, err
}

// Disable turns automation off through the daemon.
func (c *Client) Disable(ctx context.Context) (EnabledResponse, error) {
	var out EnabledResponse
	err := c.do(ctx, http.MethodPost, "/v1/disable", nil, &out)
	return out, err
}

// Toggle flips automation and reports the new state.
func (c *Client) Toggle(ctx context.Context) (EnabledResponse, error) {
	var out EnabledResponse
	err := c.do(ctx, http.MethodPost, "/v1/toggle", nil, &out)
	return out, err
}

// Snapshots fetches GET /v1/snapshots.
func (c *Client) Snapshots(ctx context.Context) (map[string]surface.Snapshot, error) {
	out := map[string]surface.Snapshot{}
	err := c.do(ctx, http.MethodGet, "/v1/snapshots", nil, &out)
	return out, err
}

// LastSummary fetches the cached summary. It returns an *APIError with
// status 404 when none was generated yet.
func (c *Client) LastSummary(ctx context.Context) (summary.Summary, error) {
	var out summary.Summary
	err := c.do(ctx, http.MethodGet, "/v1/summary", nil, &out)
	return out, err
}

// SetBackground switches background mode.
func (c *Client) SetBackground(ctx context.Context, on bool) error {
	return c.do(ctx, http.MethodPut, "/v1/settings/background", backgroundRequest{Enabled: on}, nil)
}

// SetBannedCommands replaces the banned pattern list.
func (c *Client) SetBannedCommands(ctx context.Context, patterns []string) error {
	return c.do(ctx, http.MethodPut, "/v1/settings/banned", bannedRequest{Patterns: patterns}, nil)
}

// SetFrequency changes the poll interval in milliseconds.
func (c *Client) SetFrequency(ctx context.Context, ms int) error {
	return c.do(ctx, http.MethodPut, "/v1/settings/frequency", frequencyRequest{Milliseconds: ms}, nil)
}

// Events streams bus events until ctx is cancelled or the daemon goes away.
// The returned channel is closed when the stream ends.
func (c *Client) Events(ctx context.Context) (<-chan events.Event, error) {
	u, err := url.Parse(c.base + "/v1/events")
	if err != nil {
		return nil, err
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDaemonUnreachable, err)
	}

	out := make(chan events.Event, eventBuffer)
	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		_ = conn.Close()
	}()
	go func() {
		defer close(out)
		for {
			var event events.Event
			if err := conn.ReadJSON(&event); err != nil {
				return
			}
			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, dest any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDaemonUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var failure struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&failure)
		return &APIError{Status: resp.StatusCode, Message: failure.Error}
	}
	if dest == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}
