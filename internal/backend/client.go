// Package backend talks to the licensing and summarization HTTP API.
package backend

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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ship-commander/autoaccept/internal/session"
	"github.com/ship-commander/autoaccept/internal/surface"
)

const (
	// DefaultBaseURL is the production API root.
	DefaultBaseURL = "https://auto-accept-backend.onrender.com/api"

	defaultSummaryTimeout = 8 * time.Second
	defaultLicenseTimeout = 5 * time.Second
	maxResponseBytes      = 1 << 20
)

var (
	// ErrStatus marks a non-2xx response.
	ErrStatus = errors.New("unexpected status")
	// ErrMalformed marks an unparsable or empty response body.
	ErrMalformed = errors.New("malformed response")
)

// SummaryPayload is the POST /session-summary body.
type SummaryPayload struct {
	UserID                  *string      `json:"userId"`
	SessionMeta             session.Meta `json:"sessionMeta"`
	Stats                   SummaryStats `json:"stats"`
	Logs                    []string     `json:"logs"`
	VisibleConversationText string       `json:"visibleConversationText"`
}

// SummaryStats is the counter block of a summary payload.
type SummaryStats struct {
	Clicks           int `json:"clicks"`
	Blocked          int `json:"blocked"`
	FileEdits        int `json:"fileEdits"`
	TerminalCommands int `json:"terminalCommands"`
}

// StatsFromCounters converts drained surface counters.
func StatsFromCounters(c surface.Counters) SummaryStats {
	return SummaryStats{
		Clicks:           c.Accepted,
		Blocked:          c.Blocked,
		FileEdits:        c.FileEdits,
		TerminalCommands: c.TerminalCommands,
	}
}

// Total sums every counter.
func (s SummaryStats) Total() int {
	return s.Clicks + s.Blocked + s.FileEdits + s.TerminalCommands
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its transport is used as is.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// WithSummaryTimeout caps one summary request.
func WithSummaryTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.summaryTimeout = timeout
		}
	}
}

// WithLicenseTimeout caps one license check.
func WithLicenseTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.licenseTimeout = timeout
		}
	}
}

// Client calls the backend API.
type Client struct {
	baseURL        string
	http           *http.Client
	summaryTimeout time.Duration
	licenseTimeout time.Duration
	tracer         trace.Tracer
}

// New constructs a client for baseURL.
func New(baseURL string, options ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	c := &Client{
		baseURL:        baseURL,
		http:           &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		summaryTimeout: defaultSummaryTimeout,
		licenseTimeout: defaultLicenseTimeout,
		tracer:         otel.Tracer("autoaccept/backend"),
	}
	for _, option := range options {
		if option != nil {
			option(c)
		}
	}
	return c, nil
}

// Summarize posts payload and returns the generated summary text.
func (c *Client) Summarize(ctx context.Context, payload SummaryPayload) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode summary payload: %w", err)
	}

	var out struct {
		Summary string `json:"summary"`
	}
	if err := c.do(ctx, http.MethodPost, "/session-summary", bytes.NewReader(body), c.summaryTimeout, &out); err != nil {
		return "", fmt.Errorf("summary api: %w", err)
	}
	text := strings.TrimSpace(out.Summary)
	if text == "" {
		return "", fmt.Errorf("summary api returned empty summary text: %w", ErrMalformed)
	}
	return text, nil
}

// CheckLicense asks whether userID holds a Pro license.
func (c *Client) CheckLicense(ctx context.Context, userID string) (bool, error) {
	var out struct {
		IsPro *bool `json:"isPro"`
	}
	path := "/check-license?userId=" + url.QueryEscape(userID)
	if err := c.do(ctx, http.MethodGet, path, nil, c.licenseTimeout, &out); err != nil {
		return false, fmt.Errorf("license api: %w", err)
	}
	if out.IsPro == nil {
		return false, fmt.Errorf("license api response missing isPro: %w", ErrMalformed)
	}
	return *out.IsPro, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, timeout time.Duration, dest any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "backend.request", trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("backend.path", strings.SplitN(path, "?", 2)[0]),
	))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return err
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		span.SetStatus(codes.Error, resp.Status)
		return fmt.Errorf("%w %d", ErrStatus, resp.StatusCode)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("decode response: %w", ErrMalformed)
	}
	return nil
}
