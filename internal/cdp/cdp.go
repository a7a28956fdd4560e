// Package cdp connects to an editor's remote-debugging endpoint and exposes
// its workbench pages as dom.Document surfaces.
package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/ship-commander/autoaccept/internal/dom"
)

const (
	// DefaultPort is the remote-debugging port the editor is relaunched with.
	DefaultPort = 9000
	// PortSpread is how far either side of DefaultPort is scanned.
	PortSpread     = 3
	defaultHost    = "127.0.0.1"
	defaultTimeout = 3 * time.Second
)

// ErrUnavailable is returned when no debugging endpoint answers on any port.
var ErrUnavailable = errors.New("remote debugging endpoint not found")

// Config locates the debugging endpoint.
type Config struct {
	Host string
	// Ports are tried in order; empty means DefaultPort then outward by PortSpread.
	Ports   []int
	Timeout time.Duration
	Logger  *log.Logger
}

// DefaultPorts returns DefaultPort followed by its neighbours, nearest first.
func DefaultPorts() []int {
	ports := []int{DefaultPort}
	for offset := 1; offset <= PortSpread; offset++ {
		ports = append(ports, DefaultPort-offset, DefaultPort+offset)
	}
	return ports
}

// Connector owns one browser connection and the pages behind it. It
// reconnects lazily after the editor restarts.
type Connector struct {
	host    string
	ports   []int
	timeout time.Duration
	logger  *log.Logger
	resolve func(ctx context.Context, hostPort string) (string, error)

	mu      sync.Mutex
	browser *rod.Browser
	cancel  context.CancelFunc
	port    int
	pages   map[string]*rod.Page
}

// NewConnector validates cfg.
func NewConnector(cfg Config) (*Connector, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		host = defaultHost
	}
	ports := cfg.Ports
	if len(ports) == 0 {
		ports = DefaultPorts()
	}
	for _, port := range ports {
		if port <= 0 || port > 65535 {
			return nil, fmt.Errorf("invalid port %d", port)
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard)
	}
	return &Connector{
		host:    host,
		ports:   append([]int(nil), ports...),
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
		resolve: resolveControlURL,
		pages:   map[string]*rod.Page{},
	}, nil
}

// Probe reports the first port with a live debugging endpoint.
func (c *Connector) Probe(ctx context.Context) (int, error) {
	for _, port := range c.ports {
		if _, err := c.resolve(ctx, net.JoinHostPort(c.host, strconv.Itoa(port))); err == nil {
			return port, nil
		}
	}
	return 0, ErrUnavailable
}

// Port returns the port of the live connection, or 0.
func (c *Connector) Port() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.port
}

// Pages lists the workbench pages of the connected editor.
func (c *Connector) Pages(ctx context.Context) ([]dom.Page, error) {
	browser, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	pages, err := browser.Context(ctx).Pages()
	if err != nil {
		c.reset()
		return nil, fmt.Errorf("list targets: %w", err)
	}

	out := make([]dom.Page, 0, len(pages))
	live := make(map[string]*rod.Page, len(pages))
	for _, page := range pages {
		info, err := page.Context(ctx).Info()
		if err != nil {
			c.logger.Debug("target info failed", "target", page.TargetID, "error", err)
			continue
		}
		if !workbenchPage(info) {
			continue
		}
		id := string(info.TargetID)
		live[id] = page
		out = append(out, dom.Page{
			ID:       id,
			Title:    info.Title,
			URL:      info.URL,
			Document: &Document{conn: c, target: id},
		})
	}

	c.mu.Lock()
	c.pages = live
	c.mu.Unlock()
	return out, nil
}

// Close drops the connection. The editor itself keeps running.
func (c *Connector) Close() error {
	c.reset()
	return nil
}

func (c *Connector) connect(ctx context.Context) (*rod.Browser, error) {
	c.mu.Lock()
	if c.browser != nil {
		browser := c.browser
		c.mu.Unlock()
		return browser, nil
	}
	c.mu.Unlock()

	var errs []error
	for _, port := range c.ports {
		controlURL, err := c.resolve(ctx, net.JoinHostPort(c.host, strconv.Itoa(port)))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		browser := rod.New().ControlURL(controlURL).Context(connCtx)
		if err := browser.Connect(); err != nil {
			cancel()
			errs = append(errs, fmt.Errorf("connect port %d: %w", port, err))
			continue
		}

		c.mu.Lock()
		c.browser, c.cancel, c.port = browser, cancel, port
		c.mu.Unlock()
		c.logger.Info("connected to editor", "port", port)
		return browser, nil
	}
	c.logger.Debug("no debugging endpoint", "host", c.host, "error", errors.Join(errs...))
	return nil, ErrUnavailable
}

func (c *Connector) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	c.browser, c.cancel, c.port = nil, nil, 0
	c.pages = map[string]*rod.Page{}
}

func (c *Connector) page(target string) (*rod.Page, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	page, ok := c.pages[target]
	return page, ok
}

// evaluate runs script on target and decodes its by-value result into dest.
func (c *Connector) evaluate(ctx context.Context, target, script string, dest any, args ...any) error {
	page, ok := c.page(target)
	if !ok {
		return fmt.Errorf("target %s is gone", target)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           script,
		JSArgs:       args,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return fmt.Errorf("evaluate on %s: %w", target, err)
	}
	if dest == nil || res == nil {
		return nil
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return fmt.Errorf("read result: %w", err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

func resolveControlURL(ctx context.Context, hostPort string) (string, error) {
	type result struct {
		url string
		err error
	}
	done := make(chan result, 1)
	go func() {
		u, err := launcher.ResolveURL(hostPort)
		done <- result{url: u, err: err}
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		return r.url, r.err
	}
}

func workbenchPage(info *proto.TargetTargetInfo) bool {
	if info == nil || info.Type != proto.TargetTargetInfoTypePage {
		return false
	}
	return !strings.HasPrefix(info.URL, "devtools://")
}
