// Package bridge carries request/response calls from the host to injected surface controllers.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultTimeout bounds one surface call.
const DefaultTimeout = 5 * time.Second

var (
	// ErrUnreachable indicates the target surface cannot be reached.
	ErrUnreachable = errors.New("surface unreachable")
	// ErrTimeout indicates the surface did not answer within the call timeout.
	ErrTimeout = errors.New("surface call timed out")
	// ErrUnknownMethod indicates the surface does not expose the requested entry point.
	ErrUnknownMethod = errors.New("unknown surface method")
)

// Handler answers calls evaluated inside one surface. Params and results cross
// the bridge as JSON only.
type Handler interface {
	Handle(ctx context.Context, method string, params json.RawMessage) (any, error)
}

// Injector installs controllers into every reachable target and returns the
// complete current target set.
type Injector interface {
	Inject(ctx context.Context) (map[string]Handler, error)
}

// Bridge is the host-side view of the surfaces.
type Bridge interface {
	Inject(ctx context.Context) error
	Targets() []string
	Evaluate(ctx context.Context, target, method string, params any) (json.RawMessage, error)
}

// Option customizes Local construction.
type Option func(*Local)

// WithTimeout configures the per-call timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(l *Local) {
		if timeout > 0 {
			l.timeout = timeout
		}
	}
}

// WithLogger configures the bridge logger.
func WithLogger(logger *log.Logger) Option {
	return func(l *Local) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// Local is an in-process Bridge. Every call is serialized to JSON and runs on
// its own goroutine so a stuck surface cannot block the caller past the timeout.
type Local struct {
	injector Injector
	timeout  time.Duration
	logger   *log.Logger
	tracer   trace.Tracer

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewLocal constructs a bridge. A nil injector leaves targets to Attach.
func NewLocal(injector Injector, options ...Option) *Local {
	local := &Local{
		injector: injector,
		timeout:  DefaultTimeout,
		logger:   log.New(io.Discard),
		tracer:   otel.Tracer("autoaccept/bridge"),
		handlers: map[string]Handler{},
	}
	for _, option := range options {
		if option != nil {
			option(local)
		}
	}
	return local
}

// Attach registers handler for target.
func (l *Local) Attach(target string, handler Handler) {
	target = strings.TrimSpace(target)
	if target == "" || handler == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[target] = handler
}

// Detach removes target.
func (l *Local) Detach(target string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.handlers, strings.TrimSpace(target))
}

// Inject refreshes the target set from the injector.
func (l *Local) Inject(ctx context.Context) error {
	if l.injector == nil {
		return nil
	}
	handlers, err := l.injector.Inject(ctx)
	if err != nil {
		return fmt.Errorf("%w: inject: %v", ErrUnreachable, err)
	}
	next := make(map[string]Handler, len(handlers))
	for target, handler := range handlers {
		if handler != nil {
			next[target] = handler
		}
	}
	l.mu.Lock()
	l.handlers = next
	l.mu.Unlock()
	if len(next) == 0 {
		return fmt.Errorf("%w: no targets", ErrUnreachable)
	}
	return nil
}

// Targets returns the attached target ids in stable order.
func (l *Local) Targets() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.handlers))
	for target := range l.handlers {
		out = append(out, target)
	}
	sort.Strings(out)
	return out
}

// Evaluate calls method on target and returns its JSON-encoded result.
func (l *Local) Evaluate(ctx context.Context, target, method string, params any) (json.RawMessage, error) {
	ctx, span := l.tracer.Start(ctx, "bridge.evaluate", trace.WithAttributes(
		attribute.String("bridge.target", target),
		attribute.String("bridge.method", method),
	))
	defer span.End()

	raw, err := l.evaluate(ctx, target, method, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return raw, nil
}

func (l *Local) evaluate(ctx context.Context, target, method string, params any) (json.RawMessage, error) {
	l.mu.RLock()
	handler := l.handlers[target]
	l.mu.RUnlock()
	if handler == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnreachable, target)
	}

	payload, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode %s params: %w", method, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	type outcome struct {
		raw json.RawMessage
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := handler.Handle(callCtx, method, payload)
		if err != nil {
			done <- outcome{err: err}
			return
		}
		raw, err := json.Marshal(result)
		if err != nil {
			done <- outcome{err: fmt.Errorf("encode %s result: %w", method, err)}
			return
		}
		done <- outcome{raw: raw}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, fmt.Errorf("%s on %s: %w", method, target, out.err)
		}
		return out.raw, nil
	case <-callCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		l.logger.Warn("surface call timed out", "target", target, "method", method, "timeout", l.timeout)
		return nil, fmt.Errorf("%w: %s on %s after %s", ErrTimeout, method, target, l.timeout)
	}
}

// Call evaluates method and decodes the result into T.
func Call[T any](ctx context.Context, b Bridge, target, method string, params any) (T, error) {
	var out T
	if b == nil {
		return out, errors.New("bridge is required")
	}
	raw, err := b.Evaluate(ctx, target, method, params)
	if err != nil {
		return out, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %s result: %w", method, err)
	}
	return out, nil
}
