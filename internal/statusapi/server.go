// Package statusapi serves the running host's state over loopback HTTP and
// streams bus events over a websocket.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/ship-commander/autoaccept/internal/coordinator"
	"github.com/ship-commander/autoaccept/internal/events"
	"github.com/ship-commander/autoaccept/internal/stats"
	"github.com/ship-commander/autoaccept/internal/summary"
	"github.com/ship-commander/autoaccept/internal/surface"
)

// DefaultAddr is the loopback address the daemon listens on.
const DefaultAddr = "127.0.0.1:7319"

const (
	mutationRate  = 5
	mutationBurst = 10
	readTimeout   = 10 * time.Second
	// Summaries can take the full backend timeout.
	writeTimeout    = 30 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Controller is the coordinator surface the API exposes.
type Controller interface {
	Status(ctx context.Context) (coordinator.Status, error)
	Snapshots(ctx context.Context) map[string]surface.Snapshot
	GenerateSummary(ctx context.Context, silent bool) (summary.Summary, error)
	LastSummary() (summary.Summary, bool)
	Enable(ctx context.Context) error
	Disable(ctx context.Context) error
	Toggle(ctx context.Context) (bool, error)
	SetBackground(ctx context.Context, on bool) error
	SetBannedCommands(ctx context.Context, patterns []string) error
	SetFrequency(ctx context.Context, ms int) error
}

// History reads archived weekly records.
type History interface {
	Load(ctx context.Context) (stats.Weekly, error)
	History(ctx context.Context) ([]stats.Weekly, error)
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	controller Controller
	history    History
	bus        events.Bus
	logger     *log.Logger
	limiter    *rate.Limiter
}

// NewHandler creates the API handler. bus may be nil, which disables /v1/events.
func NewHandler(controller Controller, history History, bus events.Bus, logger *log.Logger) (*Handler, error) {
	if controller == nil {
		return nil, errors.New("controller is required")
	}
	if history == nil {
		return nil, errors.New("stats history is required")
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Handler{
		controller: controller,
		history:    history,
		bus:        bus,
		logger:     logger,
		limiter:    rate.NewLimiter(rate.Limit(mutationRate), mutationBurst),
	}, nil
}

// Routes configures all HTTP routes.
func (h *Handler) Routes() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/v1").Subrouter()

	api.HandleFunc("/status", h.GetStatus).Methods(http.MethodGet)
	api.HandleFunc("/snapshots", h.GetSnapshots).Methods(http.MethodGet)
	api.HandleFunc("/stats", h.GetStats).Methods(http.MethodGet)
	api.HandleFunc("/summary", h.GetSummary).Methods(http.MethodGet)
	api.HandleFunc("/events", h.StreamEvents).Methods(http.MethodGet)

	mutations := api.PathPrefix("").Subrouter()
	mutations.Use(h.rateLimit)
	mutations.HandleFunc("/summary", h.PostSummary).Methods(http.MethodPost)
	mutations.HandleFunc("/enable", h.PostEnable).Methods(http.MethodPost)
	mutations.HandleFunc("/disable", h.PostDisable).Methods(http.MethodPost)
	mutations.HandleFunc("/toggle", h.PostToggle).Methods(http.MethodPost)
	mutations.HandleFunc("/settings/background", h.PutBackground).Methods(http.MethodPut)
	mutations.HandleFunc("/settings/banned", h.PutBanned).Methods(http.MethodPut)
	mutations.HandleFunc("/settings/frequency", h.PutFrequency).Methods(http.MethodPut)

	r.Use(loopbackOnly)
	return r
}

// Server wraps an http.Server bound to the loopback address.
type Server struct {
	http   *http.Server
	logger *log.Logger
}

// NewServer builds a server for handler on addr.
func NewServer(addr string, handler *Handler) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           otelhttp.NewHandler(handler.Routes(), "statusapi"),
			ReadHeaderTimeout: readTimeout,
			WriteTimeout:      writeTimeout,
		},
		logger: handler.logger,
	}
}

// Run listens until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

// Serve serves on listener until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status api listening", "addr", listener.Addr().String())
		errCh <- s.http.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (h *Handler) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loopbackOnly rejects requests whose peer is not on this machine.
func loopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err == nil {
			if ip := net.ParseIP(host); ip != nil && !ip.IsLoopback() {
				writeError(w, http.StatusForbidden, "loopback only")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
