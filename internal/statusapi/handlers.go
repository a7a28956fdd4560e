package statusapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ship-commander/autoaccept/internal/events"
	"github.com/ship-commander/autoaccept/internal/license"
	"github.com/ship-commander/autoaccept/internal/settings"
	"github.com/ship-commander/autoaccept/internal/stats"
	"github.com/ship-commander/autoaccept/internal/summary"
)

const (
	eventBuffer  = 64
	writeWait    = 5 * time.Second
	pingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return r.Header.Get("Origin") == ""
	},
}

// StatsResponse is the body of GET /v1/stats.
type StatsResponse struct {
	Week      stats.Weekly   `json:"week"`
	TimeSaved string         `json:"timeSaved"`
	History   []stats.Weekly `json:"history"`
}

// GetStatus handles GET /v1/status
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.controller.Status(r.Context())
	if err != nil {
		h.logger.Warn("status read incomplete", "error", err)
	}
	writeJSON(w, http.StatusOK, status)
}

// GetSnapshots handles GET /v1/snapshots
func (h *Handler) GetSnapshots(w http.ResponseWriter, r *http.Request) {
	snapshots := h.controller.Snapshots(r.Context())
	if snapshots == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, snapshots)
}

// GetStats handles GET /v1/stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	week, err := h.history.Load(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	history, err := h.history.History(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if history == nil {
		history = []stats.Weekly{}
	}
	writeJSON(w, http.StatusOK, StatsResponse{
		Week:      week,
		TimeSaved: stats.FormatTimeSaved(stats.TimeSaved(week.Clicks)),
		History:   history,
	})
}

// GetSummary handles GET /v1/summary
func (h *Handler) GetSummary(w http.ResponseWriter, _ *http.Request) {
	last, ok := h.controller.LastSummary()
	if !ok {
		writeError(w, http.StatusNotFound, "no summary generated this session")
		return
	}
	writeJSON(w, http.StatusOK, last)
}

// PostSummary handles POST /v1/summary
func (h *Handler) PostSummary(w http.ResponseWriter, r *http.Request) {
	silent := r.URL.Query().Get("silent") == "true"
	result, err := h.controller.GenerateSummary(r.Context(), silent)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result)
	case errors.Is(err, summary.ErrInFlight):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, summary.ErrNothingToSummarize):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusBadGateway, summary.FailureMessage)
	}
}

// PostEnable handles POST /v1/enable
func (h *Handler) PostEnable(w http.ResponseWriter, r *http.Request) {
	h.respondEnabled(w, r, true, h.controller.Enable(r.Context()))
}

// PostDisable handles POST /v1/disable
func (h *Handler) PostDisable(w http.ResponseWriter, r *http.Request) {
	h.respondEnabled(w, r, false, h.controller.Disable(r.Context()))
}

// PostToggle handles POST /v1/toggle
func (h *Handler) PostToggle(w http.ResponseWriter, r *http.Request) {
	enabled, err := h.controller.Toggle(r.Context())
	h.respondEnabled(w, r, enabled, err)
}

func (h *Handler) respondEnabled(w http.ResponseWriter, _ *http.Request, enabled bool, err error) {
	if errors.Is(err, license.ErrLicenseRequired) {
		writeError(w, http.StatusPaymentRequired, err.Error())
		return
	}
	body := map[string]any{"enabled": enabled}
	if err != nil {
		// The flag is persisted even when the first sync cannot reach the editor.
		body["warning"] = err.Error()
	}
	writeJSON(w, http.StatusOK, body)
}

type backgroundRequest struct {
	Enabled bool `json:"enabled"`
}

type bannedRequest struct {
	Patterns []string `json:"patterns"`
}

type frequencyRequest struct {
	Milliseconds int `json:"ms"`
}

// PutBackground handles PUT /v1/settings/background
func (h *Handler) PutBackground(w http.ResponseWriter, r *http.Request) {
	var req backgroundRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.controller.SetBackground(r.Context(), req.Enabled); err != nil {
		h.logger.Debug("background resync", "error", err)
	}
	writeJSON(w, http.StatusOK, req)
}

// PutBanned handles PUT /v1/settings/banned
func (h *Handler) PutBanned(w http.ResponseWriter, r *http.Request) {
	var req bannedRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.controller.SetBannedCommands(r.Context(), req.Patterns); err != nil {
		h.logger.Debug("banned resync", "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

// PutFrequency handles PUT /v1/settings/frequency
func (h *Handler) PutFrequency(w http.ResponseWriter, r *http.Request) {
	var req frequencyRequest
	if !decode(w, r, &req) {
		return
	}
	err := h.controller.SetFrequency(r.Context(), req.Milliseconds)
	if errors.Is(err, settings.ErrInvalidFrequency) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Debug("frequency resync", "error", err)
	}
	writeJSON(w, http.StatusOK, req)
}

// StreamEvents handles GET /v1/events by upgrading to a websocket and
// forwarding every bus event as JSON until the client goes away.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream unavailable")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	queue := make(chan events.Event, eventBuffer)
	unsubscribe := h.bus.SubscribeAll(func(event events.Event) {
		select {
		case queue <- event:
		default:
			h.logger.Debug("event stream client slow, dropping event", "type", event.Type)
		}
	})
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case event := <-queue:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}
