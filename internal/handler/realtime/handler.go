// Package realtime attaches viewers to the broadcast hub over WebSocket or
// Server-Sent Events.
package realtime

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/message-wall/backend/internal/service/broadcast"
	"github.com/zhouzirui/message-wall/backend/pkg/utils"
)

const sseKeepAlive = 25 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The wall is public and read-only for viewers.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler serves viewer sessions.
type Handler struct {
	hub *broadcast.Hub
	log *slog.Logger
}

// New creates the realtime handler.
func New(hub *broadcast.Hub, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{hub: hub, log: log}
}

// RegisterRoutes mounts /ws, /events and /healthz.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
	r.Get("/events", h.handleEvents)
	r.Get("/healthz", h.handleHealth)
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.log.Warn("[realtime] websocket upgrade failed", "error", err)
		return
	}
	if err := h.hub.ServeWebSocket(conn); err != nil {
		h.log.Warn("[realtime] websocket session rejected", "error", err)
	}
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	session, err := h.hub.Register(broadcast.KindSSE)
	if err != nil {
		if errors.Is(err, broadcast.ErrHubClosed) {
			utils.RespondError(w, http.StatusServiceUnavailable, "server shutting down")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "failed to open stream")
		return
	}
	defer h.hub.Unregister(session)

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	if err := utils.SendSSEComment(w, flusher, "connected"); err != nil {
		return
	}

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-session.Send():
			if !ok {
				return
			}
			if err := utils.SendSSEData(w, flusher, payload); err != nil {
				h.log.Debug("[realtime] sse write failed", "session", session.ID, "error", err)
				return
			}
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "keep-alive"); err != nil {
				return
			}
		}
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"viewers": h.hub.Count(),
	})
}
