package admin

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	wallService "github.com/zhouzirui/message-wall/backend/internal/service/wall"
	"github.com/zhouzirui/message-wall/backend/internal/web"
	"github.com/zhouzirui/message-wall/backend/pkg/utils"
)

// Handler serves the moderation page.
type Handler struct {
	svc      *wallService.Service
	renderer *web.Renderer
	log      *slog.Logger
}

// New creates the moderation handler.
func New(svc *wallService.Service, renderer *web.Renderer, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, renderer: renderer, log: log}
}

// RegisterRoutes mounts the admin routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/admin", h.handleList)
	r.Post("/admin/delete/{id}", h.handleDelete)
	r.Post("/admin/delete-all", h.handleDeleteAll)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	messages, err := h.svc.List(r.Context())
	if err != nil {
		h.log.Error("[admin] failed to list messages", "error", err)
		utils.RespondText(w, http.StatusInternalServerError, "Something went wrong, please try again later.")
		return
	}

	data := web.PageData{Title: "Moderation", Messages: messages}
	if err := h.renderer.Render(w, http.StatusOK, web.PageAdmin, data); err != nil {
		h.log.Error("[admin] failed to render page", "error", err)
		utils.RespondText(w, http.StatusInternalServerError, "Something went wrong, please try again later.")
	}
}

// handleDelete treats an unknown id as already deleted.
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.svc.Delete(r.Context(), id); err != nil {
		if !errors.Is(err, wallService.ErrNotFound) {
			h.log.Error("[admin] failed to delete message", "id", id, "error", err)
			utils.RespondText(w, http.StatusInternalServerError, "Something went wrong, please try again later.")
			return
		}
		h.log.Debug("[admin] message already gone", "id", id)
	}
	http.Redirect(w, r, "/admin", http.StatusSeeOther)
}

func (h *Handler) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	if _, err := h.svc.DeleteAll(r.Context()); err != nil {
		h.log.Error("[admin] failed to delete all messages", "error", err)
		utils.RespondText(w, http.StatusInternalServerError, "Something went wrong, please try again later.")
		return
	}
	http.Redirect(w, r, "/admin", http.StatusSeeOther)
}
