package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/message-wall/backend/internal/handler/admin"
	"github.com/zhouzirui/message-wall/backend/internal/handler/realtime"
	"github.com/zhouzirui/message-wall/backend/internal/handler/wall"
	middlewarePkg "github.com/zhouzirui/message-wall/backend/internal/middleware"
	"github.com/zhouzirui/message-wall/backend/internal/service/broadcast"
	wallService "github.com/zhouzirui/message-wall/backend/internal/service/wall"
	"github.com/zhouzirui/message-wall/backend/internal/web"
)

// Deps are the services the router exposes.
type Deps struct {
	Wall     *wallService.Service
	Hub      *broadcast.Hub
	Renderer *web.Renderer
	Options  wall.Options
	// UploadDir is served under /uploads/ when photos are stored on local disk.
	UploadDir string
	Log       *slog.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	if deps.Options.Log == nil {
		deps.Options.Log = deps.Log
	}

	wall.New(deps.Wall, deps.Renderer, deps.Options).RegisterRoutes(r)
	admin.New(deps.Wall, deps.Renderer, deps.Log).RegisterRoutes(r)
	realtime.New(deps.Hub, deps.Log).RegisterRoutes(r)

	r.Handle("/static/*", http.StripPrefix("/static/", web.Static()))
	if deps.UploadDir != "" {
		r.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(deps.UploadDir))))
	}

	return r
}
