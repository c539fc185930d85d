package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/z-counsel/backend/internal/handler/chat"
	profileHandler "github.com/zhouzirui/z-counsel/backend/internal/handler/profile"
	"github.com/zhouzirui/z-counsel/backend/internal/handler/speech"
	"github.com/zhouzirui/z-counsel/backend/internal/handler/web"
	middlewarePkg "github.com/zhouzirui/z-counsel/backend/internal/middleware"
	"github.com/zhouzirui/z-counsel/backend/internal/model/profile"
	speechService "github.com/zhouzirui/z-counsel/backend/internal/service/speech"
	"github.com/zhouzirui/z-counsel/backend/internal/service/session"
)

// RouterOptions 路由层所需的依赖
type RouterOptions struct {
	Profiles       profile.Store
	Sessions       *session.Manager
	Connections    *speechService.ConnectionManager
	ServerTTS      bool
	MaxUploadBytes int64
}

// NewRouter wires HTTP routes to core services.
func NewRouter(opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	connections := opts.Connections
	if connections == nil {
		connections = speechService.NewConnectionManager()
	}

	chatHandler := chat.New(opts.Sessions, opts.MaxUploadBytes)
	speechHandler := speech.New(opts.Sessions, connections, opts.ServerTTS)
	profiles := profileHandler.New(opts.Profiles)

	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)
		speechHandler.RegisterRoutes(api)
		profiles.RegisterRoutes(api)
	})

	web.RegisterRoutes(r)

	return r
}
