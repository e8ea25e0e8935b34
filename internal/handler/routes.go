package handler

import (
	"net/http"

	"github.com/msomdec/geostory/internal/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server bundles the handlers and the per-client middleware.
type Server struct {
	Clients      *ClientRegistry
	Credentials  *service.CredentialService
	Limiter      *service.KeyedLimiter
	CookieSecure bool
	PageSize     int
	MaxImageSize int64
}

// RegisterRoutes sets up all HTTP routes on the given mux.
func RegisterRoutes(mux *http.ServeMux, s *Server) {
	mux.HandleFunc("GET /healthz", HandleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())

	client := func(h http.Handler) http.Handler {
		return Identify(s.Clients, s.CookieSecure, RateLimit(s.Limiter, h))
	}

	auth := NewAuthHandler(s.Credentials)
	mux.Handle("POST /api/auth/login", client(http.HandlerFunc(auth.HandleLogin)))
	mux.Handle("POST /api/auth/logout", client(http.HandlerFunc(auth.HandleLogout)))
	mux.Handle("GET /api/auth/me", client(http.HandlerFunc(auth.HandleMe)))

	pages := NewPageHandler(s.PageSize)
	mux.Handle("POST /api/navigate", client(http.HandlerFunc(pages.HandleNavigate)))
	mux.Handle("GET /api/page", client(http.HandlerFunc(pages.HandlePage)))
	mux.Handle("GET /api/events", client(http.HandlerFunc(pages.HandleEvents)))
	mux.Handle("GET /api/stories", client(http.HandlerFunc(pages.HandleListStories)))
	mux.Handle("GET /api/stories/{id}", client(http.HandlerFunc(pages.HandleGetStory)))
	mux.Handle("POST /api/detail/{id}", client(http.HandlerFunc(pages.HandleOpenDetail)))
	mux.Handle("DELETE /api/detail", client(http.HandlerFunc(pages.HandleCloseDetail)))
	mux.Handle("GET /api/bookmarks", client(http.HandlerFunc(pages.HandleListBookmarks)))
	mux.Handle("POST /api/bookmarks/{id}/toggle", client(http.HandlerFunc(pages.HandleToggleBookmark)))

	create := NewCreateHandler(s.MaxImageSize)
	mux.Handle("POST /api/create/image", client(create.HandleUploadImage()))
	mux.Handle("DELETE /api/create/image", client(create.HandleClearImage()))
	mux.Handle("POST /api/create/description", client(create.HandleDescription()))
	mux.Handle("POST /api/create/camera/permission", client(http.HandlerFunc(create.HandleDeviceState)))
	mux.Handle("POST /api/create/camera/{action}", client(create.HandleCamera()))
	mux.Handle("POST /api/create/publish", client(create.HandlePublish()))
	mux.Handle("POST /api/create/cancel", client(create.HandleCancel()))
	mux.Handle("POST /api/map/{surface}/{event}", client(http.HandlerFunc(create.HandleMapEvent)))
}
