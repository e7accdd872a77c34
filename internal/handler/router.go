package handler

import (
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nyu-mlab/gemini-proxy/internal/handler/chat"
	"github.com/nyu-mlab/gemini-proxy/internal/handler/stream"
	"github.com/nyu-mlab/gemini-proxy/internal/logging"
	middlewarePkg "github.com/nyu-mlab/gemini-proxy/internal/middleware"
	chatService "github.com/nyu-mlab/gemini-proxy/internal/service/chat"
	"github.com/nyu-mlab/gemini-proxy/pkg/utils"
)

// NewRouter wires HTTP routes to the chat service.
func NewRouter(chatSvc *chatService.Service, log *logging.Logger, corsOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(corsOrigins))

	chat.New(chatSvc, log).RegisterRoutes(r)
	stream.New(chatSvc, log).RegisterRoutes(r)
	chat.NewWebSocketHandler(chatSvc, log, originChecker(corsOrigins)).RegisterRoutes(r)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":             "ok",
			"sessions":           chatSvc.SessionCount(),
			"tracked_identities": chatSvc.TrackedIdentities(),
		})
	})

	return r
}

// originChecker accepts the same origins as CORS; without any it falls back
// to gorilla's same-origin check.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
	}
}
