package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/trafficwatch/sos-assistant/backend/internal/handler/assistant"
	"github.com/trafficwatch/sos-assistant/backend/internal/handler/language"
	"github.com/trafficwatch/sos-assistant/backend/internal/handler/speech"
	"github.com/trafficwatch/sos-assistant/backend/internal/handler/stream"
	middlewarePkg "github.com/trafficwatch/sos-assistant/backend/internal/middleware"
	assistantService "github.com/trafficwatch/sos-assistant/backend/internal/service/assistant"
	speechService "github.com/trafficwatch/sos-assistant/backend/internal/service/speech"
	"github.com/trafficwatch/sos-assistant/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services. backend and speechSvc may be
// nil; limiter nil disables rate limiting.
func NewRouter(backend stream.Backend, registry *assistantService.Registry, speechSvc *speechService.Service, limiter middlewarePkg.Limiter) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	var limit func(http.Handler) http.Handler
	if limiter != nil {
		limit = middlewarePkg.RateLimit(limiter)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"model":    backend != nil,
			"speech":   speechSvc != nil,
			"sessions": registry.Len(),
		})
	})

	socketHandler := speech.NewWebSocketHandler(registry)

	r.Route("/api", func(api chi.Router) {
		language.New().RegisterRoutes(api)

		// Chat endpoint consumed by the remote backend and other dashboards
		stream.New(backend, limit).RegisterRoutes(api)

		assistant.New(registry, limit).RegisterRoutes(api, socketHandler.RegisterSessionRoutes)

		// Stateless speech endpoints
		if speechSvc != nil {
			speech.New(speechSvc, speechSvc).RegisterRoutes(api)
		}
	})

	return r
}
