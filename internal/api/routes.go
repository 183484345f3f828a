package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes builds the HTTP router. metricsHandler serves GET /metrics and
// may be nil.
func (h *Handler) Routes(m *Middleware, metricsHandler http.Handler, corsOrigins []string, rateLimitRPM int) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(m.RequestID)
	r.Use(m.RequestLogger)
	r.Use(m.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(m.CORS(corsOrigins))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})

	// Observability, exempt from rate limiting
	r.Get("/health", h.GetHealth)
	r.Get("/healthz", h.Healthz)
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	// KV API
	r.Group(func(r chi.Router) {
		r.Use(m.RateLimit(rateLimitRPM))

		r.Post("/set", h.SetKey)
		r.Get("/get/details/{key}", h.GetDetails)
		r.Get("/get/{key}", h.GetKey)
		r.Delete("/delete/{key}", h.DeleteKey)
		r.Get("/exists/{key}", h.KeyExists)
		r.Get("/keys", h.ListKeys)
		r.Patch("/expire/{key}/{ttl}", h.ExpireKey)
		r.Get("/ttl/{key}", h.GetTTL)
		r.Delete("/flushall", h.FlushAll)

		r.Get("/admin/logs", h.GetLogs)
	})

	return r
}
