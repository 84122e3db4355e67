package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Public, no auth required.
	r.Get("/health", g.handleHealth())
	r.Handle("/metrics", g.metrics.Handler())

	// WebSocket bridge. Token auth happens inside the handshake.
	if g.bridge != nil {
		r.Handle("/ws", g.bridge)
	}

	// Admin endpoints require auth and are not mounted without it.
	if g.config.Auth.IsConfigured() {
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware(g.config.Auth))
			r.Get("/status", g.handleStatus())
			r.Route("/api", func(r chi.Router) {
				r.Get("/conversations", g.handleListConversations())
				r.Delete("/conversations/{id}", g.handleForgetConversation())
				r.Post("/config/reload", g.handleReloadConfig())
			})
		})
	}

	return r
}
