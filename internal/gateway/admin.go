package gateway

import (
	"encoding/json"
	"net/http"
	"slices"

	"github.com/flemzord/chatpilot/internal/budget"
	"github.com/flemzord/chatpilot/internal/history"
	"github.com/go-chi/chi/v5"
)

// ConversationsResponse is the JSON response for GET /api/conversations.
type ConversationsResponse struct {
	Stats history.Stats `json:"stats"`
	IDs   []string      `json:"ids"`
}

// handleListConversations returns the live conversation IDs and
// aggregate history stats.
func (g *Gateway) handleListConversations() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if g.registry == nil {
			http.Error(w, "history registry unavailable", http.StatusServiceUnavailable)
			return
		}

		ids := make([]string, 0)
		for id := range g.registry.ActiveIDs() {
			ids = append(ids, id)
		}
		slices.Sort(ids)

		resp := ConversationsResponse{
			Stats: g.registry.Stats(budget.CharClassEstimator{}),
			IDs:   ids,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// handleForgetConversation drops one conversation's history. A
// conversation with an exchange in flight is not removable and reports
// 409.
func (g *Gateway) handleForgetConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.registry == nil {
			http.Error(w, "history registry unavailable", http.StatusServiceUnavailable)
			return
		}

		id := chi.URLParam(r, "id")
		if _, ok := g.registry.ActiveIDs()[id]; !ok {
			http.Error(w, "conversation not found", http.StatusNotFound)
			return
		}
		if !g.registry.Forget(id) {
			http.Error(w, "conversation is busy", http.StatusConflict)
			return
		}

		g.logger.Info("conversation forgotten", "conversation", id)
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleReloadConfig triggers a configuration reload.
func (g *Gateway) handleReloadConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if g.reloader == nil {
			http.Error(w, "reload unavailable", http.StatusServiceUnavailable)
			return
		}

		if err := g.reloader.ReloadConfig(); err != nil {
			g.logger.Error("config reload failed", "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		g.logger.Info("config reloaded")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "reloaded"})
	}
}
