package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/flemzord/chatpilot/internal/budget"
	"github.com/flemzord/chatpilot/internal/history"
)

// StatusResponse is the JSON response for GET /status.
type StatusResponse struct {
	Uptime        time.Duration   `json:"uptime_seconds"`
	Model         string          `json:"model,omitempty"`
	ContextWindow int             `json:"context_window,omitempty"`
	Metrics       MetricsSnapshot `json:"metrics"`
	History       history.Stats   `json:"history"`
}

// handleStatus returns an http.HandlerFunc for GET /status.
func (g *Gateway) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := StatusResponse{
			Uptime:  time.Since(g.startedAt).Truncate(time.Second),
			Metrics: g.metrics.Snapshot(),
		}

		if g.backend != nil {
			resp.Model = g.backend.ModelName()
			resp.ContextWindow = g.backend.ContextWindowSize()
		}
		if g.registry != nil {
			resp.History = g.registry.Stats(budget.CharClassEstimator{})
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}
