package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/flemzord/chatpilot/internal/provider"
)

const healthProbeTimeout = 2 * time.Second

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status  string `json:"status"` // "ok" or "degraded"
	Backend string `json:"backend,omitempty"`
	Error   string `json:"error,omitempty"`
}

// handleHealth returns an http.HandlerFunc for GET /health. The backend
// is probed when it supports health checks; a failing probe reports 503.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{Status: "ok"}

		if g.backend != nil {
			resp.Backend = g.backend.ModelName()
			if hc, ok := g.backend.(provider.HealthChecker); ok {
				ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
				defer cancel()
				if err := hc.HealthCheck(ctx); err != nil {
					resp.Status = "degraded"
					resp.Error = err.Error()
				}
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if resp.Status == "degraded" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}
