package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

type healthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	Environment   string            `json:"env"`
	DeployedAt    time.Time         `json:"deployedAt"`
	Subsystems    map[string]string `json:"subsystems"`
	DurationMs    float64           `json:"durationMs"`
	CorrelationID string            `json:"correlationId"`
}

// handleHealth implements GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	start := s.now()
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	subsystems := map[string]string{}
	status := "ok"
	if err := s.Store.Ping(ctx); err != nil {
		subsystems["store"] = "down"
		status = "degraded"
	} else {
		subsystems["store"] = "ok"
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "application/json")
	if status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(healthResponse{
		Status: status, Version: s.Version, Environment: s.Environment,
		DeployedAt: s.DeployedAt, Subsystems: subsystems,
		DurationMs:    float64(s.now().Sub(start).Microseconds()) / 1000.0,
		CorrelationID: CorrelationID(r.Context()),
	})
}

// handleJWKS implements GET /.well-known/jwks.json, supporting conditional
// GET via ETag.
func (s *Server) handleJWKS(w http.ResponseWriter, r *http.Request) {
	body, etag, err := s.JWT.JWKSDocument()
	if err != nil {
		http.Error(w, `{"error":"internal_error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("ETag", etag)
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}
