// Package health implements the gateway's HTTP health endpoints (SPEC_FULL
// §2 supplement, grounded on the teacher's health checker).
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/nexus-edge/opc-gateway/internal/egress"
	"github.com/nexus-edge/opc-gateway/internal/registry"
	"github.com/nexus-edge/opc-gateway/internal/session"
)

// Checker provides the gateway's health check endpoints.
type Checker struct {
	registry *registry.Registry
	queue    egress.Queue
	logger   zerolog.Logger
}

// NewChecker constructs a Checker.
func NewChecker(reg *registry.Registry, queue egress.Queue, logger zerolog.Logger) *Checker {
	return &Checker{
		registry: reg,
		queue:    queue,
		logger:   logger.With().Str("component", "health-checker").Logger(),
	}
}

// HealthResponse is the /health JSON response shape.
type HealthResponse struct {
	Status     string            `json:"status"`
	Timestamp  string            `json:"timestamp"`
	Components map[string]string `json:"components"`
}

// HealthHandler reports overall status: the egress queue's connection
// state and whether any session is connected.
func (c *Checker) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	egressStatus := "healthy"
	if !c.queue.Connected() {
		egressStatus = "unhealthy"
	}

	sessionStatus := "healthy"
	sessions := c.registry.Sessions(ctx)
	connected := 0
	for _, s := range sessions {
		if s.State == session.Connected {
			connected++
		}
	}
	if len(sessions) > 0 && connected == 0 {
		sessionStatus = "unhealthy"
	}

	overall := "healthy"
	if egressStatus != "healthy" || sessionStatus != "healthy" {
		overall = "degraded"
	}

	resp := HealthResponse{
		Status:    overall,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Components: map[string]string{
			"egress":   egressStatus,
			"sessions": sessionStatus,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	if overall != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// LiveHandler reports 200 as long as the process is running.
func (c *Checker) LiveHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":    "alive",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// ReadyHandler reports 200 once the egress queue is connected, since a
// gateway that cannot publish is not ready to do useful work even if its
// OPC sessions are healthy.
func (c *Checker) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !c.queue.Connected() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "not ready"})
		return
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}
