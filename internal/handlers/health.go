package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/osobh/pingpong-sub001/internal/room"
)

const version = "0.1.0"

// Check represents the status of a health check.
type Check struct {
	Status  string `json:"status"`            // "pass", "fail" or "skip"
	Latency string `json:"latency,omitempty"` // e.g., "2ms"
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string           `json:"status"` // "healthy" or "degraded"
	Version   string           `json:"version"`
	Rooms     int              `json:"rooms"`
	Sessions  int              `json:"sessions"`
	Checks    map[string]Check `json:"checks"`
	Timestamp string           `json:"timestamp"`
}

// Health reports the event loop, bus, DataStore and Redis. Backends that are
// not configured are skipped rather than failed.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]Check)
	allHealthy := true
	record := func(name string, start time.Time, err error) {
		if err != nil {
			checks[name] = Check{Status: "fail", Message: err.Error()}
			allHealthy = false
			return
		}
		checks[name] = Check{Status: "pass", Latency: time.Since(start).String()}
	}

	// The loop answers only when it is not wedged.
	start := time.Now()
	stats, err := h.hub.Stats(ctx)
	record("hub", start, err)

	if h.hub.Bus() != nil {
		checks["bus"] = Check{Status: "pass", Message: busKind(h)}
	} else {
		checks["bus"] = Check{Status: "skip", Message: "standalone"}
	}

	if ds := h.hub.DataStore(); ds != nil {
		start = time.Now()
		record("datastore", start, ds.Ping(ctx))
	} else {
		checks["datastore"] = Check{Status: "skip", Message: "not configured"}
	}

	if h.redis != nil {
		start = time.Now()
		record("redis", start, h.redis.Ping(ctx))
	} else {
		checks["redis"] = Check{Status: "skip", Message: "not configured"}
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	h.JSON(w, statusCode, HealthResponse{
		Status:    status,
		Version:   version,
		Rooms:     stats.Rooms,
		Sessions:  stats.Sessions,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func busKind(h *Handler) string {
	if h.redis != nil {
		return "redis"
	}
	return "memory"
}

// RootResponse represents the root endpoint response.
type RootResponse struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	DefaultRoom  string   `json:"defaultRoom"`
	Modes        []string `json:"modes"`
	WebSocketURL string   `json:"websocket"`
}

// Root handles the API info endpoint.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, RootResponse{
		Name:         "pingpong",
		Version:      version,
		DefaultRoom:  h.hub.DefaultRoomID(),
		Modes:        room.ModeNames(),
		WebSocketURL: "/ws",
	})
}
