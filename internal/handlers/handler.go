package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/osobh/pingpong-sub001/internal/hub"
	"github.com/osobh/pingpong-sub001/internal/store"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	hub    *hub.Hub
	redis  *store.RedisStore
	logger zerolog.Logger
}

// NewHandler creates a new Handler. redis may be nil, in which case message
// history is unavailable.
func NewHandler(h *hub.Hub, redis *store.RedisStore, logger zerolog.Logger) *Handler {
	return &Handler{hub: h, redis: redis, logger: logger}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}
