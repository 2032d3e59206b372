package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/osobh/pingpong-sub001/internal/consensus"
	"github.com/osobh/pingpong-sub001/internal/hub"
	"github.com/osobh/pingpong-sub001/internal/protocol"
	"github.com/osobh/pingpong-sub001/internal/room"
	"github.com/osobh/pingpong-sub001/internal/store"
)

const (
	defaultMessageLimit = store.DefaultHistoryLimit
	maxMessageLimit     = 200
)

// CreateRoomRequest represents the room creation request.
type CreateRoomRequest struct {
	RoomID string `json:"roomId"`
	Topic  string `json:"topic"`
	Mode   string `json:"mode,omitempty"`
}

// RoomListResponse represents the room listing response.
type RoomListResponse struct {
	Rooms []room.Summary `json:"rooms"`
}

// MessageResponse represents a message in API responses.
type MessageResponse struct {
	ID        string `json:"id"`
	AgentID   string `json:"agentId"`
	AgentName string `json:"agentName"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// RoomMessagesResponse represents the get room messages response.
type RoomMessagesResponse struct {
	RoomID   string            `json:"roomId"`
	Messages []MessageResponse `json:"messages"`
	HasMore  bool              `json:"hasMore"`
}

// ProposalListResponse represents live proposals of a room.
type ProposalListResponse struct {
	RoomID    string               `json:"roomId"`
	Proposals []consensus.Snapshot `json:"proposals"`
}

// ListRooms handles GET /rooms with an optional topic filter.
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.hub.ListRooms(r.Context(), r.URL.Query().Get("topic"))
	if err != nil {
		h.hubError(w, err)
		return
	}
	if rooms == nil {
		rooms = []room.Summary{}
	}
	h.JSON(w, http.StatusOK, RoomListResponse{Rooms: rooms})
}

// CreateRoom handles POST /rooms.
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	// Same rules as CREATE_ROOM over the socket.
	cmd := &protocol.CreateRoomCommand{RoomID: req.RoomID, Topic: req.Topic, Mode: req.Mode}
	if err := cmd.Validate(); err != nil {
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	sum, err := h.hub.CreateRoom(r.Context(), cmd.RoomID, cmd.Topic, cmd.Mode)
	switch {
	case errors.Is(err, room.ErrDuplicateRoom):
		h.Error(w, http.StatusConflict, "room already exists")
		return
	case errors.Is(err, room.ErrUnknownMode):
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.hubError(w, err)
		return
	}

	h.JSON(w, http.StatusCreated, sum)
}

// GetRoom handles GET /rooms/{id}.
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	detail, err := h.hub.RoomDetail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.hubError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, detail)
}

// CloseRoom handles DELETE /rooms/{id}.
func (h *Handler) CloseRoom(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == h.hub.DefaultRoomID() {
		h.Error(w, http.StatusForbidden, "the default room cannot be closed")
		return
	}
	if err := h.hub.CloseRoom(r.Context(), id); err != nil {
		h.hubError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetRoomMessages handles GET /rooms/{id}/messages.
func (h *Handler) GetRoomMessages(w http.ResponseWriter, r *http.Request) {
	if h.redis == nil {
		h.Error(w, http.StatusServiceUnavailable, "message history requires Redis")
		return
	}

	roomID := chi.URLParam(r, "id")
	if _, err := h.hub.RoomDetail(r.Context(), roomID); err != nil {
		h.hubError(w, err)
		return
	}

	limit := defaultMessageLimit
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = l
	}
	if limit > maxMessageLimit {
		limit = maxMessageLimit
	}

	var before int64
	if beforeStr := r.URL.Query().Get("before"); beforeStr != "" {
		b, err := strconv.ParseInt(beforeStr, 10, 64)
		if err != nil || b < 0 {
			h.Error(w, http.StatusBadRequest, "before must be a Unix ms timestamp")
			return
		}
		before = b
	}

	// One extra tells us whether there is more.
	messages, err := h.redis.GetRoomMessages(r.Context(), roomID, limit+1, before)
	if err != nil {
		h.logger.Error().Err(err).Str("room", roomID).Msg("fetch history")
		h.Error(w, http.StatusInternalServerError, "failed to fetch messages")
		return
	}
	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}

	resp := RoomMessagesResponse{RoomID: roomID, Messages: make([]MessageResponse, len(messages)), HasMore: hasMore}
	for i, msg := range messages {
		resp.Messages[i] = MessageResponse{
			ID:        msg.ID,
			AgentID:   msg.AgentID,
			AgentName: msg.AgentName,
			Role:      msg.Role,
			Content:   msg.Content,
			Timestamp: msg.Timestamp,
		}
	}
	h.JSON(w, http.StatusOK, resp)
}

// ListProposals handles GET /rooms/{id}/proposals. The live view comes from
// the room; ?source=audit reads the DataStore instead, which also covers
// proposals resolved before a restart.
func (h *Handler) ListProposals(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")

	var status consensus.Status
	if s := r.URL.Query().Get("status"); s != "" {
		parsed, err := consensus.ParseStatus(s)
		if err != nil {
			h.Error(w, http.StatusBadRequest, err.Error())
			return
		}
		status = parsed
	}

	if r.URL.Query().Get("source") == "audit" {
		h.listAuditedProposals(r.Context(), w, roomID, status)
		return
	}

	snapshots, err := h.hub.Proposals(r.Context(), roomID, status)
	if err != nil {
		h.hubError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, ProposalListResponse{RoomID: roomID, Proposals: snapshots})
}

func (h *Handler) listAuditedProposals(ctx context.Context, w http.ResponseWriter, roomID string, status consensus.Status) {
	ds := h.hub.DataStore()
	if ds == nil {
		h.Error(w, http.StatusServiceUnavailable, "proposal audit requires a database")
		return
	}
	records, err := ds.ListProposals(ctx, roomID)
	if err != nil {
		h.logger.Error().Err(err).Str("room", roomID).Msg("list audited proposals")
		h.Error(w, http.StatusInternalServerError, "failed to fetch proposals")
		return
	}

	out := make([]consensus.Snapshot, 0, len(records))
	for _, rec := range records {
		if status != "" && rec.Status != string(status) {
			continue
		}
		s := consensus.Snapshot{
			ID:            rec.ID,
			Title:         rec.Title,
			Description:   rec.Description,
			ProposerID:    rec.ProposerID,
			ProposerName:  rec.ProposerName,
			Threshold:     rec.Threshold,
			Status:        consensus.Status(rec.Status),
			ApprovalRatio: rec.ApprovalRatio,
			Tally:         consensus.Tally{Yes: rec.Yes, No: rec.No, Abstain: rec.Abstain},
			CreatedAt:     rec.CreatedAt,
			ResolvedAt:    rec.ResolvedAt,
		}
		out = append(out, s)
	}
	h.JSON(w, http.StatusOK, ProposalListResponse{RoomID: roomID, Proposals: out})
}

// hubError maps hub and room errors to HTTP statuses.
func (h *Handler) hubError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		h.Error(w, http.StatusNotFound, "room not found")
	case errors.Is(err, hub.ErrStopped):
		h.Error(w, http.StatusServiceUnavailable, "server is shutting down")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		h.Error(w, http.StatusServiceUnavailable, "server busy")
	default:
		h.logger.Error().Err(err).Msg("request failed")
		h.Error(w, http.StatusInternalServerError, "internal error")
	}
}

// requestTimeout bounds how long a handler waits for the event loop.
const requestTimeout = 5 * time.Second

// WithTimeout bounds every request's wait on the hub.
func WithTimeout(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
