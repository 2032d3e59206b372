package handlers

import (
	"net/http"
	"strconv"

	"github.com/osobh/pingpong-sub001/internal/protocol"
	"github.com/osobh/pingpong-sub001/internal/store"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 100
	maxQueryLength     = 100
)

// SearchResult is one matching message.
type SearchResult struct {
	MessageResponse
	RoomID string `json:"roomId"`
	Topic  string `json:"topic,omitempty"`
}

// SearchResponse represents the search response.
type SearchResponse struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
	Total   int            `json:"total"`
}

// Search handles GET /search?q=&room=&limit=&after=.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	if h.redis == nil {
		h.Error(w, http.StatusServiceUnavailable, "search requires Redis")
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		h.Error(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	if len(query) > maxQueryLength {
		h.Error(w, http.StatusBadRequest, "query too long (max 100 chars)")
		return
	}

	limit := defaultSearchLimit
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = l
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	var after int64
	if afterStr := r.URL.Query().Get("after"); afterStr != "" {
		a, err := strconv.ParseInt(afterStr, 10, 64)
		if err != nil || a < 0 {
			h.Error(w, http.StatusBadRequest, "after must be a Unix ms timestamp")
			return
		}
		after = a
	}

	roomFilter := r.URL.Query().Get("room")
	if roomFilter != "" && !protocol.ValidRoomID(roomFilter) {
		h.Error(w, http.StatusBadRequest, "invalid room ID format")
		return
	}

	tokens := store.Tokenize(query)
	if len(tokens) > store.MaxSearchTokens {
		tokens = tokens[:store.MaxSearchTokens]
	}
	if len(tokens) == 0 {
		h.JSON(w, http.StatusOK, SearchResponse{Query: query, Results: []SearchResult{}})
		return
	}

	messages, err := h.redis.SearchMessages(r.Context(), tokens, limit, after, roomFilter)
	if err != nil {
		h.logger.Error().Err(err).Str("query", query).Msg("search")
		h.Error(w, http.StatusInternalServerError, "search failed")
		return
	}

	// Topics of rooms that have since closed are left empty.
	topics := make(map[string]string)
	results := make([]SearchResult, 0, len(messages))
	for _, msg := range messages {
		topic, ok := topics[msg.RoomID]
		if !ok {
			if detail, err := h.hub.RoomDetail(r.Context(), msg.RoomID); err == nil {
				topic = detail.Topic
			}
			topics[msg.RoomID] = topic
		}
		results = append(results, SearchResult{
			MessageResponse: MessageResponse{
				ID:        msg.ID,
				AgentID:   msg.AgentID,
				AgentName: msg.AgentName,
				Role:      msg.Role,
				Content:   msg.Content,
				Timestamp: msg.Timestamp,
			},
			RoomID: msg.RoomID,
			Topic:  topic,
		})
	}

	h.JSON(w, http.StatusOK, SearchResponse{Query: query, Results: results, Total: len(results)})
}
