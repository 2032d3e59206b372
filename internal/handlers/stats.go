package handlers

import (
	"net/http"
	"sort"
	"strconv"
	"time"
)

const topRoomsLimit = 5

// RoomStats represents activity of a single persisted room.
type RoomStats struct {
	ID           string `json:"roomId"`
	Topic        string `json:"topic"`
	MessageCount int64  `json:"messageCount"`
	LastActivity string `json:"lastActivity"`
}

// StatsResponse represents the response from the stats endpoint.
type StatsResponse struct {
	RoomsHosted   int         `json:"roomsHosted"`
	Sessions      int         `json:"sessions"`
	QueuedTasks   int         `json:"queuedTasks"`
	RoomsRecorded int         `json:"roomsRecorded"`
	TotalMessages int64       `json:"totalMessages"`
	LastActivity  string      `json:"lastActivity"`
	TopRooms      []RoomStats `json:"topRooms"`
}

// Stats reports this server's load plus, when a DataStore is configured,
// cluster-wide activity from the room registry.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	live, err := h.hub.Stats(ctx)
	if err != nil {
		h.hubError(w, err)
		return
	}
	resp := StatsResponse{
		RoomsHosted:  live.Rooms,
		Sessions:     live.Sessions,
		QueuedTasks:  live.Queued,
		LastActivity: "no activity yet",
		TopRooms:     []RoomStats{},
	}

	ds := h.hub.DataStore()
	if ds == nil {
		h.JSON(w, http.StatusOK, resp)
		return
	}

	records, err := ds.ListRooms(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("list rooms for stats")
		h.Error(w, http.StatusInternalServerError, "failed to load room registry")
		return
	}

	var last time.Time
	for _, rec := range records {
		resp.TotalMessages += rec.MessageCount
		if rec.MessageCount > 0 && rec.LastActiveAt.After(last) {
			last = rec.LastActiveAt
		}
	}
	resp.RoomsRecorded = len(records)
	if !last.IsZero() {
		resp.LastActivity = formatTimeAgo(last)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].MessageCount > records[j].MessageCount
	})
	for _, rec := range records {
		if len(resp.TopRooms) == topRoomsLimit || rec.MessageCount == 0 {
			break
		}
		resp.TopRooms = append(resp.TopRooms, RoomStats{
			ID:           rec.ID,
			Topic:        rec.Topic,
			MessageCount: rec.MessageCount,
			LastActivity: formatTimeAgo(rec.LastActiveAt),
		})
	}

	h.JSON(w, http.StatusOK, resp)
}

// formatTimeAgo formats a time as a human-readable "X ago" string.
func formatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute") + " ago"
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour") + " ago"
	default:
		return plural(int(diff.Hours()/24), "day") + " ago"
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return strconv.Itoa(n) + " " + unit + "s"
}
