package hub

import (
	"context"
	"fmt"

	"github.com/osobh/pingpong-sub001/internal/bus"
	"github.com/osobh/pingpong-sub001/internal/consensus"
	"github.com/osobh/pingpong-sub001/internal/room"
	"github.com/osobh/pingpong-sub001/internal/store"
)

// RoomDetail is a room summary together with its local members.
type RoomDetail struct {
	room.Summary
	Members []room.MemberInfo `json:"members"`
}

// Stats is a snapshot of the hub for health reporting.
type Stats struct {
	Rooms    int `json:"rooms"`
	Sessions int `json:"sessions"`
	Queued   int `json:"queued"`
}

// CreateRoom creates and records a room on behalf of an HTTP caller.
func (h *Hub) CreateRoom(ctx context.Context, id, topic, mode string) (room.Summary, error) {
	var (
		sum room.Summary
		err error
	)
	doErr := h.Do(ctx, func() {
		var r *room.Room
		r, err = h.createRoom(ctx, id, topic, mode)
		if err == nil {
			sum = room.Summary{ID: r.ID(), Topic: r.Topic(), Mode: r.Mode().Name, CreatedAt: r.CreatedAt()}
		}
	})
	if doErr != nil {
		return room.Summary{}, doErr
	}
	return sum, err
}

// ListRooms lists the hosted rooms. A non-empty topic filters by substring.
func (h *Hub) ListRooms(ctx context.Context, topic string) ([]room.Summary, error) {
	var out []room.Summary
	err := h.Do(ctx, func() {
		if topic != "" {
			out = h.rooms.FindRoomsByTopic(topic)
		} else {
			out = h.rooms.ListRooms()
		}
	})
	return out, err
}

// RoomDetail describes one room. Rooms known only to the DataStore are
// materialised first.
func (h *Hub) RoomDetail(ctx context.Context, id string) (RoomDetail, error) {
	var (
		detail RoomDetail
		found  bool
	)
	err := h.Do(ctx, func() {
		r, ok := h.lookupRoom(ctx, id)
		if !ok {
			return
		}
		found = true
		detail = RoomDetail{
			Summary: room.Summary{
				ID:          r.ID(),
				Topic:       r.Topic(),
				Mode:        r.Mode().Name,
				MemberCount: r.MemberCount(),
				CreatedAt:   r.CreatedAt(),
			},
			Members: r.Members(),
		}
	})
	if err != nil {
		return RoomDetail{}, err
	}
	if !found {
		return RoomDetail{}, fmt.Errorf("%w: %s", room.ErrRoomNotFound, id)
	}
	return detail, nil
}

// Proposals lists a room's proposals, optionally filtered by status.
func (h *Hub) Proposals(ctx context.Context, roomID string, status consensus.Status) ([]consensus.Snapshot, error) {
	var (
		out   []consensus.Snapshot
		found bool
	)
	err := h.Do(ctx, func() {
		r, ok := h.rooms.GetRoom(roomID)
		if !ok {
			return
		}
		found = true
		out = r.Proposals(status)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", room.ErrRoomNotFound, roomID)
	}
	return out, nil
}

// CloseRoom shuts a room down, disconnecting its members. The default room
// cannot be closed.
func (h *Hub) CloseRoom(ctx context.Context, id string) error {
	if id == h.cfg.DefaultRoomID {
		return fmt.Errorf("the default room %s cannot be closed", id)
	}
	var err error
	if doErr := h.Do(ctx, func() {
		if err = h.rooms.CloseRoom(id); err == nil {
			h.sessions.dropRoom(id)
		}
	}); doErr != nil {
		return doErr
	}
	return err
}

// Stats reports registry sizes.
func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := h.Do(ctx, func() {
		s = Stats{
			Rooms:    h.rooms.RoomCount(),
			Sessions: h.sessions.len(),
			Queued:   len(h.tasks),
		}
	})
	return s, err
}

// Bus returns the message bus, or nil when running standalone.
func (h *Hub) Bus() bus.Bus { return h.bus }

// DataStore returns the configured DataStore, or nil.
func (h *Hub) DataStore() store.DataStore { return h.store }

// DefaultRoomID returns the room JOIN selects when no room is named.
func (h *Hub) DefaultRoomID() string { return h.cfg.DefaultRoomID }
