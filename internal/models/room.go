package models

import "time"

// Room is the persisted registry entry for a room. Membership is never
// persisted; it lives only as long as the connections do.
type Room struct {
	ID           string    `json:"id"`
	Topic        string    `json:"topic"`
	Mode         string    `json:"mode"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	MessageCount int64     `json:"message_count"`
}
