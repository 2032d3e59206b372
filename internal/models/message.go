package models

// Message represents a chat message stored in Redis.
type Message struct {
	ID        string `json:"id"` // ULID
	RoomID    string `json:"room_id"`
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"ts"` // Unix ms
}
