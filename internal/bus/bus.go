// Package bus relays room traffic between server processes.
//
// Two implementations share one contract: Memory for a single process (or
// several managers inside one process, as in tests) and Redis for
// multi-server deployments. Delivery is at-least-once and carries no global
// ordering; receivers filter their own envelopes by origin.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/osobh/pingpong-sub001/internal/ids"
)

var (
	ErrNotConnected = errors.New("bus: not connected")
	ErrClosed       = errors.New("bus: subscription closed")
)

// Envelope is one unit of cross-process room traffic.
type Envelope struct {
	ID        string          `json:"id"`
	RoomID    string          `json:"roomId"`
	Origin    string          `json:"originServerId"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"` // Unix ms
}

// NewEnvelope stamps payload with a fresh id, the origin and the current time.
func NewEnvelope(roomID, origin string, payload json.RawMessage) Envelope {
	return Envelope{
		ID:        ids.NewEnvelopeID(),
		RoomID:    roomID,
		Origin:    origin,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Handler receives envelopes for a subscribed room.
type Handler func(Envelope)

// Subscription is a live registration for one room.
type Subscription interface {
	RoomID() string
	Unsubscribe(ctx context.Context) error
}

// Bus is a publish/subscribe transport keyed by room id.
type Bus interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Publish(ctx context.Context, roomID string, env Envelope) error
	Subscribe(ctx context.Context, roomID string, h Handler) (Subscription, error)
}

// SubscriberCounter is implemented by buses that know every subscriber of a
// room. Memory does; Redis cannot see subscribers on other servers.
type SubscriberCounter interface {
	SubscriberCount(roomID string) int
}

// SkipOrigin wraps h so envelopes published by origin are dropped.
func SkipOrigin(origin string, h Handler) Handler {
	return func(env Envelope) {
		if env.Origin == origin {
			return
		}
		h(env)
	}
}
