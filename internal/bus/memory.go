package bus

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Memory is an in-process Bus. Publish dispatches synchronously, so
// envelopes from one publisher arrive in publish order.
type Memory struct {
	mu        sync.RWMutex
	subs      map[string][]*memorySub // roomID -> subscriptions
	connected atomic.Bool
	nextID    atomic.Uint64
	logger    zerolog.Logger
}

type memorySub struct {
	id      uint64
	roomID  string
	handler Handler
	bus     *Memory
}

// NewMemory creates an in-process bus. Call Connect before publishing.
func NewMemory(logger zerolog.Logger) *Memory {
	return &Memory{
		subs:   make(map[string][]*memorySub),
		logger: logger,
	}
}

// Connect marks the bus usable.
func (m *Memory) Connect(ctx context.Context) error {
	m.connected.Store(true)
	return nil
}

// Disconnect drops every subscription.
func (m *Memory) Disconnect(ctx context.Context) error {
	m.connected.Store(false)
	m.mu.Lock()
	m.subs = make(map[string][]*memorySub)
	m.mu.Unlock()
	return nil
}

// Publish delivers env to every handler subscribed to roomID.
func (m *Memory) Publish(ctx context.Context, roomID string, env Envelope) error {
	if !m.connected.Load() {
		return ErrNotConnected
	}
	if env.RoomID == "" {
		env.RoomID = roomID
	}

	m.mu.RLock()
	subs := make([]*memorySub, len(m.subs[roomID]))
	copy(subs, m.subs[roomID])
	m.mu.RUnlock()

	for _, s := range subs {
		m.safeCall(s.handler, env)
	}
	return nil
}

// Subscribe registers h for roomID.
func (m *Memory) Subscribe(ctx context.Context, roomID string, h Handler) (Subscription, error) {
	if !m.connected.Load() {
		return nil, ErrNotConnected
	}
	s := &memorySub{
		id:      m.nextID.Add(1),
		roomID:  roomID,
		handler: h,
		bus:     m,
	}

	m.mu.Lock()
	m.subs[roomID] = append(m.subs[roomID], s)
	m.mu.Unlock()
	return s, nil
}

// SubscriberCount returns the number of live subscriptions for roomID.
func (m *Memory) SubscriberCount(roomID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[roomID])
}

func (m *Memory) remove(s *memorySub) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	subs := m.subs[s.roomID]
	for i, cur := range subs {
		if cur.id == s.id {
			m.subs[s.roomID] = append(subs[:i:i], subs[i+1:]...)
			if len(m.subs[s.roomID]) == 0 {
				delete(m.subs, s.roomID)
			}
			return true
		}
	}
	return false
}

// safeCall keeps one panicking handler from blocking delivery to the rest.
func (m *Memory) safeCall(h Handler, env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().
				Str("room_id", env.RoomID).
				Str("envelope_id", env.ID).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("bus handler panicked")
		}
	}()
	h(env)
}

func (s *memorySub) RoomID() string {
	return s.roomID
}

func (s *memorySub) Unsubscribe(ctx context.Context) error {
	if !s.bus.remove(s) {
		return ErrClosed
	}
	return nil
}
