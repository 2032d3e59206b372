package room

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/osobh/pingpong-sub001/internal/bus"
	"github.com/osobh/pingpong-sub001/internal/metrics"
)

// Summary is a point-in-time view of a room for listings.
type Summary struct {
	ID          string    `json:"roomId"`
	Topic       string    `json:"topic"`
	Mode        string    `json:"mode"`
	MemberCount int       `json:"agentCount"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Manager is the registry of rooms hosted by this process.
type Manager struct {
	rooms map[string]*Room

	bus         bus.Bus
	serverID    string
	dedupWindow int
	exec        func(func())
	observer    Observer
	logger      zerolog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithBus attaches rooms to b. serverID stamps outgoing envelopes and
// identifies our own envelopes on the way back in.
func WithBus(b bus.Bus, serverID string) Option {
	return func(m *Manager) {
		m.bus = b
		m.serverID = serverID
	}
}

// WithExecutor sets how bus deliveries and proposal timers reach the rooms.
// exec must run fn on the goroutine that owns the Manager. The default runs
// fn immediately, which is only correct when nothing else touches the rooms
// concurrently.
func WithExecutor(exec func(fn func())) Option {
	return func(m *Manager) { m.exec = exec }
}

// WithDedupWindow sets how many envelope ids each room remembers. Zero
// disables deduplication.
func WithDedupWindow(n int) Option {
	return func(m *Manager) { m.dedupWindow = n }
}

// WithObserver receives posted messages and proposal changes.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.observer = o
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates an empty registry.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		rooms:       make(map[string]*Room),
		dedupWindow: bus.DefaultDedupWindow,
		exec:        func(fn func()) { fn() },
		observer:    nopObserver{},
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateRoom registers a new room and subscribes it to the bus. An empty mode
// selects DefaultMode. When the subscription fails the room still serves its
// local members.
func (m *Manager) CreateRoom(ctx context.Context, id, topic, mode string) (*Room, error) {
	if _, exists := m.rooms[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateRoom, id)
	}
	md, err := LookupMode(mode)
	if err != nil {
		return nil, err
	}

	r := newRoom(id, topic, md, m)
	m.rooms[id] = r
	metrics.RoomsActive.Inc()

	if m.bus != nil {
		deliver := func(env bus.Envelope) {
			m.exec(func() { r.deliverRemote(env) })
		}
		sub, err := m.bus.Subscribe(ctx, id, bus.SkipOrigin(m.serverID, bus.Dedup(m.dedupWindow, deliver)))
		if err != nil {
			metrics.BusErrors.WithLabelValues("subscribe").Inc()
			m.logger.Warn().Err(err).Str("room", id).Msg("bus subscribe failed, room is local-only")
		} else {
			r.sub = sub
		}
	}

	m.logger.Info().Str("room", id).Str("topic", topic).Str("mode", md.Name).Msg("room created")
	return r, nil
}

// GetRoom returns the room with the given id.
func (m *Manager) GetRoom(id string) (*Room, bool) {
	r, ok := m.rooms[id]
	return r, ok
}

// RoomCount returns the number of registered rooms.
func (m *Manager) RoomCount() int {
	return len(m.rooms)
}

// ListRooms returns a summary of every room, ordered by id.
func (m *Manager) ListRooms() []Summary {
	out := make([]Summary, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, summarize(r))
	}
	sortSummaries(out)
	return out
}

// FindRoomsByTopic returns rooms whose topic contains substr, ignoring case.
func (m *Manager) FindRoomsByTopic(substr string) []Summary {
	needle := strings.ToLower(substr)
	out := []Summary{}
	for _, r := range m.rooms {
		if strings.Contains(strings.ToLower(r.topic), needle) {
			out = append(out, summarize(r))
		}
	}
	sortSummaries(out)
	return out
}

// CloseRoom shuts a room down and removes it from the registry.
func (m *Manager) CloseRoom(id string) error {
	r, ok := m.rooms[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, id)
	}
	r.Shutdown()
	delete(m.rooms, id)
	metrics.RoomsActive.Dec()
	return nil
}

// Shutdown shuts down every room and empties the registry.
func (m *Manager) Shutdown() {
	for id, r := range m.rooms {
		r.Shutdown()
		delete(m.rooms, id)
		metrics.RoomsActive.Dec()
	}
}

func summarize(r *Room) Summary {
	return Summary{
		ID:          r.id,
		Topic:       r.topic,
		Mode:        r.mode.Name,
		MemberCount: len(r.members),
		CreatedAt:   r.createdAt,
	}
}

func sortSummaries(s []Summary) {
	sort.Slice(s, func(i, j int) bool { return s[i].ID < s[j].ID })
}
