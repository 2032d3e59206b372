// Package hub runs the single goroutine that owns every room on this server.
//
// Connections, bus subscriptions, proposal timers and HTTP handlers never
// touch a room directly. They hand the hub a task and the hub's loop runs
// tasks one at a time, in arrival order.
package hub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/osobh/pingpong-sub001/internal/bus"
	"github.com/osobh/pingpong-sub001/internal/consensus"
	"github.com/osobh/pingpong-sub001/internal/metrics"
	"github.com/osobh/pingpong-sub001/internal/models"
	"github.com/osobh/pingpong-sub001/internal/protocol"
	"github.com/osobh/pingpong-sub001/internal/room"
	"github.com/osobh/pingpong-sub001/internal/store"
)

var ErrStopped = errors.New("hub: stopped")

const (
	taskQueueSize = 1024
	storeTimeout  = 2 * time.Second
)

// History appends messages to a room's recent history.
type History interface {
	AddMessage(ctx context.Context, msg *models.Message) error
}

// Config is the hub's share of the server configuration.
type Config struct {
	ServerID      string
	DefaultRoomID string
	DefaultTopic  string
	DefaultMode   string
	DedupWindow   int
}

// Hub owns the Room Manager and serialises all access to it.
type Hub struct {
	cfg      Config
	bus      bus.Bus
	store    store.DataStore
	history  History
	rooms    *room.Manager
	sessions *sessions
	persist  *persister
	tasks    chan func()
	done     chan struct{}
	logger   zerolog.Logger
}

// Option configures a Hub.
type Option func(*Hub)

// WithBus relays room traffic to other servers through b.
func WithBus(b bus.Bus) Option {
	return func(h *Hub) { h.bus = b }
}

// WithDataStore persists the room registry and proposal audit trail.
func WithDataStore(ds store.DataStore) Option {
	return func(h *Hub) { h.store = ds }
}

// WithHistory records every locally posted message.
func WithHistory(hist History) Option {
	return func(h *Hub) { h.history = hist }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(h *Hub) { h.logger = logger }
}

// New creates a hub. Call Run to start its loop and Start to connect the bus
// and create the boot rooms.
func New(cfg Config, opts ...Option) *Hub {
	if cfg.DefaultRoomID == "" {
		cfg.DefaultRoomID = "lobby"
	}
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = room.DefaultMode
	}
	if cfg.DefaultTopic == "" {
		cfg.DefaultTopic = "general"
	}

	h := &Hub{
		cfg:      cfg,
		sessions: newSessions(),
		tasks:    make(chan func(), taskQueueSize),
		done:     make(chan struct{}),
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}

	managerOpts := []room.Option{
		room.WithExecutor(h.postAsync),
		room.WithObserver(h),
		room.WithDedupWindow(cfg.DedupWindow),
		room.WithLogger(h.logger),
	}
	if h.bus != nil {
		managerOpts = append(managerOpts, room.WithBus(h.bus, cfg.ServerID))
	}
	h.rooms = room.NewManager(managerOpts...)
	h.persist = newPersister(h.logger)
	return h
}

// Run drains the task queue until ctx is cancelled, then shuts every room
// down and disconnects the bus.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case task := <-h.tasks:
			h.safeRun(task)
		case <-ctx.Done():
			h.rooms.Shutdown()
			h.sessions = newSessions()
			h.persist.close()
			if h.bus != nil {
				dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := h.bus.Disconnect(dctx); err != nil {
					h.logger.Warn().Err(err).Msg("bus disconnect")
				}
				cancel()
			}
			h.logger.Info().Msg("hub stopped")
			return
		}
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) safeRun(task func()) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error().Interface("panic", r).Msg("hub task panicked")
		}
	}()
	task()
}

// Post queues fn for the loop. It reports false once the hub has stopped.
func (h *Hub) Post(fn func()) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.tasks <- fn:
		return true
	case <-h.done:
		return false
	}
}

// postAsync queues fn without blocking the caller. The in-process bus
// delivers on the loop itself, so a full queue hands fn to a goroutine.
func (h *Hub) postAsync(fn func()) {
	select {
	case h.tasks <- fn:
	case <-h.done:
	default:
		go h.Post(fn)
	}
}

// Do runs fn on the loop and waits for it to finish.
func (h *Hub) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		fn()
	}
	select {
	case h.tasks <- task:
	case <-h.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-h.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start connects the bus, restores persisted rooms and makes sure the
// default room exists. Run must already be running.
func (h *Hub) Start(ctx context.Context) error {
	if h.bus != nil {
		if err := h.bus.Connect(ctx); err != nil {
			return fmt.Errorf("connect bus: %w", err)
		}
	}

	var bootErr error
	err := h.Do(ctx, func() {
		h.restoreRooms(ctx)
		if _, ok := h.rooms.GetRoom(h.cfg.DefaultRoomID); !ok {
			_, bootErr = h.createRoom(ctx, h.cfg.DefaultRoomID, h.cfg.DefaultTopic, h.cfg.DefaultMode)
		}
	})
	if err != nil {
		return err
	}
	return bootErr
}

func (h *Hub) restoreRooms(ctx context.Context) {
	if h.store == nil {
		return
	}
	records, err := h.store.ListRooms(ctx)
	if err != nil {
		h.logger.Warn().Err(err).Msg("could not restore rooms")
		return
	}
	for _, rec := range records {
		if _, err := h.rooms.CreateRoom(ctx, rec.ID, rec.Topic, rec.Mode); err != nil {
			h.logger.Warn().Err(err).Str("room", rec.ID).Msg("skipping persisted room")
		}
	}
	h.logger.Info().Int("rooms", len(records)).Msg("restored rooms")
}

// createRoom registers a room and records it. Loop only.
func (h *Hub) createRoom(ctx context.Context, id, topic, mode string) (*room.Room, error) {
	if mode == "" {
		mode = h.cfg.DefaultMode
	}
	r, err := h.rooms.CreateRoom(ctx, id, topic, mode)
	if err != nil {
		return nil, err
	}
	if h.store != nil {
		rec := &models.Room{ID: r.ID(), Topic: r.Topic(), Mode: r.Mode().Name, CreatedAt: r.CreatedAt()}
		h.persist.enqueue("save room", func(ctx context.Context) error {
			return h.store.SaveRoom(ctx, rec)
		})
	}
	return r, nil
}

// lookupRoom finds a room, materialising it from the DataStore when another
// server created it. Loop only.
func (h *Hub) lookupRoom(ctx context.Context, id string) (*room.Room, bool) {
	if r, ok := h.rooms.GetRoom(id); ok {
		return r, true
	}
	if h.store == nil {
		return nil, false
	}

	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	rec, err := h.store.GetRoom(sctx, id)
	if err != nil {
		h.logger.Warn().Err(err).Str("room", id).Msg("room lookup failed")
		return nil, false
	}
	if rec == nil {
		return nil, false
	}
	r, err := h.rooms.CreateRoom(ctx, rec.ID, rec.Topic, rec.Mode)
	if err != nil {
		h.logger.Warn().Err(err).Str("room", id).Msg("could not materialise room")
		return nil, false
	}
	return r, true
}

// Submit decodes one inbound frame from conn and queues it for dispatch.
// Malformed frames are answered with an ERROR through the loop, after any
// replies to frames queued before them.
func (h *Hub) Submit(conn room.Conn, data []byte) {
	cmd, err := protocol.DecodeCommand(data)
	if err != nil {
		metrics.CommandsTotal.WithLabelValues("invalid", "error").Inc()
		evt := protocol.NewError(err.Error())
		h.Post(func() { conn.Send(evt) })
		return
	}
	h.Post(func() {
		cmd.Dispatch(&dispatcher{hub: h, conn: conn, kind: cmd.Kind()})
	})
}

// Disconnect removes conn's member from its room.
func (h *Hub) Disconnect(conn room.Conn) {
	h.Post(func() {
		sess, ok := h.sessions.unbind(conn)
		if !ok {
			return
		}
		if r, ok := h.rooms.GetRoom(sess.roomID); ok {
			r.Leave(sess.memberID)
		}
	})
}

// MessagePosted implements room.Observer.
func (h *Hub) MessagePosted(roomID string, evt *protocol.MessageEvent) {
	if h.history != nil {
		msg := &models.Message{
			RoomID:    roomID,
			AgentID:   evt.AgentID,
			AgentName: evt.AgentName,
			Role:      evt.Role,
			Content:   evt.Content,
			Timestamp: evt.Timestamp,
		}
		h.persist.enqueue("add message", func(ctx context.Context) error {
			return h.history.AddMessage(ctx, msg)
		})
	}
	if h.store != nil {
		h.persist.enqueue("count message", func(ctx context.Context) error {
			return h.store.IncrementMessageCount(ctx, roomID)
		})
	}
}

// ProposalChanged implements room.Observer.
func (h *Hub) ProposalChanged(roomID string, s consensus.Snapshot) {
	if h.store == nil {
		return
	}
	rec := &models.Proposal{
		ID:            s.ID,
		RoomID:        roomID,
		Title:         s.Title,
		Description:   s.Description,
		ProposerID:    s.ProposerID,
		ProposerName:  s.ProposerName,
		Threshold:     s.Threshold,
		Status:        string(s.Status),
		Yes:           s.Tally.Yes,
		No:            s.Tally.No,
		Abstain:       s.Tally.Abstain,
		ApprovalRatio: s.ApprovalRatio,
		CreatedAt:     s.CreatedAt,
		ResolvedAt:    s.ResolvedAt,
	}
	h.persist.enqueue("save proposal", func(ctx context.Context) error {
		return h.store.SaveProposal(ctx, rec)
	})
}
