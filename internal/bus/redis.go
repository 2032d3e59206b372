package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultChannelPrefix namespaces room channels on a shared Redis.
const DefaultChannelPrefix = "pingpong:room:"

// Redis is a Bus backed by Redis Pub/Sub. Each subscription owns one
// PubSub connection; go-redis reconnects and resubscribes it after a
// transport failure, and envelopes published meanwhile are lost.
type Redis struct {
	client    *redis.Client
	prefix    string
	logger    zerolog.Logger
	connected atomic.Bool

	mu   sync.Mutex
	subs map[*redisSub]struct{}
}

// RedisOption configures a Redis bus.
type RedisOption func(*Redis)

// WithChannelPrefix overrides DefaultChannelPrefix.
func WithChannelPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// WithLogger sets the logger used for decode and delivery failures.
func WithLogger(logger zerolog.Logger) RedisOption {
	return func(r *Redis) { r.logger = logger }
}

// NewRedis creates a Redis bus on an existing client. The caller keeps
// ownership of the client.
func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		prefix: DefaultChannelPrefix,
		logger: zerolog.Nop(),
		subs:   make(map[*redisSub]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Channel returns the Pub/Sub channel name for roomID.
func (r *Redis) Channel(roomID string) string {
	return r.prefix + roomID
}

// Connect verifies the server is reachable.
func (r *Redis) Connect(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return err
	}
	r.connected.Store(true)
	return nil
}

// Disconnect closes every subscription. The client itself stays open.
func (r *Redis) Disconnect(ctx context.Context) error {
	r.connected.Store(false)

	r.mu.Lock()
	subs := make([]*redisSub, 0, len(r.subs))
	for s := range r.subs {
		subs = append(subs, s)
	}
	r.mu.Unlock()

	var firstErr error
	for _, s := range subs {
		if err := s.Unsubscribe(ctx); err != nil && firstErr == nil && !errors.Is(err, ErrClosed) {
			firstErr = err
		}
	}
	return firstErr
}

// Publish sends env on the room's channel.
func (r *Redis) Publish(ctx context.Context, roomID string, env Envelope) error {
	if !r.connected.Load() {
		return ErrNotConnected
	}
	if env.RoomID == "" {
		env.RoomID = roomID
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.Channel(roomID), data).Err()
}

// Subscribe listens on the room's channel and calls h from a dedicated
// goroutine for every decoded envelope.
func (r *Redis) Subscribe(ctx context.Context, roomID string, h Handler) (Subscription, error) {
	if !r.connected.Load() {
		return nil, ErrNotConnected
	}

	ps := r.client.Subscribe(ctx, r.Channel(roomID))
	// Wait for the subscription confirmation so publishes issued after
	// Subscribe returns are not missed.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, err
	}

	s := &redisSub{
		roomID: roomID,
		ps:     ps,
		done:   make(chan struct{}),
		bus:    r,
	}

	r.mu.Lock()
	r.subs[s] = struct{}{}
	r.mu.Unlock()

	go s.run(h)
	return s, nil
}

type redisSub struct {
	roomID string
	ps     *redis.PubSub
	done   chan struct{}
	bus    *Redis
	closed atomic.Bool
}

func (s *redisSub) run(h Handler) {
	defer close(s.done)

	for msg := range s.ps.Channel() {
		var env Envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			s.bus.logger.Warn().
				Err(err).
				Str("channel", msg.Channel).
				Msg("dropping undecodable envelope")
			continue
		}
		if env.RoomID == "" {
			env.RoomID = s.roomID
		}
		s.deliver(h, env)
	}
}

func (s *redisSub) deliver(h Handler, env Envelope) {
	defer func() {
		if rec := recover(); rec != nil {
			s.bus.logger.Error().
				Str("room_id", env.RoomID).
				Str("envelope_id", env.ID).
				Interface("panic", rec).
				Msg("bus handler panicked")
		}
	}()
	h(env)
}

func (s *redisSub) RoomID() string {
	return s.roomID
}

func (s *redisSub) Unsubscribe(ctx context.Context) error {
	if s.closed.Swap(true) {
		return ErrClosed
	}

	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()

	err := s.ps.Close()
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}
