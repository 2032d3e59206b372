package bus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisBus(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	b := NewRedis(client, WithChannelPrefix("test:room:"))
	if err := b.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { b.Disconnect(context.Background()) })
	return b, mr
}

func receive(t *testing.T, ch <-chan Envelope) Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope")
		return Envelope{}
	}
}

func TestRedisPublishSubscribe(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestRedisBus(t)

	ch := make(chan Envelope, 4)
	sub, err := b.Subscribe(ctx, "r1", func(e Envelope) { ch <- e })
	if err != nil {
		t.Fatal(err)
	}
	if sub.RoomID() != "r1" {
		t.Fatalf("unexpected room id %q", sub.RoomID())
	}

	env := NewEnvelope("r1", "server-a", json.RawMessage(`{"type":"MESSAGE","content":"hi"}`))
	if err := b.Publish(ctx, "r1", env); err != nil {
		t.Fatal(err)
	}

	got := receive(t, ch)
	if got.ID != env.ID || got.Origin != "server-a" || got.RoomID != "r1" {
		t.Fatalf("unexpected envelope %+v", got)
	}
	if string(got.Payload) != `{"type":"MESSAGE","content":"hi"}` {
		t.Fatalf("payload altered: %s", got.Payload)
	}
}

func TestRedisBusesShareChannel(t *testing.T) {
	ctx := context.Background()
	a, mr := newTestRedisBus(t)

	clientB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer clientB.Close()
	b := NewRedis(clientB, WithChannelPrefix("test:room:"))
	if err := b.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	defer b.Disconnect(ctx)

	ch := make(chan Envelope, 1)
	if _, err := b.Subscribe(ctx, "shared", func(e Envelope) { ch <- e }); err != nil {
		t.Fatal(err)
	}

	if err := a.Publish(ctx, "shared", NewEnvelope("shared", "server-a", json.RawMessage(`{}`))); err != nil {
		t.Fatal(err)
	}
	if got := receive(t, ch); got.Origin != "server-a" {
		t.Fatalf("expected envelope from server-a, got %+v", got)
	}
}

func TestRedisUnsubscribe(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestRedisBus(t)

	ch := make(chan Envelope, 1)
	sub, err := b.Subscribe(ctx, "r1", func(e Envelope) { ch <- e })
	if err != nil {
		t.Fatal(err)
	}
	if err := sub.Unsubscribe(ctx); err != nil {
		t.Fatal(err)
	}
	if err := sub.Unsubscribe(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}

	b.Publish(ctx, "r1", NewEnvelope("r1", "x", json.RawMessage(`{}`)))
	select {
	case env := <-ch:
		t.Fatalf("unexpected delivery after unsubscribe: %+v", env)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRedisPublishBeforeConnect(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	b := NewRedis(client)
	err := b.Publish(context.Background(), "r1", Envelope{})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if b.Channel("r1") != DefaultChannelPrefix+"r1" {
		t.Fatalf("unexpected channel %q", b.Channel("r1"))
	}
}

func TestRedisConnectFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	client := redis.NewClient(&redis.Options{Addr: addr, MaxRetries: -1})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := NewRedis(client).Connect(ctx); err == nil {
		t.Fatal("expected connect to fail against a closed server")
	}
}
