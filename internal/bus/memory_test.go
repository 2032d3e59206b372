package bus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func newConnectedMemory(t *testing.T) *Memory {
	t.Helper()
	m := NewMemory(zerolog.Nop())
	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestMemoryPublishRequiresConnect(t *testing.T) {
	m := NewMemory(zerolog.Nop())
	err := m.Publish(context.Background(), "r1", NewEnvelope("r1", "a", json.RawMessage(`{}`)))
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if _, err := m.Subscribe(context.Background(), "r1", func(Envelope) {}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestMemoryDeliversToRoomSubscribers(t *testing.T) {
	ctx := context.Background()
	m := newConnectedMemory(t)

	var gotA, gotB, gotOther []Envelope
	m.Subscribe(ctx, "r1", func(e Envelope) { gotA = append(gotA, e) })
	m.Subscribe(ctx, "r1", func(e Envelope) { gotB = append(gotB, e) })
	m.Subscribe(ctx, "r2", func(e Envelope) { gotOther = append(gotOther, e) })

	env := NewEnvelope("r1", "server-a", json.RawMessage(`{"type":"MESSAGE"}`))
	if err := m.Publish(ctx, "r1", env); err != nil {
		t.Fatal(err)
	}

	if len(gotA) != 1 || len(gotB) != 1 {
		t.Fatalf("expected one delivery per subscriber, got %d and %d", len(gotA), len(gotB))
	}
	if len(gotOther) != 0 {
		t.Fatalf("r2 subscriber should not receive r1 traffic")
	}
	if gotA[0].ID != env.ID || gotA[0].Origin != "server-a" {
		t.Fatalf("envelope altered in transit: %+v", gotA[0])
	}
}

func TestMemoryPreservesPublishOrder(t *testing.T) {
	ctx := context.Background()
	m := newConnectedMemory(t)

	var order []string
	m.Subscribe(ctx, "r1", func(e Envelope) { order = append(order, string(e.Payload)) })

	for _, p := range []string{`1`, `2`, `3`, `4`} {
		m.Publish(ctx, "r1", NewEnvelope("r1", "a", json.RawMessage(p)))
	}
	want := []string{"1", "2", "3", "4"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("out of order delivery: %v", order)
		}
	}
}

func TestMemoryUnsubscribe(t *testing.T) {
	ctx := context.Background()
	m := newConnectedMemory(t)

	calls := 0
	sub, _ := m.Subscribe(ctx, "r1", func(Envelope) { calls++ })
	keep, _ := m.Subscribe(ctx, "r1", func(Envelope) {})

	if err := sub.Unsubscribe(ctx); err != nil {
		t.Fatal(err)
	}
	if err := sub.Unsubscribe(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("second unsubscribe should report ErrClosed, got %v", err)
	}
	if m.SubscriberCount("r1") != 1 {
		t.Fatalf("other subscriptions must survive, got %d", m.SubscriberCount("r1"))
	}

	m.Publish(ctx, "r1", NewEnvelope("r1", "a", json.RawMessage(`{}`)))
	if calls != 0 {
		t.Fatal("unsubscribed handler was called")
	}
	if keep.RoomID() != "r1" {
		t.Fatalf("unexpected room id %q", keep.RoomID())
	}
}

func TestMemoryHandlerPanicDoesNotBlockOthers(t *testing.T) {
	ctx := context.Background()
	m := newConnectedMemory(t)

	delivered := false
	m.Subscribe(ctx, "r1", func(Envelope) { panic("boom") })
	m.Subscribe(ctx, "r1", func(Envelope) { delivered = true })

	if err := m.Publish(ctx, "r1", NewEnvelope("r1", "a", json.RawMessage(`{}`))); err != nil {
		t.Fatal(err)
	}
	if !delivered {
		t.Fatal("second handler should still receive the envelope")
	}
}

func TestMemoryDisconnectDropsSubscriptions(t *testing.T) {
	ctx := context.Background()
	m := newConnectedMemory(t)
	m.Subscribe(ctx, "r1", func(Envelope) {})

	if err := m.Disconnect(ctx); err != nil {
		t.Fatal(err)
	}
	if m.SubscriberCount("r1") != 0 {
		t.Fatal("subscriptions should be cleared")
	}
	if err := m.Publish(ctx, "r1", Envelope{}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected after disconnect, got %v", err)
	}
}

func TestSkipOrigin(t *testing.T) {
	var got []string
	h := SkipOrigin("me", func(e Envelope) { got = append(got, e.Origin) })
	h(Envelope{Origin: "me"})
	h(Envelope{Origin: "them"})
	if len(got) != 1 || got[0] != "them" {
		t.Fatalf("expected only foreign envelopes, got %v", got)
	}
}
