package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/osobh/pingpong-sub001/internal/models"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s := NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestRedisHistory(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t)

	for i, content := range []string{"one", "two", "three"} {
		err := s.AddMessage(ctx, &models.Message{
			RoomID:    "lobby",
			AgentID:   "alice",
			Content:   content,
			Timestamp: int64(1000 + i),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := s.GetRoomMessages(ctx, "lobby", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 || msgs[0].Content != "three" || msgs[2].Content != "one" {
		t.Fatalf("expected newest first, got %+v", msgs)
	}
	if msgs[0].ID == "" {
		t.Fatal("message id should be generated")
	}

	older, _ := s.GetRoomMessages(ctx, "lobby", 10, 1002)
	if len(older) != 2 || older[0].Content != "two" {
		t.Fatalf("before should be exclusive, got %+v", older)
	}

	limited, _ := s.GetRoomMessages(ctx, "lobby", 1, 0)
	if len(limited) != 1 {
		t.Fatalf("limit ignored, got %d", len(limited))
	}

	if ttl := mr.TTL("room:lobby:messages"); ttl <= 0 {
		t.Fatalf("history key should expire, ttl=%v", ttl)
	}
}

func TestRedisHistoryEmptyRoom(t *testing.T) {
	s, _ := newTestRedisStore(t)
	msgs, err := s.GetRoomMessages(context.Background(), "nobody-here", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected no messages, got %d", len(msgs))
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestTokenize(t *testing.T) {
	got := Tokenize("The API design, the api DESIGN and a go-to plan!")
	want := []string{"api", "design", "plan"}
	if len(got) != len(want) {
		t.Fatalf("Tokenize = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Tokenize = %v, want %v", got, want)
		}
	}
}

func TestRedisSearch(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedisStore(t)

	msgs := []models.Message{
		{RoomID: "lobby", AgentID: "alice", Content: "Redis bus design", Timestamp: 1000},
		{RoomID: "lobby", AgentID: "bob", Content: "memory bus only", Timestamp: 1001},
		{RoomID: "design", AgentID: "carol", Content: "bus design review", Timestamp: 1002},
	}
	for i := range msgs {
		if err := s.AddMessage(ctx, &msgs[i]); err != nil {
			t.Fatal(err)
		}
	}

	found, err := s.SearchMessages(ctx, []string{"bus"}, 10, 0, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 3 || found[0].AgentID != "carol" {
		t.Fatalf("expected three hits newest first, got %+v", found)
	}

	found, _ = s.SearchMessages(ctx, []string{"bus", "design"}, 10, 0, "")
	if len(found) != 2 {
		t.Fatalf("expected two messages with both words, got %+v", found)
	}

	found, _ = s.SearchMessages(ctx, []string{"bus", "design"}, 10, 0, "lobby")
	if len(found) != 1 || found[0].AgentID != "alice" {
		t.Fatalf("room filter: got %+v", found)
	}

	found, _ = s.SearchMessages(ctx, []string{"bus"}, 10, 1000, "")
	if len(found) != 2 {
		t.Fatalf("after should be exclusive, got %+v", found)
	}

	found, _ = s.SearchMessages(ctx, []string{"bus"}, 1, 0, "")
	if len(found) != 1 {
		t.Fatalf("limit ignored, got %d", len(found))
	}

	found, _ = s.SearchMessages(ctx, []string{"absent"}, 10, 0, "")
	if len(found) != 0 {
		t.Fatalf("expected no hits, got %+v", found)
	}
}
