package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/osobh/pingpong-sub001/internal/hub"
	"github.com/osobh/pingpong-sub001/internal/models"
	"github.com/osobh/pingpong-sub001/internal/store"
)

type testEnv struct {
	hub    *hub.Hub
	redis  *store.RedisStore
	sqlite *store.SQLiteStore
	router http.Handler
}

type envOptions struct {
	redis  bool
	sqlite bool
}

func newTestEnv(t *testing.T, o envOptions) *testEnv {
	t.Helper()
	env := &testEnv{}
	var opts []hub.Option
	if o.redis {
		mr := miniredis.RunT(t)
		env.redis = store.NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
		t.Cleanup(func() { env.redis.Close() })
		opts = append(opts, hub.WithHistory(env.redis))
	}
	if o.sqlite {
		s, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "rooms.db"))
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(s.Close)
		env.sqlite = s
		opts = append(opts, hub.WithDataStore(s))
	}

	env.hub = hub.New(hub.Config{ServerID: "test"}, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	go env.hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-env.hub.Done()
	})
	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	if err := env.hub.Start(sctx); err != nil {
		t.Fatal(err)
	}

	hd := NewHandler(env.hub, env.redis, zerolog.Nop())
	r := chi.NewRouter()
	r.Use(WithTimeout)
	r.Get("/api", hd.Root)
	r.Get("/health", hd.Health)
	r.Get("/stats", hd.Stats)
	r.Get("/rooms", hd.ListRooms)
	r.Post("/rooms", hd.CreateRoom)
	r.Get("/rooms/{id}", hd.GetRoom)
	r.Delete("/rooms/{id}", hd.CloseRoom)
	r.Get("/rooms/{id}/messages", hd.GetRoomMessages)
	r.Get("/rooms/{id}/proposals", hd.ListProposals)
	r.Get("/search", hd.Search)
	env.router = r
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestRoot(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	rec := env.do(t, "GET", "/api", "")
	var resp RootResponse
	decode(t, rec, &resp)
	if resp.Name != "pingpong" || resp.DefaultRoom != "lobby" {
		t.Errorf("unexpected root %+v", resp)
	}
	if len(resp.Modes) != 4 || resp.Modes[0] != "brainstorm" {
		t.Errorf("unexpected modes %v", resp.Modes)
	}
}

func TestHealthStandalone(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	rec := env.do(t, "GET", "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var resp HealthResponse
	decode(t, rec, &resp)
	if resp.Status != "healthy" || resp.Checks["hub"].Status != "pass" || resp.Checks["redis"].Status != "skip" {
		t.Errorf("unexpected health %+v", resp)
	}
	if resp.Rooms != 1 {
		t.Errorf("the default room should be counted, got %d", resp.Rooms)
	}
}

func TestHealthWithBackends(t *testing.T) {
	env := newTestEnv(t, envOptions{redis: true, sqlite: true})
	rec := env.do(t, "GET", "/health", "")
	var resp HealthResponse
	decode(t, rec, &resp)
	if rec.Code != http.StatusOK || resp.Checks["redis"].Status != "pass" || resp.Checks["datastore"].Status != "pass" {
		t.Errorf("unexpected health %d %+v", rec.Code, resp)
	}
}

func TestCreateAndListRooms(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rec := env.do(t, "POST", "/rooms", `{"roomId":"design","topic":"API design","mode":"consensus"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
	}

	tests := []struct {
		name string
		body string
		want int
	}{
		{"duplicate", `{"roomId":"design","topic":"again"}`, http.StatusConflict},
		{"unknown mode", `{"roomId":"x","topic":"t","mode":"chaos"}`, http.StatusBadRequest},
		{"bad id", `{"roomId":"no spaces","topic":"t"}`, http.StatusBadRequest},
		{"missing topic", `{"roomId":"y"}`, http.StatusBadRequest},
		{"not json", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := env.do(t, "POST", "/rooms", tt.body); rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body)
			}
		})
	}

	var list RoomListResponse
	decode(t, env.do(t, "GET", "/rooms", ""), &list)
	if len(list.Rooms) != 2 || list.Rooms[0].ID != "design" || list.Rooms[0].Mode != "consensus" {
		t.Errorf("unexpected listing %+v", list)
	}

	decode(t, env.do(t, "GET", "/rooms?topic=api", ""), &list)
	if len(list.Rooms) != 1 || list.Rooms[0].ID != "design" {
		t.Errorf("unexpected search %+v", list)
	}
	decode(t, env.do(t, "GET", "/rooms?topic=cobol", ""), &list)
	if list.Rooms == nil || len(list.Rooms) != 0 {
		t.Errorf("expected an empty list, got %+v", list)
	}
}

func TestGetAndCloseRoom(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.do(t, "POST", "/rooms", `{"roomId":"temp","topic":"t"}`)

	rec := env.do(t, "GET", "/rooms/temp", "")
	var detail hub.RoomDetail
	decode(t, rec, &detail)
	if rec.Code != http.StatusOK || detail.ID != "temp" || detail.Members == nil {
		t.Fatalf("unexpected detail %d %+v", rec.Code, detail)
	}

	if rec := env.do(t, "GET", "/rooms/missing", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if rec := env.do(t, "DELETE", "/rooms/lobby", ""); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for the default room, got %d", rec.Code)
	}
	if rec := env.do(t, "DELETE", "/rooms/temp", ""); rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if rec := env.do(t, "DELETE", "/rooms/temp", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 after close, got %d", rec.Code)
	}
}

func TestMessagesRequireRedis(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	if rec := env.do(t, "GET", "/rooms/lobby/messages", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestMessages(t *testing.T) {
	env := newTestEnv(t, envOptions{redis: true})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		env.redis.AddMessage(ctx, &models.Message{
			RoomID:    "lobby",
			AgentID:   "alice",
			Content:   "msg",
			Timestamp: int64(1000 + i),
		})
	}

	var resp RoomMessagesResponse
	rec := env.do(t, "GET", "/rooms/lobby/messages?limit=3", "")
	decode(t, rec, &resp)
	if rec.Code != http.StatusOK || len(resp.Messages) != 3 || !resp.HasMore {
		t.Fatalf("unexpected page %d %+v", rec.Code, resp)
	}
	if resp.Messages[0].Timestamp != 1004 {
		t.Errorf("expected newest first, got %d", resp.Messages[0].Timestamp)
	}

	decode(t, env.do(t, "GET", "/rooms/lobby/messages?before=1002", ""), &resp)
	if len(resp.Messages) != 2 || resp.HasMore {
		t.Errorf("unexpected older page %+v", resp)
	}

	if rec := env.do(t, "GET", "/rooms/lobby/messages?before=soon", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	if rec := env.do(t, "GET", "/rooms/nope/messages", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestProposals(t *testing.T) {
	env := newTestEnv(t, envOptions{sqlite: true})

	var resp ProposalListResponse
	rec := env.do(t, "GET", "/rooms/lobby/proposals?status=pending", "")
	decode(t, rec, &resp)
	if rec.Code != http.StatusOK || resp.Proposals == nil || len(resp.Proposals) != 0 {
		t.Fatalf("unexpected live proposals %d %+v", rec.Code, resp)
	}
	if rec := env.do(t, "GET", "/rooms/lobby/proposals?status=maybe", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	if rec := env.do(t, "GET", "/rooms/nope/proposals", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}

	ctx := context.Background()
	now := time.Now()
	env.sqlite.SaveProposal(ctx, &models.Proposal{ID: "p1", RoomID: "lobby", Title: "old", Threshold: 0.5, Status: "APPROVED", Yes: 2, CreatedAt: now, ResolvedAt: &now})
	env.sqlite.SaveProposal(ctx, &models.Proposal{ID: "p2", RoomID: "lobby", Title: "older", Threshold: 0.5, Status: "REJECTED", No: 1, CreatedAt: now})

	decode(t, env.do(t, "GET", "/rooms/lobby/proposals?source=audit&status=approved", ""), &resp)
	if len(resp.Proposals) != 1 || resp.Proposals[0].ID != "p1" || resp.Proposals[0].Tally.Yes != 2 {
		t.Errorf("unexpected audit %+v", resp)
	}
}

func TestAuditRequiresDataStore(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	if rec := env.do(t, "GET", "/rooms/lobby/proposals?source=audit", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestStats(t *testing.T) {
	env := newTestEnv(t, envOptions{sqlite: true})
	ctx := context.Background()
	env.sqlite.SaveRoom(ctx, &models.Room{ID: "busy", Topic: "busy room", Mode: "debate", CreatedAt: time.Now()})
	env.sqlite.IncrementMessageCount(ctx, "busy")
	env.sqlite.IncrementMessageCount(ctx, "busy")

	var resp StatsResponse
	decode(t, env.do(t, "GET", "/stats", ""), &resp)
	if resp.RoomsHosted != 1 || resp.TotalMessages != 2 {
		t.Errorf("unexpected stats %+v", resp)
	}
	if len(resp.TopRooms) != 1 || resp.TopRooms[0].ID != "busy" || resp.LastActivity != "just now" {
		t.Errorf("unexpected top rooms %+v", resp)
	}
}

func TestFormatTimeAgo(t *testing.T) {
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{10 * time.Second, "just now"},
		{90 * time.Second, "1 minute ago"},
		{5 * time.Minute, "5 minutes ago"},
		{3 * time.Hour, "3 hours ago"},
		{49 * time.Hour, "2 days ago"},
	}
	for _, tt := range tests {
		if got := formatTimeAgo(time.Now().Add(-tt.ago)); got != tt.want {
			t.Errorf("formatTimeAgo(-%v) = %q, want %q", tt.ago, got, tt.want)
		}
	}
}

func TestSearchRequiresRedis(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	if rec := env.do(t, "GET", "/search?q=bus", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestSearch(t *testing.T) {
	env := newTestEnv(t, envOptions{redis: true})
	ctx := context.Background()
	env.redis.AddMessage(ctx, &models.Message{RoomID: "lobby", AgentID: "alice", Content: "ship the redis bus", Timestamp: 1000})
	env.redis.AddMessage(ctx, &models.Message{RoomID: "lobby", AgentID: "bob", Content: "keep the memory bus", Timestamp: 1001})

	var resp SearchResponse
	rec := env.do(t, "GET", "/search?q=redis+bus", "")
	decode(t, rec, &resp)
	if rec.Code != http.StatusOK || resp.Total != 1 || resp.Results[0].AgentID != "alice" {
		t.Fatalf("unexpected search %d %+v", rec.Code, resp)
	}
	if resp.Results[0].RoomID != "lobby" || resp.Results[0].Topic != "general" {
		t.Errorf("result should carry its room, got %+v", resp.Results[0])
	}

	decode(t, env.do(t, "GET", "/search?q=bus&room=lobby&after=1000", ""), &resp)
	if resp.Total != 1 || resp.Results[0].AgentID != "bob" {
		t.Errorf("unexpected filtered search %+v", resp)
	}

	decode(t, env.do(t, "GET", "/search?q=the", ""), &resp)
	if resp.Results == nil || resp.Total != 0 {
		t.Errorf("stop words alone should match nothing, got %+v", resp)
	}

	tests := []string{
		"/search",
		"/search?q=" + strings.Repeat("x", 101),
		"/search?q=bus&after=later",
		"/search?q=bus&room=bad%20room",
	}
	for _, path := range tests {
		if rec := env.do(t, "GET", path, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, rec.Code)
		}
	}
}
