package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/osobh/pingpong-sub001/internal/hub"
	"github.com/osobh/pingpong-sub001/internal/protocol"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	h := hub.New(hub.Config{ServerID: "test"}, hub.WithLogger(zerolog.Nop()))
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	if err := h.Start(sctx); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(NewRouter(zerolog.Nop(), h, RouterConfig{}))
	t.Cleanup(func() {
		// Stopping the hub closes the sockets so the server can drain.
		cancel()
		<-h.Done()
		srv.Close()
	})
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, frame string) {
	t.Helper()
	if err := ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatal(err)
	}
}

// next reads events until one of type want arrives.
func next(t *testing.T, ws *websocket.Conn, want protocol.EventType) protocol.Event {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		evt, err := protocol.DecodeEvent(data)
		if err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
		if evt.EventType() == want {
			return evt
		}
	}
}

func TestWebSocketConversation(t *testing.T) {
	srv := newTestServer(t)
	alice := dial(t, srv)
	bob := dial(t, srv)

	send(t, alice, `{"type":"JOIN","agentId":"alice","agentName":"Alice","role":"optimist"}`)
	w := next(t, alice, protocol.EvtWelcome).(*protocol.WelcomeEvent)
	if w.RoomID != "lobby" {
		t.Fatalf("expected lobby, got %s", w.RoomID)
	}

	send(t, bob, `{"type":"JOIN","agentId":"bob","agentName":"Bob"}`)
	next(t, bob, protocol.EvtWelcome)
	if j := next(t, alice, protocol.EvtAgentJoined).(*protocol.AgentJoinedEvent); j.AgentID != "bob" {
		t.Fatalf("alice should see bob join, got %+v", j)
	}

	send(t, alice, `{"type":"MESSAGE","agentId":"alice","content":"ping"}`)
	if m := next(t, bob, protocol.EvtMessage).(*protocol.MessageEvent); m.Content != "ping" || m.Role != "optimist" {
		t.Fatalf("unexpected message %+v", m)
	}

	send(t, bob, `{"type":"MESSAGE","agentId":"bob","content":"`+strings.Repeat("x", protocol.MaxContentBytes+1)+`"}`)
	next(t, bob, protocol.EvtError)

	// Dropping the socket is a leave.
	bob.Close()
	if l := next(t, alice, protocol.EvtAgentLeft).(*protocol.AgentLeftEvent); l.AgentID != "bob" {
		t.Fatalf("expected bob to leave, got %+v", l)
	}
}

func TestHTTPRoutes(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/rooms", "application/json", strings.NewReader(`{"roomId":"go","topic":"Go"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers should be set")
	}

	resp, err = http.Get(srv.URL + "/rooms/go")
	if err != nil {
		t.Fatal(err)
	}
	var detail hub.RoomDetail
	json.NewDecoder(resp.Body).Decode(&detail)
	resp.Body.Close()
	if detail.Topic != "Go" {
		t.Errorf("unexpected detail %+v", detail)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics should be served, got %d", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/rooms", "text/plain", strings.NewReader(`roomId=x`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Errorf("expected 415, got %d", resp.StatusCode)
	}
}
