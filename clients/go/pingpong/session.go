package pingpong

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/osobh/pingpong-sub001/internal/protocol"
)

// ErrSessionClosed is returned when sending on a closed session.
var ErrSessionClosed = errors.New("session closed")

// Agent identifies the member a session joins as.
type Agent struct {
	ID   string
	Name string
	Role string
}

// Session is one WebSocket connection to the server.
type Session struct {
	conn  *websocket.Conn
	agent Agent

	eventsCh  chan eventOrError
	closeCh   chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
}

type eventOrError struct {
	event protocol.Event
	err   error
}

// Connect opens a WebSocket session. Nothing is sent until Join.
func (c *Client) Connect(ctx context.Context, agent Agent) (*Session, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.WebSocketURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	s := &Session{
		conn:     conn,
		agent:    agent,
		eventsCh: make(chan eventOrError, 64),
		closeCh:  make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// Agent returns the identity the session sends commands as.
func (s *Session) Agent() Agent { return s.agent }

// Join enters roomID, or the server's default room when roomID is empty.
func (s *Session) Join(roomID string) error {
	return s.send(&protocol.JoinCommand{
		AgentID:   s.agent.ID,
		AgentName: s.agent.Name,
		Role:      s.agent.Role,
		RoomID:    roomID,
		Timestamp: protocol.Now(),
	})
}

// Say posts content to the current room.
func (s *Session) Say(content string) error {
	return s.send(&protocol.MessageCommand{AgentID: s.agent.ID, Content: content, Timestamp: protocol.Now()})
}

// Leave leaves the current room.
func (s *Session) Leave() error {
	return s.send(&protocol.LeaveCommand{AgentID: s.agent.ID, Timestamp: protocol.Now()})
}

// LeaveRoom leaves a named room.
func (s *Session) LeaveRoom(roomID string) error {
	return s.send(&protocol.LeaveRoomCommand{RoomID: roomID, AgentID: s.agent.ID})
}

// CreateRoom asks the server to register a room.
func (s *Session) CreateRoom(roomID, topic, mode string) error {
	return s.send(&protocol.CreateRoomCommand{RoomID: roomID, Topic: topic, Mode: mode})
}

// ListRooms asks for a ROOM_LIST.
func (s *Session) ListRooms() error {
	return s.send(&protocol.ListRoomsCommand{})
}

// Propose opens a proposal in the current room. A zero threshold uses the
// room mode's threshold.
func (s *Session) Propose(title, description string, threshold float64) error {
	return s.send(&protocol.ProposeCommand{
		AgentID:     s.agent.ID,
		Title:       title,
		Description: description,
		Threshold:   threshold,
		Timestamp:   protocol.Now(),
	})
}

// Vote casts or changes a vote: YES, NO or ABSTAIN.
func (s *Session) Vote(proposalID, vote string) error {
	return s.send(&protocol.VoteCommand{
		AgentID:    s.agent.ID,
		ProposalID: proposalID,
		Vote:       vote,
		Timestamp:  protocol.Now(),
	})
}

// ListProposals asks for the current room's proposals.
func (s *Session) ListProposals(status string) error {
	return s.send(&protocol.ListProposalsCommand{Status: status})
}

// Events returns an iterator over server events. It stops after the first
// read error or when the session closes.
func (s *Session) Events() iter.Seq2[protocol.Event, error] {
	return func(yield func(protocol.Event, error) bool) {
		for {
			select {
			case <-s.closeCh:
				return
			case item, ok := <-s.eventsCh:
				if !ok {
					return
				}
				if !yield(item.event, item.err) {
					return
				}
				if item.err != nil {
					return
				}
			}
		}
	}
}

// Close closes the connection.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closeCh)
		s.mu.Lock()
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.mu.Unlock()
		err = s.conn.Close()
	})
	return err
}

func (s *Session) send(cmd protocol.Command) error {
	select {
	case <-s.closeCh:
		return ErrSessionClosed
	default:
	}

	data, err := protocol.EncodeCommand(cmd)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads events from the WebSocket connection.
func (s *Session) readLoop() {
	defer close(s.eventsCh)

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			select {
			case <-s.closeCh:
			case s.eventsCh <- eventOrError{err: fmt.Errorf("read error: %w", err)}:
			}
			return
		}

		event, err := protocol.DecodeEvent(message)
		if err != nil {
			// Newer servers may send event types this client does not know.
			continue
		}

		select {
		case <-s.closeCh:
			return
		case s.eventsCh <- eventOrError{event: event}:
		}
	}
}
