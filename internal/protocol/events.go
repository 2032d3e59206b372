package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType names an outbound event on the wire.
type EventType string

const (
	EvtWelcome          EventType = "WELCOME"
	EvtAgentJoined      EventType = "AGENT_JOINED"
	EvtMessage          EventType = "MESSAGE"
	EvtAgentLeft        EventType = "AGENT_LEFT"
	EvtRoomCreated      EventType = "ROOM_CREATED"
	EvtRoomList         EventType = "ROOM_LIST"
	EvtError            EventType = "ERROR"
	EvtProposal         EventType = "PROPOSAL"
	EvtVoteCast         EventType = "VOTE_CAST"
	EvtProposalResolved EventType = "PROPOSAL_RESOLVED"
	EvtProposalList     EventType = "PROPOSAL_LIST"
)

// Event is one outbound frame.
type Event interface {
	EventType() EventType
}

type eventHeader struct {
	Type EventType `json:"type"`
}

func (e eventHeader) EventType() EventType { return e.Type }

// Now returns the current time as a protocol timestamp (Unix ms).
func Now() int64 {
	return time.Now().UnixMilli()
}

// WelcomeEvent is sent to a connection whose JOIN succeeded.
type WelcomeEvent struct {
	eventHeader
	RoomID     string `json:"roomId"`
	Topic      string `json:"topic"`
	Mode       string `json:"mode"`
	AgentCount int    `json:"agentCount"`
	Timestamp  int64  `json:"timestamp"`
}

func NewWelcome(roomID, topic, mode string, agentCount int) *WelcomeEvent {
	return &WelcomeEvent{
		eventHeader: eventHeader{EvtWelcome},
		RoomID:      roomID,
		Topic:       topic,
		Mode:        mode,
		AgentCount:  agentCount,
		Timestamp:   Now(),
	}
}

// AgentJoinedEvent announces a new member to the rest of the room.
type AgentJoinedEvent struct {
	eventHeader
	RoomID    string `json:"roomId"`
	AgentID   string `json:"agentId"`
	AgentName string `json:"agentName"`
	Role      string `json:"role"`
	Timestamp int64  `json:"timestamp"`
}

func NewAgentJoined(roomID, agentID, agentName, role string) *AgentJoinedEvent {
	return &AgentJoinedEvent{
		eventHeader: eventHeader{EvtAgentJoined},
		RoomID:      roomID,
		AgentID:     agentID,
		AgentName:   agentName,
		Role:        role,
		Timestamp:   Now(),
	}
}

// MessageEvent carries one chat message.
type MessageEvent struct {
	eventHeader
	RoomID    string `json:"roomId"`
	AgentID   string `json:"agentId"`
	AgentName string `json:"agentName"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// NewMessage builds a MESSAGE event. A zero timestamp is replaced by now.
func NewMessage(roomID, agentID, agentName, role, content string, timestamp int64) *MessageEvent {
	if timestamp == 0 {
		timestamp = Now()
	}
	return &MessageEvent{
		eventHeader: eventHeader{EvtMessage},
		RoomID:      roomID,
		AgentID:     agentID,
		AgentName:   agentName,
		Role:        role,
		Content:     content,
		Timestamp:   timestamp,
	}
}

// AgentLeftEvent announces a departed member.
type AgentLeftEvent struct {
	eventHeader
	RoomID    string `json:"roomId"`
	AgentID   string `json:"agentId"`
	AgentName string `json:"agentName"`
	Timestamp int64  `json:"timestamp"`
}

func NewAgentLeft(roomID, agentID, agentName string) *AgentLeftEvent {
	return &AgentLeftEvent{
		eventHeader: eventHeader{EvtAgentLeft},
		RoomID:      roomID,
		AgentID:     agentID,
		AgentName:   agentName,
		Timestamp:   Now(),
	}
}

// RoomCreatedEvent confirms CREATE_ROOM.
type RoomCreatedEvent struct {
	eventHeader
	RoomID    string `json:"roomId"`
	Topic     string `json:"topic"`
	Mode      string `json:"mode"`
	Timestamp int64  `json:"timestamp"`
}

func NewRoomCreated(roomID, topic, mode string) *RoomCreatedEvent {
	return &RoomCreatedEvent{
		eventHeader: eventHeader{EvtRoomCreated},
		RoomID:      roomID,
		Topic:       topic,
		Mode:        mode,
		Timestamp:   Now(),
	}
}

// RoomSummary is one entry of ROOM_LIST.
type RoomSummary struct {
	RoomID     string `json:"roomId"`
	Topic      string `json:"topic"`
	Mode       string `json:"mode"`
	AgentCount int    `json:"agentCount"`
}

// RoomListEvent answers LIST_ROOMS.
type RoomListEvent struct {
	eventHeader
	Rooms     []RoomSummary `json:"rooms"`
	Timestamp int64         `json:"timestamp"`
}

func NewRoomList(rooms []RoomSummary) *RoomListEvent {
	if rooms == nil {
		rooms = []RoomSummary{}
	}
	return &RoomListEvent{
		eventHeader: eventHeader{EvtRoomList},
		Rooms:       rooms,
		Timestamp:   Now(),
	}
}

// ErrorEvent reports a failed command to the connection that sent it.
type ErrorEvent struct {
	eventHeader
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

func NewError(message string) *ErrorEvent {
	return &ErrorEvent{
		eventHeader: eventHeader{EvtError},
		Message:     message,
		Timestamp:   Now(),
	}
}

// Errorf formats an ERROR event.
func Errorf(format string, args ...any) *ErrorEvent {
	return NewError(fmt.Sprintf(format, args...))
}

// ProposalEvent announces a newly opened proposal.
type ProposalEvent struct {
	eventHeader
	RoomID       string  `json:"roomId"`
	ProposalID   string  `json:"proposalId"`
	Title        string  `json:"title"`
	Description  string  `json:"description,omitempty"`
	ProposerID   string  `json:"proposerId"`
	ProposerName string  `json:"proposerName"`
	Threshold    float64 `json:"threshold"`
	Status       string  `json:"status"`
	Timestamp    int64   `json:"timestamp"`
}

// NewProposalEvent builds a PROPOSAL event.
func NewProposalEvent(roomID, proposalID, title, description, proposerID, proposerName string, threshold float64, status string) *ProposalEvent {
	return &ProposalEvent{
		eventHeader:  eventHeader{EvtProposal},
		RoomID:       roomID,
		ProposalID:   proposalID,
		Title:        title,
		Description:  description,
		ProposerID:   proposerID,
		ProposerName: proposerName,
		Threshold:    threshold,
		Status:       status,
		Timestamp:    Now(),
	}
}

// VoteCastEvent announces a recorded vote.
type VoteCastEvent struct {
	eventHeader
	RoomID     string `json:"roomId"`
	ProposalID string `json:"proposalId"`
	AgentID    string `json:"agentId"`
	AgentName  string `json:"agentName"`
	Vote       string `json:"vote"`
	Timestamp  int64  `json:"timestamp"`
}

func NewVoteCast(roomID, proposalID, agentID, agentName, vote string, timestamp int64) *VoteCastEvent {
	if timestamp == 0 {
		timestamp = Now()
	}
	return &VoteCastEvent{
		eventHeader: eventHeader{EvtVoteCast},
		RoomID:      roomID,
		ProposalID:  proposalID,
		AgentID:     agentID,
		AgentName:   agentName,
		Vote:        vote,
		Timestamp:   timestamp,
	}
}

// ProposalResolvedEvent announces the final status of a proposal.
type ProposalResolvedEvent struct {
	eventHeader
	RoomID        string  `json:"roomId"`
	ProposalID    string  `json:"proposalId"`
	Status        string  `json:"status"`
	ApprovalRatio float64 `json:"approvalRatio"`
	Yes           int     `json:"yes"`
	No            int     `json:"no"`
	Abstain       int     `json:"abstain"`
	Timestamp     int64   `json:"timestamp"`
}

func NewProposalResolved(roomID, proposalID, status string, ratio float64, yes, no, abstain int) *ProposalResolvedEvent {
	return &ProposalResolvedEvent{
		eventHeader:   eventHeader{EvtProposalResolved},
		RoomID:        roomID,
		ProposalID:    proposalID,
		Status:        status,
		ApprovalRatio: ratio,
		Yes:           yes,
		No:            no,
		Abstain:       abstain,
		Timestamp:     Now(),
	}
}

// ProposalSummary is one entry of PROPOSAL_LIST.
type ProposalSummary struct {
	ProposalID    string  `json:"proposalId"`
	Title         string  `json:"title"`
	ProposerID    string  `json:"proposerId"`
	Threshold     float64 `json:"threshold"`
	Status        string  `json:"status"`
	ApprovalRatio float64 `json:"approvalRatio"`
	Yes           int     `json:"yes"`
	No            int     `json:"no"`
	Abstain       int     `json:"abstain"`
	CreatedAt     int64   `json:"createdAt"`
}

// ProposalListEvent answers LIST_PROPOSALS.
type ProposalListEvent struct {
	eventHeader
	RoomID    string            `json:"roomId"`
	Proposals []ProposalSummary `json:"proposals"`
	Timestamp int64             `json:"timestamp"`
}

func NewProposalList(roomID string, proposals []ProposalSummary) *ProposalListEvent {
	if proposals == nil {
		proposals = []ProposalSummary{}
	}
	return &ProposalListEvent{
		eventHeader: eventHeader{EvtProposalList},
		RoomID:      roomID,
		Proposals:   proposals,
		Timestamp:   Now(),
	}
}

var eventFactories = map[EventType]func() Event{
	EvtWelcome:          func() Event { return &WelcomeEvent{} },
	EvtAgentJoined:      func() Event { return &AgentJoinedEvent{} },
	EvtMessage:          func() Event { return &MessageEvent{} },
	EvtAgentLeft:        func() Event { return &AgentLeftEvent{} },
	EvtRoomCreated:      func() Event { return &RoomCreatedEvent{} },
	EvtRoomList:         func() Event { return &RoomListEvent{} },
	EvtError:            func() Event { return &ErrorEvent{} },
	EvtProposal:         func() Event { return &ProposalEvent{} },
	EvtVoteCast:         func() Event { return &VoteCastEvent{} },
	EvtProposalResolved: func() Event { return &ProposalResolvedEvent{} },
	EvtProposalList:     func() Event { return &ProposalListEvent{} },
}

// DecodeEvent parses one outbound frame, as read by clients and by remote
// rooms receiving bus envelopes.
func DecodeEvent(data []byte) (Event, error) {
	var head eventHeader
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}
	newEvt, ok := eventFactories[head.Type]
	if !ok {
		return nil, fmt.Errorf("unknown event type %q", head.Type)
	}
	evt := newEvt()
	if err := json.Unmarshal(data, evt); err != nil {
		return nil, err
	}
	return evt, nil
}
