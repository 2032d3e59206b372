// Package protocol defines the JSON frames exchanged over a room connection.
//
// Inbound commands form a closed set. Each command dispatches itself to the
// matching method of a Handler, so adding a command without teaching every
// Handler about it fails to compile.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	ErrMalformed      = errors.New("malformed command")
	ErrUnknownCommand = errors.New("unknown command type")
)

// Limits on inbound fields.
const (
	MaxContentBytes = 4096
	MaxNameLength   = 100
	MaxTopicLength  = 200
	DefaultRole     = "participant"
)

// roomIDRegex: alphanumeric, hyphens, underscores, 1-50 chars
var roomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,50}$`)

// ValidRoomID reports whether id is a well-formed room id.
func ValidRoomID(id string) bool {
	return roomIDRegex.MatchString(id)
}

// CommandType names an inbound command on the wire.
type CommandType string

const (
	CmdJoin          CommandType = "JOIN"
	CmdMessage       CommandType = "MESSAGE"
	CmdLeave         CommandType = "LEAVE"
	CmdCreateRoom    CommandType = "CREATE_ROOM"
	CmdListRooms     CommandType = "LIST_ROOMS"
	CmdLeaveRoom     CommandType = "LEAVE_ROOM"
	CmdPropose       CommandType = "PROPOSE"
	CmdVote          CommandType = "VOTE"
	CmdListProposals CommandType = "LIST_PROPOSALS"
)

// Handler receives decoded commands.
type Handler interface {
	HandleJoin(*JoinCommand)
	HandleMessage(*MessageCommand)
	HandleLeave(*LeaveCommand)
	HandleCreateRoom(*CreateRoomCommand)
	HandleListRooms(*ListRoomsCommand)
	HandleLeaveRoom(*LeaveRoomCommand)
	HandlePropose(*ProposeCommand)
	HandleVote(*VoteCommand)
	HandleListProposals(*ListProposalsCommand)
}

// Command is one inbound frame.
type Command interface {
	Kind() CommandType
	Validate() error
	Dispatch(h Handler)
	setType(CommandType)
}

type commandHeader struct {
	Type CommandType `json:"type"`
}

func (c *commandHeader) setType(t CommandType) { c.Type = t }

// JoinCommand registers the connection as a member of a room. An empty
// RoomID targets the server's default room.
type JoinCommand struct {
	commandHeader
	AgentID   string `json:"agentId"`
	AgentName string `json:"agentName"`
	Role      string `json:"role"`
	RoomID    string `json:"roomId,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

func (c *JoinCommand) Kind() CommandType  { return CmdJoin }
func (c *JoinCommand) Dispatch(h Handler) { h.HandleJoin(c) }

func (c *JoinCommand) Validate() error {
	c.AgentID = strings.TrimSpace(c.AgentID)
	c.AgentName = sanitizeName(c.AgentName)
	c.Role = sanitizeName(c.Role)
	if c.AgentID == "" {
		return missing("agentId")
	}
	if c.AgentName == "" {
		return missing("agentName")
	}
	if c.Role == "" {
		c.Role = DefaultRole
	}
	if c.RoomID != "" && !roomIDRegex.MatchString(c.RoomID) {
		return invalidRoomID()
	}
	return nil
}

// MessageCommand posts content to the sender's current room.
type MessageCommand struct {
	commandHeader
	AgentID   string `json:"agentId"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

func (c *MessageCommand) Kind() CommandType  { return CmdMessage }
func (c *MessageCommand) Dispatch(h Handler) { h.HandleMessage(c) }

func (c *MessageCommand) Validate() error {
	c.AgentID = strings.TrimSpace(c.AgentID)
	if c.AgentID == "" {
		return missing("agentId")
	}
	if strings.TrimSpace(c.Content) == "" {
		return missing("content")
	}
	if len(c.Content) > MaxContentBytes {
		return fmt.Errorf("%w: content too long (max %d bytes)", ErrMalformed, MaxContentBytes)
	}
	return nil
}

// LeaveCommand removes the sender from its current room.
type LeaveCommand struct {
	commandHeader
	AgentID   string `json:"agentId"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

func (c *LeaveCommand) Kind() CommandType  { return CmdLeave }
func (c *LeaveCommand) Dispatch(h Handler) { h.HandleLeave(c) }

func (c *LeaveCommand) Validate() error {
	c.AgentID = strings.TrimSpace(c.AgentID)
	if c.AgentID == "" {
		return missing("agentId")
	}
	return nil
}

// CreateRoomCommand registers a new room. An empty Mode selects the
// server default.
type CreateRoomCommand struct {
	commandHeader
	RoomID string `json:"roomId"`
	Topic  string `json:"topic"`
	Mode   string `json:"mode,omitempty"`
}

func (c *CreateRoomCommand) Kind() CommandType  { return CmdCreateRoom }
func (c *CreateRoomCommand) Dispatch(h Handler) { h.HandleCreateRoom(c) }

func (c *CreateRoomCommand) Validate() error {
	c.RoomID = strings.TrimSpace(c.RoomID)
	c.Topic = strings.TrimSpace(c.Topic)
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	if c.RoomID == "" {
		return missing("roomId")
	}
	if !roomIDRegex.MatchString(c.RoomID) {
		return invalidRoomID()
	}
	if c.Topic == "" {
		return missing("topic")
	}
	if len(c.Topic) > MaxTopicLength {
		return fmt.Errorf("%w: topic too long (max %d bytes)", ErrMalformed, MaxTopicLength)
	}
	return nil
}

// ListRoomsCommand asks for a snapshot of all rooms.
type ListRoomsCommand struct {
	commandHeader
}

func (c *ListRoomsCommand) Kind() CommandType  { return CmdListRooms }
func (c *ListRoomsCommand) Dispatch(h Handler) { h.HandleListRooms(c) }
func (c *ListRoomsCommand) Validate() error    { return nil }

// LeaveRoomCommand removes an agent from a named room.
type LeaveRoomCommand struct {
	commandHeader
	RoomID  string `json:"roomId"`
	AgentID string `json:"agentId"`
}

func (c *LeaveRoomCommand) Kind() CommandType  { return CmdLeaveRoom }
func (c *LeaveRoomCommand) Dispatch(h Handler) { h.HandleLeaveRoom(c) }

func (c *LeaveRoomCommand) Validate() error {
	c.RoomID = strings.TrimSpace(c.RoomID)
	c.AgentID = strings.TrimSpace(c.AgentID)
	if c.RoomID == "" {
		return missing("roomId")
	}
	if c.AgentID == "" {
		return missing("agentId")
	}
	return nil
}

// ProposeCommand opens a proposal in the sender's current room. A zero
// Threshold uses the room mode's threshold.
type ProposeCommand struct {
	commandHeader
	AgentID     string  `json:"agentId"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Threshold   float64 `json:"threshold,omitempty"`
	Timestamp   int64   `json:"timestamp,omitempty"`
}

func (c *ProposeCommand) Kind() CommandType  { return CmdPropose }
func (c *ProposeCommand) Dispatch(h Handler) { h.HandlePropose(c) }

func (c *ProposeCommand) Validate() error {
	c.Title = strings.TrimSpace(c.Title)
	c.AgentID = strings.TrimSpace(c.AgentID)
	if c.AgentID == "" {
		return missing("agentId")
	}
	if c.Title == "" {
		return missing("title")
	}
	if len(c.Description) > MaxContentBytes {
		return fmt.Errorf("%w: description too long (max %d bytes)", ErrMalformed, MaxContentBytes)
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("%w: threshold must be in (0, 1]", ErrMalformed)
	}
	return nil
}

// VoteCommand casts or changes the sender's vote on a proposal.
type VoteCommand struct {
	commandHeader
	AgentID    string `json:"agentId"`
	ProposalID string `json:"proposalId"`
	Vote       string `json:"vote"`
	Timestamp  int64  `json:"timestamp,omitempty"`
}

func (c *VoteCommand) Kind() CommandType  { return CmdVote }
func (c *VoteCommand) Dispatch(h Handler) { h.HandleVote(c) }

func (c *VoteCommand) Validate() error {
	c.Vote = strings.ToUpper(strings.TrimSpace(c.Vote))
	c.AgentID = strings.TrimSpace(c.AgentID)
	c.ProposalID = strings.TrimSpace(c.ProposalID)
	if c.AgentID == "" {
		return missing("agentId")
	}
	if c.ProposalID == "" {
		return missing("proposalId")
	}
	switch c.Vote {
	case "YES", "NO", "ABSTAIN":
	case "":
		return missing("vote")
	default:
		return fmt.Errorf("%w: vote must be YES, NO or ABSTAIN", ErrMalformed)
	}
	return nil
}

// ListProposalsCommand asks for the proposals of the sender's current room,
// optionally filtered by status.
type ListProposalsCommand struct {
	commandHeader
	Status string `json:"status,omitempty"`
}

func (c *ListProposalsCommand) Kind() CommandType  { return CmdListProposals }
func (c *ListProposalsCommand) Dispatch(h Handler) { h.HandleListProposals(c) }

func (c *ListProposalsCommand) Validate() error {
	c.Status = strings.ToUpper(strings.TrimSpace(c.Status))
	switch c.Status {
	case "", "PENDING", "APPROVED", "REJECTED":
		return nil
	}
	return fmt.Errorf("%w: unknown status %q", ErrMalformed, c.Status)
}

var commandFactories = map[CommandType]func() Command{
	CmdJoin:          func() Command { return &JoinCommand{} },
	CmdMessage:       func() Command { return &MessageCommand{} },
	CmdLeave:         func() Command { return &LeaveCommand{} },
	CmdCreateRoom:    func() Command { return &CreateRoomCommand{} },
	CmdListRooms:     func() Command { return &ListRoomsCommand{} },
	CmdLeaveRoom:     func() Command { return &LeaveRoomCommand{} },
	CmdPropose:       func() Command { return &ProposeCommand{} },
	CmdVote:          func() Command { return &VoteCommand{} },
	CmdListProposals: func() Command { return &ListProposalsCommand{} },
}

// DecodeCommand parses and validates one inbound frame.
func DecodeCommand(data []byte) (Command, error) {
	var head commandHeader
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformed)
	}
	if head.Type == "" {
		return nil, missing("type")
	}

	newCmd, ok := commandFactories[CommandType(strings.ToUpper(string(head.Type)))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, head.Type)
	}
	cmd := newCmd()
	if err := json.Unmarshal(data, cmd); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	cmd.setType(cmd.Kind())
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return cmd, nil
}

// EncodeCommand marshals cmd with its type tag.
func EncodeCommand(cmd Command) ([]byte, error) {
	cmd.setType(cmd.Kind())
	return json.Marshal(cmd)
}

func missing(field string) error {
	return fmt.Errorf("%w: %s is required", ErrMalformed, field)
}

func invalidRoomID() error {
	return fmt.Errorf("%w: roomId must be 1-50 characters, alphanumeric with hyphens and underscores only", ErrMalformed)
}

// sanitizeName trims and limits name to MaxNameLength bytes, removing
// control characters. It never splits a rune.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)

	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	if len(name) > MaxNameLength {
		cut := MaxNameLength
		for cut > 0 && !utf8.RuneStart(name[cut]) {
			cut--
		}
		name = name[:cut]
	}
	return name
}
