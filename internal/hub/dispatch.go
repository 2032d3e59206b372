package hub

import (
	"context"
	"time"

	"github.com/osobh/pingpong-sub001/internal/consensus"
	"github.com/osobh/pingpong-sub001/internal/metrics"
	"github.com/osobh/pingpong-sub001/internal/protocol"
	"github.com/osobh/pingpong-sub001/internal/room"
)

const commandTimeout = 5 * time.Second

// dispatcher applies one command from one connection. It runs on the loop and
// is the boundary where command failures become ERROR events.
type dispatcher struct {
	hub  *Hub
	conn room.Conn
	kind protocol.CommandType
}

func (d *dispatcher) ok() {
	metrics.CommandsTotal.WithLabelValues(string(d.kind), "ok").Inc()
}

func (d *dispatcher) ignored() {
	metrics.CommandsTotal.WithLabelValues(string(d.kind), "ignored").Inc()
}

func (d *dispatcher) fail(err error) {
	metrics.CommandsTotal.WithLabelValues(string(d.kind), "error").Inc()
	d.hub.logger.Debug().Err(err).Str("command", string(d.kind)).Msg("command rejected")
	d.conn.Send(protocol.NewError(err.Error()))
}

func (d *dispatcher) failf(format string, args ...any) {
	metrics.CommandsTotal.WithLabelValues(string(d.kind), "error").Inc()
	d.conn.Send(protocol.Errorf(format, args...))
}

// member returns the room this connection joined as agentID.
func (d *dispatcher) member(agentID string) (*room.Room, bool) {
	sess, ok := d.hub.sessions.lookup(d.conn)
	if !ok || sess.memberID != agentID {
		return nil, false
	}
	return d.hub.rooms.GetRoom(sess.roomID)
}

func (d *dispatcher) HandleJoin(c *protocol.JoinCommand) {
	if sess, ok := d.hub.sessions.lookup(d.conn); ok {
		d.failf("already joined room %s as %s", sess.roomID, sess.memberID)
		return
	}

	roomID := c.RoomID
	if roomID == "" {
		roomID = d.hub.cfg.DefaultRoomID
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	r, ok := d.hub.lookupRoom(ctx, roomID)
	if !ok {
		d.failf("room not found: %s", roomID)
		return
	}

	if err := r.Join(c.AgentID, c.AgentName, c.Role, d.conn); err != nil {
		d.fail(err)
		return
	}
	d.hub.sessions.bind(d.conn, roomID, c.AgentID)
	d.ok()
}

// HandleMessage drops messages from connections without a matching
// membership; they are stale commands racing a disconnect.
func (d *dispatcher) HandleMessage(c *protocol.MessageCommand) {
	r, ok := d.member(c.AgentID)
	if !ok {
		d.ignored()
		return
	}
	r.Message(c.AgentID, c.Content, c.Timestamp)
	d.ok()
}

func (d *dispatcher) HandleLeave(c *protocol.LeaveCommand) {
	r, ok := d.member(c.AgentID)
	if !ok {
		d.ignored()
		return
	}
	r.Leave(c.AgentID)
	d.hub.sessions.unbind(d.conn)
	d.ok()
}

func (d *dispatcher) HandleCreateRoom(c *protocol.CreateRoomCommand) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	r, err := d.hub.createRoom(ctx, c.RoomID, c.Topic, c.Mode)
	if err != nil {
		d.fail(err)
		return
	}
	d.conn.Send(protocol.NewRoomCreated(r.ID(), r.Topic(), r.Mode().Name))
	d.ok()
}

func (d *dispatcher) HandleListRooms(*protocol.ListRoomsCommand) {
	summaries := d.hub.rooms.ListRooms()
	rooms := make([]protocol.RoomSummary, 0, len(summaries))
	for _, s := range summaries {
		rooms = append(rooms, protocol.RoomSummary{
			RoomID:     s.ID,
			Topic:      s.Topic,
			Mode:       s.Mode,
			AgentCount: s.MemberCount,
		})
	}
	d.conn.Send(protocol.NewRoomList(rooms))
	d.ok()
}

func (d *dispatcher) HandleLeaveRoom(c *protocol.LeaveRoomCommand) {
	r, ok := d.hub.rooms.GetRoom(c.RoomID)
	if !ok {
		d.failf("room not found: %s", c.RoomID)
		return
	}
	if owner, ok := d.hub.sessions.conn(c.RoomID, c.AgentID); !ok || owner != d.conn {
		d.failf("%s is not a member of room %s", c.AgentID, c.RoomID)
		return
	}
	r.Leave(c.AgentID)
	d.hub.sessions.unbind(d.conn)
	d.ok()
}

func (d *dispatcher) HandlePropose(c *protocol.ProposeCommand) {
	r, ok := d.member(c.AgentID)
	if !ok {
		d.failf("%s is not a member of any room on this connection", c.AgentID)
		return
	}
	if _, err := r.Propose(c.AgentID, c.Title, c.Description, c.Threshold); err != nil {
		d.fail(err)
		return
	}
	d.ok()
}

func (d *dispatcher) HandleVote(c *protocol.VoteCommand) {
	r, ok := d.member(c.AgentID)
	if !ok {
		d.failf("%s is not a member of any room on this connection", c.AgentID)
		return
	}
	vote, err := consensus.ParseVoteType(c.Vote)
	if err != nil {
		d.fail(err)
		return
	}
	if err := r.CastVote(c.AgentID, c.ProposalID, vote); err != nil {
		d.fail(err)
		return
	}
	d.ok()
}

func (d *dispatcher) HandleListProposals(c *protocol.ListProposalsCommand) {
	sess, ok := d.hub.sessions.lookup(d.conn)
	if !ok {
		d.failf("join a room before listing proposals")
		return
	}
	r, ok := d.hub.rooms.GetRoom(sess.roomID)
	if !ok {
		d.failf("room not found: %s", sess.roomID)
		return
	}
	snapshots := r.Proposals(consensus.Status(c.Status))
	d.conn.Send(protocol.NewProposalList(r.ID(), ProposalSummaries(snapshots)))
	d.ok()
}

// ProposalSummaries converts snapshots to their wire form.
func ProposalSummaries(snapshots []consensus.Snapshot) []protocol.ProposalSummary {
	out := make([]protocol.ProposalSummary, 0, len(snapshots))
	for _, s := range snapshots {
		out = append(out, protocol.ProposalSummary{
			ProposalID:    s.ID,
			Title:         s.Title,
			ProposerID:    s.ProposerID,
			Threshold:     s.Threshold,
			Status:        string(s.Status),
			ApprovalRatio: s.ApprovalRatio,
			Yes:           s.Tally.Yes,
			No:            s.Tally.No,
			Abstain:       s.Tally.Abstain,
			CreatedAt:     s.CreatedAt.UnixMilli(),
		})
	}
	return out
}
