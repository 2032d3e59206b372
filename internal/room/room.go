// Package room implements conversation rooms and the registry that owns them.
//
// A Room and its Manager are not safe for concurrent use. All calls, including
// bus deliveries (scheduled through the Manager's executor) and proposal
// timers, must happen on one goroutine.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/osobh/pingpong-sub001/internal/bus"
	"github.com/osobh/pingpong-sub001/internal/consensus"
	"github.com/osobh/pingpong-sub001/internal/metrics"
	"github.com/osobh/pingpong-sub001/internal/protocol"
)

var (
	ErrDuplicateMember = errors.New("duplicate member")
	ErrDuplicateRoom   = errors.New("duplicate room")
	ErrRoomNotFound    = errors.New("room not found")
	ErrUnknownMode     = errors.New("unknown mode")
	ErrNotMember       = errors.New("not a member")
	ErrRoomClosed      = errors.New("room closed")
)

const busTimeout = 2 * time.Second

// Member is a participant joined through a local connection.
type Member struct {
	ID       string
	Name     string
	Role     string
	Conn     Conn
	JoinedAt time.Time
}

// MemberInfo is the public view of a member.
type MemberInfo struct {
	ID       string    `json:"agentId"`
	Name     string    `json:"agentName"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Observer is told about room traffic worth persisting. It is called on the
// room's goroutine and must not block.
type Observer interface {
	MessagePosted(roomID string, msg *protocol.MessageEvent)
	ProposalChanged(roomID string, p consensus.Snapshot)
}

type nopObserver struct{}

func (nopObserver) MessagePosted(string, *protocol.MessageEvent) {}
func (nopObserver) ProposalChanged(string, consensus.Snapshot)   {}

// Room is one conversation: its members, its proposals and its bus channel.
type Room struct {
	id        string
	topic     string
	mode      Mode
	createdAt time.Time

	members map[string]*Member
	order   []string

	votes  *consensus.Manager
	owned  map[string]struct{}
	timers map[string]*time.Timer

	bus      bus.Bus
	serverID string
	sub      bus.Subscription

	exec     func(func())
	observer Observer
	logger   zerolog.Logger
	closed   bool
}

func newRoom(id, topic string, mode Mode, m *Manager) *Room {
	r := &Room{
		id:        id,
		topic:     topic,
		mode:      mode,
		createdAt: time.Now(),
		members:   make(map[string]*Member),
		votes:     consensus.NewManager(consensus.WithDefaultThreshold(mode.Threshold)),
		owned:     make(map[string]struct{}),
		timers:    make(map[string]*time.Timer),
		bus:       m.bus,
		serverID:  m.serverID,
		exec:      m.exec,
		observer:  m.observer,
		logger:    m.logger.With().Str("room", id).Logger(),
	}
	r.votes.OnResolution(r.onResolved)
	return r
}

func (r *Room) ID() string           { return r.id }
func (r *Room) Topic() string        { return r.topic }
func (r *Room) Mode() Mode           { return r.mode }
func (r *Room) CreatedAt() time.Time { return r.createdAt }
func (r *Room) MemberCount() int     { return len(r.members) }
func (r *Room) Closed() bool         { return r.closed }

// Members lists current members in join order.
func (r *Room) Members() []MemberInfo {
	out := make([]MemberInfo, 0, len(r.order))
	for _, id := range r.order {
		m := r.members[id]
		out = append(out, MemberInfo{ID: m.ID, Name: m.Name, Role: m.Role, JoinedAt: m.JoinedAt})
	}
	return out
}

// Join registers a member, welcomes it and announces it to everyone else.
func (r *Room) Join(memberID, name, role string, conn Conn) error {
	if r.closed {
		return fmt.Errorf("%w: %s", ErrRoomClosed, r.id)
	}
	if _, exists := r.members[memberID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateMember, memberID)
	}

	m := &Member{ID: memberID, Name: name, Role: role, Conn: conn, JoinedAt: time.Now()}
	r.members[memberID] = m
	r.order = append(r.order, memberID)
	metrics.MembersConnected.Inc()

	r.send(m, protocol.NewWelcome(r.id, r.topic, r.mode.Name, len(r.members)))
	r.broadcast(protocol.NewAgentJoined(r.id, memberID, name, role), memberID)

	r.logger.Debug().Str("agent", memberID).Str("role", role).Int("members", len(r.members)).Msg("member joined")
	return nil
}

// Message relays content from memberID to every other local member and to
// the bus. Messages from non-members are dropped silently; they are stale
// commands that lost a race with a disconnect.
func (r *Room) Message(memberID, content string, timestamp int64) {
	m, ok := r.members[memberID]
	if !ok {
		r.logger.Debug().Str("agent", memberID).Msg("ignoring message from non-member")
		return
	}

	evt := protocol.NewMessage(r.id, m.ID, m.Name, m.Role, content, timestamp)
	r.broadcast(evt, m.ID)
	metrics.MessagesBroadcast.WithLabelValues("local").Inc()
	r.publish(evt)
	r.observer.MessagePosted(r.id, evt)
}

// Leave removes memberID and tells the remaining members. Unknown members are
// ignored.
func (r *Room) Leave(memberID string) {
	m, ok := r.members[memberID]
	if !ok {
		return
	}
	r.remove(memberID)
	r.broadcast(protocol.NewAgentLeft(r.id, m.ID, m.Name), "")
	r.logger.Debug().Str("agent", memberID).Int("members", len(r.members)).Msg("member left")

	// The leaver may have been the last vote outstanding.
	for id := range r.owned {
		r.resolveIfComplete(id)
	}
}

// Disconnect leaves on behalf of whichever member owns conn.
func (r *Room) Disconnect(conn Conn) {
	for _, id := range r.order {
		if r.members[id].Conn == conn {
			r.Leave(id)
			return
		}
	}
}

func (r *Room) remove(memberID string) {
	delete(r.members, memberID)
	for i, id := range r.order {
		if id == memberID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	metrics.MembersConnected.Dec()
}

// Shutdown closes every member connection, stops proposal timers and drops
// the bus subscription. Calling it again does nothing.
func (r *Room) Shutdown() {
	if r.closed {
		return
	}
	r.closed = true

	for _, id := range r.order {
		if err := r.members[id].Conn.Close(); err != nil {
			r.logger.Debug().Err(err).Str("agent", id).Msg("close member connection")
		}
	}
	metrics.MembersConnected.Sub(float64(len(r.members)))
	r.members = make(map[string]*Member)
	r.order = nil

	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}

	if r.sub != nil {
		ctx, cancel := context.WithTimeout(context.Background(), busTimeout)
		if err := r.sub.Unsubscribe(ctx); err != nil && !errors.Is(err, bus.ErrClosed) {
			r.logger.Warn().Err(err).Msg("bus unsubscribe failed")
		}
		cancel()
		r.sub = nil
	}
}

// Propose opens a proposal on behalf of memberID and announces it to every
// local member, the proposer included. A zero threshold uses the mode's.
func (r *Room) Propose(memberID, title, description string, threshold float64) (string, error) {
	m, ok := r.members[memberID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotMember, memberID)
	}

	id, err := r.votes.CreateProposal(consensus.ProposalInput{
		Title:        title,
		Description:  description,
		ProposerID:   m.ID,
		ProposerName: m.Name,
		Threshold:    threshold,
	})
	if err != nil {
		return "", err
	}
	p, _ := r.votes.GetProposal(id)
	r.owned[id] = struct{}{}
	metrics.ProposalsCreated.Inc()

	evt := protocol.NewProposalEvent(r.id, p.ID, p.Title, p.Description, p.ProposerID, p.ProposerName, p.Threshold, string(p.Status()))
	r.broadcast(evt, "")
	r.publish(evt)
	r.observer.ProposalChanged(r.id, p.Snapshot())

	if r.mode.DecisionTimeout > 0 {
		r.timers[id] = time.AfterFunc(r.mode.DecisionTimeout, func() {
			r.exec(func() { r.expire(id) })
		})
	}

	r.logger.Info().Str("proposal", id).Str("agent", m.ID).Float64("threshold", p.Threshold).Msg("proposal opened")
	return id, nil
}

// CastVote records memberID's vote and announces it. When no other process
// can hold voters, the owner resolves a proposal as soon as every member has
// voted on it.
func (r *Room) CastVote(memberID, proposalID string, vote consensus.VoteType) error {
	m, ok := r.members[memberID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotMember, memberID)
	}
	if err := r.votes.Vote(proposalID, m.ID, vote); err != nil {
		return err
	}
	metrics.VotesCast.Inc()

	evt := protocol.NewVoteCast(r.id, proposalID, m.ID, m.Name, string(vote), 0)
	r.broadcast(evt, "")
	r.publish(evt)

	if _, owned := r.owned[proposalID]; owned {
		r.resolveIfComplete(proposalID)
	}
	return nil
}

// resolveIfComplete resolves a pending proposal once every local member has
// voted on it, provided no other process can hold voters.
func (r *Room) resolveIfComplete(proposalID string) {
	p, ok := r.votes.GetProposal(proposalID)
	if !ok || p.Status() != consensus.StatusPending {
		return
	}
	if !r.alone() || !r.everyoneVoted(proposalID) {
		return
	}
	if _, err := r.ResolveProposal(proposalID); err != nil {
		r.logger.Warn().Err(err).Str("proposal", proposalID).Msg("resolve after final vote")
	}
}

// alone reports whether this room is the only subscriber to its traffic.
// Buses that cannot count subscribers are assumed to have peers.
func (r *Room) alone() bool {
	if r.bus == nil || r.sub == nil {
		return true
	}
	if c, ok := r.bus.(bus.SubscriberCounter); ok {
		return c.SubscriberCount(r.id) <= 1
	}
	return false
}

func (r *Room) everyoneVoted(proposalID string) bool {
	p, ok := r.votes.GetProposal(proposalID)
	if !ok {
		return false
	}
	for id := range r.members {
		if _, voted := p.VoteOf(id); !voted {
			return false
		}
	}
	return true
}

// ResolveProposal asks the vote manager to evaluate a proposal. It returns the
// resulting status, which stays PENDING while there is no decisive vote.
func (r *Room) ResolveProposal(proposalID string) (consensus.Status, error) {
	return r.votes.UpdateProposalStatus(proposalID)
}

// expire runs when a proposal's decision timeout elapses. A proposal that
// still has no decisive vote is rejected.
func (r *Room) expire(proposalID string) {
	delete(r.timers, proposalID)
	if r.closed {
		return
	}
	status, err := r.votes.UpdateProposalStatus(proposalID)
	if err != nil {
		r.logger.Debug().Err(err).Str("proposal", proposalID).Msg("expired proposal is gone")
		return
	}
	if status == consensus.StatusPending {
		r.logger.Info().Str("proposal", proposalID).Msg("proposal expired without a decisive vote")
		if err := r.votes.Settle(proposalID, consensus.StatusRejected); err != nil {
			r.logger.Warn().Err(err).Str("proposal", proposalID).Msg("settle expired proposal")
		}
	}
}

func (r *Room) onResolved(n consensus.Notification) {
	if t, ok := r.timers[n.ProposalID]; ok {
		t.Stop()
		delete(r.timers, n.ProposalID)
	}

	s := n.Proposal
	evt := protocol.NewProposalResolved(r.id, s.ID, string(s.Status), s.ApprovalRatio, s.Tally.Yes, s.Tally.No, s.Tally.Abstain)
	r.broadcast(evt, "")

	if _, owned := r.owned[n.ProposalID]; owned {
		metrics.ProposalsResolved.WithLabelValues(string(n.Status)).Inc()
		r.publish(evt)
		r.observer.ProposalChanged(r.id, s)
	}
	r.logger.Info().Str("proposal", s.ID).Str("status", string(s.Status)).Float64("ratio", s.ApprovalRatio).Msg("proposal resolved")
}

// Proposals returns snapshots of the room's proposals, oldest first. An empty
// status returns all of them.
func (r *Room) Proposals(status consensus.Status) []consensus.Snapshot {
	var ps []*consensus.Proposal
	if status == "" {
		ps = r.votes.GetAllProposals()
	} else {
		ps = r.votes.GetProposalsByStatus(status)
	}
	out := make([]consensus.Snapshot, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Snapshot())
	}
	return out
}

// Proposal returns a snapshot of one proposal.
func (r *Room) Proposal(id string) (consensus.Snapshot, bool) {
	p, ok := r.votes.GetProposal(id)
	if !ok {
		return consensus.Snapshot{}, false
	}
	return p.Snapshot(), true
}

// deliverRemote applies an envelope published by another server.
func (r *Room) deliverRemote(env bus.Envelope) {
	if r.closed {
		metrics.BusDropped.WithLabelValues("closed").Inc()
		return
	}
	evt, err := protocol.DecodeEvent(env.Payload)
	if err != nil {
		metrics.BusDropped.WithLabelValues("decode").Inc()
		r.logger.Warn().Err(err).Str("origin", env.Origin).Msg("undecodable bus payload")
		return
	}

	switch e := evt.(type) {
	case *protocol.MessageEvent:
		r.broadcast(e, "")
		metrics.MessagesBroadcast.WithLabelValues("remote").Inc()
	case *protocol.ProposalEvent:
		err = r.applyRemoteProposal(e)
	case *protocol.VoteCastEvent:
		err = r.applyRemoteVote(e)
	case *protocol.ProposalResolvedEvent:
		err = r.applyRemoteResolution(e)
	default:
		err = fmt.Errorf("unexpected %s on the bus", evt.EventType())
	}
	if err != nil {
		metrics.BusDropped.WithLabelValues("stale").Inc()
		r.logger.Debug().Err(err).Str("origin", env.Origin).Msg("dropping remote event")
		return
	}
	metrics.BusReceived.WithLabelValues(string(evt.EventType())).Inc()
}

func (r *Room) applyRemoteProposal(e *protocol.ProposalEvent) error {
	_, err := r.votes.CreateProposal(consensus.ProposalInput{
		ID:           e.ProposalID,
		Title:        e.Title,
		Description:  e.Description,
		ProposerID:   e.ProposerID,
		ProposerName: e.ProposerName,
		Threshold:    e.Threshold,
	})
	if err != nil {
		return err
	}
	r.broadcast(e, "")
	return nil
}

func (r *Room) applyRemoteVote(e *protocol.VoteCastEvent) error {
	vote, err := consensus.ParseVoteType(e.Vote)
	if err != nil {
		return err
	}
	if err := r.votes.Vote(e.ProposalID, e.AgentID, vote); err != nil {
		return err
	}
	r.broadcast(e, "")
	return nil
}

// applyRemoteResolution settles the local copy; onResolved announces it.
func (r *Room) applyRemoteResolution(e *protocol.ProposalResolvedEvent) error {
	status, err := consensus.ParseStatus(e.Status)
	if err != nil {
		return err
	}
	return r.votes.Settle(e.ProposalID, status)
}

func (r *Room) broadcast(evt protocol.Event, except string) int {
	delivered := 0
	for _, id := range r.order {
		if id == except {
			continue
		}
		if r.send(r.members[id], evt) {
			delivered++
		}
	}
	return delivered
}

func (r *Room) send(m *Member, evt protocol.Event) bool {
	if !m.Conn.Open() {
		metrics.SendsDropped.Inc()
		return false
	}
	if err := m.Conn.Send(evt); err != nil {
		metrics.SendsDropped.Inc()
		r.logger.Debug().Err(err).Str("agent", m.ID).Msg("send failed")
		return false
	}
	return true
}

func (r *Room) publish(evt protocol.Event) {
	if r.bus == nil {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		r.logger.Error().Err(err).Msg("marshal bus payload")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), busTimeout)
	defer cancel()
	if err := r.bus.Publish(ctx, r.id, bus.NewEnvelope(r.id, r.serverID, payload)); err != nil {
		metrics.BusErrors.WithLabelValues("publish").Inc()
		r.logger.Warn().Err(err).Str("event", string(evt.EventType())).Msg("bus publish failed, delivering locally only")
		return
	}
	metrics.BusPublished.WithLabelValues(string(evt.EventType())).Inc()
}
