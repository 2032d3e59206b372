package room

import (
	"context"
	"errors"
	"testing"

	"github.com/osobh/pingpong-sub001/internal/consensus"
	"github.com/osobh/pingpong-sub001/internal/protocol"
)

type recordingConn struct {
	events []protocol.Event
	closed bool
}

func (c *recordingConn) Send(evt protocol.Event) error {
	c.events = append(c.events, evt)
	return nil
}

func (c *recordingConn) Open() bool   { return !c.closed }
func (c *recordingConn) Close() error { c.closed = true; return nil }

func (c *recordingConn) count(t protocol.EventType) int {
	n := 0
	for _, e := range c.events {
		if e.EventType() == t {
			n++
		}
	}
	return n
}

func (c *recordingConn) last() protocol.Event {
	if len(c.events) == 0 {
		return nil
	}
	return c.events[len(c.events)-1]
}

func (c *recordingConn) messages() []string {
	var out []string
	for _, e := range c.events {
		if m, ok := e.(*protocol.MessageEvent); ok {
			out = append(out, m.Content)
		}
	}
	return out
}

func newTestRoom(t *testing.T, mode string) *Room {
	t.Helper()
	r, err := NewManager().CreateRoom(context.Background(), "r1", "architecture", mode)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func join(t *testing.T, r *Room, id string) *recordingConn {
	t.Helper()
	c := &recordingConn{}
	if err := r.Join(id, id+"-name", "participant", c); err != nil {
		t.Fatalf("join %s: %v", id, err)
	}
	return c
}

func TestJoinRejectsDuplicateMember(t *testing.T) {
	r := newTestRoom(t, "")
	alice := &recordingConn{}
	if err := r.Join("alice", "Alice", "architect", alice); err != nil {
		t.Fatal(err)
	}

	err := r.Join("alice", "Alice", "critic", &recordingConn{})
	if !errors.Is(err, ErrDuplicateMember) {
		t.Fatalf("expected ErrDuplicateMember, got %v", err)
	}
	if r.MemberCount() != 1 {
		t.Fatalf("membership changed: %d members", r.MemberCount())
	}
	if got := r.Members()[0].Role; got != "architect" {
		t.Fatalf("existing member altered, role is %q", got)
	}
}

func TestJoinWelcomesAndAnnounces(t *testing.T) {
	r := newTestRoom(t, "")
	alice := join(t, r, "alice")
	bob := join(t, r, "bob")

	w, ok := bob.events[0].(*protocol.WelcomeEvent)
	if !ok {
		t.Fatalf("expected WELCOME first, got %T", bob.events[0])
	}
	if w.RoomID != "r1" || w.Topic != "architecture" || w.AgentCount != 2 || w.Mode != DefaultMode {
		t.Fatalf("unexpected welcome %+v", w)
	}
	if bob.count(protocol.EvtAgentJoined) != 0 {
		t.Fatal("joiner should not be told about itself")
	}

	j, ok := alice.last().(*protocol.AgentJoinedEvent)
	if !ok || j.AgentID != "bob" {
		t.Fatalf("alice should see bob join, got %+v", alice.last())
	}
}

func TestMessageReachesEveryoneButSender(t *testing.T) {
	r := newTestRoom(t, "")
	conns := map[string]*recordingConn{}
	for _, id := range []string{"alice", "bob", "carol", "dave"} {
		conns[id] = join(t, r, id)
	}

	r.Message("alice", "hello", 1234)

	if n := conns["alice"].count(protocol.EvtMessage); n != 0 {
		t.Fatalf("sender received its own message %d times", n)
	}
	for _, id := range []string{"bob", "carol", "dave"} {
		if n := conns[id].count(protocol.EvtMessage); n != 1 {
			t.Fatalf("%s received %d messages, want 1", id, n)
		}
	}
	m := conns["bob"].last().(*protocol.MessageEvent)
	if m.AgentID != "alice" || m.AgentName != "alice-name" || m.Role != "participant" || m.Timestamp != 1234 {
		t.Fatalf("unexpected message %+v", m)
	}
}

func TestMessagesKeepCommandOrder(t *testing.T) {
	r := newTestRoom(t, "")
	join(t, r, "alice")
	bob := join(t, r, "bob")

	for _, s := range []string{"one", "two", "three"} {
		r.Message("alice", s, 0)
	}
	got := bob.messages()
	want := []string{"one", "two", "three"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("out of order: %v", got)
		}
	}
}

func TestStaleMessageAfterDisconnectIgnored(t *testing.T) {
	r := newTestRoom(t, "")
	alice := join(t, r, "alice")
	bob := join(t, r, "bob")

	r.Disconnect(bob)
	if r.MemberCount() != 1 || r.Members()[0].ID != "alice" {
		t.Fatal("bob should be gone")
	}
	if alice.count(protocol.EvtAgentLeft) != 1 {
		t.Fatal("alice should see bob leave")
	}

	before := len(alice.events)
	r.Message("bob", "buffered", 0)
	if len(alice.events) != before {
		t.Fatalf("stale message produced events: %+v", alice.events[before:])
	}
	if alice.count(protocol.EvtError) != 0 || bob.count(protocol.EvtError) != 0 {
		t.Fatal("stale message must not produce an error")
	}
}

func TestClosedConnectionSkipped(t *testing.T) {
	r := newTestRoom(t, "")
	join(t, r, "alice")
	bob := join(t, r, "bob")
	carol := join(t, r, "carol")
	carol.closed = true
	before := len(carol.events)

	r.Message("alice", "hi", 0)

	if len(carol.events) != before {
		t.Fatal("closed connection should not be written to")
	}
	if bob.count(protocol.EvtMessage) != 1 {
		t.Fatal("open members still receive the message")
	}
}

func TestLeave(t *testing.T) {
	r := newTestRoom(t, "")
	join(t, r, "alice")
	bob := join(t, r, "bob")

	r.Leave("alice")
	left, ok := bob.last().(*protocol.AgentLeftEvent)
	if !ok || left.AgentID != "alice" || left.AgentName != "alice-name" {
		t.Fatalf("unexpected event %+v", bob.last())
	}

	n := len(bob.events)
	r.Leave("alice")
	r.Leave("nobody")
	if len(bob.events) != n {
		t.Fatal("leaving twice must be a no-op")
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	r := newTestRoom(t, "")
	alice := join(t, r, "alice")
	bob := join(t, r, "bob")

	r.Shutdown()
	r.Shutdown()

	if !alice.closed || !bob.closed {
		t.Fatal("shutdown should close member connections")
	}
	if r.MemberCount() != 0 {
		t.Fatal("shutdown should clear membership")
	}
	if err := r.Join("carol", "Carol", "", &recordingConn{}); !errors.Is(err, ErrRoomClosed) {
		t.Fatalf("expected ErrRoomClosed, got %v", err)
	}
}

func TestProposalLifecycleWithoutBus(t *testing.T) {
	r := newTestRoom(t, "debate")
	alice := join(t, r, "alice")
	bob := join(t, r, "bob")
	carol := join(t, r, "carol")

	id, err := r.Propose("alice", "Adopt Go", "rewrite the relay", 0)
	if err != nil {
		t.Fatal(err)
	}
	for name, c := range map[string]*recordingConn{"alice": alice, "bob": bob, "carol": carol} {
		if c.count(protocol.EvtProposal) != 1 {
			t.Fatalf("%s did not see the proposal", name)
		}
	}
	p := alice.last().(*protocol.ProposalEvent)
	if p.ProposalID != id || p.Threshold != 0.5 || p.Status != "PENDING" || p.ProposerID != "alice" {
		t.Fatalf("unexpected proposal event %+v", p)
	}

	if err := r.CastVote("alice", id, consensus.VoteYes); err != nil {
		t.Fatal(err)
	}
	if err := r.CastVote("bob", id, consensus.VoteYes); err != nil {
		t.Fatal(err)
	}
	if s, _ := r.Proposal(id); s.Status != consensus.StatusPending {
		t.Fatalf("resolved before everyone voted: %s", s.Status)
	}
	if err := r.CastVote("carol", id, consensus.VoteNo); err != nil {
		t.Fatal(err)
	}

	res, ok := bob.last().(*protocol.ProposalResolvedEvent)
	if !ok {
		t.Fatalf("expected PROPOSAL_RESOLVED, got %T", bob.last())
	}
	if res.Status != "APPROVED" || res.Yes != 2 || res.No != 1 {
		t.Fatalf("unexpected resolution %+v", res)
	}
	if carol.count(protocol.EvtVoteCast) != 3 {
		t.Fatalf("every vote should be announced, carol saw %d", carol.count(protocol.EvtVoteCast))
	}

	err = r.CastVote("bob", id, consensus.VoteNo)
	if !errors.Is(err, consensus.ErrProposalNotPending) {
		t.Fatalf("expected ErrProposalNotPending, got %v", err)
	}
}

func TestLeaveResolvesWhenRemainingMembersVoted(t *testing.T) {
	r := newTestRoom(t, "brainstorm")
	alice := join(t, r, "alice")
	join(t, r, "bob")
	join(t, r, "carol")

	id, err := r.Propose("alice", "Ship it", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.CastVote("alice", id, consensus.VoteYes); err != nil {
		t.Fatal(err)
	}
	if err := r.CastVote("bob", id, consensus.VoteYes); err != nil {
		t.Fatal(err)
	}

	r.Leave("bob")
	if s, _ := r.Proposal(id); s.Status != consensus.StatusPending {
		t.Fatalf("carol has not voted yet, got %s", s.Status)
	}

	r.Leave("carol")
	s, _ := r.Proposal(id)
	if s.Status != consensus.StatusApproved {
		t.Fatalf("expected APPROVED once only voters remain, got %s", s.Status)
	}
	if alice.count(protocol.EvtProposalResolved) != 1 {
		t.Fatalf("expected one PROPOSAL_RESOLVED, got %d", alice.count(protocol.EvtProposalResolved))
	}
}

func TestProposalErrors(t *testing.T) {
	r := newTestRoom(t, "")
	join(t, r, "alice")

	if _, err := r.Propose("mallory", "x", "", 0); !errors.Is(err, ErrNotMember) {
		t.Fatalf("expected ErrNotMember, got %v", err)
	}
	if err := r.CastVote("mallory", "p", consensus.VoteYes); !errors.Is(err, ErrNotMember) {
		t.Fatalf("expected ErrNotMember, got %v", err)
	}
	if err := r.CastVote("alice", "missing", consensus.VoteYes); !errors.Is(err, consensus.ErrProposalNotFound) {
		t.Fatalf("expected ErrProposalNotFound, got %v", err)
	}
	if _, err := r.Propose("alice", "x", "", 2); !errors.Is(err, consensus.ErrInvalidThreshold) {
		t.Fatalf("expected ErrInvalidThreshold, got %v", err)
	}
}

func TestModeThresholdApplies(t *testing.T) {
	r := newTestRoom(t, "consensus")
	join(t, r, "alice")
	id, err := r.Propose("alice", "x", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	s, _ := r.Proposal(id)
	if s.Threshold != 0.75 {
		t.Fatalf("expected consensus threshold 0.75, got %v", s.Threshold)
	}
}

func TestExpireRejectsUndecidedProposal(t *testing.T) {
	r := newTestRoom(t, "quick")
	alice := join(t, r, "alice")
	join(t, r, "bob")

	id, _ := r.Propose("alice", "x", "", 0)
	if _, ok := r.timers[id]; !ok {
		t.Fatal("quick mode should arm a decision timer")
	}
	r.CastVote("bob", id, consensus.VoteAbstain)

	r.expire(id)

	s, _ := r.Proposal(id)
	if s.Status != consensus.StatusRejected {
		t.Fatalf("expected REJECTED after expiry, got %s", s.Status)
	}
	if alice.count(protocol.EvtProposalResolved) != 1 {
		t.Fatal("expiry should be announced")
	}
	if len(r.timers) != 0 {
		t.Fatal("timer should be cleared")
	}
}

func TestResolutionStopsTimer(t *testing.T) {
	r := newTestRoom(t, "debate")
	join(t, r, "alice")
	id, _ := r.Propose("alice", "x", "", 0)
	r.CastVote("alice", id, consensus.VoteYes)

	if _, ok := r.timers[id]; ok {
		t.Fatal("timer should be stopped once the proposal resolves")
	}
}

func TestProposalsFilter(t *testing.T) {
	r := newTestRoom(t, "brainstorm")
	join(t, r, "alice")
	join(t, r, "bob")
	a, _ := r.Propose("alice", "first", "", 0)
	r.Propose("alice", "second", "", 0)
	r.CastVote("alice", a, consensus.VoteYes)
	r.CastVote("bob", a, consensus.VoteYes)

	if n := len(r.Proposals("")); n != 2 {
		t.Fatalf("expected 2 proposals, got %d", n)
	}
	pending := r.Proposals(consensus.StatusPending)
	if len(pending) != 1 || pending[0].Title != "second" {
		t.Fatalf("unexpected pending list %+v", pending)
	}
	if n := len(r.Proposals(consensus.StatusApproved)); n != 1 {
		t.Fatalf("expected 1 approved, got %d", n)
	}
}

type recordingObserver struct {
	messages  []string
	proposals []consensus.Status
}

func (o *recordingObserver) MessagePosted(_ string, m *protocol.MessageEvent) {
	o.messages = append(o.messages, m.Content)
}

func (o *recordingObserver) ProposalChanged(_ string, p consensus.Snapshot) {
	o.proposals = append(o.proposals, p.Status)
}

func TestObserverSeesLocalTraffic(t *testing.T) {
	obs := &recordingObserver{}
	r, err := NewManager(WithObserver(obs)).CreateRoom(context.Background(), "r1", "t", "")
	if err != nil {
		t.Fatal(err)
	}
	join(t, r, "alice")

	r.Message("alice", "hello", 0)
	r.Message("ghost", "boo", 0)
	id, _ := r.Propose("alice", "x", "", 0)
	r.CastVote("alice", id, consensus.VoteNo)

	if len(obs.messages) != 1 || obs.messages[0] != "hello" {
		t.Fatalf("unexpected observed messages %v", obs.messages)
	}
	if len(obs.proposals) != 2 || obs.proposals[0] != consensus.StatusPending || obs.proposals[1] != consensus.StatusRejected {
		t.Fatalf("unexpected observed proposals %v", obs.proposals)
	}
}
