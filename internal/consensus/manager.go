package consensus

import (
	"fmt"
	"sort"
	"time"

	"github.com/osobh/pingpong-sub001/internal/ids"
)

// Notification kinds emitted when a proposal resolves.
const (
	NotifyApproved = "proposal:approved"
	NotifyRejected = "proposal:rejected"
)

// Notification reports a resolution.
type Notification struct {
	Kind       string
	ProposalID string
	Status     Status
	Proposal   Snapshot
}

// ProposalInput describes a proposal to create. Empty ID generates one; zero
// Threshold uses the manager's default.
type ProposalInput struct {
	ID           string
	Title        string
	Description  string
	ProposerID   string
	ProposerName string
	Threshold    float64
}

// Manager is an in-memory registry of proposals for one view of a
// conversation. It is not safe for concurrent use; callers serialise access.
type Manager struct {
	proposals        map[string]*Proposal
	defaultThreshold float64
	listeners        []func(Notification)
	now              func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithDefaultThreshold sets the threshold used when a proposal omits one.
func WithDefaultThreshold(t float64) Option {
	return func(m *Manager) {
		if t > 0 && t <= 1 {
			m.defaultThreshold = t
		}
	}
}

// WithClock overrides time.Now for created/resolved timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates an empty Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		proposals:        make(map[string]*Proposal),
		defaultThreshold: DefaultThreshold,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnResolution registers fn to be called, in registration order, every time
// a proposal resolves.
func (m *Manager) OnResolution(fn func(Notification)) {
	m.listeners = append(m.listeners, fn)
}

// CreateProposal registers a new PENDING proposal and returns its id.
func (m *Manager) CreateProposal(in ProposalInput) (string, error) {
	id := in.ID
	if id == "" {
		id = ids.NewProposalID()
	}
	if _, exists := m.proposals[id]; exists {
		return "", fmt.Errorf("%w: %s", ErrDuplicateProposal, id)
	}

	threshold := in.Threshold
	if threshold == 0 {
		threshold = m.defaultThreshold
	}

	p, err := NewProposal(id, in.Title, in.Description, in.ProposerID, in.ProposerName, threshold)
	if err != nil {
		return "", err
	}
	p.CreatedAt = m.now()
	m.proposals[id] = p
	return id, nil
}

// Vote records agentID's vote on a proposal.
func (m *Manager) Vote(proposalID, agentID string, vote VoteType) error {
	p, ok := m.proposals[proposalID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProposalNotFound, proposalID)
	}
	return p.Vote(agentID, vote)
}

// UpdateProposalStatus evaluates a proposal and resolves it when possible.
// Approved if the threshold is met; rejected if there is at least one
// decisive vote but the threshold is not met; left PENDING otherwise.
// Already resolved proposals are returned unchanged.
func (m *Manager) UpdateProposalStatus(proposalID string) (Status, error) {
	p, ok := m.proposals[proposalID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrProposalNotFound, proposalID)
	}
	if p.status != StatusPending {
		return p.status, nil
	}

	switch {
	case p.IsApproved():
		m.resolve(p, StatusApproved)
	case p.HasReachedConsensus():
		m.resolve(p, StatusRejected)
	}
	return p.status, nil
}

// Settle applies a resolution decided elsewhere. It is a no-op when the
// proposal has already resolved.
func (m *Manager) Settle(proposalID string, status Status) error {
	p, ok := m.proposals[proposalID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProposalNotFound, proposalID)
	}
	if status != StatusApproved && status != StatusRejected {
		return fmt.Errorf("cannot settle %s as %s", proposalID, status)
	}
	if p.status != StatusPending {
		return nil
	}
	m.resolve(p, status)
	return nil
}

func (m *Manager) resolve(p *Proposal, status Status) {
	p.resolve(status, m.now())

	kind := NotifyRejected
	if status == StatusApproved {
		kind = NotifyApproved
	}
	n := Notification{
		Kind:       kind,
		ProposalID: p.ID,
		Status:     status,
		Proposal:   p.Snapshot(),
	}
	for _, fn := range m.listeners {
		fn(n)
	}
}

// GetProposal returns the proposal with the given id.
func (m *Manager) GetProposal(id string) (*Proposal, bool) {
	p, ok := m.proposals[id]
	return p, ok
}

// GetAllProposals returns every proposal, oldest first.
func (m *Manager) GetAllProposals() []*Proposal {
	out := make([]*Proposal, 0, len(m.proposals))
	for _, p := range m.proposals {
		out = append(out, p)
	}
	sortProposals(out)
	return out
}

// GetProposalsByStatus returns the proposals in the given state, oldest first.
func (m *Manager) GetProposalsByStatus(status Status) []*Proposal {
	var out []*Proposal
	for _, p := range m.proposals {
		if p.status == status {
			out = append(out, p)
		}
	}
	sortProposals(out)
	return out
}

// GetProposalCount returns the number of registered proposals.
func (m *Manager) GetProposalCount() int {
	return len(m.proposals)
}

// GetPendingCount returns the number of PENDING proposals.
func (m *Manager) GetPendingCount() int {
	n := 0
	for _, p := range m.proposals {
		if p.status == StatusPending {
			n++
		}
	}
	return n
}

// DeleteProposal removes a proposal from the registry.
func (m *Manager) DeleteProposal(id string) error {
	if _, ok := m.proposals[id]; !ok {
		return fmt.Errorf("%w: %s", ErrProposalNotFound, id)
	}
	delete(m.proposals, id)
	return nil
}

func sortProposals(ps []*Proposal) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].ID < ps[j].ID
		}
		return ps[i].CreatedAt.Before(ps[j].CreatedAt)
	})
}
