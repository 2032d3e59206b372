// Package consensus implements threshold voting over proposals.
package consensus

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors returned by proposal and manager operations.
var (
	ErrProposalNotFound   = errors.New("proposal not found")
	ErrProposalNotPending = errors.New("proposal is not pending")
	ErrInvalidThreshold   = errors.New("threshold must be in (0, 1]")
	ErrDuplicateProposal  = errors.New("proposal already exists")
	ErrInvalidVote        = errors.New("invalid vote")
	ErrInvalidProposal    = errors.New("invalid proposal")
)

// DefaultThreshold applies when a proposal is created without one.
const DefaultThreshold = 0.5

// VoteType is a single agent's position on a proposal.
type VoteType string

const (
	VoteYes     VoteType = "YES"
	VoteNo      VoteType = "NO"
	VoteAbstain VoteType = "ABSTAIN"
)

// ParseVoteType accepts YES, NO or ABSTAIN in any case.
func ParseVoteType(s string) (VoteType, error) {
	v := VoteType(strings.ToUpper(strings.TrimSpace(s)))
	if !v.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidVote, s)
	}
	return v, nil
}

// Valid reports whether v is one of the three vote types.
func (v VoteType) Valid() bool {
	switch v {
	case VoteYes, VoteNo, VoteAbstain:
		return true
	}
	return false
}

// Status is the lifecycle state of a proposal.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// ParseStatus accepts a status name in any case.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case StatusPending, StatusApproved, StatusRejected:
		return st, nil
	}
	return "", fmt.Errorf("unknown proposal status %q", s)
}

// Tally counts votes by type.
type Tally struct {
	Yes     int `json:"yes"`
	No      int `json:"no"`
	Abstain int `json:"abstain"`
}

// Decisive is the number of YES and NO votes.
func (t Tally) Decisive() int {
	return t.Yes + t.No
}

// Proposal is a decision record with a fixed threshold and a mutable tally.
//
// The proposal never changes its own status. The Manager decides when a
// proposal resolves so the trigger can vary independently of the math.
type Proposal struct {
	ID           string
	Title        string
	Description  string
	ProposerID   string
	ProposerName string
	Threshold    float64
	CreatedAt    time.Time

	status     Status
	votes      map[string]VoteType
	resolvedAt time.Time
}

// NewProposal builds a PENDING proposal. A zero threshold selects
// DefaultThreshold.
func NewProposal(id, title, description, proposerID, proposerName string, threshold float64) (*Proposal, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidProposal)
	}
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidProposal)
	}
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidThreshold, threshold)
	}

	return &Proposal{
		ID:           id,
		Title:        title,
		Description:  description,
		ProposerID:   proposerID,
		ProposerName: proposerName,
		Threshold:    threshold,
		CreatedAt:    time.Now(),
		status:       StatusPending,
		votes:        make(map[string]VoteType),
	}, nil
}

// Status returns the current lifecycle state.
func (p *Proposal) Status() Status {
	return p.status
}

// ResolvedAt returns when the proposal left PENDING, or the zero time.
func (p *Proposal) ResolvedAt() time.Time {
	return p.resolvedAt
}

// Vote records or overwrites agentID's vote. Votes are only accepted while
// the proposal is PENDING.
func (p *Proposal) Vote(agentID string, vote VoteType) error {
	if p.status != StatusPending {
		return fmt.Errorf("%w: %s is %s", ErrProposalNotPending, p.ID, p.status)
	}
	if agentID == "" {
		return fmt.Errorf("%w: agent id is required", ErrInvalidVote)
	}
	if !vote.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidVote, vote)
	}
	p.votes[agentID] = vote
	return nil
}

// VoteOf returns agentID's current vote.
func (p *Proposal) VoteOf(agentID string) (VoteType, bool) {
	v, ok := p.votes[agentID]
	return v, ok
}

// Votes returns a copy of the vote map.
func (p *Proposal) Votes() map[string]VoteType {
	out := make(map[string]VoteType, len(p.votes))
	for k, v := range p.votes {
		out[k] = v
	}
	return out
}

// VoteCount is the number of agents that have voted, abstentions included.
func (p *Proposal) VoteCount() int {
	return len(p.votes)
}

// Tally counts the current votes.
func (p *Proposal) Tally() Tally {
	var t Tally
	for _, v := range p.votes {
		switch v {
		case VoteYes:
			t.Yes++
		case VoteNo:
			t.No++
		case VoteAbstain:
			t.Abstain++
		}
	}
	return t
}

// ApprovalRatio is yes / (yes + no), or 0 with no decisive votes.
// Abstentions never enter the denominator.
func (p *Proposal) ApprovalRatio() float64 {
	t := p.Tally()
	if t.Decisive() == 0 {
		return 0
	}
	return float64(t.Yes) / float64(t.Decisive())
}

// IsApproved reports whether there is at least one decisive vote and the
// approval ratio meets the threshold.
func (p *Proposal) IsApproved() bool {
	return p.Tally().Decisive() > 0 && p.ApprovalRatio() >= p.Threshold
}

// HasReachedConsensus reports whether resolution can be evaluated, i.e. at
// least one decisive vote was cast. It does not resolve the proposal.
func (p *Proposal) HasReachedConsensus() bool {
	return p.Tally().Decisive() > 0
}

func (p *Proposal) resolve(status Status, at time.Time) {
	p.status = status
	p.resolvedAt = at
}

// Snapshot is a read-only copy of a proposal, safe to hand to other goroutines.
type Snapshot struct {
	ID            string              `json:"proposalId"`
	Title         string              `json:"title"`
	Description   string              `json:"description"`
	ProposerID    string              `json:"proposerId"`
	ProposerName  string              `json:"proposerName"`
	Threshold     float64             `json:"threshold"`
	Status        Status              `json:"status"`
	ApprovalRatio float64             `json:"approvalRatio"`
	Tally         Tally               `json:"tally"`
	Votes         map[string]VoteType `json:"votes"`
	CreatedAt     time.Time           `json:"createdAt"`
	ResolvedAt    *time.Time          `json:"resolvedAt,omitempty"`
}

// Snapshot copies the proposal's current state.
func (p *Proposal) Snapshot() Snapshot {
	s := Snapshot{
		ID:            p.ID,
		Title:         p.Title,
		Description:   p.Description,
		ProposerID:    p.ProposerID,
		ProposerName:  p.ProposerName,
		Threshold:     p.Threshold,
		Status:        p.status,
		ApprovalRatio: p.ApprovalRatio(),
		Tally:         p.Tally(),
		Votes:         p.Votes(),
		CreatedAt:     p.CreatedAt,
	}
	if !p.resolvedAt.IsZero() {
		t := p.resolvedAt
		s.ResolvedAt = &t
	}
	return s
}
