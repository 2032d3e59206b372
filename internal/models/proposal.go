package models

import "time"

// Proposal is the audit record of a proposal, written when it opens and again
// when it resolves.
type Proposal struct {
	ID            string     `json:"id"`
	RoomID        string     `json:"room_id"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	ProposerID    string     `json:"proposer_id"`
	ProposerName  string     `json:"proposer_name"`
	Threshold     float64    `json:"threshold"`
	Status        string     `json:"status"`
	Yes           int        `json:"yes"`
	No            int        `json:"no"`
	Abstain       int        `json:"abstain"`
	ApprovalRatio float64    `json:"approval_ratio"`
	CreatedAt     time.Time  `json:"created_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}
