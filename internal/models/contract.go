package models

import "time"

// Contract statuses.
const (
	ContractDraft     = "draft"
	ContractActive    = "active"
	ContractCompleted = "completed"
	ContractCancelled = "cancelled"
	ContractDisputed  = "disputed"
)

// Milestone statuses. The lifecycle is
// pending -> in_progress -> completed -> approved -> paid,
// with disputed reachable from any state except paid and a refund
// returning the milestone to pending.
const (
	MilestonePending    = "pending"
	MilestoneInProgress = "in_progress"
	MilestoneCompleted  = "completed"
	MilestoneApproved   = "approved"
	MilestonePaid       = "paid"
	MilestoneDisputed   = "disputed"
)

type Contract struct {
	ID           string      `json:"id" db:"id"`
	ClientID     string      `json:"clientId" db:"client_id"`
	FreelancerID string      `json:"freelancerId" db:"freelancer_id"`
	Title        string      `json:"title" db:"title"`
	Budget       int64       `json:"budget" db:"budget"`
	Currency     string      `json:"currency" db:"currency"`
	Status       string      `json:"status" db:"status"`
	Milestones   []Milestone `json:"milestones,omitempty"`
	CreatedAt    time.Time   `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time   `json:"updatedAt" db:"updated_at"`
}

// Milestone is one deliverable within a contract. Index is the position
// in the contract's ordered milestone list.
type Milestone struct {
	ID         string    `json:"id" db:"id"`
	ContractID string    `json:"contractId" db:"contract_id"`
	Index      int       `json:"index" db:"idx"`
	Title      string    `json:"title" db:"title"`
	Amount     int64     `json:"amount" db:"amount"`
	Status     string    `json:"status" db:"status"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt  time.Time `json:"updatedAt" db:"updated_at"`
}
