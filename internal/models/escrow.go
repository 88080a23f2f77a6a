package models

import "time"

// Escrow transaction statuses.
const (
	EscrowFunded   = "funded"
	EscrowReleased = "released"
	EscrowRefunded = "refunded"
	EscrowDisputed = "disputed"
)

// EscrowTransaction represents funds held against one milestone. At most
// one non-refunded escrow exists per milestone at any time. Fee is the
// platform fee debited from the funder on top of Amount.
type EscrowTransaction struct {
	ID                  string    `json:"id" db:"id"`
	ContractID          string    `json:"contractId" db:"contract_id"`
	MilestoneID         string    `json:"milestoneId" db:"milestone_id"`
	FromWalletID        string    `json:"fromWalletId" db:"from_wallet_id"`
	ReleasedToWalletID  string    `json:"releasedToWalletId,omitempty" db:"released_to_wallet_id"`
	Amount              int64     `json:"amount" db:"amount"`
	Fee                 int64     `json:"fee" db:"fee"`
	Currency            string    `json:"currency" db:"currency"`
	Status              string    `json:"status" db:"status"`
	Version             int       `json:"-" db:"version"`
	CreatedAt           time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt           time.Time `json:"updatedAt" db:"updated_at"`
}
