package models

import "time"

// Ledger entry types.
const (
	EntryEscrow     = "escrow"
	EntryRelease    = "release"
	EntryRefund     = "refund"
	EntryFee        = "fee"
	EntryDeposit    = "deposit"
	EntryWithdrawal = "withdrawal"
	EntryTransfer   = "transfer"
)

// LedgerEntry is one append-only money-movement record. Amount is signed:
// negative for debits, positive for credits. Entries are never mutated
// after insertion.
type LedgerEntry struct {
	ID          string    `json:"id" db:"id"`
	UserID      string    `json:"userId" db:"user_id"`
	WalletID    string    `json:"walletId" db:"wallet_id"`
	Amount      int64     `json:"amount" db:"amount"`
	Currency    string    `json:"currency" db:"currency"`
	Type        string    `json:"type" db:"type"`
	Status      string    `json:"status" db:"status"`
	Description string    `json:"description" db:"description"`
	ContractID  string    `json:"contractId,omitempty" db:"contract_id"`
	MilestoneID string    `json:"milestoneId,omitempty" db:"milestone_id"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
}
