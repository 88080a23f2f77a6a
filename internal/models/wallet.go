package models

import "time"

// Wallet holds a user's balance in one currency. Amounts are integer
// minor units (cents). Version is bumped on every balance mutation and
// checked on update for optimistic locking.
type Wallet struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"userId" db:"user_id"`
	Balance   int64     `json:"balance" db:"balance"`
	Currency  string    `json:"currency" db:"currency"`
	Nickname  string    `json:"nickname,omitempty" db:"nickname"`
	IsPrimary bool      `json:"isPrimary" db:"is_primary"`
	Version   int       `json:"-" db:"version"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}
