package models

import "time"

type User struct {
	ID          string     `json:"id" example:"7f0f2a9e-4b9a-4a5e-9f1c-2d3b4c5d6e7f"` // User ID
	Email       string     `json:"email" example:"user@example.com"`                  // User email
	DisplayName string     `json:"displayName" example:"Ada Lovelace"`                // Public display name
	LastLogin   *time.Time `json:"lastLogin,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}
